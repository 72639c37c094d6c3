package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/example/go-tokenizers-bridge/internal/hostabi"
)

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <id>...",
		Short: "Decode token ids back into text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadedConfig()
			if err != nil {
				return err
			}

			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			tok, _, err := loadTokenizer(cfg)
			if err != nil {
				return err
			}

			text, err := tok.Decode(ids, cfg.Decode.SkipSpecialTokens)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)

			return err
		},
	}
}

// parseIDs converts decimal arguments to 32-bit token ids.
func parseIDs(args []string) ([]uint32, error) {
	ids := make([]uint32, 0, len(args))

	for i, arg := range args {
		n, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("id %d (%q): not an integer", i, arg)
		}

		id, err := hostabi.NarrowInt64(n)
		if err != nil {
			return nil, fmt.Errorf("id %d (%q): %w", i, arg, err)
		}

		ids = append(ids, id)
	}

	return ids, nil
}
