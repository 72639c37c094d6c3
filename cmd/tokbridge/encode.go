package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/example/go-tokenizers-bridge/internal/config"
	"github.com/example/go-tokenizers-bridge/internal/tokenizer"
)

func newEncodeCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "encode [text...]",
		Short: "Encode text into input ids and attention mask",
		Long:  "Encode the arguments joined by spaces, or standard input when no arguments are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadedConfig()
			if err != nil {
				return err
			}

			outFormat, err := config.NormalizeFormat(format)
			if err != nil {
				return err
			}

			text, err := readEncodeText(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			tok, _, err := loadTokenizer(cfg)
			if err != nil {
				return err
			}

			enc, err := tok.Encode(text, cfg.Encode.AddSpecialTokens)
			if err != nil {
				return err
			}

			return writeEncoding(cmd.OutOrStdout(), enc, outFormat)
		},
	}

	cmd.Flags().StringVar(&format, "format", config.FormatJSON, "Output format (json|text)")

	return cmd
}

// readEncodeText joins args, falling back to r when there are none. Empty
// text is valid input.
func readEncodeText(args []string, r io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}

	return strings.TrimRight(string(data), "\r\n"), nil
}

type encodeOutput struct {
	InputIDs      []int64  `json:"input_ids"`
	AttentionMask []int64  `json:"attention_mask"`
	Tokens        []string `json:"tokens,omitempty"`
}

func writeEncoding(w io.Writer, enc *tokenizer.Encoding, format string) error {
	ids := enc.InputIDs()
	mask := enc.AttentionMask()

	if format == config.FormatText {
		_, err := fmt.Fprintf(w, "input_ids: %s\nattention_mask: %s\n", joinInts(ids), joinInts(mask))
		return err
	}

	out, err := json.MarshalIndent(encodeOutput{
		InputIDs:      ids,
		AttentionMask: mask,
		Tokens:        enc.Tokens(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal encoding: %w", err)
	}

	_, err = fmt.Fprintln(w, string(out))

	return err
}

func joinInts(v []int64) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.FormatInt(n, 10)
	}

	return strings.Join(parts, " ")
}
