package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-tokenizers-bridge/internal/doctor"
)

func newDoctorCmd() *cobra.Command {
	var probeText string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run tokenizer and configuration preflight checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadedConfig()
			if err != nil {
				return err
			}

			result := doctor.Run(doctor.Config{
				TokenizerPath: cfg.Paths.TokenizerPath,
				ProbeText:     probeText,
				Limits: doctor.Limits{
					Workers:        cfg.Server.Workers,
					MaxTextBytes:   cfg.Server.MaxTextBytes,
					MaxIDs:         cfg.Server.MaxIDs,
					RequestTimeout: cfg.Server.RequestTimeout,
				},
				LogLevel: cfg.LogLevel,
			}, cmd.OutOrStdout())

			if msg := probeTextProblem(probeText, cmd.Flags().Changed("probe-text"), cfg.Server.MaxTextBytes); msg != "" {
				result.AddFailure("probe text: " + msg)
				fmt.Fprintf(cmd.OutOrStdout(), "%s probe text: %s\n", doctor.FailMark, msg)
			}

			if result.Failed() {
				return fmt.Errorf("doctor: %d check(s) failed", len(result.Failures()))
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&probeText, "probe-text", doctor.DefaultProbeText, "Text used by the round-trip check")

	return cmd
}

// probeTextProblem reports a --probe-text the server itself would not
// accept, or one that is blank and so exercises nothing.
func probeTextProblem(text string, set bool, maxTextBytes int) string {
	switch {
	case set && strings.TrimSpace(text) == "":
		return "blank"
	case maxTextBytes > 0 && len(text) > maxTextBytes:
		return fmt.Sprintf("%d bytes exceeds max_text_bytes %d", len(text), maxTextBytes)
	}

	return ""
}
