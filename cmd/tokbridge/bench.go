package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/go-tokenizers-bridge/internal/bench"
)

var errNoText = errors.New("--text is required")

func newBenchCmd() *cobra.Command {
	var (
		text          string
		runs          int
		format        string
		minThroughput float64
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark encode latency and throughput",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadedConfig()
			if err != nil {
				return err
			}

			if text == "" {
				return errNoText
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			tok, _, err := loadTokenizer(cfg)
			if err != nil {
				return err
			}

			results, err := bench.Run(cmd.Context(), func(s string) (int, error) {
				enc, err := tok.Encode(s, cfg.Encode.AddSpecialTokens)
				if err != nil {
					return 0, err
				}
				return enc.Len(), nil
			}, text, runs)
			if err != nil {
				return err
			}

			stats := bench.ComputeStats(bench.Durations(results, true))

			switch format {
			case "json":
				bench.FormatJSON(results, stats, cmd.OutOrStdout())
			default:
				bench.FormatTable(results, stats, cmd.OutOrStdout())
			}

			return bench.CheckThroughput(bench.MeanThroughput(results), minThroughput)
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to encode for each run (required)")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of encode runs")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&minThroughput, "min-throughput", 0, "Exit non-zero if mean tokens/s is below this value (0 = disabled)")

	return cmd
}
