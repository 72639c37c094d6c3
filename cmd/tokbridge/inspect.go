package main

import (
	"bytes"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/example/go-tokenizers-bridge/internal/config"
	"github.com/example/go-tokenizers-bridge/internal/engine"
)

type inspectReport struct {
	Path        string `json:"path"`
	Engine      string `json:"engine"`
	VocabSize   int    `json:"vocab_size"`
	Fingerprint string `json:"fingerprint"`
	ModelType   string `json:"model_type,omitempty"`
	AddedTokens *int   `json:"added_tokens,omitempty"`
}

func newInspectCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Describe the configured tokenizer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadedConfig()
			if err != nil {
				return err
			}

			outFormat, err := config.NormalizeFormat(format)
			if err != nil {
				return err
			}

			tok, data, err := loadTokenizer(cfg)
			if err != nil {
				return err
			}

			report := inspectReport{
				Path:        cfg.Paths.TokenizerPath,
				Engine:      string(tok.Kind()),
				VocabSize:   tok.VocabSize(),
				Fingerprint: tok.Fingerprint(),
			}

			if tok.Kind() == engine.KindHuggingFace {
				sniffTokenizerJSON(data, &report)
			}

			return writeReport(cmd.OutOrStdout(), report, outFormat)
		},
	}

	cmd.Flags().StringVar(&format, "format", config.FormatText, "Output format (json|text)")

	return cmd
}

// sniffTokenizerJSON fills the tokenizer.json specific fields. Sections it
// cannot read are left empty.
func sniffTokenizerJSON(data []byte, report *inspectReport) {
	var doc struct {
		Model struct {
			Type string `json:"type"`
		} `json:"model"`
		AddedTokens []json.RawMessage `json:"added_tokens"`
	}

	if err := json.Unmarshal(bytes.TrimPrefix(data, []byte{0xef, 0xbb, 0xbf}), &doc); err != nil {
		return
	}

	report.ModelType = doc.Model.Type
	n := len(doc.AddedTokens)
	report.AddedTokens = &n
}

func writeReport(w io.Writer, r inspectReport, format string) error {
	if format == config.FormatJSON {
		out, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}

		_, err = fmt.Fprintln(w, string(out))

		return err
	}

	_, err := fmt.Fprintf(w, "path:        %s\nengine:      %s\nvocab size:  %d\nfingerprint: %s\n",
		r.Path, r.Engine, r.VocabSize, r.Fingerprint)
	if err != nil {
		return err
	}

	if r.ModelType != "" {
		if _, err := fmt.Fprintf(w, "model type:  %s\n", r.ModelType); err != nil {
			return err
		}
	}

	if r.AddedTokens != nil {
		if _, err := fmt.Fprintf(w, "added:       %d\n", *r.AddedTokens); err != nil {
			return err
		}
	}

	return nil
}
