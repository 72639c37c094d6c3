package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-tokenizers-bridge/internal/config"
	"github.com/example/go-tokenizers-bridge/internal/server"
	"github.com/example/go-tokenizers-bridge/internal/tokenizer"
)

// current is filled by the root command's pre-run hook before any
// subcommand body executes.
var current config.Config

func NewRootCmd() *cobra.Command {
	var configPath string

	defaults := config.DefaultConfig()

	root := &cobra.Command{
		Use:           "tokbridge",
		Short:         "Encode and decode text with Hugging Face or SentencePiece tokenizers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(config.LoadOptions{Cmd: cmd, ConfigFile: configPath, Defaults: defaults})
		if err != nil {
			return err
		}

		current = cfg
		installLogger(cfg.LogLevel)

		return nil
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file to read (yaml, toml or json)")
	config.RegisterFlags(flags, defaults)

	root.AddCommand(
		newEncodeCmd(),
		newDecodeCmd(),
		newInspectCmd(),
		newServeCmd(),
		newHealthCmd(),
		newDoctorCmd(),
		newBenchCmd(),
	)

	return root
}

// installLogger routes slog output to stderr as JSON. Unknown levels fall
// back to info; the doctor command reports them.
func installLogger(level string) {
	lvl, err := server.ParseLogLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func loadedConfig() (config.Config, error) {
	if current.Paths.TokenizerPath == "" {
		return config.Config{}, errors.New("no tokenizer path configured; set --tokenizer or TOKBRIDGE_PATHS_TOKENIZER_PATH")
	}

	return current, nil
}

// loadTokenizer reads the configured tokenizer file and builds a Tokenizer.
// It returns the raw bytes as well so callers can inspect them.
func loadTokenizer(cfg config.Config) (*tokenizer.Tokenizer, []byte, error) {
	data, err := os.ReadFile(cfg.Paths.TokenizerPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read tokenizer config: %w", err)
	}

	tok, err := tokenizer.New(data)
	if err != nil {
		return nil, nil, err
	}

	slog.Debug("tokenizer loaded",
		slog.String("path", cfg.Paths.TokenizerPath),
		slog.String("engine", string(tok.Kind())),
		slog.Int("vocab_size", tok.VocabSize()),
		slog.String("fingerprint", tok.Fingerprint()),
	)

	return tok, data, nil
}
