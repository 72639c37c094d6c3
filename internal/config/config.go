// Package config loads tokbridge settings from flags, TOKBRIDGE_* environment
// variables and an optional yaml, toml or json file, using viper.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the resolved tokbridge configuration.
type Config struct {
	Paths    PathsConfig  `mapstructure:"paths"`
	Encode   EncodeConfig `mapstructure:"encode"`
	Decode   DecodeConfig `mapstructure:"decode"`
	Server   ServerConfig `mapstructure:"server"`
	LogLevel string       `mapstructure:"log_level"`
}

type PathsConfig struct {
	TokenizerPath string `mapstructure:"tokenizer_path"`
}

type EncodeConfig struct {
	AddSpecialTokens bool `mapstructure:"add_special_tokens"`
}

type DecodeConfig struct {
	SkipSpecialTokens bool `mapstructure:"skip_special_tokens"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	MaxTextBytes    int    `mapstructure:"max_text_bytes"`
	MaxIDs          int    `mapstructure:"max_ids"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			TokenizerPath: "models/tokenizer.json",
		},
		Encode: EncodeConfig{
			AddSpecialTokens: true,
		},
		Decode: DecodeConfig{
			SkipSpecialTokens: true,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         4,
			MaxTextBytes:    64 << 10,
			MaxIDs:          32 << 10,
			RequestTimeout:  30,
			ShutdownTimeout: 10,
		},
		LogLevel: "info",
	}
}

// setting ties one command-line flag to its config key. value reads the
// flag default from a Config.
type setting struct {
	flag  string
	key   string
	usage string
	value func(Config) any
}

var settings = []setting{
	{"tokenizer", "paths.tokenizer_path", "tokenizer.json or SentencePiece .model to load",
		func(c Config) any { return c.Paths.TokenizerPath }},
	{"add-special-tokens", "encode.add_special_tokens", "add the model's special tokens when encoding",
		func(c Config) any { return c.Encode.AddSpecialTokens }},
	{"skip-special-tokens", "decode.skip_special_tokens", "drop special tokens from decoded text",
		func(c Config) any { return c.Decode.SkipSpecialTokens }},
	{"server-listen-addr", "server.listen_addr", "address the HTTP server binds",
		func(c Config) any { return c.Server.ListenAddr }},
	{"workers", "server.workers", "concurrent tokenizer calls per server, 0 for no limit",
		func(c Config) any { return c.Server.Workers }},
	{"max-text-bytes", "server.max_text_bytes", "largest text POST /encode accepts",
		func(c Config) any { return c.Server.MaxTextBytes }},
	{"max-ids", "server.max_ids", "most ids POST /decode accepts",
		func(c Config) any { return c.Server.MaxIDs }},
	{"request-timeout", "server.request_timeout", "seconds a single request may take",
		func(c Config) any { return c.Server.RequestTimeout }},
	{"shutdown-timeout", "server.shutdown_timeout", "seconds to drain requests on shutdown",
		func(c Config) any { return c.Server.ShutdownTimeout }},
	{"log-level", "log_level", "debug, info, warn or error",
		func(c Config) any { return c.LogLevel }},
}

// RegisterFlags adds one flag per setting to fs, defaulted from defaults.
func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	for _, s := range settings {
		switch v := s.value(defaults).(type) {
		case string:
			fs.String(s.flag, v, s.usage)
		case bool:
			fs.Bool(s.flag, v, s.usage)
		case int:
			fs.Int(s.flag, v, s.usage)
		default:
			panic(fmt.Sprintf("config: setting %s has unsupported type %T", s.key, v))
		}
	}
}

// Load resolves the configuration. Precedence, highest first: set flags,
// TOKBRIDGE_* environment variables, the config file, then opts.Defaults.
// Without opts.ConfigFile a tokbridge.{yaml,toml,json} in the working
// directory is read when present.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("TOKBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	// TOKENIZER_PATH is accepted as a shorter alias.
	if err := v.BindEnv("paths.tokenizer_path", "TOKBRIDGE_PATHS_TOKENIZER_PATH", "TOKENIZER_PATH"); err != nil {
		return Config{}, fmt.Errorf("config: bind env: %w", err)
	}
	v.AutomaticEnv()

	if err := readConfigFile(v, opts.ConfigFile); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	return cfg, nil
}

// readConfigFile reads path when set. Otherwise an absent tokbridge.* in
// the working directory is not an error.
func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tokbridge")
		v.AddConfigPath(".")
	}

	err := v.ReadInConfig()

	var notFound viper.ConfigFileNotFoundError
	if err == nil || (path == "" && errors.As(err, &notFound)) {
		return nil
	}

	return fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, s := range settings {
		f := fs.Lookup(s.flag)
		if f == nil {
			continue
		}

		if err := v.BindPFlag(s.key, f); err != nil {
			return fmt.Errorf("config: bind --%s: %w", s.flag, err)
		}
	}

	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	for _, s := range settings {
		v.SetDefault(s.key, s.value(c))
	}
}
