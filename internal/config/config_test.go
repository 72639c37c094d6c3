package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flagSetBinder struct{ fs *pflag.FlagSet }

func (b flagSetBinder) Flags() *pflag.FlagSet { return b.fs }

// parsedFlags registers every setting on a fresh FlagSet and parses args.
func parsedFlags(t *testing.T, args ...string) flagSetBinder {
	t.Helper()

	fs := pflag.NewFlagSet("tokbridge", pflag.ContinueOnError)
	RegisterFlags(fs, DefaultConfig())
	require.NoError(t, fs.Parse(args))

	return flagSetBinder{fs: fs}
}

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	return path
}

func TestDefaultConfig(t *testing.T) {
	want := Config{
		Paths:  PathsConfig{TokenizerPath: "models/tokenizer.json"},
		Encode: EncodeConfig{AddSpecialTokens: true},
		Decode: DecodeConfig{SkipSpecialTokens: true},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         4,
			MaxTextBytes:    65536,
			MaxIDs:          32768,
			RequestTimeout:  30,
			ShutdownTimeout: 10,
		},
		LogLevel: "info",
	}

	assert.Equal(t, want, DefaultConfig())
}

func TestNormalizeFormat(t *testing.T) {
	for in, want := range map[string]string{
		"json":   FormatJSON,
		"JSON":   FormatJSON,
		"":       FormatJSON,
		"text":   FormatText,
		"txt":    FormatText,
		"  Text": FormatText,
	} {
		got, err := NormalizeFormat(in)
		if assert.NoError(t, err, "NormalizeFormat(%q)", in) {
			assert.Equal(t, want, got, "NormalizeFormat(%q)", in)
		}
	}

	_, err := NormalizeFormat("yaml")
	assert.ErrorContains(t, err, `"yaml"`)
}

func TestRegisterFlags_DefaultsFollowConfig(t *testing.T) {
	defaults := DefaultConfig()
	defaults.Paths.TokenizerPath = "spm.model"
	defaults.Decode.SkipSpecialTokens = false
	defaults.Server.MaxIDs = 7

	fs := pflag.NewFlagSet("tokbridge", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	for flag, want := range map[string]string{
		"tokenizer":           "spm.model",
		"add-special-tokens":  "true",
		"skip-special-tokens": "false",
		"max-ids":             "7",
		"log-level":           "info",
	} {
		f := fs.Lookup(flag)
		if assert.NotNil(t, f, "--%s not registered", flag) {
			assert.Equal(t, want, f.DefValue, "--%s default", flag)
		}
	}
}

func TestRegisterFlags_OneFlagPerSetting(t *testing.T) {
	fs := parsedFlags(t).fs

	keys := make(map[string]string, len(settings))
	for _, s := range settings {
		keys[s.flag] = s.key
	}

	count := 0
	fs.VisitAll(func(f *pflag.Flag) {
		count++
		assert.Contains(t, keys, f.Name, "--%s has no config key", f.Name)
	})
	assert.Equal(t, len(settings), count)
}

func TestLoad_NoOverridesYieldsDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(LoadOptions{Cmd: parsedFlags(t), Defaults: DefaultConfig()})
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_Flags(t *testing.T) {
	cfg, err := Load(LoadOptions{
		Cmd:      parsedFlags(t, "--tokenizer=/models/spm.model", "--add-special-tokens=false", "--max-text-bytes=128", "--log-level=debug"),
		Defaults: DefaultConfig(),
	})
	require.NoError(t, err)

	assert.Equal(t, "/models/spm.model", cfg.Paths.TokenizerPath)
	assert.False(t, cfg.Encode.AddSpecialTokens)
	assert.Equal(t, 128, cfg.Server.MaxTextBytes)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Decode.SkipSpecialTokens, "unset flags keep defaults")
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("TOKBRIDGE_DECODE_SKIP_SPECIAL_TOKENS", "false")
	t.Setenv("TOKBRIDGE_SERVER_MAX_IDS", "99")
	t.Setenv("TOKBRIDGE_LOG_LEVEL", "warn")

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	require.NoError(t, err)

	assert.False(t, cfg.Decode.SkipSpecialTokens)
	assert.Equal(t, 99, cfg.Server.MaxIDs)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_TokenizerPathAliases(t *testing.T) {
	t.Run("short alias", func(t *testing.T) {
		t.Setenv("TOKENIZER_PATH", "/srv/tokenizer.json")

		cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
		require.NoError(t, err)
		assert.Equal(t, "/srv/tokenizer.json", cfg.Paths.TokenizerPath)
	})

	t.Run("prefixed wins", func(t *testing.T) {
		t.Setenv("TOKENIZER_PATH", "/srv/short.json")
		t.Setenv("TOKBRIDGE_PATHS_TOKENIZER_PATH", "/srv/long.json")

		cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
		require.NoError(t, err)
		assert.Equal(t, "/srv/long.json", cfg.Paths.TokenizerPath)
	})
}

func TestLoad_ExplicitFile(t *testing.T) {
	path := writeConfig(t, "bridge.yaml", `
log_level: error
paths:
  tokenizer_path: /data/tokenizer.json
decode:
  skip_special_tokens: false
server:
  workers: 16
`)

	cfg, err := Load(LoadOptions{Cmd: parsedFlags(t), ConfigFile: path, Defaults: DefaultConfig()})
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, "/data/tokenizer.json", cfg.Paths.TokenizerPath)
	assert.False(t, cfg.Decode.SkipSpecialTokens)
	assert.Equal(t, 16, cfg.Server.Workers)
	assert.Equal(t, DefaultConfig().Server.MaxIDs, cfg.Server.MaxIDs)
}

func TestLoad_DiscoversFileInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tokbridge.json"), []byte(`{"server":{"max_ids":5}}`), 0o644))
	t.Chdir(dir)

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Server.MaxIDs)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, "bridge.toml", "[server]\nworkers = 16\nmax_ids = 10\nmax_text_bytes = 10\n")
	t.Setenv("TOKBRIDGE_SERVER_MAX_IDS", "20")
	t.Setenv("TOKBRIDGE_SERVER_WORKERS", "8")

	cfg, err := Load(LoadOptions{Cmd: parsedFlags(t, "--workers=2"), ConfigFile: path, Defaults: DefaultConfig()})
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Server.Workers, "flag beats env and file")
	assert.Equal(t, 20, cfg.Server.MaxIDs, "env beats file")
	assert.Equal(t, 10, cfg.Server.MaxTextBytes, "file beats default")
}

func TestLoad_FileErrors(t *testing.T) {
	cases := map[string]string{
		"malformed": writeConfig(t, "bad.yaml", ":\t:bad yaml:::"),
		"missing":   filepath.Join(t.TempDir(), "absent.yaml"),
	}

	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(LoadOptions{ConfigFile: path, Defaults: DefaultConfig()})
			assert.Error(t, err)
		})
	}
}
