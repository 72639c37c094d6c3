package server

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ParseLogLevel maps debug, info, warn (or warning) and error, in any case,
// to a slog.Level. The empty string means info.
func ParseLogLevel(s string) (slog.Level, error) {
	levels := map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}

	if lvl, ok := levels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl, nil
	}

	return slog.LevelInfo, fmt.Errorf("log level %q not one of debug, info, warn, error", s)
}

type options struct {
	maxTextBytes      int
	maxIDs            int
	workers           int
	requestTimeout    time.Duration
	addSpecialTokens  bool
	skipSpecialTokens bool
	logger            *slog.Logger
}

// Option tunes a handler built by NewHandler.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		maxTextBytes:      64 << 10,
		maxIDs:            32 << 10,
		workers:           4,
		requestTimeout:    30 * time.Second,
		addSpecialTokens:  true,
		skipSpecialTokens: true,
		logger:            slog.Default(),
	}

	for _, apply := range opts {
		apply(&o)
	}

	return o
}

// WithMaxTextBytes caps the text accepted by POST /encode.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithMaxIDs caps the number of ids accepted by POST /decode.
func WithMaxIDs(n int) Option {
	return func(o *options) { o.maxIDs = n }
}

// WithWorkers bounds concurrent tokenizer calls. Zero means unbounded.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithSpecialTokenDefaults sets add_special_tokens and skip_special_tokens
// for requests that leave them out.
func WithSpecialTokenDefaults(add, skip bool) Option {
	return func(o *options) {
		o.addSpecialTokens = add
		o.skipSpecialTokens = skip
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}
