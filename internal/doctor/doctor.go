// Package doctor provides preflight checks for a tokbridge deployment.
package doctor

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/example/go-tokenizers-bridge/internal/engine"
	"github.com/example/go-tokenizers-bridge/internal/server"
	"github.com/example/go-tokenizers-bridge/internal/tokenizer"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// DefaultProbeText is encoded and decoded by the round-trip check.
const DefaultProbeText = "Hello, world!"

// Tokenizer is the subset of *tokenizer.Tokenizer the checks exercise.
type Tokenizer interface {
	Encode(text string, addSpecialTokens bool) (*tokenizer.Encoding, error)
	Decode(ids []uint32, skipSpecialTokens bool) (string, error)
	Kind() engine.Kind
	VocabSize() int
}

// LoadFunc builds a Tokenizer from configuration bytes.
type LoadFunc func(config []byte) (Tokenizer, error)

// Limits are the server settings validated by Run.
type Limits struct {
	Workers        int
	MaxTextBytes   int
	MaxIDs         int
	RequestTimeout int
}

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// TokenizerPath is the tokenizer.json or SentencePiece model to check.
	TokenizerPath string
	// Load defaults to tokenizer.New.
	Load LoadFunc
	// ProbeText defaults to DefaultProbeText.
	ProbeText string
	Limits    Limits
	LogLevel  string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure records a failure found outside Run, such as a bad command-line
// argument.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	if cfg.Load == nil {
		cfg.Load = func(config []byte) (Tokenizer, error) { return tokenizer.New(config) }
	}
	if cfg.ProbeText == "" {
		cfg.ProbeText = DefaultProbeText
	}

	// ---- settings ---------------------------------------------------------
	checkSettings(cfg, w, &res)

	// ---- tokenizer file ---------------------------------------------------
	data, err := os.ReadFile(cfg.TokenizerPath)
	if err != nil {
		res.fail(fmt.Sprintf("tokenizer file %q: %v", cfg.TokenizerPath, err))
		fmt.Fprintf(w, "%s tokenizer file %s: not readable\n", FailMark, cfg.TokenizerPath)
		return res
	}
	fmt.Fprintf(w, "%s tokenizer file: %s (%d bytes)\n", PassMark, cfg.TokenizerPath, len(data))

	// ---- load -------------------------------------------------------------
	tok, err := cfg.Load(data)
	if err != nil {
		res.fail(fmt.Sprintf("tokenizer load: %v", err))
		fmt.Fprintf(w, "%s tokenizer load: %v\n", FailMark, err)
		return res
	}
	fmt.Fprintf(w, "%s tokenizer load: %s, %d ids\n", PassMark, tok.Kind(), tok.VocabSize())

	// ---- round trip -------------------------------------------------------
	if err := checkRoundTrip(tok, cfg.ProbeText); err != nil {
		res.fail(fmt.Sprintf("round trip: %v", err))
		fmt.Fprintf(w, "%s round trip: %v\n", FailMark, err)
	} else {
		fmt.Fprintf(w, "%s round trip: %q\n", PassMark, cfg.ProbeText)
	}

	// ---- strict decode ----------------------------------------------------
	if uint64(tok.VocabSize()) <= math.MaxUint32 {
		if _, err := tok.Decode([]uint32{math.MaxUint32}, true); err == nil {
			res.fail("strict decode: out-of-vocabulary id was accepted")
			fmt.Fprintf(w, "%s strict decode: id %d accepted\n", FailMark, uint32(math.MaxUint32))
		} else {
			fmt.Fprintf(w, "%s strict decode: out-of-vocabulary ids rejected\n", PassMark)
		}
	}

	return res
}

func checkSettings(cfg Config, w io.Writer, res *Result) {
	if _, err := server.ParseLogLevel(cfg.LogLevel); err != nil {
		res.fail(fmt.Sprintf("log level: %v", err))
		fmt.Fprintf(w, "%s log level: %v\n", FailMark, err)
	} else {
		fmt.Fprintf(w, "%s log level: %s\n", PassMark, cfg.LogLevel)
	}

	l := cfg.Limits
	var problems []string
	if l.Workers < 0 {
		problems = append(problems, fmt.Sprintf("workers %d is negative", l.Workers))
	}
	if l.MaxTextBytes <= 0 {
		problems = append(problems, fmt.Sprintf("max_text_bytes %d must be positive", l.MaxTextBytes))
	}
	if l.MaxIDs <= 0 {
		problems = append(problems, fmt.Sprintf("max_ids %d must be positive", l.MaxIDs))
	}
	if l.RequestTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("request_timeout %d must be positive", l.RequestTimeout))
	}

	if len(problems) > 0 {
		for _, p := range problems {
			res.fail("server limits: " + p)
			fmt.Fprintf(w, "%s server limits: %s\n", FailMark, p)
		}
		return
	}

	fmt.Fprintf(w, "%s server limits: workers=%d max_text_bytes=%d max_ids=%d\n",
		PassMark, l.Workers, l.MaxTextBytes, l.MaxIDs)
}

// checkRoundTrip encodes text with special tokens, validates the encoding
// shape and decodes every id back, special tokens included. Decoded text is
// not compared: normalization may change it.
func checkRoundTrip(tok Tokenizer, text string) error {
	enc, err := tok.Encode(text, true)
	if err != nil {
		return err
	}

	ids, mask := enc.InputIDs(), enc.AttentionMask()
	if len(ids) == 0 {
		return fmt.Errorf("encoding %q produced no tokens", text)
	}
	if len(ids) != len(mask) {
		return fmt.Errorf("%d ids but %d mask values", len(ids), len(mask))
	}

	if _, err := tok.Decode(enc.IDs(), false); err != nil {
		return fmt.Errorf("decode own ids: %w", err)
	}

	return nil
}
