// Package testutil holds helpers for tests that need a real tokenizer file.
// Missing fixtures skip the test rather than fail it, so `go test ./...`
// stays green on a fresh checkout.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// TokenizerEnv names the environment variable that points integration tests
// at a real tokenizer.json or SentencePiece model.
const TokenizerEnv = "TOKBRIDGE_TEST_TOKENIZER"

// DefaultTokenizerPath is the fixture location relative to the repository root.
func DefaultTokenizerPath() string {
	return filepath.Join("models", "tokenizer.json")
}

// RequireTokenizerFile returns the path of a real tokenizer for integration
// tests. It checks TOKBRIDGE_TEST_TOKENIZER first, then models/tokenizer.json
// under the repository root, and skips when neither exists.
func RequireTokenizerFile(tb testing.TB) string {
	tb.Helper()

	if p := os.Getenv(TokenizerEnv); p != "" {
		_, err := os.Stat(p)
		if err == nil {
			return p
		}

		tb.Skipf("tokenizer not found at %s=%q", TokenizerEnv, p)

		return ""
	}

	root, ok := repoRoot()
	if ok {
		p := filepath.Join(root, DefaultTokenizerPath())
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	tb.Skipf("no tokenizer available; set %s or add %s", TokenizerEnv, DefaultTokenizerPath())

	return ""
}

// repoRoot walks up from the working directory to the directory holding go.mod.
func repoRoot() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}

		dir = parent
	}
}

// AssertEncodingShape checks the invariants every encoding must satisfy:
// input ids and attention mask have equal length and the mask holds only 0
// and 1.
func AssertEncodingShape(tb testing.TB, ids, mask []int64) {
	tb.Helper()

	if len(ids) != len(mask) {
		tb.Fatalf("encoding: %d input ids but %d attention mask values", len(ids), len(mask))
	}

	for i, v := range mask {
		if v != 0 && v != 1 {
			tb.Fatalf("encoding: attention mask[%d] = %d; want 0 or 1", i, v)
		}
	}

	for i, v := range ids {
		if v < 0 || v > 1<<32-1 {
			tb.Fatalf("encoding: input id[%d] = %d is outside the uint32 range", i, v)
		}
	}
}
