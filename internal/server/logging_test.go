package server_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/example/go-tokenizers-bridge/internal/server"
)

// logBuffer collects JSON log lines written by a slog.JSONHandler.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *logBuffer) logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(b, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// entry returns the first record whose msg equals msg.
func (b *logBuffer) entry(t *testing.T, msg string) map[string]any {
	t.Helper()

	b.mu.Lock()
	defer b.mu.Unlock()

	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("log line is not JSON: %v: %s", err, sc.Text())
		}

		if rec["msg"] == msg {
			return rec
		}
	}

	t.Fatalf("no %q record in:\n%s", msg, b.buf.String())

	return nil
}

func TestEncode_LogsCompletion(t *testing.T) {
	var logs logBuffer
	h := newTestHandler(t, server.WithLogger(logs.logger()))

	rec := postJSON(h, "/encode", `{"text":"hello world"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d; want 200", rec.Code)
	}

	entry := logs.entry(t, "encode complete")

	if entry["level"] != "INFO" {
		t.Errorf("level = %v; want INFO", entry["level"])
	}

	// [CLS] hello world
	if entry["tokens"] != float64(3) {
		t.Errorf("tokens = %v; want 3", entry["tokens"])
	}

	if entry["text_len"] != float64(len("hello world")) {
		t.Errorf("text_len = %v", entry["text_len"])
	}

	if _, ok := entry["duration_ms"]; !ok {
		t.Error("duration_ms missing")
	}

	if got := entry["request_id"]; got == "" || got != rec.Header().Get("X-Request-ID") {
		t.Errorf("request_id = %v; want the X-Request-ID response header", got)
	}
}

func TestDecode_RejectionLoggedAsWarning(t *testing.T) {
	var logs logBuffer
	h := newTestHandler(t, server.WithLogger(logs.logger()))

	if rec := postJSON(h, "/decode", `{"ids":[42]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d; want 400", rec.Code)
	}

	entry := logs.entry(t, "decode rejected")

	if entry["level"] != "WARN" {
		t.Errorf("level = %v; want WARN", entry["level"])
	}

	if entry["kind"] != "decode" {
		t.Errorf("kind = %v; want decode", entry["kind"])
	}

	if msg, _ := entry["error"].(string); msg == "" {
		t.Error("error attribute missing")
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"Warning": slog.LevelWarn,
		"error":   slog.LevelError,
		" error ": slog.LevelError,
	} {
		got, err := server.ParseLogLevel(in)
		if err != nil {
			t.Errorf("ParseLogLevel(%q): %v", in, err)
			continue
		}

		if got != want {
			t.Errorf("ParseLogLevel(%q) = %v; want %v", in, got, want)
		}
	}

	if _, err := server.ParseLogLevel("verbose"); err == nil {
		t.Error("ParseLogLevel(\"verbose\") = nil error")
	}
}
