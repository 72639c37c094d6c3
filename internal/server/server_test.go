package server_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/go-tokenizers-bridge/internal/engine"
	"github.com/example/go-tokenizers-bridge/internal/server"
	"github.com/example/go-tokenizers-bridge/internal/tokenizer"
)

var errUnknownWord = errors.New("unknown word")

// wordEngine is an engine.Model over a fixed word list. Id 0 is the [CLS]
// special token prepended when special tokens are requested.
type wordEngine struct {
	vocab   []string
	gate    chan struct{}
	onEnter func()
	onExit  func()
}

func newWordEngine() *wordEngine {
	return &wordEngine{vocab: []string{"[CLS]", "hello", "world", "hi"}}
}

func (e *wordEngine) Encode(text string, addSpecialTokens bool) (engine.Output, error) {
	if e.onEnter != nil {
		e.onEnter()
	}
	if e.onExit != nil {
		defer e.onExit()
	}
	if e.gate != nil {
		<-e.gate
	}

	var out engine.Output
	if addSpecialTokens {
		out.IDs = append(out.IDs, 0)
		out.AttentionMask = append(out.AttentionMask, 1)
		out.Tokens = append(out.Tokens, e.vocab[0])
	}

	for _, w := range strings.Fields(text) {
		id := -1
		for i, v := range e.vocab[1:] {
			if v == w {
				id = i + 1
			}
		}
		if id < 0 {
			return engine.Output{}, errUnknownWord
		}

		out.IDs = append(out.IDs, uint32(id))
		out.AttentionMask = append(out.AttentionMask, 1)
		out.Tokens = append(out.Tokens, w)
	}

	return out, nil
}

func (e *wordEngine) Decode(ids []uint32, skipSpecialTokens bool) (string, error) {
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == 0 && skipSpecialTokens {
			continue
		}
		words = append(words, e.vocab[id])
	}

	return strings.Join(words, " "), nil
}

func (e *wordEngine) IDToToken(id uint32) (string, bool) {
	if int(id) >= len(e.vocab) {
		return "", false
	}

	return e.vocab[id], true
}

func (e *wordEngine) VocabSize() int     { return len(e.vocab) }
func (e *wordEngine) Kind() engine.Kind { return engine.KindHuggingFace }

func newTestTokenizer(t *testing.T, eng *wordEngine) *tokenizer.Tokenizer {
	t.Helper()

	tok, err := tokenizer.New([]byte("word-engine"), tokenizer.WithLoader(func([]byte) (engine.Model, error) {
		return eng, nil
	}))
	if err != nil {
		t.Fatalf("tokenizer.New: %v", err)
	}

	return tok
}

func newTestHandler(t *testing.T, opts ...server.Option) http.Handler {
	t.Helper()
	return server.NewHandler(newTestTokenizer(t, newWordEngine()), opts...)
}

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)

	return rec
}

func errorField(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}

	return body["error"]
}

// ---------------------------------------------------------------------------
// GET /health
// ---------------------------------------------------------------------------

func TestHealth_ReportsTokenizer(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var body struct {
		Status      string `json:"status"`
		Version     string `json:"version"`
		Engine      string `json:"engine"`
		VocabSize   int    `json:"vocab_size"`
		Fingerprint string `json:"fingerprint"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if body.Status != "ok" {
		t.Errorf("status = %q; want ok", body.Status)
	}
	if body.Version == "" {
		t.Error("want version field")
	}
	if body.Engine != "huggingface" {
		t.Errorf("engine = %q; want huggingface", body.Engine)
	}
	if body.VocabSize != 4 {
		t.Errorf("vocab_size = %d; want 4", body.VocabSize)
	}
	if len(body.Fingerprint) != 16 {
		t.Errorf("fingerprint = %q; want 16 hex digits", body.Fingerprint)
	}
}

// ---------------------------------------------------------------------------
// POST /encode
// ---------------------------------------------------------------------------

func TestEncode_ReturnsIDsAndMask(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(h, "/encode", `{"text":"hello world"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		InputIDs      []int64  `json:"input_ids"`
		AttentionMask []int64  `json:"attention_mask"`
		Tokens        []string `json:"tokens"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	wantIDs := []int64{0, 1, 2}
	if len(body.InputIDs) != len(wantIDs) {
		t.Fatalf("input_ids = %v; want %v", body.InputIDs, wantIDs)
	}
	for i := range wantIDs {
		if body.InputIDs[i] != wantIDs[i] {
			t.Errorf("input_ids[%d] = %d; want %d", i, body.InputIDs[i], wantIDs[i])
		}
		if body.AttentionMask[i] != 1 {
			t.Errorf("attention_mask[%d] = %d; want 1", i, body.AttentionMask[i])
		}
	}

	if strings.Join(body.Tokens, ",") != "[CLS],hello,world" {
		t.Errorf("tokens = %v", body.Tokens)
	}
}

func TestEncode_RequestOverridesSpecialTokenDefault(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(h, "/encode", `{"text":"hi","add_special_tokens":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var body struct {
		InputIDs []int64 `json:"input_ids"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&body)

	if len(body.InputIDs) != 1 || body.InputIDs[0] != 3 {
		t.Errorf("input_ids = %v; want [3]", body.InputIDs)
	}
}

func TestEncode_HandlerDefaultsApply(t *testing.T) {
	h := newTestHandler(t, server.WithSpecialTokenDefaults(false, true))

	rec := postJSON(h, "/encode", `{"text":"hi"}`)

	var body struct {
		InputIDs []int64 `json:"input_ids"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&body)

	if len(body.InputIDs) != 1 {
		t.Errorf("input_ids = %v; want one id without [CLS]", body.InputIDs)
	}
}

func TestEncode_EmptyTextAllowed(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(h, "/encode", `{"text":"","add_special_tokens":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200 for empty text, got %d", rec.Code)
	}

	var body map[string]json.RawMessage
	_ = json.NewDecoder(rec.Body).Decode(&body)

	if string(body["input_ids"]) != "[]" {
		t.Errorf("input_ids = %s; want []", body["input_ids"])
	}
}

func TestEncode_MissingTextReturns400(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(h, "/encode", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
}

func TestEncode_InvalidJSONReturns400(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(h, "/encode", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}

	if errorField(t, rec) == "" {
		t.Error("want non-empty error field")
	}
}

func TestEncode_EngineFailureReturns422(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(h, "/encode", `{"text":"goodbye"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("want 422, got %d", rec.Code)
	}

	if msg := errorField(t, rec); !strings.Contains(msg, "unknown word") {
		t.Errorf("error = %q; want engine cause", msg)
	}
}

func TestEncode_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/encode", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("want 405, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /decode
// ---------------------------------------------------------------------------

func TestDecode_ReturnsText(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(h, "/decode", `{"ids":[0,1,2]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var body map[string]string
	_ = json.NewDecoder(rec.Body).Decode(&body)

	if body["text"] != "hello world" {
		t.Errorf("text = %q; want %q", body["text"], "hello world")
	}
}

func TestDecode_KeepsSpecialTokensWhenAsked(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(h, "/decode", `{"ids":[0,3],"skip_special_tokens":false}`)

	var body map[string]string
	_ = json.NewDecoder(rec.Body).Decode(&body)

	if body["text"] != "[CLS] hi" {
		t.Errorf("text = %q; want %q", body["text"], "[CLS] hi")
	}
}

func TestDecode_EmptyIDs(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(h, "/decode", `{"ids":[]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
}

func TestDecode_UnknownIDReturns400(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(h, "/decode", `{"ids":[1,4294967295]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}

	if msg := errorField(t, rec); !strings.Contains(msg, "position 1") {
		t.Errorf("error = %q; want offending position", msg)
	}
}

func TestDecode_NegativeIDRejected(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(h, "/decode", `{"ids":[-1]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// X-Request-ID and /metrics
// ---------------------------------------------------------------------------

func TestRequestID_GeneratedWhenAbsent(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(h, "/encode", `{"text":"hi"}`)

	if got := rec.Header().Get("X-Request-ID"); len(got) != 36 {
		t.Errorf("X-Request-ID = %q; want generated UUID", got)
	}
}

func TestRequestID_EchoedWhenPresent(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q; want abc-123", got)
	}
}

func TestMetrics_CountsOutcomes(t *testing.T) {
	h := newTestHandler(t)

	postJSON(h, "/encode", `{"text":"hi"}`)
	postJSON(h, "/encode", `{"text":"nope"}`)
	postJSON(h, "/decode", `{"ids":[99]}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	out := rec.Body.String()
	for _, want := range []string{
		`tokbridge_requests_total{op="encode",outcome="ok"} 1`,
		`tokbridge_requests_total{op="encode",outcome="encode_error"} 1`,
		`tokbridge_requests_total{op="decode",outcome="decode_error"} 1`,
		`tokbridge_request_duration_seconds_count{op="encode"}`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetrics_RegistryPerHandler(t *testing.T) {
	first := newTestHandler(t)
	second := newTestHandler(t)

	postJSON(first, "/encode", `{"text":"hi"}`)

	rec := httptest.NewRecorder()
	second.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if strings.Contains(rec.Body.String(), `outcome="ok"} 1`) {
		t.Error("second handler reports requests served by the first")
	}
}
