package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/example/go-tokenizers-bridge/internal/engine"
	"github.com/example/go-tokenizers-bridge/internal/tokenizer"
)

// Tokenizer is what the handler needs from a loaded tokenizer.
// *tokenizer.Tokenizer satisfies it.
type Tokenizer interface {
	Encode(text string, addSpecialTokens bool) (*tokenizer.Encoding, error)
	Decode(ids []uint32, skipSpecialTokens bool) (string, error)
	Kind() engine.Kind
	VocabSize() int
	Fingerprint() string
}

type handler struct {
	tok     Tokenizer
	opts    options
	slots   chan struct{}
	log     *slog.Logger
	metrics *metrics
}

// NewHandler serves GET /health, POST /encode, POST /decode and
// GET /metrics for tok. Every response carries an X-Request-ID header.
func NewHandler(tok Tokenizer, opts ...Option) http.Handler {
	o := newOptions(opts)

	h := &handler{tok: tok, opts: o, log: o.logger, metrics: newMetrics()}
	if o.workers > 0 {
		h.slots = make(chan struct{}, o.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("POST /encode", h.encode)
	mux.HandleFunc("POST /decode", h.decode)
	mux.Handle("GET /metrics", h.metrics.handler())

	return withRequestID(mux)
}

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func moduleVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "dev"
	}

	return info.Main.Version
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status      string `json:"status"`
		Version     string `json:"version"`
		Engine      string `json:"engine"`
		VocabSize   int    `json:"vocab_size"`
		Fingerprint string `json:"fingerprint"`
	}{
		Status:      "ok",
		Version:     moduleVersion(),
		Engine:      string(h.tok.Kind()),
		VocabSize:   h.tok.VocabSize(),
		Fingerprint: h.tok.Fingerprint(),
	})
}

type encodeRequest struct {
	Text             *string `json:"text"`
	AddSpecialTokens *bool   `json:"add_special_tokens"`
}

type encodeResponse struct {
	InputIDs      []int64  `json:"input_ids"`
	AttentionMask []int64  `json:"attention_mask"`
	Tokens        []string `json:"tokens,omitempty"`
}

func (h *handler) encode(w http.ResponseWriter, r *http.Request) {
	req, failed := readRequest[encodeRequest](w, r, encodeBodyLimit(h.opts.maxTextBytes))
	switch {
	case failed != "":
		h.metrics.observe(opEncode, failed, 0)
		return
	case req.Text == nil:
		h.metrics.observe(opEncode, outcomeBadRequest, 0)
		writeError(w, http.StatusBadRequest, `missing "text"`)

		return
	case len(*req.Text) > h.opts.maxTextBytes:
		h.metrics.observe(opEncode, outcomeTooLarge, 0)
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text is %d bytes, limit is %d", len(*req.Text), h.opts.maxTextBytes))

		return
	}

	text := *req.Text
	add := orDefault(req.AddSpecialTokens, h.opts.addSpecialTokens)

	var enc *tokenizer.Encoding

	took, err := h.run(r.Context(), func() (err error) {
		enc, err = h.tok.Encode(text, add)
		return err
	})
	if err != nil {
		h.fail(w, r, opEncode, took, err, slog.Int("text_len", len(text)))
		return
	}

	h.metrics.observe(opEncode, outcomeOK, took)
	h.log.InfoContext(r.Context(), "encode complete",
		slog.String("request_id", requestID(r.Context())),
		slog.Int("text_len", len(text)),
		slog.Int("tokens", enc.Len()),
		slog.Int64("duration_ms", took.Milliseconds()),
	)

	writeJSON(w, http.StatusOK, encodeResponse{
		InputIDs:      enc.InputIDs(),
		AttentionMask: enc.AttentionMask(),
		Tokens:        enc.Tokens(),
	})
}

type decodeRequest struct {
	IDs               []uint32 `json:"ids"`
	SkipSpecialTokens *bool    `json:"skip_special_tokens"`
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request) {
	req, failed := readRequest[decodeRequest](w, r, decodeBodyLimit(h.opts.maxIDs))
	if failed != "" {
		h.metrics.observe(opDecode, failed, 0)
		return
	}

	if n := len(req.IDs); n > h.opts.maxIDs {
		h.metrics.observe(opDecode, outcomeTooLarge, 0)
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("%d ids sent, limit is %d", n, h.opts.maxIDs))

		return
	}

	skip := orDefault(req.SkipSpecialTokens, h.opts.skipSpecialTokens)

	var text string

	took, err := h.run(r.Context(), func() (err error) {
		text, err = h.tok.Decode(req.IDs, skip)
		return err
	})
	if err != nil {
		h.fail(w, r, opDecode, took, err, slog.Int("ids", len(req.IDs)))
		return
	}

	h.metrics.observe(opDecode, outcomeOK, took)
	h.log.InfoContext(r.Context(), "decode complete",
		slog.String("request_id", requestID(r.Context())),
		slog.Int("ids", len(req.IDs)),
		slog.Int("text_len", len(text)),
		slog.Int64("duration_ms", took.Milliseconds()),
	)

	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// Body caps leave room for JSON escaping (\uXXXX per text byte), the
// widest decimal id with its separator, and the surrounding object.
const bodySlack = 4 << 10

func encodeBodyLimit(maxTextBytes int) int64 {
	return int64(maxTextBytes)*6 + bodySlack
}

func decodeBodyLimit(maxIDs int) int64 {
	return int64(maxIDs)*12 + bodySlack
}

// readRequest decodes at most limit bytes of JSON body into a T. It writes
// 413 when the body is longer and 400 when it is not valid JSON, and returns
// the metrics outcome of that failure, or "" on success.
func readRequest[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, string) {
	var req T

	if r.Body == nil || r.Body == http.NoBody {
		writeError(w, http.StatusBadRequest, "empty request body")
		return req, outcomeBadRequest
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))

			return req, outcomeTooLarge
		}

		writeError(w, http.StatusBadRequest, "read request body: "+err.Error())

		return req, outcomeBadRequest
	}

	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body: "+err.Error())
		return req, outcomeBadRequest
	}

	return req, ""
}

func orDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}

	return *v
}

var errWorkerWait = errors.New("server: request gave up waiting for a free worker")

// run calls fn in a worker slot, bounded by the request timeout. The
// tokenizer cannot be interrupted: after a timeout the goroutine keeps its
// slot until fn returns, while the caller answers immediately.
func (h *handler) run(ctx context.Context, fn func() error) (time.Duration, error) {
	if h.slots != nil {
		select {
		case h.slots <- struct{}{}:
		case <-ctx.Done():
			return 0, errWorkerWait
		}
	}

	ctx, cancel := context.WithTimeout(ctx, h.opts.requestTimeout)
	defer cancel()

	began := time.Now()
	result := make(chan error, 1)

	go func() {
		defer h.release()
		result <- fn()
	}()

	select {
	case err := <-result:
		return time.Since(began), err
	case <-ctx.Done():
		return time.Since(began), ctx.Err()
	}
}

func (h *handler) release() {
	if h.slots != nil {
		<-h.slots
	}
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, op string, took time.Duration, err error, attrs ...any) {
	status, outcome := classify(err)
	h.metrics.observe(op, outcome, took)

	attrs = append(attrs,
		slog.String("request_id", requestID(r.Context())),
		slog.String("kind", tokenizer.ErrorKind(err)),
		slog.Int64("duration_ms", took.Milliseconds()),
		slog.String("error", err.Error()),
	)

	level, msg := slog.LevelWarn, op+" rejected"
	if status >= http.StatusInternalServerError {
		level, msg = slog.LevelError, op+" failed"
	}

	h.log.Log(r.Context(), level, msg, attrs...)
	writeError(w, status, err.Error())
}

// classify picks the HTTP status and metrics outcome for a failed call.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errWorkerWait):
		return http.StatusServiceUnavailable, outcomeUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, outcomeTimeout
	case errors.Is(err, tokenizer.ErrEncode):
		return http.StatusUnprocessableEntity, outcomeEncodeError
	case errors.Is(err, tokenizer.ErrDecode):
		return http.StatusBadRequest, outcomeDecodeError
	}

	return http.StatusInternalServerError, outcomeInternal
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
