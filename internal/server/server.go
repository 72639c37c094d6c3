package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/go-tokenizers-bridge/internal/config"
	"github.com/example/go-tokenizers-bridge/internal/tokenizer"
)

const defaultShutdownTimeout = 10 * time.Second

// Server runs the tokenizer handler on a TCP listener until its context ends.
type Server struct {
	cfg             config.Config
	tok             Tokenizer
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// New builds a Server from cfg. A nil tok is loaded from
// cfg.Paths.TokenizerPath when Start runs.
func New(cfg config.Config, tok Tokenizer) *Server {
	s := &Server{cfg: cfg, tok: tok, logger: slog.Default(), shutdownTimeout: defaultShutdownTimeout}
	if secs := cfg.Server.ShutdownTimeout; secs > 0 {
		s.shutdownTimeout = time.Duration(secs) * time.Second
	}

	return s
}

func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.logger = l
	return s
}

func (s *Server) handlerOptions() []Option {
	sc := s.cfg.Server

	return []Option{
		WithWorkers(sc.Workers),
		WithMaxTextBytes(sc.MaxTextBytes),
		WithMaxIDs(sc.MaxIDs),
		WithRequestTimeout(time.Duration(sc.RequestTimeout) * time.Second),
		WithSpecialTokenDefaults(s.cfg.Encode.AddSpecialTokens, s.cfg.Decode.SkipSpecialTokens),
		WithLogger(s.logger),
	}
}

// Start blocks serving requests. Cancelling ctx stops accepting new
// connections and waits up to the shutdown timeout for in-flight ones.
func (s *Server) Start(ctx context.Context) error {
	tok, err := s.resolveTokenizer()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           NewHandler(tok, s.handlerOptions()...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("listening",
			slog.String("addr", srv.Addr),
			slog.String("engine", string(tok.Kind())),
			slog.String("fingerprint", tok.Fingerprint()),
		)

		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: listen on %s: %w", srv.Addr, err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		drain, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(drain); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}

		s.logger.Info("stopped", slog.String("addr", srv.Addr))

		return nil
	})

	return g.Wait()
}

func (s *Server) resolveTokenizer() (Tokenizer, error) {
	if s.tok != nil {
		return s.tok, nil
	}

	data, err := os.ReadFile(s.cfg.Paths.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("server: read tokenizer: %w", err)
	}

	tok, err := tokenizer.New(data)
	if err != nil {
		return nil, err
	}

	return tok, nil
}

// ProbeHTTP reports whether GET /health on addr answers 200.
func ProbeHTTP(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server: health probe on %s returned %s", addr, resp.Status)
	}

	return nil
}
