// Package server exposes the HTTP surface of the Parley voice service:
// health probes, Prometheus metrics, the WebSocket voice endpoint, and the
// WebRTC signaling endpoint for direct calls.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/parleyvoice/parley/internal/config"
	"github.com/parleyvoice/parley/internal/health"
	"github.com/parleyvoice/parley/internal/observe"
)

// DefaultShutdownTimeout bounds graceful shutdown of in-flight requests.
const DefaultShutdownTimeout = 15 * time.Second

// Server hosts the Parley HTTP endpoints. Create with [New], run with [Run].
type Server struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics
	log      *slog.Logger

	httpSrv *http.Server
	handler http.Handler
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics overrides the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New builds a server from config. The registry supplies provider factories
// for voice sessions; the built-in set comes from [config.DefaultRegistry].
func New(cfg *config.Config, registry *config.Registry, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: config must not be nil")
	}
	if registry == nil {
		return nil, errors.New("server: registry must not be nil")
	}

	s := &Server{
		cfg:      cfg,
		registry: registry,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()

	hc := health.New(health.Checker{
		Name:  "providers",
		Check: s.checkProviders,
	})
	hc.Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /voice", s.handleVoice)
	mux.HandleFunc("GET /rtc", s.handleSignaling)

	s.handler = observe.Middleware(s.metrics)(mux)

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("server listening", "addr", s.httpSrv.Addr, "tls", s.cfg.Server.TLS != nil)

		var err error
		if tls := s.cfg.Server.TLS; tls != nil {
			err = s.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()

		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// checkProviders verifies the configured providers resolve in the registry.
// It builds factories only; no network connections are opened.
func (s *Server) checkProviders(ctx context.Context) error {
	var errs []error

	if _, err := s.registry.CreateASR(s.cfg.Providers.ASR); err != nil {
		errs = append(errs, err)
	}
	if name := s.cfg.Providers.TTS.Name; name != "" {
		if _, err := s.registry.CreateTTS(s.cfg.Providers.TTS); err != nil {
			errs = append(errs, err)
		}
	}
	if name := s.cfg.Providers.LLM.Name; name != "" {
		if _, err := s.registry.CreateLLM(s.cfg.Providers.LLM); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
