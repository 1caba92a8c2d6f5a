package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ultimate-mcp/mcpd/internal/domain/audit"
	"github.com/ultimate-mcp/mcpd/internal/domain/auth"
	"github.com/ultimate-mcp/mcpd/internal/domain/prompt"
	"github.com/ultimate-mcp/mcpd/internal/port/outbound"
	"github.com/ultimate-mcp/mcpd/internal/service/pipeline"
)

// Server is the inbound HTTP adapter: it owns the mux, the Prometheus
// registry, and the health checker, and mounts every Registration behind
// the C15 pipeline plus a parallel MCP streaming-HTTP surface over the
// same registrations.
type Server struct {
	registrations []Registration
	pipelineCfg   pipeline.Config
	revocation    auth.RevocationStore
	verifier      pipeline.TokenVerifier
	promptLib     *prompt.Library
	graph         outbound.GraphClient
	logger        *slog.Logger

	addr     string
	certFile string
	keyFile  string

	server  *http.Server
	metrics *Metrics
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithTLS enables TLS with the provided certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) { s.certFile, s.keyFile = certFile, keyFile }
}

// WithLogger sets the logger used for server lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer constructs a Server wiring the tool registry, pipeline
// config, revocation store, prompt library, and graph client (for
// liveness checks) into one mux.
func NewServer(
	registrations []Registration,
	pipelineCfg pipeline.Config,
	revocation auth.RevocationStore,
	verifier pipeline.TokenVerifier,
	promptLib *prompt.Library,
	graph outbound.GraphClient,
	opts ...Option,
) *Server {
	s := &Server{
		registrations: registrations,
		pipelineCfg:   pipelineCfg,
		revocation:    revocation,
		verifier:      verifier,
		promptLib:     promptLib,
		graph:         graph,
		addr:          "127.0.0.1:8080",
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// buildMux assembles the JSON-over-HTTP surface and the MCP mount.
func (s *Server) buildMux() (*http.ServeMux, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := NewMetrics(reg)

	mux := http.NewServeMux()

	healthChecker := NewHealthChecker(s.graph, 2*time.Second, "")
	mux.Handle("GET /health", s.pipelineCfg.Outer(healthChecker.Handler()))
	mux.Handle("GET /metrics", s.pipelineCfg.Outer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	mux.Handle("GET /prompts", s.pipelineCfg.WrapPublic(promptsListHandler(s.promptLib), audit.EventToolLint))
	mux.Handle("GET /prompts/{id}", s.pipelineCfg.WrapPublic(promptsGetHandler(s.promptLib), audit.EventToolLint))

	mux.Handle("POST /auth/revoke", s.pipelineCfg.Wrap(revokeHandler(s.revocation, s.verifier), auth.PermSystemAdmin, audit.EventAuthzGranted))
	mux.Handle("POST /auth/revoke_all", s.pipelineCfg.Wrap(revokeAllHandler(s.revocation), auth.PermSystemAdmin, audit.EventAuthzGranted))

	for _, reg := range s.registrations {
		handler := MetricsMiddleware(metrics, reg.ToolID)(reg.Handler)
		route := reg.Method + " " + reg.Path
		if reg.AuthRequired {
			mux.Handle(route, s.pipelineCfg.Wrap(handler, reg.Permission, reg.Event))
		} else {
			mux.Handle(route, s.pipelineCfg.WrapPublic(handler, reg.Event))
		}
	}

	mux.Handle("/mcp", s.pipelineCfg.Outer(newMCPHandler(s.registrations, s.promptLib, s.pipelineCfg)))

	return mux, metrics
}

// Start begins accepting HTTP connections. It blocks until ctx is
// cancelled or the server errors out.
func (s *Server) Start(ctx context.Context) error {
	mux, metrics := s.buildMux()
	s.metrics = metrics

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}
	if s.certFile != "" && s.keyFile != "" {
		s.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.certFile != "" && s.keyFile != "" {
			s.logger.Info("starting HTTPS server", "addr", s.addr)
			err = s.server.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", s.addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}
