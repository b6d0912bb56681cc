// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kyleking/sqlrag/internal/config"
	"github.com/kyleking/sqlrag/internal/logging"
	"github.com/kyleking/sqlrag/internal/observability"
	"github.com/kyleking/sqlrag/internal/pipeline"
)

const maxBodyBytes = 64 << 10

// Backend is the part of the pipeline the API uses
type Backend interface {
	AskWithRetry(ctx context.Context, question string, opts pipeline.AskOptions) (*pipeline.Answer, error)
	Refresh(ctx context.Context) (*pipeline.RefreshResult, error)
	Snapshot() *pipeline.Snapshot
	Ready() error
	Templates() []string
	Model() string
}

// NewHandler builds the API routes wrapped in trace, metrics and logging middleware
func NewHandler(backend Backend, logger *logging.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "sqlrag"})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := backend.Ready(); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "catalog_hash": backend.Snapshot().Hash()})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/sql", func(w http.ResponseWriter, r *http.Request) {
		handleSQL(backend, w, r)
	})
	mux.HandleFunc("POST /v1/refresh", func(w http.ResponseWriter, r *http.Request) {
		handleRefresh(backend, w, r)
	})
	mux.HandleFunc("GET /v1/catalog", func(w http.ResponseWriter, r *http.Request) {
		handleCatalog(backend, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(logger))
	}
	return chain(mux, middlewares...)
}

// Server runs the API until its context ends
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
}

// New creates a server for the configured address
func New(cfg config.ServerConfig, backend Backend, logger *logging.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewHandler(backend, logger),
			ReadTimeout:       config.Duration(cfg.ReadTimeout),
			ReadHeaderTimeout: config.Duration(cfg.ReadTimeout),
			WriteTimeout:      config.Duration(cfg.WriteTimeout),
		},
		shutdownTimeout: config.Duration(cfg.ShutdownTimeout),
	}
}

// Serve accepts connections on ln until ctx is cancelled, then drains
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	logging.Infof("Listening on %s", ln.Addr())

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.shutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return nil
}

// ListenAndServe binds the configured address and serves until ctx ends
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	return s.Serve(ctx, ln)
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
