// Package api exposes the task queue over HTTP. Mutating endpoints enqueue a
// task and by default wait for its outcome; ?async=true returns the task ID
// right away for polling on GET /tasks/{taskId}.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ssvlabs/chain-task-gateway/metrics"
	"github.com/ssvlabs/chain-task-gateway/x/task"
)

// Tasks enqueues tasks and waits for their outcome.
type Tasks interface {
	Enqueue(ctx context.Context, taskName string, payload any) (string, error)
	EnqueueAndWait(ctx context.Context, taskName string, payload any, opts task.WaitOptions) (*task.Outcome, error)
}

type Server struct {
	cfg     Config
	tasks   Tasks
	status  task.StatusResolver
	log     zerolog.Logger
	metrics *Metrics

	handler http.Handler
	http    *http.Server
}

func New(cfg Config, tasks Tasks, status task.StatusResolver, log zerolog.Logger, m *Metrics) *Server {
	s := &Server{
		cfg:     cfg.withDefaults(),
		tasks:   tasks,
		status:  status,
		log:     log.With().Str("component", "api").Logger(),
		metrics: m,
	}

	mux := http.NewServeMux()
	s.handle(mux, "POST /games/{gameId}/rooms", s.handleCreateRoom)
	s.handle(mux, "POST /tokens", s.handleMintToken)
	s.handle(mux, "POST /chips/pay", s.handlePayChips)
	s.handle(mux, "POST /chips/earn", s.handleEarnChips)
	s.handle(mux, "POST /nfts/cross-chain", s.handleCrossChainNFT)
	s.handle(mux, "GET /tasks/{taskId}", s.handleTaskStatus)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler())

	s.handler = mux
	s.http = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	return s
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	s.log.Info().Dur("timeout", s.cfg.ShutdownTimeout).Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(pattern, h))
}

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

const requestIDHeader = "X-Request-ID"

// instrument tags the request with an ID and a request-scoped logger, then
// logs and counts it once served.
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := requestID(r)
		w.Header().Set(requestIDHeader, reqID)

		logger := s.log.With().
			Str("request_id", reqID).
			Str("route", route).
			Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		s.metrics.inFlight(1)
		next.ServeHTTP(rec, r)
		s.metrics.inFlight(-1)

		elapsed := time.Since(start)
		s.metrics.recordRequest(route, rec.code, elapsed)

		ev := logger.Debug()
		if rec.code >= http.StatusInternalServerError {
			ev = logger.Warn()
		}
		ev.Int("code", rec.code).Dur("elapsed", elapsed).Msg("Request served")
	})
}
