package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Server binds the proxy's main listener (exactly "/", 404 everywhere
// else) and, when configured, a separate metrics listener.
type Server struct {
	addr        string
	metricsAddr string
	handler     http.Handler
	metrics     *Metrics
	log         *logrus.Logger
	idleTimeout time.Duration

	httpServer    *http.Server
	metricsServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics enables the /metrics listener at addr and wires m into it.
func WithMetrics(addr string, m *Metrics) Option {
	return func(s *Server) {
		s.metricsAddr = addr
		s.metrics = m
	}
}

// WithIdleTimeout bounds how long an idle connection may sit open, and how
// long graceful shutdown waits for in-flight requests to drain.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// New builds a Server that dispatches every request for "/" to handler and
// 404s everything else, per the spec's HTTP surface (§6).
func New(addr string, handler http.Handler, log *logrus.Logger, opts ...Option) *Server {
	if log == nil {
		log = logrus.New()
	}
	s := &Server{
		addr:        addr,
		handler:     handler,
		log:         log,
		idleTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) rootMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		s.handler.ServeHTTP(w, r)
	})
	return mux
}

// ListenAndServe blocks serving the main listener (and, if configured, the
// metrics listener) until ctx is canceled, at which point it drains
// in-flight requests for up to idleTimeout before returning.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        s.addr,
		Handler:     s.rootMux(),
		IdleTimeout: s.idleTimeout,
	}

	errCh := make(chan error, 2)

	if s.metricsAddr != "" && s.metrics != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", s.metrics.Handler())
		s.metricsServer = &http.Server{Addr: s.metricsAddr, Handler: metricsMux}

		go func() {
			s.log.WithField("addr", s.metricsAddr).Info("rangeproxy: metrics listening")
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server: metrics listener: %w", err)
				return
			}
			errCh <- nil
		}()
	} else {
		errCh <- nil
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.idleTimeout)
		defer cancel()
		if s.metricsServer != nil {
			_ = s.metricsServer.Shutdown(shutdownCtx)
		}
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.WithField("addr", s.addr).Info("rangeproxy: listening")
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listener: %w", err)
	}

	if metricsErr := <-errCh; metricsErr != nil {
		return metricsErr
	}
	return nil
}
