// Package endpoint is the HTTP ingress of the pipeline: it accepts
// submissions, serves search and action-history reads, and funnels
// every write that touches the queue or the scenario set through a
// single Publisher task (see broker.go) so no goroutine but that one
// ever dials goqite directly.
package endpoint

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ctxpipe/internal/broker"
	"github.com/ternarybob/ctxpipe/internal/graphdb"
	"github.com/ternarybob/ctxpipe/internal/metrics"
	"github.com/ternarybob/ctxpipe/internal/queue"
)

// Server wires the HTTP surface to the graph, the queue registry and
// the in-process event bus, mirroring the teacher's server/routes
// split: routing lives in routes.go, lifecycle here.
type Server struct {
	cfg       *Config
	db        *graphdb.DB
	queues    *queue.Registry
	bus       *broker.Bus
	publisher *Publisher
	logger    arbor.ILogger

	httpServer *http.Server
}

// New builds a Server. It does not start the publisher or listen;
// call Start for that.
func New(cfg *Config, db *graphdb.DB, queues *queue.Registry, bus *broker.Bus, logger arbor.ILogger) *Server {
	s := &Server{
		cfg:       cfg,
		db:        db,
		queues:    queues,
		bus:       bus,
		publisher: NewPublisher(queues, db, bus, cfg.Queue.PublishBuffer, logger),
		logger:    logger,
	}
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.instrument(s.routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start runs the publisher task and blocks serving HTTP until the
// listener fails or is shut down.
func (s *Server) Start(ctx context.Context) error {
	go s.publisher.Run(ctx)

	s.logger.Info().Str("address", s.httpServer.Addr).Msg("endpoint server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("endpoint: server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight HTTP requests, then stops the publisher.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("endpoint: shutdown failed: %w", err)
	}
	s.publisher.Stop()
	return nil
}

// statusRecorder captures the status code an http.Handler wrote, so
// the instrumentation middleware can label a metric with it after the
// fact without every handler reporting its own outcome.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument wraps every route with the endpoint_requests_total /
// endpoint_response_time_seconds pair, labeling by the route name the
// mux dispatched to rather than the raw path (so /actions/{id} is one
// series, not one per work id).
func (s *Server) instrument(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeLabel(r.URL.Path)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		mux.ServeHTTP(rec, r)
		metrics.EndpointResponseSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
		metrics.EndpointRequestsTotal.WithLabelValues(route, fmt.Sprintf("%d", rec.status)).Inc()
	})
}

func routeLabel(path string) string {
	switch {
	case path == "/submit":
		return "submit"
	case path == "/search":
		return "search"
	case path == "/apply_scenarios":
		return "apply_scenarios"
	case path == "/reload":
		return "reload"
	case path == "/metrics":
		return "metrics"
	case path == "/ws":
		return "ws"
	case len(path) > len("/actions/") && path[:len("/actions/")] == "/actions/":
		return "actions"
	default:
		return "unmatched"
	}
}
