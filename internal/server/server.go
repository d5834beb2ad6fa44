// Package server exposes the knowledge base over HTTP: ingestion jobs,
// queries (sync and streaming), and repository browsing.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/raphaelgruber/repokb-go/internal/metrics"
	"github.com/raphaelgruber/repokb-go/internal/service"
)

// Pinger reports backend reachability for the readiness probe.
type Pinger interface {
	Health(ctx context.Context) error
}

// Server wires the services into an HTTP handler with lifecycle management.
type Server struct {
	addr    string
	ingest  *service.IngestService
	query   *service.QueryService
	commits *service.CommitService
	pinger  Pinger
	stats   *metrics.Collector
	logger  *slog.Logger
}

// WithMetrics enables the stats endpoint. Without it /api/stats returns 404.
func (s *Server) WithMetrics(stats *metrics.Collector) *Server {
	s.stats = stats
	return s
}

func New(
	addr string,
	ingest *service.IngestService,
	query *service.QueryService,
	commits *service.CommitService,
	pinger Pinger,
	logger *slog.Logger,
) *Server {
	return &Server{
		addr:    addr,
		ingest:  ingest,
		query:   query,
		commits: commits,
		pinger:  pinger,
		logger:  logger,
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(LoggingMiddleware(s.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		if s.stats != nil {
			r.Get("/stats", s.handleStats)
		}

		r.Post("/ingest", s.handleIngest)
		r.Get("/ingest/{jobID}/status", s.handleIngestStatus)

		r.Post("/query", s.handleQuery)
		r.Post("/query/stream", s.handleQueryStream)

		r.Get("/repositories", s.handleListRepositories)
		r.Route("/repositories/{owner}/{repo}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteRepository)
			r.Get("/branches", s.handleBranches)
			r.Get("/commits", s.handleCommits)
			r.Get("/commits/{sha}", s.handleCommitDetail)
			r.Get("/commits/{sha}/explain", s.handleCommitExplain)
			r.Post("/commits/{sha}/chat", s.handleCommitChat)
		})
	})

	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	}
}
