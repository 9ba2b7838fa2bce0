package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/daily-papers/internal/daily"
	"github.com/JakeFAU/daily-papers/internal/evaluation"
	"github.com/JakeFAU/daily-papers/internal/metrics"
	"github.com/JakeFAU/daily-papers/internal/papers"
)

const defaultRequestTimeout = 120 * time.Second

// DailyService serves day listings and cache maintenance.
type DailyService interface {
	GetDaily(ctx context.Context, date string, dir papers.Direction) (daily.Result, error)
	Refresh(ctx context.Context, date string) (daily.RefreshResult, error)
	AvailableDates(ctx context.Context) ([]string, error)
	CacheStatus(ctx context.Context) (daily.CacheStatus, error)
	ClearCache(ctx context.Context) (int64, error)
}

// Evaluations starts and reports paper evaluations.
type Evaluations interface {
	StartEvaluation(ctx context.Context, arxivID string, force bool) (evaluation.StartStatus, error)
	GetStatus(ctx context.Context, arxivID string) (evaluation.Status, error)
	ListActiveTasks() evaluation.Snapshot
}

// Options configures the HTTP layer.
type Options struct {
	// APIKey, when set, is required on mutating routes.
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the services.
type Server struct {
	router      chi.Router
	daily       DailyService
	evaluations Evaluations
	papers      papers.PaperStore
	opts        Options
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	dailySvc DailyService,
	evaluations Evaluations,
	paperStore papers.PaperStore,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		daily:       dailySvc,
		evaluations: evaluations,
		papers:      paperStore,
		opts:        opts,
		logger:      logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	guard := apiKeyMiddleware(opts.APIKey)
	r.Route("/api", func(r chi.Router) {
		r.Get("/daily", s.getDaily)
		r.Get("/available-dates", s.availableDates)

		r.Route("/cache", func(r chi.Router) {
			r.Get("/status", s.cacheStatus)
			r.With(guard).Post("/clear", s.clearCache)
			r.With(guard).Post("/refresh/{date}", s.refreshCache)
		})

		r.Route("/papers", func(r chi.Router) {
			r.Get("/status", s.papersStatus)
			r.Get("/search", s.searchPapers)
			r.With(guard).Post("/", s.insertPaper)
			r.With(guard).Post("/insert", s.insertPaper)
			r.Route("/evaluate", func(r chi.Router) {
				r.Get("/active-tasks", s.activeTasks)
				r.With(guard).Post("/{arxiv_id}", s.startEvaluation)
				r.Get("/{arxiv_id}/status", s.evaluationStatus)
			})
			r.With(guard).Post("/reevaluate/{arxiv_id}", s.reevaluate)
			r.Get("/{arxiv_id}", s.paperDetails)
			r.Get("/{arxiv_id}/score", s.paperScore)
			r.With(guard).Post("/{arxiv_id}/reevaluate", s.reevaluate)
		})

		r.Get("/has-eval/{arxiv_id}", s.hasEval)
		r.Get("/evals", s.listEvals)
		r.Get("/evals/{arxiv_id}", s.getEval)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
