package server

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/chimera/internal/api"
	"github.com/cloo-solutions/chimera/internal/api/handlers"
	"github.com/cloo-solutions/chimera/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxBodyBytes int64 = 5 * 1024 * 1024

// HealthReport describes optional backends for /health
type HealthReport struct {
	Status string          `json:"status"`
	Graph  bool            `json:"graph"`
	Checks map[string]bool `json:"checks,omitempty"`
}

type RouterConfig struct {
	Logger *zap.Logger
	// Auth is skipped when nil or disabled
	Auth           *middleware.StaticKeys
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer
	Health         func(ctx context.Context) HealthReport

	SyncHandler   *handlers.SyncHandler
	JobHandler    *handlers.JobHandler
	AgentHandler  *handlers.AgentHandler
	UploadHandler *handlers.UploadHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Sentry("/health", "/metrics"))
	r.Use(middleware.AccessLog(cfg.Logger))
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.APIKeyHeader, middleware.RequestIDHeader},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		report := HealthReport{Status: "ok"}
		if cfg.Health != nil {
			report = cfg.Health(r.Context())
		}
		api.Success(w, http.StatusOK, report)
	})

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth != nil && cfg.Auth.Enabled() {
			r.Use(middleware.APIKeyAuth(cfg.Auth))
		}

		if cfg.SyncHandler != nil {
			r.Post("/sync", cfg.SyncHandler.Sync)
			r.Post("/reconcile", cfg.SyncHandler.Reconcile)
		}
		if cfg.JobHandler != nil {
			r.Post("/jobs", cfg.JobHandler.Enqueue)
			r.Get("/runs", cfg.JobHandler.ListRuns)
			r.Get("/runs/{id}", cfg.JobHandler.GetRun)
		}
		if cfg.AgentHandler != nil {
			r.Post("/agent/run", cfg.AgentHandler.Run)
		}
		if cfg.UploadHandler != nil {
			r.Post("/uploads", cfg.UploadHandler.InitUpload)
		}
	})

	return r
}
