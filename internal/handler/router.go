package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/web3-frozen/agent-signal/internal/middleware"
)

// Backend is everything the API reads and writes; both the pgx store and
// the in-memory store satisfy it.
type Backend interface {
	Pinger
	TokenReader
	AgentReader
	TokenWriter
}

type RouterConfig struct {
	FrontendOrigin string
	AdminToken     string
}

func NewRouter(b Backend, jobs JobRunner, logger *slog.Logger, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", Health())
	r.Get("/readyz", Ready(b))

	r.Route("/api", func(r chi.Router) {
		r.Get("/tokens/{id}/metrics", TokenMetrics(b))
		r.Get("/tokens/{id}/history", TokenHistory(b))
		r.Get("/agents/{id}/signal", AgentSignal(b))
		r.Get("/agents/{id}/metrics", AgentMetrics(b))
		r.Get("/leaderboard", Leaderboard(b))
		r.Get("/jobs", ListJobs(jobs))

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminToken(cfg.AdminToken))
			r.Post("/jobs/{job}", TriggerJob(jobs, logger))
			r.Post("/tokens", CreateToken(b))
			r.Post("/tokens/{id}/primary", SetPrimaryToken(b))
		})
	})
	return r
}
