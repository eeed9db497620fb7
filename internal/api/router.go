package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/adlens/internal/api/middleware"
	"github.com/phrazzld/adlens/internal/api/shared"
)

// RouterConfig holds the dependencies of NewRouter.
type RouterConfig struct {
	Jobs   JobService
	Auth   *middleware.AuthMiddleware
	Logger *slog.Logger
	// RequestTimeout bounds each API request. Zero disables the limit.
	RequestTimeout time.Duration
}

// NewRouter builds the HTTP routes.
//
//	GET  /healthz
//	POST /api/jobs
//	GET  /api/jobs
//	GET  /api/jobs/{id}
//	POST /api/jobs/{id}/cancel
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Trace(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	jobs := NewJobHandler(cfg.Jobs)
	r.Route("/api", func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
		}
		r.Use(cfg.Auth.Authenticate)

		r.Post("/jobs", jobs.StartJob)
		r.Get("/jobs", jobs.ListJobs)
		r.Get("/jobs/{id}", jobs.GetJob)
		r.Post("/jobs/{id}/cancel", jobs.CancelJob)
	})

	return r
}
