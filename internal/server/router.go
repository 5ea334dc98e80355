package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/swoopinfo/swoopkb/internal/api"
	"github.com/swoopinfo/swoopkb/internal/api/handlers"
	"github.com/swoopinfo/swoopkb/internal/api/middleware"
)

type RouterConfig struct {
	AdminToken   string
	ChunkHandler *handlers.ChunkHandler
	QAHandler    *handlers.QAHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 1 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/vehicles/{vehicleKey}/chunks", func(r chi.Router) {
		r.Get("/", cfg.ChunkHandler.List)
		r.Get("/{contentID}", cfg.ChunkHandler.Resolve)
	})

	r.Route("/qa", func(r chi.Router) {
		r.Get("/health", cfg.QAHandler.Health)
		r.Get("/runs", cfg.QAHandler.ListRuns)
		r.Get("/runs/latest", cfg.QAHandler.LatestRun)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.OperatorToken(cfg.AdminToken))

		r.Get("/chunks/{id}", cfg.ChunkHandler.Get)
		r.Post("/chunks/{id}/unban", cfg.ChunkHandler.Unban)
		r.Post("/qa/run", cfg.QAHandler.TriggerRun)
	})

	return r
}
