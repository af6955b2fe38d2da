// Package api exposes sessions and the apply pipeline over HTTP.
package api

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// NewRouter creates the Chi router with all routes and middleware
func NewRouter(h *SessionHandler, logger *zap.Logger) *chi.Mux {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	r.Get("/health", h.Health)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/messages", h.AddMessage)
		r.Post("/{id}/apply", h.Apply)
	})

	return r
}
