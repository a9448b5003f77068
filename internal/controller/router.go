package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (c controller) Mux() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(c.requestIDMw)
	r.Use(c.requestLoggingMw)

	r.Get("/health", c.health)
	r.Get("/ws", c.serveWS)
	r.Method(http.MethodGet, "/metrics", c.metrics.Handler())

	return r
}
