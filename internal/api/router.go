package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleCreateDevice)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Patch("/", s.handleUpdateDevice)
				r.Delete("/", s.handleDeleteDevice)
				r.Get("/state", s.handleGetDeviceState)
				r.Post("/command/{key}", s.handleDeviceCommand)
			})
		})

		r.Route("/discovery", func(r chi.Router) {
			r.Get("/candidates", s.handleListCandidates)
			r.Post("/identify", s.handleIdentify)
			r.Route("/candidates/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCandidate)
				r.Delete("/", s.handleForgetCandidate)
				r.Post("/promote", s.handlePromoteCandidate)
			})
		})
	})

	return r
}
