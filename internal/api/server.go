package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/readgate/readgate/internal/services"
	"github.com/readgate/readgate/internal/session"
)

type Server struct {
	FeedService services.FeedService
	GateService services.GateService

	// Guard, when set, receives client resume signals so the next oracle
	// call verifies the credential first.
	Guard *session.Guard
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(recoveryMiddleware)
	r.Use(loggingMiddleware)
	r.Use(securityHeadersMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/profiles", s.handleListProfiles)
		r.Post("/profiles", s.handleCreateProfile)
		r.Post("/session/resume", s.handleSessionResume)

		r.Group(func(r chi.Router) {
			r.Use(s.profileMiddleware)

			r.Get("/feed", s.handleFeed)
			r.Get("/attempts", s.handleListAttempts)

			r.Route("/gate", func(r chi.Router) {
				r.Post("/start", s.handleGateStart)
				r.Get("/{sessionID}", s.handleGateStatus)
				r.Post("/{sessionID}/reading", s.handleGateReading)
				r.Post("/{sessionID}/answer", s.handleGateAnswer)
				r.Post("/{sessionID}/close", s.handleGateClose)
			})
		})
	})

	return r
}
