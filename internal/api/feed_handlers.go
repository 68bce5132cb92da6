package api

import (
	"net/http"

	"github.com/readgate/readgate/internal/models"
)

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	filter := models.PostFilter{
		ProfileID: int64(queryInt(r, "profile_id", 0)),
		Limit:     queryInt(r, "limit", 20),
		Offset:    queryInt(r, "offset", 0),
	}

	posts, total, err := s.FeedService.ListFeed(r.Context(), filter)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"posts": posts,
		"total": total,
	})
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	profile := profileFromContext(r.Context())

	filter := models.AttemptFilter{
		ProfileID: profile.ID,
		GateType:  models.GateType(r.URL.Query().Get("gate_type")),
		Limit:     queryInt(r, "limit", 20),
		Offset:    queryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("passed"); raw == "true" || raw == "false" {
		passed := raw == "true"
		filter.Passed = &passed
	}

	attempts, total, err := s.GateService.ListAttempts(r.Context(), filter)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"attempts": attempts,
		"total":    total,
	})
}
