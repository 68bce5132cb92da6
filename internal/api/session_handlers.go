package api

import (
	"net/http"

	"github.com/readgate/readgate/internal/logger"
)

// handleSessionResume is the client's resume signal: the app came back
// from the background, so the cached oracle credential may have gone
// stale. Marking it suspect makes the next guarded call verify first.
func (s *Server) handleSessionResume(w http.ResponseWriter, r *http.Request) {
	if s.Guard != nil {
		s.Guard.MarkSuspect()
		logger.FromContext(r.Context()).Debug("resume signal received, credential marked suspect")
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
