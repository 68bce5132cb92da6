package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/readgate/readgate/internal/logger"
	"github.com/readgate/readgate/internal/models"
	"github.com/readgate/readgate/internal/services"
)

func (s *Server) handleGateStart(w http.ResponseWriter, r *http.Request) {
	profile := profileFromContext(r.Context())

	var body struct {
		GateType     string `json:"gate_type"`
		SourceURL    string `json:"source_url"`
		OwnText      string `json:"own_text"`
		Title        string `json:"title"`
		ForceRefresh bool   `json:"force_refresh"`
		TestMode     bool   `json:"test_mode"`
		DraftBody    string `json:"draft_body"`
	}
	if err := decodeJSON(r, &body); err != nil {
		handleError(w, r, err)
		return
	}

	view, err := s.GateService.StartGate(r.Context(), services.StartGateRequest{
		ProfileID:    profile.ID,
		GateType:     models.GateType(body.GateType),
		SourceURL:    body.SourceURL,
		OwnText:      body.OwnText,
		Title:        body.Title,
		ForceRefresh: body.ForceRefresh,
		TestMode:     body.TestMode,
		DraftBody:    body.DraftBody,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("gate session created: %s", view.SessionID)
	respondJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGateStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.GateService.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleGateReading(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Coverage map[string]float64 `json:"coverage"`
		ScrollPx *float64           `json:"scroll_px"`
	}
	if err := decodeJSON(r, &body); err != nil {
		handleError(w, r, err)
		return
	}

	progress, err := s.GateService.ReportReading(r.Context(), chi.URLParam(r, "sessionID"), services.ReadingReport{
		Coverage: body.Coverage,
		ScrollPx: body.ScrollPx,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, progress)
}

func (s *Server) handleGateAnswer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChoiceID string `json:"choice_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		handleError(w, r, err)
		return
	}

	step, err := s.GateService.SubmitAnswer(r.Context(), chi.URLParam(r, "sessionID"), body.ChoiceID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, step)
}

func (s *Server) handleGateClose(w http.ResponseWriter, r *http.Request) {
	if err := s.GateService.CloseSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}
