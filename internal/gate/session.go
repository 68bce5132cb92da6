package gate

import (
	"context"
	"time"

	apperrors "github.com/readgate/readgate/internal/errors"
	"github.com/readgate/readgate/internal/models"
	"github.com/readgate/readgate/internal/quiz"
	"github.com/readgate/readgate/internal/reader"
	"github.com/readgate/readgate/internal/telemetry"
)

// Phase returns the session's current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// RequiresReading reports whether the reading tracker gates the quiz.
func (s *Session) RequiresReading() bool {
	return s.requireReading
}

// Tracker returns the reading tracker, or nil for own-text sessions.
func (s *Session) Tracker() *reader.Tracker {
	return s.tracker
}

// Blocks returns a snapshot of the reading view's blocks, if one exists.
func (s *Session) Blocks() []*models.ContentBlock {
	if s.tracker == nil {
		return nil
	}
	return s.tracker.Blocks()
}

// Progress returns the reading progress snapshot. Sessions without a
// reading requirement report an unlocked zero-value.
func (s *Session) Progress() models.ReadingProgress {
	if s.tracker == nil {
		return models.ReadingProgress{CanUnlock: true}
	}
	return s.tracker.Progress()
}

// ReportCoverage forwards a viewport coverage sample to the tracker.
func (s *Session) ReportCoverage(blockID string, coverage float64) {
	if s.tracker == nil {
		return
	}
	s.tracker.ReportCoverage(blockID, coverage)
}

// HandleScroll forwards a scroll sample to the tracker.
func (s *Session) HandleScroll(offsetPx float64, at time.Time) {
	if s.tracker == nil {
		return
	}
	s.tracker.HandleScroll(offsetPx, at)
}

// RunTracker drives the dwell sampler until ctx is cancelled or the
// session closes.
func (s *Session) RunTracker(ctx context.Context) {
	if s.tracker == nil {
		return
	}
	s.tracker.Run(ctx)
}

// CurrentQuestion returns the question awaiting an answer. Reaching the
// quiz requires the reading unlock when one is configured.
func (s *Session) CurrentQuestion() (models.QuizQuestion, error) {
	if err := s.checkUnlocked(); err != nil {
		return models.QuizQuestion{}, err
	}
	q, ok := s.machine.Current()
	if !ok {
		return models.QuizQuestion{}, apperrors.NewBadRequestError("no question awaiting an answer")
	}
	return q, nil
}

// QuizState exposes the underlying machine state.
func (s *Session) QuizState() quiz.State {
	return s.machine.State()
}

// Result returns the terminal quiz result, or nil before one exists.
func (s *Session) Result() *models.QuizResult {
	return s.machine.Result()
}

func (s *Session) checkUnlocked() error {
	if !s.requireReading {
		return nil
	}
	if !s.tracker.Progress().CanUnlock {
		return apperrors.NewBadRequestError("reading requirement not met")
	}
	return nil
}

// SubmitAnswer submits the current question's answer. When the quiz
// reaches a terminal state, the session resolves: exactly one of the
// success or cancel callbacks fires, and the audit record is handed off.
func (s *Session) SubmitAnswer(ctx context.Context, choiceID string) (*quiz.StepOutcome, error) {
	s.mu.Lock()
	if s.phase == PhaseCancelled {
		s.mu.Unlock()
		return nil, apperrors.NewBadRequestError("gate session is closed")
	}
	s.mu.Unlock()

	if err := s.checkUnlocked(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.phase == PhaseReading {
		s.phase = PhaseQuiz
	}
	s.mu.Unlock()

	out, err := s.machine.Submit(ctx, choiceID)
	if out != nil && out.Done {
		s.resolve(ctx, out.State == quiz.StatePassed)
	}
	return out, err
}

// Close cancels the session. Safe to call repeatedly; only the first call
// has any effect. A session closed before a terminal quiz result resolves
// as cancelled and produces no audit record.
func (s *Session) Close(ctx context.Context) {
	first := s.machine.Close()
	if s.tracker != nil {
		s.tracker.Close()
	}
	if !first {
		return
	}

	s.mu.Lock()
	alreadyResolved := s.resolved
	if !alreadyResolved {
		s.resolved = true
		s.phase = PhaseCancelled
	}
	onCancel := s.onCancel
	s.mu.Unlock()

	if alreadyResolved {
		return
	}
	s.orc.log.Info("gate session %s cancelled", s.ID)
	s.orc.sink.Emit(telemetry.Event{Name: telemetry.EventGateResolved, Fields: map[string]any{
		"session_id": s.ID,
		"outcome":    string(PhaseCancelled),
	}})
	if onCancel != nil {
		onCancel(ctx, s)
	}
}

// resolve fires the terminal callback and records the audit attempt.
// Exactly-once: a second terminal signal is ignored.
func (s *Session) resolve(ctx context.Context, passed bool) {
	s.mu.Lock()
	if s.resolved {
		s.mu.Unlock()
		return
	}
	s.resolved = true
	if passed {
		s.phase = PhasePassed
	} else {
		s.phase = PhaseFailed
	}
	phase := s.phase
	s.mu.Unlock()

	attempt := s.buildAttempt(passed)
	s.orc.recorder.Record(ctx, attempt)

	s.orc.log.Info("gate session %s resolved: %s", s.ID, phase)
	s.orc.sink.Emit(telemetry.Event{Name: telemetry.EventGateResolved, Fields: map[string]any{
		"session_id": s.ID,
		"outcome":    string(phase),
		"passed":     passed,
	}})

	if s.tracker != nil {
		s.tracker.Close()
	}

	if passed {
		if s.onSuccess != nil {
			s.onSuccess(ctx, s)
		}
		return
	}
	if s.onCancel != nil {
		s.onCancel(ctx, s)
	}
}

func (s *Session) buildAttempt(passed bool) *models.GateAttempt {
	now := time.Now().UTC()
	score, total := 0, s.machine.Total()
	if res := s.machine.Result(); res != nil {
		score, total = res.Score, res.Total
	}
	// The attempt shares the session's id: one gate run, one audit row,
	// and a re-enqueued write stays idempotent.
	return &models.GateAttempt{
		ID:          s.ID,
		ProfileID:   s.ProfileID,
		GateType:    s.GateType,
		SourceRef:   s.SourceRef,
		Answers:     s.machine.Answers(),
		Score:       score,
		Total:       total,
		Passed:      passed,
		CompletedAt: now,
		CreatedAt:   now,
	}
}
