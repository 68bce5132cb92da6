package services

import (
	"context"
	"sync"
	"time"

	"github.com/readgate/readgate/internal/errors"
	"github.com/readgate/readgate/internal/gate"
	"github.com/readgate/readgate/internal/logger"
	"github.com/readgate/readgate/internal/models"
	"github.com/readgate/readgate/internal/quiz"
	"github.com/readgate/readgate/internal/repository"
	"github.com/readgate/readgate/internal/worker"
)

// StartGateRequest begins a gate run for a sensitive action.
type StartGateRequest struct {
	ProfileID    int64
	GateType     models.GateType
	SourceURL    string
	OwnText      string
	Title        string
	ForceRefresh bool

	// TestMode asks the oracle for a deterministic question set, for
	// end-to-end testing against a stub oracle.
	TestMode bool

	// DraftBody is the post published automatically when the gate passes.
	DraftBody string
}

// ReadingReport carries one batch of viewport samples from the client.
type ReadingReport struct {
	Coverage map[string]float64
	ScrollPx *float64
}

// GateView is the client-facing snapshot of a gate session. It never
// contains correct-answer information.
type GateView struct {
	SessionID       string                 `json:"session_id"`
	Phase           gate.Phase             `json:"phase"`
	RequiresReading bool                   `json:"requires_reading"`
	Blocks          []*models.ContentBlock `json:"blocks,omitempty"`
	Progress        models.ReadingProgress `json:"progress"`
	Question        *models.QuizQuestion   `json:"question,omitempty"`
	QuizState       quiz.State             `json:"quiz_state"`
	Result          *models.QuizResult     `json:"result,omitempty"`
}

// StepView is the response to one answer submission. Like the oracle's
// step response, it carries correctness only.
type StepView struct {
	IsCorrect bool               `json:"is_correct"`
	Done      bool               `json:"done"`
	Phase     gate.Phase         `json:"phase"`
	Result    *models.QuizResult `json:"result,omitempty"`
}

// GateService bridges the HTTP surface to the gate orchestrator and owns
// the set of live sessions.
type GateService interface {
	StartGate(ctx context.Context, req StartGateRequest) (*GateView, error)
	GetSession(ctx context.Context, sessionID string) (*GateView, error)
	ReportReading(ctx context.Context, sessionID string, report ReadingReport) (*models.ReadingProgress, error)
	SubmitAnswer(ctx context.Context, sessionID, choiceID string) (*StepView, error)
	CloseSession(ctx context.Context, sessionID string) error
	ListAttempts(ctx context.Context, filter models.AttemptFilter) ([]models.GateAttempt, int, error)
	Shutdown()
}

type liveSession struct {
	session *gate.Session
	cancel  context.CancelFunc
	draft   models.Post
}

type gateService struct {
	orc      *gate.Orchestrator
	feed     FeedService
	attempts repository.AttemptRepository

	mu       sync.Mutex
	sessions map[string]*liveSession
}

// NewGateService creates a new GateService. The orchestrator's attempt
// recorder should be built with NewAttemptRecorder so audit writes run on
// the worker pool.
func NewGateService(orc *gate.Orchestrator, feed FeedService, attempts repository.AttemptRepository) GateService {
	return &gateService{
		orc:      orc,
		feed:     feed,
		attempts: attempts,
		sessions: make(map[string]*liveSession),
	}
}

func (s *gateService) StartGate(ctx context.Context, req StartGateRequest) (*GateView, error) {
	log := logger.FromContext(ctx)

	if _, err := s.feed.GetProfile(ctx, req.ProfileID); err != nil {
		return nil, err
	}

	session, err := s.orc.Start(ctx, gate.Request{
		ProfileID:    req.ProfileID,
		GateType:     req.GateType,
		SourceURL:    req.SourceURL,
		OwnText:      req.OwnText,
		Title:        req.Title,
		ForceRefresh: req.ForceRefresh,
		TestMode:     req.TestMode,
		OnSuccess:    s.onGatePassed,
		OnCancel:     s.onGateCancelled,
	})
	if err != nil {
		return nil, err
	}

	trackerCtx, cancel := context.WithCancel(context.Background())
	live := &liveSession{
		session: session,
		cancel:  cancel,
		draft: models.Post{
			ProfileID: req.ProfileID,
			Body:      req.DraftBody,
			LinkURL:   req.SourceURL,
		},
	}
	s.mu.Lock()
	s.sessions[session.ID] = live
	s.mu.Unlock()

	// The dwell sampler runs server-side so a client cannot fake time.
	go session.RunTracker(trackerCtx)

	log.Info("gate session started: id=%s, type=%s", session.ID, req.GateType)
	return s.view(session), nil
}

func (s *gateService) lookup(sessionID string) (*liveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live, ok := s.sessions[sessionID]
	if !ok {
		return nil, errors.NewNotFoundError("gate session", sessionID)
	}
	return live, nil
}

func (s *gateService) GetSession(ctx context.Context, sessionID string) (*GateView, error) {
	live, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return s.view(live.session), nil
}

func (s *gateService) ReportReading(ctx context.Context, sessionID string, report ReadingReport) (*models.ReadingProgress, error) {
	live, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	for blockID, coverage := range report.Coverage {
		live.session.ReportCoverage(blockID, coverage)
	}
	if report.ScrollPx != nil {
		live.session.HandleScroll(*report.ScrollPx, time.Now())
	}

	progress := live.session.Progress()
	return &progress, nil
}

func (s *gateService) SubmitAnswer(ctx context.Context, sessionID, choiceID string) (*StepView, error) {
	live, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if choiceID == "" {
		return nil, errors.NewValidationError("choice_id", "cannot be empty")
	}

	out, err := live.session.SubmitAnswer(ctx, choiceID)
	if err != nil {
		return nil, err
	}

	if out.Done {
		s.teardown(sessionID)
	}
	return &StepView{
		IsCorrect: out.IsCorrect,
		Done:      out.Done,
		Phase:     live.session.Phase(),
		Result:    out.Result,
	}, nil
}

func (s *gateService) CloseSession(ctx context.Context, sessionID string) error {
	live, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	live.session.Close(ctx)
	s.teardown(sessionID)
	return nil
}

func (s *gateService) ListAttempts(ctx context.Context, filter models.AttemptFilter) ([]models.GateAttempt, int, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	attempts, err := s.attempts.List(ctx, filter)
	if err != nil {
		return nil, 0, errors.NewInternalError(err)
	}
	total, err := s.attempts.Count(ctx, filter)
	if err != nil {
		return nil, 0, errors.NewInternalError(err)
	}
	return attempts, total, nil
}

// Shutdown closes every live session. Pending quiz state is discarded;
// audit records for already-terminal sessions were enqueued at resolution.
func (s *gateService) Shutdown() {
	s.mu.Lock()
	live := make([]*liveSession, 0, len(s.sessions))
	for _, l := range s.sessions {
		live = append(live, l)
	}
	s.sessions = make(map[string]*liveSession)
	s.mu.Unlock()

	for _, l := range live {
		l.session.Close(context.Background())
		l.cancel()
	}
}

func (s *gateService) teardown(sessionID string) {
	s.mu.Lock()
	live, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if ok {
		live.cancel()
	}
}

// onGatePassed publishes the draft post for the resolved session.
func (s *gateService) onGatePassed(ctx context.Context, session *gate.Session) {
	log := logger.FromContext(ctx)

	s.mu.Lock()
	live, ok := s.sessions[session.ID]
	s.mu.Unlock()
	if !ok || live.draft.Body == "" {
		return
	}

	attempt := ""
	if res := session.Result(); res != nil && res.Passed {
		attempt = session.ID
	}
	post := live.draft
	post.AttemptID = attempt

	if _, err := s.feed.CreatePost(ctx, post); err != nil {
		log.Error("failed to publish gated post for session %s: %v", session.ID, err)
		return
	}
	log.Info("gated post published for session %s", session.ID)
}

func (s *gateService) onGateCancelled(ctx context.Context, session *gate.Session) {
	logger.FromContext(ctx).Debug("gate session %s resolved without action", session.ID)
}

func (s *gateService) view(session *gate.Session) *GateView {
	view := &GateView{
		SessionID:       session.ID,
		Phase:           session.Phase(),
		RequiresReading: session.RequiresReading(),
		Blocks:          session.Blocks(),
		Progress:        session.Progress(),
		QuizState:       session.QuizState(),
		Result:          session.Result(),
	}
	if q, err := session.CurrentQuestion(); err == nil {
		view.Question = &q
	}
	return view
}

// attemptRecorder hands audit writes to the worker pool so persistence
// never blocks a gate interaction.
type attemptRecorder struct {
	pool *worker.Pool
	repo repository.AttemptRepository
	log  *logger.Logger
}

// NewAttemptRecorder builds the async gate.AttemptRecorder.
func NewAttemptRecorder(pool *worker.Pool, repo repository.AttemptRepository) gate.AttemptRecorder {
	return &attemptRecorder{
		pool: pool,
		repo: repo,
		log:  logger.Default().WithPrefix("audit"),
	}
}

func (r *attemptRecorder) Record(ctx context.Context, attempt *models.GateAttempt) {
	job := &worker.WriteAttemptJob{Repo: r.repo, Attempt: *attempt}
	if r.pool != nil && r.pool.TrySubmit(job) {
		return
	}
	// Queue full or no pool: write inline in the background rather than
	// lose the audit record.
	r.log.Warn("audit queue unavailable, writing attempt %s directly", attempt.ID)
	go func() {
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.repo.Insert(wctx, *attempt); err != nil {
			r.log.Error("failed to persist attempt %s: %v", attempt.ID, err)
		}
	}()
}
