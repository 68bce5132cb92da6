package gate

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/readgate/readgate/internal/errors"
	"github.com/readgate/readgate/internal/logger"
	"github.com/readgate/readgate/internal/models"
	"github.com/readgate/readgate/internal/oracle"
	"github.com/readgate/readgate/internal/quiz"
	"github.com/readgate/readgate/internal/reader"
	"github.com/readgate/readgate/internal/session"
	"github.com/readgate/readgate/internal/telemetry"
)

// Phase names the orchestrator's position in the gate sequence.
type Phase string

const (
	PhaseResolvingSource Phase = "resolving_source"
	PhaseGenerating      Phase = "generating"
	PhaseReading         Phase = "reading"
	PhaseQuiz            Phase = "quiz"
	PhasePassed          Phase = "passed"
	PhaseFailed          Phase = "failed"
	PhaseCancelled       Phase = "cancelled"
)

// AttemptRecorder persists the immutable audit record of a finished gate
// run. Implementations are expected to be asynchronous; recording must
// never block or fail the gate outcome.
type AttemptRecorder interface {
	Record(ctx context.Context, attempt *models.GateAttempt)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, *models.GateAttempt) {}

// Request describes one gate run.
type Request struct {
	ProfileID int64
	GateType  models.GateType

	// SourceURL anchors the quiz on an external article. The reading
	// tracker is required on this path.
	SourceURL string

	// OwnText is the reshare-of-own-text variant: questions are anchored
	// on the user's prior writing, with a count that scales with its
	// length. Mutually exclusive with SourceURL.
	OwnText string

	Title        string
	ForceRefresh bool
	TestMode     bool

	// OnSuccess and OnCancel resolve the gated action. Exactly one of them
	// fires, exactly once, per session.
	OnSuccess func(ctx context.Context, s *Session)
	OnCancel  func(ctx context.Context, s *Session)
}

func (r Request) validate() error {
	if !r.GateType.Valid() {
		return apperrors.NewValidationError("gate_type", "must be share, composer or comment")
	}
	hasURL := strings.TrimSpace(r.SourceURL) != ""
	hasText := strings.TrimSpace(r.OwnText) != ""
	if hasURL == hasText {
		return apperrors.NewValidationError("source", "exactly one of source_url or own_text is required")
	}
	return nil
}

// Config tunes the orchestrator.
type Config struct {
	DefaultQuestionCount    int
	ReshareWordsPerQuestion int
	MinQuestions            int
	MaxQuestions            int
	ErrorBudget             int
	Reader                  reader.Config
}

func (c Config) withDefaults() Config {
	if c.DefaultQuestionCount <= 0 {
		c.DefaultQuestionCount = 3
	}
	if c.ReshareWordsPerQuestion <= 0 {
		c.ReshareWordsPerQuestion = 120
	}
	if c.MinQuestions <= 0 {
		c.MinQuestions = 2
	}
	if c.MaxQuestions < c.MinQuestions {
		c.MaxQuestions = 5
	}
	return c
}

// Orchestrator sequences resolve source -> generate questions -> read ->
// quiz -> resolve action. It owns the error taxonomy: every branch ends in
// exactly one of proceed, retryable error, or cancel. There is no branch
// that silently allows the action.
type Orchestrator struct {
	cfg      Config
	oracle   oracle.ClientInterface
	guard    *session.Guard
	sink     telemetry.Sink
	recorder AttemptRecorder
	log      *logger.Logger
}

// New builds an orchestrator. Guard and recorder may be nil (direct calls,
// discarded audit records); the oracle client is mandatory.
func New(client oracle.ClientInterface, guard *session.Guard, recorder AttemptRecorder, sink telemetry.Sink, cfg Config) *Orchestrator {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		oracle:   client,
		guard:    guard,
		sink:     sink,
		recorder: recorder,
		log:      logger.Default().WithPrefix("gate"),
	}
}

// Session is one live gate run. It owns the tracker and the quiz machine
// for its lifetime and is safe for concurrent use.
type Session struct {
	ID        string
	ProfileID int64
	GateType  models.GateType
	SourceRef string

	orc     *Orchestrator
	tracker *reader.Tracker
	machine *quiz.Machine

	// requireReading gates answer submission behind the tracker unlock.
	requireReading bool

	onSuccess func(ctx context.Context, s *Session)
	onCancel  func(ctx context.Context, s *Session)

	mu       sync.Mutex
	phase    Phase
	resolved bool
}

// Start runs the gate sequence up to the first question. On a
// content-quality failure it returns a classified error the caller can
// present as a retryable state; ForceRefresh on the next attempt bypasses
// the oracle's cache.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Session, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx).WithPrefix("gate").WithField("gate_type", string(req.GateType))
	log.Info("gate started: force_refresh=%v", req.ForceRefresh)
	o.sink.Emit(telemetry.Event{Name: telemetry.EventGateStarted, Fields: map[string]any{
		"profile_id": req.ProfileID,
		"gate_type":  string(req.GateType),
	}})

	var (
		genReq    oracle.GenerateRequest
		sourceRef string
		content   string
	)
	if req.OwnText != "" {
		// Reshare-of-own-text: no external source to anchor against, so
		// the question count scales with the original text instead.
		words := len(strings.Fields(req.OwnText))
		genReq = oracle.GenerateRequest{
			Title:         req.Title,
			RawText:       req.OwnText,
			QuestionCount: o.questionCountForWords(words),
			TestMode:      req.TestMode,
			ForceRefresh:  req.ForceRefresh,
		}
		sourceRef = "own-text"
	} else {
		preview, err := o.fetchPreview(ctx, req.SourceURL)
		if err != nil {
			log.Warn("source resolution failed: %v", err)
			return nil, err
		}
		genReq = oracle.GenerateRequest{
			Title:         preview.Title,
			SourceRef:     preview.SourceRef,
			QuestionCount: o.cfg.DefaultQuestionCount,
			TestMode:      req.TestMode,
			ForceRefresh:  req.ForceRefresh,
		}
		sourceRef = preview.SourceRef
		content = preview.Content
	}

	set, err := o.generate(ctx, genReq)
	if err != nil {
		log.Warn("question generation failed: %v", err)
		return nil, err
	}

	s := &Session{
		ID:        uuid.NewString(),
		ProfileID: req.ProfileID,
		GateType:  req.GateType,
		SourceRef: sourceRef,
		orc:       o,
		phase:     PhaseQuiz,
	}

	if content != "" {
		tracker, terr := reader.NewTrackerFromText(content, o.cfg.Reader, o.sink)
		if terr != nil {
			if errors.Is(terr, reader.ErrNoBlocks) {
				// Un-gateable content is a quality problem, not a free pass.
				return nil, apperrors.NewInsufficientContentError(sourceRef)
			}
			return nil, apperrors.NewInternalError(terr)
		}
		s.tracker = tracker
		s.requireReading = true
		s.phase = PhaseReading
	}

	machine, err := quiz.NewMachine(set, quiz.Deps{
		Oracle:      o.oracle,
		Guard:       o.guard,
		Sink:        o.sink,
		ErrorBudget: o.cfg.ErrorBudget,
	})
	if err != nil {
		if s.tracker != nil {
			s.tracker.Close()
		}
		log.Error("question set rejected: %v", err)
		return nil, err
	}
	s.machine = machine

	// Callbacks are resolved through the session so they fire exactly once.
	s.onSuccess = req.OnSuccess
	s.onCancel = req.OnCancel

	log.Info("gate session %s ready: questions=%d, reading_required=%v", s.ID, machine.Total(), s.requireReading)
	return s, nil
}

func (o *Orchestrator) questionCountForWords(words int) int {
	n := words / o.cfg.ReshareWordsPerQuestion
	if n < o.cfg.MinQuestions {
		n = o.cfg.MinQuestions
	}
	if n > o.cfg.MaxQuestions {
		n = o.cfg.MaxQuestions
	}
	return n
}

func (o *Orchestrator) fetchPreview(ctx context.Context, url string) (*oracle.SourcePreview, error) {
	var preview *oracle.SourcePreview
	err := o.guarded(ctx, func(ctx context.Context) error {
		p, perr := o.oracle.FetchSourcePreview(ctx, url)
		if perr != nil {
			return perr
		}
		preview = p
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return preview, nil
}

func (o *Orchestrator) generate(ctx context.Context, req oracle.GenerateRequest) (*oracle.QuestionSet, error) {
	var set *oracle.QuestionSet
	err := o.guarded(ctx, func(ctx context.Context) error {
		s, serr := o.oracle.GenerateQuestionSet(ctx, req)
		if serr != nil {
			return serr
		}
		set = s
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return set, nil
}

func (o *Orchestrator) guarded(ctx context.Context, fn func(ctx context.Context) error) error {
	if o.guard == nil {
		return fn(ctx)
	}
	return o.guard.WithFreshSession(ctx, fn)
}

// classify folds any outbound failure into the gate error taxonomy so
// callers see exactly one of its codes.
func classify(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Status == 401 || appErr.Status == 403 {
			return apperrors.NewTransportError(err)
		}
		return err
	}
	return apperrors.NewTransportError(err)
}

// IsRetryable reports whether the gate failure is worth offering the user
// a retry for, possibly with a cache-bypassing force refresh.
func IsRetryable(err error) bool {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.IsContentQuality() || appErr.IsTransport()
}
