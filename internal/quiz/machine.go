package quiz

import (
	"context"
	"errors"
	"fmt"
	"sync"

	apperrors "github.com/readgate/readgate/internal/errors"
	"github.com/readgate/readgate/internal/logger"
	"github.com/readgate/readgate/internal/models"
	"github.com/readgate/readgate/internal/oracle"
	"github.com/readgate/readgate/internal/session"
	"github.com/readgate/readgate/internal/telemetry"
)

// State of the quiz machine.
type State string

const (
	StateAwaitingAnswer State = "awaiting_answer"
	StateSubmitting     State = "submitting"
	StatePassed         State = "passed"
	StateFailed         State = "failed"
)

// ErrClosed is returned when a submission lands after the session was
// torn down. The late oracle response is discarded, never applied.
var ErrClosed = errors.New("quiz: session closed")

// ErrSubmissionInFlight enforces strict step ordering: step i+1 cannot be
// submitted before step i's correctness is known.
var ErrSubmissionInFlight = errors.New("quiz: submission already in flight")

// DefaultErrorBudget is the number of wrong answers that fails a session.
const DefaultErrorBudget = 2

// StepOutcome reports what one submission did to the session.
type StepOutcome struct {
	IsCorrect bool
	Advanced  bool
	Done      bool
	State     State
	Result    *models.QuizResult
}

// Deps wires the machine to its collaborators.
type Deps struct {
	Oracle      oracle.ClientInterface
	Guard       *session.Guard
	Sink        telemetry.Sink
	ErrorBudget int
}

// Machine drives a one-question-at-a-time interrogation against the
// oracle. It never computes a verdict itself: per-step correctness and the
// final result both come from the remote side, and the machine fails
// closed whenever that side does not affirmatively grant a pass.
type Machine struct {
	mu  sync.Mutex
	log *logger.Logger

	oracle      oracle.ClientInterface
	guard       *session.Guard
	sink        telemetry.Sink
	errorBudget int

	qaID      string
	questions []models.QuizQuestion

	step         int
	answers      map[string]string
	wrongIndexes []int
	errorCount   int
	state        State
	result       *models.QuizResult
	lastCorrect  *bool
	submitting   bool
	closed       bool
}

// NewMachine validates the question set and builds a machine over it.
// A set the gate cannot run fails up front as MALFORMED_QUESTION_SET.
func NewMachine(set *oracle.QuestionSet, deps Deps) (*Machine, error) {
	if set == nil || set.QAID == "" {
		return nil, apperrors.NewMalformedQuestionSetError("missing session handle")
	}
	if len(set.Questions) == 0 {
		return nil, apperrors.NewMalformedQuestionSetError("no questions")
	}
	for i, q := range set.Questions {
		if q.ID == "" {
			return nil, apperrors.NewMalformedQuestionSetError(fmt.Sprintf("question %d has no id", i))
		}
		if len(q.Choices) < 2 {
			return nil, apperrors.NewMalformedQuestionSetError(fmt.Sprintf("question %s has fewer than two choices", q.ID))
		}
	}
	if deps.Oracle == nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("quiz machine requires an oracle client"))
	}
	if deps.Sink == nil {
		deps.Sink = telemetry.NopSink{}
	}
	if deps.ErrorBudget <= 0 {
		deps.ErrorBudget = DefaultErrorBudget
	}

	return &Machine{
		log:         logger.Default().WithPrefix("quiz").WithField("qa_id", set.QAID),
		oracle:      deps.Oracle,
		guard:       deps.Guard,
		sink:        deps.Sink,
		errorBudget: deps.ErrorBudget,
		qaID:        set.QAID,
		questions:   set.Questions,
		answers:     make(map[string]string, len(set.Questions)),
		state:       StateAwaitingAnswer,
	}, nil
}

// Current returns the question awaiting an answer, if any.
func (m *Machine) Current() (models.QuizQuestion, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminalLocked() || m.step >= len(m.questions) {
		return models.QuizQuestion{}, false
	}
	return m.questions[m.step], true
}

// Step returns the zero-based index of the current question.
func (m *Machine) Step() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step
}

// ErrorCount returns the wrong answers so far across the whole session.
func (m *Machine) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorCount
}

// State returns the machine state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Result returns the terminal result, or nil before one exists.
func (m *Machine) Result() *models.QuizResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

// LastCorrect returns the feedback from the most recent step, if any.
func (m *Machine) LastCorrect() *bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCorrect
}

func (m *Machine) terminalLocked() bool {
	return m.state == StatePassed || m.state == StateFailed
}

func (m *Machine) outcomeLocked(correct, advanced bool) *StepOutcome {
	return &StepOutcome{
		IsCorrect: correct,
		Advanced:  advanced,
		Done:      m.terminalLocked(),
		State:     m.state,
		Result:    m.result,
	}
}

// Submit sends the current question's chosen answer to the oracle. A wrong
// answer keeps the session on the same question; a second wrong answer
// anywhere in the session fails it outright without a final commit. Once
// every question is answered correctly, the final commit produces the
// authoritative verdict. Transport errors are returned as errors and never
// counted as wrong answers.
func (m *Machine) Submit(ctx context.Context, choiceID string) (*StepOutcome, error) {
	m.mu.Lock()
	if m.closed || m.terminalLocked() {
		// Idempotent after terminal: a double-tap or late completion
		// cannot re-drive the session.
		out := m.outcomeLocked(false, false)
		m.mu.Unlock()
		return out, nil
	}
	if m.submitting {
		m.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	question := m.questions[m.step]
	stepIndex := m.step
	m.submitting = true
	m.state = StateSubmitting
	m.mu.Unlock()

	var res *oracle.StepResult
	err := m.guarded(ctx, func(ctx context.Context) error {
		r, rerr := m.oracle.ValidateStep(ctx, m.qaID, question.ID, choiceID)
		if rerr != nil {
			return rerr
		}
		res = r
		return nil
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitting = false

	if m.closed {
		return nil, ErrClosed
	}
	if err != nil {
		// Transport or auth failure: the step is unanswered, not wrong.
		m.state = StateAwaitingAnswer
		return nil, err
	}
	if res == nil {
		m.state = StateAwaitingAnswer
		return nil, apperrors.NewTransportError(fmt.Errorf("empty step result for question %s", question.ID))
	}

	correct := res.IsCorrect
	m.lastCorrect = &correct
	m.sink.Emit(telemetry.Event{Name: telemetry.EventQuizStep, Fields: map[string]any{
		"qa_id":      m.qaID,
		"step":       stepIndex,
		"is_correct": correct,
	}})

	if !correct {
		m.errorCount++
		m.wrongIndexes = append(m.wrongIndexes, stepIndex)
		if m.errorCount >= m.errorBudget {
			m.log.Info("error budget exhausted at step %d", stepIndex)
			m.failLocked(&models.QuizResult{
				Passed:       false,
				Score:        len(m.answers),
				Total:        len(m.questions),
				WrongIndexes: append([]int(nil), m.wrongIndexes...),
			})
			return m.outcomeLocked(false, false), nil
		}
		// Same question again: a genuine retry, not a re-roll.
		m.state = StateAwaitingAnswer
		return m.outcomeLocked(false, false), nil
	}

	m.answers[question.ID] = choiceID
	m.step++
	if m.step < len(m.questions) {
		m.state = StateAwaitingAnswer
		return m.outcomeLocked(true, true), nil
	}

	return m.commitLocked(ctx)
}

// commitLocked runs the final commit. Called with mu held; drops the lock
// for the network round trip.
func (m *Machine) commitLocked(ctx context.Context) (*StepOutcome, error) {
	answers := make(map[string]string, len(m.answers))
	for k, v := range m.answers {
		answers[k] = v
	}
	m.state = StateSubmitting
	m.submitting = true
	m.mu.Unlock()

	var verdict *oracle.FinalResult
	err := m.guarded(ctx, func(ctx context.Context) error {
		v, verr := m.oracle.CommitFinal(ctx, m.qaID, answers)
		if verr != nil {
			return verr
		}
		verdict = v
		return nil
	})

	m.mu.Lock()
	m.submitting = false

	if m.closed {
		return nil, ErrClosed
	}
	if err != nil {
		// Final commit is also where side effects are granted. A failed
		// commit therefore fails the session closed; it never defaults to
		// success.
		m.log.Warn("final commit failed, failing closed: %v", err)
		m.failLocked(nil)
		return m.outcomeLocked(true, false), err
	}
	if verdict == nil {
		m.log.Error("final commit returned a null verdict, failing closed")
		m.failLocked(nil)
		return m.outcomeLocked(true, false), apperrors.NewTransportError(fmt.Errorf("null verdict from final commit"))
	}

	m.result = &models.QuizResult{
		Passed:       verdict.Passed,
		Score:        verdict.Score,
		Total:        verdict.Total,
		WrongIndexes: verdict.WrongIndexes,
	}
	if m.result.WrongIndexes == nil {
		m.result.WrongIndexes = []int{}
	}
	if verdict.Passed {
		m.state = StatePassed
	} else {
		m.state = StateFailed
	}
	m.sink.Emit(telemetry.Event{Name: telemetry.EventQuizTerminal, Fields: map[string]any{
		"qa_id":  m.qaID,
		"passed": verdict.Passed,
		"score":  verdict.Score,
		"total":  verdict.Total,
	}})
	return m.outcomeLocked(true, false), nil
}

func (m *Machine) failLocked(result *models.QuizResult) {
	m.state = StateFailed
	if m.result == nil {
		m.result = result
	}
	m.sink.Emit(telemetry.Event{Name: telemetry.EventQuizTerminal, Fields: map[string]any{
		"qa_id":  m.qaID,
		"passed": false,
	}})
}

// guarded routes a call through the session resilience layer when one is
// wired, so a stale credential earns a refresh-and-retry instead of being
// misread as a wrong answer.
func (m *Machine) guarded(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.guard == nil {
		return fn(ctx)
	}
	return m.guard.WithFreshSession(ctx, fn)
}

// Answers returns a copy of the accepted answers so far.
func (m *Machine) Answers() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.answers))
	for k, v := range m.answers {
		out[k] = v
	}
	return out
}

// Total returns the number of questions in the session.
func (m *Machine) Total() int {
	return len(m.questions)
}

// Close tears the session down. It reports whether this call was the one
// that closed it, so a double-tap cannot double-invoke a gated action.
func (m *Machine) Close() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.closed = true
	return true
}
