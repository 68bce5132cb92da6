package telemetry

import (
	"time"

	"github.com/readgate/readgate/internal/logger"
)

// Event names emitted by the gate subsystem.
const (
	EventViewOpen        = "reading_view_open"
	EventBlockRead       = "reading_block_read"
	EventUnlockReached   = "reading_unlock_reached"
	EventScrollViolation = "reading_scroll_violation"
	EventQuizStep        = "quiz_step"
	EventQuizTerminal    = "quiz_terminal"
	EventGateStarted     = "gate_started"
	EventGateResolved    = "gate_resolved"
)

// Event is one telemetry data point.
type Event struct {
	Name   string
	At     time.Time
	Fields map[string]any
}

// Sink receives telemetry events. Implementations must be safe for
// concurrent use and must never block or fail the caller: delivery is
// fire-and-forget and provably inert to gate outcomes.
type Sink interface {
	Emit(e Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// LogSink writes events to the application log at DEBUG level.
type LogSink struct {
	Log *logger.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{Log: logger.Default().WithPrefix("telemetry")}
}

func (s *LogSink) Emit(e Event) {
	log := s.Log
	if log == nil {
		log = logger.Default().WithPrefix("telemetry")
	}
	log.WithFields(e.Fields).Debug("event %s", e.Name)
}

// ChanSink buffers events onto a channel for asynchronous delivery.
// When the buffer is full the event is dropped rather than blocking.
type ChanSink struct {
	C chan Event
}

func NewChanSink(size int) *ChanSink {
	if size <= 0 {
		size = 256
	}
	return &ChanSink{C: make(chan Event, size)}
}

func (s *ChanSink) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case s.C <- e:
	default:
		// Dropping is acceptable: telemetry must never block gate state.
	}
}
