package reader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/readgate/readgate/internal/logger"
	"github.com/readgate/readgate/internal/models"
	"github.com/readgate/readgate/internal/telemetry"
)

// ErrNoBlocks is returned when segmentation yields no blocks. Zero blocks
// means the content cannot anchor a comprehension gate: the caller must
// surface insufficient content, not treat the view as read.
var ErrNoBlocks = errors.New("reader: content yielded no blocks")

// unlockEpsilon absorbs float error in the threshold-minus-grace
// comparison so a read ratio of exactly 0.70 unlocks at 0.8-0.1.
const unlockEpsilon = 1e-9

// Config carries the per-deployment reading policy.
type Config struct {
	MinDwellBaseMs            int
	DwellPer100wMs            int
	MaxDwellMs                int
	CoverageThreshold         float64
	UnlockThreshold           float64
	GraceRatio                float64
	MaxScrollVelocityPxPerSec float64
	VisibleAheadBlocks        int

	// SampleInterval is the dwell sampling period. Dwell accumulates in
	// whole ticks, never wall-clock deltas, so a suspended process cannot
	// silently bank reading time.
	SampleInterval time.Duration

	// ScrollViolationDebounce bounds how often a violation event fires.
	ScrollViolationDebounce time.Duration

	// AttritionCooldownTicks is how many compliant ticks must pass after a
	// violation before dwell accumulates again.
	AttritionCooldownTicks int
}

func (c Config) withDefaults() Config {
	if c.MinDwellBaseMs <= 0 {
		c.MinDwellBaseMs = 1500
	}
	if c.DwellPer100wMs <= 0 {
		c.DwellPer100wMs = 4000
	}
	if c.MaxDwellMs <= 0 {
		c.MaxDwellMs = 20000
	}
	if c.CoverageThreshold <= 0 {
		c.CoverageThreshold = 0.5
	}
	if c.UnlockThreshold <= 0 {
		c.UnlockThreshold = 0.8
	}
	if c.MaxScrollVelocityPxPerSec <= 0 {
		c.MaxScrollVelocityPxPerSec = 3000
	}
	if c.VisibleAheadBlocks <= 0 {
		c.VisibleAheadBlocks = 2
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = 100 * time.Millisecond
	}
	if c.ScrollViolationDebounce <= 0 {
		c.ScrollViolationDebounce = time.Second
	}
	if c.AttritionCooldownTicks <= 0 {
		c.AttritionCooldownTicks = 20
	}
	return c
}

// Observer abstracts the viewport-intersection source so the dwell and
// coverage logic is testable without a rendering surface. Implementations
// call report with the block's current coverage in [0, 1].
type Observer interface {
	Subscribe(blockID string, report func(coverage float64)) (cancel func())
}

// Tracker measures genuine attention to one content view. It exclusively
// owns its ContentBlock set for the lifetime of the view.
type Tracker struct {
	mu  sync.Mutex
	cfg Config
	log *logger.Logger

	blocks []*models.ContentBlock
	byID   map[string]*models.ContentBlock
	sink   telemetry.Sink

	readBlocks         int
	highestEngaged     int
	scrollVelocity     float64
	scrollTooFast      bool
	attritionTicksLeft int
	lastScrollOffset   float64
	lastScrollAt       time.Time
	hasScrollSample    bool
	lastViolationEmit  time.Time

	unlockEmitted bool
	closed        bool
	unsubscribes  []func()
}

// NewTracker builds a tracker over pre-segmented blocks. Returns
// ErrNoBlocks for an empty set.
func NewTracker(blocks []*models.ContentBlock, cfg Config, sink telemetry.Sink) (*Tracker, error) {
	if len(blocks) == 0 {
		return nil, ErrNoBlocks
	}
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	cfg = cfg.withDefaults()

	byID := make(map[string]*models.ContentBlock, len(blocks))
	for _, b := range blocks {
		byID[b.ID] = b
	}

	t := &Tracker{
		cfg:            cfg,
		log:            logger.Default().WithPrefix("reader"),
		blocks:         blocks,
		byID:           byID,
		sink:           sink,
		highestEngaged: -1,
	}
	sink.Emit(telemetry.Event{Name: telemetry.EventViewOpen, Fields: map[string]any{
		"total_blocks": len(blocks),
	}})
	return t, nil
}

// NewTrackerFromText segments raw content and builds a tracker over it.
func NewTrackerFromText(raw string, cfg Config, sink telemetry.Sink) (*Tracker, error) {
	return NewTracker(Segment(raw, cfg), cfg, sink)
}

// Attach subscribes every block to the viewport observer. The
// subscriptions are torn down by Close.
func (t *Tracker) Attach(obs Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	for _, b := range t.blocks {
		id := b.ID
		cancel := obs.Subscribe(id, func(coverage float64) {
			t.ReportCoverage(id, coverage)
		})
		t.unsubscribes = append(t.unsubscribes, cancel)
	}
}

// ReportCoverage records a viewport-intersection sample for one block.
// Reports for blocks implausibly far ahead of the reading frontier are
// ignored: a client claiming the whole document is on screen at once does
// not get dwell credit for it.
func (t *Tracker) ReportCoverage(blockID string, coverage float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	b, ok := t.byID[blockID]
	if !ok {
		return
	}
	if coverage < 0 {
		coverage = 0
	}
	if coverage > 1 {
		coverage = 1
	}
	if coverage > 0 && b.Index > t.highestEngaged+t.cfg.VisibleAheadBlocks {
		t.log.Debug("ignoring coverage report beyond frontier: block=%s index=%d", blockID, b.Index)
		return
	}

	b.Coverage = coverage
	wasVisible := b.IsVisible
	b.IsVisible = coverage > 0
	if b.IsVisible {
		now := time.Now()
		if !wasVisible && b.FirstSeenAt == nil {
			seen := now
			b.FirstSeenAt = &seen
		}
		last := now
		b.LastSeenAt = &last
	}
}

// Tick advances the sampler by exactly one period. Every block that is
// visible at or above the coverage threshold earns one period of dwell,
// unless scroll attrition is active. Dwell is monotonic; the read latch
// flips false to true exactly once and never reverts.
func (t *Tracker) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	if t.attritionTicksLeft > 0 {
		t.attritionTicksLeft--
		return
	}

	stepMs := int(t.cfg.SampleInterval / time.Millisecond)
	for _, b := range t.blocks {
		if !b.IsVisible || b.Coverage < t.cfg.CoverageThreshold {
			continue
		}
		b.AccumulatedDwellMs += stepMs
		if b.Index > t.highestEngaged {
			t.highestEngaged = b.Index
		}
		if !b.IsRead && b.AccumulatedDwellMs >= b.RequiredDwellMs {
			b.IsRead = true
			t.readBlocks++
			t.sink.Emit(telemetry.Event{Name: telemetry.EventBlockRead, Fields: map[string]any{
				"block_id":  b.ID,
				"index":     b.Index,
				"dwell_ms":  b.AccumulatedDwellMs,
				"word_count": b.WordCount,
			}})
		}
	}

	if !t.unlockEmitted && t.canUnlockLocked() {
		t.unlockEmitted = true
		t.sink.Emit(telemetry.Event{Name: telemetry.EventUnlockReached, Fields: map[string]any{
			"read_blocks":  t.readBlocks,
			"total_blocks": len(t.blocks),
		}})
	}
}

// HandleScroll records a scroll sample. Velocity above the configured
// ceiling latches attrition: dwell stops accumulating for a cooldown so
// fast-scrolling past content earns nothing.
func (t *Tracker) HandleScroll(offsetPx float64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	if !t.hasScrollSample {
		t.hasScrollSample = true
		t.lastScrollOffset = offsetPx
		t.lastScrollAt = at
		return
	}

	dt := at.Sub(t.lastScrollAt).Seconds()
	if dt <= 0 {
		return
	}
	delta := offsetPx - t.lastScrollOffset
	if delta < 0 {
		delta = -delta
	}
	t.scrollVelocity = delta / dt
	t.lastScrollOffset = offsetPx
	t.lastScrollAt = at

	if t.scrollVelocity > t.cfg.MaxScrollVelocityPxPerSec {
		t.scrollTooFast = true
		t.attritionTicksLeft = t.cfg.AttritionCooldownTicks
		if at.Sub(t.lastViolationEmit) >= t.cfg.ScrollViolationDebounce {
			t.lastViolationEmit = at
			t.sink.Emit(telemetry.Event{Name: telemetry.EventScrollViolation, Fields: map[string]any{
				"velocity_px_per_sec": t.scrollVelocity,
			}})
		}
	} else {
		t.scrollTooFast = false
	}
}

// Progress returns a point-in-time aggregate over all blocks.
func (t *Tracker) Progress() models.ReadingProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return models.ReadingProgress{
		TotalBlocks:           len(t.blocks),
		ReadBlocks:            t.readBlocks,
		ReadRatio:             t.readRatioLocked(),
		CanUnlock:             t.canUnlockLocked(),
		CurrentScrollVelocity: t.scrollVelocity,
		IsScrollingTooFast:    t.scrollTooFast,
		ScrollAttritionActive: t.attritionTicksLeft > 0,
	}
}

// Blocks returns a point-in-time copy of the block set, safe to read and
// serialize while the sampler goroutine is ticking.
func (t *Tracker) Blocks() []*models.ContentBlock {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*models.ContentBlock, len(t.blocks))
	for i, b := range t.blocks {
		copied := *b
		out[i] = &copied
	}
	return out
}

func (t *Tracker) readRatioLocked() float64 {
	if len(t.blocks) == 0 {
		return 0
	}
	return float64(t.readBlocks) / float64(len(t.blocks))
}

func (t *Tracker) canUnlockLocked() bool {
	bar := t.cfg.UnlockThreshold - t.cfg.GraceRatio - unlockEpsilon
	return t.readRatioLocked() >= bar
}

// Run drives the sampler with a real ticker until ctx is cancelled or the
// tracker is closed.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if closed {
				return
			}
			t.Tick()
		}
	}
}

// Close tears the tracker down. All later ticks, coverage reports, and
// scroll samples are no-ops, so no delayed callback can mutate state after
// the view is gone.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	unsubs := t.unsubscribes
	t.unsubscribes = nil
	t.mu.Unlock()

	for _, cancel := range unsubs {
		if cancel != nil {
			cancel()
		}
	}
}
