package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/readgate/readgate/internal/errors"
	"github.com/readgate/readgate/internal/logger"
)

// State of the resilience layer.
type State int

const (
	Ready State = iota
	Verifying
)

func (s State) String() string {
	if s == Verifying {
		return "verifying"
	}
	return "ready"
}

// Config tunes the guard.
type Config struct {
	// FailSafe bounds every wait on a credential refresh. The caller is
	// always unblocked within this window, refresh resolved or not.
	FailSafe time.Duration

	// Cooldown suppresses redundant refreshes shortly after a successful
	// one, so a burst of resume signals cannot cause a refresh storm.
	Cooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailSafe <= 0 {
		c.FailSafe = 6 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

// RefreshFunc performs one credential refresh against the oracle.
type RefreshFunc func(ctx context.Context) error

// Guard guarantees that outbound oracle calls run with a known-fresh
// credential. Concurrent callers share a single in-flight refresh, every
// wait is bounded, and an auth-shaped call failure earns exactly one
// refresh-then-retry so it is never mistaken for a wrong answer.
type Guard struct {
	cfg     Config
	refresh RefreshFunc
	breaker *gobreaker.CircuitBreaker
	log     *logger.Logger

	mu          sync.Mutex
	state       State
	suspect     bool
	inflight    chan struct{}
	inflightErr error
	lastSuccess time.Time
}

// NewGuard builds a guard around the given refresh function.
func NewGuard(refresh RefreshFunc, cfg Config) *Guard {
	cfg = cfg.withDefaults()
	g := &Guard{
		cfg:     cfg,
		refresh: refresh,
		log:     logger.Default().WithPrefix("session"),
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "oracle",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.Warn("circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	return g
}

// State returns the current guard state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// MarkSuspect flags the local credential as possibly stale, e.g. on
// process resume from background. The next guarded call verifies first.
func (g *Guard) MarkSuspect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suspect = true
	g.log.Debug("credential marked suspect")
}

// EnsureReady blocks until the credential is known-fresh, an in-flight
// refresh fails, or the fail-safe window elapses. It never blocks longer
// than the fail-safe.
func (g *Guard) EnsureReady(ctx context.Context) error {
	g.mu.Lock()
	if g.inflight == nil {
		if !g.suspect {
			g.mu.Unlock()
			return nil
		}
		if time.Since(g.lastSuccess) < g.cfg.Cooldown {
			// Recently refreshed: trust it and skip the round trip.
			g.suspect = false
			g.mu.Unlock()
			g.log.Debug("refresh skipped, within cooldown window")
			return nil
		}
		g.startRefreshLocked()
	}
	done := g.inflight
	g.mu.Unlock()

	select {
	case <-done:
		g.mu.Lock()
		err := g.inflightErr
		g.mu.Unlock()
		if err != nil {
			return apperrors.NewTransportError(fmt.Errorf("credential refresh: %w", err))
		}
		return nil
	case <-time.After(g.cfg.FailSafe):
		// The refresh keeps running; this caller is released so the UI
		// is never stuck behind it.
		g.mu.Lock()
		g.state = Ready
		g.mu.Unlock()
		g.log.Warn("credential refresh exceeded fail-safe of %s", g.cfg.FailSafe)
		return apperrors.NewTransportError(fmt.Errorf("credential refresh timed out after %s", g.cfg.FailSafe))
	case <-ctx.Done():
		return apperrors.NewTransportError(ctx.Err())
	}
}

// startRefreshLocked launches the singleton refresh. Callers must hold mu.
func (g *Guard) startRefreshLocked() {
	done := make(chan struct{})
	g.inflight = done
	g.inflightErr = nil
	g.state = Verifying
	g.log.Debug("starting credential refresh")

	go func() {
		rctx, cancel := context.WithTimeout(context.Background(), g.cfg.FailSafe)
		err := g.refresh(rctx)
		cancel()

		g.mu.Lock()
		g.inflightErr = err
		if err == nil {
			g.suspect = false
			g.lastSuccess = time.Now()
		}
		g.inflight = nil
		g.state = Ready
		g.mu.Unlock()
		close(done)

		if err != nil {
			g.log.Warn("credential refresh failed: %v", err)
		} else {
			g.log.Debug("credential refresh completed")
		}
	}()
}

// WithFreshSession runs fn with a known-fresh credential. If fn fails with
// an auth-shaped error, the guard refreshes once and retries fn exactly
// once; any other failure is returned as-is. Transport failures are
// distinguishable from wrong answers by construction: fn's domain result
// is whatever fn recorded, and this method only ever returns errors.
func (g *Guard) WithFreshSession(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.EnsureReady(ctx); err != nil {
		return err
	}

	err := g.execute(ctx, fn)
	if err == nil || !IsAuthError(err) {
		return err
	}

	g.log.Info("auth-shaped failure, refreshing and retrying once: %v", err)
	g.MarkSuspect()
	g.mu.Lock()
	// Force a real refresh for the retry: the stale credential just got
	// rejected, so the cooldown shortcut does not apply.
	g.lastSuccess = time.Time{}
	g.mu.Unlock()
	if rerr := g.EnsureReady(ctx); rerr != nil {
		return rerr
	}
	return g.execute(ctx, fn)
}

func (g *Guard) execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := g.breaker.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.NewTransportError(err)
	}
	return err
}

var authMessagePatterns = []string{
	"token expired",
	"expired token",
	"invalid token",
	"unauthorized",
	"credential rejected",
}

// IsAuthError reports whether err looks like a stale or rejected
// credential rather than a domain failure.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Status == 401 || appErr.Status == 403 {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range authMessagePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
