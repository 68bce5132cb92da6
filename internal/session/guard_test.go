package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/readgate/readgate/internal/errors"
	"github.com/readgate/readgate/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureReady_NoSuspectIsImmediate(t *testing.T) {
	var refreshes int32
	g := session.NewGuard(func(ctx context.Context) error {
		atomic.AddInt32(&refreshes, 1)
		return nil
	}, session.Config{})

	require.NoError(t, g.EnsureReady(context.Background()))
	assert.Zero(t, atomic.LoadInt32(&refreshes))
	assert.Equal(t, session.Ready, g.State())
}

func TestEnsureReady_CoalescesConcurrentRefreshes(t *testing.T) {
	var refreshes int32
	release := make(chan struct{})
	g := session.NewGuard(func(ctx context.Context) error {
		atomic.AddInt32(&refreshes, 1)
		<-release
		return nil
	}, session.Config{FailSafe: 5 * time.Second})

	g.MarkSuspect()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = g.EnsureReady(context.Background())
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, session.Verifying, g.State())
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes), "concurrent callers must share one refresh")
	assert.Equal(t, session.Ready, g.State())
}

func TestEnsureReady_FailSafeBoundsTheWait(t *testing.T) {
	g := session.NewGuard(func(ctx context.Context) error {
		<-ctx.Done() // refresh never resolves on its own
		return ctx.Err()
	}, session.Config{FailSafe: 60 * time.Millisecond})

	g.MarkSuspect()
	start := time.Now()
	err := g.EnsureReady(context.Background())
	elapsed := time.Since(start)

	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeValidationTransport, appErr.Code)
	assert.Less(t, elapsed, time.Second, "caller must be released near the fail-safe")
	assert.Equal(t, session.Ready, g.State(), "guard returns to Ready even on timeout")
}

func TestEnsureReady_CooldownSkipsRedundantRefresh(t *testing.T) {
	var refreshes int32
	g := session.NewGuard(func(ctx context.Context) error {
		atomic.AddInt32(&refreshes, 1)
		return nil
	}, session.Config{Cooldown: time.Hour})

	g.MarkSuspect()
	require.NoError(t, g.EnsureReady(context.Background()))
	require.Equal(t, int32(1), atomic.LoadInt32(&refreshes))

	// A second resume signal inside the cooldown window is trusted.
	g.MarkSuspect()
	require.NoError(t, g.EnsureReady(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
}

func TestWithFreshSession_AuthShapedFailureRetriesOnce(t *testing.T) {
	var refreshes, calls int32
	g := session.NewGuard(func(ctx context.Context) error {
		atomic.AddInt32(&refreshes, 1)
		return nil
	}, session.Config{})

	err := g.WithFreshSession(context.Background(), func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return apperrors.NewAuthError(401, "token expired")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "fn retried exactly once")
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes), "retry preceded by one refresh")
}

func TestWithFreshSession_NonAuthFailureIsNotRetried(t *testing.T) {
	var refreshes, calls int32
	g := session.NewGuard(func(ctx context.Context) error {
		atomic.AddInt32(&refreshes, 1)
		return nil
	}, session.Config{})

	wantErr := errors.New("connection reset")
	err := g.WithFreshSession(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return wantErr
	})

	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Zero(t, atomic.LoadInt32(&refreshes))
}

func TestWithFreshSession_AuthFailureTwiceSurfacesError(t *testing.T) {
	g := session.NewGuard(func(ctx context.Context) error { return nil }, session.Config{})

	var calls int32
	err := g.WithFreshSession(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return apperrors.NewAuthError(403, "credential rejected")
	})

	// The second rejection propagates: it is an error, never a silent
	// "assume incorrect".
	require.Error(t, err)
	assert.True(t, session.IsAuthError(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWithFreshSession_WaitsOutInFlightRefresh(t *testing.T) {
	release := make(chan struct{})
	g := session.NewGuard(func(ctx context.Context) error {
		<-release
		return nil
	}, session.Config{FailSafe: 5 * time.Second})

	g.MarkSuspect()

	done := make(chan error, 1)
	go func() {
		done <- g.WithFreshSession(context.Background(), func(ctx context.Context) error {
			return nil
		})
	}()

	select {
	case <-done:
		t.Fatal("call ran before the refresh resolved")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)
}

func TestWithFreshSession_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	g := session.NewGuard(func(ctx context.Context) error { return nil }, session.Config{})

	boom := errors.New("oracle unreachable")
	for i := 0; i < 5; i++ {
		err := g.WithFreshSession(context.Background(), func(ctx context.Context) error {
			return boom
		})
		require.ErrorIs(t, err, boom)
	}

	var calls int32
	err := g.WithFreshSession(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeValidationTransport, appErr.Code)
	assert.Zero(t, atomic.LoadInt32(&calls), "open breaker short-circuits the call")
}

func TestIsAuthError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "401 app error", err: apperrors.NewAuthError(401, "nope"), want: true},
		{name: "403 app error", err: apperrors.NewAuthError(403, "nope"), want: true},
		{name: "token expired message", err: fmt.Errorf("remote said: Token Expired"), want: true},
		{name: "invalid token message", err: errors.New("invalid token supplied"), want: true},
		{name: "plain transport error", err: errors.New("connection refused"), want: false},
		{name: "wrapped auth error", err: fmt.Errorf("step failed: %w", apperrors.NewAuthError(401, "x")), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, session.IsAuthError(tt.err))
		})
	}
}
