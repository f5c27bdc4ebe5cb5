package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func serveEndpoint(t *testing.T, endpoint http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	return w
}

func TestLiveEndpoint_AllPassing(t *testing.T) {
	h := New()
	h.Add(Liveness, "goroutines", time.Second, GoroutineCountCheck(1_000_000))
	h.Evaluate(context.Background())

	w := serveEndpoint(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestLiveEndpoint_FailureThreshold(t *testing.T) {
	h := New()
	h.Add(Liveness, "goroutines", time.Second, GoroutineCountCheck(0))
	ctx := context.Background()

	for range failureThreshold - 1 {
		h.Evaluate(ctx)
	}
	assert.Equal(t, http.StatusOK, serveEndpoint(t, h.LiveEndpoint).Code, "below threshold")

	h.Evaluate(ctx)
	w := serveEndpoint(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"unhealthy"`)
	assert.Contains(t, w.Body.String(), "exceeds threshold 0")
}

func TestReadyEndpoint(t *testing.T) {
	var down atomic.Bool
	h := New()
	h.Add(Readiness, "postgres", time.Second, PingCheck(pingerFunc(func(context.Context) error {
		if down.Load() {
			return errors.New("connection refused")
		}
		return nil
	})))
	ctx := context.Background()

	w := serveEndpoint(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, w.Body.String())
	assert.False(t, h.IsReady())

	h.SetReady(true)
	h.Evaluate(ctx)
	assert.True(t, h.IsReady())
	assert.Equal(t, http.StatusOK, serveEndpoint(t, h.ReadyEndpoint).Code)

	down.Store(true)
	for range failureThreshold {
		h.Evaluate(ctx)
	}
	assert.False(t, h.IsReady())
	w = serveEndpoint(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"postgres":"ping: connection refused"}}`, w.Body.String())

	down.Store(false)
	h.Evaluate(ctx)
	assert.True(t, h.IsReady(), "one success restores readiness")
}

func TestEvaluate_Timeout(t *testing.T) {
	h := New()
	h.Add(Readiness, "slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h.SetReady(true)

	start := time.Now()
	for range failureThreshold {
		h.Evaluate(context.Background())
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, h.IsReady())
}

func TestEvaluate_RunsChecksConcurrently(t *testing.T) {
	h := New()
	release := make(chan struct{})
	var started atomic.Int32
	for _, name := range []string{"a", "b"} {
		h.Add(Readiness, name, time.Second, func(ctx context.Context) error {
			if started.Add(1) == 2 {
				close(release)
			}
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	start := time.Now()
	h.Evaluate(context.Background())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	for _, c := range h.snapshot() {
		require.NotNil(t, c.lastErr.Load())
		assert.NoError(t, *c.lastErr.Load(), c.name)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	h := New()
	h.Add(Liveness, "count", time.Second, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
