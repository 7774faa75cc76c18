package rotation

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when the controller sleeps.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

// healthServer answers alive once healthy is set.
type healthServer struct {
	*httptest.Server
	healthy atomic.Bool
	checks  atomic.Int32
}

func newHealthServer(t *testing.T, healthy bool) *healthServer {
	h := &healthServer{}
	h.healthy.Store(healthy)
	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.checks.Add(1)
		if !h.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"status":"alive"}`)
	}))
	t.Cleanup(h.Close)
	return h
}

func newTestController(h *healthServer, clock *fakeClock, trigger TriggerFunc) *Controller {
	return NewController(trigger, Options{
		HealthURL:    h.URL + "/",
		WarmUp:       30 * time.Second,
		PollInterval: 10 * time.Second,
		Deadline:     time.Minute,
		Sleep:        clock.Sleep,
		Now:          clock.Now,
	})
}

func countingTrigger(n *atomic.Int32) TriggerFunc {
	return func(ctx context.Context) error {
		n.Add(1)
		return nil
	}
}

// healingTrigger counts calls and brings the health endpoint back.
func healingTrigger(h *healthServer, n *atomic.Int32) TriggerFunc {
	return func(ctx context.Context) error {
		n.Add(1)
		h.healthy.Store(true)
		return nil
	}
}

func TestRotate_AlreadyHealthySkipsTrigger(t *testing.T) {
	h := newHealthServer(t, true)
	clock := newFakeClock()
	var triggers atomic.Int32
	c := newTestController(h, clock, countingTrigger(&triggers))

	require.True(t, c.Rotate(context.Background()))
	assert.Equal(t, int32(0), triggers.Load())
	assert.Empty(t, clock.sleeps, "no warm-up and no poll sleeps")
	assert.Equal(t, int32(1), h.checks.Load())

	st := c.Stats()
	assert.Equal(t, int64(0), st.Triggers)
	assert.True(t, st.LastRotation.IsZero())
}

func TestRotate_HealthyOnFirstPoll(t *testing.T) {
	h := newHealthServer(t, false)
	clock := newFakeClock()
	var triggers atomic.Int32
	c := newTestController(h, clock, healingTrigger(h, &triggers))

	require.True(t, c.Rotate(context.Background()))
	assert.Equal(t, int32(1), triggers.Load())
	assert.Equal(t, []time.Duration{30 * time.Second}, clock.sleeps, "only the warm-up, no poll sleeps")
	// the initial check, then the first poll
	assert.Equal(t, int32(2), h.checks.Load())

	st := c.Stats()
	assert.Equal(t, int64(1), st.Triggers)
	assert.True(t, st.LastResult)
	assert.False(t, st.LastRotation.IsZero())
}

func TestRotate_PollsUntilHealthy(t *testing.T) {
	h := newHealthServer(t, false)
	clock := newFakeClock()
	var triggers atomic.Int32
	c := NewController(countingTrigger(&triggers), Options{
		HealthURL:    h.URL + "/",
		WarmUp:       30 * time.Second,
		PollInterval: 10 * time.Second,
		Deadline:     time.Minute,
		Now:          clock.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			clock.Sleep(ctx, d)
			if len(clock.sleeps) == 3 {
				h.healthy.Store(true)
			}
			return nil
		},
	})

	require.True(t, c.Rotate(context.Background()))
	assert.Equal(t, int32(1), triggers.Load())
	assert.Equal(t, int32(4), h.checks.Load())
}

func TestRotate_Timeout(t *testing.T) {
	h := newHealthServer(t, false)
	clock := newFakeClock()
	var triggers atomic.Int32
	c := newTestController(h, clock, countingTrigger(&triggers))

	assert.False(t, c.Rotate(context.Background()))
	assert.Equal(t, int32(1), triggers.Load())
	// the initial check, then polls every 10s until a minute has passed
	assert.Equal(t, 8, int(h.checks.Load()))
	assert.False(t, c.Stats().LastResult)
}

func TestRotate_TriggerError(t *testing.T) {
	h := newHealthServer(t, false)
	c := newTestController(h, newFakeClock(), func(ctx context.Context) error {
		return errors.New("hook rejected")
	})
	assert.False(t, c.Rotate(context.Background()))
	assert.Equal(t, int32(1), h.checks.Load())
}

func TestRotate_SingleFlight(t *testing.T) {
	h := newHealthServer(t, false)
	clock := newFakeClock()
	var triggers atomic.Int32
	release := make(chan struct{})
	c := newTestController(h, clock, func(ctx context.Context) error {
		triggers.Add(1)
		<-release
		h.healthy.Store(true)
		return nil
	})

	const n = 16
	results := make(chan bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.Rotate(context.Background())
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for r := range results {
		assert.True(t, r)
	}
	assert.Equal(t, int32(1), triggers.Load())
}

func TestRotate_CancelledCallerDoesNotAbortSharedRotation(t *testing.T) {
	h := newHealthServer(t, false)
	clock := newFakeClock()
	var triggers atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	c := newTestController(h, clock, func(ctx context.Context) error {
		triggers.Add(1)
		close(entered)
		<-release
		if err := ctx.Err(); err != nil {
			return err
		}
		h.healthy.Store(true)
		return nil
	})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan bool, 1)
	go func() { first <- c.Rotate(firstCtx) }()
	<-entered

	second := make(chan bool, 1)
	go func() { second <- c.Rotate(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.False(t, <-first, "the cancelled caller stops waiting")

	close(release)
	assert.True(t, <-second, "the other caller still sees the rotation succeed")
	assert.Equal(t, int32(1), triggers.Load())
	assert.True(t, c.Stats().LastResult)
}

func TestRotate_LaterCallerSeesHealthyProxy(t *testing.T) {
	h := newHealthServer(t, false)
	clock := newFakeClock()
	var triggers atomic.Int32
	c := newTestController(h, clock, healingTrigger(h, &triggers))

	require.True(t, c.Rotate(context.Background()))
	require.True(t, c.Rotate(context.Background()))
	assert.Equal(t, int32(1), triggers.Load(), "a healthy proxy is not rotated again")
}

func TestRotate_RecoveredProxyAfterFailure(t *testing.T) {
	h := newHealthServer(t, false)
	clock := newFakeClock()
	var triggers atomic.Int32
	c := newTestController(h, clock, countingTrigger(&triggers))

	require.False(t, c.Rotate(context.Background()))
	assert.False(t, c.Stats().LastResult)

	h.healthy.Store(true)
	require.True(t, c.Rotate(context.Background()))
	assert.Equal(t, int32(1), triggers.Load())
}

func TestHealthy_RequiresAliveBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"starting"}`)
	}))
	defer srv.Close()

	c := NewController(nil, Options{HealthURL: srv.URL})
	assert.False(t, c.Healthy(context.Background()))

	assert.False(t, NewController(nil, Options{}).Healthy(context.Background()))
}

func TestHookTrigger(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	require.NoError(t, HookTrigger(srv.Client(), srv.URL)(context.Background()))
	assert.Equal(t, int32(1), hits.Load())
}
