// Package rotation replaces the upstream network identity through an
// external deploy hook and waits for the proxy to come back.
package rotation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/use-agent/lnfetch/webhook"
)

// TriggerFunc fires the external rotation action once.
type TriggerFunc func(ctx context.Context) error

// HookTrigger returns a TriggerFunc that GETs hookURL.
func HookTrigger(client *http.Client, hookURL string) TriggerFunc {
	return func(ctx context.Context) error {
		return webhook.Trigger(ctx, client, hookURL)
	}
}

// Options configures a Controller.
type Options struct {
	HealthURL    string
	WarmUp       time.Duration
	PollInterval time.Duration
	Deadline     time.Duration

	// ProbeTimeout bounds one health probe. Defaults to 5s.
	ProbeTimeout time.Duration

	Client *http.Client
	Logger *slog.Logger

	// Sleep and Now are replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Stats reports rotation activity.
type Stats struct {
	Triggers     int64
	LastRotation time.Time
	LastResult   bool
}

// Controller runs at most one rotation at a time, process-wide. The lock is
// held for the health check, the trigger, the warm-up and the whole poll
// loop; callers that arrive during a rotation share its result.
type Controller struct {
	opts    Options
	trigger TriggerFunc

	mu     sync.Mutex
	flight singleflight.Group

	// Stats are atomics so readers never wait on a rotation in progress.
	triggers     atomic.Int64
	lastRotation atomic.Int64 // unix nanos
	lastResult   atomic.Bool

	logger *slog.Logger
}

// NewController creates a Controller. Zero durations fall back to a 30s
// warm-up, a 10s poll interval and a 10m deadline.
func NewController(trigger TriggerFunc, opts Options) *Controller {
	if opts.WarmUp <= 0 {
		opts.WarmUp = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 10 * time.Minute
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepWithContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{opts: opts, trigger: trigger, logger: logger}
}

// Rotate replaces the identity and returns true once the health endpoint
// reports the proxy alive again, or false on deadline. The rotation runs on
// a context detached from ctx, so a caller that gives up does not abort it
// for the others waiting on the same rotation; ctx only bounds how long this
// caller waits.
func (c *Controller) Rotate(ctx context.Context) bool {
	ch := c.flight.DoChan("rotate", func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.budget())
		defer cancel()
		return c.rotate(rctx), nil
	})
	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("joined in-flight rotation")
		}
		return res.Val.(bool)
	case <-ctx.Done():
		c.logger.Warn("stopped waiting for rotation", "error", ctx.Err())
		return false
	}
}

// budget bounds one whole rotation: trigger, warm-up, polling and the last probe.
func (c *Controller) budget() time.Duration {
	return c.opts.WarmUp + c.opts.Deadline + c.opts.PollInterval + 2*c.opts.ProbeTimeout
}

func (c *Controller) rotate(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have rotated already.
	if c.Healthy(ctx) {
		c.logger.Info("proxy already healthy, skipping rotation trigger")
		return true
	}

	ok := c.triggerAndWait(ctx)
	c.lastResult.Store(ok)
	c.lastRotation.Store(c.opts.Now().UnixNano())
	return ok
}

func (c *Controller) triggerAndWait(ctx context.Context) bool {
	c.logger.Warn("triggering identity rotation")
	c.triggers.Add(1)
	if err := c.trigger(ctx); err != nil {
		c.logger.Error("rotation trigger failed", "error", err)
		return false
	}

	c.logger.Info("rotation triggered, warming up", "warm_up", c.opts.WarmUp)
	if err := c.opts.Sleep(ctx, c.opts.WarmUp); err != nil {
		return false
	}

	start := c.opts.Now()
	for polls := 1; ; polls++ {
		if c.Healthy(ctx) {
			c.logger.Info("proxy back online", "polls", polls, "waited", c.opts.Now().Sub(start))
			return true
		}
		if c.opts.Now().Sub(start) >= c.opts.Deadline {
			c.logger.Error("rotation timed out", "deadline", c.opts.Deadline, "polls", polls)
			return false
		}
		c.logger.Info("waiting for proxy to come online", "poll", polls)
		if err := c.opts.Sleep(ctx, c.opts.PollInterval); err != nil {
			return false
		}
	}
}

type healthBody struct {
	Status string `json:"status"`
}

// Healthy probes the health endpoint once. Only a 200 with
// {"status":"alive"} counts; connection errors mean the proxy is restarting.
func (c *Controller) Healthy(ctx context.Context) bool {
	if c.opts.HealthURL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.HealthURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.opts.Client.Do(req)
	if err != nil {
		c.logger.Debug("health probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var body healthBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&body); err != nil {
		return false
	}
	return body.Status == "alive"
}

// Stats returns a snapshot of rotation activity.
func (c *Controller) Stats() Stats {
	st := Stats{
		Triggers:   c.triggers.Load(),
		LastResult: c.lastResult.Load(),
	}
	if last := c.lastRotation.Load(); last != 0 {
		st.LastRotation = time.Unix(0, last)
	}
	return st
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
