package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/use-agent/lnfetch/models"
)

// RetryPolicy bounds the orchestrator's escalation state machine.
type RetryPolicy struct {
	// MaxAttempts bounds fetches that end in a transient, empty or gateway
	// outcome, plus retries after a stale-session block.
	MaxAttempts int

	Backoff Backoff

	// GatewayDelay is the fixed wait after a gateway error.
	GatewayDelay time.Duration

	// MaxRotations bounds identity rotations per call. At most
	// MaxRotations+1 solves can happen per call.
	MaxRotations int
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		Backoff:      Backoff{Initial: 2 * time.Second, Multiplier: 2, Max: 30 * time.Second},
		GatewayDelay: 10 * time.Second,
		MaxRotations: 2,
	}
}

// Orchestrator composes the fast path, the challenge solver and identity
// rotation into a single bounded fetch.
type Orchestrator struct {
	fetcher Fetcher
	solver  Solver
	rotator Rotator
	session Session
	policy  RetryPolicy

	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger

	// flights coalesces concurrent solves and concurrent rotations.
	flights singleflight.Group
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithSleep replaces the wait function used between retries.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) OrchestratorOption {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithOrchestratorLogger sets the logger. Defaults to slog.Default().
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator wires the tiers together. solver and rotator may be nil,
// in which case a block that needs them ends the call.
func NewOrchestrator(f Fetcher, s Solver, r Rotator, sess Session, policy RetryPolicy, opts ...OrchestratorOption) *Orchestrator {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.MaxRotations < 0 {
		policy.MaxRotations = 0
	}
	o := &Orchestrator{
		fetcher: f,
		solver:  s,
		rotator: r,
		session: sess,
		policy:  policy,
		sleep:   sleepWithContext,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Fetch retrieves rawURL through the full escalation sequence.
func (o *Orchestrator) Fetch(ctx context.Context, rawURL string) models.Outcome {
	return o.Do(ctx, models.NewFetchRequest(rawURL, nil))
}

// Do runs the escalation state machine for req. Transient, empty and gateway
// outcomes are retried within the budget. A block on an unsynced session is
// solved once; a block on a synced session rotates the identity and starts
// over. Every branch is bounded; the last failing outcome is returned when a
// budget runs out.
func (o *Orchestrator) Do(ctx context.Context, req *models.FetchRequest) models.Outcome {
	log := o.logger.With("url", req.URL(), "correlation_id", req.CorrelationID())

	var (
		attempts  int
		solves    int
		rotations int
	)
	for {
		gen := o.session.Generation()
		out := o.fetcher.Fetch(ctx, req)

		switch out.Kind() {
		case models.KindSuccess, models.KindPermanent:
			return out

		case models.KindTransient, models.KindEmptyContent:
			attempts++
			if attempts >= o.policy.MaxAttempts {
				log.Warn("retry budget exhausted", "outcome", out.String(), "attempts", attempts)
				return out
			}
			delay := o.policy.Backoff.Delay(attempts)
			log.Info("retrying after backoff", "outcome", out.String(), "attempt", attempts, "delay", delay)
			if err := o.sleep(ctx, delay); err != nil {
				return out
			}

		case models.KindGateway:
			attempts++
			if attempts >= o.policy.MaxAttempts {
				log.Warn("retry budget exhausted", "outcome", out.String(), "attempts", attempts)
				return out
			}
			log.Info("gateway error, waiting", "status", out.StatusCode(), "delay", o.policy.GatewayDelay)
			if err := o.sleep(ctx, o.policy.GatewayDelay); err != nil {
				return out
			}

		case models.KindBlocked:
			if o.session.Generation() != gen {
				// The session changed while this request was in flight.
				attempts++
				if attempts >= o.policy.MaxAttempts {
					return out
				}
				log.Debug("blocked on a superseded session, retrying")
				continue
			}

			if !o.session.IsSynced() {
				if o.solver == nil {
					log.Warn("blocked with no solver configured")
					return models.SolverFailure()
				}
				if solves > rotations {
					log.Warn("solve budget exhausted", "solves", solves)
					return out
				}
				solves++
				if !o.solve(ctx, req.URL()) {
					if ctx.Err() != nil {
						return out
					}
					log.Warn("challenge solve failed")
					return models.SolverFailure()
				}
				log.Info("challenge solved, retrying fast path")
				continue
			}

			if o.rotator == nil {
				log.Warn("identity burned with no rotation hook configured")
				return out
			}
			if rotations >= o.policy.MaxRotations {
				log.Warn("rotation budget exhausted", "rotations", rotations)
				return out
			}
			rotations++
			if !o.rotate(ctx) {
				if ctx.Err() != nil {
					return out
				}
				log.Error("identity rotation timed out")
				return models.RotationTimeout()
			}
			log.Info("identity rotated, starting over", "rotation", rotations)

		default:
			return out
		}

		if ctx.Err() != nil {
			return out
		}
	}
}

// solve runs at most one solver invocation at a time. Callers that arrive
// while a solve is in flight wait for it and share its result.
func (o *Orchestrator) solve(ctx context.Context, url string) bool {
	return o.shared(ctx, "solve", func(fctx context.Context) bool {
		if o.session.IsSynced() {
			return true
		}
		return o.solver.Solve(fctx, url)
	})
}

// rotate rotates the identity and invalidates the session exactly once per
// episode, however many callers are blocked.
func (o *Orchestrator) rotate(ctx context.Context) bool {
	return o.shared(ctx, "rotate", func(fctx context.Context) bool {
		ok := o.rotator.Rotate(fctx)
		if ok {
			o.session.Invalidate()
		}
		return ok
	})
}

// shared runs fn once for every concurrent caller of key. fn gets a context
// that keeps ctx's values but not its cancellation: the solver and the
// rotator bound themselves with their own deadlines, and one caller leaving
// must not fail the action for the rest. A caller whose ctx is done stops
// waiting and sees false.
func (o *Orchestrator) shared(ctx context.Context, key string, fn func(context.Context) bool) bool {
	ch := o.flights.DoChan(key, func() (interface{}, error) {
		return fn(context.WithoutCancel(ctx)), nil
	})
	select {
	case res := <-ch:
		return res.Val.(bool)
	case <-ctx.Done():
		o.logger.Debug("caller stopped waiting", "action", key, "error", ctx.Err())
		return false
	}
}
