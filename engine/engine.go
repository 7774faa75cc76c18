package engine

import (
	"context"

	"github.com/use-agent/lnfetch/models"
	"github.com/use-agent/lnfetch/session"
)

// Fetcher issues one request and classifies the response. It never retries.
type Fetcher interface {
	Fetch(ctx context.Context, req *models.FetchRequest) models.Outcome
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *models.FetchRequest) models.Outcome

func (f FetcherFunc) Fetch(ctx context.Context, req *models.FetchRequest) models.Outcome {
	return f(ctx, req)
}

// Solver passes an active challenge and adopts the resulting session.
// It returns true iff the session is synced when it returns. Implementations
// bound their own run time; the orchestrator may call them with a context
// that is never cancelled.
type Solver interface {
	Solve(ctx context.Context, url string) bool
}

// Rotator replaces the upstream network identity. Concurrent callers share
// one rotation and observe the same result. Like Solver, it bounds its own
// run time.
type Rotator interface {
	Rotate(ctx context.Context) bool
}

// Session is the view of the shared session the fetch tiers need.
type Session interface {
	IsSynced() bool
	Generation() uint64
	Invalidate()
	Snapshot() session.Snapshot
}
