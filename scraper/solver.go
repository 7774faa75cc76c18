// Package scraper drives a real browser through an active challenge and
// hands the resulting session to the fast path.
package scraper

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/use-agent/lnfetch/engine"
)

// Adopter receives the harvested session.
type Adopter interface {
	Adopt(cookies []*http.Cookie, identity string) bool
}

// SolverOptions configures a Solver.
type SolverOptions struct {
	// Deadline bounds the whole solve, launch included.
	Deadline     time.Duration
	PollInterval time.Duration

	ChallengeMarkers []string
	GatewayMarkers   []string
	ReadyMarkers     []string

	Logger *slog.Logger

	// Sleep is replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// SolverStats reports solver activity.
type SolverStats struct {
	Attempts  int64
	Successes int64
	Active    int32
}

// Solver passes challenges in a browser it launches per call.
type Solver struct {
	launcher Launcher
	session  Adopter
	opts     SolverOptions
	logger   *slog.Logger

	attempts  atomic.Int64
	successes atomic.Int64
	active    atomic.Int32
}

// NewSolver creates a Solver. Zero durations fall back to a 90s deadline
// and a 2s poll interval.
func NewSolver(l Launcher, session Adopter, opts SolverOptions) *Solver {
	if opts.Deadline <= 0 {
		opts.Deadline = 90 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepWithContext
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Solver{launcher: l, session: session, opts: opts, logger: logger}
}

// Solve loads url in a fresh browser and waits until the real page shows,
// then adopts the browser's cookies and user agent. It returns true iff the
// adopt succeeded before the deadline. The browser is released on every
// return path.
func (s *Solver) Solve(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Deadline)
	defer cancel()

	s.attempts.Add(1)
	s.active.Add(1)
	defer s.active.Add(-1)

	log := s.logger.With("url", url)
	start := time.Now()

	tab, release, err := s.launcher.Launch(ctx)
	if err != nil {
		log.Error("solver launch failed", "error", err)
		return false
	}
	defer release()

	if err := tab.Navigate(ctx, url); err != nil {
		// The loop below reloads on gateway pages and re-checks until the deadline.
		log.Warn("solver navigation failed", "error", err)
	}

	for iter := 1; ; iter++ {
		if ctx.Err() != nil {
			break
		}

		title, html, err := tab.Snapshot(ctx)
		switch {
		case err != nil:
			log.Debug("snapshot failed", "iteration", iter, "error", err)

		case engine.ContainsAny(title+"\n"+html, s.opts.GatewayMarkers):
			log.Warn("gateway error page in browser, resetting", "iteration", iter, "title", title)
			if err := tab.ResetAndReload(ctx); err != nil {
				log.Debug("reset failed", "error", err)
			}

		case s.ready(title, html):
			if s.adopt(ctx, tab) {
				s.successes.Add(1)
				log.Info("challenge solved", "iterations", iter, "duration", time.Since(start))
				return true
			}
			log.Debug("page ready but no clearance cookie yet", "iteration", iter)

		default:
			log.Debug("challenge in progress", "iteration", iter, "title", title)
			if err := tab.Nudge(ctx); err != nil {
				log.Debug("liveness action failed", "error", err)
			}
		}

		if err := s.opts.Sleep(ctx, s.opts.PollInterval); err != nil {
			break
		}
	}

	log.Warn("solver deadline reached", "deadline", s.opts.Deadline, "duration", time.Since(start))
	return false
}

// ready reports whether the real target page is showing: no challenge
// marker and at least one ready marker.
func (s *Solver) ready(title, html string) bool {
	text := title + "\n" + html
	if engine.ContainsAny(text, s.opts.ChallengeMarkers) {
		return false
	}
	return engine.ContainsAny(text, s.opts.ReadyMarkers)
}

func (s *Solver) adopt(ctx context.Context, tab Tab) bool {
	cookies, err := tab.Cookies(ctx)
	if err != nil {
		s.logger.Debug("reading browser cookies failed", "error", err)
		return false
	}
	// Cookies are bound to the browser's user agent, so one without the
	// other is not a usable identity.
	ua, err := tab.UserAgent(ctx)
	if err != nil || ua == "" {
		s.logger.Debug("reading user agent failed", "error", err)
		return false
	}
	return s.session.Adopt(cookies, ua)
}

// Stats returns solver counters.
func (s *Solver) Stats() SolverStats {
	return SolverStats{
		Attempts:  s.attempts.Load(),
		Successes: s.successes.Load(),
		Active:    s.active.Load(),
	}
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
