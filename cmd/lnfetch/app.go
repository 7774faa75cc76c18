package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/use-agent/lnfetch/cache"
	"github.com/use-agent/lnfetch/cleaner"
	"github.com/use-agent/lnfetch/config"
	"github.com/use-agent/lnfetch/crawler"
	"github.com/use-agent/lnfetch/engine"
	"github.com/use-agent/lnfetch/rotation"
	"github.com/use-agent/lnfetch/scraper"
	"github.com/use-agent/lnfetch/session"
	"github.com/use-agent/lnfetch/store"
)

// app is the wired fetch core.
type app struct {
	session      *session.State
	orchestrator *engine.Orchestrator
	cleaner      *cleaner.Cleaner
	crawler      *crawler.Crawler
	cache        *cache.Cache
	solver       *scraper.Solver

	// rotation is nil when no rotation hook is configured.
	rotation *rotation.Controller

	store *store.BadgerStore
}

// newApp builds every component from cfg, bottom-up:
// session → fast path → solver → rotation → orchestrator → extraction → crawler.
func newApp(cfg *config.Config) (*app, error) {
	site := cfg.Site
	a := &app{}

	// ── Session (+ optional persistence) ────────────────────────────
	sessOpts := []session.Option{session.WithLogger(slog.Default().With("component", "session"))}
	if cfg.Store.Dir != "" {
		st, err := store.Open(cfg.Store.Dir, store.DefaultTTL, slog.Default())
		if err != nil {
			return nil, err
		}
		a.store = st
		sessOpts = append(sessOpts, session.WithPersister(st))
	}
	a.session = session.New(site.ClearanceCookie, site.CookieAllowList(), site.DefaultIdentity, sessOpts...)

	if a.store != nil {
		snap, ok, err := a.store.LoadSession()
		switch {
		case err != nil:
			slog.Warn("persisted session unreadable", "error", err)
		case ok && a.session.Restore(snap):
			slog.Info("persisted session seeded, first block will solve", "cookies", snap.CookieNames(), "adopted_at", snap.AdoptedAt)
		}
	}

	// ── Fast path ───────────────────────────────────────────────────
	httpEngine, err := engine.NewHTTPEngine(engine.HTTPOptions{
		ProxyURL: cfg.Network.ProxyURL,
		Timeout:  cfg.Network.AttemptTimeout,
		RPS:      cfg.Network.TargetRPS,
		Burst:    cfg.Network.TargetBurst,
		Logger:   slog.Default().With("component", "http_engine"),
	}, a.session, engine.NewClassifier(site.ChallengeMarkers, site.MinContentBytes))
	if err != nil {
		a.Close()
		return nil, err
	}

	// ── Challenge solver ────────────────────────────────────────────
	launcher := scraper.NewRodLauncher(scraper.BrowserOptions{
		ProxyURL:         cfg.Network.ProxyURL,
		Headless:         cfg.Solver.Headless,
		NoSandbox:        cfg.Solver.NoSandbox,
		BrowserBin:       cfg.Solver.BrowserBin,
		BlockedResources: scraper.DefaultBlockedResources,
		Logger:           slog.Default().With("component", "browser"),
	})
	a.solver = scraper.NewSolver(launcher, a.session, scraper.SolverOptions{
		Deadline:         cfg.Solver.Deadline,
		PollInterval:     cfg.Solver.PollInterval,
		ChallengeMarkers: site.ChallengeMarkers,
		GatewayMarkers:   site.GatewayMarkers,
		ReadyMarkers:     site.ReadyMarkers,
		Logger:           slog.Default().With("component", "solver"),
	})

	// ── Identity rotation ───────────────────────────────────────────
	var rotator engine.Rotator
	if cfg.Network.RotationHookURL != "" {
		a.rotation = rotation.NewController(
			rotation.HookTrigger(&http.Client{Timeout: 30 * time.Second}, cfg.Network.RotationHookURL),
			rotation.Options{
				HealthURL:    cfg.Network.HealthURL,
				WarmUp:       cfg.Rotation.WarmUp,
				PollInterval: cfg.Rotation.PollInterval,
				Deadline:     cfg.Rotation.Deadline,
				Logger:       slog.Default().With("component", "rotation"),
			},
		)
		rotator = a.rotation
	} else {
		slog.Warn("no rotation hook configured; a burned identity ends the fetch")
	}

	// ── Orchestrator ────────────────────────────────────────────────
	a.orchestrator = engine.NewOrchestrator(httpEngine, a.solver, rotator, a.session,
		engine.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Backoff: engine.Backoff{
				Initial:    cfg.Retry.InitialDelay,
				Multiplier: cfg.Retry.Multiplier,
				Max:        cfg.Retry.MaxDelay,
			},
			GatewayDelay: cfg.Retry.GatewayDelay,
			MaxRotations: cfg.Retry.MaxRotations,
		},
		engine.WithOrchestratorLogger(slog.Default().With("component", "orchestrator")),
	)

	// ── Extraction + crawler ────────────────────────────────────────
	a.cleaner, err = cleaner.New(site)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("site profile %q: %w", site.Name, err)
	}
	a.crawler = crawler.New(a.orchestrator, a.cleaner, cfg.Crawler.Workers, slog.Default().With("component", "crawler"))
	a.cache = cache.New(cfg.Cache.MaxEntries)

	slog.Info("fetch core ready",
		"site", site.Name,
		"proxy", cfg.Network.ProxyURL != "",
		"rotation", a.rotation != nil,
		"synced", a.session.IsSynced(),
		"workers", cfg.Crawler.Workers,
	)
	return a, nil
}

// Close releases the cache sweeper and the session store.
func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Error("session store close failed", "error", err)
		}
	}
}
