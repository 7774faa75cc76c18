package scraper

import (
	"context"
	"net/http"
)

// Tab is one browser tab owned by a single solve.
type Tab interface {
	Navigate(ctx context.Context, url string) error

	// Snapshot returns the current document title and HTML.
	Snapshot(ctx context.Context) (title, html string, err error)

	Cookies(ctx context.Context) ([]*http.Cookie, error)
	UserAgent(ctx context.Context) (string, error)

	// ResetAndReload clears cookies and storage, then reloads the page.
	ResetAndReload(ctx context.Context) error

	// Nudge performs liveness actions: pointer movement and a click on any
	// embedded challenge frame.
	Nudge(ctx context.Context) error
}

// Launcher starts an isolated browser context. The returned release func
// tears it down and must be called exactly once, on every path.
type Launcher interface {
	Launch(ctx context.Context) (tab Tab, release func(), err error)
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context) (Tab, func(), error)

func (f LauncherFunc) Launch(ctx context.Context) (Tab, func(), error) { return f(ctx) }
