package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/lnfetch/models"
)

// BrowserOptions configures RodLauncher.
type BrowserOptions struct {
	// ProxyURL must be the same proxy the fast path uses.
	ProxyURL   string
	Headless   bool
	NoSandbox  bool
	BrowserBin string

	// BlockedResources are resource type names skipped during a solve.
	BlockedResources []string

	Logger *slog.Logger
}

// RodLauncher starts a fresh Chromium process for every solve. Nothing is
// pooled: the process, its profile directory and its page are all
// discarded on release.
type RodLauncher struct {
	opts   BrowserOptions
	logger *slog.Logger
}

// NewRodLauncher creates a launcher.
func NewRodLauncher(opts BrowserOptions) *RodLauncher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RodLauncher{opts: opts, logger: logger}
}

// Launch starts the browser, opens a stealth page and returns it with its
// release func.
func (r *RodLauncher) Launch(ctx context.Context) (Tab, func(), error) {
	l := launcher.New().
		Context(ctx).
		Headless(r.opts.Headless).
		NoSandbox(r.opts.NoSandbox).
		Leakless(true)

	if r.opts.BrowserBin != "" {
		l = l.Bin(r.opts.BrowserBin)
	}
	var proxyUser *url.Userinfo
	if r.opts.ProxyURL != "" {
		server, user, err := proxyServerArg(r.opts.ProxyURL)
		if err != nil {
			return nil, nil, err
		}
		l = l.Proxy(server)
		proxyUser = user
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		l.Cleanup()
		return nil, nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}

	if proxyUser != nil {
		pw, _ := proxyUser.Password()
		wait := browser.HandleAuth(proxyUser.Username(), pw)
		go func() { _ = wait() }()
	}

	release := func() {
		if err := browser.Close(); err != nil {
			r.logger.Debug("browser close failed", "error", err)
		}
		l.Kill()
		l.Cleanup()
		r.logger.Debug("solver browser released")
	}

	page, err := stealth.Page(browser)
	if err != nil {
		release()
		return nil, nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to open stealth page", err)
	}

	_ = proto.NetworkSetExtraHTTPHeaders{
		Headers: toHeadersMap(map[string]string{"Accept-Language": "en-US,en;q=0.9"}),
	}.Call(page)

	router := setupHijack(page, r.opts.BlockedResources)
	if router != nil {
		inner := release
		release = func() {
			_ = router.Stop()
			inner()
		}
	}

	r.logger.Info("solver browser launched", "headless", r.opts.Headless)
	return &rodTab{page: page}, release, nil
}

// proxyServerArg converts a proxy URL to Chromium's --proxy-server form.
// Chromium resolves hostnames proxy-side for socks5 already, so socks5h
// maps to socks5. Credentials are returned separately.
func proxyServerArg(raw string) (string, *url.Userinfo, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("browser: parse proxy url: %w", err)
	}
	scheme := u.Scheme
	switch scheme {
	case "socks5h":
		scheme = "socks5"
	case "socks5", "http", "https":
	default:
		return "", nil, fmt.Errorf("browser: unsupported proxy scheme %q", u.Scheme)
	}
	return scheme + "://" + u.Host, u.User, nil
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// rodTab is the Tab implementation backed by a rod page.
type rodTab struct {
	page *rod.Page
}

func (t *rodTab) Navigate(ctx context.Context, url string) error {
	p := t.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		slog.Debug("WaitLoad did not complete, proceeding with current DOM", "error", err)
	}
	return nil
}

func (t *rodTab) Snapshot(ctx context.Context) (string, string, error) {
	p := t.page.Context(ctx)
	info, err := p.Info()
	if err != nil {
		return "", "", fmt.Errorf("browser: page info: %w", err)
	}
	html, err := p.HTML()
	if err != nil {
		return "", "", fmt.Errorf("browser: page html: %w", err)
	}
	return info.Title, html, nil
}

func (t *rodTab) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	raw, err := t.page.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("browser: cookies: %w", err)
	}
	out := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			hc.Expires = c.Expires.Time()
		}
		out = append(out, hc)
	}
	return out, nil
}

func (t *rodTab) UserAgent(ctx context.Context) (string, error) {
	res, err := t.page.Context(ctx).Eval(`() => navigator.userAgent`)
	if err != nil {
		return "", fmt.Errorf("browser: user agent: %w", err)
	}
	return res.Value.Str(), nil
}

func (t *rodTab) ResetAndReload(ctx context.Context) error {
	p := t.page.Context(ctx)
	if err := (proto.NetworkClearBrowserCookies{}).Call(p); err != nil {
		return fmt.Errorf("browser: clear cookies: %w", err)
	}
	_, _ = p.Eval(`() => { try { localStorage.clear(); sessionStorage.clear(); } catch (e) {} }`)
	if err := p.Reload(); err != nil {
		return fmt.Errorf("browser: reload: %w", err)
	}
	_ = p.WaitLoad()
	return nil
}

func (t *rodTab) Nudge(ctx context.Context) error {
	return nudge(ctx, t.page)
}

