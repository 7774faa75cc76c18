package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/use-agent/lnfetch/models"
)

// HTTPEngine is the fast path: a plain HTTP client that presents the shared
// session's cookies and identity, with a Chrome-like TLS fingerprint, routed
// through the same proxy as the browser.
type HTTPEngine struct {
	client     *http.Client
	session    Session
	classifier *Classifier
	limiter    *rate.Limiter
	timeout    time.Duration
	logger     *slog.Logger
}

// HTTPOptions configures NewHTTPEngine.
type HTTPOptions struct {
	ProxyURL string
	Timeout  time.Duration

	// RPS throttles requests to the target. 0 disables throttling.
	RPS   float64
	Burst int

	Logger *slog.Logger
}

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to http/1.1
// only. Computed once at init time and reused for every connection.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	// Go's http.Transport cannot speak h2 over a utls connection.
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// NewHTTPEngine creates the fast-path fetcher.
func NewHTTPEngine(opts HTTPOptions, sess Session, classifier *Classifier) (*HTTPEngine, error) {
	dialer, err := NewProxyDialer(opts.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("http_engine: %w", err)
	}

	transport := &http.Transport{
		DialContext: dialer.DialContext,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("http_engine: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2:   false,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}

	var limiter *rate.Limiter
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPEngine{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		session:    sess,
		classifier: classifier,
		limiter:    limiter,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// Fetch issues one GET and classifies the response.
func (e *HTTPEngine) Fetch(ctx context.Context, req *models.FetchRequest) models.Outcome {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return models.TransientError(fmt.Errorf("http_engine: rate limit wait: %w", err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL(), nil)
	if err != nil {
		return models.PermanentError(0)
	}

	snap := e.session.Snapshot()
	httpReq.Header.Set("User-Agent", snap.Identity)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	httpReq.Header.Set("Accept-Encoding", "identity")
	if c := cookieHeader(snap.Cookies); c != "" {
		httpReq.Header.Set("Cookie", c)
	}
	for k, v := range req.Headers() {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		e.logger.Debug("fast fetch transport error",
			"url", req.URL(), "correlation_id", req.CorrelationID(), "error", err)
		return models.TransientError(fmt.Errorf("http_engine: do request: %w", err))
	}
	defer resp.Body.Close()

	// Read body with a 10 MB limit to prevent unbounded memory use.
	const maxBody = 10 << 20
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return models.TransientError(fmt.Errorf("http_engine: read body: %w", err))
	}

	out := e.classifier.Classify(resp.StatusCode, body, resp.Request.URL.String())
	// The title costs a tokenizer pass over the body.
	if e.logger.Enabled(ctx, slog.LevelDebug) {
		e.logger.Debug("fast fetch",
			"url", req.URL(),
			"correlation_id", req.CorrelationID(),
			"status", resp.StatusCode,
			"bytes", len(body),
			"title", extractTitle(string(body)),
			"outcome", out.Kind().String(),
			"synced", snap.Synced,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return out
}

// cookieHeader renders cookies in a stable order.
func cookieHeader(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(cookies))
	for n := range cookies {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, n+"="+cookies[n])
	}
	return strings.Join(parts, "; ")
}

// extractTitle uses the Go HTML tokenizer to find the first <title> element.
func extractTitle(htmlStr string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(htmlStr))
	inTitle := false
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				inTitle = true
			}
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(tokenizer.Text()))
			}
		case html.EndTagToken:
			if inTitle {
				return ""
			}
		}
	}
}
