package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/lnfetch/api/handler"
	"github.com/use-agent/lnfetch/cache"
	"github.com/use-agent/lnfetch/cleaner"
	"github.com/use-agent/lnfetch/config"
	"github.com/use-agent/lnfetch/crawler"
	"github.com/use-agent/lnfetch/models"
	"github.com/use-agent/lnfetch/rotation"
	"github.com/use-agent/lnfetch/session"
	"github.com/use-agent/lnfetch/webhook"
)

const testKey = "test-key"

const chapterHTML = `<html><body><div class="chapter-header"><h2>Chapter 1</h2></div>
<div class="chapter-content"><p>It began at dawn.</p></div></body></html>`

const novelHTML = `<html><body><h1 class="novel-title">Dawn</h1>
<ul class="chapter-list"><li><a href="/dawn/chapter-1.html">Chapter 1</a></li>
<li><a href="/dawn/chapter-2.html">Chapter 2</a></li></ul></body></html>`

type mapFetcher struct {
	mu    sync.Mutex
	pages map[string]models.Outcome
	calls int
}

func (f *mapFetcher) Fetch(_ context.Context, rawURL string) models.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if out, ok := f.pages[rawURL]; ok {
		return out
	}
	return models.PermanentError(404)
}

func (f *mapFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type staticRotation struct{ st rotation.Stats }

func (s staticRotation) Stats() rotation.Stats { return s.st }

func newTestServer(t *testing.T, f *mapFetcher, rot handler.RotationReader) *gin.Engine {
	t.Helper()
	return newTestServerWith(t, f, rot, nil)
}

func newTestServerWith(t *testing.T, f *mapFetcher, rot handler.RotationReader, tweak func(*config.Config)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cl, err := cleaner.New(config.DefaultSiteProfile())
	require.NoError(t, err)
	cc := cache.New(100)
	t.Cleanup(cc.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sess := session.New("cf_clearance", nil, "ua", session.WithLogger(logger))

	cfg := &config.Config{
		Server:    config.ServerConfig{Mode: gin.TestMode},
		Auth:      config.AuthConfig{Enabled: true, APIKeys: []string{testKey}},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
	}
	if tweak != nil {
		tweak(cfg)
	}
	svc := Services{
		Fetcher:  f,
		Cleaner:  cl,
		Crawler:  crawler.New(f, cl, 2, logger),
		Session:  sess,
		Rotation: rot,
		Cache:    cc,
	}
	return NewRouter(svc, cfg, time.Now())
}

func do(t *testing.T, r http.Handler, method, path string, body any, key string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth_NoAuth(t *testing.T) {
	r := newTestServer(t, &mapFetcher{}, staticRotation{rotation.Stats{Triggers: 2, LastResult: false, LastRotation: time.Unix(1700000000, 0)}})

	w := do(t, r, http.MethodGet, "/api/v1/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.False(t, resp.Session.Synced)
	assert.Equal(t, "ua", resp.Session.Identity)
	assert.Equal(t, int64(2), resp.Rotation.Triggers)
	assert.Equal(t, "2023-11-14T22:13:20Z", resp.Rotation.LastRotation)
}

func TestHealth_NoRotation(t *testing.T) {
	r := newTestServer(t, &mapFetcher{}, nil)
	w := do(t, r, http.MethodGet, "/api/v1/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}

func TestChapter_RequiresKey(t *testing.T) {
	r := newTestServer(t, &mapFetcher{}, nil)
	w := do(t, r, http.MethodPost, "/api/v1/chapter", gin.H{"url": "https://n.test/c1"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), models.ErrCodeUnauthorized)

	w = do(t, r, http.MethodPost, "/api/v1/chapter", gin.H{"url": "https://n.test/c1"}, "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChapter_InvalidInput(t *testing.T) {
	r := newTestServer(t, &mapFetcher{}, nil)
	w := do(t, r, http.MethodPost, "/api/v1/chapter", gin.H{"output_format": "pdf"}, testKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), models.ErrCodeInvalidInput)
}

func TestChapter_FetchAndCache(t *testing.T) {
	f := &mapFetcher{pages: map[string]models.Outcome{
		"https://n.test/c1": models.Success(chapterHTML, "https://n.test/c1"),
	}}
	r := newTestServer(t, f, nil)
	req := gin.H{"url": "https://n.test/c1", "output_format": "text", "max_age": 60000}

	w := do(t, r, http.MethodPost, "/api/v1/chapter", req, testKey)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp models.ChapterResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Chapter 1", resp.Title)
	assert.Equal(t, "It began at dawn.", resp.Content)
	assert.Equal(t, "miss", resp.CacheStatus)

	w = do(t, r, http.MethodPost, "/api/v1/chapter", req, testKey)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "hit", resp.CacheStatus)
	assert.Equal(t, 1, f.callCount())
}

func TestChapter_OutcomeStatus(t *testing.T) {
	f := &mapFetcher{pages: map[string]models.Outcome{
		"https://n.test/solve":  models.SolverFailure(),
		"https://n.test/rotate": models.RotationTimeout(),
		"https://n.test/block":  models.Blocked(403),
	}}
	r := newTestServer(t, f, nil)

	cases := map[string]int{
		"https://n.test/solve":   http.StatusServiceUnavailable,
		"https://n.test/rotate":  http.StatusServiceUnavailable,
		"https://n.test/block":   http.StatusBadGateway,
		"https://n.test/missing": http.StatusNotFound,
	}
	for url, want := range cases {
		w := do(t, r, http.MethodPost, "/api/v1/chapter", gin.H{"url": url}, testKey)
		assert.Equal(t, want, w.Code, url)
		assert.Contains(t, w.Body.String(), `"success":false`, url)
	}
}

func TestNovel_NotFound(t *testing.T) {
	r := newTestServer(t, &mapFetcher{}, nil)
	w := do(t, r, http.MethodGet, "/api/v1/novel/novel-missing", nil, testKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNovel_JobWithDownloadAndWebhook(t *testing.T) {
	f := &mapFetcher{pages: map[string]models.Outcome{
		"https://n.test/dawn.html":           models.Success(novelHTML, "https://n.test/dawn.html"),
		"https://n.test/dawn/chapter-1.html": models.Success(chapterHTML, ""),
		"https://n.test/dawn/chapter-2.html": models.SolverFailure(),
	}}

	events := make(chan webhook.Event, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, webhook.Sign("s3cret", body), r.Header.Get(webhook.SignatureHeader))
		var ev webhook.Event
		_ = json.Unmarshal(body, &ev)
		events <- ev
	}))
	defer hook.Close()

	r := newTestServer(t, f, nil)
	w := do(t, r, http.MethodPost, "/api/v1/novel", gin.H{
		"url":            "https://n.test/dawn.html",
		"download":       true,
		"output_format":  "text",
		"webhook_url":    hook.URL,
		"webhook_secret": "s3cret",
	}, testKey)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var created models.NovelResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "processing", created.Status)

	var status models.NovelStatusResponse
	require.Eventually(t, func() bool {
		w := do(t, r, http.MethodGet, "/api/v1/novel/"+created.ID, nil, testKey)
		if w.Code != http.StatusOK {
			return false
		}
		status = models.NovelStatusResponse{}
		_ = json.Unmarshal(w.Body.Bytes(), &status)
		return status.Status != "processing"
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "partial", status.Status)
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 2, status.Completed)
	require.NotNil(t, status.Listing)
	assert.Equal(t, "Dawn", status.Listing.Novel.Title)
	require.Len(t, status.Bodies, 2)
	assert.Equal(t, "It began at dawn.", status.Bodies[0].Content)
	assert.Equal(t, models.ErrCodeSolverFailure, status.Bodies[1].Error.Code)

	select {
	case ev := <-events:
		assert.Equal(t, "novel.partial", ev.Type)
		assert.Equal(t, created.ID, ev.JobID)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}
}

func TestNovel_EmptyListingFails(t *testing.T) {
	f := &mapFetcher{pages: map[string]models.Outcome{
		"https://n.test/empty.html": models.Success("<html><body>nothing</body></html>", ""),
	}}
	r := newTestServer(t, f, nil)

	w := do(t, r, http.MethodPost, "/api/v1/novel", gin.H{"url": "https://n.test/empty.html"}, testKey)
	require.Equal(t, http.StatusOK, w.Code)
	var created models.NovelResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	var status models.NovelStatusResponse
	require.Eventually(t, func() bool {
		w := do(t, r, http.MethodGet, "/api/v1/novel/"+created.ID, nil, testKey)
		status = models.NovelStatusResponse{}
		_ = json.Unmarshal(w.Body.Bytes(), &status)
		return status.Status != "processing"
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "failed", status.Status)
	require.NotNil(t, status.Error)
	assert.Equal(t, models.ErrCodeEmptyListing, status.Error.Code)
}

func TestNovel_SubmissionBudgetSeparateFromChapters(t *testing.T) {
	f := &mapFetcher{pages: map[string]models.Outcome{
		"https://n.test/dawn.html":           models.Success(novelHTML, "https://n.test/dawn.html"),
		"https://n.test/dawn/chapter-1.html": models.Success(chapterHTML, ""),
	}}
	r := newTestServerWith(t, f, nil, func(cfg *config.Config) {
		cfg.RateLimit.NovelPerMinute = 1
		cfg.RateLimit.NovelBurst = 1
	})

	w := do(t, r, http.MethodPost, "/api/v1/novel", gin.H{"url": "https://n.test/dawn.html"}, testKey)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, http.MethodPost, "/api/v1/novel", gin.H{"url": "https://n.test/dawn.html"}, testKey)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), models.ErrCodeRateLimited)

	for i := 0; i < 3; i++ {
		w = do(t, r, http.MethodPost, "/api/v1/chapter", gin.H{"url": "https://n.test/dawn/chapter-1.html"}, testKey)
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
}
