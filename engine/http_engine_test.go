package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/lnfetch/models"
	"github.com/use-agent/lnfetch/session"
)

var page = "<html><head><title>Novel</title></head><body>" + strings.Repeat("<p>text</p>", 100) + "</body></html>"

func newTestEngine(t *testing.T, sess *session.State) *HTTPEngine {
	t.Helper()
	e, err := NewHTTPEngine(HTTPOptions{Timeout: 2 * time.Second}, sess, NewClassifier([]string{"synthetic wall"}, 500))
	require.NoError(t, err)
	return e
}

func TestHTTPEngine_AppliesSession(t *testing.T) {
	var gotUA, gotCookie, gotExtra string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotCookie = r.Header.Get("Cookie")
		gotExtra = r.Header.Get("X-Extra")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	sess := session.New("clear_tok", []string{"edge_bm"}, "default-ua")
	sess.Adopt([]*http.Cookie{{Name: "edge_bm", Value: "b"}, {Name: "clear_tok", Value: "a"}}, "solved-ua")

	e := newTestEngine(t, sess)
	out := e.Fetch(context.Background(), models.NewFetchRequest(srv.URL, map[string]string{"X-Extra": "1"}))

	require.Equal(t, models.KindSuccess, out.Kind(), out.String())
	assert.Equal(t, "solved-ua", gotUA)
	assert.Equal(t, "clear_tok=a; edge_bm=b", gotCookie)
	assert.Equal(t, "1", gotExtra)
	assert.Equal(t, page, out.HTML())
}

func TestHTTPEngine_Classifies(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    models.OutcomeKind
	}{
		{"blocked", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusForbidden) }, models.KindBlocked},
		{"gateway", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }, models.KindGateway},
		{"not found", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) }, models.KindPermanent},
		{"empty", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, "<html></html>") }, models.KindEmptyContent},
		{"challenge 200", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, page+"<div>Synthetic Wall</div>")
		}, models.KindBlocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			e := newTestEngine(t, session.New("clear_tok", nil, "ua"))
			out := e.Fetch(context.Background(), models.NewFetchRequest(srv.URL, nil))
			assert.Equal(t, tt.want, out.Kind(), out.String())
		})
	}
}

func TestHTTPEngine_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	e := newTestEngine(t, session.New("clear_tok", nil, "ua"))
	out := e.Fetch(context.Background(), models.NewFetchRequest(url, nil))
	assert.Equal(t, models.KindTransient, out.Kind())
	assert.Error(t, out.Cause())
}

func TestHTTPEngine_RateLimited(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	e, err := NewHTTPEngine(HTTPOptions{RPS: 1, Burst: 1}, session.New("clear_tok", nil, "ua"), NewClassifier(nil, 0))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	first := e.Fetch(ctx, models.NewFetchRequest(srv.URL, nil))
	second := e.Fetch(ctx, models.NewFetchRequest(srv.URL, nil))

	assert.Equal(t, models.KindSuccess, first.Kind())
	assert.Equal(t, models.KindTransient, second.Kind(), "second request should not fit in the limiter window")
	assert.Equal(t, int32(1), hits.Load())
}

func TestExtractTitle(t *testing.T) {
	assert.Equal(t, "Novel", extractTitle(page))
	assert.Equal(t, "", extractTitle("<p>no title</p>"))
}

func TestHTTPEngine_DebugLogOnlyWhenEnabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo} {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level}))
		e, err := NewHTTPEngine(HTTPOptions{Timeout: 2 * time.Second, Logger: logger},
			session.New("clear_tok", nil, "ua"), NewClassifier(nil, 500))
		require.NoError(t, err)

		out := e.Fetch(context.Background(), models.NewFetchRequest(srv.URL, nil))
		require.Equal(t, models.KindSuccess, out.Kind())
		if level == slog.LevelDebug {
			assert.Contains(t, buf.String(), "title=Novel")
		} else {
			assert.Empty(t, buf.String())
		}
	}
}

func TestCookieHeader_Empty(t *testing.T) {
	assert.Equal(t, "", cookieHeader(nil))
}
