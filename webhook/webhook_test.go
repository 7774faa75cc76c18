package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeliver_Signed(t *testing.T) {
	var gotSig string
	var gotEvent Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		if gotSig != Sign("s3cret", body) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.Unmarshal(body, &gotEvent)
	}))
	defer srv.Close()

	ev := &Event{Type: "novel.completed", JobID: "j1", Timestamp: 1}
	if err := Deliver(context.Background(), srv.URL, "s3cret", ev); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !strings.HasPrefix(gotSig, "sha256=") {
		t.Errorf("signature = %q", gotSig)
	}
	if gotEvent.JobID != "j1" {
		t.Errorf("event = %+v", gotEvent)
	}
}

func TestDeliver_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := Deliver(context.Background(), srv.URL, "", &Event{Type: "novel.failed"}); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestDeliverAsync_RetriesUntilAccepted(t *testing.T) {
	orig := retryDelays
	retryDelays = []time.Duration{0, time.Millisecond, time.Millisecond}
	defer func() { retryDelays = orig }()

	var hits atomic.Int32
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		close(done)
	}))
	defer srv.Close()

	DeliverAsync(srv.URL, "", &Event{Type: "novel.completed"})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never accepted")
	}
}

func TestTrigger(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		io.WriteString(w, `{"deploy":{"id":"dep-1"}}`)
	}))
	defer srv.Close()

	if err := Trigger(context.Background(), srv.Client(), srv.URL+"/deploy/srv-x?key=secret"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if method != http.MethodGet {
		t.Errorf("method = %s", method)
	}
}

func TestTrigger_ErrorDoesNotLeakURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	hook := srv.URL + "/deploy?key=topsecret"
	srv.Close()

	err := Trigger(context.Background(), nil, hook)
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "topsecret") {
		t.Errorf("error leaks hook secret: %v", err)
	}
}

func TestTrigger_RejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if err := Trigger(context.Background(), nil, srv.URL); err == nil {
		t.Fatal("expected error on 403")
	}
}
