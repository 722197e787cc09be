package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestWakeHandler(t *testing.T) {
	var woken atomic.Int32
	handler := WakeHandler(func() { woken.Add(1) })

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/wake", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if woken.Load() != 1 {
		t.Errorf("expected one wake, got %d", woken.Load())
	}
}

func TestWakeHandlerRejectsGet(t *testing.T) {
	handler := WakeHandler(func() { t.Error("GET must not wake the worker") })

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wake", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHTTPWakerPostsToURL(t *testing.T) {
	var method atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method.Store(r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	NewHTTPWaker(server.URL).Wake(context.Background())

	if method.Load() != http.MethodPost {
		t.Errorf("expected POST wake, got %v", method.Load())
	}
}

func TestHTTPWakerSwallowsFailures(t *testing.T) {
	// Unreachable endpoint: Wake must return without error or panic.
	NewHTTPWaker("http://127.0.0.1:1/wake").Wake(context.Background())
	NewHTTPWaker("").Wake(context.Background())
}
