package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubChecker struct {
	err error
}

func (c stubChecker) HealthCheck(ctx context.Context) error {
	return c.err
}

func TestHealthAlwaysHealthy(t *testing.T) {
	handlers := NewHealthHandlers(stubChecker{err: errors.New("db down")})

	rec := httptest.NewRecorder()
	handlers.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("liveness must not depend on the database, got %d", rec.Code)
	}
}

func TestReadyHealthy(t *testing.T) {
	handlers := NewHealthHandlers(stubChecker{})

	rec := httptest.NewRecorder()
	handlers.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "healthy" || resp.Checks["database"] != "ok" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestReadyUnhealthyDatabase(t *testing.T) {
	handlers := NewHealthHandlers(stubChecker{err: errors.New("connection refused")})

	rec := httptest.NewRecorder()
	handlers.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "unhealthy" || resp.Checks["database"] != "error" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestReadyWithoutDatabaseChecker(t *testing.T) {
	handlers := NewHealthHandlers(nil)

	rec := httptest.NewRecorder()
	handlers.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 without a configured database, got %d", rec.Code)
	}
}
