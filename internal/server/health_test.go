package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func readiness(t *testing.T, h *HealthChecker) (int, HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec.Code, resp
}

func TestHealthChecker_Readiness(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	h := NewHealthChecker(time.Minute)
	h.now = func() time.Time { return now }

	code, resp := readiness(t, h)
	if code != http.StatusServiceUnavailable || resp.Status != healthStatusNotReady {
		t.Errorf("before first poll: %d %q, want 503 %q", code, resp.Status, healthStatusNotReady)
	}

	h.MarkPoll(nil)
	code, resp = readiness(t, h)
	if code != http.StatusOK || resp.Status != healthStatusOK {
		t.Errorf("after poll: %d %q, want 200 ok", code, resp.Status)
	}
	if resp.LastPoll != "2024-03-01T12:00:00Z" {
		t.Errorf("LastPoll = %q", resp.LastPoll)
	}

	now = now.Add(30 * time.Second)
	h.MarkPoll(errors.New("quota exceeded"))
	code, resp = readiness(t, h)
	if code != http.StatusOK {
		t.Errorf("one failed poll within MaxSilence: %d, want 200", code)
	}
	if resp.LastError != "quota exceeded" {
		t.Errorf("LastError = %q", resp.LastError)
	}

	now = now.Add(time.Minute)
	code, resp = readiness(t, h)
	if code != http.StatusServiceUnavailable || resp.Status != healthStatusStale {
		t.Errorf("after MaxSilence: %d %q, want 503 %q", code, resp.Status, healthStatusStale)
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(time.Minute)
	rec := httptest.NewRecorder()
	h.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}
