package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Health status constants for health check responses.
const (
	healthStatusOK       = "ok"
	healthStatusNotReady = "not ready"
	healthStatusStale    = "stale"
)

// HealthChecker reports whether the inbound watcher is keeping up. The
// watcher calls MarkPoll after every successful poll; readiness fails
// when no poll succeeded within MaxSilence.
type HealthChecker struct {
	// MaxSilence is how long the watcher may go without a successful poll.
	MaxSilence time.Duration

	now       func() time.Time
	startTime time.Time

	mu       sync.Mutex
	lastPoll time.Time
	lastErr  string
	polls    int
}

// NewHealthChecker creates a HealthChecker allowing maxSilence between polls.
func NewHealthChecker(maxSilence time.Duration) *HealthChecker {
	return &HealthChecker{
		MaxSilence: maxSilence,
		now:        time.Now,
		startTime:  time.Now(),
	}
}

// MarkPoll records a poll. A nil err marks it successful.
func (h *HealthChecker) MarkPoll(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.lastErr = err.Error()
		return
	}
	h.lastPoll = h.now()
	h.lastErr = ""
	h.polls++
}

// HealthResponse represents the JSON response for health endpoints.
type HealthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime,omitempty"`
	LastPoll  string `json:"last_poll,omitempty"`
	Polls     int    `json:"polls"`
	LastError string `json:"last_error,omitempty"`
}

// LivenessHandler returns an HTTP handler for the /healthz endpoint.
// It only reports that the process is serving.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, http.StatusOK, HealthResponse{
			Status: healthStatusOK,
			Uptime: time.Since(h.startTime).Truncate(time.Second).String(),
		})
	})
}

// ReadinessHandler returns an HTTP handler for the /readyz endpoint.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h.mu.Lock()
		resp := HealthResponse{Status: healthStatusOK, Polls: h.polls, LastError: h.lastErr}
		last := h.lastPoll
		h.mu.Unlock()

		code := http.StatusOK
		switch {
		case last.IsZero():
			resp.Status = healthStatusNotReady
			code = http.StatusServiceUnavailable
		case h.MaxSilence > 0 && h.now().Sub(last) > h.MaxSilence:
			resp.Status = healthStatusStale
			code = http.StatusServiceUnavailable
		}
		if !last.IsZero() {
			resp.LastPoll = last.UTC().Format(time.RFC3339)
		}
		writeHealth(w, code, resp)
	})
}

// RegisterHealthEndpoints registers health check endpoints on the given mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
}

func writeHealth(w http.ResponseWriter, code int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
