// Package health provides Kubernetes-style liveness and readiness probes.
//
// Checks run on demand when a probe endpoint is hit, each bounded by its own
// timeout. Readiness additionally gates on an explicit SetReady flag so a
// service can finish wiring before it starts accepting traffic.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes a single component. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc
}

// Health aggregates liveness and readiness checks for a service.
type Health struct {
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []check
	readiness []check
}

// New creates a Health instance. The service starts not ready; call
// SetReady(true) once initialization has finished.
func New() *Health {
	return &Health{}
}

// SetReady flips the explicit readiness gate.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// AddLivenessCheck registers a liveness check. Liveness failure signals the
// process itself is broken and should be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, check{name: name, timeout: timeout, fn: fn})
}

// AddReadinessCheck registers a readiness check. Readiness failure means the
// service should be taken out of rotation without being restarted.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, check{name: name, timeout: timeout, fn: fn})
}

// LiveEndpoint serves the liveness probe.
func (h *Health) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := h.liveness
	h.mu.RUnlock()
	h.respond(w, r, h.runChecks(r.Context(), checks), true)
}

// ReadyEndpoint serves the readiness probe. It fails while SetReady(false)
// regardless of individual check results.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := h.readiness
	h.mu.RUnlock()

	results := h.runChecks(r.Context(), checks)
	ok := h.ready.Load()
	if !ok {
		results["ready"] = "service not ready"
	}
	h.respond(w, r, results, ok)
}

// runChecks executes every check with its own timeout and collects failures.
func (h *Health) runChecks(ctx context.Context, checks []check) map[string]string {
	failures := make(map[string]string)
	for _, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		if err := c.fn(checkCtx); err != nil {
			failures[c.name] = err.Error()
		}
		cancel()
	}
	return failures
}

func (h *Health) respond(w http.ResponseWriter, r *http.Request, failures map[string]string, gate bool) {
	status := http.StatusOK
	if !gate || len(failures) > 0 {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if r.URL.Query().Get("full") == "1" {
		_ = json.NewEncoder(w).Encode(failures)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": http.StatusText(status)})
}
