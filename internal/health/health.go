// Package health provides HTTP health and readiness check handlers.
//
// The package exposes two endpoints:
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when no registered
//     [Checker] fails. Degraded checks keep the probe green but are
//     reported in the body, so a struggling engine shows up without the
//     supervisor restarting a pipeline that is still making progress.
//
// Responses are JSON objects with a top-level "status" field ("ok",
// "degraded", or "fail") and a "checks" map with the result of each named
// checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// ErrDegraded marks a check that is impaired but not failed. Wrap it (or
// return it directly) from a Check function to report degradation without
// flipping readiness.
var ErrDegraded = errors.New("degraded")

// Checker is a named health check function. The Check function returns nil
// when the dependency is healthy, an error wrapping [ErrDegraded] when it
// is impaired, and any other error when it is down.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "engine",
	// "sink"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// DegradedCheck adapts a boolean degradation signal, such as the
// scheduler's engine failure streak, into a [Checker].
func DegradedCheck(name string, degraded func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if degraded() {
				return ErrDegraded
			}
			return nil
		},
	}
}

// PingCheck adapts a ping function, such as the postgres sink's Ping, into
// a [Checker].
func PingCheck(name string, ping func(ctx context.Context) error) Checker {
	return Checker{Name: name, Check: ping}
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz endpoints. It is safe for concurrent
// use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. The checkers are evaluated sequentially in the order provided.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 unless a checker fails
// outright. Each checker is given a context with a [checkTimeout] deadline
// derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	worst := "ok"

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		switch {
		case err == nil:
			checks[c.Name] = "ok"
		case errors.Is(err, ErrDegraded):
			checks[c.Name] = "degraded: " + err.Error()
			if worst == "ok" {
				worst = "degraded"
			}
		default:
			checks[c.Name] = "fail: " + err.Error()
			worst = "fail"
		}
	}

	status := http.StatusOK
	if worst == "fail" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, result{Status: worst, Checks: checks})
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
