// Package health serves the probes of the voicesim diagnostics server.
//
//   - GET /healthz answers 200 while the process can serve HTTP.
//   - GET /readyz answers 200 only when every [Checker] passes.
//   - GET /status reports the voice session [Snapshot].
//
// Probe bodies are JSON objects with a "status" of "ok" or "fail" and, for
// /readyz, the outcome of each check keyed by name.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// Checker is one named readiness condition.
type Checker struct {
	// Name keys the check in the /readyz body.
	Name string
	// Check returns nil while the condition holds.
	Check func(ctx context.Context) error
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Snapshot is the /status body.
type Snapshot struct {
	Status         string `json:"status"`
	Connected      bool   `json:"connected"`
	Error          string `json:"error,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Handler answers the probe routes. The checker set is fixed by [New].
type Handler struct {
	checkers []Checker
	snapshot func() Snapshot
}

// New returns a Handler evaluating checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// WithStatus sets the source of /status snapshots and returns h.
func (h *Handler) WithStatus(fn func() Snapshot) *Handler {
	h.snapshot = fn
	return h
}

// Register mounts the probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /status", h.Status)
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every checker concurrently, each under [checkTimeout], and
// answers 503 if any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	outcomes := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			outcomes[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	rep := report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	code := http.StatusOK
	for i, c := range h.checkers {
		if err := outcomes[i]; err != nil {
			rep.Checks[c.Name] = "fail: " + err.Error()
			rep.Status = "fail"
			code = http.StatusServiceUnavailable
			continue
		}
		rep.Checks[c.Name] = "ok"
	}
	writeJSON(w, code, rep)
}

// Status writes the current [Snapshot], or 404 when no source is set.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	if h.snapshot == nil {
		writeJSON(w, http.StatusNotFound, report{Status: "fail"})
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}

// ErrNotConnected is reported by [ConnectedCheck] while the probe is false.
var ErrNotConnected = errors.New("not connected")

// ConnectedCheck passes while connected reports true.
func ConnectedCheck(name string, connected func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if connected() {
				return nil
			}
			return ErrNotConnected
		},
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"fail"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}
