package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func get(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("%s Content-Type = %q", path, ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s: decode body %q: %v", path, rec.Body.String(), err)
	}
	return rec, body
}

func pass(context.Context) error { return nil }

func TestHealthz(t *testing.T) {
	t.Parallel()
	failing := Checker{Name: "voice", Check: func(context.Context) error { return errors.New("down") }}

	rec, body := get(t, New(failing), "/healthz")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz = %d %v, want 200 ok regardless of checks", rec.Code, body)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "voice", Check: pass}, {Name: "api", Check: pass}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"voice": "ok", "api": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "voice", Check: pass},
				{Name: "api", Check: func(context.Context) error { return errors.New("connection refused") }},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"voice": "ok", "api": "fail: connection refused"},
		},
		{
			name:       "disconnected session",
			checkers:   []Checker{ConnectedCheck("voice", func() bool { return false })},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"voice": "fail: not connected"},
		},
		{
			name:       "connected session",
			checkers:   []Checker{ConnectedCheck("voice", func() bool { return true })},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"voice": "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, body := get(t, New(tt.checkers...), "/readyz")
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %q", body["status"], tt.wantStatus)
			}
			checks, _ := body["checks"].(map[string]any)
			if len(checks) != len(tt.wantChecks) {
				t.Errorf("checks = %v, want %v", checks, tt.wantChecks)
			}
			for name, want := range tt.wantChecks {
				if checks[name] != want {
					t.Errorf("check %q = %v, want %q", name, checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	var started atomic.Int32
	both := make(chan struct{})
	wait := func(ctx context.Context) error {
		if started.Add(1) == 2 {
			close(both)
		}
		select {
		case <-both:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return errors.New("ran alone")
		}
	}

	rec, body := get(t, New(Checker{Name: "a", Check: wait}, Checker{Name: "b", Check: wait}), "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("code = %d body = %v", rec.Code, body)
	}
}

func TestReadyz_CheckHasDeadline(t *testing.T) {
	t.Parallel()

	var remaining time.Duration
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			return errors.New("no deadline")
		}
		remaining = time.Until(deadline)
		return nil
	}})

	if rec, body := get(t, h, "/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("code = %d body = %v", rec.Code, body)
	}
	if remaining <= 0 || remaining > checkTimeout {
		t.Errorf("deadline in %v, want within %v", remaining, checkTimeout)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	rec, body := get(t, New(), "/status")
	if rec.Code != http.StatusNotFound || body["status"] != "fail" {
		t.Errorf("status without source = %d %v", rec.Code, body)
	}

	h := New().WithStatus(func() Snapshot {
		return Snapshot{Status: "error", Error: "boom", ConversationID: "conv-3"}
	})
	rec, body = get(t, h, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	want := map[string]any{"status": "error", "connected": false, "error": "boom", "conversation_id": "conv-3"}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("%s = %v, want %v", k, body[k], v)
		}
	}
}

func TestStatus_OmitsEmptyFields(t *testing.T) {
	t.Parallel()

	h := New().WithStatus(func() Snapshot { return Snapshot{Status: "listening", Connected: true} })
	_, body := get(t, h, "/status")
	for _, k := range []string{"error", "conversation_id"} {
		if _, ok := body[k]; ok {
			t.Errorf("body has %q: %v", k, body)
		}
	}
}

func TestRegister_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New().Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /healthz = %d, want 405", rec.Code)
	}
}
