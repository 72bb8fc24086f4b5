package voice_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voicesim/internal/voice"
	"github.com/MrWong99/voicesim/pkg/realtime"
)

func TestReconnector_ResumesConversation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, freshDevices)
	tr := h.connect(t)

	tr.emit(realtime.ServerMessage{Type: realtime.TypeSessionCreated, Session: &realtime.SessionInfo{ID: "conv-r"}})
	eventually(t, "conversation id", func() bool { return h.session.ConversationID() == "conv-r" })
	tr.end(errors.New("connection reset by peer"))
	waitStatus(t, h.session, voice.StatusError)

	var attempts []int
	r := voice.NewReconnector(h.session, voice.ReconnectorConfig{
		Backoff:     time.Millisecond,
		DialTimeout: time.Second,
		OnAttempt:   func(n int, _ error) { attempts = append(attempts, n) },
	})
	if err := r.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if got := h.session.Status(); got != voice.StatusListening {
		t.Errorf("Status = %q, want listening", got)
	}
	if h.session.Err() != nil {
		t.Errorf("Err = %v after reconnect", h.session.Err())
	}
	if len(attempts) != 1 {
		t.Errorf("attempts = %v, want one", attempts)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.endpoints) != 2 {
		t.Fatalf("dials = %d, want 2", len(h.endpoints))
	}
	if got := h.endpoints[1].ConversationID; got != "conv-r" {
		t.Errorf("resumed conversation = %q, want conv-r", got)
	}
}

func TestReconnector_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()
	h := newHarness(t, freshDevices)
	h.mu.Lock()
	h.dialErr = errors.New("service unavailable")
	h.mu.Unlock()

	var (
		mu       sync.Mutex
		failures int
	)
	r := voice.NewReconnector(h.session, voice.ReconnectorConfig{
		MaxRetries: 3,
		Backoff:    time.Millisecond,
		MaxBackoff: 2 * time.Millisecond,
		OnAttempt: func(_ int, err error) {
			if err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
			}
		},
	})
	err := r.Reconnect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "after 3 attempts") || !strings.Contains(err.Error(), "service unavailable") {
		t.Fatalf("err = %v", err)
	}

	if got := h.session.Status(); got != voice.StatusError {
		t.Errorf("Status = %q, want error", got)
	}
	mu.Lock()
	if failures != 3 {
		t.Errorf("failed attempts = %d, want 3", failures)
	}
	mu.Unlock()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.endpoints) != 3 {
		t.Errorf("dials = %d, want 3", len(h.endpoints))
	}
}

func TestReconnector_StopsOnCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, freshDevices)
	h.mu.Lock()
	h.dialErr = errors.New("down")
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	r := voice.NewReconnector(h.session, voice.ReconnectorConfig{
		MaxRetries: 10,
		Backoff:    time.Hour,
		OnAttempt:  func(int, error) { cancel() },
	})

	done := make(chan error, 1)
	go func() { done <- r.Reconnect(ctx) }()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Reconnect did not return after cancel")
	}
}
