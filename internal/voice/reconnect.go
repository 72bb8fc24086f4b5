package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 5
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// MaxRetries is the number of Connect attempts before giving up.
	// Default: 5.
	MaxRetries int

	// Backoff is the wait after the first failed attempt. It doubles after
	// every further failure up to MaxBackoff. Default: 1s.
	Backoff time.Duration

	// MaxBackoff caps the wait between attempts. Default: 30s.
	MaxBackoff time.Duration

	// DialTimeout bounds each attempt. Zero means only ctx bounds it.
	DialTimeout time.Duration

	// OnAttempt, when set, is called after every attempt with its 1-based
	// number and outcome.
	OnAttempt func(attempt int, err error)
}

// Reconnector brings a failed [Session] back, resuming the conversation the
// service last reported. A Session never reconnects by itself; callers that
// want that behaviour drive a Reconnector after observing
// [StatusError].
type Reconnector struct {
	session *Session
	cfg     ReconnectorConfig
}

// NewReconnector returns a [Reconnector] for s.
func NewReconnector(s *Session, cfg ReconnectorConfig) *Reconnector {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = cfg.Backoff
	}
	return &Reconnector{session: s, cfg: cfg}
}

// Reconnect calls [Session.Connect] with exponential backoff until an
// attempt succeeds, ctx is done, or MaxRetries attempts have failed. It
// stops early with [ErrSuperseded] when another Connect or Disconnect
// overtakes an attempt.
func (r *Reconnector) Reconnect(ctx context.Context) error {
	backoff := r.cfg.Backoff
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		slog.Info("voice: reconnecting",
			"attempt", attempt,
			"max_retries", r.cfg.MaxRetries,
			"conversation_id", r.session.ConversationID(),
		)
		err := r.connect(ctx)
		if r.cfg.OnAttempt != nil {
			r.cfg.OnAttempt(attempt, err)
		}
		if err == nil {
			slog.Info("voice: reconnected", "attempt", attempt)
			return nil
		}
		if errors.Is(err, ErrSuperseded) {
			return err
		}
		lastErr = err
		slog.Warn("voice: reconnect attempt failed", "attempt", attempt, "err", err)

		if attempt == r.cfg.MaxRetries {
			break
		}
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff = min(backoff*2, r.cfg.MaxBackoff)
	}

	return fmt.Errorf("voice: reconnect failed after %d attempts: %w", r.cfg.MaxRetries, lastErr)
}

func (r *Reconnector) connect(ctx context.Context) error {
	if r.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.DialTimeout)
		defer cancel()
	}
	return r.session.Connect(ctx)
}
