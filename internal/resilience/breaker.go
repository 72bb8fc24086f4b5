// Package resilience protects calls to the simulation service from
// cascading failures.
//
// [Breaker] is a three-state circuit breaker (closed → open → half-open).
// Only failures the caller classifies as service faults count towards
// tripping it, so a rejected request does not lock out well-formed ones.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] while the breaker is open
// and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds tuning knobs for a [Breaker].
type Config struct {
	// Name labels log messages and the open error.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close the
	// breaker again. Default: 1.
	HalfOpenMax int

	// IsFailure classifies the error returned by a call. Errors it rejects
	// pass through without affecting the breaker. Default: every non-nil
	// error except context cancellation and deadline expiry.
	IsFailure func(error) bool

	// OnStateChange, when set, is called after every transition with the
	// breaker's lock released.
	OnStateChange func(from, to State)

	now func() time.Time
}

// Breaker implements the three-state circuit breaker pattern.
type Breaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// New creates a [Breaker]. Zero-value config fields take their defaults.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = DefaultIsFailure
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// DefaultIsFailure counts every error except cancellation by the caller.
func DefaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Execute runs fn if the breaker admits the call and records its outcome.
// A rejected call returns an error wrapping [ErrCircuitOpen] and fn is not
// run. ctx is checked before admission.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	probe, notify, err := b.admit()
	notify()
	if err != nil {
		return err
	}

	callErr := fn(ctx)

	b.mu.Lock()
	if b.cfg.IsFailure(callErr) {
		notify = b.recordFailureLocked(probe)
	} else {
		notify = b.recordSuccessLocked(probe)
	}
	b.mu.Unlock()
	notify()
	return callErr
}

// admit decides whether a call may proceed and reports whether it is a
// half-open probe.
func (b *Breaker) admit() (probe bool, notify func(), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	notify = func() {}
	switch b.state {
	case StateOpen:
		if b.cfg.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false, notify, fmt.Errorf("%s: %w", b.cfg.Name, ErrCircuitOpen)
		}
		notify = b.setStateLocked(StateHalfOpen)
		b.probes, b.probeSuccesses = 0, 0
		slog.Info("circuit breaker probing", "name", b.cfg.Name)
	case StateHalfOpen:
		if b.probes >= b.cfg.HalfOpenMax {
			return false, notify, fmt.Errorf("%s: %w", b.cfg.Name, ErrCircuitOpen)
		}
	}

	if b.state == StateHalfOpen {
		b.probes++
		return true, notify, nil
	}
	return false, notify, nil
}

func (b *Breaker) recordFailureLocked(probe bool) func() {
	if probe || b.state == StateHalfOpen {
		slog.Warn("circuit breaker re-opened", "name", b.cfg.Name)
		return b.openLocked()
	}
	b.consecutiveFail++
	if b.state == StateClosed && b.consecutiveFail >= b.cfg.MaxFailures {
		slog.Warn("circuit breaker opened",
			"name", b.cfg.Name,
			"consecutive_failures", b.consecutiveFail)
		return b.openLocked()
	}
	return func() {}
}

func (b *Breaker) recordSuccessLocked(probe bool) func() {
	if !probe {
		if b.state == StateClosed {
			b.consecutiveFail = 0
		}
		return func() {}
	}
	if b.state != StateHalfOpen {
		return func() {}
	}
	b.probeSuccesses++
	if b.probeSuccesses < b.cfg.HalfOpenMax {
		// Let the next probe in.
		b.probes = b.probeSuccesses
		return func() {}
	}
	b.consecutiveFail = 0
	slog.Info("circuit breaker closed", "name", b.cfg.Name)
	return b.setStateLocked(StateClosed)
}

func (b *Breaker) openLocked() func() {
	b.openedAt = b.cfg.now()
	b.consecutiveFail = 0
	return b.setStateLocked(StateOpen)
}

// setStateLocked moves to st and returns the notification to run after the
// lock is released.
func (b *Breaker) setStateLocked(st State) func() {
	from := b.state
	b.state = st
	if from == st || b.cfg.OnStateChange == nil {
		return func() {}
	}
	cb := b.cfg.OnStateChange
	return func() { cb(from, st) }
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.cfg.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [StateClosed].
func (b *Breaker) Reset() {
	b.mu.Lock()
	notify := b.setStateLocked(StateClosed)
	b.consecutiveFail = 0
	b.probes, b.probeSuccesses = 0, 0
	b.mu.Unlock()
	notify()
}
