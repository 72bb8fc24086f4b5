// Package voice implements the realtime voice session: it captures the
// microphone, streams it to the simulation service, plays the service's
// synthesized speech back in order, and tracks the session status.
//
// A [Session] owns every resource of one live conversation (capture stream,
// transport connection, output sink, playback queue). All of them are driven
// by a single run-loop goroutine per connection, so the queue, the playing
// flag and the upload gate are never shared. Status, error and conversation
// id are guarded by a mutex and may be read from any goroutine.
//
// Typical usage:
//
//	s := voice.New(voice.Options{
//	    Microphone: portaudio.New(),
//	    Output:     speaker.New(),
//	    Endpoint:   ep,
//	    OnConversationID: func(id string) { ... },
//	})
//	if err := s.Connect(ctx); err != nil { ... }
//	defer s.Close()
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voicesim/internal/observe"
	"github.com/MrWong99/voicesim/pkg/audio"
	"github.com/MrWong99/voicesim/pkg/realtime"
)

const defaultWriteTimeout = 5 * time.Second

var (
	// ErrSuperseded is returned by Connect when a later Connect or a
	// Disconnect happened while it was acquiring resources. The resources
	// it acquired have been released.
	ErrSuperseded = errors.New("voice: connect superseded")

	// ErrRemote wraps error messages reported by the service.
	ErrRemote = errors.New("voice: remote error")
)

// Transport is the message channel used by a [Session]. [*realtime.Conn]
// implements it.
type Transport interface {
	Events() <-chan realtime.ServerMessage
	Err() error
	SendAudio(ctx context.Context, audio string) error
	Close() error
}

// Dialer opens a [Transport] to ep.
type Dialer func(ctx context.Context, ep realtime.Endpoint) (Transport, error)

// Options configures a [Session].
type Options struct {
	// Microphone and Output are required.
	Microphone audio.Microphone
	Output     audio.Output

	// Endpoint identifies the service and the participants. A non-empty
	// ConversationID resumes that conversation.
	Endpoint realtime.Endpoint

	// DialOptions are passed to [realtime.Dial] when Dialer is nil.
	DialOptions []realtime.Option

	// Dialer overrides how the transport is opened.
	Dialer Dialer

	// Capture is the microphone configuration. Zero means
	// [audio.DefaultCaptureConfig]. Its SampleRate also applies to playback.
	Capture audio.CaptureConfig

	// WriteTimeout bounds each outbound frame. Default: 5s.
	WriteTimeout time.Duration

	// OnConversationID is called from the run loop each time the service
	// assigns a conversation id.
	OnConversationID func(id string)

	// OnStatus is called after every status change with the new status and
	// the current error.
	OnStatus func(Status, error)

	// Metrics receives session counters. Nil means [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Session is one realtime voice conversation. It is safe for concurrent use.
type Session struct {
	opts    Options
	metrics *observe.Metrics

	mu             sync.Mutex
	status         Status
	err            error
	conversationID string
	gen            uint64
	run            *run
}

// New returns an idle [Session].
func New(opts Options) *Session {
	if opts.Capture == (audio.CaptureConfig{}) {
		opts.Capture = audio.DefaultCaptureConfig()
	}
	if opts.Capture.SampleRate <= 0 {
		opts.Capture.SampleRate = audio.SampleRate
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Dialer == nil {
		dialOpts := opts.DialOptions
		opts.Dialer = func(ctx context.Context, ep realtime.Endpoint) (Transport, error) {
			return realtime.Dial(ctx, ep, dialOpts...)
		}
	}
	m := opts.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Session{
		opts:           opts,
		metrics:        m,
		status:         StatusIdle,
		conversationID: opts.Endpoint.ConversationID,
	}
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the error that moved the session to [StatusError], or nil.
// It is cleared by Connect.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// IsConnected reports whether the session is listening or speaking.
func (s *Session) IsConnected() bool {
	return s.Status().IsConnected()
}

// ConversationID returns the conversation id bound by the service, or the
// one the session was configured to resume.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// SetConversationID sets the conversation the next Connect resumes. An empty
// id starts a new conversation.
func (s *Session) SetConversationID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = id
}

// Connect tears down any current connection, then acquires the microphone,
// the output, and the transport in that order. ctx bounds the acquisition
// only. On failure the session moves to [StatusError] and the error is also
// returned.
func (s *Session) Connect(ctx context.Context) error {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "voice.Connect")
	defer span.End()

	s.mu.Lock()
	old := s.detachLocked()
	s.gen++
	gen := s.gen
	s.err = nil
	ep := s.opts.Endpoint
	ep.ConversationID = s.conversationID
	notify := s.setStatusLocked(StatusConnecting)
	s.mu.Unlock()
	old.close()
	notify()

	if ep.ConversationID != "" {
		ctx = observe.WithConversation(ctx, ep.ConversationID)
		span.SetAttributes(observe.Attr("voicesim.conversation_id", ep.ConversationID))
	}
	log := observe.Logger(ctx).With("generation", gen)
	log.Info("voice: connecting", "url", ep.URL())

	capt, err := openCapture(ctx, s.opts.Microphone, s.opts.Capture)
	if err != nil {
		return s.connectFailed(ctx, span, start, gen, err)
	}
	if !s.current(gen) {
		capt.close()
		return ErrSuperseded
	}

	if s.opts.Output == nil {
		capt.close()
		return s.connectFailed(ctx, span, start, gen, errors.New("voice: no audio output configured"))
	}
	sink, err := s.opts.Output.Open(ctx, s.opts.Capture.SampleRate)
	if err != nil {
		capt.close()
		return s.connectFailed(ctx, span, start, gen, fmt.Errorf("voice: open output: %w", err))
	}
	if !s.current(gen) {
		capt.close()
		_ = sink.Close()
		return ErrSuperseded
	}

	conn, err := s.opts.Dialer(ctx, ep)
	if err != nil {
		capt.close()
		_ = sink.Close()
		return s.connectFailed(ctx, span, start, gen, fmt.Errorf("voice: open transport: %w", err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		ctx:     runCtx,
		cancel:  cancel,
		capture: capt,
		conn:    conn,
		sink:    sink,
		player:  newPlayer(runCtx, sink, s.opts.Capture.SampleRate, s.metrics),
		log:     log,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		r.close()
		return ErrSuperseded
	}
	s.run = r
	r.active = true
	s.metrics.ActiveSessions.Add(ctx, 1)
	capt.setEnabled(true)
	notify = s.setStatusLocked(StatusListening)
	s.mu.Unlock()

	s.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("outcome", "ok")))
	log.Info("voice: connected", "elapsed", time.Since(start))

	notify()
	go s.loop(r)
	return nil
}

// connectFailed records err for generation gen unless it has been
// superseded.
func (s *Session) connectFailed(ctx context.Context, span trace.Span, start time.Time, gen uint64, err error) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrSuperseded
	}
	s.err = err
	notify := s.setStatusLocked(StatusError)
	s.mu.Unlock()

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("outcome", "error")))
	observe.Logger(ctx).Error("voice: connect failed", "err", err)
	notify()
	return err
}

// Disconnect tears down every resource, clears [Session.Err] and moves the
// session to [StatusIdle]. A Connect still in progress returns
// [ErrSuperseded]. It does not wait for in-flight playback or writes.
// Idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	r := s.detachLocked()
	s.gen++
	s.err = nil
	notify := s.setStatusLocked(StatusIdle)
	s.mu.Unlock()

	r.close()
	notify()
}

// Close is an alias for [Session.Disconnect] for use with defer.
func (s *Session) Close() error {
	s.Disconnect()
	return nil
}

// current reports whether gen is still the latest Connect.
func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

// detachLocked removes the current run so that its late events are
// discarded. The caller closes it after releasing s.mu.
func (s *Session) detachLocked() *run {
	r := s.run
	s.run = nil
	if r != nil && r.active {
		r.active = false
		s.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	return r
}

// setStatusLocked changes the status and returns the observer notification
// to invoke once s.mu is released.
func (s *Session) setStatusLocked(st Status) func() {
	if s.status == st {
		return func() {}
	}
	s.status = st
	err := s.err
	s.metrics.RecordStatus(context.Background(), string(st))
	slog.Debug("voice: status", "status", st)
	if cb := s.opts.OnStatus; cb != nil {
		return func() { cb(st, err) }
	}
	return func() {}
}

// transition changes the status on behalf of r. It returns false if r is no
// longer the current run.
func (s *Session) transition(r *run, st Status) bool {
	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return false
	}
	notify := s.setStatusLocked(st)
	s.mu.Unlock()
	notify()
	return true
}

// end stops r, recording st and err as the final state.
func (s *Session) end(r *run, st Status, err error) {
	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return
	}
	s.detachLocked()
	s.gen++
	s.err = err
	notify := s.setStatusLocked(st)
	s.mu.Unlock()

	if err != nil {
		r.log.Error("voice: session failed", "err", err)
	} else {
		r.log.Info("voice: session closed", "status", st)
	}
	r.close()
	notify()
}

// ── Run loop ───────────────────────────────────────────────────────────────────

// run holds the resources of one connection.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc

	capture *capture
	conn    Transport
	sink    audio.Sink
	player  *player
	log     *slog.Logger

	// active is guarded by Session.mu.
	active bool

	closeOnce sync.Once
	done      chan struct{}
}

// close releases every resource in a fixed order: loop, capture, transport,
// sink. The queue is dropped by the loop on exit. Safe on nil and repeated.
func (r *run) close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		r.cancel()
		r.capture.close()
		_ = r.conn.Close()
		_ = r.sink.Close()
	})
}

// loop is the only goroutine that touches r.player and r.capture's gate.
func (s *Session) loop(r *run) {
	defer close(r.done)
	defer r.player.reset()

	events := r.conn.Events()
	frames := r.capture.frames()
	for {
		select {
		case <-r.ctx.Done():
			return

		case msg, ok := <-events:
			if !ok {
				s.transportEnded(r)
				return
			}
			if !s.handleMessage(r, msg) {
				return
			}

		case frame, ok := <-frames:
			if !ok {
				if r.ctx.Err() == nil {
					s.end(r, StatusError, r.capture.failure())
				}
				return
			}
			if !s.forwardFrame(r, frame) {
				return
			}

		case res := <-r.player.done:
			if r.player.finish(res) && !s.drain(r) {
				return
			}
		}
	}
}

// handleMessage applies one inbound event. It returns false once the run has
// ended.
func (s *Session) handleMessage(r *run, msg realtime.ServerMessage) bool {
	switch msg.Type {
	case realtime.TypeSessionCreated:
		if msg.Session == nil || msg.Session.ID == "" {
			r.log.Warn("voice: session.created without id")
			return true
		}
		id := msg.Session.ID
		s.mu.Lock()
		if s.run != r {
			s.mu.Unlock()
			return false
		}
		s.conversationID = id
		s.mu.Unlock()
		r.log.Info("voice: conversation bound", "conversation_id", id)
		if cb := s.opts.OnConversationID; cb != nil {
			cb(id)
		}

	case realtime.TypeAudioDelta:
		seg, err := audio.DecodeSegment(msg.Delta)
		if err != nil {
			s.metrics.SegmentsFailed.Add(r.ctx, 1)
			r.log.Warn("voice: skipping undecodable audio delta", "err", err)
			return true
		}
		if len(seg) == 0 {
			return true
		}
		s.metrics.SegmentsReceived.Add(r.ctx, 1)
		r.player.enqueue(seg)
		return s.drain(r)

	case realtime.TypeResponseDone:
		if r.player.idle() {
			r.capture.setEnabled(true)
			return s.transition(r, StatusListening)
		}

	case realtime.TypeError:
		s.end(r, StatusError, fmt.Errorf("%w: %s", ErrRemote, msg.ErrorMessage()))
		return false

	default:
		r.log.Debug("voice: ignoring event", "type", msg.Type)
	}
	return true
}

// drain starts the next queued segment if possible and moves the status and
// upload gate to match. It returns false once the run has ended.
func (s *Session) drain(r *run) bool {
	if r.player.pump() {
		r.capture.setEnabled(false)
		return s.transition(r, StatusSpeaking)
	}
	r.capture.setEnabled(true)
	return s.transition(r, StatusListening)
}

// forwardFrame uploads frame if the gate is open. It returns false once the
// run has ended.
func (s *Session) forwardFrame(r *run, frame []float32) bool {
	ctx, cancel := context.WithTimeout(r.ctx, s.opts.WriteTimeout)
	sent, err := r.capture.forward(ctx, frame, r.conn.SendAudio)
	cancel()
	switch {
	case err != nil:
		if r.ctx.Err() != nil {
			return false
		}
		s.end(r, StatusError, fmt.Errorf("voice: send audio: %w", err))
		return false
	case sent:
		s.metrics.FramesSent.Add(r.ctx, 1)
	default:
		s.metrics.FramesSuppressed.Add(r.ctx, 1)
	}
	return true
}

// transportEnded maps the end of the event stream to the final status: a
// close frame means idle, anything else is an error.
func (s *Session) transportEnded(r *run) {
	err := r.conn.Err()
	if realtime.IsClose(err) {
		if err != nil {
			r.log.Info("voice: transport closed", "reason", err)
		}
		s.end(r, StatusIdle, nil)
		return
	}
	s.end(r, StatusError, fmt.Errorf("voice: transport: %w", err))
}
