// Package mock provides in-memory mock implementations of the [audio.Microphone],
// [audio.CaptureStream], [audio.Output], and [audio.Sink] interfaces for use in
// unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewCaptureStream(8)
//	mic := &mock.Microphone{OpenResult: stream}
//	sink := &mock.Sink{}
//	out := &mock.Output{OpenResult: sink}
//	// … drive the session, then:
//	stream.Push(make([]float32, 4096))
//	sink.Complete(nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicesim/pkg/audio"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// OpenResult is returned by [Microphone.Open]. When nil, a fresh
	// [CaptureStream] with a buffer of 16 frames is created per call.
	OpenResult *CaptureStream

	// OpenError, when non-nil, is returned by [Microphone.Open] instead of a
	// stream.
	OpenError error

	// OpenCalls records the configuration passed to every Open call.
	OpenCalls []audio.CaptureConfig

	// Block, when non-nil, makes Open wait until the channel is closed or ctx
	// is done. Use it to hold a Connect at its first suspension point.
	Block chan struct{}
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(ctx context.Context, cfg audio.CaptureConfig) (audio.CaptureStream, error) {
	m.mu.Lock()
	m.OpenCalls = append(m.OpenCalls, cfg)
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenError != nil {
		return nil, m.OpenError
	}
	if m.OpenResult == nil {
		return NewCaptureStream(16), nil
	}
	return m.OpenResult, nil
}

// OpenCount returns how many times Open was called.
func (m *Microphone) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.OpenCalls)
}

// ─── CaptureStream ────────────────────────────────────────────────────────────

// CaptureStream is a mock implementation of [audio.CaptureStream]. Frames are
// injected with [CaptureStream.Push].
type CaptureStream struct {
	frames chan []float32

	mu     sync.Mutex
	closed bool

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// StreamErr is returned by Err once the stream is closed.
	StreamErr error
}

// NewCaptureStream returns a stream whose Frames channel has the given buffer.
func NewCaptureStream(buffer int) *CaptureStream {
	return &CaptureStream{frames: make(chan []float32, buffer)}
}

// Frames implements [audio.CaptureStream].
func (s *CaptureStream) Frames() <-chan []float32 { return s.frames }

// Err implements [audio.CaptureStream].
func (s *CaptureStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StreamErr
}

// Push delivers frame to the consumer. It reports false if the stream has
// been closed.
func (s *CaptureStream) Push(frame []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frames <- frame
	return true
}

// Close implements [audio.CaptureStream].
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *CaptureStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Output is a mock implementation of [audio.Output].
type Output struct {
	mu sync.Mutex

	// OpenResult is returned by [Output.Open]. When nil, a fresh [Sink] is
	// created per call.
	OpenResult *Sink

	// OpenError, when non-nil, is returned by [Output.Open].
	OpenError error

	// OpenSampleRates records the sample rate passed to every Open call.
	OpenSampleRates []int
}

// Open implements [audio.Output].
func (o *Output) Open(_ context.Context, sampleRate int) (audio.Sink, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.OpenSampleRates = append(o.OpenSampleRates, sampleRate)
	if o.OpenError != nil {
		return nil, o.OpenError
	}
	if o.OpenResult == nil {
		return &Sink{}, nil
	}
	return o.OpenResult, nil
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink]. Each Play call records the
// buffer and parks its completion callback until the test calls
// [Sink.Complete], unless AutoComplete is set.
type Sink struct {
	mu sync.Mutex

	// PlayError, when non-nil, is returned by Play for every call.
	PlayError error

	// FailPayloads lists PCM payload lengths (excluding the WAV header) for
	// which Play returns PlayErrorForPayload instead of starting playback.
	FailPayloads map[int]bool

	// PlayErrorForPayload is returned for payloads listed in FailPayloads.
	PlayErrorForPayload error

	// AutoComplete makes every Play finish immediately on a new goroutine.
	AutoComplete bool

	// Played records every buffer accepted by Play, in order.
	Played [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int

	pending     []func(error)
	maxInFlight int
	closed      bool

	// notify receives a value after each accepted Play.
	notify chan struct{}
}

// Play implements [audio.Sink].
func (s *Sink) Play(wav []byte, done func(error)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return audio.ErrClosed
	}
	if s.PlayError != nil {
		err := s.PlayError
		s.mu.Unlock()
		return err
	}
	if payload := len(wav) - audio.WAVHeaderSize; s.FailPayloads[payload] {
		err := s.PlayErrorForPayload
		s.mu.Unlock()
		return err
	}
	s.Played = append(s.Played, wav)
	if s.AutoComplete {
		notify := s.notifyLocked()
		s.mu.Unlock()
		signal(notify)
		go done(nil)
		return nil
	}
	s.pending = append(s.pending, done)
	s.maxInFlight = max(s.maxInFlight, len(s.pending))
	notify := s.notifyLocked()
	s.mu.Unlock()
	signal(notify)
	return nil
}

// Complete finishes the oldest in-flight buffer with err. It reports false if
// nothing is playing.
func (s *Sink) Complete(err error) bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	done := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()
	done(err)
	return true
}

// InFlight returns the number of buffers started but not yet completed.
func (s *Sink) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// MaxInFlight returns the highest number of simultaneously in-flight buffers
// ever observed.
func (s *Sink) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

// PlayedCount returns the number of buffers accepted so far.
func (s *Sink) PlayedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Played)
}

// PlayedPayloads returns the PCM payloads (WAV header stripped) in play order.
func (s *Sink) PlayedPayloads() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.Played))
	for i, wav := range s.Played {
		out[i] = wav[audio.WAVHeaderSize:]
	}
	return out
}

// Started returns a channel that receives a value every time Play accepts a
// buffer.
func (s *Sink) Started() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifyLocked()
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Sink) notifyLocked() chan struct{} {
	if s.notify == nil {
		s.notify = make(chan struct{}, 64)
	}
	return s.notify
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
