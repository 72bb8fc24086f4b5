// Package speaker implements [audio.Output] with the beep audio library.
//
// Buffers handed to [Sink.Play] are decoded by beep's WAV decoder and mixed
// into the process-wide speaker. The speaker is initialised lazily by the
// first [Output.Open] and reinitialised when a later Open asks for a
// different sample rate.
package speaker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"

	"github.com/MrWong99/voicesim/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Output = (*Output)(nil)
	_ audio.Sink   = (*Sink)(nil)
)

// defaultLatency is the speaker buffer duration.
const defaultLatency = 100 * time.Millisecond

// resampleQuality is passed to beep.Resample when a buffer's rate differs
// from the speaker's.
const resampleQuality = 4

// Option configures an [Output].
type Option func(*Output)

// WithLatency overrides the speaker buffer duration.
func WithLatency(d time.Duration) Option {
	return func(o *Output) {
		if d > 0 {
			o.latency = d
		}
	}
}

// Output opens beep-backed sinks.
type Output struct {
	latency time.Duration

	mu   sync.Mutex
	rate beep.SampleRate
}

// New returns an Output with the given options.
func New(opts ...Option) *Output {
	o := &Output{latency: defaultLatency}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open implements [audio.Output].
func (o *Output) Open(ctx context.Context, sampleRate int) (audio.Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sr := beep.SampleRate(sampleRate)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rate != sr {
		if err := speaker.Init(sr, sr.N(o.latency)); err != nil {
			return nil, fmt.Errorf("speaker: init at %d Hz: %w", sampleRate, err)
		}
		o.rate = sr
	}
	return newSink(sr, speaker.Play), nil
}

// Sink plays WAV buffers on the shared speaker. Closing a sink silences only
// the buffers it started; other sinks on the speaker keep playing.
type Sink struct {
	rate beep.SampleRate
	play func(...beep.Streamer)

	mu     sync.Mutex
	closed bool
	tracks map[*track]struct{}
}

func newSink(rate beep.SampleRate, play func(...beep.Streamer)) *Sink {
	return &Sink{rate: rate, play: play, tracks: make(map[*track]struct{})}
}

// Play implements [audio.Sink]. done receives [audio.ErrClosed] when the
// sink is closed before buf finishes.
func (s *Sink) Play(buf []byte, done func(error)) error {
	streamer, format, err := wav.Decode(bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("speaker: decode wav: %w", err)
	}

	var src beep.Streamer = streamer
	if format.SampleRate != s.rate {
		src = beep.Resample(resampleQuality, format.SampleRate, s.rate, streamer)
	}
	t := &track{src: src, decoder: streamer, done: done, sink: s}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = streamer.Close()
		return audio.ErrClosed
	}
	s.tracks[t] = struct{}{}
	s.mu.Unlock()

	// s.mu must not be held here: the speaker calls back into the sink
	// with its own lock held.
	s.play(t)
	return nil
}

// Close implements [audio.Sink]. Buffers still playing are stopped and
// their callbacks receive [audio.ErrClosed].
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	tracks := s.tracks
	s.tracks = nil
	s.mu.Unlock()

	for t := range tracks {
		t.stop()
	}
	slog.Debug("speaker: sink closed", "interrupted", len(tracks))
	return nil
}

func (s *Sink) forget(t *track) {
	s.mu.Lock()
	delete(s.tracks, t)
	s.mu.Unlock()
}

// track is one buffer on the speaker. Once stopped it reports itself
// drained, so the speaker drops it on its next pass.
type track struct {
	src     beep.Streamer
	decoder beep.StreamSeekCloser
	done    func(error)
	sink    *Sink

	stopped  atomic.Bool
	finished sync.Once
	released sync.Once
}

// Stream implements [beep.Streamer]. It runs on the speaker goroutine.
func (t *track) Stream(samples [][2]float64) (int, bool) {
	if t.stopped.Load() {
		t.release()
		return 0, false
	}
	n, ok := t.src.Stream(samples)
	if !ok {
		err := t.src.Err()
		if cerr := t.release(); cerr != nil && err == nil {
			err = cerr
		}
		t.sink.forget(t)
		t.finish(err)
	}
	return n, ok
}

// Err implements [beep.Streamer].
func (t *track) Err() error { return t.src.Err() }

func (t *track) stop() {
	t.stopped.Store(true)
	t.finish(audio.ErrClosed)
}

// finish reports completion once. The speaker lock may be held by the
// caller, so done runs on its own goroutine.
func (t *track) finish(err error) {
	t.finished.Do(func() {
		if t.done != nil {
			go t.done(err)
		}
	})
}

// release closes the decoder once. It is only called from the speaker
// goroutine so it never races with Stream.
func (t *track) release() error {
	var err error
	t.released.Do(func() { err = t.decoder.Close() })
	return err
}
