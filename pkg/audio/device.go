// Package audio holds the PCM codec and the device abstractions used by the
// realtime voice client.
//
// The two device abstractions are:
//
//   - [Microphone]: opens a [CaptureStream] that delivers fixed-size mono
//     float frames.
//   - [Output]: opens a [Sink] that plays self-describing WAV buffers one
//     at a time and reports completion through a callback.
//
// Hardware-backed implementations live in audio/portaudio and audio/speaker;
// audio/mock provides scriptable in-memory versions for tests. The codec
// helpers ([EncodeFrame], [WrapWAV], …) carry no state and never fail on
// malformed sample data; callers validate before decoding.
package audio

import (
	"context"
	"errors"
)

// ErrClosed is returned by device operations after Close.
var ErrClosed = errors.New("audio: device closed")

// CaptureConfig describes the microphone stream requested by the session.
type CaptureConfig struct {
	// SampleRate in Hz. Must match the codec's assumptions (see [SampleRate]).
	SampleRate int

	// Channels is the channel count; the voice client always requests mono.
	Channels int

	// FrameSize is the number of samples delivered per frame.
	FrameSize int

	// Device selects an input device by name. Empty means the system default.
	Device string

	// Acoustic preprocessing requested from the host. Backends that cannot
	// honour a flag log it once and continue without it.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultCaptureConfig returns the 24 kHz mono, 4096-sample configuration
// with all acoustic preprocessing enabled.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate:       SampleRate,
		Channels:         Channels,
		FrameSize:        FrameSize,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Microphone acquires capture streams. Implementations must be safe for
// concurrent use.
type Microphone interface {
	// Open acquires the input device and starts capturing. ctx bounds the
	// acquisition only; the stream lives until Close.
	Open(ctx context.Context, cfg CaptureConfig) (CaptureStream, error)
}

// CaptureStream is a live microphone stream.
type CaptureStream interface {
	// Frames delivers captured frames in capture order. Each slice is owned
	// by the receiver. The channel is closed when the stream stops.
	Frames() <-chan []float32

	// Err reports why Frames was closed, or nil after a normal Close.
	Err() error

	// Close stops capture and releases the device. Idempotent.
	Close() error
}

// Output acquires playback sinks. Implementations must be safe for
// concurrent use.
type Output interface {
	// Open creates an output context at the given sample rate.
	Open(ctx context.Context, sampleRate int) (Sink, error)
}

// Sink plays WAV buffers produced by [WrapWAV].
type Sink interface {
	// Play decodes wav and starts playing it immediately. done is invoked
	// exactly once, from any goroutine, when playback ends or fails after
	// starting. When Play itself returns an error, done is not invoked.
	Play(wav []byte, done func(error)) error

	// Close stops any playback in progress and releases the output. done
	// callbacks of interrupted buffers may still fire. Idempotent.
	Close() error
}
