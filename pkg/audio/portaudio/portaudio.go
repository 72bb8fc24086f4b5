// Package portaudio implements [audio.Microphone] on top of PortAudio.
//
// PortAudio has no acoustic preprocessing of its own, so the echo
// cancellation, noise suppression, and gain control flags of
// [audio.CaptureConfig] are honoured only to the extent that the host audio
// system applies them to the selected device. When the device rejects the
// requested sample rate, the stream is opened at the device default and
// converted in software with [audio.Reframer].
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voicesim/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone    = (*Microphone)(nil)
	_ audio.CaptureStream = (*stream)(nil)
)

// frameBuffer is the number of frames buffered between the PortAudio callback
// and the consumer before frames are dropped.
const frameBuffer = 32

var (
	initMu    sync.Mutex
	initCount int
)

// acquire initialises PortAudio on first use. Calls must be balanced with
// release.
func acquire() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initCount == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w", err)
		}
	}
	initCount++
	return nil
}

func release() {
	initMu.Lock()
	defer initMu.Unlock()
	if initCount == 0 {
		return
	}
	initCount--
	if initCount == 0 {
		if err := portaudio.Terminate(); err != nil {
			slog.Warn("portaudio: terminate", "err", err)
		}
	}
}

// Microphone opens PortAudio input streams.
type Microphone struct{}

// New returns a PortAudio-backed microphone.
func New() *Microphone { return &Microphone{} }

// Open implements [audio.Microphone].
func (m *Microphone) Open(ctx context.Context, cfg audio.CaptureConfig) (audio.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := acquire(); err != nil {
		return nil, err
	}

	dev, err := findInput(cfg.Device)
	if err != nil {
		release()
		return nil, err
	}

	if cfg.EchoCancellation || cfg.NoiseSuppression || cfg.AutoGainControl {
		slog.Debug("portaudio: acoustic preprocessing is delegated to the host audio system",
			"device", dev.Name,
			"echo_cancellation", cfg.EchoCancellation,
			"noise_suppression", cfg.NoiseSuppression,
			"auto_gain_control", cfg.AutoGainControl,
		)
	}

	s := &stream{
		frames: make(chan []float32, frameBuffer),
		reframer: audio.Reframer{
			FrameSize:  cfg.FrameSize,
			TargetRate: cfg.SampleRate,
		},
	}

	channels := max(cfg.Channels, 1)
	pa, err := openInput(dev, cfg.SampleRate, channels, cfg.FrameSize, s.process)
	if err != nil {
		// Fall back to the device's native rate and convert in software.
		slog.Warn("portaudio: requested sample rate rejected, using device default",
			"device", dev.Name,
			"requested", cfg.SampleRate,
			"default", dev.DefaultSampleRate,
			"err", err,
		)
		s.reframer.SourceRate = int(dev.DefaultSampleRate)
		s.reframer.SourceChannels = channels
		pa, err = openInput(dev, dev.DefaultSampleRate, channels, 0, s.process)
		if err != nil {
			release()
			return nil, fmt.Errorf("portaudio: open %q: %w", dev.Name, err)
		}
	} else if channels > 1 {
		s.reframer.SourceChannels = channels
	}

	if err := pa.Start(); err != nil {
		_ = pa.Close()
		release()
		return nil, fmt.Errorf("portaudio: start %q: %w", dev.Name, err)
	}
	s.pa = pa

	slog.Info("portaudio: capture started",
		"device", dev.Name,
		"sample_rate", cfg.SampleRate,
		"frame_size", cfg.FrameSize,
	)
	return s, nil
}

func openInput(dev *portaudio.DeviceInfo, rate float64, channels, framesPerBuffer int, cb func([]float32)) (*portaudio.Stream, error) {
	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = channels
	params.Output.Channels = 0
	params.SampleRate = rate
	params.FramesPerBuffer = framesPerBuffer
	return portaudio.OpenStream(params, cb)
}

// findInput resolves an input device by case-insensitive name substring, or
// the default input when name is empty.
func findInput(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: no default input device: %w", err)
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	want := strings.ToLower(name)
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: input device %q not found", name)
}

// stream is a running PortAudio capture stream.
type stream struct {
	pa       *portaudio.Stream
	frames   chan []float32
	reframer audio.Reframer // touched only from the PortAudio callback

	dropped   atomic.Int64
	closeOnce sync.Once
	closed    atomic.Bool
}

// process runs on the PortAudio callback thread and must not block.
func (s *stream) process(in []float32) {
	if s.closed.Load() {
		return
	}
	for _, frame := range s.reframer.Push(in) {
		select {
		case s.frames <- frame:
		default:
			if s.dropped.Add(1) == 1 {
				slog.Warn("portaudio: consumer too slow, dropping capture frames")
			}
		}
	}
}

func (s *stream) Frames() <-chan []float32 { return s.frames }

func (s *stream) Err() error { return nil }

// Close stops the stream, then closes Frames. Stop returns only after the
// callback has finished, so no send can race the close.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if stopErr := s.pa.Stop(); stopErr != nil {
			err = fmt.Errorf("portaudio: stop: %w", stopErr)
		}
		if closeErr := s.pa.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("portaudio: close: %w", closeErr)
		}
		release()
		close(s.frames)
		if n := s.dropped.Load(); n > 0 {
			slog.Info("portaudio: capture stopped", "dropped_frames", n)
		}
	})
	return err
}
