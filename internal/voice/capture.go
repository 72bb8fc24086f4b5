package voice

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voicesim/pkg/audio"
)

// capture forwards microphone frames to the transport while its gate is open.
// It is owned by the run loop; only the loop touches enabled.
type capture struct {
	stream  audio.CaptureStream
	enabled bool
}

func openCapture(ctx context.Context, mic audio.Microphone, cfg audio.CaptureConfig) (*capture, error) {
	if mic == nil {
		return nil, errors.New("voice: no microphone configured")
	}
	stream, err := mic.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("voice: open microphone: %w", err)
	}
	return &capture{stream: stream}, nil
}

func (c *capture) frames() <-chan []float32 { return c.stream.Frames() }

// setEnabled opens or closes the upload gate.
func (c *capture) setEnabled(on bool) { c.enabled = on }

// forward encodes frame and hands it to send when the gate is open. It
// reports whether the frame was sent.
func (c *capture) forward(ctx context.Context, frame []float32, send func(context.Context, string) error) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	if err := send(ctx, audio.EncodeFrame(frame)); err != nil {
		return false, err
	}
	return true, nil
}

// failure describes why the frame channel closed while the session was live.
func (c *capture) failure() error {
	if err := c.stream.Err(); err != nil {
		return fmt.Errorf("voice: capture: %w", err)
	}
	return fmt.Errorf("voice: capture: %w", audio.ErrClosed)
}

func (c *capture) close() {
	if c == nil {
		return
	}
	_ = c.stream.Close()
}
