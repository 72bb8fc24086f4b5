// Package realtime is the transport for live voice conversations with the
// simulation service.
//
// A [Conn] is one WebSocket connection exchanging JSON events: the client
// appends base64 PCM16 microphone audio with input_audio_buffer.append, and
// the service answers with session.created, response.audio.delta,
// response.done, and error events. Inbound events are parsed by a single
// receive goroutine and delivered in arrival order on [Conn.Events].
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

const (
	// defaultReadLimit bounds a single inbound message. Audio deltas are far
	// larger than the library default of 32 KiB.
	defaultReadLimit = 16 << 20

	// defaultEventBuffer is the capacity of the Events channel.
	defaultEventBuffer = 64
)

// ErrClosed is returned by [Conn.SendAudio] after [Conn.Close].
var ErrClosed = errors.New("realtime: connection closed")

// CloseError reports that the peer closed the connection with a close frame.
// Any close frame, whatever its status code, is a close rather than a
// transport failure.
type CloseError struct {
	Code   websocket.StatusCode
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("realtime: closed by peer: %d %s", e.Code, e.Reason)
}

// IsClose reports whether err describes an orderly close (nil, a
// [*CloseError], or [ErrClosed]) rather than a transport failure.
func IsClose(err error) bool {
	if err == nil || errors.Is(err, ErrClosed) {
		return true
	}
	var ce *CloseError
	return errors.As(err, &ce)
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for [Dial].
type Option func(*dialConfig)

type dialConfig struct {
	httpClient  *http.Client
	header      http.Header
	readLimit   int64
	eventBuffer int
}

// WithHTTPClient sets the HTTP client used for the handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(d *dialConfig) { d.httpClient = c }
}

// WithHeader adds a handshake header.
func WithHeader(key, value string) Option {
	return func(d *dialConfig) { d.header.Add(key, value) }
}

// WithReadLimit overrides the maximum inbound message size in bytes.
func WithReadLimit(n int64) Option {
	return func(d *dialConfig) {
		if n > 0 {
			d.readLimit = n
		}
	}
}

// WithEventBuffer overrides the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(d *dialConfig) {
		if n >= 0 {
			d.eventBuffer = n
		}
	}
}

// ── Conn ───────────────────────────────────────────────────────────────────────

// Conn is an open realtime connection. SendAudio and Close are safe for
// concurrent use; Events has a single consumer.
type Conn struct {
	ws     *websocket.Conn
	events chan ServerMessage

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	errVal error
	closed bool
}

// Dial opens a connection to ep. ctx bounds the handshake only.
func Dial(ctx context.Context, ep Endpoint, opts ...Option) (*Conn, error) {
	cfg := dialConfig{
		header:      http.Header{},
		readLimit:   defaultReadLimit,
		eventBuffer: defaultEventBuffer,
	}
	if ep.APIKey != "" {
		cfg.header.Set("X-API-Key", ep.APIKey)
	}
	for _, o := range opts {
		o(&cfg)
	}

	ws, _, err := websocket.Dial(ctx, ep.URL(), &websocket.DialOptions{
		HTTPClient: cfg.httpClient,
		HTTPHeader: cfg.header,
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}
	ws.SetReadLimit(cfg.readLimit)

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:     ws,
		events: make(chan ServerMessage, cfg.eventBuffer),
		ctx:    connCtx,
		cancel: cancel,
	}
	go c.receiveLoop()
	return c, nil
}

// Events returns the inbound event stream. It is closed when the connection
// ends; call [Conn.Err] afterwards to learn why.
func (c *Conn) Events() <-chan ServerMessage { return c.events }

// Err returns nil while the connection is open or after a local Close, a
// [*CloseError] if the peer closed it, or the transport error that ended it.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// SendAudio sends one input_audio_buffer.append event carrying audio, a
// base64 PCM16 frame.
func (c *Conn) SendAudio(ctx context.Context, audio string) error {
	return c.writeJSON(ctx, appendAudioMessage{Type: TypeInputAudioAppend, Audio: audio})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *Conn) writeJSON(ctx context.Context, v any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("realtime: write: %w", err)
	}
	return nil
}

// receiveLoop reads frames until the connection ends. It owns events and
// closes it on exit.
func (c *Conn) receiveLoop() {
	defer close(c.events)

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			c.setErr(classify(c.ctx, err))
			return
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("realtime: skipping malformed message", "err", err, "bytes", len(data))
			continue
		}
		if msg.Type == "" {
			slog.Debug("realtime: skipping message without type")
			continue
		}

		select {
		case c.events <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

// classify maps a read error to the value reported by Err.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	if code := websocket.CloseStatus(err); code != -1 {
		var ce websocket.CloseError
		reason := ""
		if errors.As(err, &ce) {
			reason = ce.Reason
		}
		return &CloseError{Code: code, Reason: reason}
	}
	return fmt.Errorf("realtime: read: %w", err)
}

func (c *Conn) setErr(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errVal == nil {
		c.errVal = err
	}
}

// Close terminates the connection. It does not wait for the peer's close
// handshake to finish. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	_ = c.ws.CloseNow()
	return nil
}
