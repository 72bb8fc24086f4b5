// Package simapi is the REST client for the simulation service: text
// role-play, conversation analysis, and the classic chatbot endpoint.
//
// Every request carries the X-API-Key header and a JSON body. Non-2xx
// responses are returned as [*APIError].
package simapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voicesim/internal/observe"
	"github.com/MrWong99/voicesim/internal/resilience"
)

// Endpoint paths relative to the base URL.
const (
	PathSimulationChat = "/chatbot/api/v1/simulation/chat"
	PathAnalyze        = "/chatbot/api/v1/simulation/analyze"
	PathClassicChat    = "/chatbot/api/v2/chat"
)

// DefaultLocale is sent with classic chat messages.
const DefaultLocale = "fr"

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 64 << 10

// ErrNoConversation is returned by [Client.Analyze] without a conversation id.
var ErrNoConversation = errors.New("simapi: no conversation to analyze")

// APIError is a non-2xx response from the service.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API Error (%d): %s", e.Status, e.Body)
}

// Config identifies the service and the participants.
type Config struct {
	BaseURL           string
	APIKey            string
	UserID            string
	CounterpartUserID string
}

// Client talks to the simulation REST API. It is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	metrics    *observe.Metrics
	locale     string
	newID      func() string
	breaker    *resilience.Breaker
}

// Option is a functional option for [New].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout sets a per-request timeout on the HTTP client. A zero or
// negative value means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.httpClient.Timeout = d
		}
	}
}

// WithMetrics records request counters and latency into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// WithBreaker replaces the circuit breaker guarding every request.
func WithBreaker(b *resilience.Breaker) Option {
	return func(cl *Client) { cl.breaker = b }
}

// WithLocale overrides the classic chat locale.
func WithLocale(locale string) Option {
	return func(cl *Client) { cl.locale = locale }
}

// New returns a [Client]. A trailing slash on cfg.BaseURL is stripped.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("simapi: base URL must not be empty")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		locale:     DefaultLocale,
		newID:      uuid.NewString,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.breaker == nil {
		c.breaker = resilience.New(resilience.Config{
			Name:      "simapi",
			IsFailure: IsServiceFault,
		})
	}
	return c, nil
}

// IsServiceFault reports whether err indicates the service, rather than the
// request, is at fault: transport errors, 5xx and 429 responses, and
// undecodable replies. Cancellation by the caller is not a fault.
func IsServiceFault(err error) bool {
	if !resilience.DefaultIsFailure(err) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == http.StatusTooManyRequests
	}
	return true
}

type simulationChatRequest struct {
	UserApplicationID string  `json:"user_application_id"`
	CounterpartUserID string  `json:"counterpart_user_id"`
	Message           string  `json:"message"`
	SimulationType    string  `json:"simulation_type"`
	ConversationID    *string `json:"conversation_id"`
}

// SendSimulationMessage sends one user turn of a role-play. An empty
// conversationID starts a new conversation; the reply carries its id.
func (c *Client) SendSimulationMessage(ctx context.Context, message, simulationType, conversationID string) (*SimulationChatResponse, error) {
	req := simulationChatRequest{
		UserApplicationID: c.cfg.UserID,
		CounterpartUserID: c.cfg.CounterpartUserID,
		Message:           message,
		SimulationType:    simulationType,
	}
	if conversationID != "" {
		req.ConversationID = &conversationID
	}
	ctx = observe.WithConversation(ctx, conversationID)
	var resp SimulationChatResponse
	if err := c.post(ctx, "simulation_chat", PathSimulationChat, req, &resp); err != nil {
		return nil, fmt.Errorf("simapi: simulation chat: %w", err)
	}
	return &resp, nil
}

// Analyze requests the evaluation of conversationID.
func (c *Client) Analyze(ctx context.Context, conversationID string) (*AnalysisResult, error) {
	if conversationID == "" {
		return nil, ErrNoConversation
	}
	ctx = observe.WithConversation(ctx, conversationID)
	var resp AnalysisResult
	body := map[string]string{"conversation_id": conversationID}
	if err := c.post(ctx, "analyze", PathAnalyze, body, &resp); err != nil {
		return nil, fmt.Errorf("simapi: analyze: %w", err)
	}
	return &resp, nil
}

type classicChatRequest struct {
	UserApplicationID    string         `json:"userApplicationId"`
	UserConversationID   string         `json:"userConversationId"`
	MessageApplicationID string         `json:"messageApplicationId"`
	Sender               string         `json:"sender"`
	Type                 string         `json:"type"`
	Message              string         `json:"message"`
	Locale               string         `json:"locale"`
	Data                 map[string]any `json:"data"`
}

// SendClassicChat sends a message to the classic chatbot and returns the
// reply text. Replies without a recognised text field are returned as raw
// JSON.
func (c *Client) SendClassicChat(ctx context.Context, message, userConversationID string) (string, error) {
	req := classicChatRequest{
		UserApplicationID:    c.cfg.UserID,
		UserConversationID:   userConversationID,
		MessageApplicationID: c.newID(),
		Sender:               "user",
		Type:                 "text",
		Message:              message,
		Locale:               c.locale,
		Data:                 map[string]any{},
	}
	ctx = observe.WithConversation(ctx, userConversationID)
	var raw json.RawMessage
	if err := c.post(ctx, "classic_chat", PathClassicChat, req, &raw); err != nil {
		return "", fmt.Errorf("simapi: classic chat: %w", err)
	}
	return replyText(raw), nil
}

// replyText picks the first non-empty text field of a classic chat reply.
func replyText(raw json.RawMessage) string {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err == nil {
		for _, k := range []string{"message", "content", "text", "response"} {
			if s, ok := fields[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return string(raw)
}

// post sends body as JSON to path and decodes a 2xx response into out.
func (c *Client) post(ctx context.Context, endpoint, path string, body, out any) (err error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "simapi."+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.route", path)),
	)
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		c.metrics.RecordAPIRequest(ctx, endpoint, status, time.Since(start).Seconds())
		span.End()
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	var status int
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		status, callErr = c.do(ctx, path, payload, out)
		return callErr
	})
	if err != nil {
		return err
	}
	observe.Logger(ctx).Debug("simapi: request completed", "endpoint", endpoint, "status", status, "elapsed", time.Since(start))
	return nil
}

// do performs one HTTP exchange and returns the response status code.
func (c *Client) do(ctx context.Context, path string, payload []byte, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, rerr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := string(text)
		if rerr != nil {
			msg = "Unknown error"
		}
		return resp.StatusCode, &APIError{Status: resp.StatusCode, Body: msg}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
