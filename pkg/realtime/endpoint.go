package realtime

import (
	"net/url"
	"strings"
)

// Path is the WebSocket route of the simulation service.
const Path = "/chatbot/api/v1/simulation/ws/chat"

// Endpoint identifies one voice conversation on the simulation service.
type Endpoint struct {
	// BaseURL is the HTTP(S) base address of the service, e.g.
	// "https://api.example.com". An https scheme selects wss.
	BaseURL string

	// APIKey is sent as the X-API-Key header during the handshake.
	APIKey string

	// UserID is the local participant.
	UserID string

	// CounterpartUserID is the participant the simulation role-plays.
	CounterpartUserID string

	// SimulationType selects the scenario (e.g. "manager_feedback").
	SimulationType string

	// ConversationID resumes an existing conversation when non-empty.
	ConversationID string
}

// URL returns the WebSocket URL for e.
func (e Endpoint) URL() string {
	scheme := "ws"
	if strings.HasPrefix(e.BaseURL, "https") {
		scheme = "wss"
	}
	host := strings.TrimPrefix(e.BaseURL, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimSuffix(host, "/")

	q := url.Values{}
	q.Set("user_application_id", e.UserID)
	q.Set("counterpart_user_id", e.CounterpartUserID)
	q.Set("simulation_type", e.SimulationType)
	if e.ConversationID != "" {
		q.Set("conversation_id", e.ConversationID)
	}
	return scheme + "://" + host + Path + "?" + q.Encode()
}
