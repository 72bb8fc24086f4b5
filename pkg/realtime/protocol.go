package realtime

import "encoding/json"

// Wire message types.
const (
	TypeInputAudioAppend = "input_audio_buffer.append"
	TypeSessionCreated   = "session.created"
	TypeAudioDelta       = "response.audio.delta"
	TypeResponseDone     = "response.done"
	TypeError            = "error"
)

// ── Outgoing ──────────────────────────────────────────────────────────────────

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// ── Incoming ──────────────────────────────────────────────────────────────────

// ServerMessage is one inbound JSON frame. Only the fields relevant to its
// Type are populated.
type ServerMessage struct {
	Type string `json:"type"`

	// session.created
	Session *SessionInfo `json:"session,omitempty"`

	// response.audio.delta: base64-encoded PCM16 at 24 kHz mono.
	Delta string `json:"delta,omitempty"`

	// error
	Error *ErrorDetail `json:"error,omitempty"`
}

// SessionInfo is the session object of a session.created event. ID is the
// conversation identifier shared with the REST API.
type SessionInfo struct {
	ID string `json:"id"`
}

// ErrorDetail is the nested object of an error event:
// {"type":"error","error":{"message":"..."}}.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// UnmarshalJSON accepts the documented object form as well as a bare string
// ({"type":"error","error":"..."}), which becomes Message. Any other shape
// yields an empty detail so the event is still delivered.
func (d *ErrorDetail) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*d = ErrorDetail{Message: text}
		return nil
	}
	type object ErrorDetail
	var obj object
	if err := json.Unmarshal(data, &obj); err == nil {
		*d = ErrorDetail(obj)
		return nil
	}
	// Salvage the message when other fields have unexpected types.
	var loose struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(data, &loose)
	*d = ErrorDetail{Message: loose.Message}
	return nil
}

// ErrorMessage returns the remote error text, or "Unknown error" when the
// event carried none.
func (m *ServerMessage) ErrorMessage() string {
	if m.Error != nil && m.Error.Message != "" {
		return m.Error.Message
	}
	return "Unknown error"
}
