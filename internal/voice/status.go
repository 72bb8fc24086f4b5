package voice

// Status is the externally visible state of a [Session].
type Status string

const (
	// StatusIdle is the initial state and the state after Disconnect or a
	// transport close.
	StatusIdle Status = "idle"

	// StatusConnecting covers device acquisition and the transport handshake.
	StatusConnecting Status = "connecting"

	// StatusListening means connected and uploading microphone audio.
	StatusListening Status = "listening"

	// StatusSpeaking means connected and playing remote audio. Microphone
	// frames are withheld.
	StatusSpeaking Status = "speaking"

	// StatusError is terminal until the next Connect. [Session.Err] holds
	// the cause.
	StatusError Status = "error"
)

// IsConnected reports whether s is one of the connected states.
func (s Status) IsConnected() bool {
	return s == StatusListening || s == StatusSpeaking
}

func (s Status) String() string { return string(s) }
