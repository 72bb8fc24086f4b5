// Package config provides the configuration schema, loader, and audio backend
// registry for voicesim.
package config

import (
	"time"

	"github.com/MrWong99/voicesim/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SimulationType selects the role-play scenario run by the service.
type SimulationType string

const (
	SimulationManagerFeedback SimulationType = "manager_feedback"
	SimulationPeerFeedback    SimulationType = "peer_feedback"
	SimulationSales           SimulationType = "sales_simulation"
	SimulationInterview       SimulationType = "interview_simulation"
)

// SimulationTypes lists every recognised simulation type.
var SimulationTypes = []SimulationType{
	SimulationManagerFeedback,
	SimulationPeerFeedback,
	SimulationSales,
	SimulationInterview,
}

// IsValid reports whether s is a recognised simulation type.
func (s SimulationType) IsValid() bool {
	switch s {
	case SimulationManagerFeedback, SimulationPeerFeedback, SimulationSales, SimulationInterview:
		return true
	}
	return false
}

// Mode is the kind of interaction a command performs. It decides which
// identifiers are mandatory.
type Mode string

const (
	ModeSimulation Mode = "simulation"
	ModeAnalysis   Mode = "analysis"
	ModeChat       Mode = "chat"
	ModeRealtime   Mode = "realtime"
)

// Defaults.
const (
	DefaultBaseURL        = "http://localhost:8000"
	DefaultDialTimeout    = 10 * time.Second
	DefaultRequestTimeout = 60 * time.Second
	DefaultServiceName    = "voicesim"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	LogLevel   LogLevel         `yaml:"log_level"`
	API        APIConfig        `yaml:"api"`
	Simulation SimulationConfig `yaml:"simulation"`
	Voice      VoiceConfig      `yaml:"voice"`
	Audio      AudioConfig      `yaml:"audio"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// APIConfig identifies the service and the participants.
type APIConfig struct {
	// BaseURL is the HTTP(S) base address, e.g. "https://api.example.com".
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as X-API-Key on every request and on the voice handshake.
	APIKey string `yaml:"api_key"`

	// UserID is the local participant ("user_application_id").
	UserID string `yaml:"user_id"`

	// CounterpartUserID is the participant the simulation role-plays.
	CounterpartUserID string `yaml:"counterpart_user_id"`

	// RequestTimeout bounds each REST call. Default: 60s.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SimulationConfig selects the scenario.
type SimulationConfig struct {
	// Type defaults to manager_feedback.
	Type SimulationType `yaml:"type"`
}

// VoiceConfig tunes the realtime voice session.
type VoiceConfig struct {
	// SampleRate of captured and played audio in Hz. Default: 24000.
	SampleRate int `yaml:"sample_rate"`

	// FrameSize is the number of samples per uploaded frame. Default: 4096.
	FrameSize int `yaml:"frame_size"`

	// Acoustic preprocessing requested from the input device. Each defaults
	// to true when omitted.
	EchoCancellation *bool `yaml:"echo_cancellation"`
	NoiseSuppression *bool `yaml:"noise_suppression"`
	AutoGainControl  *bool `yaml:"auto_gain_control"`

	// DialTimeout bounds device acquisition plus the WebSocket handshake.
	// Default: 10s.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ReconnectAttempts is how often the CLI tries to resume a conversation
	// after the connection fails. Zero disables reconnection.
	ReconnectAttempts int `yaml:"reconnect_attempts"`
}

// CaptureConfig returns the microphone configuration described by v and the
// input device name.
func (v VoiceConfig) CaptureConfig(device string) audio.CaptureConfig {
	return audio.CaptureConfig{
		SampleRate:       v.SampleRate,
		Channels:         audio.Channels,
		FrameSize:        v.FrameSize,
		Device:           device,
		EchoCancellation: boolOr(v.EchoCancellation, true),
		NoiseSuppression: boolOr(v.NoiseSuppression, true),
		AutoGainControl:  boolOr(v.AutoGainControl, true),
	}
}

// AudioConfig selects the audio backends from the [Registry].
type AudioConfig struct {
	Input  DeviceEntry `yaml:"input"`
	Output DeviceEntry `yaml:"output"`
}

// DeviceEntry is the configuration block shared by input and output backends.
// The Name field is used to look up the constructor in the [Registry].
type DeviceEntry struct {
	// Name selects the registered backend (e.g., "portaudio", "speaker").
	Name string `yaml:"name"`

	// Device selects a hardware device by name. Empty means the default.
	Device string `yaml:"device"`

	// Options holds backend-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// TelemetryConfig controls the diagnostics HTTP server and OTel resource.
type TelemetryConfig struct {
	// ListenAddr serves /metrics, /healthz, /readyz and /status when set.
	ListenAddr string `yaml:"listen_addr"`

	// ServiceName is reported in telemetry. Default: "voicesim".
	ServiceName string `yaml:"service_name"`
}

// ApplyDefaults fills zero values with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = LogInfo
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.RequestTimeout <= 0 {
		c.API.RequestTimeout = DefaultRequestTimeout
	}
	if c.Simulation.Type == "" {
		c.Simulation.Type = SimulationManagerFeedback
	}
	if c.Voice.SampleRate <= 0 {
		c.Voice.SampleRate = audio.SampleRate
	}
	if c.Voice.FrameSize <= 0 {
		c.Voice.FrameSize = audio.FrameSize
	}
	if c.Voice.DialTimeout <= 0 {
		c.Voice.DialTimeout = DefaultDialTimeout
	}
	if c.Audio.Input.Name == "" {
		c.Audio.Input.Name = "portaudio"
	}
	if c.Audio.Output.Name == "" {
		c.Audio.Output.Name = "speaker"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
