package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values. They are applied after
// decoding and before validation, so credentials never need to live in YAML.
const (
	EnvAPIKey            = "VOICESIM_API_KEY"
	EnvBaseURL           = "VOICESIM_BASE_URL"
	EnvUserID            = "VOICESIM_USER_ID"
	EnvCounterpartUserID = "VOICESIM_COUNTERPART_USER_ID"
	EnvSimulationType    = "VOICESIM_SIMULATION_TYPE"
	EnvLogLevel          = "VOICESIM_LOG_LEVEL"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// An empty path yields the defaults plus environment overrides.
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromReader(strings.NewReader(""))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return LoadFromReaderEnv(r, os.LookupEnv)
}

// LoadFromReaderEnv is [LoadFromReader] with an explicit environment lookup.
func LoadFromReaderEnv(r io.Reader, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, lookup)
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFiles loads KEY=VALUE pairs from the given dotenv files into the
// process environment. Variables that are already set win. Missing files are
// skipped; with no arguments ".env" in the working directory is tried.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load env file %q: %w", p, err)
		}
		slog.Debug("loaded env file", "path", p)
	}
	return nil
}

// ApplyEnv overrides fields of cfg with values found through lookup.
// Pass [os.LookupEnv] for the process environment.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&cfg.API.APIKey, EnvAPIKey)
	set(&cfg.API.BaseURL, EnvBaseURL)
	set(&cfg.API.UserID, EnvUserID)
	set(&cfg.API.CounterpartUserID, EnvCounterpartUserID)
	if v, ok := lookup(EnvSimulationType); ok && v != "" {
		cfg.Simulation.Type = SimulationType(v)
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.LogLevel = LogLevel(v)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Identifiers that only some commands need are checked by [Config.Require].
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.API.BaseURL != "" {
		u, err := url.Parse(cfg.API.BaseURL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("api.base_url %q: %w", cfg.API.BaseURL, err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, fmt.Errorf("api.base_url %q must use http or https", cfg.API.BaseURL))
		case u.Host == "":
			errs = append(errs, fmt.Errorf("api.base_url %q has no host", cfg.API.BaseURL))
		}
	}
	if cfg.API.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("api.request_timeout %s must not be negative", cfg.API.RequestTimeout))
	}

	if cfg.Simulation.Type != "" && !cfg.Simulation.Type.IsValid() {
		errs = append(errs, fmt.Errorf("simulation.type %q is invalid; valid values: %s", cfg.Simulation.Type, joinTypes()))
	}

	if cfg.Voice.SampleRate < 0 || (cfg.Voice.SampleRate > 0 && cfg.Voice.SampleRate < 8000) {
		errs = append(errs, fmt.Errorf("voice.sample_rate %d is out of range [8000, ...)", cfg.Voice.SampleRate))
	}
	if cfg.Voice.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("voice.frame_size %d must not be negative", cfg.Voice.FrameSize))
	}
	if cfg.Voice.DialTimeout < 0 || (cfg.Voice.DialTimeout > 0 && cfg.Voice.DialTimeout < 100*time.Millisecond) {
		errs = append(errs, fmt.Errorf("voice.dial_timeout %s is too short", cfg.Voice.DialTimeout))
	}
	if cfg.Voice.ReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("voice.reconnect_attempts %d must not be negative", cfg.Voice.ReconnectAttempts))
	}

	return errors.Join(errs...)
}

// Require reports the identifiers missing for mode. The base URL, API key and
// user ID are always needed; the counterpart is needed to run a simulation.
func (c *Config) Require(mode Mode) error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.API.APIKey == "" {
		errs = append(errs, fmt.Errorf("api.api_key is required (or set %s)", EnvAPIKey))
	}
	if c.API.UserID == "" {
		errs = append(errs, fmt.Errorf("api.user_id is required (or set %s)", EnvUserID))
	}
	if (mode == ModeSimulation || mode == ModeRealtime) && c.API.CounterpartUserID == "" {
		errs = append(errs, fmt.Errorf("api.counterpart_user_id is required for %s (or set %s)", mode, EnvCounterpartUserID))
	}
	return errors.Join(errs...)
}

func joinTypes() string {
	names := make([]string, len(SimulationTypes))
	for i, t := range SimulationTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
