// Command voicesim is the terminal client for the conversation simulation
// service: realtime voice role-play, text role-play, conversation analysis
// and the classic chatbot.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voicesim/internal/config"
)

// version is reported in telemetry. Overridden at build time with -ldflags.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "voicesim: %v\n", err)
		return 1
	}
	return 0
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFiles   []string
	logLevel   string

	baseURL        string
	apiKey         string
	userID         string
	counterpart    string
	simulationType string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "voicesim",
		Short: "Practice difficult conversations against the simulation service",
		Long: `voicesim talks to the conversation simulation service.

Use 'voicesim voice' for a realtime spoken role-play, 'voicesim chat' for the
text version, 'voicesim analyze' to score a finished conversation and
'voicesim classic' for the general-purpose chatbot.

Credentials can come from the config file, a .env file or VOICESIM_*
environment variables. Flags take precedence over all of them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "path to the YAML configuration file (optional)")
	pf.StringSliceVar(&g.envFiles, "env-file", nil, "dotenv files to load before reading the environment (default .env)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&g.baseURL, "base-url", "", "service base URL")
	pf.StringVar(&g.apiKey, "api-key", "", "service API key")
	pf.StringVar(&g.userID, "user", "", "local user application id")
	pf.StringVar(&g.counterpart, "counterpart", "", "counterpart user id the simulation role-plays")
	pf.StringVarP(&g.simulationType, "type", "t", "", "simulation type")

	root.AddCommand(
		newVoiceCmd(g),
		newChatCmd(g),
		newAnalyzeCmd(g),
		newClassicCmd(g),
	)
	return root
}

// load reads the configuration for mode, applies flag overrides and installs
// the default logger.
func (g *globalFlags) load(mode config.Mode) (*config.Config, error) {
	if err := config.LoadEnvFiles(g.envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(g.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found", g.configPath)
		}
		return nil, err
	}
	g.apply(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Require(mode); err != nil {
		return nil, err
	}

	slog.SetDefault(newLogger(cfg.LogLevel))
	slog.Debug("configuration loaded",
		"mode", mode,
		"config", g.configPath,
		"base_url", cfg.API.BaseURL,
		"simulation_type", cfg.Simulation.Type,
	)
	return cfg, nil
}

// apply overrides cfg with every flag that was set.
func (g *globalFlags) apply(cfg *config.Config) {
	if g.logLevel != "" {
		cfg.LogLevel = config.LogLevel(g.logLevel)
	}
	if g.baseURL != "" {
		cfg.API.BaseURL = g.baseURL
	}
	if g.apiKey != "" {
		cfg.API.APIKey = g.apiKey
	}
	if g.userID != "" {
		cfg.API.UserID = g.userID
	}
	if g.counterpart != "" {
		cfg.API.CounterpartUserID = g.counterpart
	}
	if g.simulationType != "" {
		cfg.Simulation.Type = config.SimulationType(g.simulationType)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a backend Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
