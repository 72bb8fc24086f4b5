package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicesim/internal/config"
	"github.com/MrWong99/voicesim/internal/health"
	"github.com/MrWong99/voicesim/internal/observe"
	"github.com/MrWong99/voicesim/internal/voice"
	"github.com/MrWong99/voicesim/pkg/audio"
	"github.com/MrWong99/voicesim/pkg/audio/portaudio"
	"github.com/MrWong99/voicesim/pkg/audio/speaker"
	"github.com/MrWong99/voicesim/pkg/realtime"
)

// shutdownTimeout bounds the diagnostics server drain.
const shutdownTimeout = 5 * time.Second

type voiceFlags struct {
	conversationID string
	listenAddr     string
	inputDevice    string
	outputDevice   string
	reconnect      int
}

func newVoiceCmd(g *globalFlags) *cobra.Command {
	f := &voiceFlags{}
	cmd := &cobra.Command{
		Use:   "voice",
		Short: "Run a realtime spoken role-play",
		Long: `voice streams the microphone to the simulation service and plays the
counterpart's replies. The microphone is muted while a reply is playing.

Press Ctrl+C to hang up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(config.ModeRealtime)
			if err != nil {
				return err
			}
			if f.listenAddr != "" {
				cfg.Telemetry.ListenAddr = f.listenAddr
			}
			if f.inputDevice != "" {
				cfg.Audio.Input.Device = f.inputDevice
			}
			if f.outputDevice != "" {
				cfg.Audio.Output.Device = f.outputDevice
			}
			if cmd.Flags().Changed("reconnect") {
				cfg.Voice.ReconnectAttempts = f.reconnect
			}

			reg := config.NewRegistry()
			registerAudioBackends(reg)
			return runVoice(cmd.Context(), cfg, reg, f.conversationID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&f.conversationID, "conversation", "c", "", "resume an existing conversation")
	cmd.Flags().StringVar(&f.listenAddr, "listen", "", "serve /metrics, /healthz, /readyz and /status on this address")
	cmd.Flags().StringVar(&f.inputDevice, "input-device", "", "input device name (default: system default)")
	cmd.Flags().StringVar(&f.outputDevice, "output-device", "", "output device name (default: system default)")
	cmd.Flags().IntVar(&f.reconnect, "reconnect", 0, "attempts to resume the conversation after the connection fails (0 disables)")
	return cmd
}

// registerAudioBackends wires the built-in audio backends into reg.
func registerAudioBackends(reg *config.Registry) {
	reg.RegisterMicrophone("portaudio", func(config.DeviceEntry) (audio.Microphone, error) {
		return portaudio.New(), nil
	})
	reg.RegisterOutput("speaker", func(entry config.DeviceEntry) (audio.Output, error) {
		var opts []speaker.Option
		if s := optString(entry.Options, "latency"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("speaker latency: %w", err)
			}
			opts = append(opts, speaker.WithLatency(d))
		}
		return speaker.New(opts...), nil
	})
}

// runVoice holds one voice conversation until ctx is cancelled or the
// service ends it. The diagnostics server, when configured, runs alongside.
func runVoice(ctx context.Context, cfg *config.Config, reg *config.Registry, conversationID string, out io.Writer) error {
	mic, err := reg.CreateMicrophone(cfg.Audio.Input)
	if err != nil {
		return fmt.Errorf("create microphone %q: %w", cfg.Audio.Input.Name, err)
	}
	output, err := reg.CreateOutput(cfg.Audio.Output)
	if err != nil {
		return fmt.Errorf("create output %q: %w", cfg.Audio.Output.Name, err)
	}

	tel, err := observe.Init(ctx, observe.TelemetryConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := tel.Metrics

	ended := make(chan struct{}, 1)
	s := voice.New(voice.Options{
		Microphone: mic,
		Output:     output,
		Endpoint: realtime.Endpoint{
			BaseURL:           cfg.API.BaseURL,
			APIKey:            cfg.API.APIKey,
			UserID:            cfg.API.UserID,
			CounterpartUserID: cfg.API.CounterpartUserID,
			SimulationType:    string(cfg.Simulation.Type),
			ConversationID:    conversationID,
		},
		Capture: cfg.Voice.CaptureConfig(cfg.Audio.Input.Device),
		OnConversationID: func(id string) {
			fmt.Fprintf(out, "conversation: %s\n", id)
		},
		OnStatus: func(st voice.Status, err error) {
			printStatus(out, st, err)
			if st == voice.StatusIdle || st == voice.StatusError {
				select {
				case ended <- struct{}{}:
				default:
				}
			}
		},
		Metrics: metrics,
	})
	defer s.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if addr := cfg.Telemetry.ListenAddr; addr != "" {
		g.Go(func() error {
			return serveDiagnostics(gctx, addr, diagnosticsHandler(s, metrics, tel.Handler()))
		})
	}

	reconnector := voice.NewReconnector(s, voice.ReconnectorConfig{
		MaxRetries:  cfg.Voice.ReconnectAttempts,
		DialTimeout: cfg.Voice.DialTimeout,
	})

	g.Go(func() error {
		defer cancel()

		dctx, dcancel := context.WithTimeout(gctx, cfg.Voice.DialTimeout)
		err := s.Connect(dctx)
		dcancel()
		if err != nil {
			return err
		}

		for {
			select {
			case <-gctx.Done():
				s.Disconnect()
				return nil
			case <-ended:
			}

			switch st := s.Status(); {
			case st == voice.StatusIdle:
				return nil
			case st != voice.StatusError:
				// Left over from an earlier attempt.
				continue
			}
			if cfg.Voice.ReconnectAttempts == 0 {
				return s.Err()
			}
			fmt.Fprintln(out, "connection lost, reconnecting...")
			if err := reconnector.Reconnect(gctx); err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	})

	return g.Wait()
}

// printStatus renders a status change for the terminal.
func printStatus(w io.Writer, st voice.Status, err error) {
	switch st {
	case voice.StatusConnecting:
		fmt.Fprintln(w, "connecting...")
	case voice.StatusListening:
		fmt.Fprintln(w, "listening, speak now")
	case voice.StatusSpeaking:
		fmt.Fprintln(w, "counterpart speaking")
	case voice.StatusError:
		fmt.Fprintf(w, "error: %v\n", err)
	case voice.StatusIdle:
		fmt.Fprintln(w, "disconnected")
	}
}

// diagnosticsHandler serves metrics, probes and the session snapshot.
func diagnosticsHandler(s *voice.Session, m *observe.Metrics, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	health.New(health.ConnectedCheck("voice", s.IsConnected)).
		WithStatus(func() health.Snapshot {
			snap := health.Snapshot{
				Status:         s.Status().String(),
				Connected:      s.IsConnected(),
				ConversationID: s.ConversationID(),
			}
			if err := s.Err(); err != nil {
				snap.Error = err.Error()
			}
			return snap
		}).
		Register(mux)
	return observe.Middleware(m)(mux)
}

func serveDiagnostics(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: shutdownTimeout,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("diagnostics server shutdown", "err", err)
		}
	}()

	slog.Info("diagnostics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("diagnostics server: %w", err)
	}
	return nil
}
