// Command zeni is the on-device voice client for the Zeni conversational
// agent: it streams microphone audio to the inference server, plays the
// synthesized replies, and keeps the session alive across network failures.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shankarsingh077/Zeni/internal/config"
	"github.com/shankarsingh077/Zeni/internal/health"
	"github.com/shankarsingh077/Zeni/internal/observe"
	"github.com/shankarsingh077/Zeni/internal/orchestrator"
	"github.com/shankarsingh077/Zeni/pkg/audio/capture"
	"github.com/shankarsingh077/Zeni/pkg/audio/playback"
	"github.com/shankarsingh077/Zeni/pkg/client"
	"github.com/shankarsingh077/Zeni/pkg/protocol"
	"github.com/shankarsingh077/Zeni/pkg/vad"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "zeni.yaml", "path to the YAML configuration file")
	serverURL := flag.String("url", "", "override the server WebSocket URL from the config")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "zeni: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "zeni: %v\n", err)
		}
		return 1
	}
	if *serverURL != "" {
		cfg.Server.URL = *serverURL
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Level(),
	}))
	slog.SetDefault(logger)

	slog.Info("zeni starting",
		"config", *configPath,
		"server_url", cfg.Server.URL,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "zeni",
	})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Protocol client ───────────────────────────────────────────────────────
	conn := client.New(cfg.Server.URL, cfg.Session,
		client.WithDialTimeout(cfg.Server.DialTimeout),
		client.WithHeartbeatInterval(cfg.Server.HeartbeatInterval),
		client.WithBackoff(client.Backoff{
			Base: cfg.Server.Reconnect.InitialDelay,
			Max:  cfg.Server.Reconnect.MaxDelay,
		}),
		client.WithMaxReconnectAttempts(cfg.Server.Reconnect.MaxAttempts),
		client.WithMetrics(metrics),
	)

	// ── Audio devices ─────────────────────────────────────────────────────────
	mic := capture.NewMicrophone(capture.Config{
		SampleRate:    cfg.Audio.Capture.SampleRate,
		FrameDuration: cfg.Audio.Capture.FrameDuration,
		QueueDepth:    cfg.Audio.Capture.QueueDepth,
	})
	defer mic.Close()

	speaker := playback.NewMalgoDevice()
	defer speaker.Release()
	sink := playback.New(speaker, playback.Config{
		SampleRate:    cfg.Audio.Playback.SampleRate,
		EmitHold:      cfg.Audio.Playback.EmitHold,
		AmplitudeGain: cfg.Audio.Playback.AmplitudeGain,
	})
	defer sink.Close()

	// ── Orchestrator ──────────────────────────────────────────────────────────
	orch := orchestrator.New(conn, mic, sink,
		orchestrator.WithMetrics(metrics),
		orchestrator.WithVADConfig(vad.Config{
			SpeechThresholdDB:  cfg.VAD.SpeechThresholdDB,
			SilenceThresholdDB: cfg.VAD.SilenceThresholdDB,
			HoldDuration:       cfg.VAD.HoldDuration,
			MinSpeechDuration:  cfg.VAD.MinSpeechDuration,
			Smoothing:          cfg.VAD.Smoothing,
		}),
		orchestrator.WithActivityFunc(func(ev vad.Event) {
			slog.Debug("voice activity",
				"type", ev.Type,
				"energy_db", ev.EnergyDB,
				"speech_duration", ev.SpeechDuration,
			)
		}),
		orchestrator.WithRobotCommandFunc(func(cmd protocol.RobotCommand) {
			slog.Info("robot command received",
				"action", cmd.Action,
				"duration_ms", cmd.DurationMs,
				"speed_percent", cmd.SpeedPercent,
			)
		}),
	)

	// ── Live config reload ────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applySessionChanges(orch, old, new)
	})
	if err != nil {
		// The file already loaded once; a watcher failure is not fatal.
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Connect ───────────────────────────────────────────────────────────────
	if err := conn.Connect(ctx); err != nil {
		slog.Error("failed to connect", "url", cfg.Server.URL, "err", err)
		return 1
	}
	slog.Info("session established", "session_id", conn.SessionID())

	// ── Run ───────────────────────────────────────────────────────────────────
	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return orch.Run(runCtx)
	})

	if cfg.Server.MetricsAddr != "" {
		g.Go(func() error {
			return serveDiagnostics(runCtx, cfg.Server.MetricsAddr, conn)
		})
	}

	// Push-to-talk sessions wait for an explicit begin; open-mic sessions
	// start listening immediately.
	if !cfg.Session.PushToTalk {
		if err := orch.BeginUtterance(runCtx); err != nil {
			slog.Error("failed to open microphone", "err", err)
			conn.Disconnect()
			return 1
		}
	}

	slog.Info("ready — press Ctrl+C to shut down")

	err = g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	if endErr := orch.EndUtterance(); endErr != nil {
		slog.Warn("end utterance error", "err", endErr)
	}
	if discErr := conn.Disconnect(); discErr != nil {
		slog.Warn("disconnect error", "err", discErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applySessionChanges retunes the live session after a config reload.
// Settings outside the session block need a restart and are only reported.
func applySessionChanges(orch *orchestrator.Orchestrator, old, new *config.Config) {
	if config.RequiresRestart(old, new) {
		slog.Warn("config change requires a restart to take effect")
	}

	changes := config.DiffSession(old, new)
	if !changes.Any() {
		return
	}

	if changes.Language {
		if err := orch.SetLanguage(new.Session.LanguagePreference); err != nil {
			slog.Warn("language change not applied", "err", err)
		}
	}
	if changes.Voice {
		if err := orch.SetVoice(new.Session.VoicePreference); err != nil {
			slog.Warn("voice change not applied", "err", err)
		}
	}
	if changes.Personality {
		if err := orch.SetPersonality(new.Session.Personality); err != nil {
			slog.Warn("personality change not applied", "err", err)
		}
	}
	if changes.TTSProvider {
		if err := orch.SetTTSProvider(new.Session.TTSProvider); err != nil {
			slog.Warn("tts provider change not applied", "err", err)
		}
	}
	if changes.TTSSpeed {
		if err := orch.SetTTSSpeed(new.Session.SpeakingRate); err != nil {
			slog.Warn("tts speed change not applied", "err", err)
		}
	}
}

// serveDiagnostics exposes the Prometheus scrape endpoint and the health
// probes until ctx is done.
func serveDiagnostics(ctx context.Context, addr string, conn *client.Client) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	health.New(health.SessionChecker(func() (string, bool) {
		state := conn.State()
		return state.String(), state == client.Connected
	})).Register(mux)

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("diagnostics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("diagnostics server: %w", err)
	}
	return nil
}
