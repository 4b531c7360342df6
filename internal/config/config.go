// Package config provides the configuration schema, loader, and file watcher
// for the Zeni voice client.
package config

import (
	"log/slog"
	"time"

	"github.com/shankarsingh077/Zeni/pkg/protocol"
)

// LogLevel controls log verbosity for the client.
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

// Level maps l onto the slog level scale. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for the Zeni client.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig           `yaml:"server"`
	Session protocol.SessionConfig `yaml:"session"`
	Audio   AudioConfig            `yaml:"audio"`
	VAD     VADConfig              `yaml:"vad"`
}

// ServerConfig holds the connection endpoint and client-side transport
// tuning.
type ServerConfig struct {
	// URL is the WebSocket endpoint of the inference server
	// (e.g., "wss://voice.example.com/ws").
	URL string `yaml:"url"`

	// DialTimeout bounds socket dial plus session handshake.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// HeartbeatInterval is the application keepalive period.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// Reconnect tunes the automatic reconnection backoff.
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint. Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ReconnectConfig tunes the reconnect backoff schedule.
type ReconnectConfig struct {
	// InitialDelay before the first reconnect attempt.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps the doubling schedule.
	MaxDelay time.Duration `yaml:"max_delay"`

	// MaxAttempts caps consecutive failed attempts. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// AudioConfig groups the device-side audio settings.
type AudioConfig struct {
	Capture  CaptureConfig  `yaml:"capture"`
	Playback PlaybackConfig `yaml:"playback"`
}

// CaptureConfig tunes the microphone source.
type CaptureConfig struct {
	// SampleRate in Hz. Must match session.sample_rate.
	SampleRate int `yaml:"sample_rate"`

	// FrameDuration is the wire frame length.
	FrameDuration time.Duration `yaml:"frame_duration"`

	// QueueDepth is how many frames may queue before the newest drop.
	QueueDepth int `yaml:"queue_depth"`
}

// PlaybackConfig tunes the speaker sink.
type PlaybackConfig struct {
	// SampleRate the device is first opened at.
	SampleRate int `yaml:"sample_rate"`

	// EmitHold is the emitting-signal debounce window.
	EmitHold time.Duration `yaml:"emit_hold"`

	// AmplitudeGain scales the reported amplitude.
	AmplitudeGain float64 `yaml:"amplitude_gain"`
}

// VADConfig tunes the advisory voice-activity detector.
type VADConfig struct {
	// SpeechThresholdDB is the dBFS level above which speech begins.
	SpeechThresholdDB float64 `yaml:"speech_threshold_db"`

	// SilenceThresholdDB is the dBFS level below which speech may end.
	// Must be lower than SpeechThresholdDB (hysteresis).
	SilenceThresholdDB float64 `yaml:"silence_threshold_db"`

	// HoldDuration is how long energy must stay low before speech ends.
	HoldDuration time.Duration `yaml:"hold_duration"`

	// MinSpeechDuration gates out short noise bursts.
	MinSpeechDuration time.Duration `yaml:"min_speech_duration"`

	// Smoothing is the exponential smoothing factor in (0, 1].
	Smoothing float64 `yaml:"smoothing"`
}

// Default returns the configuration the client ships with. Loading merges
// the file over these values, so omitted fields keep their defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:               "ws://localhost:8000/ws",
			DialTimeout:       10 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			Reconnect: ReconnectConfig{
				InitialDelay: time.Second,
				MaxDelay:     30 * time.Second,
				MaxAttempts:  0,
			},
			LogLevel:    LogInfo,
			MetricsAddr: "",
		},
		Session: protocol.DefaultSessionConfig(),
		Audio: AudioConfig{
			Capture: CaptureConfig{
				SampleRate:    16000,
				FrameDuration: 60 * time.Millisecond,
				QueueDepth:    16,
			},
			Playback: PlaybackConfig{
				SampleRate:    24000,
				EmitHold:      250 * time.Millisecond,
				AmplitudeGain: 1.0,
			},
		},
		VAD: VADConfig{
			SpeechThresholdDB:  -35,
			SilenceThresholdDB: -45,
			HoldDuration:       600 * time.Millisecond,
			MinSpeechDuration:  300 * time.Millisecond,
			Smoothing:          0.3,
		},
	}
}
