package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
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

// LoadFromReader decodes a YAML config from r over the defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.URL == "" {
		errs = append(errs, errors.New("server.url is required"))
	} else if !strings.HasPrefix(cfg.Server.URL, "ws://") && !strings.HasPrefix(cfg.Server.URL, "wss://") {
		errs = append(errs, fmt.Errorf("server.url %q must use the ws:// or wss:// scheme", cfg.Server.URL))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.dial_timeout %v is negative", cfg.Server.DialTimeout))
	}
	if cfg.Server.HeartbeatInterval < 0 {
		errs = append(errs, fmt.Errorf("server.heartbeat_interval %v is negative", cfg.Server.HeartbeatInterval))
	}
	if cfg.Server.Reconnect.InitialDelay < 0 || cfg.Server.Reconnect.MaxDelay < 0 {
		errs = append(errs, errors.New("server.reconnect delays must not be negative"))
	}
	if cfg.Server.Reconnect.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("server.reconnect.max_attempts %d is negative; use 0 for unlimited", cfg.Server.Reconnect.MaxAttempts))
	}

	// Session
	if cfg.Session.LanguagePreference != "" && !cfg.Session.LanguagePreference.IsValid() {
		errs = append(errs, fmt.Errorf("session.language_preference %q is invalid; valid values: en, hi, auto", cfg.Session.LanguagePreference))
	}
	if cfg.Session.Personality != "" && !cfg.Session.Personality.IsValid() {
		errs = append(errs, fmt.Errorf("session.personality %q is invalid; valid values: assistant, human, general", cfg.Session.Personality))
	}
	if cfg.Session.SpeakingRate != 0 {
		if cfg.Session.SpeakingRate < 0.5 || cfg.Session.SpeakingRate > 2.0 {
			errs = append(errs, fmt.Errorf("session.speaking_rate %.2f is out of range [0.5, 2.0]", cfg.Session.SpeakingRate))
		}
	}
	if cfg.Session.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("session.sample_rate %d must be positive", cfg.Session.SampleRate))
	}

	// Audio
	if cfg.Audio.Capture.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.capture.sample_rate %d must be positive", cfg.Audio.Capture.SampleRate))
	}
	if cfg.Audio.Capture.SampleRate != cfg.Session.SampleRate {
		errs = append(errs, fmt.Errorf("audio.capture.sample_rate %d must match session.sample_rate %d",
			cfg.Audio.Capture.SampleRate, cfg.Session.SampleRate))
	}
	if cfg.Audio.Capture.FrameDuration <= 0 {
		errs = append(errs, fmt.Errorf("audio.capture.frame_duration %v must be positive", cfg.Audio.Capture.FrameDuration))
	}
	if cfg.Audio.Playback.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.playback.sample_rate %d must be positive", cfg.Audio.Playback.SampleRate))
	}

	// VAD
	if cfg.VAD.Smoothing <= 0 || cfg.VAD.Smoothing > 1 {
		errs = append(errs, fmt.Errorf("vad.smoothing %.2f is out of range (0, 1]", cfg.VAD.Smoothing))
	}
	if cfg.VAD.SilenceThresholdDB >= cfg.VAD.SpeechThresholdDB {
		errs = append(errs, fmt.Errorf("vad.silence_threshold_db %.1f must be below vad.speech_threshold_db %.1f",
			cfg.VAD.SilenceThresholdDB, cfg.VAD.SpeechThresholdDB))
	}

	return errors.Join(errs...)
}
