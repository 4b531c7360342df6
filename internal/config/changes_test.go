package config

import (
	"testing"

	"github.com/shankarsingh077/Zeni/pkg/protocol"
)

func TestDiffSession_DetectsEachField(t *testing.T) {
	t.Parallel()

	old := Default()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   SessionChanges
	}{
		{
			name:   "language",
			mutate: func(c *Config) { c.Session.LanguagePreference = protocol.LanguageEnglish },
			want:   SessionChanges{Language: true},
		},
		{
			name:   "voice",
			mutate: func(c *Config) { c.Session.VoicePreference = "Puck" },
			want:   SessionChanges{Voice: true},
		},
		{
			name:   "personality",
			mutate: func(c *Config) { c.Session.Personality = protocol.PersonalityHuman },
			want:   SessionChanges{Personality: true},
		},
		{
			name:   "tts provider",
			mutate: func(c *Config) { c.Session.TTSProvider = "elevenlabs" },
			want:   SessionChanges{TTSProvider: true},
		},
		{
			name:   "tts speed",
			mutate: func(c *Config) { c.Session.SpeakingRate = 1.5 },
			want:   SessionChanges{TTSSpeed: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			updated := Default()
			tt.mutate(updated)
			got := DiffSession(old, updated)
			if got != tt.want {
				t.Errorf("DiffSession = %+v; want %+v", got, tt.want)
			}
			if !got.Any() {
				t.Error("Any() = false for a changed config")
			}
		})
	}
}

func TestDiffSession_IdenticalConfigs(t *testing.T) {
	t.Parallel()

	if got := DiffSession(Default(), Default()); got.Any() {
		t.Errorf("DiffSession of identical configs = %+v; want no changes", got)
	}
}

func TestRequiresRestart(t *testing.T) {
	t.Parallel()

	old := Default()

	restart := Default()
	restart.Server.URL = "wss://other.example.com/ws"
	if !RequiresRestart(old, restart) {
		t.Error("endpoint change should require a restart")
	}

	live := Default()
	live.Session.VoicePreference = "Puck"
	if RequiresRestart(old, live) {
		t.Error("voice change should be live-adjustable, not a restart")
	}

	rate := Default()
	rate.Session.SampleRate = 48000
	rate.Audio.Capture.SampleRate = 48000
	if !RequiresRestart(old, rate) {
		t.Error("sample rate change should require a restart")
	}
}
