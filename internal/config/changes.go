package config

// SessionChanges describes which live-adjustable session options differ
// between two configurations. The watcher hands this to the caller so a
// running session can be retuned without a reconnect; options outside this
// set (endpoint, audio devices, VAD) need a restart.
type SessionChanges struct {
	Language    bool
	Voice       bool
	Personality bool
	TTSProvider bool
	TTSSpeed    bool
}

// Any reports whether at least one live-adjustable option changed.
func (c SessionChanges) Any() bool {
	return c.Language || c.Voice || c.Personality || c.TTSProvider || c.TTSSpeed
}

// DiffSession compares the session blocks of two configs.
func DiffSession(old, new *Config) SessionChanges {
	if old == nil || new == nil {
		return SessionChanges{}
	}
	return SessionChanges{
		Language:    old.Session.LanguagePreference != new.Session.LanguagePreference,
		Voice:       old.Session.VoicePreference != new.Session.VoicePreference,
		Personality: old.Session.Personality != new.Session.Personality,
		TTSProvider: old.Session.TTSProvider != new.Session.TTSProvider,
		TTSSpeed:    old.Session.SpeakingRate != new.Session.SpeakingRate,
	}
}

// RequiresRestart reports whether the change between old and new touches
// settings that cannot be applied to a live session.
func RequiresRestart(old, new *Config) bool {
	if old == nil || new == nil {
		return false
	}
	return old.Server != new.Server ||
		old.Audio != new.Audio ||
		old.VAD != new.VAD ||
		old.Session.SampleRate != new.Session.SampleRate ||
		old.Session.PushToTalk != new.Session.PushToTalk
}
