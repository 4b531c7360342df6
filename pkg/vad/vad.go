// Package vad implements energy-based voice activity detection for the
// capture pipeline.
//
// The detector is a pure state machine over per-frame RMS energy in dBFS,
// exponentially smoothed, with hysteresis between a speech threshold and a
// lower silence threshold. A speech episode only surfaces as a completed
// utterance if it lasted at least the configured minimum duration; shorter
// bursts are discarded as noise.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// detection result, making it suitable for the low-latency capture loop. It
// performs no I/O and holds no locks; a Detector must not be shared across
// goroutines.
//
// The detector is advisory only. It never gates transmission — the
// authoritative end-of-speech signal is the explicit speech_finished message
// sent on utterance end. VAD exists to suppress spurious very-short noise
// bursts from surfacing as speech activity.
package vad

import (
	"time"

	"github.com/shankarsingh077/Zeni/pkg/audio"
)

// State enumerates the detector's internal phases.
type State int

const (
	// StateSilence means no active speech episode.
	StateSilence State = iota

	// StateSpeech means an episode is in progress.
	StateSpeech
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StateSpeech:
		return "speech"
	default:
		return "unknown"
	}
}

// EventType enumerates per-frame detection results.
type EventType int

const (
	// Silence indicates no speech detected.
	Silence EventType = iota

	// SpeechStart indicates speech has just begun.
	SpeechStart

	// SpeechContinue indicates ongoing speech.
	SpeechContinue

	// SpeechEnd indicates a speech episode that met the minimum duration has
	// just ended.
	SpeechEnd

	// NoiseDiscarded indicates an episode ended before reaching the minimum
	// speech duration and was dropped as noise.
	NoiseDiscarded
)

// String returns the name of the event type.
func (t EventType) String() string {
	switch t {
	case Silence:
		return "silence"
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	case NoiseDiscarded:
		return "noise_discarded"
	default:
		return "unknown"
	}
}

// Event is the detection result for a single audio frame.
type Event struct {
	Type EventType

	// EnergyDB is the smoothed frame energy in dBFS that produced the result.
	EnergyDB float64

	// SpeechDuration is the accumulated episode length. Only meaningful for
	// SpeechContinue, SpeechEnd, and NoiseDiscarded events.
	SpeechDuration time.Duration
}

// Config holds the detector tuning constants. All thresholds are in dBFS.
type Config struct {
	// SpeechThresholdDB is the smoothed energy above which a frame flips the
	// detector into the speech state. Typical: -35.
	SpeechThresholdDB float64

	// SilenceThresholdDB is the smoothed energy below which an active episode
	// starts its hold countdown. Must be ≤ SpeechThresholdDB. Typical: -45.
	SilenceThresholdDB float64

	// HoldDuration is how long energy must stay below SilenceThresholdDB
	// before the episode is considered ended. Typical: 600 ms.
	HoldDuration time.Duration

	// MinSpeechDuration is the minimum episode length for a SpeechEnd event;
	// shorter episodes yield NoiseDiscarded. Typical: 300 ms.
	MinSpeechDuration time.Duration

	// Smoothing is the exponential smoothing factor applied to frame energy,
	// in (0, 1]. 1 disables smoothing. Typical: 0.3.
	Smoothing float64
}

// DefaultConfig returns the tuning used by the capture pipeline.
func DefaultConfig() Config {
	return Config{
		SpeechThresholdDB:  -35,
		SilenceThresholdDB: -45,
		HoldDuration:       600 * time.Millisecond,
		MinSpeechDuration:  300 * time.Millisecond,
		Smoothing:          0.3,
	}
}

// Detector is the energy VAD state machine. Create one per capture stream
// with New; it is not safe for concurrent use.
type Detector struct {
	cfg Config

	state     State
	smoothed  float64
	hasEnergy bool
	speechDur time.Duration
	belowDur  time.Duration
}

// New creates a Detector. Zero-value config fields are replaced with the
// defaults from DefaultConfig.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.SpeechThresholdDB == 0 {
		cfg.SpeechThresholdDB = def.SpeechThresholdDB
	}
	if cfg.SilenceThresholdDB == 0 {
		cfg.SilenceThresholdDB = def.SilenceThresholdDB
	}
	if cfg.HoldDuration <= 0 {
		cfg.HoldDuration = def.HoldDuration
	}
	if cfg.MinSpeechDuration <= 0 {
		cfg.MinSpeechDuration = def.MinSpeechDuration
	}
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		cfg.Smoothing = def.Smoothing
	}
	return &Detector{cfg: cfg, state: StateSilence}
}

// State returns the detector's current phase.
func (d *Detector) State() State { return d.state }

// Reset returns the detector to silence unconditionally, clearing all
// accumulated energy and duration state. Call it whenever a new utterance
// begins so stale state from the previous segment cannot leak in.
func (d *Detector) Reset() {
	d.state = StateSilence
	d.smoothed = 0
	d.hasEnergy = false
	d.speechDur = 0
	d.belowDur = 0
}

// ProcessFrame classifies one PCM16 frame of the given duration and advances
// the state machine.
func (d *Detector) ProcessFrame(pcm []byte, frameDur time.Duration) Event {
	db := audio.RMSdB(pcm)

	// Exponential smoothing; the first frame seeds the accumulator.
	if !d.hasEnergy {
		d.smoothed = db
		d.hasEnergy = true
	} else {
		d.smoothed = d.cfg.Smoothing*db + (1-d.cfg.Smoothing)*d.smoothed
	}

	switch d.state {
	case StateSilence:
		if d.smoothed > d.cfg.SpeechThresholdDB {
			d.state = StateSpeech
			d.speechDur = frameDur
			d.belowDur = 0
			return Event{Type: SpeechStart, EnergyDB: d.smoothed}
		}
		return Event{Type: Silence, EnergyDB: d.smoothed}

	case StateSpeech:
		d.speechDur += frameDur

		if d.smoothed < d.cfg.SilenceThresholdDB {
			d.belowDur += frameDur
			if d.belowDur >= d.cfg.HoldDuration {
				// Speech time excludes the trailing silence that triggered
				// the end-of-episode countdown.
				spoken := d.speechDur - d.belowDur
				d.state = StateSilence
				d.speechDur = 0
				d.belowDur = 0
				if spoken < d.cfg.MinSpeechDuration {
					return Event{Type: NoiseDiscarded, EnergyDB: d.smoothed, SpeechDuration: spoken}
				}
				return Event{Type: SpeechEnd, EnergyDB: d.smoothed, SpeechDuration: spoken}
			}
		} else {
			// Energy recovered above the silence floor; abort the countdown.
			d.belowDur = 0
		}
		return Event{Type: SpeechContinue, EnergyDB: d.smoothed, SpeechDuration: d.speechDur}
	}

	return Event{Type: Silence, EnergyDB: d.smoothed}
}
