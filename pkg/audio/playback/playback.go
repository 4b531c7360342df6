// Package playback renders synthesized speech through the speaker and tracks
// the output amplitude for animation.
//
// A [Sink] queues PCM16 chunks and serves them to the audio device on demand.
// Two signals describe its state and they are deliberately different:
// Pending reports whether undelivered audio is queued, while Emitting reports
// whether sound is actually coming out of the speaker right now. Emitting is
// held high for a short window after the last audio was served, so the
// brief gaps between streamed chunks do not read as silence.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shankarsingh077/Zeni/pkg/audio"
)

// ErrClosed is returned when using a Sink after Close.
var ErrClosed = errors.New("playback: sink closed")

// Device is the speaker abstraction. Open starts the device pulling audio
// via the given callback; the callback runs on the audio thread and must
// fill out completely (zeros mean silence). Implementations must tolerate
// Open after Close for sample-rate switches.
type Device interface {
	Open(sampleRate int, pull func(out []byte)) error
	Close() error
}

// Config tunes a Sink. Zero fields take the package defaults.
type Config struct {
	// SampleRate the device is first opened at.
	// Default: audio.PlaybackSampleRate (24 kHz).
	SampleRate int

	// EmitHold is how long Emitting stays true after the last audio was
	// served. Default: 250 ms.
	EmitHold time.Duration

	// AmplitudeGain scales the reported amplitude. Default: 1.0.
	AmplitudeGain float64
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.PlaybackSampleRate
	}
	if c.EmitHold <= 0 {
		c.EmitHold = 250 * time.Millisecond
	}
	if c.AmplitudeGain <= 0 {
		c.AmplitudeGain = 1.0
	}
}

// Sink queues synthesized audio and streams it to a Device. Safe for
// concurrent use.
type Sink struct {
	cfg Config
	dev Device

	mu       sync.Mutex
	queue    [][]byte
	rate     int // current device rate, 0 while the device is closed
	closed   bool
	lastEmit time.Time
	amp      float64
	onAmp    func(float64)
}

// Option configures a Sink.
type Option func(*Sink)

// WithAmplitudeFunc registers a callback invoked from the audio thread with
// the amplitude (0..1) of each served span. Keep it cheap.
func WithAmplitudeFunc(fn func(float64)) Option {
	return func(s *Sink) { s.onAmp = fn }
}

// New creates a Sink on the given device. The device is not opened until the
// first Enqueue.
func New(dev Device, cfg Config, opts ...Option) *Sink {
	cfg.applyDefaults()
	s := &Sink{cfg: cfg, dev: dev}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue appends one chunk of PCM16 for playback. A sampleRate of 0 means
// the sink's configured default. When the rate differs from the currently
// open device, the device is reopened at the new rate; queued audio at the
// old rate is discarded rather than played at the wrong pitch.
func (s *Sink) Enqueue(pcm []byte, sampleRate int) error {
	if len(pcm) == 0 {
		return nil
	}
	if sampleRate <= 0 {
		sampleRate = s.cfg.SampleRate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if s.rate != sampleRate {
		if err := s.reopenLocked(sampleRate); err != nil {
			return err
		}
	}

	s.queue = append(s.queue, pcm)
	return nil
}

// reopenLocked switches the device to a new sample rate. Caller holds s.mu.
func (s *Sink) reopenLocked(sampleRate int) error {
	if s.rate != 0 {
		if err := s.dev.Close(); err != nil {
			return fmt.Errorf("playback: close device: %w", err)
		}
		s.queue = nil
	}
	if err := s.dev.Open(sampleRate, s.pull); err != nil {
		s.rate = 0
		return fmt.Errorf("playback: open device at %d Hz: %w", sampleRate, err)
	}
	s.rate = sampleRate
	return nil
}

// Stop discards all queued audio and silences the speaker immediately. The
// device stays open for the next utterance. Emitting turns false at once —
// the debounce hold applies to natural chunk gaps, not to an explicit stop.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.amp = 0
	s.lastEmit = time.Time{}
}

// Close stops playback and releases the device. Idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.queue = nil
	s.amp = 0
	s.lastEmit = time.Time{}
	if s.rate != 0 {
		s.rate = 0
		return s.dev.Close()
	}
	return nil
}

// Pending reports whether undelivered audio is queued.
func (s *Sink) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) > 0
}

// Emitting reports whether the speaker is producing sound, held true through
// short inter-chunk gaps. This is the signal barge-in logic must consult:
// audio already delivered to the device keeps sounding briefly even after
// the queue drains. Audio that is queued but has not reached the device yet
// does not count; Pending reports that.
func (s *Sink) Emitting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastEmit.IsZero() {
		return false
	}
	if len(s.queue) > 0 {
		return true
	}
	return time.Since(s.lastEmit) < s.cfg.EmitHold
}

// Amplitude returns the 0..1 loudness of the most recently served audio.
func (s *Sink) Amplitude() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.amp
}

// pull is the device callback. It fills out from the queue, padding with
// silence when the queue runs dry, and updates the amplitude signal.
func (s *Sink) pull(out []byte) {
	s.mu.Lock()

	n := 0
	for n < len(out) && len(s.queue) > 0 {
		head := s.queue[0]
		c := copy(out[n:], head)
		n += c
		if c == len(head) {
			s.queue = s.queue[1:]
		} else {
			s.queue[0] = head[c:]
		}
	}
	for i := n; i < len(out); i++ {
		out[i] = 0
	}

	var amp float64
	if n > 0 {
		amp = audio.Amplitude(out[:n], s.cfg.AmplitudeGain)
		s.lastEmit = time.Now()
	}
	s.amp = amp
	onAmp := s.onAmp
	s.mu.Unlock()

	if onAmp != nil {
		onAmp(amp)
	}
}
