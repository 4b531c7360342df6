// Package capture acquires microphone audio and slices it into fixed-duration
// PCM16 frames ready for the wire.
//
// The OS delivers audio in bursts whose size it chooses; a framer accumulates
// those bursts and re-cuts them into exact 60 ms frames so every outbound
// message has the same shape. Frames are handed off on a buffered channel —
// when the consumer stalls, the newest frames are dropped rather than letting
// capture latency grow without bound.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/shankarsingh077/Zeni/pkg/audio"
)

// Code classifies a capture failure so callers can react differently to a
// denied permission (prompt the user) versus a missing device (retry later).
type Code int

const (
	CodeInternal Code = iota
	CodePermissionDenied
	CodeDeviceUnavailable
)

// String returns the name of the code.
func (c Code) String() string {
	switch c {
	case CodePermissionDenied:
		return "permission_denied"
	case CodeDeviceUnavailable:
		return "device_unavailable"
	default:
		return "internal"
	}
}

// Error is a classified capture failure.
type Error struct {
	Code  Code
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("capture: %s: %v", e.Code, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// classify maps a backend error to a capture Error. miniaudio reports mic
// permission failures as MA_ACCESS_DENIED, which surfaces here only as the
// error text.
func classify(err error) *Error {
	code := CodeDeviceUnavailable
	if strings.Contains(strings.ToLower(err.Error()), "access denied") {
		code = CodePermissionDenied
	}
	return &Error{Code: code, Cause: err}
}

// Config tunes a microphone source. Zero fields take the package defaults.
type Config struct {
	// SampleRate in Hz. Default: audio.CaptureSampleRate (16 kHz).
	SampleRate int

	// FrameDuration is the length of each emitted frame.
	// Default: audio.FrameDuration (60 ms).
	FrameDuration time.Duration

	// QueueDepth is how many frames may wait for the consumer before the
	// newest are dropped. Default: 16 (~1 s of audio).
	QueueDepth int
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.CaptureSampleRate
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = audio.FrameDuration
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 16
	}
}

// Source produces microphone frames. Implementations must be safe for
// concurrent use.
type Source interface {
	// Start opens the device and begins emitting frames on Frames().
	Start(ctx context.Context) error

	// Stop pauses capture. Audio accumulated towards an incomplete frame is
	// discarded, never emitted short. Start may be called again.
	Stop() error

	// Frames returns the frame stream. The channel is closed by Close.
	Frames() <-chan audio.Frame

	// Close releases the device. The source cannot be restarted after.
	Close() error
}

// Microphone is the malgo-backed Source. Create one with NewMicrophone.
type Microphone struct {
	cfg    Config
	frames chan audio.Frame

	mu      sync.Mutex
	backend *malgo.AllocatedContext
	device  *malgo.Device
	framer  *framer
	running bool
	closed  bool
	dropped uint64
}

var _ Source = (*Microphone)(nil)

// NewMicrophone creates a microphone source. No device is touched until
// Start.
func NewMicrophone(cfg Config) *Microphone {
	cfg.applyDefaults()
	return &Microphone{
		cfg:    cfg,
		frames: make(chan audio.Frame, cfg.QueueDepth),
		framer: newFramer(cfg.SampleRate, cfg.FrameDuration),
	}
}

// Frames returns the captured frame stream.
func (m *Microphone) Frames() <-chan audio.Frame { return m.frames }

// Start opens the default capture device and begins streaming. Idempotent
// while running.
func (m *Microphone) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return &Error{Code: CodeInternal, Cause: errors.New("source closed")}
	}
	if m.running {
		return nil
	}

	if m.backend == nil {
		ctxCfg := malgo.ContextConfig{}
		ctxCfg.ThreadPriority = malgo.ThreadPriorityRealtime
		backend, err := malgo.InitContext(nil, ctxCfg, nil)
		if err != nil {
			return &Error{Code: CodeInternal, Cause: fmt.Errorf("init context: %w", err)}
		}
		m.backend = backend
	}

	if m.device == nil {
		// miniaudio exposes no echo cancellation or noise suppression;
		// whatever enhancement the OS capture path applies is what we get.
		deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
		deviceCfg.Capture.Format = malgo.FormatS16
		deviceCfg.Capture.Channels = 1
		deviceCfg.SampleRate = uint32(m.cfg.SampleRate)
		deviceCfg.PeriodSizeInMilliseconds = 20

		callbacks := malgo.DeviceCallbacks{
			Data: func(_, input []byte, _ uint32) {
				m.onData(input)
			},
		}

		device, err := malgo.InitDevice(m.backend.Context, deviceCfg, callbacks)
		if err != nil {
			return classify(fmt.Errorf("init device: %w", err))
		}
		m.device = device
	}

	if err := m.device.Start(); err != nil {
		return classify(fmt.Errorf("start device: %w", err))
	}
	m.running = true
	slog.Info("microphone started",
		"sample_rate", m.cfg.SampleRate,
		"frame_duration", m.cfg.FrameDuration,
	)
	return nil
}

// Stop pauses the device and discards any partial frame. Idempotent.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	if err := m.device.Stop(); err != nil {
		return classify(fmt.Errorf("stop device: %w", err))
	}
	m.framer.reset()
	slog.Info("microphone stopped", "frames_dropped", m.dropped)
	return nil
}

// Close stops the device, releases the backend, and closes the frame
// channel. Idempotent.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.running = false

	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	if m.backend != nil {
		if err := m.backend.Uninit(); err != nil {
			slog.Warn("audio backend uninit failed", "error", err)
		}
		m.backend.Free()
		m.backend = nil
	}
	close(m.frames)
	return nil
}

// onData is the device callback. It runs on the audio thread, so it must
// never block: full queues drop the newest frame.
func (m *Microphone) onData(input []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	m.framer.push(input, func(frame audio.Frame) {
		select {
		case m.frames <- frame:
		default:
			m.dropped++
			if m.dropped%50 == 1 {
				slog.Warn("capture queue full, dropping frames", "dropped_total", m.dropped)
			}
		}
	})
}
