// Package audio defines the frame model and PCM level math shared by the
// capture, playback, and voice-activity stages of the Zeni voice pipeline.
//
// All audio in the pipeline is little-endian PCM16 mono. Frames are the
// atomic unit of transport: captured from the microphone, classified by VAD,
// sent as raw binary WebSocket frames, and played through the speaker. A
// frame is owned by exactly one stage at a time and handed off by value;
// stages must not retain a reference to Data after passing a frame on.
package audio

import "time"

// Capture and playback constants negotiated with the Zeni server.
const (
	// CaptureSampleRate is the microphone sample rate in Hz.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the default synthesis sample rate in Hz. The
	// server may renegotiate this per audio_response message.
	PlaybackSampleRate = 24000

	// FrameDuration is the fixed capture window. 60 ms keeps the message
	// count low while staying comfortably under the round-trip budget.
	FrameDuration = 60 * time.Millisecond

	// FrameSamples is the number of PCM16 samples in one capture frame.
	FrameSamples = CaptureSampleRate * 60 / 1000 // 960

	// FrameBytes is the byte length of one capture frame (PCM16 mono).
	FrameBytes = FrameSamples * 2 // 1920
)

// Frame is a single span of PCM16 mono audio flowing through the pipeline.
type Frame struct {
	// Data is raw little-endian PCM16. Never aliased across stages.
	Data []byte

	// SampleRate in Hz (16000 for capture, 24000 default for playback).
	SampleRate int

	// Sequence is a monotonically increasing counter assigned by the capture
	// source for the life of the device, used in logs to spot dropped frames.
	// It is not the wire sequence: the protocol client numbers frames
	// separately at the point of transmission, restarting at 0 per session.
	Sequence uint64

	// Timestamp marks when the frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Drain reads from ch until it is closed, discarding all values. Use this to
// prevent goroutine leaks when a streaming channel's data is not needed.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
