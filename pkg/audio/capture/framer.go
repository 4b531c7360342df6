package capture

import (
	"time"

	"github.com/shankarsingh077/Zeni/pkg/audio"
)

// framer re-cuts arbitrarily sized PCM16 bursts into exact fixed-duration
// frames. Sequence numbers are monotonic for the life of the framer so
// drops stay visible across stop/start cycles; the per-session wire
// sequence is assigned later, by the protocol client. reset discards a
// partial frame without disturbing the counter.
type framer struct {
	sampleRate int
	frameDur   time.Duration
	frameBytes int

	buf     []byte
	seq     uint64
	elapsed time.Duration
}

func newFramer(sampleRate int, frameDur time.Duration) *framer {
	samples := int(frameDur.Seconds() * float64(sampleRate))
	return &framer{
		sampleRate: sampleRate,
		frameDur:   frameDur,
		frameBytes: samples * 2, // 16-bit mono
		buf:        make([]byte, 0, samples*4),
	}
}

// push appends pcm to the accumulator and invokes emit once per completed
// frame, in order. Each emitted frame owns its backing array.
func (f *framer) push(pcm []byte, emit func(audio.Frame)) {
	f.buf = append(f.buf, pcm...)

	for len(f.buf) >= f.frameBytes {
		data := make([]byte, f.frameBytes)
		copy(data, f.buf[:f.frameBytes])
		f.buf = f.buf[f.frameBytes:]

		emit(audio.Frame{
			Data:       data,
			SampleRate: f.sampleRate,
			Sequence:   f.seq,
			Timestamp:  f.elapsed,
		})
		f.seq++
		f.elapsed += f.frameDur
	}
}

// reset discards any accumulated partial frame. A short tail must never be
// emitted as an undersized frame.
func (f *framer) reset() {
	f.buf = f.buf[:0]
}
