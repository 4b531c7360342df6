package audio

import "math"

// minDB is the floor returned by RMSdB for silent or empty input. -96 dBFS is
// below the quantisation noise of 16-bit PCM.
const minDB = -96.0

// RMS computes the root-mean-square energy of little-endian PCM16 data.
// The result is in raw sample units, 0..32768. An odd trailing byte is
// ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(pcm[i]) | int16(pcm[i+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// RMSdB converts PCM16 data to dBFS (0 dB = full scale). Silent input
// returns -96 dB.
func RMSdB(pcm []byte) float64 {
	rms := RMS(pcm)
	if rms <= 0 {
		return minDB
	}
	db := 20 * math.Log10(rms/32768.0)
	if db < minDB {
		return minDB
	}
	return db
}

// Amplitude maps PCM16 data to a 0–1 loudness value for UI consumption.
// gain scales the raw RMS before clamping; a gain of 1 maps full-scale
// sine input to roughly 0.7.
func Amplitude(pcm []byte, gain float64) float64 {
	a := RMS(pcm) / 32768.0 * gain
	if a > 1 {
		return 1
	}
	if a < 0 {
		return 0
	}
	return a
}
