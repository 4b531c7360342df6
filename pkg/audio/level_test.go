package audio

import (
	"math"
	"testing"
)

// sine generates n samples of a full-scale PCM16 sine wave.
func sine(n int, amplitude float64) []byte {
	out := make([]byte, n*2)
	for i := range n {
		s := int16(amplitude * 32767 * math.Sin(2*math.Pi*float64(i)/64))
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func TestRMS_Silence(t *testing.T) {
	t.Parallel()
	if got := RMS(make([]byte, 1920)); got != 0 {
		t.Errorf("RMS(silence) = %v; want 0", got)
	}
}

func TestRMS_Empty(t *testing.T) {
	t.Parallel()
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v; want 0", got)
	}
}

func TestRMS_FullScaleSine(t *testing.T) {
	t.Parallel()
	// A full-scale sine has RMS = peak / sqrt(2) ≈ 23170.
	got := RMS(sine(960, 1.0))
	want := 32767.0 / math.Sqrt2
	if math.Abs(got-want) > 200 {
		t.Errorf("RMS(full-scale sine) = %v; want ≈ %v", got, want)
	}
}

func TestRMSdB_SilenceFloor(t *testing.T) {
	t.Parallel()
	if got := RMSdB(make([]byte, 64)); got != -96.0 {
		t.Errorf("RMSdB(silence) = %v; want -96", got)
	}
}

func TestRMSdB_FullScaleNearZero(t *testing.T) {
	t.Parallel()
	// Full-scale sine sits around -3 dBFS.
	got := RMSdB(sine(960, 1.0))
	if got < -4 || got > 0 {
		t.Errorf("RMSdB(full-scale sine) = %v; want within (-4, 0)", got)
	}
}

func TestAmplitude_Clamped(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		pcm  []byte
		gain float64
		min  float64
		max  float64
	}{
		{"silence", make([]byte, 128), 1.0, 0, 0},
		{"full scale high gain clamps to 1", sine(960, 1.0), 10.0, 1, 1},
		{"half scale unity gain", sine(960, 0.5), 1.0, 0.2, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Amplitude(tt.pcm, tt.gain)
			if got < tt.min || got > tt.max {
				t.Errorf("Amplitude = %v; want within [%v, %v]", got, tt.min, tt.max)
			}
		})
	}
}
