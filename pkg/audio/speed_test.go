package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/kamihatanoadoresu/english-conversation/pkg/audio"
)

// sine returns a mono clip of the given length holding a 220 Hz tone.
func sine(rate int, d time.Duration) audio.PCM {
	n := int(int64(rate) * int64(d) / int64(time.Second))
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
	}
	return audio.PCM{Data: samplesToBytes(samples), Format: audio.Format{SampleRate: rate, Channels: 1}}
}

func TestChangeSpeed_Duration(t *testing.T) {
	tests := []struct {
		speed float64
		want  time.Duration
	}{
		{2.0, 1000 * time.Millisecond},
		{1.5, 1333 * time.Millisecond},
		{1.2, 1667 * time.Millisecond},
		{0.8, 2500 * time.Millisecond},
		{0.6, 3333 * time.Millisecond},
	}
	in := sine(16000, 2*time.Second)
	for _, tt := range tests {
		got := audio.ChangeSpeed(in, tt.speed)
		if got.Format != in.Format {
			t.Errorf("speed %v: format changed to %+v", tt.speed, got.Format)
		}
		if diff := got.Duration() - tt.want; diff < -5*time.Millisecond || diff > 5*time.Millisecond {
			t.Errorf("speed %v: duration = %v, want ~%v", tt.speed, got.Duration(), tt.want)
		}
	}
}

func TestChangeSpeed_Stereo(t *testing.T) {
	mono := sine(24000, time.Second)
	stereo, err := audio.Remix(mono, 2)
	if err != nil {
		t.Fatal(err)
	}

	got := audio.ChangeSpeed(stereo, 1.5)
	if got.Channels != 2 {
		t.Fatalf("channels = %d, want 2", got.Channels)
	}
	if got.Frames() != 16000 {
		t.Errorf("frames = %d, want 16000", got.Frames())
	}
	// Both channels carried the same signal, so they still match.
	samples := bytesToSamples(got.Data)
	for i := 0; i+1 < len(samples); i += 2 {
		if samples[i] != samples[i+1] {
			t.Fatalf("frame %d: L=%d R=%d", i/2, samples[i], samples[i+1])
		}
	}
}

func TestChangeSpeed_PreservesLevel(t *testing.T) {
	in := sine(16000, time.Second)
	got := audio.ChangeSpeed(in, 0.8)

	peak := func(p audio.PCM) int16 {
		var m int16
		for _, s := range bytesToSamples(p.Data) {
			if s < 0 {
				s = -s
			}
			m = max(m, s)
		}
		return m
	}
	if p := peak(got); p < 4000 || p > 8001 {
		t.Errorf("peak = %d, want within the source tone's range", p)
	}
}

func TestChangeSpeed_Unchanged(t *testing.T) {
	in := sine(16000, time.Second)
	short := sine(16000, 10*time.Millisecond)

	tests := []struct {
		name  string
		in    audio.PCM
		speed float64
	}{
		{"unit speed", in, 1.0},
		{"zero speed", in, 0},
		{"negative speed", in, -1},
		{"shorter than a window", short, 1.5},
		{"no format", audio.PCM{Data: in.Data}, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := audio.ChangeSpeed(tt.in, tt.speed)
			if len(got.Data) != len(tt.in.Data) {
				t.Errorf("len = %d, want %d", len(got.Data), len(tt.in.Data))
			}
		})
	}
}
