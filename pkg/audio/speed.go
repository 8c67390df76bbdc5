package audio

import (
	"encoding/binary"
	"math"
)

// stretchFrameDur is the analysis window length in seconds. 30 ms keeps
// speech pitch intact while staying short enough to avoid audible echo.
const stretchFrameDur = 0.030

// ChangeSpeed time-stretches p by the given factor without changing pitch:
// speed 1.5 plays in 1/1.5 of the original time, speed 0.8 in 1.25x. It uses
// windowed overlap-add with a Hann window at 50% synthesis overlap.
//
// A non-positive speed, speed 1.0, or a clip shorter than one analysis window
// returns p unchanged.
func ChangeSpeed(p PCM, speed float64) PCM {
	if speed <= 0 || speed == 1.0 || p.Channels <= 0 || p.SampleRate <= 0 {
		return p
	}
	frame := int(math.Round(stretchFrameDur * float64(p.SampleRate)))
	frame += frame % 2 // even length keeps the Hann sum exact at hop frame/2
	n := p.Frames()
	if frame < 4 || n < frame {
		return p
	}

	synHop := frame / 2
	anaHop := int(math.Round(float64(synHop) * speed))
	if anaHop < 1 {
		anaHop = 1
	}
	outLen := int(math.Round(float64(n) / speed))

	window := make([]float64, frame)
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(frame))
	}

	out := make([]byte, outLen*p.Channels*2)
	acc := make([]float64, outLen+frame)
	norm := make([]float64, outLen+frame)

	for ch := range p.Channels {
		clear(acc)
		clear(norm)
		for k := 0; k*synHop < outLen; k++ {
			ana := k * anaHop
			syn := k * synHop
			for i := range frame {
				var s float64
				if idx := ana + i; idx < n {
					s = float64(sampleAt(p.Data, idx, ch, p.Channels))
				}
				acc[syn+i] += window[i] * s
				norm[syn+i] += window[i]
			}
		}
		for i := range outLen {
			v := acc[i]
			if norm[i] > 1e-6 {
				v /= norm[i]
			}
			putSample(out, i, ch, p.Channels, clampInt16(v))
		}
	}
	return PCM{Data: out, Format: p.Format}
}

func sampleAt(data []byte, frame, ch, channels int) int16 {
	off := (frame*channels + ch) * 2
	return int16(binary.LittleEndian.Uint16(data[off : off+2]))
}

func putSample(data []byte, frame, ch, channels int, v int16) {
	off := (frame*channels + ch) * 2
	binary.LittleEndian.PutUint16(data[off:off+2], uint16(v))
}

func clampInt16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(math.Round(v))
	}
}
