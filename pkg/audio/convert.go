package audio

import (
	"fmt"
	"log/slog"
)

// Convert returns p in the target format. A clip already in that format is
// returned as is. Trailing bytes that do not form a whole frame are dropped.
//
// When the clip is downmixed it is mixed before resampling, and when it is
// upmixed it is resampled first, so the interpolation always runs on the
// smaller channel count.
func Convert(p PCM, target Format) (PCM, error) {
	switch {
	case p.SampleRate <= 0 || p.Channels <= 0:
		return PCM{}, fmt.Errorf("audio: convert: invalid source format %s", p.Format)
	case target.SampleRate <= 0 || target.Channels <= 0:
		return PCM{}, fmt.Errorf("audio: convert: invalid target format %s", target)
	case len(p.Data)%2 != 0:
		return PCM{}, fmt.Errorf("audio: convert: odd byte count %d", len(p.Data))
	}
	if p.Format == target {
		return p, nil
	}
	slog.Debug("audio: converting clip", "from", p.Format.String(), "to", target.String())

	if target.Channels < p.Channels {
		mixed, err := Remix(p, target.Channels)
		if err != nil {
			return PCM{}, err
		}
		return Resample(mixed, target.SampleRate), nil
	}
	return Remix(Resample(p, target.SampleRate), target.Channels)
}

// Remix changes the channel count of p. Mono fans out to every channel and
// any layout folds down to mono by averaging; other changes are rejected.
func Remix(p PCM, channels int) (PCM, error) {
	if p.Channels == channels {
		return p, nil
	}
	frames := p.Frames()
	out := make([]byte, frames*channels*2)

	switch {
	case p.Channels == 1:
		for f := range frames {
			s := sampleAt(p.Data, f, 0, 1)
			for ch := range channels {
				putSample(out, f, ch, channels, s)
			}
		}
	case channels == 1:
		for f := range frames {
			var sum int32
			for ch := range p.Channels {
				sum += int32(sampleAt(p.Data, f, ch, p.Channels))
			}
			putSample(out, f, 0, 1, int16(sum/int32(p.Channels)))
		}
	default:
		return PCM{}, fmt.Errorf("audio: remix %d to %d channels is not supported", p.Channels, channels)
	}
	return PCM{Data: out, Format: Format{SampleRate: p.SampleRate, Channels: channels}}, nil
}

// Resample converts p to rate by linear interpolation between neighbouring
// frames. A non-positive rate, or the clip's own rate, returns p unchanged.
func Resample(p PCM, rate int) PCM {
	if rate <= 0 || p.SampleRate <= 0 || rate == p.SampleRate || p.Empty() {
		return p
	}
	src := p.Frames()
	dst := int(int64(src) * int64(rate) / int64(p.SampleRate))
	out := make([]byte, dst*p.Channels*2)
	step := float64(p.SampleRate) / float64(rate)

	for f := range dst {
		pos := float64(f) * step
		i := int(pos)
		frac := pos - float64(i)
		next := min(i+1, src-1)
		for ch := range p.Channels {
			a := float64(sampleAt(p.Data, i, ch, p.Channels))
			b := float64(sampleAt(p.Data, next, ch, p.Channels))
			putSample(out, f, ch, p.Channels, clampInt16(a+(b-a)*frac))
		}
	}
	return PCM{Data: out, Format: Format{SampleRate: rate, Channels: p.Channels}}
}

// String renders f as e.g. "24000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	}
	return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
}
