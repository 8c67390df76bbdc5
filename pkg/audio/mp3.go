package audio

import (
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 decodes an MP3 stream into PCM. go-mp3 always yields 16-bit
// stereo at the stream's sample rate; mono sources are duplicated into both
// channels.
func DecodeMP3(r io.Reader) (PCM, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return PCM{}, fmt.Errorf("audio: decode mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return PCM{}, fmt.Errorf("audio: decode mp3: %w", err)
	}
	// One stereo frame is 4 bytes.
	raw = raw[:len(raw)-len(raw)%4]
	if len(raw) == 0 {
		return PCM{}, errors.New("audio: decode mp3: no audio frames")
	}
	return PCM{Data: raw, Format: Format{SampleRate: dec.SampleRate(), Channels: 2}}, nil
}
