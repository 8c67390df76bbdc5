// Package audio holds the PCM plumbing used by the voice pipeline: WAV and MP3
// decoding, format conversion, pitch-preserving speed change and uniquely
// named scratch files.
//
// All sample data is signed 16-bit little-endian PCM with interleaved channels.
package audio

import "time"

// Format describes the sample rate and channel count of a PCM buffer.
type Format struct {
	SampleRate int
	Channels   int
}

// PCM is a decoded clip: raw interleaved int16 samples plus their format.
type PCM struct {
	// Data holds little-endian int16 samples, channels interleaved.
	Data []byte

	Format
}

// Frames returns the number of sample frames (one sample per channel).
func (p PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Data) / (2 * p.Channels)
}

// Duration returns the playback length of the clip. A clip with no valid
// format has zero duration.
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.Frames()) * time.Second / time.Duration(p.SampleRate)
}

// Empty reports whether the clip carries no complete sample frame.
func (p PCM) Empty() bool { return p.Frames() == 0 }
