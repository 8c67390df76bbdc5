// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one complete reply (a tutor answer or a generated
// practice sentence) into an encoded audio clip. The clip's Format tells the
// caller whether it still needs decoding (MP3) or can be wrapped directly
// (raw PCM) before playback.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Format identifies the encoding of Speech.Data.
type Format string

const (
	// FormatMP3 is an MPEG-1/2 Layer III stream.
	FormatMP3 Format = "mp3"

	// FormatWAV is a RIFF/WAVE file with a PCM payload.
	FormatWAV Format = "wav"

	// FormatPCM16 is headerless 16-bit signed little-endian PCM. SampleRate
	// and Channels describe it.
	FormatPCM16 Format = "pcm16"
)

// Request describes one synthesis call.
type Request struct {
	// Text is the full text to speak.
	Text string

	// Voice selects the backend voice (e.g. "alloy" for OpenAI, a voice ID
	// for ElevenLabs, a speaker ID for Coqui). Empty selects the provider
	// default.
	Voice string
}

// Speech is a synthesised clip.
type Speech struct {
	// Data holds the encoded audio.
	Data []byte

	// Format is the encoding of Data.
	Format Format

	// SampleRate and Channels are set for FormatPCM16 only.
	SampleRate int
	Channels   int
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize speaks req.Text and returns the complete clip. It must honour
	// ctx cancellation and deadlines.
	Synthesize(ctx context.Context, req Request) (*Speech, error)
}
