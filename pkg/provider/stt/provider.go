// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (the OpenAI Whisper API
// or a self-hosted whisper.cpp server) and turns one finished recording into
// text. Confidence signals shown to the learner (too short, nothing
// recognised) are computed locally by the caller, not by the provider.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"io"
)

// Request describes one finished recording to transcribe.
type Request struct {
	// Audio is the encoded recording, normally a RIFF/WAV file.
	Audio io.Reader

	// Filename is passed to backends that infer the container format from
	// the upload name. Defaults to "audio.wav" when empty.
	Filename string

	// Language is the ISO-639-1 language hint (e.g. "en"). Empty lets the
	// backend auto-detect.
	Language string
}

// Result is the recognised text of a Request.
type Result struct {
	// Text is the full transcript, as returned by the backend.
	Text string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe uploads the recording and waits for the transcript. It must
	// honour ctx cancellation and deadlines.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// FilenameOrDefault returns req.Filename or "audio.wav".
func (r Request) FilenameOrDefault() string {
	if r.Filename == "" {
		return "audio.wav"
	}
	return r.Filename
}
