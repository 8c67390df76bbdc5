// Package mock provides a test double for the stt.Provider interface.
//
//	p := &mock.Provider{Text: "hello world"}
//	res, _ := p.Transcribe(ctx, stt.Request{Audio: bytes.NewReader(wav)})
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/stt"
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Audio is a copy of the bytes read from the request.
	Audio []byte
	// Filename is the request filename.
	Filename string
	// Language is the request language hint.
	Language string
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned as the transcript.
	Text string

	// Err, if non-nil, is returned from Transcribe.
	Err error

	// OnTranscribe, if set, runs inside Transcribe after the audio has been
	// read. Tests use it to observe side effects such as scratch files.
	OnTranscribe func()

	// Calls records every invocation of Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe drains the audio reader, records the call and returns Text/Err.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	var data []byte
	if req.Audio != nil {
		var err error
		if data, err = io.ReadAll(req.Audio); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{
		Ctx:      ctx,
		Audio:    data,
		Filename: req.Filename,
		Language: req.Language,
	})
	hook, text, err := p.OnTranscribe, p.Text, p.Err
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return &stt.Result{Text: text}, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
