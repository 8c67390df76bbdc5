package resilience

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that fails over across transcription
// backends.
type STTFallback struct {
	group *Group[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns an STTFallback preferring primary.
func NewSTTFallback(primaryName string, primary stt.Provider, cfg BreakerConfig) *STTFallback {
	return &STTFallback{group: NewGroup(primaryName, primary, cfg)}
}

// AddFallback registers another backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.group.Add(name, p) }

// Group exposes the underlying group for health reporting.
func (f *STTFallback) Group() *Group[stt.Provider] { return f.group }

// Transcribe uploads the recording to the first backend that answers. The
// audio is buffered once so every attempt reads it from the start.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	var audio []byte
	if req.Audio != nil {
		var err error
		if audio, err = io.ReadAll(req.Audio); err != nil {
			return nil, fmt.Errorf("resilience: read audio: %w", err)
		}
	}
	return Do(ctx, f.group, func(ctx context.Context, p stt.Provider) (*stt.Result, error) {
		attempt := req
		attempt.Audio = bytes.NewReader(audio)
		return p.Transcribe(ctx, attempt)
	})
}
