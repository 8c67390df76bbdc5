package resilience

import (
	"context"
	"errors"

	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/tts"
)

// TTSFallback is a [tts.Provider] that fails over across synthesis backends.
type TTSFallback struct {
	group *Group[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback returns a TTSFallback preferring primary.
func NewTTSFallback(primaryName string, primary tts.Provider, cfg BreakerConfig) *TTSFallback {
	return &TTSFallback{group: NewGroup(primaryName, primary, cfg)}
}

// AddFallback registers another backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) { f.group.Add(name, p) }

// Group exposes the underlying group for health reporting.
func (f *TTSFallback) Group() *Group[tts.Provider] { return f.group }

// Synthesize speaks req with the first backend that returns audio. An empty
// clip counts as a failure so the next backend gets a chance. Voice names
// are backend specific, so a fallback receives the request with Voice
// cleared and uses its own default.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (*tts.Speech, error) {
	return do(ctx, f.group, func(ctx context.Context, i int, p tts.Provider) (*tts.Speech, error) {
		attempt := req
		if i > 0 {
			attempt.Voice = ""
		}
		sp, err := p.Synthesize(ctx, attempt)
		if err == nil && (sp == nil || len(sp.Data) == 0) {
			return nil, errEmptySpeech
		}
		return sp, err
	})
}

var errEmptySpeech = errors.New("resilience: backend returned no audio")
