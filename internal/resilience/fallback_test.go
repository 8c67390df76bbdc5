package resilience

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/llm"
	llmmock "github.com/kamihatanoadoresu/english-conversation/pkg/provider/llm/mock"
	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/stt"
	sttmock "github.com/kamihatanoadoresu/english-conversation/pkg/provider/stt/mock"
	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/tts"
	ttsmock "github.com/kamihatanoadoresu/english-conversation/pkg/provider/tts/mock"
	"github.com/kamihatanoadoresu/english-conversation/pkg/types"
)

func TestLLMFallback_Complete(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("429 rate limited")}
	secondary := &llmmock.Provider{Responses: []string{"Hello from the fallback"}}
	fb := NewLLMFallback("openai", primary, BreakerConfig{})
	fb.AddFallback("ollama", secondary)

	req := llm.CompletionRequest{SystemPrompt: "tutor", Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}}}
	resp, err := fb.Complete(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Hello from the fallback" {
		t.Errorf("content = %q", resp.Content)
	}
	if len(primary.Calls()) != 1 || len(secondary.Calls()) != 1 {
		t.Errorf("calls = %d/%d, want 1/1", len(primary.Calls()), len(secondary.Calls()))
	}
	if got := secondary.Calls()[0].Req.SystemPrompt; got != "tutor" {
		t.Errorf("fallback saw system prompt %q", got)
	}
}

func TestLLMFallback_StaticMetadataFromPrimary(t *testing.T) {
	primary := &llmmock.Provider{
		TokenCount:        42,
		ModelCapabilities: types.ModelCapabilities{ContextWindow: 128000},
	}
	fb := NewLLMFallback("primary", primary, BreakerConfig{})
	fb.AddFallback("secondary", &llmmock.Provider{TokenCount: 7})

	n, err := fb.CountTokens([]types.Message{{Role: types.RoleUser, Content: "x"}})
	if err != nil || n != 42 {
		t.Errorf("CountTokens = %d, %v", n, err)
	}
	if fb.Capabilities().ContextWindow != 128000 {
		t.Errorf("Capabilities = %+v", fb.Capabilities())
	}
}

func TestSTTFallback_ReplaysAudio(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("503")}
	secondary := &sttmock.Provider{Text: "good morning"}
	fb := NewSTTFallback("openai", primary, BreakerConfig{})
	fb.AddFallback("whisper", secondary)

	wav := []byte("RIFF....WAVEfmt ")
	res, err := fb.Transcribe(context.Background(), stt.Request{Audio: bytes.NewReader(wav), Language: "en"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "good morning" {
		t.Errorf("text = %q", res.Text)
	}
	for name, p := range map[string]*sttmock.Provider{"primary": primary, "fallback": secondary} {
		if len(p.Calls) != 1 || !bytes.Equal(p.Calls[0].Audio, wav) || p.Calls[0].Language != "en" {
			t.Errorf("%s call = %+v", name, p.Calls)
		}
	}
}

func TestTTSFallback_Synthesize(t *testing.T) {
	tests := []struct {
		name      string
		primary   *ttsmock.Provider
		wantVoice []string // voice seen by primary, fallback
	}{
		{
			name:      "primary error",
			primary:   &ttsmock.Provider{Err: errors.New("quota exceeded")},
			wantVoice: []string{"alloy", ""},
		},
		{
			name:      "primary returns no audio",
			primary:   &ttsmock.Provider{Speech: &tts.Speech{Format: tts.FormatMP3}},
			wantVoice: []string{"alloy", ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secondary := &ttsmock.Provider{Speech: &tts.Speech{Data: []byte{1, 2, 3}, Format: tts.FormatWAV}}
			fb := NewTTSFallback("openai", tt.primary, BreakerConfig{})
			fb.AddFallback("coqui", secondary)

			sp, err := fb.Synthesize(context.Background(), tts.Request{Text: "Hello", Voice: "alloy"})
			if err != nil {
				t.Fatal(err)
			}
			if sp.Format != tts.FormatWAV || len(sp.Data) != 3 {
				t.Errorf("speech = %+v", sp)
			}
			if got := tt.primary.Calls[0].Req.Voice; got != tt.wantVoice[0] {
				t.Errorf("primary voice = %q", got)
			}
			if got := secondary.Calls[0].Req.Voice; got != tt.wantVoice[1] {
				t.Errorf("fallback voice = %q", got)
			}
		})
	}
}

func TestTTSFallback_AllFailed(t *testing.T) {
	fb := NewTTSFallback("only", &ttsmock.Provider{Err: errBackend}, BreakerConfig{})
	_, err := fb.Synthesize(context.Background(), tts.Request{Text: "Hi"})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errBackend) {
		t.Errorf("err = %v", err)
	}
	if fb.Group().Len() != 1 {
		t.Errorf("group len = %d", fb.Group().Len())
	}
}
