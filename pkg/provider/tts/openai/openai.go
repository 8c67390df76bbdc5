// Package openai provides a TTS provider backed by the OpenAI speech
// endpoint (tts-1, voice "alloy", MP3 output by default).
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/tts"
)

// Defaults used when the configuration leaves model or voice empty.
const (
	DefaultModel = string(oai.SpeechModelTTS1)
	DefaultVoice = string(oai.AudioSpeechNewParamsVoiceAlloy)
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	voice  string
}

type config struct {
	baseURL string
	timeout time.Duration
	retries int
	voice   string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries overrides the SDK's automatic retry count.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.retries = n }
}

// WithDefaultVoice sets the voice used when a request carries none.
func WithDefaultVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// New constructs an OpenAI speech provider. An empty model selects
// DefaultModel.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{retries: -1, voice: DefaultVoice}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.retries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.retries))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model, voice: cfg.voice}, nil
}

// Synthesize implements tts.Provider. The returned clip is MP3.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Speech, error) {
	if req.Text == "" {
		return nil, errors.New("openai tts: text must not be empty")
	}
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read body: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("openai tts: empty audio response")
	}
	return &tts.Speech{Data: data, Format: tts.FormatMP3}, nil
}
