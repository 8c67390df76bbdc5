// Package coqui speaks tutor replies through a self-hosted Coqui TTS server.
// It is the offline fallback for the OpenAI voice.
//
// Two server flavours are supported. [APIModeStandard] (the default) is the
// stock tts-server image, driven with GET /api/tts?text=... . [APIModeXTTS]
// is the XTTS v2 API server, driven with a JSON POST to /tts_to_audio/ and a
// mandatory reference speaker. Both answer with a WAV file.
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
package coqui

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kamihatanoadoresu/english-conversation/pkg/audio"
	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// APIMode names the Coqui server flavour.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

const maxErrorBody = 512

// Option configures a Provider.
type Option func(*Provider)

// WithLanguage sets the language sent with each request. Default: "en".
func WithLanguage(lang string) Option { return func(p *Provider) { p.language = lang } }

// WithTimeout bounds each HTTP call. Default: 30s.
func WithTimeout(d time.Duration) Option { return func(p *Provider) { p.httpClient.Timeout = d } }

// WithAPIMode selects the server flavour.
func WithAPIMode(mode APIMode) Option { return func(p *Provider) { p.apiMode = mode } }

// WithDefaultVoice sets the speaker used when a request names none. In XTTS
// mode this is the server-side path of a reference WAV.
func WithDefaultVoice(voice string) Option { return func(p *Provider) { p.voice = voice } }

// Provider is safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	voice      string
	apiMode    APIMode
	httpClient *http.Client
}

// New returns a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   "en",
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	if p.apiMode != APIModeStandard && p.apiMode != APIModeXTTS {
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.apiMode)
	}
	return p, nil
}

// Synthesize renders req.Text and returns the server's WAV unchanged after
// checking that it decodes.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Speech, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("coqui: text must not be empty")
	}
	voice := cmp.Or(req.Voice, p.voice)

	httpReq, err := p.newRequest(ctx, req.Text, voice)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "audio/wav")
	call := httpReq.Method + " " + httpReq.URL.Path

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s: %w", call, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("coqui: %s: status %d: %s", call, resp.StatusCode, bytes.TrimSpace(msg))
	}
	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s: read body: %w", call, err)
	}
	if _, err := audio.DecodeWAV(wav); err != nil {
		return nil, fmt.Errorf("coqui: %s: %w", call, err)
	}
	return &tts.Speech{Data: wav, Format: tts.FormatWAV}, nil
}

func (p *Provider) newRequest(ctx context.Context, text, voice string) (*http.Request, error) {
	if p.apiMode == APIModeStandard {
		q := url.Values{"text": {text}}
		if voice != "" {
			q.Set("speaker_id", voice)
		}
		if p.language != "" {
			q.Set("language_id", p.language)
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+"/api/tts?"+q.Encode(), nil)
	}

	if voice == "" {
		return nil, errors.New("coqui: xtts mode needs a speaker voice")
	}
	body, err := json.Marshal(struct {
		Text       string `json:"text"`
		SpeakerWav string `json:"speaker_wav"`
		Language   string `json:"language"`
	}{text, voice, p.language})
	if err != nil {
		return nil, fmt.Errorf("coqui: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/tts_to_audio/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
