// Package whisper provides an STT provider for a self-hosted whisper.cpp
// server (the whisper-server binary, POST /inference).
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	res, err := p.Transcribe(ctx, stt.Request{Audio: wavReader})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/stt"
)

const (
	inferencePath   = "/inference"
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	// maxResponse bounds the JSON read back from the server.
	maxResponse = 1 << 20
)

var _ stt.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server. Most
// whisper-server builds ignore it; it is kept for servers that multiplex
// several models.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default language hint used when a request carries
// none. Default: "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the HTTP client timeout. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider transcribes recordings with a whisper.cpp server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe posts the recording as multipart/form-data and returns the
// server's transcript with surrounding whitespace removed.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if req.Audio == nil {
		return nil, errors.New("whisper: request has no audio")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", req.FilenameOrDefault())
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := io.Copy(fw, req.Audio); err != nil {
		return nil, fmt.Errorf("whisper: write audio: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	fields := map[string]string{
		"response_format": "json",
		"language":        lang,
		"model":           p.model,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+inferencePath, &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisper: POST %s: %w", inferencePath, err)
	}
	defer resp.Body.Close()

	// whisper-server reports failures as {"error": "..."}, with a non-200
	// status for bad requests and sometimes with 200 for decode failures.
	var out struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponse)).Decode(&out)
	switch {
	case resp.StatusCode != http.StatusOK && out.Error != "":
		return nil, fmt.Errorf("whisper: POST %s: status %d: %s", inferencePath, resp.StatusCode, out.Error)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("whisper: POST %s: status %d", inferencePath, resp.StatusCode)
	case decodeErr != nil:
		return nil, fmt.Errorf("whisper: decode response: %w", decodeErr)
	case out.Error != "":
		return nil, fmt.Errorf("whisper: server error: %s", out.Error)
	}
	return &stt.Result{Text: strings.TrimSpace(out.Text)}, nil
}
