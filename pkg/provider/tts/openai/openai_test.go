package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/tts"
)

func TestSynthesize_RequestShape(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-fake-mp3"))
	}))
	defer srv.Close()

	p, err := New("sk-test", "", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	speech, err := p.Synthesize(context.Background(), tts.Request{Text: "How are you today?"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if speech.Format != tts.FormatMP3 {
		t.Errorf("Format = %q, want mp3", speech.Format)
	}
	if string(speech.Data) != "ID3-fake-mp3" {
		t.Errorf("Data = %q", speech.Data)
	}

	want := map[string]string{
		"model":           "tts-1",
		"voice":           "alloy",
		"input":           "How are you today?",
		"response_format": "mp3",
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("%s = %v, want %q", k, body[k], v)
		}
	}
}

func TestSynthesize_VoiceOverride(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		_, _ = w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	p, _ := New("sk-test", "tts-1-hd", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0), WithDefaultVoice("nova"))
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi", Voice: "echo"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if body["voice"] != "echo" {
		t.Errorf("voice = %v, want echo", body["voice"])
	}
	if body["model"] != "tts-1-hd" {
		t.Errorf("model = %v, want tts-1-hd", body["model"])
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, _ := New("sk-test", "")
	if _, err := p.Synthesize(context.Background(), tts.Request{}); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}
