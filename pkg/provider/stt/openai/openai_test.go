package openai

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/stt"
)

func TestNew_Defaults(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != DefaultModel {
		t.Errorf("model = %q, want %q", p.model, DefaultModel)
	}
}

func TestTranscribe_MultipartUpload(t *testing.T) {
	var (
		gotModel    string
		gotLanguage string
		gotFile     []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		if f, _, err := r.FormFile("file"); err == nil {
			gotFile, _ = io.ReadAll(f)
			f.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text": "I went to the park yesterday."}`)
	}))
	defer srv.Close()

	p, err := New("sk-test", "", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Transcribe(context.Background(), stt.Request{
		Audio:    bytes.NewReader([]byte("RIFF....WAVE")),
		Language: "en",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "I went to the park yesterday." {
		t.Errorf("Text = %q", res.Text)
	}
	if gotModel != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", gotModel)
	}
	if gotLanguage != "en" {
		t.Errorf("language = %q, want en", gotLanguage)
	}
	if string(gotFile) != "RIFF....WAVE" {
		t.Errorf("uploaded file = %q", gotFile)
	}
}

func TestTranscribe_NoAudio(t *testing.T) {
	p, _ := New("sk-test", "")
	if _, err := p.Transcribe(context.Background(), stt.Request{}); err == nil {
		t.Fatal("expected error for missing audio")
	}
}
