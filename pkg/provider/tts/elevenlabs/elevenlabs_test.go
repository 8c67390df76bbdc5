package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/tts"
)

// fakeServer emulates the stream-input endpoint: it records the client
// frames and answers with the given PCM chunks followed by a final marker.
type fakeServer struct {
	mu      sync.Mutex
	path    string
	query   string
	frames  []textMessage
	chunks  [][]byte
	noAudio bool
}

func (f *fakeServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer c.CloseNow()
		ctx := r.Context()

		f.mu.Lock()
		f.path = r.URL.Path
		f.query = r.URL.RawQuery
		f.mu.Unlock()

		for i := 0; i < 3; i++ {
			_, data, err := c.Read(ctx)
			if err != nil {
				t.Errorf("read frame %d: %v", i, err)
				return
			}
			var m textMessage
			_ = json.Unmarshal(data, &m)
			f.mu.Lock()
			f.frames = append(f.frames, m)
			f.mu.Unlock()
		}

		if !f.noAudio {
			for _, chunk := range f.chunks {
				msg, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString(chunk)})
				if err := c.Write(ctx, websocket.MessageText, msg); err != nil {
					return
				}
			}
		}
		final, _ := json.Marshal(audioResponse{IsFinal: true})
		_ = c.Write(ctx, websocket.MessageText, final)

		// Wait for the client to close.
		_, _, _ = c.Read(ctx)
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws://" + strings.TrimPrefix(srv.URL, "http://")
}

func TestSynthesize_CollectsPCM(t *testing.T) {
	fs := &fakeServer{chunks: [][]byte{{1, 2, 3, 4}, {5, 6}}}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	p, err := New("xi-key", WithEndpoint(wsURL(srv)), WithDefaultVoice("voice-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	speech, err := p.Synthesize(ctx, tts.Request{Text: "Good morning!"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if got := speech.Data; string(got) != string([]byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("Data = %v", got)
	}
	if speech.Format != tts.FormatPCM16 || speech.SampleRate != 24000 || speech.Channels != 1 {
		t.Errorf("unexpected format %+v", speech)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.path != "/v1/text-to-speech/voice-1/stream-input" {
		t.Errorf("path = %q", fs.path)
	}
	if !strings.Contains(fs.query, "output_format=pcm_24000") {
		t.Errorf("query = %q lacks output format", fs.query)
	}
	if len(fs.frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(fs.frames))
	}
	if fs.frames[0].XiAPIKey != "xi-key" || fs.frames[0].VoiceSettings == nil {
		t.Errorf("first frame must authenticate: %+v", fs.frames[0])
	}
	if fs.frames[1].Text != "Good morning! " {
		t.Errorf("text frame = %q", fs.frames[1].Text)
	}
	if fs.frames[2].Text != "" {
		t.Errorf("last frame must close input, got %q", fs.frames[2].Text)
	}
}

func TestSynthesize_NoAudio(t *testing.T) {
	fs := &fakeServer{noAudio: true}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	p, _ := New("xi-key", WithEndpoint(wsURL(srv)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := p.Synthesize(ctx, tts.Request{Text: "hi", Voice: "v"}); err == nil {
		t.Fatal("expected error when the stream carries no audio")
	}
}

func TestSynthesize_Validation(t *testing.T) {
	p, _ := New("xi-key")
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "  "}); err == nil {
		t.Error("expected error for blank text")
	}
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"}); err == nil {
		t.Error("expected error for missing voice")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("k", WithOutputFormat("mp3_44100_128")); err == nil {
		t.Error("expected error for non-PCM output format")
	}
}

func TestSampleRate(t *testing.T) {
	tests := []struct {
		format  string
		want    int
		wantErr bool
	}{
		{"pcm_16000", 16000, false},
		{"pcm_44100", 44100, false},
		{"pcm_x", 0, true},
		{"ulaw_8000", 0, true},
	}
	for _, tt := range tests {
		got, err := sampleRate(tt.format)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.format, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("%s: rate = %d, want %d", tt.format, got, tt.want)
		}
	}
}
