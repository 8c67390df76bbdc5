// Package voice turns learner recordings into text and tutor text into
// playable WAV clips.
//
// Every intermediate artifact (the uploaded recording, the MP3 returned by
// the speech service, the re-timed clip) lives in a uniquely named scratch
// file that is removed before the call returns, whether it succeeds or not.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kamihatanoadoresu/english-conversation/pkg/audio"
	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/stt"
	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/tts"
)

// ErrCaptureEmpty is returned when a recording holds no audio. The turn is
// abandoned without a warning.
var ErrCaptureEmpty = errors.New("voice: empty capture")

// Warnings shown to the learner when a recording is probably unusable.
const (
	WarnShortAudio   = "⚠️ 音声が非常に短いです。もう一度、発話してみてください。"
	WarnUnrecognized = "⚠️ 音声を認識できませんでした。もう一度、はっきりと発話してみてください。"
)

const (
	// minDuration is the shortest recording transcribed without a warning.
	minDuration = 500 * time.Millisecond

	// minChars is the shortest transcript accepted without a warning.
	minChars = 3

	defaultVoice    = "alloy"
	defaultLanguage = "en"
)

// Transcription is the result of [Pipeline.Transcribe].
type Transcription struct {
	Text string

	// Warning is WarnShortAudio, WarnUnrecognized or empty. The turn
	// proceeds either way.
	Warning string

	// Duration is the length of the recording.
	Duration time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithVoice sets the synthesis voice. Default: "alloy".
func WithVoice(voice string) Option {
	return func(p *Pipeline) { p.voice = voice }
}

// WithLanguage sets the transcription language hint. Default: "en".
func WithLanguage(lang string) Option {
	return func(p *Pipeline) { p.language = lang }
}

// Pipeline wraps a speech-to-text and a text-to-speech provider. It holds no
// per-session state and is safe for concurrent use.
type Pipeline struct {
	stt      stt.Provider
	tts      tts.Provider
	scratch  *audio.Scratch
	voice    string
	language string
}

// New returns a Pipeline writing its temporary files into scratch.
func New(s stt.Provider, t tts.Provider, scratch *audio.Scratch, opts ...Option) (*Pipeline, error) {
	if s == nil || t == nil {
		return nil, errors.New("voice: stt and tts providers are required")
	}
	if scratch == nil {
		return nil, errors.New("voice: scratch directory is required")
	}
	p := &Pipeline{
		stt:      s,
		tts:      t,
		scratch:  scratch,
		voice:    defaultVoice,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Capture validates a finished recording. An empty body or a WAV without
// samples yields [ErrCaptureEmpty]; anything that is not a WAV is an error.
func (p *Pipeline) Capture(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrCaptureEmpty
	}
	pcm, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("voice: capture: %w", err)
	}
	if pcm.Empty() {
		return nil, ErrCaptureEmpty
	}
	return data, nil
}

// Transcribe stores wav in a scratch file, measures it and sends it to the
// speech-to-text provider. Short or unrecognisable input produces a
// Warning, not an error.
func (p *Pipeline) Transcribe(ctx context.Context, wav []byte) (Transcription, error) {
	dur, err := audio.WAVDuration(wav)
	if err != nil {
		return Transcription{}, fmt.Errorf("voice: transcribe: %w", err)
	}

	path, err := p.scratch.WriteFile(".wav", wav)
	if err != nil {
		return Transcription{}, fmt.Errorf("voice: transcribe: %w", err)
	}
	defer p.scratch.Remove(path)

	f, err := os.Open(path)
	if err != nil {
		return Transcription{}, fmt.Errorf("voice: transcribe: %w", err)
	}
	defer f.Close()

	res, err := p.stt.Transcribe(ctx, stt.Request{
		Audio:    f,
		Filename: "audio.wav",
		Language: p.language,
	})
	if err != nil {
		return Transcription{}, fmt.Errorf("voice: transcribe: %w", err)
	}

	tr := Transcription{Duration: dur}
	if res != nil {
		tr.Text = strings.TrimSpace(res.Text)
	}
	if dur < minDuration {
		tr.Warning = WarnShortAudio
	}
	if utf8.RuneCountInString(tr.Text) < minChars {
		tr.Warning = WarnUnrecognized
	}
	slog.Debug("voice: transcribed", "duration", dur, "chars", len(tr.Text), "warning", tr.Warning != "")
	return tr, nil
}

// Synthesize speaks text and returns a mono WAV clip played back at speed.
// A speed other than 1 time-stretches the clip without changing its pitch.
func (p *Pipeline) Synthesize(ctx context.Context, text string, speed float64) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("voice: synthesize: empty text")
	}

	speech, err := p.tts.Synthesize(ctx, tts.Request{Text: text, Voice: p.voice})
	if err != nil {
		return nil, fmt.Errorf("voice: synthesize: %w", err)
	}
	if speech == nil || len(speech.Data) == 0 {
		return nil, errors.New("voice: synthesize: provider returned no audio")
	}

	pcm, err := p.decode(speech)
	if err != nil {
		return nil, fmt.Errorf("voice: synthesize: %w", err)
	}
	if pcm.Channels != 1 {
		if pcm, err = audio.Convert(pcm, audio.Format{SampleRate: pcm.SampleRate, Channels: 1}); err != nil {
			return nil, fmt.Errorf("voice: synthesize: %w", err)
		}
	}

	if speed <= 0 || speed == 1 {
		return audio.EncodeWAV(pcm), nil
	}
	return p.retime(pcm, speed)
}

// decode turns a provider clip into PCM. MP3 goes through a scratch file.
func (p *Pipeline) decode(s *tts.Speech) (audio.PCM, error) {
	switch s.Format {
	case tts.FormatMP3:
		path, err := p.scratch.WriteFile(".mp3", s.Data)
		if err != nil {
			return audio.PCM{}, err
		}
		defer p.scratch.Remove(path)

		f, err := os.Open(path)
		if err != nil {
			return audio.PCM{}, err
		}
		defer f.Close()
		return audio.DecodeMP3(f)

	case tts.FormatWAV:
		return audio.DecodeWAV(s.Data)

	case tts.FormatPCM16:
		if s.SampleRate <= 0 || s.Channels <= 0 {
			return audio.PCM{}, fmt.Errorf("pcm16 clip without format (%d Hz, %d ch)", s.SampleRate, s.Channels)
		}
		return audio.PCM{
			Data:   s.Data[:len(s.Data)-len(s.Data)%(2*s.Channels)],
			Format: audio.Format{SampleRate: s.SampleRate, Channels: s.Channels},
		}, nil
	}
	return audio.PCM{}, fmt.Errorf("unsupported speech format %q", s.Format)
}

// retime changes the playback speed of pcm and re-encodes it through a
// dedicated scratch file.
func (p *Pipeline) retime(pcm audio.PCM, speed float64) ([]byte, error) {
	stretched := audio.ChangeSpeed(pcm, speed)

	path, err := p.scratch.WriteFile(".wav", audio.EncodeWAV(stretched))
	if err != nil {
		return nil, fmt.Errorf("voice: change speed: %w", err)
	}
	defer p.scratch.Remove(path)

	out, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("voice: change speed: %w", err)
	}
	if _, err := audio.DecodeWAV(out); err != nil {
		return nil, fmt.Errorf("voice: change speed: %w", err)
	}
	return out, nil
}
