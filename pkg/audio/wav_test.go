package audio_test

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/kamihatanoadoresu/english-conversation/pkg/audio"
)

func TestEncodeDecodeWAV(t *testing.T) {
	in := audio.PCM{
		Data:   samplesToBytes([]int16{0, 1000, -1000, 32767, -32768, 5}),
		Format: audio.Format{SampleRate: 16000, Channels: 2},
	}
	wav := audio.EncodeWAV(in)
	if len(wav) != 44+len(in.Data) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(in.Data))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE header")
	}

	out, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if out.Format != in.Format {
		t.Errorf("format = %+v, want %+v", out.Format, in.Format)
	}
	if string(out.Data) != string(in.Data) {
		t.Error("PCM payload changed")
	}
	if out.Frames() != 3 {
		t.Errorf("Frames = %d, want 3", out.Frames())
	}
}

func TestDecodeWAV_SkipsUnknownChunks(t *testing.T) {
	pcm := samplesToBytes([]int16{7, 8, 9})
	wav := audio.EncodeWAV(audio.PCM{Data: pcm, Format: audio.Format{SampleRate: 8000, Channels: 1}})

	// Insert an odd-sized LIST chunk between fmt and data.
	list := []byte("LIST\x03\x00\x00\x00abc\x00")
	withList := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	out, err := audio.DecodeWAV(withList)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if string(out.Data) != string(pcm) {
		t.Errorf("data = %v, want %v", out.Data, pcm)
	}
}

func TestDecodeWAV_ClampsOversizedData(t *testing.T) {
	wav := audio.EncodeWAV(audio.PCM{Data: samplesToBytes([]int16{1, 2, 3, 4}), Format: audio.Format{SampleRate: 8000, Channels: 1}})
	binary.LittleEndian.PutUint32(wav[40:44], 0xFFFFFFFF)

	out, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(out.Data) != 8 {
		t.Errorf("len = %d, want 8", len(out.Data))
	}
}

func TestDecodeWAV_Errors(t *testing.T) {
	valid := audio.EncodeWAV(audio.PCM{Data: samplesToBytes([]int16{1}), Format: audio.Format{SampleRate: 8000, Channels: 1}})

	eightBit := append([]byte{}, valid...)
	binary.LittleEndian.PutUint16(eightBit[34:36], 8)

	float := append([]byte{}, valid...)
	binary.LittleEndian.PutUint16(float[20:22], 3)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte("RIFF")},
		{"not riff", append([]byte("RIFX"), valid[4:]...)},
		{"8 bit", eightBit},
		{"float", float},
		{"no data chunk", valid[:36]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := audio.DecodeWAV(tt.data); !errors.Is(err, audio.ErrInvalidWAV) {
				t.Errorf("err = %v, want ErrInvalidWAV", err)
			}
		})
	}
}

func TestWAVDuration(t *testing.T) {
	tests := []struct {
		name    string
		frames  int
		rate    int
		channel int
		want    time.Duration
	}{
		{"0.3s mono", 4800, 16000, 1, 300 * time.Millisecond},
		{"2s stereo", 48000, 24000, 2, 2 * time.Second},
		{"empty", 0, 16000, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := audio.PCM{Data: make([]byte, tt.frames*tt.channel*2), Format: audio.Format{SampleRate: tt.rate, Channels: tt.channel}}
			got, err := audio.WAVDuration(audio.EncodeWAV(p))
			if err != nil {
				t.Fatalf("WAVDuration: %v", err)
			}
			if got != tt.want {
				t.Errorf("duration = %v, want %v", got, tt.want)
			}
		})
	}
}
