package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
	formatPCM     = 1
	// formatExtensible is WAVE_FORMAT_EXTENSIBLE; browsers emit it for
	// plain PCM recordings too.
	formatExtensible = 0xFFFE
)

// ErrInvalidWAV is returned when a buffer is not a 16-bit PCM RIFF/WAVE file.
var ErrInvalidWAV = errors.New("audio: invalid WAV")

// EncodeWAV wraps p in a canonical 44-byte-header RIFF/WAVE container.
func EncodeWAV(p PCM) []byte {
	byteRate := p.SampleRate * p.Channels * bitsPerSample / 8
	blockAlign := p.Channels * bitsPerSample / 8
	dataSize := len(p.Data)

	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size - 8
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(p.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(p.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], p.Data)

	return buf
}

// DecodeWAV walks the RIFF chunks of wav and returns its PCM payload. The fmt
// chunk size may vary and unknown chunks (LIST, fact, ...) are skipped. A data
// chunk whose declared size overruns the buffer, as written by streaming
// recorders, is clamped to what is present.
func DecodeWAV(wav []byte) (PCM, error) {
	if len(wav) < 12 {
		return PCM{}, fmt.Errorf("%w: %d bytes is too short", ErrInvalidWAV, len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return PCM{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		f        Format
		foundFmt bool
	)
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || body+16 > len(wav) {
				return PCM{}, fmt.Errorf("%w: truncated fmt chunk", ErrInvalidWAV)
			}
			fmtData := wav[body:]
			tag := binary.LittleEndian.Uint16(fmtData[0:2])
			if tag != formatPCM && tag != formatExtensible {
				return PCM{}, fmt.Errorf("%w: unsupported audio format %d", ErrInvalidWAV, tag)
			}
			f.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			if bits := binary.LittleEndian.Uint16(fmtData[14:16]); bits != bitsPerSample {
				return PCM{}, fmt.Errorf("%w: %d bits per sample, want 16", ErrInvalidWAV, bits)
			}
			if f.Channels <= 0 || f.SampleRate <= 0 {
				return PCM{}, fmt.Errorf("%w: bad format %s", ErrInvalidWAV, f)
			}
			foundFmt = true
		case "data":
			if !foundFmt {
				return PCM{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			data := wav[body:min(body+chunkSize, len(wav))]
			// Drop a trailing partial frame.
			block := 2 * f.Channels
			data = data[:len(data)-len(data)%block]
			return PCM{Data: data, Format: f}, nil
		}

		// Chunks are word-aligned: pad by one if the size is odd.
		offset = body + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return PCM{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}

// WAVDuration decodes the header of wav and returns its playback length.
func WAVDuration(wav []byte) (time.Duration, error) {
	p, err := DecodeWAV(wav)
	if err != nil {
		return 0, err
	}
	return p.Duration(), nil
}
