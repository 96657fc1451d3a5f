package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// wavHeaderSize is the size of the canonical 44-byte RIFF/WAVE header.
const wavHeaderSize = 44

// wavHeader is the canonical PCM WAV header. Field order matches the on-disk
// layout so it can be written with a single binary.Write call.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 = PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// ErrNotWAV is returned by [ParseWAV] when the input is not a PCM WAV file.
var ErrNotWAV = errors.New("audio: not a PCM WAV container")

// EncodeWAV wraps 16-bit PCM in a minimal WAV container. Only the
// SampleRate and Channels fields of f are used; the payload is always
// 16 bits per sample.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if err := checkPCM16("wav", pcm); err != nil {
		return nil, err
	}
	if f.SampleRate <= 0 {
		return nil, &CodecError{Op: "wav", Len: len(pcm), Err: ErrInvalidRate}
	}
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}

	const bitsPerSample = 16
	h := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.SampleRate * channels * bitsPerSample / 8),
		BlockAlign:    uint16(channels * bitsPerSample / 8),
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("audio: write wav header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// ParseWAV validates a canonical 44-byte-header PCM WAV file and returns its
// format and sample payload. Some backends answer with a WAV container
// instead of raw PCM; the gateway uses this to unwrap them.
func ParseWAV(data []byte) (Format, []byte, error) {
	if len(data) < wavHeaderSize {
		return Format{}, nil, ErrNotWAV
	}
	var h wavHeader
	if err := binary.Read(bytes.NewReader(data[:wavHeaderSize]), binary.LittleEndian, &h); err != nil {
		return Format{}, nil, fmt.Errorf("audio: read wav header: %w", err)
	}
	if string(h.ChunkID[:]) != "RIFF" || string(h.Format[:]) != "WAVE" ||
		string(h.Subchunk1ID[:]) != "fmt " || string(h.Subchunk2ID[:]) != "data" {
		return Format{}, nil, ErrNotWAV
	}
	if h.AudioFormat != 1 || h.BitsPerSample != 16 {
		return Format{}, nil, fmt.Errorf("%w: format=%d bits=%d", ErrNotWAV, h.AudioFormat, h.BitsPerSample)
	}

	payload := data[wavHeaderSize:]
	if int(h.Subchunk2Size) < len(payload) {
		payload = payload[:h.Subchunk2Size]
	}
	f := Format{
		Encoding:   EncodingPCM16,
		SampleRate: int(h.SampleRate),
		Channels:   int(h.NumChannels),
	}
	return f, payload, nil
}

// IsWAV reports whether data starts with a RIFF/WAVE signature.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}
