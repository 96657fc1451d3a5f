package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{1, 2, 3, 4})
	wav, err := audio.EncodeWAV(pcm, audio.Format{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad signature: %q", wav[:44])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Error("payload does not match input")
	}
	if !audio.IsWAV(wav) {
		t.Error("IsWAV = false for encoded output")
	}
}

func TestParseWAV_RoundTrip(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes(sine(320, 6000, 40))
	wav, err := audio.EncodeWAV(pcm, audio.Format{SampleRate: 24000, Channels: 1})
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	f, payload, err := audio.ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if f.SampleRate != 24000 || f.Channels != 1 || f.Encoding != audio.EncodingPCM16 {
		t.Errorf("format = %v", f)
	}
	if !bytes.Equal(payload, pcm) {
		t.Error("payload mismatch")
	}
}

func TestParseWAV_Rejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
	}{
		{name: "short", data: []byte("RIFF")},
		{name: "raw pcm", data: make([]byte, 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, _, err := audio.ParseWAV(tt.data); !errors.Is(err, audio.ErrNotWAV) {
				t.Errorf("err = %v, want ErrNotWAV", err)
			}
			if audio.IsWAV(tt.data) {
				t.Error("IsWAV = true")
			}
		})
	}
}

func TestEncodeWAV_RejectsBadInput(t *testing.T) {
	t.Parallel()
	if _, err := audio.EncodeWAV([]byte{1}, audio.Format{SampleRate: 8000, Channels: 1}); !errors.Is(err, audio.ErrOddLength) {
		t.Errorf("odd: err = %v", err)
	}
	if _, err := audio.EncodeWAV([]byte{1, 2}, audio.Format{SampleRate: 0}); !errors.Is(err, audio.ErrInvalidRate) {
		t.Errorf("rate: err = %v", err)
	}
}
