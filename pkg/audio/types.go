// Package audio implements the codec engine of the bridge: G.711 μ-law
// companding, linear PCM resampling, channel conversion, signal level
// measurement and the minimal WAV container used to talk to voice backends.
//
// All PCM handled by this package is 16-bit signed little-endian. Every
// function is pure; the only state is the pair of lookup tables owned by a
// [Codec], which is built once by [InitTables] and never mutated afterwards.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// Encoding identifies the sample representation of an [AudioFrame].
type Encoding string

const (
	// EncodingMulaw is 8-bit G.711 μ-law, one byte per sample.
	EncodingMulaw Encoding = "mulaw"

	// EncodingPCM16 is 16-bit signed little-endian linear PCM.
	EncodingPCM16 Encoding = "pcm16"
)

// IsValid reports whether e is a supported encoding.
func (e Encoding) IsValid() bool {
	return e == EncodingMulaw || e == EncodingPCM16
}

// BytesPerSample returns the width of one sample of a single channel.
func (e Encoding) BytesPerSample() int {
	if e == EncodingPCM16 {
		return 2
	}
	return 1
}

// Format describes the encoding, sample rate and channel count of a stream.
type Format struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "pcm16/16000Hz mono".
func (f Format) String() string {
	return fmt.Sprintf("%s/%s", f.Encoding, formatString(f.SampleRate, f.Channels))
}

// Validate checks that f describes a stream this package can process.
func (f Format) Validate() error {
	var errs []error
	if !f.Encoding.IsValid() {
		errs = append(errs, fmt.Errorf("audio: unsupported encoding %q", f.Encoding))
	}
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate))
	}
	if f.Channels != 1 && f.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio: channels must be 1 or 2, got %d", f.Channels))
	}
	return errors.Join(errs...)
}

// BytesPerSecond returns the byte rate of a stream in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.Encoding.BytesPerSample()
}

// Duration returns how much audio n bytes of this format represent.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// AudioFrame is one unit of audio travelling through the pipeline. Frames are
// treated as immutable: a stage that needs different bytes builds a new frame
// instead of writing into Data.
type AudioFrame struct {
	// Data holds the encoded samples.
	Data []byte

	// Encoding is the sample representation of Data.
	Encoding Encoding

	// SampleRate in Hz (8000 for telephony, 16000 for most voice backends).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp is the media time of the first sample relative to stream start.
	Timestamp time.Duration
}

// Format returns the stream format the frame is tagged with.
func (f AudioFrame) Format() Format {
	return Format{Encoding: f.Encoding, SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	return f.Format().Duration(len(f.Data))
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
