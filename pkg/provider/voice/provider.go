// Package voice defines the Provider interface for voice-transformation
// backends.
//
// A voice provider takes a block of speech and returns the same speech
// re-voiced according to a [Preset] (e.g. ElevenLabs speech-to-speech). The
// bridge calls it once per buffered block, so implementations should keep
// per-call overhead low and must be safe for concurrent use.
package voice

import (
	"context"
	"errors"
	"fmt"
)

// Settings tunes how a backend applies a voice. Every float is bounded to
// [0, 1].
type Settings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// DefaultSettings returns the settings applied when a preset leaves them unset.
func DefaultSettings() Settings {
	return Settings{Stability: 0.5, SimilarityBoost: 0.75, UseSpeakerBoost: true}
}

// Validate reports settings that fall outside their bounds.
func (s Settings) Validate() error {
	var errs []error
	check := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0, 1], got %g", name, v))
		}
	}
	check("stability", s.Stability)
	check("similarity_boost", s.SimilarityBoost)
	check("style", s.Style)
	return errors.Join(errs...)
}

// Preset is a named voice selection.
type Preset struct {
	// Name is the identifier callers select the preset by.
	Name string

	// VoiceID is the provider-specific target voice.
	VoiceID string

	// Model optionally overrides the provider's default model.
	Model string

	Settings Settings
}

// Request is a single transformation call.
type Request struct {
	// Audio is mono 16-bit little-endian PCM.
	Audio []byte

	// SampleRate of Audio in Hz. The response must use the same rate.
	SampleRate int

	// Preset selects the target voice.
	Preset Preset
}

// Provider is the abstraction over any voice-transformation backend.
//
// Implementations must be safe for concurrent use; the gateway issues calls
// for many sessions in parallel.
type Provider interface {
	// Convert returns req.Audio re-voiced with req.Preset as 16-bit PCM at
	// req.SampleRate. Some backends answer with a WAV container; callers
	// unwrap it. Any failure is returned as an error.
	Convert(ctx context.Context, req Request) ([]byte, error)
}

// Voice describes a target voice offered by a backend.
type Voice struct {
	ID       string
	Name     string
	Provider string
	Metadata map[string]string
}

// Lister is implemented by providers that can enumerate their voices. It is
// used at startup to flag presets that reference unknown voices.
type Lister interface {
	ListVoices(ctx context.Context) ([]Voice, error)
}
