// Package config provides the configuration schema, loader, and provider registry
// for the voxbridge audio bridge.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/voxbridge/internal/bridge"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/provider/voice"
)

// LogLevel controls log verbosity for the voxbridge server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l onto a [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for voxbridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telephony TelephonyConfig `yaml:"telephony"`
	Capture   CaptureConfig   `yaml:"capture"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Jitter    JitterConfig    `yaml:"jitter"`
	Activity  ActivityConfig  `yaml:"activity"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Latency   LatencyConfig   `yaml:"latency"`
	Transform TransformConfig `yaml:"transform"`
	Presets   []PresetConfig  `yaml:"presets"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// TelephonyConfig describes the phone leg.
type TelephonyConfig struct {
	// SampleRate of the μ-law stream announced by the carrier.
	SampleRate int `yaml:"sample_rate"`
}

// CaptureConfig holds the format assumed for capture clients that do not
// announce one in the query string.
type CaptureConfig struct {
	DefaultEncoding   audio.Encoding `yaml:"default_encoding"`
	DefaultSampleRate int            `yaml:"default_sample_rate"`
	DefaultChannels   int            `yaml:"default_channels"`
}

// Format returns the default capture format.
func (c CaptureConfig) Format() audio.Format {
	return audio.Format{Encoding: c.DefaultEncoding, SampleRate: c.DefaultSampleRate, Channels: c.DefaultChannels}
}

// BufferConfig sizes the capture window.
type BufferConfig struct {
	// TargetMs is the block length handed to the transform backend.
	TargetMs int `yaml:"target_ms"`
}

// JitterConfig shapes the telephony inbound jitter buffer.
type JitterConfig struct {
	TargetDelay time.Duration `yaml:"target_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// ActivityConfig shapes caller activity detection on telephony audio.
type ActivityConfig struct {
	WindowMs         int     `yaml:"window_ms"`
	HopMs            int     `yaml:"hop_ms"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
}

// PipelineConfig controls per-session processing.
type PipelineConfig struct {
	// TransformSampleRate is the PCM rate the backend is called with.
	TransformSampleRate int `yaml:"transform_sample_rate"`

	// MaxQueueDepth bounds the blocks waiting per session.
	MaxQueueDepth int `yaml:"max_queue_depth"`

	// OverflowPolicy selects what happens when the queue is full.
	OverflowPolicy bridge.OverflowPolicy `yaml:"overflow_policy"`

	// SilenceThreshold skips the backend for quieter blocks. 0 disables it.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// AttachTimeout closes sessions that never get both endpoints.
	AttachTimeout time.Duration `yaml:"attach_timeout"`

	// MaxSessions limits concurrent calls. 0 means unlimited.
	MaxSessions int `yaml:"max_sessions"`
}

// LatencyConfig configures the per-session latency tracker.
type LatencyConfig struct {
	WindowSize int     `yaml:"window_size"`
	WarningMs  float64 `yaml:"warning_ms"`
	CriticalMs float64 `yaml:"critical_ms"`
}

// TransformConfig selects the voice backend chain and bounds calls to it.
type TransformConfig struct {
	// Provider is the primary backend.
	Provider ProviderEntry `yaml:"provider"`

	// Fallbacks are tried in order when the primary fails or its circuit
	// breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrent  int64         `yaml:"max_concurrent"`
	CostPerMinute  float64       `yaml:"cost_per_minute"`
	DefaultPreset  string        `yaml:"default_preset"`
	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
}

// BreakerConfig tunes the circuit breaker placed in front of every backend.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// ProviderEntry is the common configuration block shared by all backends.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// PresetConfig declares a named voice preset. Unset settings take the
// values of [voice.DefaultSettings].
type PresetConfig struct {
	Name            string   `yaml:"name"`
	VoiceID         string   `yaml:"voice_id"`
	Model           string   `yaml:"model"`
	Stability       *float64 `yaml:"stability"`
	SimilarityBoost *float64 `yaml:"similarity_boost"`
	Style           *float64 `yaml:"style"`
	UseSpeakerBoost *bool    `yaml:"use_speaker_boost"`
}

// Preset converts p into the form the gateway works with.
func (p PresetConfig) Preset() voice.Preset {
	s := voice.DefaultSettings()
	if p.Stability != nil {
		s.Stability = *p.Stability
	}
	if p.SimilarityBoost != nil {
		s.SimilarityBoost = *p.SimilarityBoost
	}
	if p.Style != nil {
		s.Style = *p.Style
	}
	if p.UseSpeakerBoost != nil {
		s.UseSpeakerBoost = *p.UseSpeakerBoost
	}
	return voice.Preset{Name: p.Name, VoiceID: p.VoiceID, Model: p.Model, Settings: s}
}

// VoicePresets converts every configured preset.
func (c *Config) VoicePresets() []voice.Preset {
	out := make([]voice.Preset, len(c.Presets))
	for i, p := range c.Presets {
		out[i] = p.Preset()
	}
	return out
}

// ApplyDefaults fills every unset field with its default value. It is
// called by [LoadFromReader] before validation.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, ":8080")
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Telephony.SampleRate, 8000)

	setDefault(&cfg.Capture.DefaultEncoding, audio.EncodingPCM16)
	setDefault(&cfg.Capture.DefaultSampleRate, 16000)
	setDefault(&cfg.Capture.DefaultChannels, 1)

	setDefault(&cfg.Buffer.TargetMs, 200)

	setDefault(&cfg.Jitter.TargetDelay, 60*time.Millisecond)
	setDefault(&cfg.Jitter.MaxDelay, 200*time.Millisecond)

	setDefault(&cfg.Activity.WindowMs, 200)
	setDefault(&cfg.Activity.HopMs, 100)
	setDefault(&cfg.Activity.SilenceThreshold, 500)

	setDefault(&cfg.Pipeline.TransformSampleRate, 16000)
	setDefault(&cfg.Pipeline.MaxQueueDepth, 32)
	setDefault(&cfg.Pipeline.OverflowPolicy, bridge.DropOldest)
	setDefault(&cfg.Pipeline.AttachTimeout, 30*time.Second)

	setDefault(&cfg.Latency.WindowSize, 100)
	setDefault(&cfg.Latency.WarningMs, 300)
	setDefault(&cfg.Latency.CriticalMs, 400)

	setDefault(&cfg.Transform.Timeout, 2*time.Second)
	setDefault(&cfg.Transform.MaxConcurrent, 8)
	setDefault(&cfg.Transform.CircuitBreaker.MaxFailures, 5)
	setDefault(&cfg.Transform.CircuitBreaker.ResetTimeout, 30*time.Second)
	setDefault(&cfg.Transform.CircuitBreaker.HalfOpenMax, 3)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}
