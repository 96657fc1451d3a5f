package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the voice backends known to this build.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"elevenlabs", "loopback"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. ${VAR} references are expanded from the environment
// before decoding so secrets can stay out of the file.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(raw)
}

func parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(raw)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It expects
// defaults to be applied already and returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		add("server.tls requires both cert_file and key_file")
	}

	// Audio legs
	if cfg.Telephony.SampleRate <= 0 {
		add("telephony.sample_rate must be positive, got %d", cfg.Telephony.SampleRate)
	}
	if err := cfg.Capture.Format().Validate(); err != nil {
		add("capture: %w", err)
	}
	if cfg.Buffer.TargetMs <= 0 {
		add("buffer.target_ms must be positive, got %d", cfg.Buffer.TargetMs)
	}
	if cfg.Jitter.TargetDelay > cfg.Jitter.MaxDelay {
		add("jitter.target_delay %s exceeds jitter.max_delay %s", cfg.Jitter.TargetDelay, cfg.Jitter.MaxDelay)
	}
	if cfg.Activity.HopMs <= 0 || cfg.Activity.HopMs > cfg.Activity.WindowMs {
		add("activity.hop_ms %d must be within (0, window_ms=%d]", cfg.Activity.HopMs, cfg.Activity.WindowMs)
	}
	if cfg.Activity.SilenceThreshold < 0 {
		add("activity.silence_threshold must not be negative")
	}

	// Pipeline
	p := cfg.Pipeline
	if p.TransformSampleRate <= 0 {
		add("pipeline.transform_sample_rate must be positive, got %d", p.TransformSampleRate)
	}
	if p.MaxQueueDepth <= 0 {
		add("pipeline.max_queue_depth must be positive, got %d", p.MaxQueueDepth)
	}
	if !p.OverflowPolicy.IsValid() {
		add("pipeline.overflow_policy %q is invalid; valid values: drop_oldest, reject_new", p.OverflowPolicy)
	}
	if p.SilenceThreshold < 0 {
		add("pipeline.silence_threshold must not be negative")
	}
	if p.AttachTimeout < 0 {
		add("pipeline.attach_timeout must not be negative")
	}
	if p.MaxSessions < 0 {
		add("pipeline.max_sessions must not be negative")
	}

	// Latency
	if cfg.Latency.WindowSize <= 0 {
		add("latency.window_size must be positive, got %d", cfg.Latency.WindowSize)
	}
	if cfg.Latency.WarningMs >= cfg.Latency.CriticalMs {
		add("latency.warning_ms %g must be below latency.critical_ms %g", cfg.Latency.WarningMs, cfg.Latency.CriticalMs)
	}

	// Transform
	tr := cfg.Transform
	if tr.Provider.Name == "" {
		add("transform.provider.name is required")
	}
	validateProviderName("transform.provider", tr.Provider.Name)
	for i, fb := range tr.Fallbacks {
		prefix := fmt.Sprintf("transform.fallbacks[%d]", i)
		if fb.Name == "" {
			add("%s.name is required", prefix)
		}
		validateProviderName(prefix, fb.Name)
	}
	if tr.Timeout <= 0 {
		add("transform.timeout must be positive, got %s", tr.Timeout)
	}
	if tr.MaxConcurrent <= 0 {
		add("transform.max_concurrent must be positive, got %d", tr.MaxConcurrent)
	}
	if tr.CostPerMinute < 0 {
		add("transform.cost_per_minute must not be negative")
	}
	if tr.CircuitBreaker.MaxFailures <= 0 || tr.CircuitBreaker.HalfOpenMax <= 0 || tr.CircuitBreaker.ResetTimeout <= 0 {
		add("transform.circuit_breaker values must be positive")
	}

	// Presets
	seen := make(map[string]int, len(cfg.Presets))
	for i, pc := range cfg.Presets {
		prefix := fmt.Sprintf("presets[%d]", i)
		if pc.Name == "" {
			add("%s.name is required", prefix)
		} else {
			if prev, ok := seen[pc.Name]; ok {
				add("%s.name %q is a duplicate of presets[%d]", prefix, pc.Name, prev)
			}
			seen[pc.Name] = i
		}
		if pc.VoiceID == "" {
			add("%s.voice_id is required", prefix)
		}
		if err := pc.Preset().Settings.Validate(); err != nil {
			add("%s: %w", prefix, err)
		}
	}
	if tr.DefaultPreset != "" {
		if _, ok := seen[tr.DefaultPreset]; !ok {
			add("transform.default_preset %q does not name a preset", tr.DefaultPreset)
		}
	} else if len(cfg.Presets) > 0 {
		slog.Warn("transform.default_preset is empty; calls without a preset will pass audio through")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not listed
// in [ValidProviderNames].
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidProviderNames,
	)
}
