package config_test

import (
	"testing"

	"github.com/MrWong99/voxbridge/internal/config"
)

func ptr[T any](v T) *T { return &v }

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:  config.ServerConfig{LogLevel: config.LogInfo},
		Presets: []config.PresetConfig{{Name: "narrator", VoiceID: "v1"}},
	}
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.PresetsChanged || d.LatencyChanged {
		t.Errorf("unexpected changes: %+v", d)
	}
}

func TestDiff_LatencyChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Latency: config.LatencyConfig{WarningMs: 300, CriticalMs: 400}}
	new := &config.Config{Latency: config.LatencyConfig{WarningMs: 300, CriticalMs: 450}}
	if d := config.Diff(old, new); !d.LatencyChanged {
		t.Error("expected LatencyChanged=true")
	}
}

func TestDiff_Presets(t *testing.T) {
	t.Parallel()
	old := &config.Config{Presets: []config.PresetConfig{
		{Name: "keep", VoiceID: "v1"},
		{Name: "edit", VoiceID: "v2"},
		{Name: "gone", VoiceID: "v3"},
	}}
	new := &config.Config{Presets: []config.PresetConfig{
		{Name: "keep", VoiceID: "v1"},
		{Name: "edit", VoiceID: "v2", Stability: ptr(0.9)},
		{Name: "fresh", VoiceID: "v4"},
	}}

	d := config.Diff(old, new)
	if !d.PresetsChanged {
		t.Fatal("expected PresetsChanged=true")
	}
	want := []config.PresetDiff{
		{Name: "edit", Modified: true},
		{Name: "fresh", Added: true},
		{Name: "gone", Removed: true},
	}
	if len(d.PresetChanges) != len(want) {
		t.Fatalf("got %d preset changes, want %d: %+v", len(d.PresetChanges), len(want), d.PresetChanges)
	}
	for i := range want {
		if d.PresetChanges[i] != want[i] {
			t.Errorf("change[%d]: got %+v, want %+v", i, d.PresetChanges[i], want[i])
		}
	}
}

func TestDiff_ExplicitDefaultSettingIsNotAChange(t *testing.T) {
	t.Parallel()
	old := &config.Config{Presets: []config.PresetConfig{{Name: "a", VoiceID: "v1"}}}
	new := &config.Config{Presets: []config.PresetConfig{{Name: "a", VoiceID: "v1", Stability: ptr(0.5)}}}
	if d := config.Diff(old, new); d.PresetsChanged {
		t.Errorf("spelling out the default stability should not count as a change: %+v", d)
	}
}

func TestDiff_DefaultPresetChanged(t *testing.T) {
	t.Parallel()
	presets := []config.PresetConfig{{Name: "a", VoiceID: "v1"}, {Name: "b", VoiceID: "v2"}}
	old := &config.Config{Presets: presets, Transform: config.TransformConfig{DefaultPreset: "a"}}
	new := &config.Config{Presets: presets, Transform: config.TransformConfig{DefaultPreset: "b"}}

	d := config.Diff(old, new)
	if !d.PresetsChanged {
		t.Error("expected PresetsChanged=true when the default preset moves")
	}
	if len(d.PresetChanges) != 0 {
		t.Errorf("expected no per-preset changes, got %+v", d.PresetChanges)
	}
}
