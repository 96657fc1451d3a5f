package config

import (
	"cmp"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PresetsChanged is true when any preset was added, removed or edited,
	// or the default preset moved.
	PresetsChanged bool
	PresetChanges  []PresetDiff

	LatencyChanged bool
}

// PresetDiff describes what changed for a single preset.
type PresetDiff struct {
	Name     string
	Added    bool
	Removed  bool
	Modified bool
}

// Empty reports whether nothing reloadable changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PresetsChanged && !d.LatencyChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Latency.WarningMs != new.Latency.WarningMs || old.Latency.CriticalMs != new.Latency.CriticalMs {
		d.LatencyChanged = true
	}

	oldPresets := make(map[string]PresetConfig, len(old.Presets))
	for _, p := range old.Presets {
		oldPresets[p.Name] = p
	}
	newPresets := make(map[string]PresetConfig, len(new.Presets))
	for _, p := range new.Presets {
		newPresets[p.Name] = p
	}

	for name, op := range oldPresets {
		np, ok := newPresets[name]
		switch {
		case !ok:
			d.PresetChanges = append(d.PresetChanges, PresetDiff{Name: name, Removed: true})
		case op.Preset() != np.Preset():
			d.PresetChanges = append(d.PresetChanges, PresetDiff{Name: name, Modified: true})
		}
	}
	for name := range newPresets {
		if _, ok := oldPresets[name]; !ok {
			d.PresetChanges = append(d.PresetChanges, PresetDiff{Name: name, Added: true})
		}
	}
	slices.SortFunc(d.PresetChanges, func(a, b PresetDiff) int { return cmp.Compare(a.Name, b.Name) })

	d.PresetsChanged = len(d.PresetChanges) > 0 || old.Transform.DefaultPreset != new.Transform.DefaultPreset
	return d
}
