package main

import (
	"testing"

	"github.com/MrWong99/voxbridge/internal/config"
)

func TestOptInt(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		opts   map[string]any
		want   int
		wantOK bool
	}{
		{"nil map", nil, 0, false},
		{"missing", map[string]any{"other": 1}, 0, false},
		{"int", map[string]any{"optimize_streaming_latency": 3}, 3, true},
		{"whole float", map[string]any{"optimize_streaming_latency": 2.0}, 2, true},
		{"fraction", map[string]any{"optimize_streaming_latency": 2.5}, 0, false},
		{"string", map[string]any{"optimize_streaming_latency": "3"}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := optInt(tt.opts, "optimize_streaming_latency")
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("optInt = %d, %v; want %d, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	if _, err := reg.CreateVoice(config.ProviderEntry{Name: "loopback"}); err != nil {
		t.Errorf("loopback: %v", err)
	}
	if _, err := reg.CreateVoice(config.ProviderEntry{Name: "elevenlabs", APIKey: "el-test", Options: map[string]any{"optimize_streaming_latency": 2}}); err != nil {
		t.Errorf("elevenlabs: %v", err)
	}
	if _, err := reg.CreateVoice(config.ProviderEntry{Name: "elevenlabs"}); err == nil {
		t.Error("elevenlabs without api key should fail")
	}
}
