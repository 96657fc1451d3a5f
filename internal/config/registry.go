package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxbridge/pkg/provider/voice"
)

// ErrProviderNotRegistered is returned by [Registry.CreateVoice] when no
// factory has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// VoiceFactory builds a voice backend from its config entry.
type VoiceFactory func(ProviderEntry) (voice.Provider, error)

// Registry maps provider names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	voice map[string]VoiceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{voice: make(map[string]VoiceFactory)}
}

// RegisterVoice registers a voice backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVoice(name string, factory VoiceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voice[name] = factory
}

// CreateVoice instantiates the backend named by entry.Name.
func (r *Registry) CreateVoice(entry ProviderEntry) (voice.Provider, error) {
	r.mu.RLock()
	factory, ok := r.voice[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: voice/%q", ErrProviderNotRegistered, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create voice provider %q: %w", entry.Name, err)
	}
	return p, nil
}

// VoiceNames returns the registered backend names in sorted order.
func (r *Registry) VoiceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.voice))
	for name := range r.voice {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
