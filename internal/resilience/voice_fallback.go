package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voxbridge/pkg/provider/voice"
)

// VoiceFallback implements [voice.Provider] with automatic failover across
// several voice backends. Each backend has its own circuit breaker, so a
// backend that keeps failing is skipped instead of adding its timeout to
// every chunk.
type VoiceFallback struct {
	group *FallbackGroup[voice.Provider]
}

var (
	_ voice.Provider = (*VoiceFallback)(nil)
	_ voice.Lister   = (*VoiceFallback)(nil)
)

// NewVoiceFallback creates a [VoiceFallback] with primary as the preferred backend.
func NewVoiceFallback(primary voice.Provider, primaryName string, cfg FallbackConfig) *VoiceFallback {
	return &VoiceFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *VoiceFallback) AddFallback(name string, p voice.Provider) {
	f.group.AddFallback(name, p)
}

// Convert transforms req with the first healthy backend.
func (f *VoiceFallback) Convert(ctx context.Context, req voice.Request) ([]byte, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p voice.Provider) ([]byte, error) {
		return p.Convert(ctx, req)
	})
}

// ListVoices returns the voices of the first backend that can list them.
// Voice listing is an admin operation, so it bypasses the circuit breakers.
func (f *VoiceFallback) ListVoices(ctx context.Context) ([]voice.Voice, error) {
	var errs []error
	for _, e := range f.group.entries {
		l, ok := e.value.(voice.Lister)
		if !ok {
			continue
		}
		voices, err := l.ListVoices(ctx)
		if err == nil {
			return voices, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
	}
	if len(errs) == 0 {
		return nil, errors.New("resilience: no backend can list voices")
	}
	return nil, errors.Join(errs...)
}

// Status returns the breaker state of every backend in failover order.
func (f *VoiceFallback) Status() []EntryStatus { return f.group.Status() }

// HealthCheck reports an error when every backend's breaker is open. The
// pipeline still passes audio through in that state, so this only marks the
// service as degraded.
func (f *VoiceFallback) HealthCheck(context.Context) error {
	if !f.group.Available() {
		return ErrAllFailed
	}
	return nil
}
