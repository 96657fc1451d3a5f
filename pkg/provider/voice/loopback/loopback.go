// Package loopback provides a voice.Provider that returns its input
// unchanged. It lets the bridge run end to end without a paid backend and
// serves as a last-resort fallback that keeps audio flowing.
package loopback

import (
	"context"

	"github.com/MrWong99/voxbridge/pkg/provider/voice"
)

// Provider echoes every request.
type Provider struct{}

var (
	_ voice.Provider = Provider{}
	_ voice.Lister   = Provider{}
)

// New returns a loopback provider.
func New() Provider { return Provider{} }

// Convert returns a copy of req.Audio, or ctx.Err if ctx is already done.
func (Provider) Convert(ctx context.Context, req voice.Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]byte(nil), req.Audio...), nil
}

// ListVoices reports the single pseudo voice "loopback".
func (Provider) ListVoices(context.Context) ([]voice.Voice, error) {
	return []voice.Voice{{ID: "loopback", Name: "Loopback", Provider: "loopback"}}, nil
}
