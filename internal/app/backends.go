package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxbridge/internal/config"
)

// BuildBackends instantiates the primary backend and every fallback named
// in cfg.Transform using reg. A fallback that fails to build is logged and
// skipped; a failing primary is an error.
func BuildBackends(cfg *config.Config, reg *config.Registry) ([]Backend, error) {
	primary, err := reg.CreateVoice(cfg.Transform.Provider)
	if err != nil {
		return nil, fmt.Errorf("app: primary voice backend: %w", err)
	}
	slog.Info("voice backend created", "role", "primary", "name", cfg.Transform.Provider.Name)
	backends := []Backend{{Name: cfg.Transform.Provider.Name, Provider: primary}}

	for i, entry := range cfg.Transform.Fallbacks {
		p, err := reg.CreateVoice(entry)
		if err != nil {
			slog.Warn("skipping voice fallback", "index", i, "name", entry.Name, "err", err)
			continue
		}
		name := entry.Name
		if name == cfg.Transform.Provider.Name {
			name = fmt.Sprintf("%s#%d", name, i+1)
		}
		backends = append(backends, Backend{Name: name, Provider: p})
		slog.Info("voice backend created", "role", "fallback", "name", name)
	}
	return backends, nil
}
