// Command voxbridge is the main entry point for the voxbridge audio bridge.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/MrWong99/voxbridge/internal/app"
	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/provider/voice"
	"github.com/MrWong99/voxbridge/pkg/provider/voice/elevenlabs"
	"github.com/MrWong99/voxbridge/pkg/provider/voice/loopback"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the config is parsed")
	watch := flag.Bool("watch", true, "hot-reload log level, presets and latency thresholds when the config file changes")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	// Variables already set in the process environment win over the file.
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "voxbridge: load %s: %v\n", *envPath, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxbridge: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxbridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("voxbridge starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Voice backends ────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	backends, err := app.BuildBackends(cfg, reg)
	if err != nil {
		slog.Error("failed to build voice backends", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, backends, app.WithLevelVar(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, application.Reload)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the voice backends that ship with voxbridge
// into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterVoice("elevenlabs", func(entry config.ProviderEntry) (voice.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if lvl, ok := optInt(entry.Options, "optimize_streaming_latency"); ok {
			opts = append(opts, elevenlabs.WithLatencyOptimization(lvl))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterVoice("loopback", func(config.ProviderEntry) (voice.Provider, error) {
		return loopback.New(), nil
	})

	for _, name := range reg.VoiceNames() {
		slog.Debug("registered provider", "kind", "voice", "name", name)
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optInt extracts an integer from a provider Options map. YAML decodes
// plain numbers as int; floats with no fraction are accepted too.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}
