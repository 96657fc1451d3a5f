// Package app wires all voxbridge subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until its context ends, and Shutdown drains
// live calls and tears everything down in order.
//
// For testing, inject doubles via functional options (WithListener,
// WithMetrics, etc.). Voice backends are always passed in by the caller,
// usually built from the config registry with [BuildBackends].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxbridge/internal/bridge"
	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/gateway"
	"github.com/MrWong99/voxbridge/internal/health"
	"github.com/MrWong99/voxbridge/internal/latency"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/resilience"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/provider/voice"
)

const (
	defaultShutdownTimeout = 15 * time.Second
	presetCheckTimeout     = 5 * time.Second
)

// Backend is a named voice backend. The first backend handed to [New] is
// the primary; the rest are fallbacks in order.
type Backend struct {
	Name     string
	Provider voice.Provider
}

// App owns all subsystem lifetimes and serves the bridge over HTTP.
type App struct {
	cfg *config.Config

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics  *observe.Metrics
	codec    *audio.Codec
	voice    *resilience.VoiceFallback
	gateway  *gateway.Gateway
	bridge   *bridge.Bridge
	health   *health.Handler
	server   *http.Server
	listener net.Listener
	gatherer prometheus.Gatherer
	level    *slog.LevelVar

	shutdownTimeout time.Duration
	stopOnce        sync.Once
	stopErr         error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects the metric instruments instead of the global ones.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer selects the Prometheus registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithListener serves on l instead of listening on cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithLevelVar lets hot reload adjust the log level of the handler that
// holds v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithShutdownTimeout bounds how long Run waits for calls to drain once its
// context ends. Default: 15s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.shutdownTimeout = d
		}
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. backends come from
// main.go (populated via the config registry) and must not be empty.
func New(ctx context.Context, cfg *config.Config, backends []Backend, opts ...Option) (*App, error) {
	if len(backends) == 0 {
		return nil, errors.New("app: at least one voice backend is required")
	}
	a := &App{
		cfg:             cfg,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Codec tables ──────────────────────────────────────────────────
	a.codec = audio.InitTables()

	// ── 2. Voice backends behind breakers ────────────────────────────────
	a.initVoice(backends)
	a.checkPresets(ctx)

	// ── 3. Gateway + bridge ──────────────────────────────────────────────
	a.gateway = gateway.New(a.voice, cfg.VoicePresets(), gateway.Config{
		Timeout:          cfg.Transform.Timeout,
		MaxConcurrent:    cfg.Transform.MaxConcurrent,
		CostPerMinute:    cfg.Transform.CostPerMinute,
		SilenceThreshold: cfg.Pipeline.SilenceThreshold,
		DefaultPreset:    cfg.Transform.DefaultPreset,
	}, gateway.WithMetrics(a.metrics))

	a.bridge = bridge.New(a.codec, a.gateway, bridge.Config{
		TelephonyRate: cfg.Telephony.SampleRate,
		TransformRate: cfg.Pipeline.TransformSampleRate,
		TargetMs:      cfg.Buffer.TargetMs,
		MaxQueueDepth: cfg.Pipeline.MaxQueueDepth,
		Overflow:      cfg.Pipeline.OverflowPolicy,
		AttachTimeout: cfg.Pipeline.AttachTimeout,
		MaxSessions:   cfg.Pipeline.MaxSessions,
		Latency: []latency.Option{
			latency.WithCapacity(cfg.Latency.WindowSize),
			latency.WithThresholds(cfg.Latency.WarningMs, cfg.Latency.CriticalMs),
		},
	}, bridge.WithMetrics(a.metrics))

	// ── 4. Health + HTTP ─────────────────────────────────────────────────
	a.health = health.New(
		health.Checker{Name: "voice", Check: a.voice.HealthCheck},
		health.Checker{Name: "sessions", Check: a.checkCapacity},
	)
	a.server = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initVoice(backends []Backend) {
	cb := a.cfg.Transform.CircuitBreaker
	fcfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
			HalfOpenMax:  cb.HalfOpenMax,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("voice backend breaker changed state", "backend", name, "from", from, "to", to)
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}
	a.voice = resilience.NewVoiceFallback(backends[0].Provider, backends[0].Name, fcfg)
	for _, b := range backends[1:] {
		a.voice.AddFallback(b.Name, b.Provider)
	}
}

// checkPresets warns about presets whose voice the backends do not offer.
// Listing failures are not fatal: the backend may simply not support it.
func (a *App) checkPresets(ctx context.Context) {
	if len(a.cfg.Presets) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, presetCheckTimeout)
	defer cancel()

	voices, err := a.voice.ListVoices(ctx)
	if err != nil {
		slog.Debug("cannot list voices, skipping preset check", "err", err)
		return
	}
	known := make(map[string]bool, len(voices))
	for _, v := range voices {
		known[v.ID] = true
	}
	for _, p := range a.cfg.Presets {
		if !known[p.VoiceID] {
			slog.Warn("preset references a voice the backend does not list", "preset", p.Name, "voice_id", p.VoiceID)
		}
	}
}

func (a *App) checkCapacity(context.Context) error {
	if limit := a.cfg.Pipeline.MaxSessions; limit > 0 && a.bridge.Len() >= limit {
		return fmt.Errorf("%d of %d sessions in use", a.bridge.Len(), limit)
	}
	return nil
}

// Bridge returns the session bridge.
func (a *App) Bridge() *bridge.Bridge { return a.bridge }

// Gateway returns the transform gateway.
func (a *App) Gateway() *gateway.Gateway { return a.gateway }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx ends, then calls [App.Shutdown] with the
// configured shutdown timeout. It returns nil after a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		return a.Shutdown(sctx)
	})

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	return g.Wait()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of new. It is meant to be passed
// to [config.NewWatcher].
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		slog.Info("config changed, nothing to hot-reload; restart to apply other changes")
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PresetsChanged {
		a.gateway.SetPresets(new.VoicePresets(), new.Transform.DefaultPreset)
		for _, pc := range d.PresetChanges {
			slog.Info("preset reloaded", "preset", pc.Name, "added", pc.Added, "removed", pc.Removed, "modified", pc.Modified)
		}
	}
	if d.LatencyChanged {
		a.bridge.SetLatencyThresholds(new.Latency.WarningMs, new.Latency.CriticalMs)
		slog.Info("latency thresholds changed", "warning_ms", new.Latency.WarningMs, "critical_ms", new.Latency.CriticalMs)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown marks the service unready, drains every session and stops the
// HTTP server. Sessions still running when ctx expires are aborted and the
// context error is returned. Later calls return the first result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.bridge.Len())
		a.health.SetDraining(true)

		var errs []error
		if err := a.bridge.Shutdown(ctx); err != nil {
			slog.Warn("sessions aborted at shutdown deadline", "err", err)
			errs = append(errs, err)
		}
		// Hijacked WebSocket connections are not tracked by the server; they
		// were closed when their sessions ended above.
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
		}

		u := a.gateway.Usage()
		slog.Info("shutdown complete", "calls", u.Calls, "audio_seconds", u.AudioSeconds, "estimated_cost", u.EstimatedCost)
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}
