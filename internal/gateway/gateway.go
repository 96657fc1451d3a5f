// Package gateway is the boundary between the audio pipeline and the voice
// transformation backend.
//
// [Gateway.Transform] never fails: whatever goes wrong on the way to the
// backend (unknown preset, saturation, timeout, circuit open, bad response)
// the caller gets its own audio back and the call continues un-transformed.
// Failures are logged and counted so operators can see how much audio was
// actually re-voiced.
//
// The gateway also keeps per-call usage (seconds processed, calls, failures)
// between [Gateway.InitializeStream] and [Gateway.CloseStream].
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/resilience"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/provider/voice"
)

// Failure reasons reported in logs and the transform failure counter.
const (
	ReasonUnknownPreset = "unknown_preset"
	ReasonSaturated     = "saturated"
	ReasonTimeout       = "timeout"
	ReasonCanceled      = "canceled"
	ReasonUnavailable   = "unavailable"
	ReasonBackend       = "backend_error"
	ReasonBadResponse   = "bad_response"
)

const (
	defaultTimeout       = 2 * time.Second
	defaultMaxConcurrent = 8
)

// Config tunes a [Gateway]. Zero values select defaults.
type Config struct {
	// Timeout bounds a single backend call, including the wait for a free
	// slot. Default: 2s.
	Timeout time.Duration

	// MaxConcurrent is the number of backend calls allowed in flight across
	// all sessions. Default: 8.
	MaxConcurrent int64

	// CostPerMinute is the backend price per minute of processed audio. It
	// only feeds the usage estimate.
	CostPerMinute float64

	// SilenceThreshold skips the backend for blocks whose RMS level is
	// below it. 0 disables gating.
	SilenceThreshold float64

	// DefaultPreset is used when a caller asks for the empty preset name.
	DefaultPreset string
}

// Options carries per-call parameters of [Gateway.Transform].
type Options struct {
	// SampleRate of the PCM handed to Transform, in Hz.
	SampleRate int

	// CallID attributes usage to a stream opened with InitializeStream.
	CallID string
}

// Option configures optional Gateway behaviour.
type Option func(*Gateway)

// WithMetrics records gateway metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithClock replaces time.Now for usage accounting.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// Gateway adapts a [voice.Provider] to the pass-through contract of the
// pipeline. It is safe for concurrent use.
type Gateway struct {
	provider voice.Provider
	cfg      Config
	sem      *semaphore.Weighted
	metrics  *observe.Metrics
	now      func() time.Time

	mu            sync.Mutex
	presets       map[string]voice.Preset
	defaultPreset string
	streams       map[string]*stream
	totals        Usage
}

// New creates a Gateway in front of p. presets are resolved by name on every
// call and can be replaced later with [Gateway.SetPresets].
func New(p voice.Provider, presets []voice.Preset, cfg Config, opts ...Option) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	g := &Gateway{
		provider: p,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		now:      time.Now,
		streams:  make(map[string]*stream),
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	g.SetPresets(presets, cfg.DefaultPreset)
	return g
}

// SetPresets atomically replaces the preset table. Calls already in flight
// keep the preset they resolved.
func (g *Gateway) SetPresets(presets []voice.Preset, defaultPreset string) {
	m := make(map[string]voice.Preset, len(presets))
	for _, p := range presets {
		m[p.Name] = p
	}
	g.mu.Lock()
	g.presets = m
	g.defaultPreset = defaultPreset
	g.mu.Unlock()
}

// Preset resolves name, falling back to the default preset for "".
func (g *Gateway) Preset(name string) (voice.Preset, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if name == "" {
		name = g.defaultPreset
	}
	p, ok := g.presets[name]
	return p, ok
}

// Transform sends pcm (mono PCM16 at opts.SampleRate) to the backend with
// the named preset and returns the transformed audio at the same rate. On
// any failure it returns pcm itself.
func (g *Gateway) Transform(ctx context.Context, pcm []byte, preset string, opts Options) []byte {
	if len(pcm) == 0 {
		return pcm
	}
	log := observe.Logger(ctx)

	p, ok := g.Preset(preset)
	if !ok {
		g.passThrough(ctx, log, opts, ReasonUnknownPreset, 0, fmt.Errorf("gateway: unknown preset %q", preset))
		return pcm
	}

	if g.cfg.SilenceThreshold > 0 {
		if silent, err := audio.IsSilence(pcm, g.cfg.SilenceThreshold); err == nil && silent {
			g.metrics.RecordTransform(ctx, observe.OutcomeSkipped, "", 0)
			g.account(opts.CallID, func(u *StreamUsage) { u.Skipped++ }, func(u *Usage) { u.Skipped++ })
			return pcm
		}
	}

	ctx, span := observe.StartSpan(ctx, "gateway.transform", trace.WithAttributes(
		attribute.String("preset", p.Name),
		attribute.Int("bytes", len(pcm)),
		attribute.Int("sample_rate", opts.SampleRate),
	))
	defer span.End()

	start := g.now()
	out, err := g.call(ctx, pcm, p, opts.SampleRate)
	elapsed := g.now().Sub(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.passThrough(ctx, log, opts, classify(err), elapsed, err)
		return pcm
	}

	seconds := float64(len(pcm)/2) / float64(opts.SampleRate)
	g.metrics.RecordTransform(ctx, observe.OutcomeTransformed, "", elapsed)
	g.metrics.AudioProcessed.Add(ctx, seconds)
	g.account(opts.CallID,
		func(u *StreamUsage) { u.Calls++; u.AudioSeconds += seconds },
		func(u *Usage) { u.Calls++; u.AudioSeconds += seconds },
	)
	return out
}

// errBadResponse marks a backend answer that cannot be played back.
var errBadResponse = errors.New("gateway: unusable backend response")

// errBackendPanic reports a backend that panicked instead of returning.
var errBackendPanic = errors.New("gateway: backend panicked")

func (g *Gateway) call(ctx context.Context, pcm []byte, p voice.Preset, rate int) (out []byte, err error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", errBackendPanic, r)
		}
	}()

	if err := g.sem.Acquire(ctx, 1); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %w", errSaturated, err)
		}
		return nil, err
	}
	defer g.sem.Release(1)

	out, err = g.provider.Convert(ctx, voice.Request{Audio: pcm, SampleRate: rate, Preset: p})
	if err != nil {
		return nil, err
	}
	return normalize(out, rate)
}

var errSaturated = errors.New("gateway: no free backend slot")

// normalize turns a backend answer into mono PCM16 at rate.
func normalize(out []byte, rate int) ([]byte, error) {
	if audio.IsWAV(out) {
		f, payload, err := audio.ParseWAV(out)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errBadResponse, err)
		}
		if f.Channels == 2 {
			payload = audio.StereoToMono(payload)
		}
		if f.SampleRate != rate {
			if payload, err = audio.Resample(payload, f.SampleRate, rate); err != nil {
				return nil, fmt.Errorf("%w: %w", errBadResponse, err)
			}
		}
		out = payload
	}
	switch {
	case len(out) == 0:
		return nil, fmt.Errorf("%w: empty", errBadResponse)
	case len(out)%2 != 0:
		return nil, fmt.Errorf("%w: %d bytes is not whole PCM16 samples", errBadResponse, len(out))
	}
	return out, nil
}

func classify(err error) string {
	switch {
	case errors.Is(err, errSaturated):
		return ReasonSaturated
	case errors.Is(err, errBadResponse):
		return ReasonBadResponse
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, resilience.ErrCircuitOpen):
		return ReasonUnavailable
	default:
		return ReasonBackend
	}
}

func (g *Gateway) passThrough(ctx context.Context, log *slog.Logger, opts Options, reason string, d time.Duration, err error) {
	g.metrics.RecordTransform(ctx, observe.OutcomePassThrough, reason, d)
	g.account(opts.CallID, func(u *StreamUsage) { u.Failures++ }, func(u *Usage) { u.Failures++ })
	level := slog.LevelWarn
	if reason == ReasonCanceled {
		level = slog.LevelDebug
	}
	log.Log(ctx, level, "gateway: passing audio through", "reason", reason, "err", err)
}
