// Package bridge joins the two ends of a call: the telephony stream that
// plays audio to the caller and the capture stream that produces it.
//
// Every call gets a [Session] that moves through AwaitingEndpoints, Active,
// Draining and Closed. Captured audio is cut into blocks by a
// buffer.Window, queued in a bounded FIFO and processed by at most one drain
// goroutine per session, so blocks of one call are forwarded strictly in
// order while calls never wait on each other.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxbridge/internal/gateway"
	"github.com/MrWong99/voxbridge/internal/latency"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/audio"
)

// OverflowPolicy decides what happens when a block arrives at a full queue.
type OverflowPolicy string

const (
	// DropOldest discards the oldest queued block to make room.
	DropOldest OverflowPolicy = "drop_oldest"

	// RejectNew discards the arriving block and reports ErrQueueOverflow.
	RejectNew OverflowPolicy = "reject_new"
)

// IsValid reports whether p is a known policy.
func (p OverflowPolicy) IsValid() bool {
	return p == DropOldest || p == RejectNew
}

// Side identifies one endpoint of a call.
type Side int

const (
	SideTelephony Side = iota
	SideCapture
)

// String returns the name used in logs.
func (s Side) String() string {
	if s == SideCapture {
		return "capture"
	}
	return "telephony"
}

// Egress delivers processed μ-law audio to the caller. Send is only called
// from the session's drain goroutine.
type Egress interface {
	Send(ctx context.Context, mulaw []byte) error
}

// Transformer is the part of the gateway the bridge depends on.
type Transformer interface {
	Transform(ctx context.Context, pcm []byte, preset string, opts gateway.Options) []byte
	InitializeStream(callID, preset string)
	CloseStream(callID string) (gateway.StreamUsage, bool)
}

// Config tunes a [Bridge]. Zero values select defaults.
type Config struct {
	// TelephonyRate is the sample rate of the telephony leg. Default: 8000.
	TelephonyRate int

	// TransformRate is the sample rate the backend is called with.
	// Default: 16000.
	TransformRate int

	// TargetMs is the block size the capture window aims for. Default: 200.
	TargetMs int

	// MaxQueueDepth bounds the per-session block queue. Default: 32.
	MaxQueueDepth int

	// Overflow is the full-queue policy. Default: DropOldest.
	Overflow OverflowPolicy

	// AttachTimeout closes sessions that do not become active in time.
	// Default: 30s.
	AttachTimeout time.Duration

	// MaxSessions limits concurrently registered sessions. 0 is unlimited.
	MaxSessions int

	// Latency configures the per-session latency tracker.
	Latency []latency.Option
}

func (c *Config) applyDefaults() {
	if c.TelephonyRate <= 0 {
		c.TelephonyRate = 8000
	}
	if c.TransformRate <= 0 {
		c.TransformRate = 16000
	}
	if c.TargetMs <= 0 {
		c.TargetMs = 200
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = 32
	}
	if c.Overflow == "" {
		c.Overflow = DropOldest
	}
	if c.AttachTimeout <= 0 {
		c.AttachTimeout = 30 * time.Second
	}
}

// Option configures optional Bridge behaviour.
type Option func(*Bridge)

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithIDGenerator replaces the random session id source.
func WithIDGenerator(fn func() string) Option {
	return func(b *Bridge) { b.newID = fn }
}

// Bridge owns the session registry and the collaborators every session
// shares. All methods are safe for concurrent use.
type Bridge struct {
	codec    *audio.Codec
	gw       Transformer
	registry *Registry
	metrics  *observe.Metrics
	newID    func() string

	mu         sync.RWMutex
	cfg        Config
	thresholds latency.Option // set by SetLatencyThresholds, applied after cfg.Latency
	shutdown   bool
}

// New creates a Bridge. codec is the shared lookup-table engine built with
// audio.InitTables.
func New(codec *audio.Codec, gw Transformer, cfg Config, opts ...Option) *Bridge {
	cfg.applyDefaults()
	b := &Bridge{
		codec:    codec,
		gw:       gw,
		registry: NewRegistry(),
		cfg:      cfg,
		newID:    func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Config returns the current configuration.
func (b *Bridge) Config() Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

// SetLatencyThresholds updates the warning and critical thresholds of every
// live session and of sessions created afterwards.
func (b *Bridge) SetLatencyThresholds(warningMs, criticalMs float64) {
	b.mu.Lock()
	b.thresholds = latency.WithThresholds(warningMs, criticalMs)
	b.mu.Unlock()
	for _, s := range b.registry.All() {
		s.tracker.SetThresholds(warningMs, criticalMs)
	}
}

// AttachTelephony attaches the playback side of callID, creating the
// session if this is the first endpoint.
func (b *Bridge) AttachTelephony(callID, preset string, egress Egress) (*Session, error) {
	if egress == nil {
		return nil, errors.New("bridge: nil egress")
	}
	s, err := b.session(callID)
	if err != nil {
		return nil, err
	}
	if err := s.attachTelephony(preset, egress); err != nil {
		return nil, err
	}
	return s, nil
}

// AttachCapture attaches the producing side of callID with the format its
// chunks will use.
func (b *Bridge) AttachCapture(callID string, f audio.Format, preset string) (*Session, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("bridge: capture format: %w", err)
	}
	s, err := b.session(callID)
	if err != nil {
		return nil, err
	}
	if err := s.attachCapture(f, preset); err != nil {
		return nil, err
	}
	return s, nil
}

func (b *Bridge) session(callID string) (*Session, error) {
	if callID == "" {
		return nil, errors.New("bridge: empty call id")
	}
	b.mu.RLock()
	cfg, thresholds, closed := b.cfg, b.thresholds, b.shutdown
	b.mu.RUnlock()
	if closed {
		return nil, ErrSessionClosed
	}
	if thresholds != nil {
		cfg.Latency = append(cfg.Latency[:len(cfg.Latency):len(cfg.Latency)], thresholds)
	}

	s, created, err := b.registry.GetOrCreate(callID, func(n int) (*Session, error) {
		if cfg.MaxSessions > 0 && n >= cfg.MaxSessions {
			return nil, ErrTooManySessions
		}
		return newSession(b, callID, b.newID(), cfg), nil
	})
	if err != nil {
		slog.Warn("bridge: session refused", "call_id", callID, "err", err)
		return nil, err
	}
	if created {
		b.metrics.ActiveSessions.Add(s.ctx, 1)
		s.startAttachTimer(cfg.AttachTimeout)
		s.log.Info("bridge: session created")
	}
	return s, nil
}

// Ingest hands one capture chunk to the session of callID. The session
// takes ownership of chunk. Chunks that arrive before the session is active
// are dropped without error.
func (b *Bridge) Ingest(callID string, chunk []byte) error {
	s, ok := b.registry.Get(callID)
	if !ok {
		b.metrics.RecordDrop(context.Background(), "unknown_call")
		slog.Debug("bridge: chunk for unknown call dropped", "call_id", callID)
		return fmt.Errorf("%w: %s", ErrSessionNotFound, callID)
	}
	return s.Ingest(chunk)
}

// Detach starts draining the session of callID after one endpoint went
// away. See [Session.Detach].
func (b *Bridge) Detach(callID string, side Side) error {
	s, ok := b.registry.Get(callID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, callID)
	}
	return s.Detach(side)
}

// Lookup returns the live session for callID.
func (b *Bridge) Lookup(callID string) (*Session, bool) {
	return b.registry.Get(callID)
}

// Sessions returns a snapshot of every live session.
func (b *Bridge) Sessions() []Info {
	all := b.registry.All()
	out := make([]Info, len(all))
	for i, s := range all {
		out[i] = s.Info()
	}
	return out
}

// Len returns the number of live sessions.
func (b *Bridge) Len() int { return b.registry.Len() }

// Shutdown refuses new sessions, drains every live session and waits for
// them to close. When ctx expires first the remaining sessions are aborted:
// in-flight transforms are cancelled and their results discarded. Shutdown
// still waits for aborted sessions to close before returning ctx.Err().
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.shutdown = true
	b.mu.Unlock()

	sessions := b.registry.All()
	for _, s := range sessions {
		s.drainAll()
	}

	var aborted bool
	for _, s := range sessions {
		select {
		case <-s.Done():
			continue
		case <-ctx.Done():
		}
		if !aborted {
			aborted = true
			slog.Warn("bridge: shutdown deadline reached, aborting sessions")
		}
		s.Abort()
		<-s.Done()
	}
	if aborted {
		return ctx.Err()
	}
	return nil
}
