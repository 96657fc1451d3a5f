// Package latency keeps rolling latency statistics for the audio pipeline.
//
// A [Tracker] holds a fixed-capacity window of millisecond samples globally
// and per named stage. Averages come from a running sum; percentiles are
// computed on demand by sorting a copy of the window.
package latency

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Pipeline stage names recorded by the bridge.
const (
	StageDecode       = "decode"
	StageResampleUp   = "resample_up"
	StageTransform    = "transform"
	StageResampleDown = "resample_down"
	StageEncode       = "encode"
	StageSend         = "send"
	StageTotal        = "total"
)

// Status classifies the current p95 latency.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

const (
	defaultCapacity   = 100
	defaultWarningMs  = 300
	defaultCriticalMs = 400
)

// Stats is a summary of one sample window. All values are milliseconds.
type Stats struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg_ms"`
	Min   float64 `json:"min_ms"`
	Max   float64 `json:"max_ms"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
}

// Option configures a [Tracker].
type Option func(*Tracker)

// WithCapacity sets the number of samples kept per window.
func WithCapacity(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.capacity = n
		}
	}
}

// WithThresholds sets the p95 bounds for [StatusWarning] and [StatusCritical].
func WithThresholds(warningMs, criticalMs float64) Option {
	return func(t *Tracker) {
		t.warningMs = warningMs
		t.criticalMs = criticalMs
	}
}

// WithLogger sets the logger used for status transitions. Pass nil to
// silence them. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// Tracker records latency samples. It is safe for concurrent use: the drain
// loop writes while HTTP handlers read.
type Tracker struct {
	capacity   int
	warningMs  float64
	criticalMs float64
	log        *slog.Logger

	mu         sync.Mutex
	global     *window
	stages     map[string]*window
	lastStatus Status
}

// New returns a Tracker with a capacity of 100 samples and 300/400ms
// thresholds unless overridden.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		capacity:   defaultCapacity,
		warningMs:  defaultWarningMs,
		criticalMs: defaultCriticalMs,
		log:        slog.Default(),
		stages:     make(map[string]*window),
		lastStatus: StatusOK,
	}
	for _, o := range opts {
		o(t)
	}
	t.global = newWindow(t.capacity)
	return t
}

// Record adds a sample to the global window and to the window of stage.
// A change in [Tracker.Status] caused by the sample is logged.
func (t *Tracker) Record(ms float64, stage string) {
	t.mu.Lock()
	t.global.add(ms)
	w, ok := t.stages[stage]
	if !ok {
		w = newWindow(t.capacity)
		t.stages[stage] = w
	}
	w.add(ms)

	prev := t.lastStatus
	cur := t.classify(t.global.stats().P95)
	t.lastStatus = cur
	t.mu.Unlock()

	if cur != prev && t.log != nil {
		level := slog.LevelWarn
		if cur == StatusOK {
			level = slog.LevelInfo
		}
		t.log.Log(context.Background(), level, "latency status changed", "from", prev, "to", cur, "stage", stage, "sample_ms", ms)
	}
}

// Metrics summarises the global window.
func (t *Tracker) Metrics() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.global.stats()
}

// StageMetrics summarises the window of a single stage. It returns false if
// nothing was recorded for stage.
func (t *Tracker) StageMetrics(stage string) (Stats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.stages[stage]
	if !ok {
		return Stats{}, false
	}
	return w.stats(), true
}

// Stages returns a summary of every recorded stage.
func (t *Tracker) Stages() map[string]Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Stats, len(t.stages))
	for name, w := range t.stages {
		out[name] = w.stats()
	}
	return out
}

// Status classifies the global p95 against the configured thresholds.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.classify(t.global.stats().P95)
}

// SetThresholds replaces the warning and critical bounds. Used by config
// hot reload.
func (t *Tracker) SetThresholds(warningMs, criticalMs float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.warningMs = warningMs
	t.criticalMs = criticalMs
}

func (t *Tracker) classify(p95 float64) Status {
	switch {
	case p95 >= t.criticalMs:
		return StatusCritical
	case p95 >= t.warningMs:
		return StatusWarning
	default:
		return StatusOK
	}
}

// window is a fixed-capacity ring of samples with a running sum.
type window struct {
	samples []float64
	next    int
	full    bool
	sum     float64
}

func newWindow(capacity int) *window {
	return &window{samples: make([]float64, 0, capacity)}
}

func (w *window) add(v float64) {
	if !w.full {
		w.samples = append(w.samples, v)
		w.sum += v
		if len(w.samples) == cap(w.samples) {
			w.full = true
		}
		return
	}
	w.sum -= w.samples[w.next]
	w.samples[w.next] = v
	w.sum += v
	w.next = (w.next + 1) % len(w.samples)
}

func (w *window) stats() Stats {
	n := len(w.samples)
	if n == 0 {
		return Stats{}
	}
	sorted := slices.Clone(w.samples)
	slices.Sort(sorted)
	return Stats{
		Count: n,
		Avg:   w.sum / float64(n),
		Min:   sorted[0],
		Max:   sorted[n-1],
		P50:   percentile(sorted, 50),
		P95:   percentile(sorted, 95),
		P99:   percentile(sorted, 99),
	}
}

// percentile returns the nearest-rank percentile of sorted.
func percentile(sorted []float64, p int) float64 {
	idx := (len(sorted)*p+99)/100 - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
