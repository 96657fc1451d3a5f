// Package buffer provides the time-boxed accumulators that sit between a
// network transport and the codec pipeline: a fixed-target [Window], an
// overlapping [SlidingWindow] and a timestamp-ordered [JitterBuffer].
//
// None of the types in this package are safe for concurrent use. Each buffer
// belongs to exactly one stream and is driven by that stream's owner.
package buffer

import (
	"fmt"
	"time"
)

const (
	// minFloor is the smallest window the adaptive low-latency mode will shrink to.
	minFloor = 100 * time.Millisecond

	// minSlack is how far below the target the low-latency mode shrinks.
	minSlack = 50 * time.Millisecond

	// maxSlack is how long past the target pending data may wait before a
	// deadline flush.
	maxSlack = 100 * time.Millisecond
)

// Option configures buffers created by this package.
type Option func(*options)

type options struct {
	now            func() time.Time
	bytesPerSample int
}

func defaultOptions() options {
	return options{now: time.Now, bytesPerSample: 1}
}

// WithClock replaces the wall clock used for arrival and age bookkeeping.
// Tests use it to drive deadlines without sleeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithBytesPerSample sets the sample width used to convert durations into
// byte thresholds. The default of 1 matches μ-law; use 2 for PCM16.
func WithBytesPerSample(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bytesPerSample = n
		}
	}
}

// Window accumulates chunks until either a byte target or a latency deadline
// is reached, then hands the whole accumulation out in one [Window.Flush].
//
// The target trades latency against backend efficiency: larger blocks mean
// fewer transform calls but more buffered audio. Sparse input is bounded by
// the deadline, which fires maxMs after the first pending chunk arrived.
type Window struct {
	now func() time.Time

	bytesPerMs  float64
	target      time.Duration
	min         time.Duration
	max         time.Duration
	targetBytes int
	minBytes    int
	lowLatency  bool

	fragments [][]byte
	size      int
	first     time.Time
}

// NewWindow returns a Window targeting targetMs of audio at sampleRate.
func NewWindow(targetMs, sampleRate int, opts ...Option) (*Window, error) {
	if targetMs <= 0 {
		return nil, fmt.Errorf("buffer: target must be positive, got %dms", targetMs)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("buffer: sample rate must be positive, got %d", sampleRate)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	target := time.Duration(targetMs) * time.Millisecond
	w := &Window{
		now:         o.now,
		bytesPerMs:  float64(sampleRate*o.bytesPerSample) / 1000,
		target:      target,
		min:         max(minFloor, target-minSlack),
		max:         target + maxSlack,
		targetBytes: sampleRate * targetMs / 1000 * o.bytesPerSample,
	}
	w.minBytes = w.bytesFor(w.min)
	return w, nil
}

func (w *Window) bytesFor(d time.Duration) int {
	return int(w.bytesPerMs * float64(d.Milliseconds()))
}

// Push appends chunk to the pending accumulation. The window keeps a
// reference to chunk, so callers must not modify it afterwards. Empty chunks
// are ignored and do not start the deadline.
func (w *Window) Push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if w.size == 0 {
		w.first = w.now()
	}
	w.fragments = append(w.fragments, chunk)
	w.size += len(chunk)
}

// IsReady reports whether the pending data should be flushed: either the
// byte threshold is reached or the oldest pending chunk has waited maxMs.
func (w *Window) IsReady() bool {
	if w.size == 0 {
		return false
	}
	if w.size >= w.threshold() {
		return true
	}
	return w.now().Sub(w.first) >= w.max
}

func (w *Window) threshold() int {
	if w.lowLatency && w.minBytes < w.targetBytes {
		return w.minBytes
	}
	return w.targetBytes
}

// Flush returns every pending byte concatenated in arrival order and resets
// the window. It returns nil when nothing is pending.
func (w *Window) Flush() []byte {
	if w.size == 0 {
		return nil
	}
	out := make([]byte, 0, w.size)
	for _, f := range w.fragments {
		out = append(out, f...)
	}
	clear(w.fragments)
	w.fragments = w.fragments[:0]
	w.size = 0
	w.first = time.Time{}
	return out
}

// Pending returns the number of buffered bytes.
func (w *Window) Pending() int { return w.size }

// Deadline returns the instant at which pending data becomes ready by
// deadline, or the zero time when nothing is pending.
func (w *Window) Deadline() time.Time {
	if w.size == 0 {
		return time.Time{}
	}
	return w.first.Add(w.max)
}

// SetLowLatency switches the byte threshold between the target and the
// shrunken minimum. The bridge enables it while the pipeline is running
// behind its latency budget.
func (w *Window) SetLowLatency(on bool) { w.lowLatency = on }

// TargetBytes returns the byte threshold for the configured target.
func (w *Window) TargetBytes() int { return w.targetBytes }

// Bounds returns the target, minimum and maximum window durations.
func (w *Window) Bounds() (target, minDur, maxDur time.Duration) {
	return w.target, w.min, w.max
}
