package buffer_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio/buffer"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newWindow(t *testing.T, targetMs int, clk *fakeClock, opts ...buffer.Option) *buffer.Window {
	t.Helper()
	w, err := buffer.NewWindow(targetMs, 8000, append([]buffer.Option{buffer.WithClock(clk.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}
	return w
}

func TestNewWindow_Thresholds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		targetMs  int
		opts      []buffer.Option
		wantBytes int
		wantMin   time.Duration
		wantMax   time.Duration
	}{
		{name: "200ms mulaw", targetMs: 200, wantBytes: 1600, wantMin: 150 * time.Millisecond, wantMax: 300 * time.Millisecond},
		{name: "100ms floors min", targetMs: 100, wantBytes: 800, wantMin: 100 * time.Millisecond, wantMax: 200 * time.Millisecond},
		{name: "200ms pcm16", targetMs: 200, opts: []buffer.Option{buffer.WithBytesPerSample(2)}, wantBytes: 3200, wantMin: 150 * time.Millisecond, wantMax: 300 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := newWindow(t, tt.targetMs, newFakeClock(), tt.opts...)
			if got := w.TargetBytes(); got != tt.wantBytes {
				t.Errorf("TargetBytes = %d, want %d", got, tt.wantBytes)
			}
			_, minDur, maxDur := w.Bounds()
			if minDur != tt.wantMin || maxDur != tt.wantMax {
				t.Errorf("Bounds = %s/%s, want %s/%s", minDur, maxDur, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestNewWindow_RejectsInvalid(t *testing.T) {
	t.Parallel()
	if _, err := buffer.NewWindow(0, 8000); err == nil {
		t.Error("expected error for zero target")
	}
	if _, err := buffer.NewWindow(200, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestWindow_ByteThresholdFlush(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	w := newWindow(t, 200, clk)

	// 1600 bytes in uneven chunks; the last push reaches the target exactly.
	chunks := [][]byte{
		bytes.Repeat([]byte{1}, 700),
		bytes.Repeat([]byte{2}, 500),
		bytes.Repeat([]byte{3}, 400),
	}
	for i, c := range chunks {
		if w.IsReady() {
			t.Fatalf("ready before chunk %d", i)
		}
		w.Push(c)
	}
	if !w.IsReady() {
		t.Fatal("IsReady = false after reaching target bytes")
	}
	got := w.Flush()
	want := bytes.Join(chunks, nil)
	if !bytes.Equal(got, want) {
		t.Fatal("flush did not return chunks concatenated in arrival order")
	}
	if w.Pending() != 0 || w.IsReady() || w.Flush() != nil {
		t.Error("window not reset after flush")
	}
}

func TestWindow_DeadlineFlush(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	w := newWindow(t, 200, clk)

	w.Push([]byte{1, 2, 3})
	clk.Advance(50 * time.Millisecond)
	w.Push([]byte{4, 5})

	if w.IsReady() {
		t.Fatal("ready before the deadline")
	}
	if want := clk.Now().Add(250 * time.Millisecond); !w.Deadline().Equal(want) {
		t.Errorf("Deadline = %v, want %v", w.Deadline(), want)
	}

	clk.Advance(249 * time.Millisecond)
	if w.IsReady() {
		t.Fatal("ready 1ms before maxMs")
	}
	clk.Advance(time.Millisecond)
	if !w.IsReady() {
		t.Fatal("not ready at maxMs")
	}
	if got := w.Flush(); !bytes.Equal(got, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("Flush = %v", got)
	}
	if !w.Deadline().IsZero() {
		t.Error("Deadline not zero after flush")
	}
}

func TestWindow_EmptyNeverReady(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	w := newWindow(t, 200, clk)
	w.Push(nil)
	clk.Advance(time.Hour)
	if w.IsReady() {
		t.Error("empty window reported ready")
	}
	if w.Flush() != nil {
		t.Error("Flush of empty window returned data")
	}
}

func TestWindow_DeadlineRestartsAfterFlush(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	w := newWindow(t, 200, clk)

	w.Push([]byte{1})
	clk.Advance(time.Second)
	w.Flush()

	w.Push([]byte{2})
	if w.IsReady() {
		t.Error("second accumulation inherited the first arrival time")
	}
}

func TestWindow_LowLatencyLowersThreshold(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	w := newWindow(t, 200, clk)

	w.Push(make([]byte, 1200)) // 150ms at 8kHz mulaw
	if w.IsReady() {
		t.Fatal("ready below target")
	}
	w.SetLowLatency(true)
	if !w.IsReady() {
		t.Fatal("not ready at the low-latency threshold")
	}
	w.SetLowLatency(false)
	if w.IsReady() {
		t.Fatal("still ready after leaving low-latency mode")
	}
}
