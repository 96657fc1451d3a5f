package buffer_test

import (
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio/buffer"
)

func newJitter(t *testing.T, clk *fakeClock, target, maxDelay time.Duration) *buffer.JitterBuffer {
	t.Helper()
	j, err := buffer.NewJitterBuffer(target, maxDelay, buffer.WithClock(clk.Now))
	if err != nil {
		t.Fatalf("NewJitterBuffer: %v", err)
	}
	return j
}

func TestJitterBuffer_ReordersByTimestamp(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	j := newJitter(t, clk, 40*time.Millisecond, 200*time.Millisecond)

	for _, ts := range []int{40, 0, 20, 60} {
		j.Push([]byte{byte(ts)}, time.Duration(ts)*time.Millisecond)
	}
	if _, ok := j.Pop(); ok {
		t.Fatal("released before the target delay")
	}

	clk.Advance(40 * time.Millisecond)
	var got []time.Duration
	for {
		p, ok := j.Pop()
		if !ok {
			break
		}
		got = append(got, p.Timestamp)
	}
	want := []time.Duration{0, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond}
	if len(got) != len(want) {
		t.Fatalf("released %d packets, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("packet %d: ts %s, want %s", i, got[i], want[i])
		}
	}
}

func TestJitterBuffer_HoldsEachPacketForTargetDelay(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	j := newJitter(t, clk, 40*time.Millisecond, 200*time.Millisecond)

	j.Push([]byte{0}, 0)
	clk.Advance(30 * time.Millisecond)
	j.Push([]byte{1}, 20*time.Millisecond)
	clk.Advance(10 * time.Millisecond)

	if p, ok := j.Pop(); !ok || p.Timestamp != 0 {
		t.Fatalf("first packet not released at 40ms: %v %v", p, ok)
	}
	if _, ok := j.Pop(); ok {
		t.Fatal("second packet released after only 10ms")
	}
	clk.Advance(30 * time.Millisecond)
	if p, ok := j.Pop(); !ok || p.Timestamp != 20*time.Millisecond {
		t.Fatalf("second packet not released: %v %v", p, ok)
	}
}

func TestJitterBuffer_DropsLateArrivals(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	j := newJitter(t, clk, 0, 100*time.Millisecond)

	j.Push([]byte{1}, 100*time.Millisecond)
	if _, ok := j.Pop(); !ok {
		t.Fatal("zero target delay should release immediately")
	}
	if j.Push([]byte{0}, 80*time.Millisecond) {
		t.Error("late packet accepted")
	}
	if j.Push([]byte{2}, 100*time.Millisecond) {
		t.Error("duplicate timestamp accepted")
	}
	if !j.Push([]byte{3}, 120*time.Millisecond) {
		t.Error("in-order packet rejected")
	}
	if got := j.Stats().Late; got != 2 {
		t.Errorf("Late = %d, want 2", got)
	}
}

func TestJitterBuffer_EvictsStalePackets(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	j := newJitter(t, clk, 20*time.Millisecond, 100*time.Millisecond)

	j.Push([]byte{1}, 0)
	j.Push([]byte{2}, 20*time.Millisecond)
	clk.Advance(60 * time.Millisecond)
	j.Push([]byte{3}, 40*time.Millisecond)
	clk.Advance(41 * time.Millisecond)

	p, ok := j.Pop()
	if !ok || p.Timestamp != 40*time.Millisecond {
		t.Fatalf("Pop = %v %v, want the only fresh packet", p, ok)
	}
	st := j.Stats()
	if st.Evicted != 2 || st.Released != 1 || st.Buffered != 0 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestJitterBuffer_Drain(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	j := newJitter(t, clk, time.Second, 2*time.Second)

	j.Push([]byte{2}, 2)
	j.Push([]byte{1}, 1)
	got := j.Drain()
	if len(got) != 2 || got[0].Timestamp != 1 || got[1].Timestamp != 2 {
		t.Fatalf("Drain = %+v", got)
	}
	if j.Len() != 0 {
		t.Error("buffer not empty after Drain")
	}
}

func TestNewJitterBuffer_RejectsInvalid(t *testing.T) {
	t.Parallel()
	if _, err := buffer.NewJitterBuffer(100*time.Millisecond, 50*time.Millisecond); err == nil {
		t.Error("expected error when max < target")
	}
	if _, err := buffer.NewJitterBuffer(0, 0); err == nil {
		t.Error("expected error for zero max delay")
	}
}
