package buffer

import (
	"container/heap"
	"fmt"
	"time"
)

// Packet is one timestamped payload held by a [JitterBuffer].
type Packet struct {
	// Data is the payload as received.
	Data []byte

	// Timestamp is the media time carried by the transport.
	Timestamp time.Duration

	// ReceivedAt is the local arrival time.
	ReceivedAt time.Time
}

// JitterStats counts what a [JitterBuffer] has done with its input.
type JitterStats struct {
	Buffered int
	Released uint64
	Evicted  uint64
	Late     uint64
}

// JitterBuffer is a delay line that reorders packets by media timestamp and
// holds each one for at least targetDelay before releasing it. Packets that
// sit longer than maxDelay are evicted, and packets older than the last
// released timestamp are dropped as late.
type JitterBuffer struct {
	now         func() time.Time
	targetDelay time.Duration
	maxDelay    time.Duration

	h            packetHeap
	seq          uint64
	lastReleased time.Duration
	released     bool
	stats        JitterStats
}

// NewJitterBuffer returns a JitterBuffer. maxDelay must not be shorter than
// targetDelay.
func NewJitterBuffer(targetDelay, maxDelay time.Duration, opts ...Option) (*JitterBuffer, error) {
	if targetDelay < 0 || maxDelay <= 0 {
		return nil, fmt.Errorf("buffer: invalid jitter delays target=%s max=%s", targetDelay, maxDelay)
	}
	if maxDelay < targetDelay {
		return nil, fmt.Errorf("buffer: max delay %s shorter than target delay %s", maxDelay, targetDelay)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &JitterBuffer{
		now:         o.now,
		targetDelay: targetDelay,
		maxDelay:    maxDelay,
	}, nil
}

// Push inserts a packet. It returns false when the packet was dropped
// because its timestamp is not newer than the last released one.
func (j *JitterBuffer) Push(data []byte, timestamp time.Duration) bool {
	if j.released && timestamp <= j.lastReleased {
		j.stats.Late++
		return false
	}
	now := j.now()
	j.evict(now)
	j.seq++
	heap.Push(&j.h, entry{
		pkt: Packet{Data: data, Timestamp: timestamp, ReceivedAt: now},
		seq: j.seq,
	})
	return true
}

// Pop releases the packet with the lowest timestamp once it has been held
// for at least the target delay.
func (j *JitterBuffer) Pop() (Packet, bool) {
	now := j.now()
	j.evict(now)
	if j.h.Len() == 0 {
		return Packet{}, false
	}
	if now.Sub(j.h[0].pkt.ReceivedAt) < j.targetDelay {
		return Packet{}, false
	}
	return j.release(), true
}

// Drain releases every buffered packet in timestamp order regardless of
// age. Used when the stream ends.
func (j *JitterBuffer) Drain() []Packet {
	out := make([]Packet, 0, j.h.Len())
	for j.h.Len() > 0 {
		out = append(out, j.release())
	}
	return out
}

func (j *JitterBuffer) release() Packet {
	e := heap.Pop(&j.h).(entry)
	j.lastReleased = e.pkt.Timestamp
	j.released = true
	j.stats.Released++
	return e.pkt
}

func (j *JitterBuffer) evict(now time.Time) {
	if j.h.Len() == 0 {
		return
	}
	if n := j.h.expired(now.Add(-j.maxDelay)); n > 0 {
		j.stats.Evicted += uint64(n)
		heap.Init(&j.h)
	}
}

// Len returns the number of buffered packets.
func (j *JitterBuffer) Len() int { return j.h.Len() }

// Stats returns a snapshot of the buffer counters.
func (j *JitterBuffer) Stats() JitterStats {
	s := j.stats
	s.Buffered = j.h.Len()
	return s
}
