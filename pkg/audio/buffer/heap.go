package buffer

import "time"

// packetHeap implements [container/heap.Interface] as a min-heap ordered by
// media timestamp, with FIFO tie-breaking on seq.
type packetHeap []entry

type entry struct {
	pkt Packet
	seq uint64 // monotonic insertion order for tie-breaking
}

func (h packetHeap) Len() int { return len(h) }

func (h packetHeap) Less(i, j int) bool {
	if h[i].pkt.Timestamp != h[j].pkt.Timestamp {
		return h[i].pkt.Timestamp < h[j].pkt.Timestamp
	}
	return h[i].seq < h[j].seq
}

func (h packetHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *packetHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *packetHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}

// expired removes entries received before cutoff and reports how many were
// removed. The heap order is restored by the caller.
func (h *packetHeap) expired(cutoff time.Time) int {
	kept := (*h)[:0]
	removed := 0
	for _, e := range *h {
		if e.pkt.ReceivedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	clear((*h)[len(kept):])
	*h = kept
	return removed
}
