package buffer

import "fmt"

// SlidingWindow yields fixed-size windows over a growing byte stream,
// advancing by hop bytes each time. A hop shorter than the window produces
// overlapping windows, which smooths level measurements over chunk
// boundaries.
type SlidingWindow struct {
	windowBytes int
	hopBytes    int

	buf []byte
	off int
}

// NewSlidingWindow returns a SlidingWindow of windowMs advancing by hopMs.
func NewSlidingWindow(windowMs, hopMs, sampleRate, bytesPerSample int) (*SlidingWindow, error) {
	if windowMs <= 0 || hopMs <= 0 {
		return nil, fmt.Errorf("buffer: window and hop must be positive, got %dms/%dms", windowMs, hopMs)
	}
	if sampleRate <= 0 || bytesPerSample <= 0 {
		return nil, fmt.Errorf("buffer: invalid stream shape rate=%d width=%d", sampleRate, bytesPerSample)
	}
	samples := func(ms int) int { return max(1, sampleRate*ms/1000) }
	return &SlidingWindow{
		windowBytes: samples(windowMs) * bytesPerSample,
		hopBytes:    samples(hopMs) * bytesPerSample,
	}, nil
}

// Push appends data to the stream.
func (s *SlidingWindow) Push(data []byte) {
	if s.off > 0 && s.off >= len(s.buf)/2 {
		n := copy(s.buf, s.buf[s.off:])
		s.buf = s.buf[:n]
		s.off = 0
	}
	s.buf = append(s.buf, data...)
}

// Next returns the next full window and advances the cursor by the hop
// size. It returns false until at least one window of data is buffered.
// The returned slice is a copy and may be retained.
func (s *SlidingWindow) Next() ([]byte, bool) {
	if s.Buffered() < s.windowBytes {
		return nil, false
	}
	out := make([]byte, s.windowBytes)
	copy(out, s.buf[s.off:])
	s.off = min(s.off+s.hopBytes, len(s.buf))
	return out, true
}

// Buffered returns the number of bytes not yet passed by the cursor.
func (s *SlidingWindow) Buffered() int { return len(s.buf) - s.off }
