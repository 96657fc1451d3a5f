package telephony

import (
	"fmt"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/audio/buffer"
)

// Transition is a change in caller speech activity.
type Transition struct {
	Speaking bool
	// Level is the RMS of the window that caused the transition.
	Level float64
}

// ActivityMonitor detects when the caller starts and stops talking by
// comparing the RMS of overlapping windows of inbound audio against a
// silence threshold. Speech starts on the first loud window and stops
// after hangover consecutive quiet windows.
//
// An ActivityMonitor is not safe for concurrent use.
type ActivityMonitor struct {
	window    *buffer.SlidingWindow
	threshold float64
	hangover  int

	speaking bool
	quiet    int
}

// NewActivityMonitor returns a monitor over 16-bit PCM at sampleRate.
// hangoverMs is how long the caller must stay quiet before a stop is
// reported.
func NewActivityMonitor(windowMs, hopMs, hangoverMs, sampleRate int, threshold float64) (*ActivityMonitor, error) {
	w, err := buffer.NewSlidingWindow(windowMs, hopMs, sampleRate, 2)
	if err != nil {
		return nil, fmt.Errorf("telephony: activity window: %w", err)
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("telephony: silence threshold must be positive, got %g", threshold)
	}
	return &ActivityMonitor{
		window:    w,
		threshold: threshold,
		hangover:  max(1, hangoverMs/hopMs),
	}, nil
}

// Push feeds decoded PCM and returns the transitions it caused, in order.
func (a *ActivityMonitor) Push(pcm []byte) []Transition {
	a.window.Push(pcm)
	var out []Transition
	for {
		win, ok := a.window.Next()
		if !ok {
			return out
		}
		level, err := audio.RMS(win)
		if err != nil {
			continue
		}
		if level >= a.threshold {
			a.quiet = 0
			if !a.speaking {
				a.speaking = true
				out = append(out, Transition{Speaking: true, Level: level})
			}
			continue
		}
		if !a.speaking {
			continue
		}
		a.quiet++
		if a.quiet >= a.hangover {
			a.speaking = false
			a.quiet = 0
			out = append(out, Transition{Speaking: false, Level: level})
		}
	}
}

// Speaking reports the current state.
func (a *ActivityMonitor) Speaking() bool { return a.speaking }
