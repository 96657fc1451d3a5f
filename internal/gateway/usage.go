package gateway

import (
	"log/slog"
	"sort"
	"time"
)

// StreamUsage is the accounting for one call.
type StreamUsage struct {
	CallID        string        `json:"call_id"`
	Preset        string        `json:"preset"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	AudioSeconds  float64       `json:"audio_seconds"`
	Calls         int64         `json:"calls"`
	Failures      int64         `json:"failures"`
	Skipped       int64         `json:"skipped"`
	EstimatedCost float64       `json:"estimated_cost"`
}

// Usage is a process-wide snapshot. The numbers are advisory; nothing is
// billed from them.
type Usage struct {
	ActiveStreams int           `json:"active_streams"`
	AudioSeconds  float64       `json:"audio_seconds"`
	Calls         int64         `json:"calls"`
	Failures      int64         `json:"failures"`
	Skipped       int64         `json:"skipped"`
	EstimatedCost float64       `json:"estimated_cost"`
	Streams       []StreamUsage `json:"streams,omitempty"`
}

type stream struct {
	usage StreamUsage
}

// InitializeStream opens usage accounting for callID. Opening a stream that
// is already open keeps the existing one.
func (g *Gateway) InitializeStream(callID, preset string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.streams[callID]; ok {
		return
	}
	g.streams[callID] = &stream{usage: StreamUsage{
		CallID:    callID,
		Preset:    preset,
		StartedAt: g.now(),
	}}
	slog.Debug("gateway: stream initialized", "call_id", callID, "preset", preset)
}

// CloseStream ends accounting for callID and returns its final usage. It
// reports false when no stream was open.
func (g *Gateway) CloseStream(callID string) (StreamUsage, bool) {
	g.mu.Lock()
	s, ok := g.streams[callID]
	if ok {
		delete(g.streams, callID)
	}
	g.mu.Unlock()
	if !ok {
		return StreamUsage{}, false
	}

	u := g.finish(s.usage)
	slog.Info("gateway: stream closed",
		"call_id", u.CallID,
		"preset", u.Preset,
		"duration", u.Duration,
		"audio_seconds", u.AudioSeconds,
		"calls", u.Calls,
		"failures", u.Failures,
		"skipped", u.Skipped,
		"estimated_cost", u.EstimatedCost,
	)
	return u, true
}

// Usage returns totals since startup plus the currently open streams,
// ordered by start time.
func (g *Gateway) Usage() Usage {
	g.mu.Lock()
	u := g.totals
	open := make([]StreamUsage, 0, len(g.streams))
	for _, s := range g.streams {
		open = append(open, s.usage)
	}
	g.mu.Unlock()

	u.ActiveStreams = len(open)
	u.EstimatedCost = g.cost(u.AudioSeconds)
	for i := range open {
		open[i] = g.finish(open[i])
	}
	sort.Slice(open, func(i, j int) bool { return open[i].StartedAt.Before(open[j].StartedAt) })
	u.Streams = open
	return u
}

func (g *Gateway) finish(u StreamUsage) StreamUsage {
	u.Duration = g.now().Sub(u.StartedAt)
	u.EstimatedCost = g.cost(u.AudioSeconds)
	return u
}

func (g *Gateway) cost(seconds float64) float64 {
	return seconds / 60 * g.cfg.CostPerMinute
}

// account applies per-stream and total updates under the gateway lock.
// Calls without an open stream only count toward the totals.
func (g *Gateway) account(callID string, perStream func(*StreamUsage), total func(*Usage)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	total(&g.totals)
	if s, ok := g.streams[callID]; ok {
		perStream(&s.usage)
	}
}
