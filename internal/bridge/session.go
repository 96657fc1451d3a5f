package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/internal/latency"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/audio/buffer"
)

// State is the lifecycle position of a [Session].
type State int

const (
	StateAwaitingEndpoints State = iota
	StateActive
	StateDraining
	StateClosed
)

// String returns the name used in logs and the sessions API.
func (s State) String() string {
	switch s {
	case StateAwaitingEndpoints:
		return "awaiting_endpoints"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// block is one flushed window waiting in the session queue.
type block struct {
	seq    uint64
	data   []byte
	queued time.Time
}

// Session is the bridging state of one call.
//
// Chunks are only accepted while the session is active. Blocks are
// processed by a single drain goroutine that exists only while the queue is
// non-empty.
type Session struct {
	b       *Bridge
	callID  string
	id      string
	created time.Time
	cfg     Config
	tracker *latency.Tracker
	log     *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	state       State
	preset      string
	egress      Egress
	format      audio.Format
	hasCapture  bool
	window      *buffer.Window
	blockAlign  int
	carry       []byte
	flushTimer  *time.Timer
	attachTimer *time.Timer
	queue       []block
	draining    bool
	seq         uint64
	forwarded   uint64
	dropped     uint64
	streamOpen  bool
}

func newSession(b *Bridge, callID, id string, cfg Config) *Session {
	ctx, cancel := context.WithCancel(observe.WithCall(context.Background(), callID, id))
	log := observe.Logger(ctx)
	return &Session{
		b:       b,
		callID:  callID,
		id:      id,
		created: time.Now(),
		cfg:     cfg,
		tracker: latency.New(append(cfg.Latency[:len(cfg.Latency):len(cfg.Latency)], latency.WithLogger(log))...),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// CallID returns the call identifier the session is registered under.
func (s *Session) CallID() string { return s.callID }

// ID returns the unique id of this session instance.
func (s *Session) ID() string { return s.id }

// Latency returns the session's latency tracker.
func (s *Session) Latency() *latency.Tracker { return s.tracker }

// Done is closed once the session reached StateClosed.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// QueueDepth returns the number of blocks waiting to be processed.
func (s *Session) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Info is a point-in-time view of a session for the HTTP API.
type Info struct {
	CallID        string                   `json:"call_id"`
	SessionID     string                   `json:"session_id"`
	State         string                   `json:"state"`
	Preset        string                   `json:"preset,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	Telephony     bool                     `json:"telephony"`
	Capture       string                   `json:"capture,omitempty"`
	QueueDepth    int                      `json:"queue_depth"`
	Forwarded     uint64                   `json:"forwarded"`
	Dropped       uint64                   `json:"dropped"`
	LatencyStatus latency.Status           `json:"latency_status"`
	Latency       latency.Stats            `json:"latency"`
	Stages        map[string]latency.Stats `json:"stages,omitempty"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		CallID:     s.callID,
		SessionID:  s.id,
		State:      s.state.String(),
		Preset:     s.preset,
		CreatedAt:  s.created,
		Telephony:  s.egress != nil,
		QueueDepth: len(s.queue),
		Forwarded:  s.forwarded,
		Dropped:    s.dropped,
	}
	if s.hasCapture {
		info.Capture = s.format.String()
	}
	s.mu.Unlock()

	info.LatencyStatus = s.tracker.Status()
	info.Latency = s.tracker.Metrics()
	info.Stages = s.tracker.Stages()
	return info
}

// setPresetLocked keeps the first non-empty preset either side asked for.
func (s *Session) setPresetLocked(preset string) {
	switch {
	case preset == "":
	case s.preset == "":
		s.preset = preset
	case s.preset != preset:
		s.log.Warn("bridge: conflicting preset ignored", "preset", s.preset, "ignored", preset)
	}
}

func (s *Session) attachTelephony(preset string, egress Egress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state >= StateDraining {
		return ErrSessionClosed
	}
	if s.egress != nil {
		return fmt.Errorf("%w: %s", ErrEndpointAttached, SideTelephony)
	}
	s.egress = egress
	s.setPresetLocked(preset)
	s.log.Info("bridge: endpoint attached", "side", SideTelephony)
	s.activateLocked()
	return nil
}

func (s *Session) attachCapture(f audio.Format, preset string) error {
	bytesPerFrame := f.Encoding.BytesPerSample() * f.Channels
	w, err := buffer.NewWindow(s.cfg.TargetMs, f.SampleRate, buffer.WithBytesPerSample(bytesPerFrame))
	if err != nil {
		return fmt.Errorf("bridge: capture window: %w", err)
	}
	// Blocks hold a whole number of frames that both resampling steps map
	// to whole output samples, so no sample is lost between blocks.
	align := bytesPerFrame * alignFrames(f.SampleRate, s.cfg.TransformRate, s.cfg.TelephonyRate)
	target, minDur, maxDur := w.Bounds()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state >= StateDraining {
		return ErrSessionClosed
	}
	if s.hasCapture {
		return fmt.Errorf("%w: %s", ErrEndpointAttached, SideCapture)
	}
	s.hasCapture = true
	s.format = f
	s.window = w
	s.blockAlign = align
	s.setPresetLocked(preset)
	s.log.Info("bridge: endpoint attached", "side", SideCapture, "format", f.String(),
		"target", target, "min", minDur, "max", maxDur, "target_bytes", w.TargetBytes(), "align_bytes", align)
	s.activateLocked()
	return nil
}

func (s *Session) activateLocked() {
	if s.state != StateAwaitingEndpoints || s.egress == nil || !s.hasCapture {
		return
	}
	s.state = StateActive
	if s.attachTimer != nil {
		s.attachTimer.Stop()
		s.attachTimer = nil
	}
	s.b.gw.InitializeStream(s.callID, s.preset)
	s.streamOpen = true
	s.log.Info("bridge: session active", "preset", s.preset)
}

func (s *Session) startAttachTimer(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingEndpoints {
		return
	}
	s.attachTimer = time.AfterFunc(d, func() {
		if s.State() != StateAwaitingEndpoints {
			return
		}
		s.log.Warn("bridge: endpoints did not attach in time", "timeout", d)
		s.Abort()
	})
}

// Ingest accepts one capture chunk. The session keeps a reference to chunk.
// Chunks that arrive before the session is active are dropped and nil is
// returned; a draining or closed session returns ErrSessionClosed.
func (s *Session) Ingest(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateAwaitingEndpoints:
		s.dropped++
		s.b.metrics.RecordDrop(s.ctx, "not_active")
		return nil
	case StateDraining, StateClosed:
		return ErrSessionClosed
	}
	if len(chunk) == 0 {
		return nil
	}

	s.window.SetLowLatency(s.tracker.Status() != latency.StatusOK)
	s.window.Push(chunk)
	if s.window.IsReady() {
		return s.enqueueLocked(s.takeLocked())
	}
	s.armFlushLocked()
	return nil
}

// takeLocked flushes the window and trims the result to a multiple of
// blockAlign. The remainder is carried into the next block.
func (s *Session) takeLocked() []byte {
	data := s.window.Flush()
	if len(s.carry) > 0 {
		data = append(s.carry, data...)
		s.carry = nil
	}
	if rem := len(data) % s.blockAlign; rem != 0 {
		s.carry = append([]byte(nil), data[len(data)-rem:]...)
		data = data[:len(data)-rem]
	}
	return data
}

func (s *Session) armFlushLocked() {
	if s.flushTimer != nil || s.window.Pending() == 0 {
		return
	}
	d := max(time.Until(s.window.Deadline()), 0)
	s.flushTimer = time.AfterFunc(d, s.onDeadline)
}

// onDeadline flushes sparse input once the oldest pending chunk waited for
// the window's maximum.
func (s *Session) onDeadline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushTimer = nil
	if s.state != StateActive || s.window.Pending() == 0 {
		return
	}
	if !s.window.IsReady() {
		s.armFlushLocked()
		return
	}
	if err := s.enqueueLocked(s.takeLocked()); err != nil {
		s.log.Warn("bridge: deadline flush rejected", "err", err)
	}
}

func (s *Session) enqueueLocked(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if len(s.queue) >= s.cfg.MaxQueueDepth {
		s.dropped++
		s.b.metrics.RecordDrop(s.ctx, "queue_overflow")
		if s.cfg.Overflow == RejectNew {
			s.log.Warn("bridge: queue full, block rejected", "depth", len(s.queue))
			return ErrQueueOverflow
		}
		s.log.Warn("bridge: queue full, oldest block dropped", "depth", len(s.queue), "seq", s.queue[0].seq)
		s.queue[0] = block{}
		s.queue = s.queue[1:]
	}
	s.seq++
	s.queue = append(s.queue, block{seq: s.seq, data: data, queued: time.Now()})
	s.b.metrics.QueueDepth.Record(s.ctx, int64(len(s.queue)))
	if !s.draining {
		s.draining = true
		go s.drain()
	}
	return nil
}

// drain processes queued blocks in order until the queue is empty. Only one
// drain goroutine runs per session; enqueueLocked starts it on demand.
func (s *Session) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			finished := s.state == StateDraining
			s.mu.Unlock()
			if finished {
				s.close()
			}
			return
		}
		blk := s.queue[0]
		s.queue[0] = block{}
		s.queue = s.queue[1:]
		preset, format := s.preset, s.format
		s.mu.Unlock()

		s.process(blk, preset, format)
	}
}

// Detach reacts to one endpoint going away and moves the session to
// StateDraining. When the capture side leaves, the window remainder is
// flushed and everything queued is still forwarded. When the telephony
// side leaves there is nowhere to send audio, so the queue is discarded.
// The session closes once the queue is empty.
func (s *Session) Detach(side Side) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	switch side {
	case SideCapture:
		if !s.hasCapture {
			s.mu.Unlock()
			return fmt.Errorf("bridge: %s endpoint not attached", side)
		}
		if s.state == StateActive {
			if err := s.enqueueLocked(s.takeLocked()); err != nil {
				s.log.Warn("bridge: final flush rejected", "err", err)
			}
		}
	case SideTelephony:
		if s.egress == nil {
			s.mu.Unlock()
			return fmt.Errorf("bridge: %s endpoint not attached", side)
		}
		s.egress = nil
		s.discardLocked("no_egress")
	}
	idle := s.beginDrainLocked()
	s.mu.Unlock()

	s.log.Info("bridge: endpoint detached", "side", side)
	if idle {
		s.close()
	}
	return nil
}

// drainAll is Detach of the capture side without requiring it to be
// attached. Used by Shutdown.
func (s *Session) drainAll() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if s.state == StateActive {
		if err := s.enqueueLocked(s.takeLocked()); err != nil {
			s.log.Warn("bridge: final flush rejected", "err", err)
		}
	}
	idle := s.beginDrainLocked()
	s.mu.Unlock()
	if idle {
		s.close()
	}
}

// Abort cancels the session context, discards queued audio and closes the
// session as soon as the in-flight block (if any) returns.
func (s *Session) Abort() {
	s.cancel()
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.discardLocked("aborted")
	idle := s.beginDrainLocked()
	s.mu.Unlock()
	if idle {
		s.close()
	}
}

// beginDrainLocked enters StateDraining and reports whether the session is
// already idle and can close right away.
func (s *Session) beginDrainLocked() bool {
	s.stopTimersLocked()
	s.carry = nil
	if s.window != nil {
		s.window.Flush()
	}
	s.state = StateDraining
	return !s.draining && len(s.queue) == 0
}

func (s *Session) discardLocked(reason string) {
	for range s.queue {
		s.b.metrics.RecordDrop(s.ctx, reason)
	}
	s.dropped += uint64(len(s.queue))
	s.queue = nil
}

func (s *Session) stopTimersLocked() {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	if s.attachTimer != nil {
		s.attachTimer.Stop()
		s.attachTimer = nil
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.b.registry.Remove(s.callID, s)

		s.mu.Lock()
		s.state = StateClosed
		s.stopTimersLocked()
		streamOpen := s.streamOpen
		s.streamOpen = false
		forwarded, dropped := s.forwarded, s.dropped
		s.mu.Unlock()

		if streamOpen {
			s.b.gw.CloseStream(s.callID)
		}
		s.cancel()
		s.b.metrics.ActiveSessions.Add(context.Background(), -1)

		stats := s.tracker.Metrics()
		s.log.Info("bridge: session closed",
			"forwarded", forwarded,
			"dropped", dropped,
			"duration", time.Since(s.created),
			"latency_p95_ms", stats.P95,
			"latency_status", s.tracker.Status(),
		)
		close(s.done)
	})
}

// alignFrames returns the smallest frame count n for which resampling n
// frames from rate to via, then to out, yields whole samples at each step.
func alignFrames(rate, via, out int) int {
	if rate <= 0 || via <= 0 || out <= 0 {
		return 1
	}
	a := rate / gcd(rate, via)
	b := rate / gcd(rate, out)
	return a / gcd(a, b) * b
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
