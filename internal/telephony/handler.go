// Package telephony terminates the telephony media stream: a WebSocket
// carrying JSON envelopes with base64 μ-law audio in both directions.
//
// Outbound, the stream is the [bridge.Egress] of its call: every processed
// block is written as a media envelope followed by a mark, so playback
// progress can be followed through the echoed marks. Inbound caller audio
// is reordered by a jitter buffer and fed to an [ActivityMonitor]; it is
// not forwarded anywhere.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxbridge/internal/bridge"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/audio/buffer"
)

// Bridge is the part of the session bridge the handler needs.
type Bridge interface {
	AttachTelephony(callID, preset string, egress bridge.Egress) (*bridge.Session, error)
	Detach(callID string, side bridge.Side) error
}

// Config tunes a [Handler]. Zero values select defaults.
type Config struct {
	// SampleRate the peer must announce in its media format. Default: 8000.
	SampleRate int

	// JitterTargetDelay is how long inbound packets are held for
	// reordering. Default: 60ms.
	JitterTargetDelay time.Duration

	// JitterMaxDelay evicts packets held longer than this. Default: 200ms.
	JitterMaxDelay time.Duration

	// ActivityWindowMs and ActivityHopMs shape caller activity detection.
	// Defaults: 200ms and 100ms.
	ActivityWindowMs int
	ActivityHopMs    int

	// SilenceThreshold is the RMS level below which the caller is
	// considered quiet. Default: 500.
	SilenceThreshold float64

	// WriteTimeout bounds each outbound write. Default: 5s.
	WriteTimeout time.Duration

	// AcceptOptions are passed to websocket.Accept.
	AcceptOptions *websocket.AcceptOptions
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 8000
	}
	if c.JitterTargetDelay <= 0 {
		c.JitterTargetDelay = 60 * time.Millisecond
	}
	if c.JitterMaxDelay <= 0 {
		c.JitterMaxDelay = 200 * time.Millisecond
	}
	if c.ActivityWindowMs <= 0 {
		c.ActivityWindowMs = 200
	}
	if c.ActivityHopMs <= 0 {
		c.ActivityHopMs = 100
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 500
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// Handler serves the telephony media-stream WebSocket.
type Handler struct {
	bridge  Bridge
	codec   *audio.Codec
	cfg     Config
	metrics *observe.Metrics
}

// NewHandler creates a Handler attaching streams to b. A nil m records on
// [observe.DefaultMetrics].
func NewHandler(b Bridge, codec *audio.Codec, cfg Config, m *observe.Metrics) *Handler {
	cfg.applyDefaults()
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Handler{bridge: b, codec: codec, cfg: cfg, metrics: m}
}

// ServeHTTP upgrades the request and runs the stream until the peer stops
// it, the connection drops or the bridged session closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.cfg.AcceptOptions)
	if err != nil {
		slog.Warn("telephony: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	st := &stream{h: h, conn: conn}
	err = st.run(r.Context())
	switch {
	case err == nil:
		conn.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, errRejected):
		slog.Warn("telephony: stream rejected", "err", err)
	case websocket.CloseStatus(err) != -1, errors.Is(err, context.Canceled):
		slog.Debug("telephony: stream ended", "call_id", st.callID, "err", err)
	default:
		slog.Warn("telephony: stream failed", "call_id", st.callID, "err", err)
		conn.Close(websocket.StatusInternalError, "stream failed")
	}
}

var errRejected = errors.New("telephony: stream rejected")

// stream is the state of one media-stream connection. Everything except the
// egress is owned by the read loop.
type stream struct {
	h    *Handler
	conn *websocket.Conn

	callID   string
	started  bool
	egress   *egress
	jitter   *buffer.JitterBuffer
	activity *ActivityMonitor
}

func (s *stream) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.detach()

	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			slog.Debug("telephony: ignoring binary message")
			continue
		}
		msg, err := Parse(data)
		if err != nil {
			slog.Warn("telephony: dropping envelope", "call_id", s.callID, "err", err)
			continue
		}

		switch msg.Event {
		case EventConnected:
			slog.Debug("telephony: peer connected", "protocol", msg.Protocol, "version", msg.Version)
		case EventStart:
			if err := s.start(ctx, cancel, msg); err != nil {
				s.conn.Close(websocket.StatusPolicyViolation, truncateReason(err.Error()))
				return fmt.Errorf("%w: %w", errRejected, err)
			}
		case EventMedia:
			s.media(ctx, msg.Media)
		case EventMark:
			s.mark(msg.Mark)
		case EventStop:
			s.flushInbound(ctx)
			slog.Info("telephony: stream stopped by peer", "call_id", s.callID)
			return nil
		}
	}
}

func (s *stream) start(ctx context.Context, cancel context.CancelFunc, msg Message) error {
	if s.started {
		slog.Warn("telephony: duplicate start ignored", "call_id", s.callID)
		return nil
	}
	st := msg.Start
	if f := st.MediaFormat; f.Encoding != "" && (f.Encoding != EncodingMulaw || f.SampleRate != s.h.cfg.SampleRate) {
		return fmt.Errorf("telephony: unsupported media format %s/%d", f.Encoding, f.SampleRate)
	}
	callID := st.CallID()
	if callID == "" {
		return errors.New("telephony: start without call id")
	}

	jb, err := buffer.NewJitterBuffer(s.h.cfg.JitterTargetDelay, s.h.cfg.JitterMaxDelay)
	if err != nil {
		return err
	}
	cfg := s.h.cfg
	am, err := NewActivityMonitor(cfg.ActivityWindowMs, cfg.ActivityHopMs, 3*cfg.ActivityHopMs, cfg.SampleRate, cfg.SilenceThreshold)
	if err != nil {
		return err
	}

	eg := &egress{conn: s.conn, streamSid: msg.StreamSid, timeout: cfg.WriteTimeout}
	sess, err := s.h.bridge.AttachTelephony(callID, st.Preset(), eg)
	if err != nil {
		return err
	}
	s.callID, s.started = callID, true
	s.egress, s.jitter, s.activity = eg, jb, am

	// The stream has nothing left to do once the session is gone.
	go func() {
		select {
		case <-sess.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("telephony: stream started",
		"call_id", callID,
		"stream_sid", msg.StreamSid,
		"preset", st.Preset(),
	)
	return nil
}

func (s *stream) media(ctx context.Context, m *Media) {
	if !s.started {
		return
	}
	if m.Track != "" && m.Track != "inbound" {
		return
	}
	data, err := m.Audio()
	if err != nil {
		slog.Warn("telephony: bad media payload", "call_id", s.callID, "err", err)
		return
	}
	ts := time.Duration(m.Timestamp) * time.Millisecond
	if !s.jitter.Push(data, ts) {
		s.h.metrics.RecordDrop(ctx, "late_packet")
	}
	for {
		pkt, ok := s.jitter.Pop()
		if !ok {
			break
		}
		s.observe(ctx, pkt.Data)
	}
}

// flushInbound releases everything still held by the jitter buffer.
func (s *stream) flushInbound(ctx context.Context) {
	if !s.started {
		return
	}
	for _, pkt := range s.jitter.Drain() {
		s.observe(ctx, pkt.Data)
	}
}

func (s *stream) observe(ctx context.Context, mulaw []byte) {
	for _, t := range s.activity.Push(s.h.codec.Decode(mulaw)) {
		transition := "stop"
		if t.Speaking {
			transition = "start"
		}
		s.h.metrics.RecordCallerActivity(ctx, transition)
		slog.Debug("telephony: caller activity", "call_id", s.callID, "speaking", t.Speaking, "level", t.Level)
	}
}

func (s *stream) mark(m *Mark) {
	if !s.started {
		return
	}
	seq, err := strconv.ParseUint(m.Name, 10, 64)
	if err != nil {
		return
	}
	behind := s.egress.played(seq)
	slog.Debug("telephony: playback mark", "call_id", s.callID, "mark", seq, "blocks_behind", behind)
}

func (s *stream) detach() {
	if !s.started {
		return
	}
	stats := s.jitter.Stats()
	slog.Info("telephony: inbound stats",
		"call_id", s.callID,
		"released", stats.Released,
		"evicted", stats.Evicted,
		"late", stats.Late,
	)
	err := s.h.bridge.Detach(s.callID, bridge.SideTelephony)
	if err != nil && !errors.Is(err, bridge.ErrSessionNotFound) && !errors.Is(err, bridge.ErrSessionClosed) {
		slog.Warn("telephony: detach failed", "call_id", s.callID, "err", err)
	}
}

// egress writes processed blocks back to the peer.
type egress struct {
	conn      *websocket.Conn
	streamSid string
	timeout   time.Duration

	mu    sync.Mutex
	sent  uint64
	acked uint64
}

// Send writes mulaw as a media envelope followed by a mark naming the
// block's sequence number.
func (e *egress) Send(ctx context.Context, mulaw []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := wsjson.Write(ctx, e.conn, NewMediaMessage(e.streamSid, mulaw)); err != nil {
		return fmt.Errorf("telephony: write media: %w", err)
	}
	e.sent++
	if err := wsjson.Write(ctx, e.conn, NewMarkMessage(e.streamSid, strconv.FormatUint(e.sent, 10))); err != nil {
		return fmt.Errorf("telephony: write mark: %w", err)
	}
	return nil
}

// played records an echoed mark and returns how many sent blocks are still
// ahead of playback.
func (e *egress) played(seq uint64) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seq > e.acked {
		e.acked = seq
	}
	if e.sent < e.acked {
		return 0
	}
	return e.sent - e.acked
}

// truncateReason keeps a close reason within the 123 bytes a close frame
// allows.
func truncateReason(s string) string {
	if len(s) > 120 {
		return s[:120]
	}
	return s
}
