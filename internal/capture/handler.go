// Package capture serves the microphone side of a call: a WebSocket whose
// binary messages are raw audio chunks of arbitrary size.
//
// The stream format is fixed by the query string when the socket opens:
//
//	GET /capture/{callID}?encoding=pcm16&rate=16000&channels=1&preset=robot
//
// Only raw μ-law and 16-bit PCM are accepted; container formats such as
// WebM or Ogg are refused with 415 Unsupported Media Type.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxbridge/internal/bridge"
	"github.com/MrWong99/voxbridge/pkg/audio"
)

// Bridge is the part of the session bridge the handler needs.
type Bridge interface {
	AttachCapture(callID string, f audio.Format, preset string) (*bridge.Session, error)
	Ingest(callID string, chunk []byte) error
	Detach(callID string, side bridge.Side) error
}

// ErrUnsupportedEncoding is returned by [ParseFormat] for encodings other
// than raw μ-law and PCM16.
var ErrUnsupportedEncoding = errors.New("capture: unsupported encoding")

// Config tunes a [Handler].
type Config struct {
	// Default is used for query parameters the client leaves out.
	Default audio.Format

	// MaxMessageBytes limits a single chunk. Default: 64 KiB.
	MaxMessageBytes int64

	// AcceptOptions are passed to websocket.Accept.
	AcceptOptions *websocket.AcceptOptions
}

// Handler serves capture WebSockets. The call id is taken from the
// "callID" path value.
type Handler struct {
	bridge Bridge
	cfg    Config
}

// NewHandler creates a Handler feeding b.
func NewHandler(b Bridge, cfg Config) *Handler {
	if cfg.Default.Encoding == "" {
		cfg.Default.Encoding = audio.EncodingPCM16
	}
	if cfg.Default.SampleRate <= 0 {
		cfg.Default.SampleRate = 16000
	}
	if cfg.Default.Channels <= 0 {
		cfg.Default.Channels = 1
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 << 10
	}
	return &Handler{bridge: b, cfg: cfg}
}

// ParseFormat reads encoding, rate and channels from q, falling back to def.
func ParseFormat(q url.Values, def audio.Format) (audio.Format, error) {
	f := def
	if v := q.Get("encoding"); v != "" {
		f.Encoding = audio.Encoding(v)
	}
	if !f.Encoding.IsValid() {
		return audio.Format{}, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, f.Encoding)
	}
	for _, p := range []struct {
		key string
		dst *int
	}{{"rate", &f.SampleRate}, {"channels", &f.Channels}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return audio.Format{}, fmt.Errorf("capture: invalid %s %q", p.key, v)
		}
		*p.dst = n
	}
	if err := f.Validate(); err != nil {
		return audio.Format{}, err
	}
	return f, nil
}

// ServeHTTP validates the requested format, attaches the capture side of
// the call and forwards every binary message to the bridge until the client
// disconnects or the session ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("callID")
	if callID == "" {
		http.Error(w, "missing call id", http.StatusBadRequest)
		return
	}
	f, err := ParseFormat(r.URL.Query(), h.cfg.Default)
	switch {
	case errors.Is(err, ErrUnsupportedEncoding):
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess, err := h.bridge.AttachCapture(callID, f, r.URL.Query().Get("preset"))
	switch {
	case errors.Is(err, bridge.ErrEndpointAttached):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, bridge.ErrTooManySessions), errors.Is(err, bridge.ErrSessionClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	log := slog.With("call_id", callID, "session_id", sess.ID())

	conn, err := websocket.Accept(w, r, h.cfg.AcceptOptions)
	if err != nil {
		log.Warn("capture: websocket accept failed", "err", err)
		h.detach(log, callID)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.cfg.MaxMessageBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-sess.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info("capture: stream started", "format", f.String())
	var chunks, rejected int
	err = h.read(ctx, conn, callID, &chunks, &rejected)
	h.detach(log, callID)
	log.Info("capture: stream ended", "chunks", chunks, "rejected", rejected)

	switch {
	case err == nil, websocket.CloseStatus(err) != -1:
		conn.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, bridge.ErrSessionClosed), errors.Is(err, bridge.ErrSessionNotFound), ctx.Err() != nil:
		conn.Close(websocket.StatusGoingAway, "session ended")
	default:
		log.Warn("capture: stream failed", "err", err)
		conn.Close(websocket.StatusInternalError, "stream failed")
	}
}

func (h *Handler) read(ctx context.Context, conn *websocket.Conn, callID string, chunks, rejected *int) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageBinary {
			continue
		}
		*chunks++
		switch err := h.bridge.Ingest(callID, data); {
		case err == nil:
		case errors.Is(err, bridge.ErrQueueOverflow):
			*rejected++
		default:
			return err
		}
	}
}

func (h *Handler) detach(log *slog.Logger, callID string) {
	err := h.bridge.Detach(callID, bridge.SideCapture)
	if err != nil && !errors.Is(err, bridge.ErrSessionNotFound) && !errors.Is(err, bridge.ErrSessionClosed) {
		log.Warn("capture: detach failed", "err", err)
	}
}
