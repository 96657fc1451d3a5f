package app

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/MrWong99/voxbridge/internal/capture"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/telephony"
)

// Handler returns the full HTTP surface wrapped in the observability
// middleware:
//
//	GET /telephony             carrier media stream (WebSocket)
//	GET /capture/{callID}      capture audio for a call (WebSocket)
//	GET /healthz, /readyz      probes
//	GET /metrics               Prometheus exposition
//	GET /sessions              all live sessions
//	GET /sessions/{callID}     one session with latency stats
//	GET /usage                 backend usage and cost estimate
//	GET /backends              breaker state per voice backend
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /telephony", telephony.NewHandler(a.bridge, a.codec, telephony.Config{
		SampleRate:        a.cfg.Telephony.SampleRate,
		JitterTargetDelay: a.cfg.Jitter.TargetDelay,
		JitterMaxDelay:    a.cfg.Jitter.MaxDelay,
		ActivityWindowMs:  a.cfg.Activity.WindowMs,
		ActivityHopMs:     a.cfg.Activity.HopMs,
		SilenceThreshold:  a.cfg.Activity.SilenceThreshold,
	}, a.metrics))
	mux.Handle("GET /capture/{callID}", capture.NewHandler(a.bridge, capture.Config{
		Default: a.cfg.Capture.Format(),
	}))

	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler(a.gatherer))

	mux.HandleFunc("GET /sessions", a.listSessions)
	mux.HandleFunc("GET /sessions/{callID}", a.getSession)
	mux.HandleFunc("GET /usage", a.usage)
	mux.HandleFunc("GET /backends", a.backends)

	return observe.Middleware(a.metrics)(mux)
}

func (a *App) listSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.bridge.Sessions())
}

func (a *App) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.bridge.Lookup(r.PathValue("callID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

func (a *App) usage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.gateway.Usage())
}

func (a *App) backends(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.voice.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write json response", "err", err)
	}
}
