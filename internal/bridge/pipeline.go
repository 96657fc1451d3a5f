package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxbridge/internal/gateway"
	"github.com/MrWong99/voxbridge/internal/latency"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/audio"
)

var errNoEgress = errors.New("bridge: telephony endpoint detached")

// process runs one block through decode, resample, transform, resample,
// encode and send. Any failure drops the block; the session keeps going.
func (s *Session) process(blk block, preset string, f audio.Format) {
	ctx, span := observe.StartSpan(s.ctx, "bridge.block", trace.WithAttributes(
		attribute.Int64("seq", int64(blk.seq)),
		attribute.Int("bytes", len(blk.data)),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.drop(ctx, span, blk, "panic", fmt.Errorf("panic: %v", r))
		}
	}()

	start := time.Now()
	last := start
	mark := func(stage string) {
		now := time.Now()
		s.observeStage(ctx, stage, now.Sub(last))
		last = now
	}

	pcm, err := s.b.codec.ToPCM16(audio.AudioFrame{
		Data:       blk.data,
		Encoding:   f.Encoding,
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
	})
	if err != nil {
		s.drop(ctx, span, blk, "codec_error", err)
		return
	}
	mark(latency.StageDecode)

	up, err := audio.Resample(pcm, f.SampleRate, s.cfg.TransformRate)
	if err != nil {
		s.drop(ctx, span, blk, "codec_error", err)
		return
	}
	mark(latency.StageResampleUp)

	out := s.b.gw.Transform(ctx, up, preset, gateway.Options{
		SampleRate: s.cfg.TransformRate,
		CallID:     s.callID,
	})
	if err := s.ctx.Err(); err != nil {
		s.drop(ctx, span, blk, "aborted", err)
		return
	}
	mark(latency.StageTransform)

	down, err := audio.Resample(out, s.cfg.TransformRate, s.cfg.TelephonyRate)
	if err != nil {
		s.drop(ctx, span, blk, "codec_error", err)
		return
	}
	mark(latency.StageResampleDown)

	mulaw, err := s.b.codec.Encode(down)
	if err != nil {
		s.drop(ctx, span, blk, "codec_error", err)
		return
	}
	mark(latency.StageEncode)

	s.mu.Lock()
	egress := s.egress
	s.mu.Unlock()
	if egress == nil {
		s.drop(ctx, span, blk, "no_egress", errNoEgress)
		return
	}
	if err := egress.Send(ctx, mulaw); err != nil {
		s.drop(ctx, span, blk, "send_error", err)
		return
	}
	mark(latency.StageSend)
	s.observeStage(ctx, latency.StageTotal, time.Since(start))

	s.mu.Lock()
	s.forwarded++
	s.mu.Unlock()
	s.b.metrics.ChunksForwarded.Add(ctx, 1)
}

func (s *Session) observeStage(ctx context.Context, stage string, d time.Duration) {
	s.tracker.Record(float64(d.Microseconds())/1000, stage)
	s.b.metrics.RecordStage(ctx, stage, d)
}

func (s *Session) drop(ctx context.Context, span trace.Span, blk block, reason string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)

	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
	s.b.metrics.RecordDrop(ctx, reason)

	if reason == "aborted" {
		s.log.Debug("bridge: block discarded", "seq", blk.seq, "reason", reason)
		return
	}
	s.log.Warn("bridge: block dropped", "seq", blk.seq, "reason", reason, "err", err)
}
