// Package mock provides a test double for the voice.Provider interface.
//
// Use Provider to control what a backend returns, how long it takes and
// whether it fails, and to verify which requests were issued.
//
// Example:
//
//	p := &mock.Provider{
//	    ConvertFunc: func(req voice.Request) ([]byte, error) { return req.Audio, nil },
//	    Delay:       20 * time.Millisecond,
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/pkg/provider/voice"
)

// ConvertCall records a single invocation of Convert.
type ConvertCall struct {
	// Ctx is the context passed to Convert.
	Ctx context.Context
	// Request is a copy of the request passed to Convert.
	Request voice.Request
}

// Provider is a mock implementation of voice.Provider and voice.Lister.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// ConvertFunc, if non-nil, computes the result of Convert. It takes
	// precedence over ConvertResult and ConvertErr.
	ConvertFunc func(req voice.Request) ([]byte, error)

	// ConvertResult is returned by Convert when ConvertFunc is nil. A nil
	// ConvertResult echoes the request audio.
	ConvertResult []byte

	// ConvertErr, if non-nil, is returned as the error from Convert.
	ConvertErr error

	// Delay is how long Convert waits before answering. The wait is aborted
	// when ctx is cancelled.
	Delay time.Duration

	// DelayFunc, if non-nil, overrides Delay per request.
	DelayFunc func(req voice.Request) time.Duration

	// Voices is returned by ListVoices.
	Voices []voice.Voice

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// ConvertCalls records every call to Convert in order.
	ConvertCalls []ConvertCall
}

// Convert records the call, waits for the configured delay and returns the
// configured result.
func (p *Provider) Convert(ctx context.Context, req voice.Request) ([]byte, error) {
	p.mu.Lock()
	rec := req
	rec.Audio = append([]byte(nil), req.Audio...)
	p.ConvertCalls = append(p.ConvertCalls, ConvertCall{Ctx: ctx, Request: rec})
	fn, result, err := p.ConvertFunc, p.ConvertResult, p.ConvertErr
	delay := p.Delay
	if p.DelayFunc != nil {
		delay = p.DelayFunc(req)
	}
	p.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if fn != nil {
		return fn(req)
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return append([]byte(nil), req.Audio...), nil
	}
	return append([]byte(nil), result...), nil
}

// ListVoices returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]voice.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Voices, p.ListVoicesErr
}

// CallCount returns the number of Convert calls made so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConvertCalls)
}

// Calls returns a copy of the recorded Convert calls.
func (p *Provider) Calls() []ConvertCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConvertCall, len(p.ConvertCalls))
	copy(out, p.ConvertCalls)
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConvertCalls = nil
}

var (
	_ voice.Provider = (*Provider)(nil)
	_ voice.Lister   = (*Provider)(nil)
)
