// Package mock provides a test double for [stt.Provider].
//
// Example:
//
//	p := &mock.Provider{Result: types.Transcript{Text: "hola"}}
//	tr, _ := p.Transcribe(ctx, stt.Request{Audio: c})
//	_ = p.Calls()[0].Req.Audio
package mock

import (
	"context"
	"sync"

	"github.com/aulavoz/voicetutor/pkg/provider/stt"
	"github.com/aulavoz/voicetutor/pkg/types"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when TranscribeFunc is nil.
	Result types.Transcript

	// Err is returned by Transcribe when TranscribeFunc is nil.
	Err error

	// TranscribeFunc, if set, overrides Result and Err.
	TranscribeFunc func(ctx context.Context, req stt.Request) (types.Transcript, error)

	calls []TranscribeCall
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	p.mu.Lock()
	p.calls = append(p.calls, TranscribeCall{Req: req})
	fn, res, err := p.TranscribeFunc, p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return res, err
}

// Calls returns a copy of all recorded calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
