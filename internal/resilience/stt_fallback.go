package resilience

import (
	"context"

	"github.com/aulavoz/voicetutor/pkg/provider/stt"
	"github.com/aulavoz/voicetutor/pkg/types"
)

// STTFallback implements [stt.Provider] with failover across several STT
// backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Providers lists backend names in try order.
func (f *STTFallback) Providers() []string { return f.group.Names() }

// Breakers returns the backends' circuit breakers in try order.
func (f *STTFallback) Breakers() []*CircuitBreaker { return f.group.Breakers() }

// Transcribe sends req to the first healthy provider. The same container is
// replayed against each fallback, so a failed attempt costs only latency.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (types.Transcript, error) {
		return p.Transcribe(ctx, req)
	})
}
