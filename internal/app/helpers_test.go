package app

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/aulavoz/voicetutor/internal/config"
	"github.com/aulavoz/voicetutor/internal/observe"
	"github.com/aulavoz/voicetutor/pkg/audio"
	audiomock "github.com/aulavoz/voicetutor/pkg/audio/mock"
)

func newTestMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// testConfig returns a defaulted config with a short quiet interval and
// spooling off.
func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Room.RoomName = "clase"
	cfg.Pipeline.QuietInterval = 30 * time.Millisecond
	cfg.Pipeline.SpoolPath = config.Disabled
	cfg.Providers.STT.Name = "mock"
	config.ApplyDefaults(cfg)
	return cfg
}

func frame() audio.AudioFrame {
	return audio.AudioFrame{Samples: make([]int16, 960), SampleRate: 48000, Channels: 1}
}

// seqPlatform hands out its connections in order and fails while failures
// remain.
type seqPlatform struct {
	mu       sync.Mutex
	conns    []*audiomock.Connection
	failures int
	calls    int
}

func (p *seqPlatform) Connect(ctx context.Context, _ string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.failures > 0 {
		p.failures--
		return nil, errUnreachable
	}
	if len(p.conns) == 0 {
		return nil, errUnreachable
	}
	c := p.conns[0]
	p.conns = p.conns[1:]
	return c, nil
}

func (p *seqPlatform) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
