package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aulavoz/voicetutor/pkg/audio/wav"
	"github.com/aulavoz/voicetutor/pkg/provider/stt"
	sttmock "github.com/aulavoz/voicetutor/pkg/provider/stt/mock"
	"github.com/aulavoz/voicetutor/pkg/types"
)

// results collects dispatcher output.
type results struct {
	mu  sync.Mutex
	got []Result
}

func (r *results) add(_ context.Context, res Result) {
	r.mu.Lock()
	r.got = append(r.got, res)
	r.mu.Unlock()
}

func (r *results) snapshot() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.got...)
}

func job(seq uint64, samples ...int16) Job {
	return Job{Participant: "alice", Seq: seq, Audio: wav.Encode(samples, 16000)}
}

func startDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestDispatcher_DeliversInSequenceOrder(t *testing.T) {
	t.Parallel()
	m, _ := newTestMetrics(t)

	release := make(chan struct{})
	var (
		mu       sync.Mutex
		inFlight int
		overlap  bool
	)
	p := &sttmock.Provider{TranscribeFunc: func(ctx context.Context, req stt.Request) (types.Transcript, error) {
		mu.Lock()
		inFlight++
		if inFlight > 1 {
			overlap = true
		}
		mu.Unlock()
		defer func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		}()

		// The first utterance is the slow one.
		if req.Audio.SampleCount() == 3 {
			<-release
			return types.Transcript{Text: "primero"}, nil
		}
		return types.Transcript{Text: "segundo"}, nil
	}}

	var out results
	d := NewDispatcher(p, out.add, WithMetrics(m))
	startDispatcher(t, d)

	d.Enqueue(job(1, 1, 2, 3))
	d.Enqueue(job(2, 4))
	time.Sleep(20 * time.Millisecond)
	if n := len(out.snapshot()); n != 0 {
		t.Fatalf("got %d results before the first call finished, want 0", n)
	}
	close(release)

	eventually(t, "two results", func() bool { return len(out.snapshot()) == 2 })
	got := out.snapshot()
	if got[0].Seq != 1 || got[0].Transcript.Text != "primero" || got[1].Seq != 2 || got[1].Transcript.Text != "segundo" {
		t.Fatalf("results = %+v, want seq 1 then 2", got)
	}
	if overlap {
		t.Fatal("transcriptions overlapped; want a single worker")
	}
}

func TestDispatcher_QueueFullDropsNewest(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	d := NewDispatcher(&sttmock.Provider{}, nil, WithQueueSize(1), WithMetrics(m))

	if !d.Enqueue(job(1)) {
		t.Fatal("first Enqueue should succeed")
	}
	if d.Enqueue(job(2)) {
		t.Fatal("second Enqueue should fail on a full queue")
	}
	if d.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", d.Len())
	}
	if got := counter(t, reader, "voicetutor.utterances.dropped", "reason", "queue_full"); got != 1 {
		t.Fatalf("dropped{queue_full} = %d, want 1", got)
	}
}

func TestDispatcher_FailuresAreDroppedAndCounted(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		timeout time.Duration
		fn      func(ctx context.Context, req stt.Request) (types.Transcript, error)
		reason  string
	}{
		{
			name: "service error",
			fn: func(context.Context, stt.Request) (types.Transcript, error) {
				return types.Transcript{}, errors.New("503 service unavailable")
			},
			reason: "stt_error",
		},
		{
			name:    "timeout",
			timeout: 10 * time.Millisecond,
			fn: func(ctx context.Context, _ stt.Request) (types.Transcript, error) {
				<-ctx.Done()
				return types.Transcript{}, ctx.Err()
			},
			reason: "stt_timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, reader := newTestMetrics(t)
			p := &sttmock.Provider{TranscribeFunc: tt.fn}
			var out results
			d := NewDispatcher(p, out.add, WithSTTTimeout(tt.timeout), WithMetrics(m))
			startDispatcher(t, d)

			d.Enqueue(job(1, 1))
			eventually(t, "drop counted", func() bool {
				return counter(t, reader, "voicetutor.utterances.dropped", "reason", tt.reason) == 1
			})
			if n := len(out.snapshot()); n != 0 {
				t.Fatalf("got %d results, want none", n)
			}
		})
	}
}

func TestDispatcher_RequestFields(t *testing.T) {
	t.Parallel()
	m, _ := newTestMetrics(t)
	p := &sttmock.Provider{Result: types.Transcript{Text: "hola"}}
	var out results
	d := NewDispatcher(p, out.add, WithLanguage("es"), WithMetrics(m))
	startDispatcher(t, d)

	j := job(7, 1, 2, 3, 4)
	j.Path = "/tmp/spool.wav"
	d.Enqueue(j)
	eventually(t, "result", func() bool { return len(out.snapshot()) == 1 })

	req := p.Calls()[0].Req
	if req.Language != "es" || req.Path != "/tmp/spool.wav" || req.Audio.SampleCount() != 4 {
		t.Fatalf("request = language %q path %q samples %d", req.Language, req.Path, req.Audio.SampleCount())
	}
	res := out.snapshot()[0]
	if res.Seq != 7 || res.Participant != "alice" {
		t.Fatalf("result = %+v", res)
	}
	if res.Transcript.Duration != j.Audio.Duration() {
		t.Fatalf("Duration = %v, want container duration %v", res.Transcript.Duration, j.Audio.Duration())
	}
}

func TestDispatcher_ShutdownDiscardsQueue(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	p := &sttmock.Provider{}
	d := NewDispatcher(p, nil, WithMetrics(m))
	for seq := range uint64(3) {
		d.Enqueue(job(seq + 1))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	if d.Len() != 0 {
		t.Fatalf("Len() = %d after shutdown, want 0", d.Len())
	}
	if got := counter(t, reader, "voicetutor.utterances.dropped", "reason", "shutdown"); got != 3 {
		t.Fatalf("dropped{shutdown} = %d, want 3", got)
	}
	if n := len(p.Calls()); n != 0 {
		t.Fatalf("provider called %d times after cancellation", n)
	}
}
