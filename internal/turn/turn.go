// Package turn accumulates streaming PCM frames into utterances and decides
// when an utterance is complete.
//
// A [Buffer] owns the pending utterance and a single-slot flush timer. The
// first frame appended to an empty, disarmed buffer arms the timer; when the
// quiet interval elapses the buffer is drained, the frames are merged into
// one contiguous sample slice in arrival order, and the result is handed to
// the flush callback as an [Utterance].
//
// Two timer modes exist:
//
//   - [ModeFirstFrame] (default): the boundary is "quiet interval since the
//     first frame of the batch". Frames arriving while the timer is armed do
//     not extend the window, so continuous speech is cut every interval.
//   - [ModeResetOnAppend]: every frame re-arms the timer, so the boundary is
//     "quiet interval since the last frame".
package turn

import (
	"fmt"
	"sync"
	"time"

	"github.com/aulavoz/voicetutor/pkg/audio"
)

// DefaultQuietInterval is the flush delay used when none is configured.
const DefaultQuietInterval = 3000 * time.Millisecond

// DefaultSampleRate is the sample rate stamped on utterances when frames do
// not carry one.
const DefaultSampleRate = 48000

// Mode selects how appends interact with an armed timer.
type Mode int

const (
	// ModeFirstFrame never resets an armed timer.
	ModeFirstFrame Mode = iota

	// ModeResetOnAppend re-arms the timer on every append.
	ModeResetOnAppend
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeFirstFrame:
		return "first_frame"
	case ModeResetOnAppend:
		return "reset_on_append"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps a configuration string to a Mode. The empty string selects
// [ModeFirstFrame].
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "first_frame":
		return ModeFirstFrame, nil
	case "reset_on_append":
		return ModeResetOnAppend, nil
	default:
		return 0, fmt.Errorf("turn: unknown timer mode %q (valid: first_frame, reset_on_append)", s)
	}
}

// Utterance is the merged audio of one flush cycle.
type Utterance struct {
	// Seq numbers flushes of one buffer starting at 1. It is the ordering key
	// carried through transcription and publishing.
	Seq uint64

	// Samples is the concatenation of all drained frames in arrival order.
	// It is empty but non-nil when the buffer was empty at drain time.
	Samples []int16

	// SampleRate of the samples in Hz.
	SampleRate int

	// Frames is the number of frames merged.
	Frames int

	// ArmedAt is when the timer that produced this flush was armed.
	ArmedAt time.Time

	// FlushedAt is when the timer fired.
	FlushedAt time.Time
}

// Duration returns the playback length of the merged samples.
func (u Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

// FlushFunc receives each completed utterance. It runs on the timer goroutine
// without the buffer lock held, so appends continue while it executes. Calls
// never overlap and arrive in Seq order. It should hand the utterance off
// quickly and must not call [Buffer.Close].
type FlushFunc func(Utterance)

// stopper is the part of *time.Timer the buffer needs.
type stopper interface {
	Stop() bool
}

// Option configures a [Buffer].
type Option func(*Buffer)

// WithQuietInterval sets the flush delay. Non-positive values are ignored.
func WithQuietInterval(d time.Duration) Option {
	return func(b *Buffer) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithMode selects the timer mode.
func WithMode(m Mode) Option {
	return func(b *Buffer) {
		b.mode = m
	}
}

// WithSampleRate sets the sample rate stamped on utterances whose frames do
// not declare one.
func WithSampleRate(rate int) Option {
	return func(b *Buffer) {
		if rate > 0 {
			b.sampleRate = rate
		}
	}
}

// Buffer is the per-session pending utterance plus its flush timer.
// All methods are safe for concurrent use.
type Buffer struct {
	mu sync.Mutex

	frames     []audio.AudioFrame
	timer      stopper
	armedAt    time.Time
	generation uint64
	seq        uint64
	closed     bool

	interval   time.Duration
	mode       Mode
	sampleRate int
	onFlush    FlushFunc

	afterFunc func(time.Duration, func()) stopper
	now       func() time.Time

	// inflight counts fires that got past the closed check.
	inflight sync.WaitGroup

	// turnMu guards delivered, the last Seq handed to onFlush.
	turnMu    sync.Mutex
	turnCond  *sync.Cond
	delivered uint64
}

// New returns an empty, disarmed buffer that calls onFlush on every boundary.
func New(onFlush FlushFunc, opts ...Option) *Buffer {
	b := &Buffer{
		interval:   DefaultQuietInterval,
		mode:       ModeFirstFrame,
		sampleRate: DefaultSampleRate,
		onFlush:    onFlush,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		now: time.Now,
	}
	b.turnCond = sync.NewCond(&b.turnMu)
	for _, o := range opts {
		o(b)
	}
	return b
}

// Append adds frame to the pending utterance and arms the timer if it is not
// armed. In [ModeResetOnAppend] an armed timer is replaced. Appends after
// [Buffer.Close] are ignored.
func (b *Buffer) Append(frame audio.AudioFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.frames = append(b.frames, frame)

	switch {
	case b.timer == nil:
		b.armLocked()
	case b.mode == ModeResetOnAppend:
		b.timer.Stop()
		b.armLocked()
	}
}

// Drain atomically removes and returns all buffered frames, leaving the buffer
// empty. The timer state is not touched.
func (b *Buffer) Drain() []audio.AudioFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drainLocked()
}

// Armed reports whether a flush is pending.
func (b *Buffer) Armed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timer != nil
}

// Pending returns the number of buffered samples.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, f := range b.frames {
		n += len(f.Samples)
	}
	return n
}

// SetQuietInterval changes the flush delay. An already armed timer keeps its
// original deadline; the new interval applies from the next arm.
func (b *Buffer) SetQuietInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	b.interval = d
	b.mu.Unlock()
}

// SetMode changes the timer mode for subsequent appends.
func (b *Buffer) SetMode(m Mode) {
	b.mu.Lock()
	b.mode = m
	b.mu.Unlock()
}

// Close stops the timer, discards pending frames and waits for a flush that
// had already started to return. No flush runs after Close returns. Close is
// idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		b.generation++
		b.frames = nil
	}
	b.mu.Unlock()
	b.inflight.Wait()
}

func (b *Buffer) armLocked() {
	b.generation++
	gen := b.generation
	b.armedAt = b.now()
	b.timer = b.afterFunc(b.interval, func() { b.fire(gen) })
}

func (b *Buffer) drainLocked() []audio.AudioFrame {
	frames := b.frames
	b.frames = nil
	return frames
}

// fire runs when the timer for generation gen elapses. A stale generation
// means the timer was replaced or the buffer closed after it had already
// started running; such fires are ignored.
func (b *Buffer) fire(gen uint64) {
	b.mu.Lock()
	if b.closed || gen != b.generation {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	b.inflight.Add(1)
	defer b.inflight.Done()
	frames := b.drainLocked()
	b.seq++
	u := Utterance{
		Seq:        b.seq,
		SampleRate: b.sampleRate,
		Frames:     len(frames),
		ArmedAt:    b.armedAt,
		FlushedAt:  b.now(),
	}
	onFlush := b.onFlush
	b.mu.Unlock()

	if len(frames) > 0 && frames[0].SampleRate > 0 {
		u.SampleRate = frames[0].SampleRate
	}
	u.Samples = Merge(frames)

	b.awaitTurn(u.Seq)
	defer b.finishTurn(u.Seq)
	if onFlush != nil {
		onFlush(u)
	}
}

// awaitTurn blocks until every utterance before seq has been delivered. Two
// fires can overlap when a flush outlasts the interval.
func (b *Buffer) awaitTurn(seq uint64) {
	b.turnMu.Lock()
	for b.delivered+1 != seq {
		b.turnCond.Wait()
	}
	b.turnMu.Unlock()
}

func (b *Buffer) finishTurn(seq uint64) {
	b.turnMu.Lock()
	b.delivered = seq
	b.turnMu.Unlock()
	b.turnCond.Broadcast()
}

// Merge concatenates the samples of frames in order into one newly allocated
// slice whose length is the sum of the frame lengths. It never returns nil.
func Merge(frames []audio.AudioFrame) []int16 {
	total := 0
	for _, f := range frames {
		total += len(f.Samples)
	}
	merged := make([]int16, total)
	offset := 0
	for _, f := range frames {
		offset += copy(merged[offset:], f.Samples)
	}
	return merged
}
