package livekit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/aulavoz/voicetutor/pkg/audio"
)

var _ audio.Connection = (*Connection)(nil)

const (
	inputChannelBuffer  = 128
	outputChannelBuffer = 256
	frameDuration       = 20 * time.Millisecond
)

// room is the slice of *lksdk.Room the connection needs.
type room interface {
	publish(payload []byte, topic string) error
	disconnect()
}

// sampleWriter is satisfied by *lksdk.LocalSampleTrack.
type sampleWriter interface {
	WriteSample(s media.Sample, opts *lksdk.SampleWriteOptions) error
}

// Connection adapts a joined LiveKit room to [audio.Connection]. Remote
// microphone tracks become per-identity PCM input streams and frames written
// to OutputStream are played on the bot's own published track.
type Connection struct {
	identity string

	roomMu sync.RWMutex
	room   room

	inputsMu sync.Mutex
	inputs   map[string]*input

	output chan audio.AudioFrame

	changeMu sync.Mutex
	changeCb func(audio.Event)

	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(identity string) *Connection {
	return &Connection{
		identity: identity,
		inputs:   make(map[string]*input),
		output:   make(chan audio.AudioFrame, outputChannelBuffer),
		done:     make(chan struct{}),
	}
}

// attach binds the joined room and starts playback when track is non-nil.
func (c *Connection) attach(r room, track sampleWriter) {
	c.roomMu.Lock()
	c.room = r
	c.roomMu.Unlock()
	if track != nil {
		go c.sendLoop(track)
	}
}

// InputStreams implements [audio.Connection].
func (c *Connection) InputStreams() map[string]<-chan audio.AudioFrame {
	c.inputsMu.Lock()
	defer c.inputsMu.Unlock()
	snap := make(map[string]<-chan audio.AudioFrame, len(c.inputs))
	for id, in := range c.inputs {
		snap[id] = in.ch
	}
	return snap
}

// OutputStream implements [audio.Connection].
func (c *Connection) OutputStream() chan<- audio.AudioFrame { return c.output }

// OnParticipantChange implements [audio.Connection].
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()
	c.changeCb = cb
}

func (c *Connection) emit(ev audio.Event) {
	c.changeMu.Lock()
	cb := c.changeCb
	c.changeMu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// PublishData implements [audio.Connection].
func (c *Connection) PublishData(ctx context.Context, payload []byte, topic string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.roomMu.RLock()
	r := c.room
	c.roomMu.RUnlock()
	if r == nil {
		return audio.ErrNoLocalParticipant
	}
	return r.publish(payload, topic)
}

// Disconnect implements [audio.Connection].
func (c *Connection) Disconnect() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.roomMu.Lock()
		r := c.room
		c.room = nil
		c.roomMu.Unlock()
		if r != nil {
			r.disconnect()
		}

		c.inputsMu.Lock()
		for id, in := range c.inputs {
			in.close()
			delete(c.inputs, id)
		}
		c.inputsMu.Unlock()
	})
	return nil
}

// lost handles a server-side disconnect: the room handle is dropped so
// publishes report [audio.ErrNoLocalParticipant], every input stream is
// closed with a leave event, and EventDisconnected is emitted. Nothing
// happens after Disconnect.
func (c *Connection) lost() {
	select {
	case <-c.done:
		return
	default:
	}
	c.roomMu.Lock()
	c.room = nil
	c.roomMu.Unlock()

	c.inputsMu.Lock()
	ids := make([]string, 0, len(c.inputs))
	for id := range c.inputs {
		ids = append(ids, id)
	}
	c.inputsMu.Unlock()
	for _, id := range ids {
		c.closeInput(id, nil)
	}
	c.emit(audio.Event{Type: audio.EventDisconnected})
}

// input is one participant's frame stream. The track reader sends while room
// callbacks may close it concurrently, so both go through mu.
type input struct {
	ch     chan audio.AudioFrame
	mu     sync.Mutex
	closed bool
}

func newInput() *input {
	return &input{ch: make(chan audio.AudioFrame, inputChannelBuffer)}
}

// send offers f without blocking. open is false once the stream is closed;
// sent is false when the frame was dropped.
func (in *input) send(f audio.AudioFrame) (open, sent bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return false, false
	}
	select {
	case in.ch <- f:
		return true, true
	default:
		return true, false
	}
}

func (in *input) close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.closed {
		in.closed = true
		close(in.ch)
	}
}

// openInput registers an input stream for identity. It returns false when
// the identity already has one or the connection is closed.
func (c *Connection) openInput(identity string) (*input, bool) {
	c.inputsMu.Lock()
	defer c.inputsMu.Unlock()
	select {
	case <-c.done:
		return nil, false
	default:
	}
	if _, ok := c.inputs[identity]; ok {
		return nil, false
	}
	in := newInput()
	c.inputs[identity] = in
	return in, true
}

// closeInput closes identity's stream and emits a leave event if it was open.
// When only is non-nil the stream is closed only if it is still that one, so
// a finished reader never closes a newer stream under the same identity.
func (c *Connection) closeInput(identity string, only *input) {
	c.inputsMu.Lock()
	in, ok := c.inputs[identity]
	if ok && only != nil && in != only {
		ok = false
	}
	if ok {
		in.close()
		delete(c.inputs, identity)
	}
	c.inputsMu.Unlock()
	if ok {
		c.emit(audio.Event{Type: audio.EventLeave, UserID: identity})
	}
}

// participant describes the remote side of a subscribed track.
type participant struct {
	identity string
	name     string
	metadata string
}

// readTrack pumps one remote track until it ends. read is typically
// TrackRemote.ReadRTP with the attributes dropped.
func (c *Connection) readTrack(p participant, read func() (*rtp.Packet, error)) {
	log := slog.With("participant", p.identity)

	in, ok := c.openInput(p.identity)
	if !ok {
		log.Debug("livekit: participant already has an input stream")
		return
	}
	defer c.closeInput(p.identity, in)

	dec, err := newOpusDecoder()
	if err != nil {
		log.Error("livekit: cannot decode track", "err", err)
		return
	}

	c.emit(audio.Event{Type: audio.EventJoin, UserID: p.identity, Username: p.name, Metadata: p.metadata})

	var (
		firstTS uint32
		started bool
		dropped int
	)
	for {
		pkt, err := read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn("livekit: track read failed", "err", err)
			}
			return
		}
		select {
		case <-c.done:
			return
		default:
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		samples, err := dec.decode(pkt.Payload)
		if err != nil {
			log.Debug("livekit: skip undecodable packet", "seq", pkt.SequenceNumber, "err", err)
			continue
		}
		if !started {
			firstTS, started = pkt.Timestamp, true
		}

		frame := audio.AudioFrame{
			Samples:    samples,
			SampleRate: opusSampleRate,
			Channels:   1,
			Timestamp:  rtpOffset(firstTS, pkt.Timestamp),
		}
		open, sent := in.send(frame)
		if !open {
			// Participant left or the room was lost while we were reading.
			return
		}
		if !sent {
			dropped++
			if dropped%100 == 1 {
				log.Warn("livekit: input stream full, dropping frames", "dropped", dropped)
			}
		}
	}
}

// rtpOffset converts an RTP timestamp into the time since the first packet,
// allowing for one 32-bit wraparound.
func rtpOffset(first, ts uint32) time.Duration {
	return time.Duration(ts-first) * time.Second / opusSampleRate
}

// sendLoop paces output frames onto track in 20 ms Opus samples.
func (c *Connection) sendLoop(track sampleWriter) {
	enc, err := newOpusEncoder()
	if err != nil {
		slog.Error("livekit: output disabled", "err", err)
		return
	}
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: opusSampleRate, Channels: 1}}
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	var pending []int16
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.output:
			pending = append(pending, conv.Convert(frame).Samples...)
		case <-ticker.C:
			if len(pending) < opusFrameSize {
				continue
			}
			pkt, err := enc.encode(pending[:opusFrameSize])
			pending = pending[opusFrameSize:]
			if err != nil {
				slog.Warn("livekit: drop output frame", "err", err)
				continue
			}
			if err := track.WriteSample(media.Sample{Data: pkt, Duration: frameDuration}, nil); err != nil {
				slog.Warn("livekit: write sample", "err", err)
			}
		}
	}
}
