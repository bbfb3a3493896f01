// Package mock provides in-memory [audio.Platform] and [audio.Connection]
// doubles for tests. Both are safe for concurrent use.
//
//	conn := mock.NewConnection()
//	in := conn.AddParticipant("alice")
//	in <- audio.AudioFrame{Samples: []int16{1, 2}, SampleRate: 48000, Channels: 1}
//	conn.Emit(audio.Event{Type: audio.EventJoin, UserID: "alice"})
package mock

import (
	"context"
	"sync"

	"github.com/aulavoz/voicetutor/pkg/audio"
)

var (
	_ audio.Connection = (*Connection)(nil)
	_ audio.Platform   = (*Platform)(nil)
)

// Published is one recorded PublishData call.
type Published struct {
	Topic   string
	Payload []byte
}

// Connection is a scripted [audio.Connection].
type Connection struct {
	mu       sync.Mutex
	inputs   map[string]chan audio.AudioFrame
	output   chan audio.AudioFrame
	callback func(audio.Event)
	sent     []Published
	closed   bool

	// PublishErr is returned by PublishData instead of recording the payload.
	// Set it to audio.ErrNoLocalParticipant to simulate a torn down room.
	PublishErr error

	// DisconnectErr is returned by Disconnect.
	DisconnectErr error

	// Notify receives every successful PublishData call when
	// non-nil. Create it with a buffer large enough for the test.
	Notify chan Published
}

// NewConnection returns a Connection with a 64-frame output buffer.
func NewConnection() *Connection {
	return &Connection{
		inputs: make(map[string]chan audio.AudioFrame),
		output: make(chan audio.AudioFrame, 64),
	}
}

// AddParticipant registers an input stream for id and returns its send side.
func (c *Connection) AddParticipant(id string) chan<- audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inputs == nil {
		c.inputs = make(map[string]chan audio.AudioFrame)
	}
	ch := make(chan audio.AudioFrame, 64)
	c.inputs[id] = ch
	return ch
}

// RemoveParticipant closes and forgets id's input stream.
func (c *Connection) RemoveParticipant(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.inputs[id]; ok {
		close(ch)
		delete(c.inputs, id)
	}
}

// Emit delivers ev to the registered participant callback, if any.
func (c *Connection) Emit(ev audio.Event) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// InputStreams implements [audio.Connection].
func (c *Connection) InputStreams() map[string]<-chan audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]<-chan audio.AudioFrame, len(c.inputs))
	for id, ch := range c.inputs {
		out[id] = ch
	}
	return out
}

// OutputStream implements [audio.Connection].
func (c *Connection) OutputStream() chan<- audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.output == nil {
		c.output = make(chan audio.AudioFrame, 64)
	}
	return c.output
}

// Output exposes the receive side of the output stream.
func (c *Connection) Output() <-chan audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.output == nil {
		c.output = make(chan audio.AudioFrame, 64)
	}
	return c.output
}

// OnParticipantChange implements [audio.Connection].
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
}

// PublishData implements [audio.Connection].
func (c *Connection) PublishData(ctx context.Context, payload []byte, topic string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.PublishErr != nil {
		err := c.PublishErr
		c.mu.Unlock()
		return err
	}
	p := Published{Topic: topic, Payload: append([]byte(nil), payload...)}
	c.sent = append(c.sent, p)
	notify := c.Notify
	c.mu.Unlock()

	if notify != nil {
		notify <- p
	}
	return nil
}

// SetPublishErr changes PublishErr while calls may be in flight.
func (c *Connection) SetPublishErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PublishErr = err
}

// Sent returns a copy of every successful PublishData call.
func (c *Connection) Sent() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.sent...)
}

// Disconnect implements [audio.Connection]. It closes all input streams.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		for id, ch := range c.inputs {
			close(ch)
			delete(c.inputs, id)
		}
	}
	return c.DisconnectErr
}

// Closed reports whether Disconnect was called.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Platform is a scripted [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// Conn is returned by Connect. A fresh Connection is created when nil.
	Conn *Connection

	// ConnectErr is returned by Connect instead of Conn.
	ConnectErr error

	rooms []string
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(_ context.Context, roomID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rooms = append(p.rooms, roomID)
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Conn == nil {
		p.Conn = NewConnection()
	}
	return p.Conn, nil
}

// Rooms returns the room IDs passed to Connect.
func (p *Platform) Rooms() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.rooms...)
}
