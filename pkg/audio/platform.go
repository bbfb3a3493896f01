// Package audio defines the interfaces and types for room connectivity and
// PCM stream handling.
//
// The two primary abstractions are:
//
//   - [Platform] joins a room and returns a [Connection].
//   - [Connection] is an active session in that room. It exposes one input
//     stream per remote participant, a single output stream for the bot's
//     voice, a reliable data channel, and participant lifecycle events.
//
// Implementations live in transport-specific packages such as audio/livekit.
package audio

import (
	"context"
	"errors"
)

// ErrNoLocalParticipant is returned by [Connection.PublishData] when the
// connection has no local participant handle to publish through (not yet
// joined, or already torn down).
var ErrNoLocalParticipant = errors.New("audio: local participant unavailable")

// EventType classifies participant lifecycle events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant's audio becomes available.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the room.
	EventLeave

	// EventDisconnected is emitted once when the connection to the room is
	// lost without Disconnect being called. UserID is empty. All input
	// streams have been closed by then.
	EventDisconnected
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	case EventDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant lifecycle change.
type Event struct {
	Type EventType

	// UserID is the participant identity.
	UserID string

	// Username is the display name.
	Username string

	// Metadata is the participant's raw metadata string as set by the room
	// token. The tutor reads a document ID from it.
	Metadata string
}

// Connection represents an active session in a room.
//
// All methods must be safe for concurrent use.
type Connection interface {
	// InputStreams returns a snapshot of the per-participant audio channels,
	// keyed by participant identity. A channel is closed when its participant
	// leaves or the connection is torn down. Call InputStreams again after an
	// [EventJoin] to pick up new channels.
	InputStreams() map[string]<-chan AudioFrame

	// OutputStream returns the write-only channel for the bot's voice. Frames
	// must be 48 kHz mono. The platform never closes this channel; writes after
	// Disconnect are dropped.
	OutputStream() chan<- AudioFrame

	// OnParticipantChange registers cb for join/leave events, replacing any
	// previous registration. cb runs on an internal goroutine and must not block.
	OnParticipantChange(cb func(Event))

	// PublishData sends payload over the room's reliable data channel to all
	// participants, tagged with topic. It returns [ErrNoLocalParticipant] when
	// there is no local participant handle.
	PublishData(ctx context.Context, payload []byte, topic string) error

	// Disconnect leaves the room and closes all input channels. Calling it more
	// than once is a no-op.
	Disconnect() error
}

// Platform joins rooms on a specific media server.
type Platform interface {
	// Connect joins the room named roomID. ctx bounds the join attempt only.
	Connect(ctx context.Context, roomID string) (Connection, error)
}
