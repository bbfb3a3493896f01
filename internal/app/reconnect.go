package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aulavoz/voicetutor/pkg/audio"
)

const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ErrNotConnected is returned by [Reconnector.Check] while the room is
// unreachable.
var ErrNotConnected = errors.New("app: not connected to room")

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	Platform audio.Platform
	RoomName string

	// MaxRetries bounds reconnection attempts per drop. Defaults to 10.
	MaxRetries int

	// Backoff is the first delay between attempts; it doubles up to
	// MaxBackoff. Defaults to 1s and 30s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// OnReconnect is called with each new connection. May be nil.
	OnReconnect func(audio.Connection)
}

// Reconnector owns the room connection and rejoins with exponential backoff
// after [Reconnector.NotifyDisconnect]. All methods are safe for concurrent
// use.
type Reconnector struct {
	platform    audio.Platform
	room        string
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func(audio.Connection)

	mu    sync.Mutex
	conn  audio.Connection
	stale audio.Connection

	disconnected chan struct{}
	done         chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// NewReconnector returns a Reconnector. Call [Reconnector.Connect] before
// [Reconnector.Monitor].
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	r := &Reconnector{
		platform:     cfg.Platform,
		room:         cfg.RoomName,
		maxRetries:   cfg.MaxRetries,
		backoff:      cfg.Backoff,
		maxBackoff:   cfg.MaxBackoff,
		onReconnect:  cfg.OnReconnect,
		disconnected: make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	if r.maxRetries <= 0 {
		r.maxRetries = defaultMaxRetries
	}
	if r.backoff <= 0 {
		r.backoff = defaultBackoff
	}
	if r.maxBackoff <= 0 {
		r.maxBackoff = defaultMaxBackoff
	}
	return r
}

// Connect performs the initial join.
func (r *Reconnector) Connect(ctx context.Context) (audio.Connection, error) {
	conn, err := r.platform.Connect(ctx, r.room)
	if err != nil {
		return nil, fmt.Errorf("app: connect to room %q: %w", r.room, err)
	}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	return conn, nil
}

// Monitor watches for disconnect notifications until ctx is done or Stop is
// called.
func (r *Reconnector) Monitor(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case <-r.disconnected:
				r.reconnect(ctx)
			}
		}
	}()
}

// NotifyDisconnect asks the monitor to rejoin. It never blocks; repeated
// calls during one outage collapse into one.
func (r *Reconnector) NotifyDisconnect() {
	r.mu.Lock()
	if r.conn != nil {
		r.stale, r.conn = r.conn, nil
	}
	r.mu.Unlock()
	select {
	case r.disconnected <- struct{}{}:
	default:
	}
}

// Connection returns the current connection, or nil while reconnecting.
func (r *Reconnector) Connection() audio.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// Check implements a readiness check: it fails while no connection is held.
func (r *Reconnector) Check(context.Context) error {
	if r.Connection() == nil {
		return ErrNotConnected
	}
	return nil
}

// Stop ends monitoring and disconnects. Safe to call more than once.
func (r *Reconnector) Stop() error {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()

	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn != nil {
		return conn.Disconnect()
	}
	return nil
}

func (r *Reconnector) reconnect(ctx context.Context) {
	r.mu.Lock()
	stale := r.stale
	r.stale = nil
	r.mu.Unlock()
	if stale != nil {
		_ = stale.Disconnect()
	}

	delay := r.backoff
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		slog.Info("reconnecting to room", "room", r.room, "attempt", attempt, "max_retries", r.maxRetries)
		conn, err := r.platform.Connect(ctx, r.room)
		if err == nil {
			r.mu.Lock()
			r.conn = conn
			r.mu.Unlock()
			slog.Info("reconnected to room", "room", r.room, "attempt", attempt)
			if r.onReconnect != nil {
				r.onReconnect(conn)
			}
			return
		}
		slog.Warn("reconnection attempt failed", "room", r.room, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, r.maxBackoff)
	}
	slog.Error("reconnection failed after max retries", "room", r.room, "max_retries", r.maxRetries)
}
