package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aulavoz/voicetutor/internal/pipeline"
	"github.com/aulavoz/voicetutor/pkg/audio"
)

// SessionFactory builds the pipeline for one participant.
type SessionFactory func(participant string) (*pipeline.Session, error)

type managed struct {
	session *pipeline.Session
	frames  <-chan audio.AudioFrame
	cancel  context.CancelFunc
	done    chan struct{}
}

// SessionManager runs one [pipeline.Session] per participant. All exported
// methods are safe for concurrent use.
type SessionManager struct {
	newSession SessionFactory

	mu       sync.Mutex
	sessions map[string]*managed
}

// NewSessionManager returns a SessionManager that builds sessions with f.
func NewSessionManager(f SessionFactory) *SessionManager {
	return &SessionManager{
		newSession: f,
		sessions:   make(map[string]*managed),
	}
}

// Start runs a session for participant reading frames. A session already
// reading the same channel is left alone; one reading another channel (a
// rejoin) is stopped and replaced. The session ends when frames is closed,
// ctx is done, or [SessionManager.Stop] is called.
func (m *SessionManager) Start(ctx context.Context, participant string, frames <-chan audio.AudioFrame) error {
	m.mu.Lock()
	old, ok := m.sessions[participant]
	if ok && old.frames == frames {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, participant)
	m.mu.Unlock()
	if ok {
		old.stop()
	}

	s, err := m.newSession(participant)
	if err != nil {
		return err
	}
	sctx, cancel := context.WithCancel(ctx)
	ms := &managed{session: s, frames: frames, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if cur, ok := m.sessions[participant]; ok {
		// Lost a race with a concurrent Start.
		m.mu.Unlock()
		cancel()
		if cur.frames != frames {
			slog.Warn("concurrent session start, keeping the first", "participant", participant)
		}
		return nil
	}
	m.sessions[participant] = ms
	m.mu.Unlock()

	go func() {
		defer close(ms.done)
		defer cancel()
		if err := s.Run(sctx, frames); err != nil {
			slog.Error("pipeline session failed", "participant", participant, "error", err)
		}
		m.mu.Lock()
		if m.sessions[participant] == ms {
			delete(m.sessions, participant)
		}
		m.mu.Unlock()
	}()
	return nil
}

// Stop ends participant's session and waits for it. It reports whether a
// session was running.
func (m *SessionManager) Stop(participant string) bool {
	m.mu.Lock()
	ms, ok := m.sessions[participant]
	delete(m.sessions, participant)
	m.mu.Unlock()
	if ok {
		ms.stop()
	}
	return ok
}

// StopAll ends every session and waits for them.
func (m *SessionManager) StopAll() {
	m.mu.Lock()
	all := make([]*managed, 0, len(m.sessions))
	for id, ms := range m.sessions {
		all = append(all, ms)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, ms := range all {
		ms.cancel()
	}
	for _, ms := range all {
		<-ms.done
	}
}

// Count returns the number of running sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Participants lists the identities with a running session.
func (m *SessionManager) Participants() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Each calls fn for every running session.
func (m *SessionManager) Each(fn func(*pipeline.Session)) {
	m.mu.Lock()
	all := make([]*pipeline.Session, 0, len(m.sessions))
	for _, ms := range m.sessions {
		all = append(all, ms.session)
	}
	m.mu.Unlock()
	for _, s := range all {
		fn(s)
	}
}

func (ms *managed) stop() {
	ms.cancel()
	<-ms.done
}
