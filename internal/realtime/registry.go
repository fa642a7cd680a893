package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/bhandras/huddle/internal/metrics"
	"github.com/bhandras/huddle/shared/logger"
	"github.com/bhandras/huddle/shared/wire"
)

// Conn is the transport handle behind a session.
type Conn interface {
	ID() string
	Emit(event string, payload any)
	Disconnect()
}

// Identity is a verified subject about to be admitted.
type Identity struct {
	SubjectID   string
	DisplayName string
	PhotoURL    string
}

// Session is one live authenticated connection for a subject.
type Session struct {
	identity    Identity
	conn        Conn
	instance    uint64
	connectedAt time.Time

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
}

func (s *Session) SubjectID() string      { return s.identity.SubjectID }
func (s *Session) Instance() uint64       { return s.instance }
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }
func (s *Session) ConnID() string         { return s.conn.ID() }

// User returns the subject reference used in room scoped events.
func (s *Session) User() wire.UserRef {
	return wire.UserRef{
		ID:          s.identity.SubjectID,
		DisplayName: s.identity.DisplayName,
		PhotoURL:    s.identity.PhotoURL,
	}
}

// Emit sends an event to the session's connection. Closed sessions drop
// events.
func (s *Session) Emit(event string, payload any) bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return false
	}
	s.conn.Emit(event, payload)
	return true
}

// Rooms returns the joined room ids, sorted.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Closed reports whether the session was released or superseded.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// addRoom records a subscription unless the session is already closed.
func (s *Session) addRoom(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.rooms[roomID] = struct{}{}
	return true
}

func (s *Session) removeRoom(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}

func (s *Session) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

// Registry tracks one live session per subject. A new admission supersedes
// the previous session of the same subject.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	// instances is guarded by mu so that numbering order equals install
	// order.
	instances uint64

	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Admit installs a new session for id and returns it along with the session
// it superseded, if any. The superseded session is closed before Admit
// returns; the caller releases its resources and disconnects its handle.
func (r *Registry) Admit(id Identity, conn Conn) (*Session, *Session, error) {
	if id.SubjectID == "" || conn == nil {
		return nil, nil, ErrAuthentication
	}

	s := &Session{
		identity:    id,
		conn:        conn,
		connectedAt: r.now(),
		rooms:       make(map[string]struct{}),
	}

	r.mu.Lock()
	r.instances++
	s.instance = r.instances
	prev := r.sessions[id.SubjectID]
	r.sessions[id.SubjectID] = s
	r.mu.Unlock()

	if prev != nil {
		prev.close()
		metrics.SessionsSuperseded.Inc()
		logger.Infof("Session for %s superseded: conn %s replaced by %s",
			id.SubjectID, prev.ConnID(), conn.ID())
	} else {
		metrics.ConnectedSessions.Inc()
	}
	return s, prev, nil
}

// Release tears down s. It reports whether s was still the subject's current
// session; releasing a superseded or already released session is a no-op
// apart from closing it.
func (r *Registry) Release(s *Session) bool {
	if s == nil {
		return false
	}
	s.close()

	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.SubjectID()]
	if !ok || cur != s {
		return false
	}
	delete(r.sessions, s.SubjectID())
	metrics.ConnectedSessions.Dec()
	return true
}

// Get returns the current session for subjectID.
func (r *Registry) Get(subjectID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[subjectID]
	return s, ok
}

// IsCurrent reports whether s is the live session of its subject.
func (r *Registry) IsCurrent(s *Session) bool {
	cur, ok := r.Get(s.SubjectID())
	return ok && cur == s
}

// IsConnected reports whether subjectID has a live session.
func (r *Registry) IsConnected(subjectID string) bool {
	_, ok := r.Get(subjectID)
	return ok
}

// Sessions returns a snapshot of all live sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
