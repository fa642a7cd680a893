package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/bhandras/huddle/internal/metrics"
	"github.com/bhandras/huddle/shared/wire"
)

// DefaultTypingTTL bounds how long a typing indicator lives without refresh.
const DefaultTypingTTL = 5 * time.Second

type typingKey struct {
	roomID    string
	subjectID string
}

type typingState struct {
	user      wire.UserRef
	instance  uint64
	expiresAt time.Time
}

// Typing tracks ephemeral per-room typing indicators.
type Typing struct {
	router *Router
	ttl    time.Duration

	// mu also orders the broadcasts so that a stop is never delivered ahead
	// of the start it ends.
	mu     sync.Mutex
	states map[typingKey]typingState
	now    func() time.Time
}

// NewTyping creates a tracker and hooks it to router so that leaving a room
// expires the indicator immediately.
func NewTyping(router *Router, ttl time.Duration) *Typing {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	t := &Typing{
		router: router,
		ttl:    ttl,
		states: make(map[typingKey]typingState),
		now:    time.Now,
	}
	router.OnUnsubscribe(func(s *Session, roomID string) {
		t.Stop(s, roomID)
	})
	return t
}

// TTL returns the indicator lifetime.
func (t *Typing) TTL() time.Duration { return t.ttl }

// Start creates or refreshes the indicator for s in roomID and notifies the
// other subscribers.
func (t *Typing) Start(s *Session, roomID string) error {
	if roomID == "" {
		return validationf("roomId is required")
	}

	// Checked under mu: either the unsubscribe hook sees this indicator or
	// this check sees the unsubscribe.
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.router.IsSubscribed(s, roomID) {
		return authorizationf("not subscribed to room %s", roomID)
	}
	t.states[typingKey{roomID: roomID, subjectID: s.SubjectID()}] = typingState{
		user:      s.User(),
		instance:  s.instance,
		expiresAt: t.now().Add(t.ttl),
	}
	t.router.Broadcast(roomID, wire.EventUserTyping,
		wire.UserRoomEvent{RoomID: roomID, User: s.User()}, s.SubjectID())
	return nil
}

// Stop removes the indicator for s in roomID. It reports whether one existed;
// only then is user_stopped_typing broadcast.
func (t *Typing) Stop(s *Session, roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := typingKey{roomID: roomID, subjectID: s.SubjectID()}
	state, ok := t.states[key]
	if !ok {
		return false
	}
	delete(t.states, key)
	t.broadcastStopLocked(roomID, state.user)
	return true
}

// ReleaseSession expires every indicator started by s. Indicators of a newer
// session of the same subject are kept.
func (t *Typing) ReleaseSession(s *Session) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for key, state := range t.states {
		if key.subjectID != s.SubjectID() || state.instance != s.instance {
			continue
		}
		delete(t.states, key)
		t.broadcastStopLocked(key.roomID, state.user)
		n++
	}
	return n
}

// Sweep expires indicators whose deadline is not after now and returns how
// many were removed.
func (t *Typing) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for key, state := range t.states {
		if state.expiresAt.After(now) {
			continue
		}
		delete(t.states, key)
		t.broadcastStopLocked(key.roomID, state.user)
		n++
	}
	if n > 0 {
		metrics.TypingExpired.Add(float64(n))
	}
	return n
}

// Run sweeps expired indicators until ctx is done.
func (t *Typing) Run(ctx context.Context) {
	interval := t.ttl / 5
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep(t.now())
		}
	}
}

// Active returns the subjects currently typing in roomID.
func (t *Typing) Active(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for key := range t.states {
		if key.roomID == roomID {
			out = append(out, key.subjectID)
		}
	}
	return out
}

func (t *Typing) broadcastStopLocked(roomID string, user wire.UserRef) {
	t.router.Broadcast(roomID, wire.EventUserStoppedTyping,
		wire.UserRoomEvent{RoomID: roomID, User: user}, user.ID)
}
