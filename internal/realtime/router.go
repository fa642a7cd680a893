package realtime

import (
	"context"
	"sort"
	"sync"

	"github.com/bhandras/huddle/internal/metrics"
	"github.com/bhandras/huddle/shared/logger"
	"github.com/bhandras/huddle/shared/wire"
)

// UnsubscribeHook is called after a session stops receiving a room's events.
type UnsubscribeHook func(s *Session, roomID string)

type roomChannel struct {
	mu          sync.Mutex
	subscribers map[string]*Session
	// dead is set once the channel was removed from the router; holders of a
	// stale pointer must look it up again.
	dead bool
}

// Router maintains in-memory room channels. Every subscription is validated
// against durable membership at join time.
type Router struct {
	store RoomStore

	mu       sync.Mutex
	channels map[string]*roomChannel
	// gates serialize membership validation in Join with durable removal for
	// the same room.
	gates map[string]*sync.Mutex

	hooks []UnsubscribeHook
}

// NewRouter creates a router backed by store.
func NewRouter(store RoomStore) *Router {
	return &Router{
		store:    store,
		channels: make(map[string]*roomChannel),
		gates:    make(map[string]*sync.Mutex),
	}
}

// OnUnsubscribe registers fn to run on leave, eviction and session release.
// Must be called before the router is used.
func (r *Router) OnUnsubscribe(fn UnsubscribeHook) {
	r.hooks = append(r.hooks, fn)
}

func (r *Router) gate(roomID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gates[roomID]
	if !ok {
		g = &sync.Mutex{}
		r.gates[roomID] = g
	}
	return g
}

// lockChannel returns the locked channel for roomID, creating it when create
// is set. It returns nil when the channel does not exist.
func (r *Router) lockChannel(roomID string, create bool) *roomChannel {
	for {
		r.mu.Lock()
		ch, ok := r.channels[roomID]
		if !ok {
			if !create {
				r.mu.Unlock()
				return nil
			}
			ch = &roomChannel{subscribers: make(map[string]*Session)}
			r.channels[roomID] = ch
		}
		r.mu.Unlock()

		ch.mu.Lock()
		if !ch.dead {
			return ch
		}
		ch.mu.Unlock()
	}
}

// reap drops the channel for roomID if it has no subscribers left.
func (r *Router) reap(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[roomID]
	if !ok {
		return
	}
	ch.mu.Lock()
	if len(ch.subscribers) == 0 {
		ch.dead = true
		delete(r.channels, roomID)
	}
	ch.mu.Unlock()
}

// Join subscribes s to roomID after re-validating durable membership. It
// reports false when s was already subscribed.
func (r *Router) Join(ctx context.Context, s *Session, roomID string) (bool, error) {
	if roomID == "" {
		return false, validationf("roomId is required")
	}
	if s.Closed() {
		return false, ErrAuthentication
	}

	g := r.gate(roomID)
	g.Lock()
	defer g.Unlock()

	room, err := r.store.FindRoom(ctx, roomID)
	if err != nil {
		return false, storeErr("find room", err)
	}
	if !room.Active {
		return false, notFoundf("room %s is inactive", roomID)
	}
	_, member, err := r.store.MemberRole(ctx, roomID, s.SubjectID())
	if err != nil {
		return false, storeErr("check membership", err)
	}
	if !member {
		return false, authorizationf("not a member of room %s", roomID)
	}

	ch := r.lockChannel(roomID, true)
	prev := ch.subscribers[s.SubjectID()]
	if prev == s {
		ch.mu.Unlock()
		return false, nil
	}
	if !s.addRoom(roomID) {
		ch.mu.Unlock()
		r.reap(roomID)
		return false, ErrAuthentication
	}
	ch.subscribers[s.SubjectID()] = s
	if prev != nil {
		prev.removeRoom(roomID)
	}
	event := wire.UserRoomEvent{RoomID: roomID, User: s.User()}
	for subjectID, other := range ch.subscribers {
		if subjectID != s.SubjectID() {
			other.Emit(wire.EventUserJoinedRoom, event)
		}
	}
	ch.mu.Unlock()

	logger.Debugf("Subject %s joined room %s", s.SubjectID(), roomID)
	return true, nil
}

// Leave unsubscribes s from roomID and notifies the remaining subscribers.
// Leaving a room s is not subscribed to is a no-op.
func (r *Router) Leave(s *Session, roomID string) bool {
	return r.unsubscribe(s, roomID, true)
}

// ReleaseSession removes s from every room it joined, without room
// notifications.
func (r *Router) ReleaseSession(s *Session) {
	for _, roomID := range s.Rooms() {
		r.unsubscribe(s, roomID, false)
	}
}

func (r *Router) unsubscribe(s *Session, roomID string, notify bool) bool {
	ch := r.lockChannel(roomID, false)
	if ch == nil {
		return false
	}
	if ch.subscribers[s.SubjectID()] != s {
		ch.mu.Unlock()
		s.removeRoom(roomID)
		return false
	}
	delete(ch.subscribers, s.SubjectID())
	s.removeRoom(roomID)
	if notify {
		event := wire.UserRoomEvent{RoomID: roomID, User: s.User()}
		for _, other := range ch.subscribers {
			other.Emit(wire.EventUserLeftRoom, event)
		}
	}
	empty := len(ch.subscribers) == 0
	ch.mu.Unlock()

	if empty {
		r.reap(roomID)
	}
	for _, hook := range r.hooks {
		hook(s, roomID)
	}
	return true
}

// AddMember adds subjectID to the durable membership of roomID.
func (r *Router) AddMember(ctx context.Context, roomID, subjectID, role string) error {
	room, err := r.store.FindRoom(ctx, roomID)
	if err != nil {
		return storeErr("find room", err)
	}
	if !room.Active {
		return notFoundf("room %s is inactive", roomID)
	}

	added, err := r.store.AddMember(ctx, roomID, subjectID, role)
	if err != nil {
		return storeErr("add member", err)
	}
	if added {
		return nil
	}

	_, member, err := r.store.MemberRole(ctx, roomID, subjectID)
	if err != nil {
		return storeErr("check membership", err)
	}
	if member {
		return validationf("already a member of this room")
	}
	return validationf("room is full")
}

// RemoveMember removes subjectID from the durable membership of roomID and
// evicts its live subscription, if any.
func (r *Router) RemoveMember(ctx context.Context, roomID, subjectID string) error {
	g := r.gate(roomID)
	g.Lock()
	defer g.Unlock()

	removed, err := r.store.RemoveMember(ctx, roomID, subjectID)
	if err != nil {
		return storeErr("remove member", err)
	}
	if !removed {
		return validationf("not a member of this room")
	}
	r.evict(roomID, subjectID)
	return nil
}

func (r *Router) evict(roomID, subjectID string) {
	ch := r.lockChannel(roomID, false)
	if ch == nil {
		return
	}
	s, ok := ch.subscribers[subjectID]
	ch.mu.Unlock()
	if !ok {
		return
	}
	if r.unsubscribe(s, roomID, true) {
		s.Emit(wire.EventLeftRoom, wire.RoomAck{RoomID: roomID})
	}
}

// Broadcast delivers event to every subscriber of roomID except skipSubject
// and returns the number of deliveries.
func (r *Router) Broadcast(roomID, event string, payload any, skipSubject string) int {
	ch := r.lockChannel(roomID, false)
	if ch == nil {
		return 0
	}
	targets := make([]*Session, 0, len(ch.subscribers))
	for subjectID, s := range ch.subscribers {
		if subjectID != skipSubject {
			targets = append(targets, s)
		}
	}
	ch.mu.Unlock()

	delivered := 0
	for _, s := range targets {
		if s.Emit(event, payload) {
			delivered++
		}
	}
	metrics.FanoutDeliveries.WithLabelValues(event).Add(float64(delivered))
	return delivered
}

// IsSubscribed reports whether s currently receives roomID's events.
func (r *Router) IsSubscribed(s *Session, roomID string) bool {
	ch := r.lockChannel(roomID, false)
	if ch == nil {
		return false
	}
	defer ch.mu.Unlock()
	return ch.subscribers[s.SubjectID()] == s
}

// Subscribers returns the subject ids subscribed to roomID, sorted.
func (r *Router) Subscribers(roomID string) []string {
	ch := r.lockChannel(roomID, false)
	if ch == nil {
		return nil
	}
	out := make([]string, 0, len(ch.subscribers))
	for subjectID := range ch.subscribers {
		out = append(out, subjectID)
	}
	ch.mu.Unlock()
	sort.Strings(out)
	return out
}
