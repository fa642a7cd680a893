package realtime

import (
	"context"
	"time"

	"github.com/bhandras/huddle/shared/logger"
	"github.com/bhandras/huddle/shared/wire"
)

// Hub wires the realtime components together and owns the session
// lifecycle: admission, supersession and release.
type Hub struct {
	Registry    *Registry
	Presence    *Presence
	Router      *Router
	Typing      *Typing
	Coordinator *Coordinator

	subjects SubjectStore
	rooms    RoomStore
}

// NewHub builds the realtime core on top of store.
func NewHub(store Store, typingTTL time.Duration) *Hub {
	registry := NewRegistry()
	router := NewRouter(store)
	return &Hub{
		Registry:    registry,
		Presence:    NewPresence(registry, store),
		Router:      router,
		Typing:      NewTyping(router, typingTTL),
		Coordinator: NewCoordinator(store, router),
		subjects:    store,
		rooms:       store,
	}
}

// Run drives background work (typing expiry) until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.Typing.Run(ctx)
}

// Provision resolves a verified external identity to a durable subject.
func (h *Hub) Provision(ctx context.Context, externalID, displayName, photoURL string) (Subject, error) {
	if externalID == "" {
		return Subject{}, ErrAuthentication
	}
	subject, err := h.subjects.ProvisionSubject(ctx, externalID, displayName, photoURL)
	if err != nil {
		return Subject{}, storeErr("provision subject", err)
	}
	return subject, nil
}

// Connect admits conn for a verified subject. A previous session of the same
// subject is released and disconnected first. The new session is announced
// online and subscribed to every room the subject is an active member of.
func (h *Hub) Connect(ctx context.Context, subject Subject, conn Conn) (*Session, error) {
	s, prev, err := h.Registry.Admit(Identity{
		SubjectID:   subject.ID,
		DisplayName: subject.DisplayName,
		PhotoURL:    subject.PhotoURL,
	}, conn)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		h.releaseResources(prev)
		prev.conn.Disconnect()
	}

	h.Presence.Online(ctx, s)

	rooms, err := h.rooms.ListMemberRooms(ctx, s.SubjectID())
	if err != nil {
		logger.Warnf("Failed to list rooms for %s: %v", s.SubjectID(), err)
		return s, nil
	}
	for _, room := range rooms {
		if _, err := h.Router.Join(ctx, s, room.ID); err != nil {
			logger.Debugf("Auto-join of room %s for %s failed: %v", room.ID, s.SubjectID(), err)
			continue
		}
		s.Emit(wire.EventJoinedRoom, wire.RoomAck{RoomID: room.ID})
	}
	return s, nil
}

// Disconnect releases s. Releasing a superseded or already released session
// only frees what it still holds; presence of a newer session is untouched.
func (h *Hub) Disconnect(ctx context.Context, s *Session) {
	if s == nil {
		return
	}
	current := h.Registry.Release(s)
	h.releaseResources(s)
	h.Presence.Offline(ctx, s)
	logger.Debugf("Session %s for %s released (current=%v)", s.ConnID(), s.SubjectID(), current)
}

func (h *Hub) releaseResources(s *Session) {
	h.Typing.ReleaseSession(s)
	h.Router.ReleaseSession(s)
}
