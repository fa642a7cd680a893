package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bhandras/huddle/shared/logger"
	"github.com/bhandras/huddle/shared/wire"
)

// PresenceState is a subject's presence as last observed by the tracker.
type PresenceState struct {
	SubjectID string
	Status    string
	LastSeen  time.Time
}

type presenceEntry struct {
	status   string
	lastSeen time.Time
	// instance is the session that produced the latest transition.
	instance uint64
}

// Presence maintains online/away/offline state per subject and broadcasts
// every transition to all connected sessions.
type Presence struct {
	registry *Registry
	store    SubjectStore

	mu     sync.Mutex
	states map[string]*presenceEntry
	now    func() time.Time
}

// NewPresence creates a tracker backed by store.
func NewPresence(registry *Registry, store SubjectStore) *Presence {
	return &Presence{
		registry: registry,
		store:    store,
		states:   make(map[string]*presenceEntry),
		now:      time.Now,
	}
}

// Online records that s was admitted. It is a no-op when a newer session has
// already reported.
func (p *Presence) Online(ctx context.Context, s *Session) {
	if !p.registry.IsCurrent(s) {
		return
	}
	p.mu.Lock()
	if p.supersededLocked(s) {
		p.mu.Unlock()
		return
	}
	state := p.transitionLocked(s.SubjectID(), wire.StatusOnline, s.instance)
	p.mu.Unlock()
	p.persist(ctx, state)
}

// Offline records that s was released. A release for a session that is no
// longer the subject's newest one is ignored.
func (p *Presence) Offline(ctx context.Context, s *Session) bool {
	if cur, ok := p.registry.Get(s.SubjectID()); ok && cur.instance != s.instance {
		logger.Debugf("Ignoring stale release of %s (instance %d, current %d)",
			s.SubjectID(), s.instance, cur.instance)
		return false
	}

	p.mu.Lock()
	if entry, ok := p.states[s.SubjectID()]; ok {
		stale := entry.instance > s.instance
		repeated := entry.instance == s.instance && entry.status == wire.StatusOffline
		if stale || repeated {
			p.mu.Unlock()
			return false
		}
	}
	state := p.transitionLocked(s.SubjectID(), wire.StatusOffline, s.instance)
	p.mu.Unlock()

	p.persist(ctx, state)
	return true
}

// SetStatus applies an explicit status change requested by s.
func (p *Presence) SetStatus(ctx context.Context, s *Session, status string) (PresenceState, error) {
	switch status {
	case wire.StatusOnline, wire.StatusAway, wire.StatusOffline:
	default:
		return PresenceState{}, validationf("unknown status %q", status)
	}
	if !p.registry.IsCurrent(s) {
		return PresenceState{}, ErrAuthentication
	}

	p.mu.Lock()
	if p.supersededLocked(s) {
		p.mu.Unlock()
		return PresenceState{}, ErrAuthentication
	}
	state := p.transitionLocked(s.SubjectID(), status, s.instance)
	p.mu.Unlock()

	p.persist(ctx, state)
	return state, nil
}

// Get returns the tracked state of subjectID.
func (p *Presence) Get(subjectID string) (PresenceState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.states[subjectID]
	if !ok {
		return PresenceState{}, false
	}
	return PresenceState{SubjectID: subjectID, Status: entry.status, LastSeen: entry.lastSeen}, true
}

// Snapshot returns every subject that is not offline, ordered by id.
func (p *Presence) Snapshot() []PresenceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PresenceState, 0, len(p.states))
	for id, entry := range p.states {
		if entry.status == wire.StatusOffline {
			continue
		}
		out = append(out, PresenceState{SubjectID: id, Status: entry.status, LastSeen: entry.lastSeen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out
}

// supersededLocked reports whether a newer session has reported, or s itself
// has already been released.
func (p *Presence) supersededLocked(s *Session) bool {
	entry, ok := p.states[s.SubjectID()]
	if !ok {
		return false
	}
	if entry.instance > s.instance {
		return true
	}
	return entry.instance == s.instance && entry.status == wire.StatusOffline && s.Closed()
}

// transitionLocked applies a transition and broadcasts it. Every transition
// refreshes lastSeen, which is kept strictly increasing per subject so that
// the conditional store write can order concurrent persists.
func (p *Presence) transitionLocked(subjectID, status string, instance uint64) PresenceState {
	entry, ok := p.states[subjectID]
	if !ok {
		entry = &presenceEntry{status: wire.StatusOffline}
		p.states[subjectID] = entry
	}

	now := p.now()
	if !now.After(entry.lastSeen) {
		now = entry.lastSeen.Add(time.Millisecond)
	}
	entry.lastSeen = now
	entry.instance = instance
	entry.status = status

	state := PresenceState{SubjectID: subjectID, Status: status, LastSeen: now}
	event := wire.StatusEvent{
		UserID:   subjectID,
		Status:   status,
		LastSeen: now.UnixMilli(),
	}
	for _, s := range p.registry.Sessions() {
		s.Emit(wire.EventUserStatusChange, event)
	}
	return state
}

func (p *Presence) persist(ctx context.Context, state PresenceState) {
	if p.store == nil {
		return
	}
	err := p.store.UpdateStatus(context.WithoutCancel(ctx), state.SubjectID, state.Status, state.LastSeen)
	if err != nil {
		logger.Warnf("Failed to persist presence for %s: %v", state.SubjectID, err)
	}
}
