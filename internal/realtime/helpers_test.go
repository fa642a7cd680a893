package realtime

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bhandras/huddle/shared/wire"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	event   string
	payload any
}

type fakeConn struct {
	id string

	mu           sync.Mutex
	events       []emitted
	disconnected int
}

func newConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Emit(event string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, emitted{event: event, payload: payload})
}

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected++
}

func (c *fakeConn) count(event string) int {
	return len(c.payloads(event))
}

func (c *fakeConn) payloads(event string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []any
	for _, e := range c.events {
		if e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

func (c *fakeConn) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.event)
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

type statusWrite struct {
	status   string
	lastSeen time.Time
}

// memStore is an in-memory Store with the same atomicity as the SQL one.
type memStore struct {
	mu sync.Mutex

	subjects map[string]Subject // by external id
	statuses map[string]statusWrite
	rooms    map[string]Room
	members  map[string]map[string]string // room -> subject -> role
	messages map[string]wire.MessageInfo
	keys     map[string]string // room|sender|key -> message id
	seq      int

	createCalls int
	createErr   error
	findRoomErr error

	// afterFindMessage, when set, runs once after the next FindMessage has
	// read its result.
	afterFindMessage func()
}

func newMemStore() *memStore {
	return &memStore{
		subjects: make(map[string]Subject),
		statuses: make(map[string]statusWrite),
		rooms:    make(map[string]Room),
		members:  make(map[string]map[string]string),
		messages: make(map[string]wire.MessageInfo),
		keys:     make(map[string]string),
	}
}

func (m *memStore) addRoom(id string, members map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[id] = Room{ID: id, Name: id, Type: RoomPublic, MaxMembers: 100, Active: true}
	m.members[id] = make(map[string]string)
	for subject, role := range members {
		m.members[id][subject] = role
	}
}

func (m *memStore) deactivateRoom(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[id]
	r.Active = false
	m.rooms[id] = r
}

func (m *memStore) onNextFindMessage(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.afterFindMessage = fn
}

func (m *memStore) messageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func (m *memStore) status(subjectID string) statusWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[subjectID]
}

func (m *memStore) ProvisionSubject(_ context.Context, externalID, displayName, photoURL string) (Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subjects[externalID]; ok {
		return s, nil
	}
	s := Subject{ID: "sub-" + externalID, ExternalID: externalID, DisplayName: displayName, PhotoURL: photoURL, Status: wire.StatusOffline}
	m.subjects[externalID] = s
	return s, nil
}

func (m *memStore) FindSubjectByExternalID(_ context.Context, externalID string) (Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[externalID]
	if !ok {
		return Subject{}, sql.ErrNoRows
	}
	return s, nil
}

func (m *memStore) UpdateStatus(_ context.Context, subjectID, status string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.statuses[subjectID]; ok && lastSeen.Before(prev.lastSeen) {
		return nil
	}
	m.statuses[subjectID] = statusWrite{status: status, lastSeen: lastSeen}
	return nil
}

func (m *memStore) FindRoom(_ context.Context, roomID string) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findRoomErr != nil {
		return Room{}, m.findRoomErr
	}
	r, ok := m.rooms[roomID]
	if !ok {
		return Room{}, sql.ErrNoRows
	}
	return r, nil
}

func (m *memStore) AddMember(_ context.Context, roomID, subjectID, role string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok || !r.Active {
		return false, nil
	}
	if _, ok := m.members[roomID][subjectID]; ok {
		return false, nil
	}
	if len(m.members[roomID]) >= r.MaxMembers {
		return false, nil
	}
	m.members[roomID][subjectID] = role
	return true, nil
}

func (m *memStore) RemoveMember(_ context.Context, roomID, subjectID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[roomID][subjectID]; !ok {
		return false, nil
	}
	delete(m.members[roomID], subjectID)
	return true, nil
}

func (m *memStore) MemberRole(_ context.Context, roomID, subjectID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.members[roomID][subjectID]
	return role, ok, nil
}

func (m *memStore) ListMemberRooms(_ context.Context, subjectID string) ([]Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Room
	for id, members := range m.members {
		if _, ok := members[subjectID]; ok && m.rooms[id].Active {
			out = append(out, m.rooms[id])
		}
	}
	return out, nil
}

func (m *memStore) UpdateLastMessage(context.Context, wire.MessageInfo) error { return nil }

func (m *memStore) CreateMessage(_ context.Context, msg NewMessage) (wire.MessageInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return wire.MessageInfo{}, m.createErr
	}
	key := msg.RoomID + "|" + msg.SenderID + "|" + msg.IdempotencyKey
	if msg.IdempotencyKey != "" {
		if _, ok := m.keys[key]; ok {
			return wire.MessageInfo{}, errDuplicateKey
		}
	}
	m.seq++
	info := wire.MessageInfo{
		ID:             fmt.Sprintf("m%d", m.seq),
		RoomID:         msg.RoomID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Kind:           msg.Kind,
		ReplyToID:      msg.ReplyToID,
		Attachments:    msg.Attachments,
		Reactions:      []wire.Reaction{},
		IdempotencyKey: msg.IdempotencyKey,
		CreatedAt:      msg.At.UnixMilli(),
		UpdatedAt:      msg.At.UnixMilli(),
	}
	m.messages[info.ID] = info
	if msg.IdempotencyKey != "" {
		m.keys[key] = info.ID
	}
	return info, nil
}

func (m *memStore) FindMessage(_ context.Context, messageID string) (wire.MessageInfo, error) {
	m.mu.Lock()
	msg, ok := m.messages[messageID]
	hook := m.afterFindMessage
	m.afterFindMessage = nil
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if !ok {
		return wire.MessageInfo{}, sql.ErrNoRows
	}
	return msg, nil
}

func (m *memStore) FindByIdempotencyKey(_ context.Context, roomID, senderID, key string) (wire.MessageInfo, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.keys[roomID+"|"+senderID+"|"+key]
	if !ok {
		return wire.MessageInfo{}, false, nil
	}
	return m.messages[id], true, nil
}

func (m *memStore) UpdateContent(_ context.Context, messageID, content string, at time.Time) (wire.MessageInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok || msg.IsDeleted {
		return wire.MessageInfo{}, sql.ErrNoRows
	}
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = at.UnixMilli()
	m.messages[messageID] = msg
	return msg, nil
}

func (m *memStore) SoftDelete(_ context.Context, messageID string, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok || msg.IsDeleted {
		return false, nil
	}
	msg.IsDeleted = true
	m.messages[messageID] = msg
	return true, nil
}

func (m *memStore) AddReaction(_ context.Context, messageID, subjectID, emoji string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok || msg.IsDeleted {
		return false, nil
	}
	for _, r := range msg.Reactions {
		if r.UserID == subjectID && r.Emoji == emoji {
			return false, nil
		}
	}
	msg.Reactions = append(msg.Reactions, wire.Reaction{UserID: subjectID, Emoji: emoji, CreatedAt: at.UnixMilli()})
	m.messages[messageID] = msg
	return true, nil
}

func (m *memStore) RemoveReaction(_ context.Context, messageID, subjectID, emoji string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.messages[messageID]
	for i, r := range msg.Reactions {
		if r.UserID == subjectID && r.Emoji == emoji {
			msg.Reactions = append(msg.Reactions[:i:i], msg.Reactions[i+1:]...)
			m.messages[messageID] = msg
			return true, nil
		}
	}
	return false, nil
}

// connect admits subjectID through the hub and returns its session and conn.
func connect(t *testing.T, h *Hub, subjectID string) (*Session, *fakeConn) {
	t.Helper()
	conn := newConn("conn-" + subjectID + fmt.Sprintf("-%d", time.Now().UnixNano()))
	s, err := h.Connect(context.Background(), Subject{ID: subjectID, DisplayName: subjectID}, conn)
	require.NoError(t, err)
	return s, conn
}

const (
	timeout = 2 * time.Second
	tick    = 10 * time.Millisecond
)
