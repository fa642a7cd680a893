package handlers

import (
	"context"
	"testing"

	"github.com/bhandras/huddle/internal/realtime"
	"github.com/bhandras/huddle/shared/wire"
	"github.com/stretchr/testify/require"
)

type nopConn struct{ id string }

func (c nopConn) ID() string       { return c.id }
func (c nopConn) Emit(string, any) {}
func (c nopConn) Disconnect()      {}

func newAuth(t *testing.T, subjectID string) AuthContext {
	t.Helper()
	s, _, err := realtime.NewRegistry().Admit(realtime.Identity{SubjectID: subjectID}, nopConn{id: "sock-" + subjectID})
	require.NoError(t, err)
	return NewAuthContext(s)
}

type fakeRooms struct {
	join  func(ctx context.Context, s *realtime.Session, roomID string) (bool, error)
	leave func(s *realtime.Session, roomID string) bool
}

func (f fakeRooms) Join(ctx context.Context, s *realtime.Session, roomID string) (bool, error) {
	return f.join(ctx, s, roomID)
}

func (f fakeRooms) Leave(s *realtime.Session, roomID string) bool {
	return f.leave(s, roomID)
}

type fakeMessages struct {
	submit func(ctx context.Context, req realtime.SubmitRequest) (realtime.SubmitResult, error)
	edit   func(ctx context.Context, subjectID, messageID, content string) (wire.MessageInfo, error)
	del    func(ctx context.Context, subjectID, messageID string) (wire.MessageDeletedEvent, error)
	react  func(ctx context.Context, subjectID, messageID, emoji string, add bool) (bool, error)
}

func (f fakeMessages) Submit(ctx context.Context, req realtime.SubmitRequest) (realtime.SubmitResult, error) {
	return f.submit(ctx, req)
}

func (f fakeMessages) Edit(ctx context.Context, subjectID, messageID, content string) (wire.MessageInfo, error) {
	return f.edit(ctx, subjectID, messageID, content)
}

func (f fakeMessages) Delete(ctx context.Context, subjectID, messageID string) (wire.MessageDeletedEvent, error) {
	return f.del(ctx, subjectID, messageID)
}

func (f fakeMessages) React(ctx context.Context, subjectID, messageID, emoji string, add bool) (bool, error) {
	return f.react(ctx, subjectID, messageID, emoji, add)
}

type fakeTyping struct {
	start func(s *realtime.Session, roomID string) error
	stop  func(s *realtime.Session, roomID string) bool
}

func (f fakeTyping) Start(s *realtime.Session, roomID string) error { return f.start(s, roomID) }
func (f fakeTyping) Stop(s *realtime.Session, roomID string) bool   { return f.stop(s, roomID) }

type fakePresence struct {
	setStatus func(ctx context.Context, s *realtime.Session, status string) (realtime.PresenceState, error)
}

func (f fakePresence) SetStatus(ctx context.Context, s *realtime.Session, status string) (realtime.PresenceState, error) {
	return f.setStatus(ctx, s, status)
}

// requireError asserts res is a failure with code and that the caller got a
// matching error event.
func requireError(t *testing.T, res EventResult, code, event string) wire.ErrorPayload {
	t.Helper()
	require.False(t, res.Ack().OK())
	require.Equal(t, code, res.Ack().Code)
	require.Len(t, res.Emits(), 1)
	require.Equal(t, wire.EventError, res.Emits()[0].Event())
	payload, ok := res.Emits()[0].Payload().(wire.ErrorPayload)
	require.True(t, ok)
	require.Equal(t, code, payload.Code)
	require.Equal(t, event, payload.Event)
	return payload
}
