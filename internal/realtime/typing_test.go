package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bhandras/huddle/shared/wire"
	"github.com/stretchr/testify/require"
)

func newTypingHub(t *testing.T, ttl time.Duration) (*Hub, *Session, *fakeConn, *Session, *fakeConn) {
	t.Helper()
	store := newMemStore()
	store.addRoom("general", map[string]string{"a": RoleMember, "b": RoleMember})
	h := NewHub(store, ttl)
	a, connA := connect(t, h, "a")
	b, connB := connect(t, h, "b")
	return h, a, connA, b, connB
}

func TestTyping_StartStopExcludesSender(t *testing.T) {
	h, a, connA, _, connB := newTypingHub(t, time.Minute)

	require.NoError(t, h.Typing.Start(a, "general"))
	require.Equal(t, 1, connB.count(wire.EventUserTyping))
	require.Zero(t, connA.count(wire.EventUserTyping))
	require.Equal(t, []string{"a"}, h.Typing.Active("general"))

	require.True(t, h.Typing.Stop(a, "general"))
	require.Equal(t, 1, connB.count(wire.EventUserStoppedTyping))

	// A second stop has nothing to end.
	require.False(t, h.Typing.Stop(a, "general"))
	require.Equal(t, 1, connB.count(wire.EventUserStoppedTyping))
}

func TestTyping_RequiresSubscription(t *testing.T) {
	h, a, _, _, _ := newTypingHub(t, time.Minute)
	require.ErrorIs(t, h.Typing.Start(a, "elsewhere"), ErrAuthorization)
	require.ErrorIs(t, h.Typing.Start(a, ""), ErrValidation)
}

func TestTyping_SweepExpiresAfterTTL(t *testing.T) {
	h, a, _, _, connB := newTypingHub(t, 5*time.Second)
	base := time.Unix(1000, 0)
	h.Typing.now = func() time.Time { return base }

	require.NoError(t, h.Typing.Start(a, "general"))
	require.Zero(t, h.Typing.Sweep(base.Add(4*time.Second)))

	// Refresh pushes the deadline out.
	h.Typing.now = func() time.Time { return base.Add(3 * time.Second) }
	require.NoError(t, h.Typing.Start(a, "general"))
	require.Zero(t, h.Typing.Sweep(base.Add(6*time.Second)))

	require.Equal(t, 1, h.Typing.Sweep(base.Add(8*time.Second)))
	require.Equal(t, 1, connB.count(wire.EventUserStoppedTyping))
	require.Empty(t, h.Typing.Active("general"))
}

func TestTyping_AbruptDisconnectStopsImmediately(t *testing.T) {
	h, a, _, _, connB := newTypingHub(t, time.Minute)

	require.NoError(t, h.Typing.Start(a, "general"))
	h.Disconnect(context.Background(), a)

	require.Equal(t, 1, connB.count(wire.EventUserStoppedTyping))
	require.Empty(t, h.Typing.Active("general"))
}

func TestTyping_LeaveExpiresRoomIndicator(t *testing.T) {
	h, a, _, _, connB := newTypingHub(t, time.Minute)

	require.NoError(t, h.Typing.Start(a, "general"))
	h.Router.Leave(a, "general")
	require.Equal(t, 1, connB.count(wire.EventUserStoppedTyping))
}

func TestTyping_RunObservesStopWithinTTL(t *testing.T) {
	const ttl = 100 * time.Millisecond
	h, a, _, _, connB := newTypingHub(t, ttl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	require.NoError(t, h.Typing.Start(a, "general"))
	require.Eventually(t, func() bool {
		return connB.count(wire.EventUserStoppedTyping) == 1
	}, ttl+ttl/2, 5*time.Millisecond)
}

func TestTyping_StartRacingLeaveLeavesNoIndicator(t *testing.T) {
	h, a, _, _, connB := newTypingHub(t, time.Minute)

	// Hold the tracker so Start and the leave hook queue up behind it.
	h.Typing.mu.Lock()

	var wg sync.WaitGroup
	var startErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		startErr = h.Typing.Start(a, "general")
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		defer wg.Done()
		h.Router.Leave(a, "general")
	}()
	require.Eventually(t, func() bool {
		return !h.Router.IsSubscribed(a, "general")
	}, timeout, tick)

	h.Typing.mu.Unlock()
	wg.Wait()

	require.ErrorIs(t, startErr, ErrAuthorization)
	require.Empty(t, h.Typing.Active("general"))
	require.Zero(t, connB.count(wire.EventUserTyping))
}
