package websocket

import (
	"context"
	"sync"

	"github.com/bhandras/huddle/internal/realtime"
	"github.com/bhandras/huddle/internal/websocket/handlers"
	"github.com/bhandras/huddle/shared/logger"
	"github.com/bhandras/huddle/shared/wire"
	socket "github.com/zishang520/socket.io/servers/socket/v3"
	"golang.org/x/time/rate"
)

const inboxSize = 64

// inboundEvent is one decoded-later client event waiting for the connection
// loop.
type inboundEvent struct {
	event string
	run   func(ctx context.Context, auth handlers.AuthContext)
}

// connection is the per-socket state. Client events are queued on inbox and
// handled one at a time by run, so a connection never has two handlers in
// flight and handlers never block the Socket.IO read path.
type connection struct {
	client  *socket.Socket
	limiter *rate.Limiter
	inbox   chan inboundEvent

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	session *realtime.Session
	closed  bool
}

func newConnection(client *socket.Socket, limiter *rate.Limiter) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &connection{
		client:  client,
		limiter: limiter,
		inbox:   make(chan inboundEvent, inboxSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ID implements realtime.Conn.
func (c *connection) ID() string {
	return string(c.client.Id())
}

// Emit implements realtime.Conn.
func (c *connection) Emit(event string, payload any) {
	logger.Tracef("Emitting %s to socket %s", event, c.ID())
	c.client.Emit(event, payload)
}

// Disconnect implements realtime.Conn. It is used when a newer session of
// the same subject supersedes this one.
func (c *connection) Disconnect() {
	c.client.Disconnect(true)
}

// attach binds the admitted session. It reports false when the socket went
// away while admission was in progress.
func (c *connection) attach(s *realtime.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.session = s
	return true
}

// shutdown stops the loop and returns the attached session once.
func (c *connection) shutdown() (*realtime.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false
	}
	c.closed = true
	c.cancel()
	return c.session, true
}

// enqueue hands ev to the loop. It never blocks: a full inbox is reported to
// the caller the same way as an exhausted rate budget.
func (c *connection) enqueue(ev inboundEvent) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.inbox <- ev:
		return true
	default:
		return false
	}
}

// run processes queued events until the connection is released. The inbox is
// never closed; ctx cancellation ends the loop.
func (c *connection) run(s *realtime.Session) {
	auth := handlers.NewAuthContext(s)
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.inbox:
			logger.Tracef("Handling %s from %s (socket %s)", ev.event, auth.UserID(), c.ID())
			ev.run(c.ctx, auth)
		}
	}
}

// reply sends the handler outcome back to the caller: the ACK (if the client
// asked for one) followed by any caller-only events.
func (c *connection) reply(ack func(...any), result handlers.EventResult) {
	if ack != nil {
		ack(result.Ack())
	}
	for _, e := range result.Emits() {
		c.Emit(e.Event(), e.Payload())
	}
}

// rejectAuth reports a handshake failure and drops the socket.
func rejectAuth(client *socket.Socket, message string) {
	client.Emit(wire.EventError, wire.ErrorPayload{
		Message: message,
		Code:    wire.CodeAuthentication,
	})
	client.Disconnect(true)
}
