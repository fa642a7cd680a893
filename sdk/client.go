// Package sdk is the Go client for the huddle realtime endpoint: a Socket.IO
// connection wrapper plus the optimistic message reconciliation used by UIs.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bhandras/huddle/shared/logger"
	"github.com/bhandras/huddle/shared/wire"
	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"
)

const (
	// UpdatesPath is the Socket.IO endpoint path on the server.
	UpdatesPath = "/v1/updates"

	defaultAckTimeout = 10 * time.Second
)

// ErrNotConnected is returned when emitting before Connect.
var ErrNotConnected = errors.New("not connected")

// ServerError is an error ACK returned by the server.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// serverEvents are the server -> client events a Client dispatches.
var serverEvents = []string{
	wire.EventJoinedRoom,
	wire.EventLeftRoom,
	wire.EventUserJoinedRoom,
	wire.EventUserLeftRoom,
	wire.EventNewMessage,
	wire.EventMessageEdited,
	wire.EventMessageDeleted,
	wire.EventMessageReactionAdded,
	wire.EventMessageReactionRemoved,
	wire.EventUserTyping,
	wire.EventUserStoppedTyping,
	wire.EventUserStatusChange,
	wire.EventError,
}

// Handler receives the first argument of a server event.
type Handler func(data any)

// Client represents a Socket.IO client connection.
type Client struct {
	serverURL  string
	token      string
	ackTimeout time.Duration

	mu        sync.RWMutex
	socket    *socket.Socket
	handlers  map[string][]Handler
	connected bool
}

// NewClient creates a client authenticating with token.
func NewClient(serverURL, token string) *Client {
	return &Client{
		serverURL:  serverURL,
		token:      token,
		ackTimeout: defaultAckTimeout,
		handlers:   make(map[string][]Handler),
	}
}

// On registers a handler for a server event. Handlers for one connection run
// sequentially in arrival order.
func (c *Client) On(event string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

func (c *Client) dispatch(event string, args []any) {
	var data any
	if len(args) > 0 {
		data = args[0]
	}
	c.mu.RLock()
	handlers := append([]Handler(nil), c.handlers[event]...)
	c.mu.RUnlock()

	logger.Tracef("Received event: %s", event)
	for _, h := range handlers {
		h(data)
	}
}

// Connect establishes a Socket.IO connection to the server.
func (c *Client) Connect() error {
	logger.Debugf("Connecting to Socket.IO: %s (path: %s)", c.serverURL, UpdatesPath)

	opts := socket.DefaultOptions()
	opts.SetPath(UpdatesPath)
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))
	opts.SetAuth(map[string]any{"token": c.token})

	sock, err := socket.Connect(c.serverURL, opts)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.mu.Lock()
	c.socket = sock
	c.mu.Unlock()

	sock.On(types.EventName("connect"), func(args ...any) {
		c.setConnected(true)
		logger.Debugf("Socket.IO connected! ID: %s", sock.Id())
	})

	sock.On(types.EventName("disconnect"), func(args ...any) {
		c.setConnected(false)
		reason := ""
		if len(args) > 0 {
			reason, _ = args[0].(string)
		}
		logger.Debugf("Socket.IO disconnected: %s", reason)
	})

	sock.On(types.EventName("connect_error"), func(args ...any) {
		if len(args) > 0 {
			logger.Warnf("Socket.IO connection error: %v", args[0])
		}
	})

	for _, event := range serverEvents {
		ev := event
		sock.On(types.EventName(ev), func(args ...any) {
			c.dispatch(ev, args)
		})
	}
	return nil
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// IsConnected reports whether the socket is currently connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	sock := c.socket
	connected := c.connected
	c.mu.RUnlock()

	if connected {
		return true
	}
	// The connect event can race with the first check after Connect.
	if sock != nil && sock.Connected() {
		c.setConnected(true)
		return true
	}
	return false
}

// WaitForConnect waits for the socket to report connected or times out.
func (c *Client) WaitForConnect(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.IsConnected() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return c.IsConnected()
}

// EmitWithAck sends event and waits for the server ACK. An error ACK is
// returned as a *ServerError.
func (c *Client) EmitWithAck(ctx context.Context, event string, data any) (wire.ResultAck, error) {
	c.mu.RLock()
	sock := c.socket
	c.mu.RUnlock()
	if sock == nil {
		return wire.ResultAck{}, ErrNotConnected
	}

	logger.Tracef("Sending event with ack: %s", event)

	resultCh := make(chan wire.ResultAck, 1)
	errCh := make(chan error, 1)
	sock.Emit(event, data, func(args []any, err error) {
		if err != nil {
			errCh <- err
			return
		}
		var ack wire.ResultAck
		if len(args) > 0 {
			if err := wire.Decode(args[0], &ack); err != nil {
				errCh <- fmt.Errorf("decode ack: %w", err)
				return
			}
		}
		resultCh <- ack
	})

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()

	select {
	case ack := <-resultCh:
		if !ack.OK() {
			return ack, &ServerError{Code: ack.Code, Message: ack.Message}
		}
		return ack, nil
	case err := <-errCh:
		return wire.ResultAck{}, err
	case <-timer.C:
		return wire.ResultAck{}, fmt.Errorf("%s: ack timeout", event)
	case <-ctx.Done():
		return wire.ResultAck{}, ctx.Err()
	}
}

func (c *Client) emitDecoded(ctx context.Context, event string, data any, out any) error {
	ack, err := c.EmitWithAck(ctx, event, data)
	if err != nil {
		return err
	}
	if out == nil || ack.Data == nil {
		return nil
	}
	return wire.Decode(ack.Data, out)
}

// JoinRoom subscribes to a room the caller is a member of.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	return c.emitDecoded(ctx, wire.EventJoinRoom, wire.RoomPayload{RoomID: roomID}, nil)
}

// LeaveRoom drops the live subscription to a room.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	return c.emitDecoded(ctx, wire.EventLeaveRoom, wire.RoomPayload{RoomID: roomID}, nil)
}

// SendMessage submits a message and returns the canonical copy.
func (c *Client) SendMessage(ctx context.Context, req wire.SendMessagePayload) (wire.MessageInfo, error) {
	var msg wire.MessageInfo
	err := c.emitDecoded(ctx, wire.EventSendMessage, req, &msg)
	return msg, err
}

// EditMessage replaces the content of one of the caller's messages.
func (c *Client) EditMessage(ctx context.Context, messageID, content string) (wire.MessageInfo, error) {
	var msg wire.MessageInfo
	err := c.emitDecoded(ctx, wire.EventEditMessage, wire.EditMessagePayload{
		MessageID: messageID,
		Content:   content,
	}, &msg)
	return msg, err
}

// DeleteMessage tombstones a message.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.emitDecoded(ctx, wire.EventDeleteMessage, wire.MessageRefPayload{MessageID: messageID}, nil)
}

// AddReaction adds an emoji reaction to a message.
func (c *Client) AddReaction(ctx context.Context, messageID, emoji string) error {
	return c.emitDecoded(ctx, wire.EventAddReaction, wire.ReactionPayload{MessageID: messageID, Emoji: emoji}, nil)
}

// RemoveReaction removes an emoji reaction from a message.
func (c *Client) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	return c.emitDecoded(ctx, wire.EventRemoveReaction, wire.ReactionPayload{MessageID: messageID, Emoji: emoji}, nil)
}

// StartTyping announces that the caller is typing in roomID.
func (c *Client) StartTyping(ctx context.Context, roomID string) error {
	return c.emitDecoded(ctx, wire.EventTypingStart, wire.RoomPayload{RoomID: roomID}, nil)
}

// StopTyping clears the caller's typing indicator in roomID.
func (c *Client) StopTyping(ctx context.Context, roomID string) error {
	return c.emitDecoded(ctx, wire.EventTypingStop, wire.RoomPayload{RoomID: roomID}, nil)
}

// SetStatus changes the caller's presence status.
func (c *Client) SetStatus(ctx context.Context, status string) error {
	return c.emitDecoded(ctx, wire.EventStatusChange, wire.StatusChangePayload{Status: status}, nil)
}

// Close closes the Socket.IO connection.
func (c *Client) Close() error {
	c.mu.Lock()
	sock := c.socket
	c.socket = nil
	c.connected = false
	c.mu.Unlock()
	if sock != nil {
		sock.Disconnect()
	}
	return nil
}
