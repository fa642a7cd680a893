package sdk

import (
	"context"
	"time"

	"github.com/bhandras/huddle/shared/logger"
	"github.com/bhandras/huddle/shared/wire"
)

// Chat couples a Client with a Reconciler: sends are optimistic, and server
// events are merged into the local room streams.
type Chat struct {
	client *Client
	rec    *Reconciler

	// OnChange, when set, is called after every change to a room stream.
	OnChange func(roomID string)
}

// NewChat wires client events into a new reconciler. It must be called
// before client.Connect so no event is missed.
func NewChat(client *Client, timeout time.Duration) *Chat {
	c := &Chat{
		client: client,
		rec:    NewReconciler(timeout),
	}

	client.On(wire.EventNewMessage, func(data any) {
		var ev wire.MessageEvent
		if decodeEvent(wire.EventNewMessage, data, &ev) {
			c.rec.HandleNewMessage(ev)
			c.changed(ev.Message.RoomID)
		}
	})
	client.On(wire.EventMessageEdited, func(data any) {
		var ev wire.MessageEvent
		if decodeEvent(wire.EventMessageEdited, data, &ev) {
			c.rec.HandleEdited(ev)
			c.changed(ev.Message.RoomID)
		}
	})
	client.On(wire.EventMessageDeleted, func(data any) {
		var ev wire.MessageDeletedEvent
		if decodeEvent(wire.EventMessageDeleted, data, &ev) {
			c.rec.HandleDeleted(ev)
			c.changed(ev.RoomID)
		}
	})
	client.On(wire.EventMessageReactionAdded, func(data any) {
		var ev wire.ReactionAddedEvent
		if decodeEvent(wire.EventMessageReactionAdded, data, &ev) {
			c.rec.HandleReactionAdded(ev)
			c.changed(ev.RoomID)
		}
	})
	client.On(wire.EventMessageReactionRemoved, func(data any) {
		var ev wire.ReactionRemovedEvent
		if decodeEvent(wire.EventMessageReactionRemoved, data, &ev) {
			c.rec.HandleReactionRemoved(ev)
			c.changed(ev.RoomID)
		}
	})
	client.On(wire.EventError, func(data any) {
		var ev wire.ErrorPayload
		if decodeEvent(wire.EventError, data, &ev) && c.rec.HandleError(ev) {
			if m, ok := c.rec.Get(ev.IdempotencyKey); ok {
				c.changed(m.RoomID)
			}
		}
	})
	return c
}

func decodeEvent(event string, data any, out any) bool {
	if err := wire.Decode(data, out); err != nil {
		logger.Warnf("Failed to decode %s: %v", event, err)
		return false
	}
	return true
}

func (c *Chat) changed(roomID string) {
	if c.OnChange != nil && roomID != "" {
		c.OnChange(roomID)
	}
}

// Reconciler exposes the local message state.
func (c *Chat) Reconciler() *Reconciler {
	return c.rec
}

// Send submits content optimistically and returns the pending placeholder
// immediately. The outcome arrives through the ACK, the new_message
// broadcast or an error event, whichever comes first.
func (c *Chat) Send(ctx context.Context, roomID, content string) OptimisticMessage {
	m := c.rec.Submit(roomID, content, wire.KindText, nil, nil)
	c.changed(roomID)
	go c.deliver(ctx, m)
	return m
}

// Retry re-sends a failed submission under a new idempotency key.
func (c *Chat) Retry(ctx context.Context, key string) (OptimisticMessage, error) {
	m, err := c.rec.Retry(key)
	if err != nil {
		return OptimisticMessage{}, err
	}
	c.changed(m.RoomID)
	go c.deliver(ctx, m)
	return m, nil
}

func (c *Chat) deliver(ctx context.Context, m OptimisticMessage) {
	msg, err := c.client.SendMessage(ctx, m.Payload())
	if err != nil {
		if c.rec.Fail(m.IdempotencyKey, err.Error()) {
			c.changed(m.RoomID)
		}
		return
	}
	c.rec.ConfirmSent(m.IdempotencyKey, msg)
	c.changed(m.RoomID)
}

// Run fails submissions that outlive the timeout until ctx is done.
func (c *Chat) Run(ctx context.Context) {
	interval := c.rec.timeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, key := range c.rec.Expire(now) {
				if m, ok := c.rec.Get(key); ok {
					logger.Debugf("Submission %s timed out", key)
					c.changed(m.RoomID)
				}
			}
		}
	}
}
