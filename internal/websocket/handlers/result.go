package handlers

import (
	"errors"

	"github.com/bhandras/huddle/internal/realtime"
	"github.com/bhandras/huddle/shared/wire"
)

// ErrRateLimited is returned when a connection exceeds its event budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// Emit is a single event delivered to the calling session only. Room and
// global fan-out happen inside the realtime components so that delivery order
// follows commit order.
type Emit struct {
	event   string
	payload any
}

// Event returns the event name.
func (e Emit) Event() string {
	return e.event
}

// Payload returns the event payload.
func (e Emit) Payload() any {
	return e.payload
}

// EventResult is the outcome of a socket event handler.
type EventResult struct {
	ack   wire.ResultAck
	emits []Emit
	err   error
}

// NewEventResult constructs an EventResult.
func NewEventResult(ack wire.ResultAck, emits []Emit) EventResult {
	return EventResult{ack: ack, emits: emits}
}

// Ack returns the ACK payload.
func (r EventResult) Ack() wire.ResultAck {
	return r.ack
}

// Emits returns the events addressed to the caller.
func (r EventResult) Emits() []Emit {
	return r.emits
}

// Err returns the handler failure, if any.
func (r EventResult) Err() error {
	return r.err
}

func success(data any, emits ...Emit) EventResult {
	return NewEventResult(wire.SuccessAck(data), emits)
}

// Failure converts err into an error ACK plus an error event for the caller.
// idempotencyKey ties a failed send back to the client's optimistic copy.
func Failure(event string, err error, idempotencyKey string) EventResult {
	code := realtime.CodeOf(err)
	msg := errorMessage(err)
	if errors.Is(err, ErrRateLimited) {
		code, msg = wire.CodeRateLimited, err.Error()
	}
	return EventResult{
		ack: wire.ErrorAck(code, msg),
		emits: []Emit{{
			event: wire.EventError,
			payload: wire.ErrorPayload{
				Message:        msg,
				Code:           code,
				Event:          event,
				IdempotencyKey: idempotencyKey,
			},
		}},
		err: err,
	}
}

// errorMessage hides internal detail of persistence failures.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, realtime.ErrAuthentication), errors.Is(err, realtime.ErrAuthorization),
		errors.Is(err, realtime.ErrNotFound), errors.Is(err, realtime.ErrValidation):
		return err.Error()
	default:
		return "Internal error"
	}
}
