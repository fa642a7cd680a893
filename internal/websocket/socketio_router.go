package websocket

import (
	"context"
	"fmt"

	"github.com/bhandras/huddle/internal/metrics"
	"github.com/bhandras/huddle/internal/realtime"
	"github.com/bhandras/huddle/internal/websocket/handlers"
	"github.com/bhandras/huddle/shared/logger"
	"github.com/bhandras/huddle/shared/wire"
)

// onTypedAck registers event on conn: decode -> handler -> ack -> emit to the
// caller. Every event goes through the connection's rate budget and inbox.
func onTypedAck[Req any](
	conn *connection,
	event string,
	deps handlers.Deps,
	handler func(context.Context, handlers.Deps, handlers.AuthContext, Req) handlers.EventResult,
) {
	conn.client.On(event, func(data ...any) {
		raw, ack := getFirstAnyWithAck(data)

		if !conn.limiter.Allow() {
			metrics.RateLimitHits.WithLabelValues(event).Inc()
			conn.reply(ack, handlers.Failure(event, handlers.ErrRateLimited, idempotencyKeyOf(raw)))
			return
		}

		queued := conn.enqueue(inboundEvent{
			event: event,
			run: func(ctx context.Context, auth handlers.AuthContext) {
				var req Req
				var result handlers.EventResult
				if err := decodeAny(raw, &req); err != nil {
					err = fmt.Errorf("%w: malformed %s payload", realtime.ErrValidation, event)
					result = handlers.Failure(event, err, idempotencyKeyOf(raw))
				} else {
					result = handler(ctx, deps, auth, req)
				}
				observe(event, auth, result)
				conn.reply(ack, result)
			},
		})
		if !queued {
			metrics.RateLimitHits.WithLabelValues(event).Inc()
			conn.reply(ack, handlers.Failure(event, handlers.ErrRateLimited, idempotencyKeyOf(raw)))
		}
	})
}

func observe(event string, auth handlers.AuthContext, result handlers.EventResult) {
	if result.Ack().OK() {
		metrics.SocketEvents.WithLabelValues(event, "ok").Inc()
		return
	}
	metrics.SocketEvents.WithLabelValues(event, "error").Inc()

	err := result.Err()
	if result.Ack().Code == wire.CodePersistence {
		logger.Errorf("Socket event %s from %s failed: %v", event, auth.UserID(), err)
		return
	}
	logger.Debugf("Socket event %s from %s rejected: %v", event, auth.UserID(), err)
}
