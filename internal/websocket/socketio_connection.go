package websocket

import (
	"context"

	"github.com/bhandras/huddle/internal/metrics"
	"github.com/bhandras/huddle/internal/websocket/handlers"
	"github.com/bhandras/huddle/shared/logger"
	"github.com/bhandras/huddle/shared/wire"
	socket "github.com/zishang520/socket.io/servers/socket/v3"
)

func (s *SocketIOServer) handleConnection(client *socket.Socket) {
	socketID := string(client.Id())

	logger.Infof("Socket.IO connection attempt (socket ID: %s)", socketID)

	authMap := client.Handshake().Auth
	if len(authMap) == 0 {
		logger.Warnf("Socket.IO missing auth data (socket %s)", socketID)
		rejectAuth(client, "Missing authentication data")
		return
	}

	var authPayload wire.SocketAuthPayload
	if err := decodeAny(authMap, &authPayload); err != nil {
		logger.Warnf("Socket.IO invalid auth data (socket %s): %v", socketID, err)
		rejectAuth(client, "Invalid authentication data")
		return
	}

	token, err := handlers.ValidateSocketAuthPayload(authPayload)
	if err != nil {
		logger.Warnf("Socket.IO handshake auth rejected (socket %s): %v", socketID, err)
		rejectAuth(client, err.Error())
		return
	}

	claims, err := s.verifier.VerifyToken(token)
	if err != nil {
		logger.Warnf("Socket.IO invalid token (socket %s): %v", socketID, err)
		rejectAuth(client, "Invalid authentication token")
		return
	}

	ctx := context.Background()
	subject, err := s.hub.Provision(ctx, claims.Subject, claims.Name, claims.Picture)
	if err != nil {
		logger.Errorf("Socket.IO subject provisioning failed (socket %s): %v", socketID, err)
		rejectAuth(client, "Authentication failed")
		return
	}
	logger.Debugf("Socket.IO token verified: subject=%s external=%s socketId=%s",
		subject.ID, claims.Subject, socketID)

	conn := newConnection(client, s.newLimiter())
	s.connections.Store(socketID, conn)

	// Registered before admission so a socket that drops mid-handshake is
	// still released.
	client.On("disconnect", func(data ...any) {
		reason := ""
		if len(data) > 0 {
			reason, _ = data[0].(string)
		}
		s.release(context.Background(), conn, reason)
	})
	s.registerClientHandlers(conn)

	session, err := s.hub.Connect(ctx, subject, conn)
	if err != nil {
		logger.Errorf("Socket.IO admission failed (socket %s): %v", socketID, err)
		s.connections.Delete(socketID)
		conn.shutdown()
		rejectAuth(client, "Authentication failed")
		return
	}
	if !conn.attach(session) {
		// Disconnected while being admitted.
		s.hub.Disconnect(context.Background(), session)
		return
	}

	go conn.run(session)
	logger.Infof("Socket.IO client ready (subject: %s, socket: %s, rooms: %d)",
		subject.ID, socketID, len(session.Rooms()))
}

// release tears a connection down exactly once: the loop stops and the
// session is handed back to the hub.
func (s *SocketIOServer) release(ctx context.Context, conn *connection, reason string) {
	session, ok := conn.shutdown()
	if !ok {
		return
	}
	s.connections.Delete(conn.ID())
	logger.Infof("Socket.IO client disconnected (socket %s): %s", conn.ID(), reason)
	if session != nil {
		s.hub.Disconnect(ctx, session)
	}
	metrics.SocketEvents.WithLabelValues("disconnect", "ok").Inc()
}
