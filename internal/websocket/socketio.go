package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/bhandras/huddle/internal/crypto"
	"github.com/bhandras/huddle/internal/realtime"
	"github.com/bhandras/huddle/internal/websocket/handlers"
	"github.com/bhandras/huddle/shared/logger"
	"github.com/gin-gonic/gin"
	socket "github.com/zishang520/socket.io/servers/socket/v3"
	sockettypes "github.com/zishang520/socket.io/v3/pkg/types"
	"golang.org/x/time/rate"
)

const (
	// SocketIOPath is the endpoint clients connect to.
	SocketIOPath = "/v1/updates"

	// SocketIOPingInterval defines how frequently the server pings clients to
	// detect stale/disconnected sockets. Abrupt disconnects are noticed
	// within interval + timeout, which bounds how long a dead session keeps
	// its presence and typing state.
	SocketIOPingInterval = 5 * time.Second

	// SocketIOPingTimeout defines how long the server waits before considering a
	// socket dead (no pong received).
	SocketIOPingTimeout = 15 * time.Second

	defaultRateLimit = 20
)

// Options tunes the Socket.IO server.
type Options struct {
	// RateLimit is the sustained number of inbound events per second allowed
	// per connection. Zero uses the default.
	RateLimit int
	// AllowedOrigins restricts CORS; empty means any origin.
	AllowedOrigins []string
}

// SocketIOServer wraps the Socket.IO server and bridges connections into the
// realtime hub.
type SocketIOServer struct {
	hub      *realtime.Hub
	verifier crypto.Verifier
	server   *socket.Server
	deps     handlers.Deps
	opts     Options

	// connections maps socket ID to *connection.
	connections sync.Map
}

// NewSocketIOServer creates a new Socket.IO v4 server.
func NewSocketIOServer(hub *realtime.Hub, verifier crypto.Verifier, opts Options) *SocketIOServer {
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRateLimit
	}

	serverOpts := socket.DefaultServerOptions()
	serverOpts.SetCors(&sockettypes.Cors{
		Origin:      corsOrigin(opts.AllowedOrigins),
		Credentials: false,
	})
	serverOpts.SetPingTimeout(SocketIOPingTimeout)
	serverOpts.SetPingInterval(SocketIOPingInterval)
	serverOpts.SetPath(SocketIOPath)

	s := &SocketIOServer{
		hub:      hub,
		verifier: verifier,
		server:   socket.NewServer(nil, serverOpts),
		deps:     handlers.NewHubDeps(hub),
		opts:     opts,
	}
	s.setupHandlers()
	return s
}

func corsOrigin(origins []string) any {
	if openOrigins(origins) {
		return "*"
	}
	return origins
}

func openOrigins(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// setupHandlers configures Socket.IO event handlers.
func (s *SocketIOServer) setupHandlers() {
	s.server.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		s.handleConnection(client)
	})
}

func (s *SocketIOServer) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.RateLimit*2)
}

func decodeAny(input any, out any) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func getFirstAnyWithAck(data []any) (any, func(...any)) {
	var ack func(...any)
	if len(data) == 0 {
		return nil, nil
	}
	if cb, ok := data[len(data)-1].(func(...any)); ok {
		ack = cb
		data = data[:len(data)-1]
	} else if cb, ok := data[len(data)-1].(socket.Ack); ok {
		ack = func(args ...any) {
			cb(args, nil)
		}
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return nil, ack
	}
	return data[0], ack
}

// idempotencyKeyOf peeks at a raw send_message payload so that failures
// raised before decoding can still be tied to the client's optimistic copy.
func idempotencyKeyOf(raw any) string {
	m, ok := raw.(map[string]any)
	if !ok {
		return ""
	}
	key, _ := m["idempotencyKey"].(string)
	return key
}

// ConnectionCount returns the number of admitted connections.
func (s *SocketIOServer) ConnectionCount() int {
	n := 0
	s.connections.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// HandleSocketIO creates a Gin handler for Socket.IO.
func (s *SocketIOServer) HandleSocketIO() gin.HandlerFunc {
	httpHandler := s.server.ServeHandler(nil)

	return func(c *gin.Context) {
		if origin := s.allowOrigin(c.GetHeader("Origin")); origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "false")

		// Handle preflight
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusOK)
			return
		}

		logger.Tracef("Socket.IO request: %s %s", c.Request.Method, c.Request.URL.Path)
		httpHandler.ServeHTTP(c.Writer, c.Request)
	}
}

func (s *SocketIOServer) allowOrigin(origin string) string {
	if openOrigins(s.opts.AllowedOrigins) {
		return "*"
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == origin {
			return origin
		}
	}
	return ""
}

// Close disconnects every client and shuts down the Socket.IO server.
func (s *SocketIOServer) Close() error {
	s.connections.Range(func(_, value any) bool {
		if c, ok := value.(*connection); ok {
			s.release(context.Background(), c, "server shutdown")
		}
		return true
	})
	s.server.Close(nil)
	return nil
}
