package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "huddle_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Realtime metrics
	ConnectedSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_connected_sessions",
			Help: "Live authenticated sessions",
		},
	)

	SessionsSuperseded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_sessions_superseded_total",
			Help: "Sessions terminated by a newer connection of the same subject",
		},
	)

	SocketEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_socket_events_total",
			Help: "Inbound socket events by name and outcome",
		},
		[]string{"event", "result"}, // result: "success" or an error code
	)

	MessagesCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_messages_committed_total",
			Help: "Messages durably written",
		},
		[]string{"source"}, // "socket" or "http"
	)

	DuplicateSubmissions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_duplicate_submissions_total",
			Help: "Submissions collapsed onto an existing message by idempotency key",
		},
	)

	FanoutDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_fanout_deliveries_total",
			Help: "Room scoped events delivered to subscribers",
		},
		[]string{"event"},
	)

	TypingExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_typing_expired_total",
			Help: "Typing indicators expired by TTL sweep",
		},
	)

	RoomQueueLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "huddle_room_queue_latency_seconds",
			Help:    "Time a write waits in its room queue before running",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"event"},
	)
)
