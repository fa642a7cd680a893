package middleware

import (
	"strconv"
	"time"

	"github.com/bhandras/huddle/internal/metrics"
	"github.com/bhandras/huddle/shared/logger"
	"github.com/gin-gonic/gin"
)

// LoggingMiddleware logs HTTP requests and records request metrics.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		// Route templates keep label cardinality bounded.
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(statusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(latency.Seconds())

		// Log format: [method] path?query - status (latency)
		if raw != "" {
			path = path + "?" + raw
		}
		if statusCode >= 500 {
			logger.Warnf("[%s] %s - %d (%v)", c.Request.Method, path, statusCode, latency)
			return
		}
		logger.Debugf("[%s] %s - %d (%v)", c.Request.Method, path, statusCode, latency)
	}
}
