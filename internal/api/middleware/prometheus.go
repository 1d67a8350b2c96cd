package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pipeguard/pipeguard/internal/observability"
)

// Prometheus records per-request metrics keyed by the route template,
// so /v1/alerts/:id stays one series regardless of the id.
func Prometheus(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			// Unmatched routes would explode cardinality.
			route = "unmatched"
		}
		metrics.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
