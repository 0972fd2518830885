package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"carelink-backend/pkg/metrics"
)

// Prometheus records per-request duration metrics. The path label uses the
// route template, not the raw URL, so ids do not explode cardinality.
func Prometheus() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestDurationSeconds.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
