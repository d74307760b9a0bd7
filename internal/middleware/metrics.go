package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dropwire/pkg/metrics"
)

// Metrics records latency and response size for each HTTP request. Unmatched
// paths share one label so probing random URLs cannot grow the route
// cardinality, and the scrape endpoint does not observe itself.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		status := strconv.Itoa(c.Writer.Status())
		metrics.APILatency.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())

		if size := c.Writer.Size(); size > 0 {
			metrics.ResponseBytes.Add(float64(size))
		}
	}
}
