package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dropwire/pkg/response"
)

// RateLimit returns a middleware that limits requests per (clientIP,path)
// within a fixed window. In-memory, suitable for single-instance deployments
// and tests.
func RateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	type counter struct {
		count     int
		windowEnd time.Time
	}

	var (
		mu   sync.Mutex
		data = make(map[string]*counter)
	)

	tick := time.NewTicker(window)
	// Periodically cleanup old counters to avoid unbounded growth
	go func() {
		for range tick.C {
			now := time.Now()
			mu.Lock()
			for k, v := range data {
				if now.After(v.windowEnd) {
					delete(data, k)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		if maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		key := c.ClientIP() + "|" + c.FullPath()
		now := time.Now()

		mu.Lock()
		ct, ok := data[key]
		if !ok || now.After(ct.windowEnd) {
			ct = &counter{count: 0, windowEnd: now.Add(window)}
			data[key] = ct
		}
		ct.count++
		remaining := maxRequests - ct.count
		resetIn := time.Until(ct.windowEnd)
		mu.Unlock()

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))

		if ct.count > maxRequests {
			response.ErrorMessage(c, http.StatusTooManyRequests, "Too many requests, please slow down")
			return
		}

		c.Next()
	}
}
