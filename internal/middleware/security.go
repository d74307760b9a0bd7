package middleware

import "github.com/gin-gonic/gin"

// SecurityHeaders applies common HTTP response headers that harden the API
// against clickjacking, MIME sniffing and basic XSS.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	}
}
