package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/dropwire/pkg/logger"
	"github.com/charlesng35/dropwire/pkg/response"
)

// blockedAgents are substrings of User-Agent values used by common automation
// tools. The API is meant to be driven by the bundled web client, not
// scripted against directly.
var blockedAgents = []string{
	"curl",
	"wget",
	"python-requests",
	"python-urllib",
	"go-http-client",
	"scrapy",
	"httpie",
	"postmanruntime",
	"java/",
	"okhttp",
}

// AccessPolicy rejects obvious automation user agents and, when an origin
// allow-list is configured, requires the Origin or Referer header to match
// it. An empty allow-list disables the origin check.
func AccessPolicy(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	log := logger.WithModule("accesspolicy")

	return func(c *gin.Context) {
		agent := strings.ToLower(c.Request.UserAgent())
		if agent == "" {
			response.ErrorMessage(c, http.StatusForbidden, "Request not allowed")
			return
		}
		for _, blocked := range blockedAgents {
			if strings.Contains(agent, blocked) {
				log.Debug("blocked automation agent",
					zap.String("user_agent", agent),
					zap.String("client_ip", c.ClientIP()),
				)
				response.ErrorMessage(c, http.StatusForbidden, "Request not allowed")
				return
			}
		}

		if len(allowed) == 0 {
			c.Next()
			return
		}

		origin := requestOrigin(c)
		if origin == "" {
			response.ErrorMessage(c, http.StatusForbidden, "Request not allowed")
			return
		}
		if _, ok := allowed[origin]; !ok {
			log.Debug("blocked origin", zap.String("origin", origin))
			response.ErrorMessage(c, http.StatusForbidden, "Request not allowed")
			return
		}

		c.Next()
	}
}

// requestOrigin extracts a normalized scheme://host[:port] from the Origin
// header, falling back to Referer.
func requestOrigin(c *gin.Context) string {
	if origin := strings.TrimSpace(c.GetHeader("Origin")); origin != "" {
		return strings.TrimRight(origin, "/")
	}

	referer := strings.TrimSpace(c.GetHeader("Referer"))
	if referer == "" {
		return ""
	}
	parsed, err := url.Parse(referer)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}
