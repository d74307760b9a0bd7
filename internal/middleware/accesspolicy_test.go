package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const browserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"

func policyRouter(allowedOrigins []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AccessPolicy(allowedOrigins))
	r.GET("/probe", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func probe(r *gin.Engine, userAgent, origin, referer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAccessPolicyBlocksAutomationAgents(t *testing.T) {
	r := policyRouter(nil)

	for _, agent := range []string{
		"curl/8.4.0",
		"Wget/1.21",
		"python-requests/2.31",
		"PostmanRuntime/7.32.2",
		"Go-http-client/1.1",
		"",
	} {
		w := probe(r, agent, "", "")
		require.Equal(t, http.StatusForbidden, w.Code, "agent %q", agent)
	}
}

func TestAccessPolicyAllowsBrowsersWithoutAllowList(t *testing.T) {
	r := policyRouter(nil)

	w := probe(r, browserAgent, "", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAccessPolicyEnforcesOriginAllowList(t *testing.T) {
	r := policyRouter([]string{"https://drop.example.com"})

	w := probe(r, browserAgent, "https://drop.example.com", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = probe(r, browserAgent, "https://evil.example.com", "")
	require.Equal(t, http.StatusForbidden, w.Code)

	// Referer works as a fallback when Origin is absent.
	w = probe(r, browserAgent, "", "https://drop.example.com/app/session")
	require.Equal(t, http.StatusOK, w.Code)

	// No provenance at all is rejected when an allow-list is configured.
	w = probe(r, browserAgent, "", "")
	require.Equal(t, http.StatusForbidden, w.Code)
}
