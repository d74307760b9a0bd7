package handlers

import (
	"math"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dropwire/internal/services"
	"github.com/charlesng35/dropwire/pkg/response"
)

// SessionHandler exposes pairing-code minting and the storage/server stats
// endpoints.
type SessionHandler struct {
	manager *services.SessionManager
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(manager *services.SessionManager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

// CreateCode mints a fresh pairing code.
func (h *SessionHandler) CreateCode(c *gin.Context) {
	code, err := h.manager.CreateSession()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"code": code})
}

// Storage reports the session's quota usage.
func (h *SessionHandler) Storage(c *gin.Context) {
	code := strings.ToUpper(strings.TrimSpace(c.Param("code")))

	quota, err := h.manager.CheckQuota(code, 0)
	if err != nil {
		response.Error(c, err)
		return
	}

	formattedLimit := "Unlimited"
	usagePercentage := 0.0
	if !quota.Unlimited {
		formattedLimit = humanize.IBytes(uint64(quota.Limit))
		if quota.Limit > 0 {
			usagePercentage = math.Round(float64(quota.CurrentUsage)/float64(quota.Limit)*10000) / 100
		}
	}

	response.JSON(c, http.StatusOK, gin.H{
		"currentUsage":    quota.CurrentUsage,
		"limit":           quota.Limit,
		"fileCount":       quota.FileCount,
		"formattedUsage":  humanize.IBytes(uint64(quota.CurrentUsage)),
		"formattedLimit":  formattedLimit,
		"usagePercentage": usagePercentage,
		"isUnlimited":     quota.Unlimited,
	})
}

// ServerStats reports registry occupancy against the session cap.
func (h *SessionHandler) ServerStats(c *gin.Context) {
	stats := h.manager.Stats()
	response.JSON(c, http.StatusOK, gin.H{
		"activeSessions":  stats.ActiveSessions,
		"maxSessions":     stats.MaxSessions,
		"availableSlots":  stats.AvailableSlots,
		"usagePercentage": math.Round(stats.UsagePercentage*100) / 100,
		"isUnlimited":     stats.IsUnlimited,
	})
}
