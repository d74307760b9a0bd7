package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/dropwire/pkg/logger"
	"github.com/charlesng35/dropwire/pkg/response"
)

// Recovery converts panics into a 500 response and logs the error, keeping
// each request an isolated failure domain.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithModule("http").Error("panic",
					zap.String("path", c.Request.URL.Path),
					zap.Any("error", r),
				)
				// Avoid leaking internals to clients
				response.ErrorMessage(c, http.StatusInternalServerError, "Internal server error")
			}
		}()
		c.Next()
	}
}

// NotFoundHandler returns a JSON 404 response for unknown routes.
func NotFoundHandler(c *gin.Context) {
	response.ErrorMessage(c, http.StatusNotFound, "route not found")
}
