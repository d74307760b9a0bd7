package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/dropwire/pkg/errors"
)

// JSON writes a success payload as-is. Handlers pass the exact body the API
// contract promises, without any envelope.
func JSON(c *gin.Context, statusCode int, body any) {
	c.JSON(statusCode, body)
}

// Error renders an error as `{"error": <message>, "message": <message>}`,
// both carrying the AppError's message, plus any detail fields attached to
// the AppError.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	body := gin.H{
		"error":   appErr.Message,
		"message": appErr.Message,
	}
	for key, value := range appErr.Details {
		body[key] = value
	}

	c.AbortWithStatusJSON(status, body)
}

// ErrorMessage renders a plain 4xx/5xx with the supplied message.
func ErrorMessage(c *gin.Context, statusCode int, message string) {
	c.AbortWithStatusJSON(statusCode, gin.H{
		"error":   message,
		"message": message,
	})
}
