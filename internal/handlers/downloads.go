package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dropwire/internal/storage"
	"github.com/charlesng35/dropwire/pkg/response"
)

// DownloadHandler streams stored files out of the session tree.
type DownloadHandler struct {
	store *storage.Backend
}

// NewDownloadHandler constructs a download handler.
func NewDownloadHandler(store *storage.Backend) *DownloadHandler {
	return &DownloadHandler{store: store}
}

// Serve resolves and streams a stored file. Path components are validated by
// the backend; anything escaping the session's files directory is rejected.
func (h *DownloadHandler) Serve(c *gin.Context) {
	code := strings.ToUpper(strings.TrimSpace(c.Param("code")))
	filename := c.Param("filename")

	f, info, err := h.store.Open(code, filename)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Name()))
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}
