package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dropwire/internal/services"
	apperrors "github.com/charlesng35/dropwire/pkg/errors"
	"github.com/charlesng35/dropwire/pkg/response"
	"github.com/charlesng35/dropwire/pkg/validator"
)

const sessionHeader = "X-Session-Id"

// UploadHandler exposes the single-shot and chunked upload endpoints.
type UploadHandler struct {
	engine  *services.UploadEngine
	baseURL string
}

// NewUploadHandler constructs an upload handler. baseURL, when set, prefixes
// the download URLs in returned descriptors.
func NewUploadHandler(engine *services.UploadEngine, baseURL string) *UploadHandler {
	return &UploadHandler{
		engine:  engine,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}
}

// Direct accepts a whole file in one multipart request.
func (h *UploadHandler) Direct(c *gin.Context) {
	code, ok := h.sessionCode(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, apperrors.NewBadRequest("No file provided"))
		return
	}

	src, err := file.Open()
	if err != nil {
		response.Error(c, apperrors.Wrap(err, "failed to read uploaded file"))
		return
	}
	defer src.Close()

	mimeType := file.Header.Get("Content-Type")
	descriptor, err := h.engine.SaveDirect(code, file.Filename, mimeType, file.Size, src)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, h.withBaseURL(descriptor))
}

type initUploadRequest struct {
	FileName    string `json:"fileName" validate:"required"`
	FileSize    int64  `json:"fileSize" validate:"min=0"`
	TotalChunks int    `json:"totalChunks" validate:"min=1"`
	MimeType    string `json:"mimeType"`
}

// Init registers a chunked upload.
func (h *UploadHandler) Init(c *gin.Context) {
	code, ok := h.sessionCode(c)
	if !ok {
		return
	}

	var req initUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("Invalid upload init payload"))
		return
	}
	if err := validator.Struct(req); err != nil {
		response.Error(c, err)
		return
	}

	uploadID, err := h.engine.Init(code, req.FileName, req.FileSize, req.TotalChunks, req.MimeType)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"uploadId": uploadID})
}

// Chunk ingests one chunk of a registered upload.
func (h *UploadHandler) Chunk(c *gin.Context) {
	uploadID := strings.TrimSpace(c.PostForm("uploadId"))
	if uploadID == "" {
		response.Error(c, apperrors.NewBadRequest("uploadId is required"))
		return
	}

	chunkIndex, err := strconv.Atoi(strings.TrimSpace(c.PostForm("chunkIndex")))
	if err != nil {
		response.Error(c, apperrors.NewBadRequest("chunkIndex must be an integer"))
		return
	}

	file, err := c.FormFile("chunk")
	if err != nil {
		response.Error(c, apperrors.NewBadRequest("No chunk provided"))
		return
	}

	src, err := file.Open()
	if err != nil {
		response.Error(c, apperrors.Wrap(err, "failed to read chunk"))
		return
	}
	defer src.Close()

	progress, err := h.engine.PutChunk(uploadID, chunkIndex, src)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{
		"success":  true,
		"progress": progressBody(progress),
	})
}

type completeUploadRequest struct {
	UploadID string `json:"uploadId" validate:"required"`
}

// Complete finalizes a chunked upload and returns the file descriptor.
func (h *UploadHandler) Complete(c *gin.Context) {
	var req completeUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("uploadId is required"))
		return
	}
	if err := validator.Struct(req); err != nil {
		response.Error(c, err)
		return
	}

	descriptor, err := h.engine.Complete(req.UploadID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, h.withBaseURL(descriptor))
}

// Progress polls an in-flight upload.
func (h *UploadHandler) Progress(c *gin.Context) {
	progress, err := h.engine.Progress(c.Param("uploadId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, progressBody(progress))
}

// Cancel abandons an in-flight upload.
func (h *UploadHandler) Cancel(c *gin.Context) {
	h.engine.Cancel(c.Param("uploadId"))
	response.JSON(c, http.StatusOK, gin.H{"success": true})
}

// sessionCode extracts and validates the X-Session-Id header. Uploads with no
// session are rejected rather than falling into a shared scratch namespace.
func (h *UploadHandler) sessionCode(c *gin.Context) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(c.GetHeader(sessionHeader)))
	if code == "" {
		response.Error(c, apperrors.NewBadRequest("Session id header is required"))
		return "", false
	}
	return code, true
}

func (h *UploadHandler) withBaseURL(descriptor *services.FileDescriptor) *services.FileDescriptor {
	if h.baseURL != "" {
		cpy := *descriptor
		cpy.DownloadURL = h.baseURL + descriptor.DownloadURL
		return &cpy
	}
	return descriptor
}

func progressBody(progress services.Progress) gin.H {
	pct := 0.0
	if progress.Total > 0 {
		pct = math.Round(float64(progress.Received)/float64(progress.Total)*10000) / 100
	}
	return gin.H{
		"totalChunks":    progress.Total,
		"receivedChunks": progress.Received,
		"progress":       pct,
		"missingChunks":  progress.Missing,
	}
}
