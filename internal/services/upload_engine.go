package services

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/dropwire/internal/storage"
	apperrors "github.com/charlesng35/dropwire/pkg/errors"
	"github.com/charlesng35/dropwire/pkg/logger"
	"github.com/charlesng35/dropwire/pkg/metrics"
)

// ErrUploadClosed rejects chunks that arrive after finalization has begun.
var ErrUploadClosed = apperrors.New(
	"UPLOAD_CLOSED",
	"Upload is being finalized",
	http.StatusConflict,
)

// EngineConfig tunes the upload engine. Negative MaxFileBytes means
// unlimited.
type EngineConfig struct {
	TTL          time.Duration
	MaxFileBytes int64
}

// uploadSession tracks an in-flight chunked upload. Chunk writes and
// finalization serialize on mu, which is the per-upload exclusive section
// that keeps Complete from racing PutChunk.
type uploadSession struct {
	mu sync.Mutex

	id         string
	code       string
	fileName   string
	mimeType   string
	totalSize  int64
	chunkCount int
	received   map[int]string
	tempDir    string

	createdAt    time.Time
	lastActivity time.Time
	closed       bool
}

// UploadEngine is the chunked upload state machine: init, receive chunks,
// assemble, finalize, plus the TTL sweep for abandoned uploads.
type UploadEngine struct {
	mu      sync.Mutex
	uploads map[string]*uploadSession

	store    *storage.Backend
	sessions *SessionManager
	cfg      EngineConfig
	timeNow  func() time.Time
	log      *zap.Logger
}

// NewUploadEngine constructs the engine once storage and the session
// registry are supplied.
func NewUploadEngine(store *storage.Backend, sessions *SessionManager, cfg EngineConfig) (*UploadEngine, error) {
	if store == nil {
		return nil, errors.New("upload engine: storage backend is required")
	}
	if sessions == nil {
		return nil, errors.New("upload engine: session manager is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}

	return &UploadEngine{
		uploads:  make(map[string]*uploadSession),
		store:    store,
		sessions: sessions,
		cfg:      cfg,
		timeNow:  time.Now,
		log:      logger.WithModule("uploads"),
	}, nil
}

// Init registers a chunked upload and creates its staging directory. The
// declared total size is pre-checked against the session quota and the
// per-file cap.
func (e *UploadEngine) Init(code, fileName string, fileSize int64, chunkCount int, mimeType string) (string, error) {
	if !e.sessions.Has(code) {
		return "", apperrors.ErrInvalidCode
	}
	if fileSize < 0 || chunkCount < 1 {
		return "", apperrors.NewBadRequest("fileSize must not be negative and totalChunks must be at least 1")
	}
	if e.cfg.MaxFileBytes >= 0 && fileSize > e.cfg.MaxFileBytes {
		return "", apperrors.ErrFileTooLarge
	}

	quota, err := e.sessions.CheckQuota(code, fileSize)
	if err != nil {
		return "", err
	}
	if !quota.Allowed {
		return "", quotaError(quota)
	}

	id := uuid.NewString()
	tempDir, err := e.store.AllocateChunkDir(code, id)
	if err != nil {
		return "", apperrors.Wrap(err, "failed to create upload staging directory")
	}

	now := e.timeNow()
	upload := &uploadSession{
		id:           id,
		code:         code,
		fileName:     fileName,
		mimeType:     mimeType,
		totalSize:    fileSize,
		chunkCount:   chunkCount,
		received:     make(map[int]string, chunkCount),
		tempDir:      tempDir,
		createdAt:    now,
		lastActivity: now,
	}

	e.mu.Lock()
	e.uploads[id] = upload
	e.mu.Unlock()

	e.log.Info("upload initialised",
		zap.String("upload_id", id),
		zap.String("code", code),
		zap.Int64("size", fileSize),
		zap.Int("chunks", chunkCount),
	)
	return id, nil
}

// Progress reports received versus expected chunks.
type Progress struct {
	Received int
	Total    int
	Missing  []int
}

// PutChunk stores one chunk. Resending an already-received index succeeds
// without rewriting anything.
func (e *UploadEngine) PutChunk(uploadID string, chunkIndex int, data io.Reader) (Progress, error) {
	upload := e.get(uploadID)
	if upload == nil {
		return Progress{}, apperrors.ErrUploadNotFound
	}

	upload.mu.Lock()
	defer upload.mu.Unlock()

	if upload.closed {
		return Progress{}, ErrUploadClosed
	}
	if chunkIndex < 0 || chunkIndex >= upload.chunkCount {
		return Progress{}, apperrors.ErrInvalidChunkIndex
	}

	upload.lastActivity = e.timeNow()

	if _, seen := upload.received[chunkIndex]; seen {
		return upload.progressLocked(), nil
	}

	path := filepath.Join(upload.tempDir, fmt.Sprintf("chunk_%d", chunkIndex))
	if err := writeChunk(path, data); err != nil {
		return Progress{}, apperrors.Wrap(err, "failed to write chunk")
	}
	upload.received[chunkIndex] = path

	return upload.progressLocked(), nil
}

// Complete assembles the chunks in index order, verifies the final size
// against the declared size, accounts the bytes, and returns the descriptor.
// An upload with missing chunks is rejected and left in place; any failure
// after that check rolls back both the destination and the staging directory.
func (e *UploadEngine) Complete(uploadID string) (*FileDescriptor, error) {
	upload := e.get(uploadID)
	if upload == nil {
		return nil, apperrors.ErrUploadNotFound
	}

	upload.mu.Lock()
	defer upload.mu.Unlock()

	if upload.closed {
		return nil, apperrors.ErrUploadNotFound
	}
	if len(upload.received) != upload.chunkCount {
		return nil, apperrors.ErrUploadIncomplete.WithDetails(map[string]any{
			"receivedChunks": len(upload.received),
			"totalChunks":    upload.chunkCount,
			"missingChunks":  missingChunks(upload.received, upload.chunkCount),
		})
	}
	upload.closed = true

	destPath, storedName, downloadURL, err := e.store.AllocateFilePath(upload.code, upload.fileName)
	if err != nil {
		e.discard(upload)
		return nil, apperrors.Wrap(err, "failed to allocate destination")
	}

	written, err := assemble(destPath, upload)
	if err != nil {
		_ = os.Remove(destPath)
		e.discard(upload)
		metrics.Uploads.WithLabelValues("failed").Inc()
		return nil, apperrors.Wrap(err, "failed to assemble upload")
	}
	if written != upload.totalSize {
		_ = os.Remove(destPath)
		e.discard(upload)
		metrics.Uploads.WithLabelValues("failed").Inc()
		e.log.Warn("assembled size mismatch",
			zap.String("upload_id", upload.id),
			zap.Int64("declared", upload.totalSize),
			zap.Int64("actual", written),
		)
		return nil, apperrors.ErrSizeMismatch
	}

	e.discard(upload)
	e.sessions.AccountStorage(upload.code, written)
	metrics.Uploads.WithLabelValues("completed").Inc()

	e.log.Info("upload completed",
		zap.String("upload_id", upload.id),
		zap.String("code", upload.code),
		zap.String("stored_name", storedName),
		zap.Int64("size", written),
	)

	return &FileDescriptor{
		Name:        storage.SanitizeFileName(upload.fileName),
		Size:        written,
		MimeType:    upload.mimeType,
		DownloadURL: downloadURL,
	}, nil
}

// Cancel abandons an upload, removing its staging directory. Unknown IDs are
// ignored so cancellation is always safe to retry.
func (e *UploadEngine) Cancel(uploadID string) {
	upload := e.get(uploadID)
	if upload == nil {
		return
	}

	upload.mu.Lock()
	upload.closed = true
	upload.mu.Unlock()

	e.discard(upload)
	metrics.Uploads.WithLabelValues("cancelled").Inc()
	e.log.Info("upload cancelled", zap.String("upload_id", uploadID))
}

// Progress reports how many chunks have arrived and which are still missing.
func (e *UploadEngine) Progress(uploadID string) (Progress, error) {
	upload := e.get(uploadID)
	if upload == nil {
		return Progress{}, apperrors.ErrUploadNotFound
	}

	upload.mu.Lock()
	defer upload.mu.Unlock()
	return upload.progressLocked(), nil
}

// SaveDirect stores a single-shot upload straight into the session's files
// directory, enforcing the per-file cap and quota before any byte lands.
func (e *UploadEngine) SaveDirect(code, fileName, mimeType string, size int64, data io.Reader) (*FileDescriptor, error) {
	if !e.sessions.Has(code) {
		return nil, apperrors.ErrInvalidCode
	}
	if e.cfg.MaxFileBytes >= 0 && size > e.cfg.MaxFileBytes {
		return nil, apperrors.ErrFileTooLarge
	}

	quota, err := e.sessions.CheckQuota(code, size)
	if err != nil {
		return nil, err
	}
	if !quota.Allowed {
		return nil, quotaError(quota)
	}

	destPath, storedName, downloadURL, err := e.store.AllocateFilePath(code, fileName)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to allocate destination")
	}

	written, err := writeFile(destPath, data)
	if err != nil {
		_ = os.Remove(destPath)
		metrics.Uploads.WithLabelValues("failed").Inc()
		return nil, apperrors.Wrap(err, "failed to store file")
	}

	e.sessions.AccountStorage(code, written)
	metrics.Uploads.WithLabelValues("completed").Inc()

	e.log.Info("file stored",
		zap.String("code", code),
		zap.String("stored_name", storedName),
		zap.Int64("size", written),
	)

	return &FileDescriptor{
		Name:        storage.SanitizeFileName(fileName),
		Size:        written,
		MimeType:    mimeType,
		DownloadURL: downloadURL,
	}, nil
}

// SweepExpired removes uploads whose last activity is older than the TTL,
// along with their staging directories. Failures are logged per upload and do
// not stop the sweep.
func (e *UploadEngine) SweepExpired() int {
	cutoff := e.timeNow().Add(-e.cfg.TTL)

	e.mu.Lock()
	snapshot := make([]*uploadSession, 0, len(e.uploads))
	for _, upload := range e.uploads {
		snapshot = append(snapshot, upload)
	}
	e.mu.Unlock()

	var stale []*uploadSession
	for _, upload := range snapshot {
		upload.mu.Lock()
		if !upload.closed && upload.lastActivity.Before(cutoff) {
			upload.closed = true
			stale = append(stale, upload)
		}
		upload.mu.Unlock()
	}

	for _, upload := range stale {
		e.discard(upload)
		metrics.Uploads.WithLabelValues("expired").Inc()
		e.log.Info("upload expired", zap.String("upload_id", upload.id), zap.String("code", upload.code))
	}
	return len(stale)
}

// Count reports the number of in-flight uploads.
func (e *UploadEngine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.uploads)
}

func (e *UploadEngine) get(uploadID string) *uploadSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uploads[uploadID]
}

// discard drops the upload from the registry and removes its staging
// directory. Callers must have marked the upload closed first.
func (e *UploadEngine) discard(upload *uploadSession) {
	e.mu.Lock()
	delete(e.uploads, upload.id)
	e.mu.Unlock()

	if err := os.RemoveAll(upload.tempDir); err != nil {
		e.log.Warn("failed to remove upload staging dir",
			zap.String("upload_id", upload.id), zap.Error(err))
	}
}

func (u *uploadSession) progressLocked() Progress {
	return Progress{
		Received: len(u.received),
		Total:    u.chunkCount,
		Missing:  missingChunks(u.received, u.chunkCount),
	}
}

func missingChunks(received map[int]string, total int) []int {
	missing := make([]int, 0)
	for i := 0; i < total; i++ {
		if _, ok := received[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

func quotaError(quota QuotaStatus) error {
	return apperrors.ErrQuotaExceeded.WithDetails(map[string]any{
		"currentUsage": quota.CurrentUsage,
		"limit":        quota.Limit,
	})
}

func writeChunk(path string, data io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

func writeFile(path string, data io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(f, data)
	if err != nil {
		_ = f.Close()
		return written, err
	}
	return written, f.Close()
}

// assemble concatenates chunk_0..chunk_N-1 into destPath and reports the
// bytes written.
func assemble(destPath string, upload *uploadSession) (int64, error) {
	dest, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}

	var written int64
	for i := 0; i < upload.chunkCount; i++ {
		path, ok := upload.received[i]
		if !ok {
			_ = dest.Close()
			return written, fmt.Errorf("chunk %d missing at assembly", i)
		}
		chunk, err := os.Open(path)
		if err != nil {
			_ = dest.Close()
			return written, err
		}
		n, err := io.Copy(dest, chunk)
		_ = chunk.Close()
		written += n
		if err != nil {
			_ = dest.Close()
			return written, err
		}
	}
	return written, dest.Close()
}
