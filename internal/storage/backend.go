package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	apperrors "github.com/charlesng35/dropwire/pkg/errors"
	"github.com/charlesng35/dropwire/pkg/logger"
)

const (
	filesDir  = "files"
	chunksDir = "chunks"
)

var controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)

// Backend owns the filesystem namespace under a single root directory. Each
// session occupies a disjoint subtree, so no cross-session locking is needed.
type Backend struct {
	root    string
	log     *zap.Logger
	timeNow func() time.Time
}

// NewBackend constructs a Backend rooted at the supplied directory, creating
// it if missing.
func NewBackend(root string) (*Backend, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("storage: root directory is required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}

	return &Backend{
		root:    abs,
		log:     logger.WithModule("storage"),
		timeNow: time.Now,
	}, nil
}

// Root returns the absolute storage root directory.
func (b *Backend) Root() string { return b.root }

// CreateSessionTree creates the per-session directory layout. Idempotent.
func (b *Backend) CreateSessionTree(code string) error {
	if err := validateComponent(code); err != nil {
		return err
	}

	for _, dir := range []string{
		filepath.Join(b.root, code),
		filepath.Join(b.root, code, filesDir),
		filepath.Join(b.root, code, chunksDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("storage: create session tree %s: %w", code, err)
		}
	}
	return nil
}

// DeleteSessionTree recursively removes a session subtree. A missing tree is
// not an error.
func (b *Backend) DeleteSessionTree(code string) error {
	if err := validateComponent(code); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(b.root, code)); err != nil {
		return fmt.Errorf("storage: delete session tree %s: %w", code, err)
	}
	return nil
}

// AllocateFilePath reserves a destination for a new file inside the session's
// files directory. The stored name is the original name, sanitized, prefixed
// with a millisecond timestamp to avoid collisions. The file itself is not
// created.
func (b *Backend) AllocateFilePath(code, originalName string) (absPath, storedName, downloadURL string, err error) {
	if err := validateComponent(code); err != nil {
		return "", "", "", err
	}

	storedName = fmt.Sprintf("%d-%s", b.timeNow().UnixMilli(), SanitizeFileName(originalName))
	absPath = filepath.Join(b.root, code, filesDir, storedName)
	downloadURL = "/downloads/" + code + "/" + storedName
	return absPath, storedName, downloadURL, nil
}

// AllocateChunkDir creates and returns the staging directory for a chunked
// upload.
func (b *Backend) AllocateChunkDir(code, uploadID string) (string, error) {
	if err := validateComponent(code); err != nil {
		return "", err
	}
	if err := validateComponent(uploadID); err != nil {
		return "", err
	}

	dir := filepath.Join(b.root, code, chunksDir, uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: create chunk dir: %w", err)
	}
	return dir, nil
}

// SessionUsage recursively scans the session's files directory and reports
// total bytes and file count.
func (b *Backend) SessionUsage(code string) (bytes int64, fileCount int, err error) {
	if err := validateComponent(code); err != nil {
		return 0, 0, err
	}

	dir := filepath.Join(b.root, code, filesDir)
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		bytes += info.Size()
		fileCount++
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, fs.ErrNotExist) {
		return 0, 0, fmt.Errorf("storage: scan session %s: %w", code, walkErr)
	}
	return bytes, fileCount, nil
}

// SweepOrphans removes every child directory of the root that is not present
// in liveCodes. Per-directory failures are aggregated, not fatal.
func (b *Backend) SweepOrphans(liveCodes map[string]struct{}) error {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return fmt.Errorf("storage: read root: %w", err)
	}

	var errs error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, live := liveCodes[entry.Name()]; live {
			continue
		}
		if err := os.RemoveAll(filepath.Join(b.root, entry.Name())); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("storage: remove orphan %s: %w", entry.Name(), err))
			continue
		}
		b.log.Info("removed orphan session directory", zap.String("code", entry.Name()))
	}
	return errs
}

// Open resolves a stored file for download. Both path components are rejected
// if they contain separators or parent references, and the canonical path is
// verified to remain inside the session's files directory.
func (b *Backend) Open(code, storedName string) (*os.File, os.FileInfo, error) {
	if err := validateComponent(code); err != nil {
		return nil, nil, err
	}
	if err := validateComponent(storedName); err != nil {
		return nil, nil, err
	}

	path := filepath.Join(b.root, code, filesDir, storedName)
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, apperrors.ErrNotFound
		}
		return nil, nil, fmt.Errorf("storage: resolve %s: %w", storedName, err)
	}

	base := filepath.Join(b.root, code, filesDir)
	if resolvedBase, err := filepath.EvalSymlinks(base); err == nil {
		base = resolvedBase
	}
	if !strings.HasPrefix(resolved, base+string(filepath.Separator)) {
		return nil, nil, apperrors.ErrInvalidPath
	}

	f, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, apperrors.ErrNotFound
		}
		return nil, nil, fmt.Errorf("storage: open %s: %w", storedName, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("storage: stat %s: %w", storedName, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, nil, apperrors.ErrNotFound
	}
	return f, info, nil
}

// SanitizeFileName replaces path separators and parent references in an
// untrusted file name with underscores, removes control characters, and trims
// leading and trailing dots and spaces. An empty result becomes "file".
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "..", "_")
	name = controlChars.ReplaceAllString(name, "")
	name = strings.Trim(name, ". ")
	if name == "" {
		return "file"
	}
	return name
}

func validateComponent(value string) error {
	if value == "" ||
		strings.ContainsAny(value, "/\\") ||
		strings.Contains(value, "..") ||
		value == "." {
		return apperrors.ErrInvalidPath
	}
	return nil
}
