// Package storage downloads uploaded documents from where the upload landed.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
)

// MaxObjectSize caps a single download.
const MaxObjectSize = 25 << 20

var ErrTooLarge = errors.New("object exceeds size limit")

// Client fetches the raw bytes of a stored document.
type Client interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// DownloadError carries the path that failed. Missing objects unwrap to
// common.ErrNotFound.
type DownloadError struct {
	Backend string
	Path    string
	Err     error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s download %q: %v", e.Backend, e.Path, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// FS serves paths relative to a root directory.
type FS struct {
	root   string
	logger *slog.Logger
}

func NewFS(root string, logger *slog.Logger) *FS {
	if logger == nil {
		logger = slog.Default()
	}
	return &FS{root: root, logger: logger}
}

func (f *FS) Download(ctx context.Context, path string) ([]byte, error) {
	full, err := f.resolve(path)
	if err != nil {
		return nil, &DownloadError{Backend: "fs", Path: path, Err: err}
	}
	fh, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &DownloadError{Backend: "fs", Path: path, Err: common.ErrNotFound}
	}
	if err != nil {
		return nil, &DownloadError{Backend: "fs", Path: path, Err: err}
	}
	defer fh.Close()

	data, err := readLimited(ctx, fh)
	if err != nil {
		return nil, &DownloadError{Backend: "fs", Path: path, Err: err}
	}
	f.logger.Debug("storage.download", "backend", "fs", "path", path, "bytes", len(data))
	return data, nil
}

// resolve keeps lookups inside the root. Absolute paths already under the
// root are accepted as-is.
func (f *FS) resolve(path string) (string, error) {
	path = strings.TrimPrefix(path, "file://")
	if f.root == "" {
		return filepath.Clean(path), nil
	}
	root, err := filepath.Abs(f.root)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(path) {
		if rel, err := filepath.Rel(root, path); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.Clean(path), nil
		}
	}
	rel := filepath.Clean("/" + filepath.ToSlash(path))
	return filepath.Join(root, filepath.FromSlash(rel)), nil
}

func readLimited(ctx context.Context, r io.Reader) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r, MaxObjectSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxObjectSize {
		return nil, ErrTooLarge
	}
	return data, nil
}
