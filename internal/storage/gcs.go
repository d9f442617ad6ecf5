package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	gcstorage "cloud.google.com/go/storage"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
)

// GCS reads objects from a Cloud Storage bucket. Paths may be bare object
// names or gs://bucket/object URLs.
type GCS struct {
	client *gcstorage.Client
	bucket string
	logger *slog.Logger
}

func NewGCS(ctx context.Context, bucket string, logger *slog.Logger) (*GCS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := gcstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &GCS{client: client, bucket: bucket, logger: logger}, nil
}

func (g *GCS) Close() error { return g.client.Close() }

func (g *GCS) Download(ctx context.Context, path string) ([]byte, error) {
	bucket, object, err := SplitGCSPath(g.bucket, path)
	if err != nil {
		return nil, &DownloadError{Backend: "gcs", Path: path, Err: err}
	}
	rc, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, gcstorage.ErrObjectNotExist) || errors.Is(err, gcstorage.ErrBucketNotExist) {
		return nil, &DownloadError{Backend: "gcs", Path: path, Err: common.ErrNotFound}
	}
	if err != nil {
		g.logger.Error("storage.download.failed", "backend", "gcs", "bucket", bucket, "object", object, "err", err)
		return nil, &DownloadError{Backend: "gcs", Path: path, Err: err}
	}
	defer rc.Close()

	data, err := readLimited(ctx, rc)
	if err != nil {
		return nil, &DownloadError{Backend: "gcs", Path: path, Err: err}
	}
	g.logger.Debug("storage.download", "backend", "gcs", "bucket", bucket, "object", object, "bytes", len(data))
	return data, nil
}

// SplitGCSPath returns the bucket and object for path, falling back to
// defaultBucket for bare object names.
func SplitGCSPath(defaultBucket, path string) (string, string, error) {
	if rest, ok := strings.CutPrefix(path, "gs://"); ok {
		bucket, object, found := strings.Cut(rest, "/")
		if !found || bucket == "" || object == "" {
			return "", "", fmt.Errorf("%w: malformed gcs url %q", common.ErrInvalidInput, path)
		}
		return bucket, object, nil
	}
	object := strings.TrimPrefix(path, "/")
	if defaultBucket == "" || object == "" {
		return "", "", fmt.Errorf("%w: no bucket for %q", common.ErrInvalidInput, path)
	}
	return defaultBucket, object, nil
}
