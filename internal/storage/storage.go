package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/dispatch-intel/internal/config"
)

// BlobStore abstracts audio blob storage backends. Blobs are keyed by
// segment id under a date directory: {YYYY-MM-DD}/{segment_id}{ext}.
// Merged segments live in the same namespace.
type BlobStore interface {
	// Save stores a blob. Content type is persisted on the segment row, not
	// in the store.
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// Open returns a reader for the blob.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if a blob exists in any backend.
	Exists(ctx context.Context, key string) bool

	// LocalPath returns the local filesystem path if the blob is on disk.
	LocalPath(key string) string

	// URL returns a presigned URL for the blob; "" for local-only backends.
	URL(ctx context.Context, key string) (string, error)

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// BlobKey builds the canonical store key for a segment blob.
func BlobKey(capturedAt time.Time, segmentID, ext string) string {
	return fmt.Sprintf("%s/%s%s", capturedAt.UTC().Format("2006-01-02"), segmentID, ext)
}

// Load reads an entire blob.
func Load(ctx context.Context, store BlobStore, key string) ([]byte, error) {
	r, err := store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// New creates a BlobStore based on config. Local-only unless S3 is
// configured, in which case blobs are written through to both tiers.
// Returns an error if S3 is configured but unreachable.
func New(cfg config.S3Config, audioDir string, log zerolog.Logger) (BlobStore, error) {
	local := NewLocalStore(audioDir)
	if !cfg.Enabled() {
		return local, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("s3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("s3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("s3 connection verified")

	return NewTieredStore(s3store, local, log), nil
}
