// Package blob provides opaque object storage for export artifacts, backed by
// any S3-compatible endpoint.
package blob

import (
	"context"
	"errors"
)

// ErrStorage wraps provider failures so callers can classify storage errors
// without depending on SDK types.
var ErrStorage = errors.New("blob storage error")

// Store is the object storage contract the export and retention workers use.
// Remove is idempotent: deleting an already-deleted path is a no-op.
type Store interface {
	// EnsureBucket creates the bucket if it does not exist. Implementations
	// may cache positive results; see the documented lifecycle on S3Store.
	EnsureBucket(ctx context.Context, bucket string) error

	// Put uploads an object.
	Put(ctx context.Context, bucket, path string, data []byte, contentType string) error

	// Remove deletes the given paths. Missing objects are ignored.
	Remove(ctx context.Context, bucket string, paths []string) error

	// Get downloads an object. Returns ErrStorage-wrapped errors on failure.
	Get(ctx context.Context, bucket, path string) ([]byte, error)
}
