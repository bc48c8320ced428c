package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo is one listed object of the report archive.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter stores an object under path, replacing any previous one.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader opens and lists objects. Get returns ErrNotFound for a missing
// path.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// BlobDeleter removes objects. Deleting a missing path succeeds.
type BlobDeleter interface {
	Delete(ctx context.Context, path string) error
}
