package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads immutable objects (settlement archives) to object
// storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves archived objects.
type BlobReader interface {
	// Get returns the object body; the caller closes it. Missing objects
	// are reported as ErrBlobNotFound.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}
