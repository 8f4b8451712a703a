package domain

import (
	"context"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BlobInfo describes one object in blob storage.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves objects from blob storage. Get returns ErrNotFound
// when the object does not exist.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// BlobDeleter removes objects from blob storage. Deletion is idempotent.
type BlobDeleter interface {
	Delete(ctx context.Context, path string) error
}

// Archiver exports the settlement snapshot of a finished market to durable
// blob storage. It returns the storage path of the written snapshot.
type Archiver interface {
	ArchiveMarket(ctx context.Context, marketID common.Hash) (string, error)
}
