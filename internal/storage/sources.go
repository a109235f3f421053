package storage

import (
	"context"
	"errors"
	"io"
)

var (
	ErrBlobNotFound = errors.New("storage: blob not found")
)

type BlobReader interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// BlobWriter makes the blob visible on a successful Close. A writer whose
// context is cancelled before Close leaves no blob behind.
type BlobWriter interface {
	io.WriteCloser
}

type BlobStore interface {
	Open(name string) (BlobReader, error)
	Create(ctx context.Context, name string) (BlobWriter, error)
	Remove(name string) error
}
