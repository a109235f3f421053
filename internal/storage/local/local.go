package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/akmistry/snaptar/internal/storage"
)

const (
	tempBlobPrefix  = ".temp-"
	tempBlobPattern = tempBlobPrefix + "*"
)

var (
	_ = (storage.BlobStore)((*BlobStore)(nil))
)

type fileReader struct {
	*os.File
	size int64
}

func (r *fileReader) Size() int64 {
	return r.size
}

func openFileReader(fpath string) (*fileReader, error) {
	f, err := os.Open(fpath)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	r := &fileReader{
		File: f,
		size: fi.Size(),
	}
	return r, nil
}

type BlobStore struct {
	dir string
}

func NewBlobStore(dir string) (*BlobStore, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, fmt.Errorf("local.BlobStore: error making blob dir %s: %w", dir, err)
	}

	s := &BlobStore{
		dir: dir,
	}
	return s, nil
}

func (s *BlobStore) makeFilePath(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *BlobStore) makeTempFile() (*os.File, error) {
	return os.CreateTemp(s.dir, tempBlobPattern)
}

func (s *BlobStore) Open(name string) (storage.BlobReader, error) {
	fpath := s.makeFilePath(name)
	r, err := openFileReader(fpath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", storage.ErrBlobNotFound, name)
	} else if err != nil {
		return nil, err
	}
	return r, nil
}

type blobWriter struct {
	f    *os.File
	ctx  context.Context
	path string
}

func (w *blobWriter) Write(b []byte) (int, error) {
	if w.f == nil {
		return 0, os.ErrClosed
	}
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}
	return w.f.Write(b)
}

func (w *blobWriter) Close() error {
	if w.f == nil {
		return os.ErrClosed
	}
	f := w.f
	w.f = nil
	defer os.Remove(f.Name())

	if err := w.ctx.Err(); err != nil {
		f.Close()
		slog.Debug("local.BlobStore: blob cancelled", "path", w.path, "error", err)
		return err
	}

	err := f.Sync()
	if err != nil {
		// Close the file on sync error to avoid an FD leak
		f.Close()
		return err
	}
	err = f.Close()
	if err != nil {
		return err
	}
	return os.Rename(f.Name(), w.path)
}

func (s *BlobStore) Create(ctx context.Context, name string) (storage.BlobWriter, error) {
	fpath := s.makeFilePath(name)
	err := os.MkdirAll(filepath.Dir(fpath), 0755)
	if err != nil {
		return nil, err
	}
	f, err := s.makeTempFile()
	if err != nil {
		return nil, err
	}
	return &blobWriter{
		f:    f,
		ctx:  ctx,
		path: fpath,
	}, nil
}

func (s *BlobStore) Remove(name string) error {
	fpath := s.makeFilePath(name)
	err := os.Remove(fpath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", storage.ErrBlobNotFound, name)
	}
	return err
}
