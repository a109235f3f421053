package cloud

import (
	"context"
	"log/slog"
	"os"
	"sync"

	cu "github.com/akmistry/cloud-util"
	_ "github.com/akmistry/cloud-util/all"
	"github.com/akmistry/cloud-util/cache"

	"github.com/akmistry/snaptar/internal/storage"
)

// BlobStore stores archives in a cloud-util blob store, selected by URL
// scheme. Uploads can be staged through a local directory, and reads can
// be served from a local block cache.
type BlobStore struct {
	bs cu.BlobStore

	// Underlying storage, excluding caches
	baseBs cu.BlobStore
}

var _ = (storage.BlobStore)((*BlobStore)(nil))

func NewBlobStore(url, stagingDir, cacheDir string, cacheSize int64) (*BlobStore, error) {
	bs, err := cu.OpenBlobStore(url)
	if err != nil {
		return nil, err
	}
	baseBs := bs
	if stagingDir != "" {
		bs, err = cache.NewStagedBlobUploader(bs, stagingDir)
		if err != nil {
			return nil, err
		}
	}
	if cacheDir != "" && cacheSize > 0 {
		bs, err = cache.NewBlockBlobCache(bs, cacheDir, cacheSize)
		if err != nil {
			return nil, err
		}
	}
	s := &BlobStore{
		bs:     bs,
		baseBs: baseBs,
	}
	return s, nil
}

// Base returns a store that bypasses the staging and cache layers.
func (s *BlobStore) Base() storage.BlobStore {
	if s.bs == s.baseBs {
		return s
	}
	return &BlobStore{
		bs:     s.baseBs,
		baseBs: s.baseBs,
	}
}

func (s *BlobStore) Open(name string) (storage.BlobReader, error) {
	return s.bs.Get(name)
}

// blobWriter commits or cancels an upload, never both.
type blobWriter struct {
	w    cu.PutWriter
	name string

	once      sync.Once
	done      chan struct{}
	cancelErr error
}

func newBlobWriter(ctx context.Context, w cu.PutWriter, name string) *blobWriter {
	bw := &blobWriter{
		w:    w,
		name: name,
		done: make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			bw.abandon(ctx.Err())
		case <-bw.done:
		}
	}()
	return bw
}

func (w *blobWriter) Write(b []byte) (int, error) {
	return w.w.Write(b)
}

func (w *blobWriter) abandon(err error) {
	w.once.Do(func() {
		slog.Warn("cloud.BlobStore: upload cancelled", "name", w.name, "error", err)
		w.cancelErr = err
		if cerr := w.w.Cancel(); cerr != nil {
			slog.Warn("cloud.BlobStore: error cancelling upload", "name", w.name, "error", cerr)
		}
	})
}

// Close commits the upload. If the upload was already cancelled, the
// cancellation error is returned instead.
func (w *blobWriter) Close() error {
	err := os.ErrClosed
	w.once.Do(func() {
		close(w.done)
		err = w.w.Close()
	})
	if w.cancelErr != nil {
		return w.cancelErr
	}
	return err
}

// Create starts an upload. Cancelling ctx before Close abandons it.
func (s *BlobStore) Create(ctx context.Context, name string) (storage.BlobWriter, error) {
	w, err := s.bs.Put(name)
	if err != nil {
		return nil, err
	}
	return newBlobWriter(ctx, w, name), nil
}

func (s *BlobStore) Remove(name string) error {
	return s.bs.Delete(name)
}
