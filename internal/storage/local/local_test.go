package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/akmistry/snaptar/internal/storage"
)

func TestBlobStore_CreateOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBlobStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("The quick brown fox jumps over the lazy dog")
	w, err := s.Create(context.Background(), "blob")
	if err != nil {
		t.Fatal(err)
	}
	n, err := w.Write(data)
	if n != len(data) || err != nil {
		t.Errorf("Write (%d, %v)", n, err)
	}

	_, err = s.Open("blob")
	if !errors.Is(err, storage.ErrBlobNotFound) {
		t.Errorf("Open before Close error %v != ErrBlobNotFound", err)
	}

	err = w.Close()
	if err != nil {
		t.Fatal(err)
	}
	err = w.Close()
	if err == nil {
		t.Error("second Close unexpected nil error")
	}

	r, err := s.Open("blob")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.Size() != int64(len(data)) {
		t.Errorf("Size() %d != %d", r.Size(), len(data))
	}
	buf, err := io.ReadAll(io.NewSectionReader(r, 0, r.Size()))
	if err != nil || !bytes.Equal(buf, data) {
		t.Errorf("read (%q, %v) != %q", buf, err, data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries != 1 (temp file left behind?)", len(entries))
	}
}

func TestBlobStore_Cancelled(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBlobStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w, err := s.Create(ctx, "sub/blob")
	if err != nil {
		t.Fatal(err)
	}
	_, err = w.Write([]byte("data"))
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	_, err = w.Write([]byte("more"))
	if err != context.Canceled {
		t.Errorf("Write after cancel error %v != Canceled", err)
	}
	err = w.Close()
	if err != context.Canceled {
		t.Errorf("Close after cancel error %v != Canceled", err)
	}

	_, err = os.Stat(filepath.Join(dir, "sub", "blob"))
	if !os.IsNotExist(err) {
		t.Errorf("blob exists after cancel: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			t.Errorf("unexpected file %s", e.Name())
		}
	}
}

func TestBlobStore_Remove(t *testing.T) {
	s, err := NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	err = s.Remove("missing")
	if !errors.Is(err, storage.ErrBlobNotFound) {
		t.Errorf("Remove error %v != ErrBlobNotFound", err)
	}

	w, err := s.Create(context.Background(), "blob")
	if err != nil {
		t.Fatal(err)
	}
	if err = w.Close(); err != nil {
		t.Fatal(err)
	}
	if err = s.Remove("blob"); err != nil {
		t.Error(err)
	}
	_, err = s.Open("blob")
	if !errors.Is(err, storage.ErrBlobNotFound) {
		t.Errorf("Open after Remove error %v != ErrBlobNotFound", err)
	}
}
