package util

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
)

var (
	ErrNegativeSize = errors.New("util: negative file size")

	_ = (io.Reader)((*ZeroFillReader)(nil))
)

// Source is an open file that can report its current length. *os.File
// satisfies it.
type Source interface {
	io.Reader
	Stat() (fs.FileInfo, error)
}

// ZeroFillReader reads exactly Size() bytes from a file whose length was
// snapshotted at construction. Reads never go past the snapshot. If the
// file is truncated before the snapshot is reached, the missing tail is
// returned as zeros.
//
// The underlying file is borrowed. It is never closed by the reader, and
// it must remain open until the reader is no longer used. The reader is
// single use and not safe for concurrent use.
type ZeroFillReader struct {
	f      Source
	size   int64
	read   int64
	padded int64
}

func NewZeroFillReader(f Source) (*ZeroFillReader, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("util.ZeroFillReader: stat error: %w", err)
	}
	size := fi.Size()
	if size < 0 {
		return nil, ErrNegativeSize
	}
	return &ZeroFillReader{
		f:    f,
		size: size,
	}, nil
}

func (r *ZeroFillReader) Read(b []byte) (int, error) {
	if r.read >= r.size {
		return 0, io.EOF
	}
	if len(b) == 0 {
		return 0, nil
	}

	rem := r.size - r.read
	readLen := len(b)
	if int64(readLen) > rem {
		readLen = int(rem)
	}
	n, err := r.f.Read(b[:readLen])
	if n > 0 {
		r.read += int64(n)
		if err == io.EOF {
			// Any shortfall is padded on the next call.
			err = nil
		}
		return n, err
	}
	if err == io.EOF {
		// Truncated below the snapshot.
		clear(b[:readLen])
		r.read += int64(readLen)
		r.padded += int64(readLen)
		return readLen, nil
	}
	return 0, err
}

// Size returns the length snapshotted at construction.
func (r *ZeroFillReader) Size() int64 {
	return r.size
}

// BytesRead returns the number of bytes returned so far, including padding.
func (r *ZeroFillReader) BytesRead() int64 {
	return r.read
}

// Padded returns the number of zero bytes substituted for missing data.
func (r *ZeroFillReader) Padded() int64 {
	return r.padded
}

func (r *ZeroFillReader) Truncated() bool {
	return r.padded > 0
}
