package util

import (
	"io"
)

// SizedReaderAt is a random access blob with a known length.
type SizedReaderAt interface {
	io.ReaderAt
	Size() int64
}

// BlobStream reads a SizedReaderAt sequentially, from offset 0 to Size().
type BlobStream struct {
	r   SizedReaderAt
	off int64
}

func NewBlobStream(r SizedReaderAt) *BlobStream {
	return &BlobStream{r: r}
}

func (s *BlobStream) Read(b []byte) (int, error) {
	size := s.r.Size()
	if s.off >= size {
		return 0, io.EOF
	}
	if rem := size - s.off; int64(len(b)) > rem {
		b = b[:rem]
	}
	n, err := s.r.ReadAt(b, s.off)
	if n > 0 {
		s.off += int64(n)
	}
	if err == io.EOF && s.off < size {
		err = io.ErrUnexpectedEOF
	} else if err == io.EOF && n > 0 {
		// ReaderAt may return EOF with the final bytes.
		err = nil
	}
	return n, err
}
