package archive

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

var (
	ErrUnknownCompression = errors.New("archive: unknown compression")
)

type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
	CompressionXz
	CompressionLz4
)

var compressionNames = map[Compression]string{
	CompressionNone: "none",
	CompressionGzip: "gzip",
	CompressionZstd: "zstd",
	CompressionXz:   "xz",
	CompressionLz4:  "lz4",
}

var compressionExts = map[Compression]string{
	CompressionNone: "",
	CompressionGzip: ".gz",
	CompressionZstd: ".zst",
	CompressionXz:   ".xz",
	CompressionLz4:  ".lz4",
}

func ParseCompression(s string) (Compression, error) {
	if s == "" {
		return CompressionNone, nil
	}
	for c, name := range compressionNames {
		if name == s {
			return c, nil
		}
	}
	return CompressionNone, fmt.Errorf("%w: %q", ErrUnknownCompression, s)
}

func (c Compression) String() string {
	if name, ok := compressionNames[c]; ok {
		return name
	}
	return "unknown"
}

// Extension returns the file name suffix appended after ".tar".
func (c Compression) Extension() string {
	return compressionExts[c]
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}

// NewCompressor wraps w. Closing the returned writer flushes the compressed
// stream, but does not close w.
func (c Compression) NewCompressor(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionGzip:
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case CompressionZstd:
		return zstd.NewWriter(w)
	case CompressionXz:
		return xz.NewWriter(w)
	case CompressionLz4:
		return lz4.NewWriter(w), nil
	}
	return nil, ErrUnknownCompression
}

func (c Compression) NewDecompressor(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CompressionNone:
		return io.NopCloser(r), nil
	case CompressionGzip:
		return gzip.NewReader(r)
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case CompressionXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case CompressionLz4:
		return io.NopCloser(lz4.NewReader(r)), nil
	}
	return nil, ErrUnknownCompression
}
