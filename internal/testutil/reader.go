package testutil

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

type checkZeros struct {
	off int64
}

func (c *checkZeros) Write(p []byte) (int, error) {
	for i, v := range p {
		if v != 0 {
			return i, fmt.Errorf("Non-zero byte 0x%02x at offset %d", v, c.off+int64(i))
		}
	}
	c.off += int64(len(p))
	return len(p), nil
}

// ZeroWriter returns a writer that fails on the first non-zero byte.
func ZeroWriter() io.Writer {
	return &checkZeros{}
}

func RandomData(size int) []byte {
	b := make([]byte, size)
	rand.Read(b)
	// Avoid zero bytes so padding is distinguishable from data.
	for i, v := range b {
		if v == 0 {
			b[i] = 1
		}
	}
	return b
}

// WriteFile creates dir/name containing size random non-zero bytes.
func WriteFile(t *testing.T, dir, name string, size int) (string, []byte) {
	t.Helper()

	data := RandomData(size)
	fpath := filepath.Join(dir, filepath.FromSlash(name))
	err := os.MkdirAll(filepath.Dir(fpath), 0755)
	if err != nil {
		t.Fatal(err)
	}
	err = os.WriteFile(fpath, data, 0644)
	if err != nil {
		t.Fatal(err)
	}
	return fpath, data
}

// CheckPadded verifies that buf has length size, starts with data[:realLen]
// and is zero after it.
func CheckPadded(t *testing.T, buf, data []byte, realLen, size int) {
	t.Helper()

	if len(buf) != size {
		t.Errorf("len %d != size %d", len(buf), size)
		return
	}
	if !bytes.Equal(buf[:realLen], data[:realLen]) {
		t.Errorf("data before offset %d differs", realLen)
	}
	_, err := io.Copy(ZeroWriter(), bytes.NewReader(buf[realLen:]))
	if err != nil {
		t.Errorf("padding after offset %d: %v", realLen, err)
	}
}

// ReadRandomSizes drains r using reads of random length up to maxReadSize,
// and returns everything read.
func ReadRandomSizes(t *testing.T, r io.Reader, maxReadSize int) []byte {
	t.Helper()

	var out []byte
	buf := make([]byte, maxReadSize)
	for {
		readSize := rand.Intn(maxReadSize) + 1
		n, err := r.Read(buf[:readSize])
		if n < 0 || n > readSize {
			t.Fatalf("Read(%d) returned %d", readSize, n)
		}
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out
		} else if err != nil {
			t.Fatalf("Read(%d) error %v", readSize, err)
		}
	}
}
