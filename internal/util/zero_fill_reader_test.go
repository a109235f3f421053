package util

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/akmistry/snaptar/internal/testutil"
)

type fakeInfo struct {
	size int64
}

func (i fakeInfo) Name() string       { return "fake" }
func (i fakeInfo) Size() int64        { return i.size }
func (i fakeInfo) Mode() fs.FileMode  { return 0644 }
func (i fakeInfo) ModTime() time.Time { return time.Time{} }
func (i fakeInfo) IsDir() bool        { return false }
func (i fakeInfo) Sys() any           { return nil }

type readResult struct {
	n   int
	err error
}

// fakeSource reports a fixed size and replays scripted read results. Once
// the script is exhausted it reads from data.
type fakeSource struct {
	size    int64
	statErr error
	script  []readResult
	data    *bytes.Reader
	reads   int
}

func (s *fakeSource) Stat() (fs.FileInfo, error) {
	if s.statErr != nil {
		return nil, s.statErr
	}
	return fakeInfo{size: s.size}, nil
}

func (s *fakeSource) Read(b []byte) (int, error) {
	s.reads++
	if len(s.script) > 0 {
		res := s.script[0]
		s.script = s.script[1:]
		for i := 0; i < res.n; i++ {
			b[i] = 0xaa
		}
		return res.n, res.err
	}
	if s.data == nil {
		return 0, io.EOF
	}
	return s.data.Read(b)
}

func openTestFile(t *testing.T, size int) (*os.File, []byte) {
	t.Helper()
	fpath, data := testutil.WriteFile(t, t.TempDir(), "file", size)
	f, err := os.OpenFile(fpath, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f, data
}

func TestZeroFillReader_Unmodified(t *testing.T) {
	for _, size := range []int{0, 1, 100, 4096, 100000} {
		f, data := openTestFile(t, size)
		r, err := NewZeroFillReader(f)
		if err != nil {
			t.Fatal(err)
		}
		if r.Size() != int64(size) {
			t.Errorf("Size() %d != %d", r.Size(), size)
		}

		out := testutil.ReadRandomSizes(t, r, 1000)
		if !bytes.Equal(out, data) {
			t.Errorf("size %d: read data != file data (len %d)", size, len(out))
		}
		if r.BytesRead() != int64(size) || r.Padded() != 0 || r.Truncated() {
			t.Errorf("size %d: read %d, padded %d", size, r.BytesRead(), r.Padded())
		}
	}
}

func TestZeroFillReader_TruncatedBeforeRead(t *testing.T) {
	tests := []struct {
		size     int
		truncLen int
	}{
		{100, 0},
		{100, 1},
		{100, 99},
		{10000, 4096},
		{10000, 5000},
	}
	for i, tc := range tests {
		f, data := openTestFile(t, tc.size)
		r, err := NewZeroFillReader(f)
		if err != nil {
			t.Fatal(err)
		}
		err = f.Truncate(int64(tc.truncLen))
		if err != nil {
			t.Fatal(err)
		}

		out := testutil.ReadRandomSizes(t, r, 512)
		testutil.CheckPadded(t, out, data, tc.truncLen, tc.size)
		expPadded := int64(tc.size - tc.truncLen)
		if r.Padded() != expPadded {
			t.Errorf("%d: Padded() %d != %d", i, r.Padded(), expPadded)
		}
		if !r.Truncated() {
			t.Errorf("%d: Truncated() false", i)
		}
	}
}

func TestZeroFillReader_TruncatedDuringRead(t *testing.T) {
	f, data := openTestFile(t, 100)
	r, err := NewZeroFillReader(f)
	if err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 60)
	n, err := io.ReadFull(r, buf)
	if n != 60 || err != nil {
		t.Fatalf("ReadFull n: %d, err: %v", n, err)
	}
	if !bytes.Equal(buf, data[:60]) {
		t.Error("first 60 bytes != file data")
	}

	err = f.Truncate(60)
	if err != nil {
		t.Fatal(err)
	}

	rest, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 40 {
		t.Errorf("read %d bytes after truncation != 40", len(rest))
	}
	_, err = io.Copy(testutil.ZeroWriter(), bytes.NewReader(rest))
	if err != nil {
		t.Error(err)
	}
	if r.BytesRead() != 100 || r.Padded() != 40 {
		t.Errorf("read %d, padded %d", r.BytesRead(), r.Padded())
	}

	n, err = r.Read(buf)
	if n != 0 || err != io.EOF {
		t.Errorf("Read after end (%d, %v) != (0, EOF)", n, err)
	}
}

func TestZeroFillReader_Grown(t *testing.T) {
	f, data := openTestFile(t, 1000)
	r, err := NewZeroFillReader(f)
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.WriteAt(testutil.RandomData(5000), 1000)
	if err != nil {
		t.Fatal(err)
	}

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("read %d bytes, expected original %d bytes", len(out), len(data))
	}
}

func TestZeroFillReader_ExhaustedDoesNotRead(t *testing.T) {
	src := &fakeSource{size: 4, data: bytes.NewReader([]byte{1, 2, 3, 4})}
	r, err := NewZeroFillReader(src)
	if err != nil {
		t.Fatal(err)
	}
	out, err := io.ReadAll(r)
	if err != nil || len(out) != 4 {
		t.Fatalf("ReadAll (%d, %v)", len(out), err)
	}

	reads := src.reads
	buf := []byte{0xff, 0xff, 0xff}
	for i := 0; i < 3; i++ {
		n, err := r.Read(buf)
		if n != 0 || err != io.EOF {
			t.Errorf("%d: (%d, %v) != (0, EOF)", i, n, err)
		}
	}
	n, err := r.Read(nil)
	if n != 0 || err != io.EOF {
		t.Errorf("Read(nil) (%d, %v) != (0, EOF)", n, err)
	}
	if src.reads != reads {
		t.Errorf("source reads %d != %d", src.reads, reads)
	}
	if !bytes.Equal(buf, []byte{0xff, 0xff, 0xff}) {
		t.Errorf("buffer modified: %v", buf)
	}
	if r.BytesRead() != 4 {
		t.Errorf("BytesRead() %d != 4", r.BytesRead())
	}
}

func TestZeroFillReader_EmptyBuffer(t *testing.T) {
	src := &fakeSource{size: 10}
	r, err := NewZeroFillReader(src)
	if err != nil {
		t.Fatal(err)
	}
	n, err := r.Read([]byte{})
	if n != 0 || err != nil {
		t.Errorf("(%d, %v) != (0, nil)", n, err)
	}
	if src.reads != 0 || r.BytesRead() != 0 || r.Padded() != 0 {
		t.Errorf("reads %d, read %d, padded %d", src.reads, r.BytesRead(), r.Padded())
	}
}

func TestZeroFillReader_StatError(t *testing.T) {
	statErr := errors.New("stat failed")
	r, err := NewZeroFillReader(&fakeSource{statErr: statErr})
	if r != nil {
		t.Error("expected nil reader")
	}
	if !errors.Is(err, statErr) {
		t.Errorf("error %v does not wrap %v", err, statErr)
	}

	f, _ := openTestFile(t, 10)
	f.Close()
	r, err = NewZeroFillReader(f)
	if r != nil || err == nil {
		t.Errorf("closed file: (%v, %v)", r, err)
	}

	_, err = NewZeroFillReader(&fakeSource{size: -1})
	if err != ErrNegativeSize {
		t.Errorf("error %v != ErrNegativeSize", err)
	}
}

func TestZeroFillReader_ReadError(t *testing.T) {
	readErr := errors.New("read failed")
	src := &fakeSource{
		size: 10,
		script: []readResult{
			{n: 3},
			{n: 0, err: readErr},
			{n: 2, err: readErr},
			{n: 0, err: nil},
		},
	}
	r, err := NewZeroFillReader(src)
	if err != nil {
		t.Fatal(err)
	}

	type readCase struct {
		readLen int
		expN    int
		expErr  error
		expRead int64
	}
	reads := []readCase{
		{readLen: 4, expN: 3, expErr: nil, expRead: 3},
		// Errors are passed through, and counters are unchanged.
		{readLen: 4, expN: 0, expErr: readErr, expRead: 3},
		// Data delivered with an error is still counted.
		{readLen: 4, expN: 2, expErr: readErr, expRead: 5},
		// No progress without EOF is not truncation.
		{readLen: 4, expN: 0, expErr: nil, expRead: 5},
		// Script exhausted, source reports EOF.
		{readLen: 4, expN: 4, expErr: nil, expRead: 9},
		{readLen: 4, expN: 1, expErr: nil, expRead: 10},
		{readLen: 4, expN: 0, expErr: io.EOF, expRead: 10},
	}
	for i, rc := range reads {
		buf := make([]byte, rc.readLen)
		n, err := r.Read(buf)
		if n != rc.expN || err != rc.expErr || r.BytesRead() != rc.expRead {
			t.Errorf("%d: Read(%d) (%d, %v, read %d) != expected (%d, %v, read %d)",
				i, rc.readLen, n, err, r.BytesRead(), rc.expN, rc.expErr, rc.expRead)
		}
	}
	if r.Padded() != 5 {
		t.Errorf("Padded() %d != 5", r.Padded())
	}
}

func TestZeroFillReader_DataWithEOF(t *testing.T) {
	src := &fakeSource{
		size:   8,
		script: []readResult{{n: 5, err: io.EOF}},
	}
	r, err := NewZeroFillReader(src)
	if err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 16)
	n, err := r.Read(buf)
	if n != 5 || err != nil {
		t.Errorf("(%d, %v) != (5, nil)", n, err)
	}
	n, err = r.Read(buf)
	if n != 3 || err != nil {
		t.Errorf("(%d, %v) != (3, nil)", n, err)
	}
	_, err = io.Copy(testutil.ZeroWriter(), bytes.NewReader(buf[:n]))
	if err != nil {
		t.Error(err)
	}
	n, err = r.Read(buf)
	if n != 0 || err != io.EOF {
		t.Errorf("(%d, %v) != (0, EOF)", n, err)
	}
}
