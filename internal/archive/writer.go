package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/akmistry/go-util/bufferpool"
	"github.com/bits-and-blooms/bitset"

	"github.com/akmistry/snaptar/internal/util"
)

var (
	ErrWriterClosed = errors.New("archive: writer closed")
	ErrNotRegular   = errors.New("archive: not a regular file")
	ErrNotDir       = errors.New("archive: not a directory")
	ErrNotSymlink   = errors.New("archive: not a symlink")
)

type EntryResult struct {
	Name   string
	Size   int64
	Padded int64
	CRC    uint32
}

type Summary struct {
	// Number of tar entries written, of any type.
	Entries int
	// Number of regular file entries.
	Files int
	// Payload bytes written, including padding.
	Bytes int64
	// Zero bytes substituted for truncated file data.
	Padded int64
	// Entry indices of files that were padded.
	PaddedEntries *bitset.BitSet
	// Files that disappeared before they could be opened.
	Skipped int
}

// Writer writes files into a (possibly compressed) tar stream. Each file's
// header commits to the size observed when the file is opened, and the
// payload always matches it, even if the file shrinks during the copy.
//
// A Writer is not safe for concurrent use. After any error that leaves the
// tar stream inconsistent, every further call returns that error.
type Writer struct {
	cw     io.WriteCloser
	tw     *tar.Writer
	opts   Options
	owners *ownerCache
	index  *Index

	summary Summary
	err     error
	closed  bool

	// Called after a file is opened and its size is snapshotted.
	afterOpen func(f *os.File)
}

func NewWriter(w io.Writer, opts Options) (*Writer, error) {
	opts.setDefaults()
	cw, err := opts.Compression.NewCompressor(w)
	if err != nil {
		return nil, err
	}
	aw := &Writer{
		cw:     cw,
		tw:     tar.NewWriter(cw),
		opts:   opts,
		owners: newOwnerCache(),
		summary: Summary{
			PaddedEntries: bitset.New(0),
		},
	}
	if !opts.DisableIndex {
		aw.index = NewIndex(opts.Compression)
	}
	return aw, nil
}

func (w *Writer) check(ctx context.Context) error {
	if w.closed {
		return ErrWriterClosed
	} else if w.err != nil {
		return w.err
	}
	return ctx.Err()
}

func (w *Writer) makeHeader(fi fs.FileInfo, name, link string) (*tar.Header, error) {
	hdr, err := tar.FileInfoHeader(fi, link)
	if err != nil {
		return nil, err
	}
	hdr.Name = name
	hdr.Uname = w.owners.UserName(hdr.Uid)
	hdr.Gname = w.owners.GroupName(hdr.Gid)
	return hdr, nil
}

func (w *Writer) writeHeader(hdr *tar.Header) error {
	err := w.tw.WriteHeader(hdr)
	if err != nil {
		w.err = fmt.Errorf("archive: error writing header for %s: %w", hdr.Name, err)
		return w.err
	}
	w.summary.Entries++
	return nil
}

// AddFile archives the regular file at fpath as name.
func (w *Writer) AddFile(ctx context.Context, fpath, name string) (*EntryResult, error) {
	if err := w.check(ctx); err != nil {
		return nil, err
	}

	// Opening a fifo would block, so check the type before opening.
	lfi, err := os.Lstat(fpath)
	if err != nil {
		return nil, err
	}
	if !lfi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegular, fpath)
	}
	f, err := os.OpenFile(fpath, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() || !os.SameFile(lfi, fi) {
		return nil, fmt.Errorf("%w: %s replaced while opening", ErrNotRegular, fpath)
	}
	r, err := util.NewZeroFillReader(f)
	if err != nil {
		return nil, err
	}
	if w.afterOpen != nil {
		w.afterOpen(f)
	}

	hdr, err := w.makeHeader(fi, name, "")
	if err != nil {
		return nil, err
	}
	hdr.Size = r.Size()
	entryIndex := w.summary.Entries
	err = w.writeHeader(hdr)
	if err != nil {
		return nil, err
	}

	crc, err := w.copyData(ctx, r)
	if err != nil {
		// The header has committed to a size we can no longer deliver.
		w.err = fmt.Errorf("archive: error copying %s: %w", name, err)
		return nil, w.err
	}

	res := &EntryResult{
		Name:   name,
		Size:   r.Size(),
		Padded: r.Padded(),
		CRC:    crc,
	}
	w.summary.Files++
	w.summary.Bytes += res.Size
	if res.Padded > 0 {
		slog.Warn("archive/Writer: file truncated while archiving, padded with zeros",
			"name", name, "size", util.DetailedBytes(res.Size), "padded", util.DetailedBytes(res.Padded))
		w.summary.Padded += res.Padded
		w.summary.PaddedEntries.Set(uint(entryIndex))
	} else {
		slog.Debug("archive/Writer: added file", "name", name, "size", util.Bytes(res.Size))
	}
	if w.index != nil {
		w.index.Entries = append(w.index.Entries, IndexEntry(*res))
	}
	return res, nil
}

func (w *Writer) copyData(ctx context.Context, r *util.ZeroFillReader) (uint32, error) {
	bufSize := w.opts.BufferSize
	readBuffer := bufferpool.GetBuffer(bufSize)
	defer bufferpool.PutBuffer(readBuffer)
	buf := readBuffer.AvailableBuffer()[:bufSize]

	crc := crc32.NewIEEE()
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			crc.Write(buf[:n])
			nw, werr := w.tw.Write(buf[:n])
			if werr != nil {
				return 0, werr
			} else if nw != n {
				return 0, io.ErrShortWrite
			}
		}
		if err == io.EOF {
			break
		} else if err != nil {
			return 0, err
		}
	}
	return crc.Sum32(), nil
}

// AddDir adds a directory entry for the directory at fpath.
func (w *Writer) AddDir(ctx context.Context, fpath, name string) error {
	if err := w.check(ctx); err != nil {
		return err
	}
	fi, err := os.Lstat(fpath)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDir, fpath)
	}
	if !strings.HasSuffix(name, "/") {
		name += "/"
	}
	hdr, err := w.makeHeader(fi, name, "")
	if err != nil {
		return err
	}
	return w.writeHeader(hdr)
}

// AddSymlink adds the symlink at fpath, without following it.
func (w *Writer) AddSymlink(ctx context.Context, fpath, name string) error {
	if err := w.check(ctx); err != nil {
		return err
	}
	fi, err := os.Lstat(fpath)
	if err != nil {
		return err
	}
	if fi.Mode()&fs.ModeSymlink == 0 {
		return fmt.Errorf("%w: %s", ErrNotSymlink, fpath)
	}
	target, err := os.Readlink(fpath)
	if err != nil {
		return err
	}
	hdr, err := w.makeHeader(fi, name, target)
	if err != nil {
		return err
	}
	return w.writeHeader(hdr)
}

// Summary returns the totals for everything written so far.
func (w *Writer) Summary() Summary {
	s := w.summary
	s.PaddedEntries = w.summary.PaddedEntries.Clone()
	return s
}

// Index returns the sidecar index, or nil if it is disabled.
func (w *Writer) Index() *Index {
	return w.index
}

// Close finishes the tar stream and flushes the compressor. It does not
// close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.tw.Close()
	cerr := w.cw.Close()
	if err == nil {
		err = cerr
	}
	if err == nil {
		err = w.err
	}
	return err
}
