package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	iou "github.com/akmistry/go-util/io"
	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrInvalidIndex = errors.New("archive: invalid index")
)

const (
	IndexMagic = "sntidx\x31\x41"

	maxIndexPayload = 1 << 30
)

func init() {
	if len(IndexMagic) != 8 {
		panic("len(IndexMagic) != 8")
	}
}

// Index field numbers.
const (
	indexFieldID          protowire.Number = 1
	indexFieldCreated     protowire.Number = 2
	indexFieldCompression protowire.Number = 3
	indexFieldEntry       protowire.Number = 4

	entryFieldName   protowire.Number = 1
	entryFieldSize   protowire.Number = 2
	entryFieldPadded protowire.Number = 3
	entryFieldCRC    protowire.Number = 4
)

type IndexEntry struct {
	Name string
	// Size committed to the tar header.
	Size int64
	// Zero bytes substituted for data lost to truncation.
	Padded int64
	// CRC32 (IEEE) of the payload as written, including padding.
	CRC uint32
}

// Index is the sidecar written next to an archive. It records every
// regular file entry, and how much of each was padded.
type Index struct {
	ID          uuid.UUID
	Created     time.Time
	Compression Compression
	Entries     []IndexEntry
}

func NewIndex(c Compression) *Index {
	return &Index{
		ID:          uuid.New(),
		Created:     time.Now(),
		Compression: c,
	}
}

// PaddedEntries returns the entries that were truncated while archiving.
func (x *Index) PaddedEntries() []IndexEntry {
	var out []IndexEntry
	for _, e := range x.Entries {
		if e.Padded > 0 {
			out = append(out, e)
		}
	}
	return out
}

func (e *IndexEntry) appendTo(b []byte) []byte {
	b = protowire.AppendTag(b, entryFieldName, protowire.BytesType)
	b = protowire.AppendString(b, e.Name)
	b = protowire.AppendTag(b, entryFieldSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Size))
	if e.Padded != 0 {
		b = protowire.AppendTag(b, entryFieldPadded, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Padded))
	}
	b = protowire.AppendTag(b, entryFieldCRC, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, e.CRC)
	return b
}

func (x *Index) payload() []byte {
	var b []byte
	b = protowire.AppendTag(b, indexFieldID, protowire.BytesType)
	b = protowire.AppendBytes(b, x.ID[:])
	b = protowire.AppendTag(b, indexFieldCreated, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(x.Created.UnixNano()))
	b = protowire.AppendTag(b, indexFieldCompression, protowire.BytesType)
	b = protowire.AppendString(b, x.Compression.String())

	var entryBuf []byte
	for i := range x.Entries {
		entryBuf = x.Entries[i].appendTo(entryBuf[:0])
		b = protowire.AppendTag(b, indexFieldEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, entryBuf)
	}
	return b
}

func (x *Index) WriteTo(w io.Writer) (int64, error) {
	buf := x.payload()
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(buf)))
	written, err := iou.WriteMany(w, []byte(IndexMagic), sizeBuf[:], buf)
	return int64(written), err
}

func (x *Index) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	_, err := x.WriteTo(&buf)
	return buf.Bytes(), err
}

func parseError(n int) error {
	return fmt.Errorf("%w: %v", ErrInvalidIndex, protowire.ParseError(n))
}

func unmarshalEntry(b []byte) (IndexEntry, error) {
	var e IndexEntry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, parseError(n)
		}
		b = b[n:]

		switch {
		case num == entryFieldName && typ == protowire.BytesType:
			e.Name, n = protowire.ConsumeString(b)
		case num == entryFieldSize && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			e.Size = int64(v)
		case num == entryFieldPadded && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			e.Padded = int64(v)
		case num == entryFieldCRC && typ == protowire.Fixed32Type:
			e.CRC, n = protowire.ConsumeFixed32(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return e, parseError(n)
		}
		b = b[n:]
	}
	return e, nil
}

func (x *Index) unmarshalPayload(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseError(n)
		}
		b = b[n:]

		switch {
		case num == indexFieldID && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				id, err := uuid.FromBytes(v)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrInvalidIndex, err)
				}
				x.ID = id
			}
		case num == indexFieldCreated && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			x.Created = time.Unix(0, int64(v))
		case num == indexFieldCompression && typ == protowire.BytesType:
			var v string
			v, n = protowire.ConsumeString(b)
			if n >= 0 {
				c, err := ParseCompression(v)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrInvalidIndex, err)
				}
				x.Compression = c
			}
		case num == indexFieldEntry && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				e, err := unmarshalEntry(v)
				if err != nil {
					return err
				}
				x.Entries = append(x.Entries, e)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return parseError(n)
		}
		b = b[n:]
	}
	return nil
}

func ReadIndex(r io.Reader) (*Index, error) {
	var header [len(IndexMagic) + 4]byte
	_, err := io.ReadFull(r, header[:])
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%w: short header", ErrInvalidIndex)
	} else if err != nil {
		return nil, err
	}
	if string(header[:len(IndexMagic)]) != IndexMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidIndex)
	}
	size := binary.LittleEndian.Uint32(header[len(IndexMagic):])
	if size > maxIndexPayload {
		return nil, fmt.Errorf("%w: payload size %d too big", ErrInvalidIndex, size)
	}

	// The buffer grows with the data actually read, so a corrupt length
	// can't force a large allocation.
	buf, err := io.ReadAll(io.LimitReader(r, int64(size)))
	if err != nil {
		return nil, err
	}
	if len(buf) < int(size) {
		return nil, fmt.Errorf("%w: short payload", ErrInvalidIndex)
	}

	x := new(Index)
	err = x.unmarshalPayload(buf)
	if err != nil {
		return nil, err
	}
	return x, nil
}

func UnmarshalIndex(b []byte) (*Index, error) {
	r := bytes.NewReader(b)
	x, err := ReadIndex(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidIndex, r.Len())
	}
	return x, nil
}
