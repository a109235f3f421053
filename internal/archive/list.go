package archive

import (
	"archive/tar"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
)

type ListEntry struct {
	Name     string
	Typeflag byte
	Size     int64
	Mode     fs.FileMode
	Linkname string
	// CRC32 (IEEE) of the payload. Only set for regular files.
	CRC uint32
}

// List reads a tar stream compressed with c, and returns its entries.
func List(r io.Reader, c Compression) ([]ListEntry, error) {
	dr, err := c.NewDecompressor(r)
	if err != nil {
		return nil, fmt.Errorf("archive: error opening %s stream: %w", c, err)
	}
	defer dr.Close()

	var entries []ListEntry
	tr := tar.NewReader(dr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return entries, fmt.Errorf("archive: error reading entry %d: %w", len(entries), err)
		}

		e := ListEntry{
			Name:     hdr.Name,
			Typeflag: hdr.Typeflag,
			Size:     hdr.Size,
			Mode:     hdr.FileInfo().Mode(),
			Linkname: hdr.Linkname,
		}
		if hdr.Typeflag == tar.TypeReg {
			crc := crc32.NewIEEE()
			n, err := io.Copy(crc, tr)
			if err != nil {
				return entries, fmt.Errorf("archive: error reading %s: %w", hdr.Name, err)
			} else if n != hdr.Size {
				return entries, fmt.Errorf("archive: %s read %d bytes != header size %d",
					hdr.Name, n, hdr.Size)
			}
			e.CRC = crc.Sum32()
		}
		entries = append(entries, e)
	}
	return entries, nil
}
