package snaptar

import (
	"errors"
	"strings"

	"github.com/akmistry/snaptar/internal/archive"
)

var (
	ErrInvalidArchiveName = errors.New("invalid archive name")
)

const (
	tarExt   = ".tar"
	indexExt = ".idx"
)

// CheckArchiveName rejects names that can't be used as a blob name prefix.
func CheckArchiveName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") ||
		strings.Contains(name, "..") {
		return ErrInvalidArchiveName
	}
	return nil
}

func ArchiveBlobName(name string, c archive.Compression) string {
	return name + tarExt + c.Extension()
}

func IndexBlobName(name string) string {
	return name + indexExt
}
