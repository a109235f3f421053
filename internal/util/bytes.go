package util

import (
	"fmt"
)

var suffixes = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}

func humanReadableBytes(b int64) string {
	if b < 1024 {
		return fmt.Sprintf("%d B", b)
	}
	v := float64(b)
	pow := 0
	for v >= 1024 && pow < len(suffixes)-1 {
		pow++
		v /= 1024
	}

	if v < 10 {
		return fmt.Sprintf("%0.2f %s", v, suffixes[pow])
	} else if v < 100 {
		return fmt.Sprintf("%0.1f %s", v, suffixes[pow])
	}
	return fmt.Sprintf("%0.0f %s", v, suffixes[pow])
}

// Bytes formats a byte count for log output.
type Bytes int64

func (b Bytes) String() string {
	return humanReadableBytes(int64(b))
}

type DetailedBytes int64

func (b DetailedBytes) String() string {
	if b < 1024 {
		return humanReadableBytes(int64(b))
	}
	return fmt.Sprintf("%s (%d bytes)", humanReadableBytes(int64(b)), b)
}
