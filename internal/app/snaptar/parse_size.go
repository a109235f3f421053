package snaptar

import (
	"errors"
	"math"
	"regexp"
	"strconv"
)

var (
	ErrInvalidSizeString = errors.New("invalid size string")
	ErrSizeOverflow      = errors.New("size overflows 64 bits")

	sizePattern = regexp.MustCompile("^([1-9][0-9]*)([KMGTP])?$")
)

// ParseSizeString parses a byte count with an optional binary suffix, such
// as "512", "128K" or "8G".
func ParseSizeString(str string) (uint64, error) {
	// Special case "0" to simplify the regexp.
	if str == "0" {
		return 0, nil
	}

	parts := sizePattern.FindStringSubmatch(str)
	if len(parts) < 2 {
		return 0, ErrInvalidSizeString
	}

	size, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, ErrInvalidSizeString
	}
	shift := 0
	switch parts[2] {
	case "K":
		shift = 10
	case "M":
		shift = 20
	case "G":
		shift = 30
	case "T":
		shift = 40
	case "P":
		shift = 50
	}
	if size > math.MaxUint64>>shift {
		return 0, ErrSizeOverflow
	}
	return size << shift, nil
}
