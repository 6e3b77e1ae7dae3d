// Package kibi formats and parses byte sizes in powers of 1024
package kibi

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ErrInvalidByteSizeString = errors.New("Invalid byte size string")

var sizeRegex = regexp.MustCompile(`^(\d+)\s*([a-z]*)$`)

type unit struct {
	name  string
	bytes int64
}

// Largest first
var units = []unit{
	{"PB", 1 << 50},
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
}

// FormatBytes rounds down to the largest whole unit, eg 1536 -> "1 KB"
func FormatBytes(b int64) string {
	for _, u := range units {
		if b >= u.bytes {
			return fmt.Sprintf("%v %v", b/u.bytes, u.name)
		}
	}
	return fmt.Sprintf("%v bytes", b)
}

// ParseBytes understands "123", "123 bytes", "50 kb", "50 K", "2GB", etc.
// Fractions are not supported.
func ParseBytes(v string) (int64, error) {
	m := sizeRegex.FindStringSubmatch(strings.TrimSpace(strings.ToLower(v)))
	if m == nil {
		return 0, fmt.Errorf("%w: '%v'", ErrInvalidByteSizeString, v)
	}
	value, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, err
	}
	suffix := m[2]
	if suffix == "" || suffix == "bytes" || suffix == "b" {
		return value, nil
	}
	for _, u := range units {
		name := strings.ToLower(u.name)
		if suffix == name || suffix == name[:1] {
			return value * u.bytes, nil
		}
	}
	return 0, fmt.Errorf("%w: '%v'", ErrInvalidByteSizeString, v)
}
