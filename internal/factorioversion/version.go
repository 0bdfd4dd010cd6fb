// Package factorioversion parses and compares the dotted major.minor.patch
// version triples used to identify engine builds and mod releases.
package factorioversion

import (
	"fmt"
	"strconv"
	"strings"

	"factorio-instanced/internal/ferrors"
)

// Version is a triple of non-negative 16-bit integers with lexicographic
// ordering: major first, then minor, then patch.
type Version struct {
	Major, Minor, Patch uint16
}

// Parse splits s on '.' and requires exactly three integer parts, each
// fitting in 16 bits. Anything else fails with ErrInvalidVersionFormat.
func Parse(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("parsing version %q: %w", s, ferrors.ErrInvalidVersionFormat)
	}

	nums := make([]uint16, 3)
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return Version{}, fmt.Errorf("parsing version %q: %w", s, ferrors.ErrInvalidVersionFormat)
		}
		nums[i] = uint16(n)
	}

	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// MustParse is Parse but panics on error; useful for constants in tests.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String formats the version back into its dotted form. Parse(s).String()
// round-trips for any valid input.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than
// other, comparing major, then minor, then patch.
func (v Version) Compare(other Version) int {
	if v.Major != other.Major {
		return cmpUint16(v.Major, other.Major)
	}
	if v.Minor != other.Minor {
		return cmpUint16(v.Minor, other.Minor)
	}
	return cmpUint16(v.Patch, other.Patch)
}

// Less reports whether v sorts before other.
func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}

// AtLeast reports whether v is greater than or equal to other.
func (v Version) AtLeast(other Version) bool {
	return v.Compare(other) >= 0
}

func cmpUint16(a, b uint16) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
