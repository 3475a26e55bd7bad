package update

import (
	"strconv"
	"strings"
)

// Separators used when splitting a version identifier.
const (
	SegmentSeparator   = "."
	QualifierSeparator = "-"
)

// Version is a version identifier split into its numeric segments and an
// optional qualifier, e.g. "2.1.0-SNAPSHOT" -> [2 1 0] + "SNAPSHOT".
//
// Segments are kept as strings: a segment that is not a number is not an
// error, it simply never decides a comparison.
type Version struct {
	Segments  []string
	Qualifier string
	Raw       string
}

// ParseVersion splits s on the first qualifier separator and then on the
// segment separator. It never fails.
func ParseVersion(s string) Version {
	numeric := s
	qualifier := ""
	// A leading separator is not a qualifier ("-1" has no numeric part to qualify).
	if idx := strings.Index(s, QualifierSeparator); idx > 0 {
		numeric = s[:idx]
		qualifier = s[idx+1:]
	}

	segments := strings.Split(numeric, SegmentSeparator)
	for len(segments) > 1 && segments[len(segments)-1] == "" {
		segments = segments[:len(segments)-1]
	}

	return Version{
		Segments:  segments,
		Qualifier: qualifier,
		Raw:       s,
	}
}

// String returns the version exactly as it was parsed.
func (v Version) String() string {
	return v.Raw
}

// HasQualifier reports whether the version carries a non-empty qualifier.
func (v Version) HasQualifier() bool {
	return v.Qualifier != ""
}

// Compare compares two versions.
// Returns:
//
//	-1 if v < other
//	 0 if v == other
//	 1 if v > other
//
// Segments are compared numerically left to right; a position where either
// side is not a number counts as equal. When all shared positions are equal
// the longer version wins. A version without a qualifier outranks the same
// numeric version with one; qualifier text itself is never compared.
func (v Version) Compare(other Version) int {
	n := min(len(v.Segments), len(other.Segments))
	for i := 0; i < n; i++ {
		a, aErr := strconv.ParseUint(v.Segments[i], 10, 64)
		b, bErr := strconv.ParseUint(other.Segments[i], 10, 64)
		if aErr != nil || bErr != nil {
			continue
		}
		if c := compareUint(a, b); c != 0 {
			return c
		}
	}

	if c := compareInt(len(v.Segments), len(other.Segments)); c != 0 {
		return c
	}

	switch {
	case v.HasQualifier() && !other.HasQualifier():
		return -1
	case !v.HasQualifier() && other.HasQualifier():
		return 1
	default:
		return 0
	}
}

// LessThan returns true if v < other.
func (v Version) LessThan(other Version) bool {
	return v.Compare(other) < 0
}

// GreaterThan returns true if v > other.
func (v Version) GreaterThan(other Version) bool {
	return v.Compare(other) > 0
}

// Equal returns true if v == other.
func (v Version) Equal(other Version) bool {
	return v.Compare(other) == 0
}

// Compare orders a local version against a remote one and returns -1, 0 or 1.
// It is total: malformed input never fails, it only compares as equal at the
// positions that cannot be read.
func Compare(local, remote string) int {
	return ParseVersion(local).Compare(ParseVersion(remote))
}

func compareInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func compareUint(a, b uint64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
