// Package version parses and orders the version identifiers attached to
// packaged runtime archives.
//
// A version is a list of colon-separated parts, each part a list of
// dot-separated segments: "3.0.0:20160501T120000Z:2". Numeric segments
// compare as integers, anything else compares as text, and a numeric
// segment always sorts before a textual one. When one version is a prefix
// of another the shorter sorts first.
package version

import (
	"strconv"
	"strings"
	"unicode"
)

type segment struct {
	raw     string
	num     uint64
	numeric bool
}

// Version is an immutable parsed version. The zero value is "unset" and
// renders as the empty string.
type Version struct {
	parts [][]segment
}

// Parse converts s into a Version. Every part and every segment must be
// non-empty and free of whitespace.
func Parse(s string) (Version, error) {
	if s == "" {
		return Version{}, &FormatError{Input: s, Reason: "empty version"}
	}
	rawParts := strings.Split(s, ":")
	parts := make([][]segment, 0, len(rawParts))
	for i, rp := range rawParts {
		if rp == "" {
			return Version{}, &FormatError{Input: s, Reason: "empty part " + strconv.Itoa(i+1)}
		}
		rawSegs := strings.Split(rp, ".")
		segs := make([]segment, 0, len(rawSegs))
		for _, rs := range rawSegs {
			if rs == "" {
				return Version{}, &FormatError{Input: s, Reason: "empty segment in part " + strconv.Itoa(i+1)}
			}
			if strings.IndexFunc(rs, unicode.IsSpace) >= 0 {
				return Version{}, &FormatError{Input: s, Reason: "whitespace in segment " + strconv.Quote(rs)}
			}
			segs = append(segs, newSegment(rs))
		}
		parts = append(parts, segs)
	}
	return Version{parts: parts}, nil
}

// MustParse is like Parse but panics on malformed input. Intended for
// tests and constant tables.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newSegment(raw string) segment {
	if isDigits(raw) {
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			return segment{raw: raw, num: n, numeric: true}
		}
	}
	return segment{raw: raw}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// String returns the exact text the version was parsed from.
func (v Version) String() string {
	if len(v.parts) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range v.parts {
		if i > 0 {
			b.WriteByte(':')
		}
		for j, s := range p {
			if j > 0 {
				b.WriteByte('.')
			}
			b.WriteString(s.raw)
		}
	}
	return b.String()
}

// IsZero reports whether v is unset.
func (v Version) IsZero() bool { return len(v.parts) == 0 }

// Parts returns the number of colon-separated parts.
func (v Version) Parts() int { return len(v.parts) }

// Compare returns -1, 0 or +1 as a sorts before, equal to, or after b.
func Compare(a, b Version) int {
	for i := 0; i < len(a.parts) && i < len(b.parts); i++ {
		if c := comparePart(a.parts[i], b.parts[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(a.parts), len(b.parts))
}

func comparePart(a, b []segment) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareSegment(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(a), len(b))
}

func compareSegment(a, b segment) int {
	switch {
	case a.numeric && b.numeric:
		if a.num != b.num {
			if a.num < b.num {
				return -1
			}
			return 1
		}
		// "01" and "1" share a value but not a spelling; keep them distinct.
		return strings.Compare(a.raw, b.raw)
	case a.numeric:
		return -1
	case b.numeric:
		return 1
	default:
		return strings.Compare(a.raw, b.raw)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool { return Compare(v, o) < 0 }

// Equal reports structural equality.
func (v Version) Equal(o Version) bool { return Compare(v, o) == 0 }

// Max returns the greatest of vs, or the zero Version when vs is empty.
func Max(vs ...Version) Version {
	var best Version
	for i, v := range vs {
		if i == 0 || Compare(v, best) > 0 {
			best = v
		}
	}
	return best
}
