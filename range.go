package rangeproxy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotSatisfiable is returned by ParseRange when the Range header is
// malformed, out of bounds, or otherwise cannot be honored. Callers map
// this to a 416 response with Content-Range: bytes */<totalSize>.
var ErrNotSatisfiable = errors.New("range not satisfiable")

// Range is a half-open byte interval [Start, End) into a resource of a
// known total size. The wire form of a satisfied range is inclusive
// (Start-(End-1)); Range always carries the half-open form internally.
type Range struct {
	Start int64
	End   int64
}

// Len returns the number of bytes covered by the range.
func (r Range) Len() int64 {
	return r.End - r.Start
}

// ContentRange formats the range as the value of a Content-Range response
// header for a resource of the given total size.
func (r Range) ContentRange(totalSize int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End-1, totalSize)
}

// ParseRange parses a single-range "Range: bytes=..." header value against
// a known total size. It accepts exactly three shapes:
//
//	bytes=A-B   closed:     0 <= A <= B < totalSize      -> [A, B+1)
//	bytes=A-    open-ended: 0 <= A < totalSize            -> [A, totalSize)
//	bytes=-N    suffix:     N > 0                         -> [max(0,totalSize-N), totalSize)
//
// Multipart byte-range sets are not supported and are treated as
// not satisfiable. totalSize must be > 0 for any of these forms to
// succeed.
func ParseRange(header string, totalSize int64) (Range, error) {
	if header == "" {
		return Range{}, ErrNotSatisfiable
	}
	if totalSize <= 0 {
		return Range{}, ErrNotSatisfiable
	}

	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return Range{}, ErrNotSatisfiable
	}
	spec := strings.TrimPrefix(header, prefix)

	// Multipart ranges ("a-b,c-d") are rejected outright.
	if strings.Contains(spec, ",") {
		return Range{}, ErrNotSatisfiable
	}

	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return Range{}, ErrNotSatisfiable
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	switch {
	case startStr == "" && endStr != "":
		// Suffix form: bytes=-N
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return Range{}, ErrNotSatisfiable
		}
		start := totalSize - n
		if start < 0 {
			start = 0
		}
		return Range{Start: start, End: totalSize}, nil

	case startStr != "" && endStr == "":
		// Open-ended form: bytes=A-
		a, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil || a < 0 || a >= totalSize {
			return Range{}, ErrNotSatisfiable
		}
		return Range{Start: a, End: totalSize}, nil

	case startStr != "" && endStr != "":
		// Closed form: bytes=A-B
		a, errA := strconv.ParseInt(startStr, 10, 64)
		b, errB := strconv.ParseInt(endStr, 10, 64)
		if errA != nil || errB != nil || a < 0 || b < a || b >= totalSize {
			return Range{}, ErrNotSatisfiable
		}
		return Range{Start: a, End: b + 1}, nil

	default:
		return Range{}, ErrNotSatisfiable
	}
}
