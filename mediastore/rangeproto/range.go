// Package rangeproto translates between leaf indices and HTTP byte-range
// semantics, in both the client and server directions. Everything here is a
// pure function; no I/O.
package rangeproto

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/json420/dmedia/core/common"
)

// ByteRange is one HTTP range in the three forms the grammar allows:
//
//	Start >= 0, End >= Start   "bytes=<start>-<end>"  (inclusive end)
//	Start >= 0, End == -1      "bytes=<start>-"       (open ended)
//	Start == -1, End == N      "bytes=-<N>"           (final N bytes)
type ByteRange struct {
	Start int64
	End   int64
}

// Header renders the range as a Range header value.
func (br ByteRange) Header() string {
	switch {
	case br.Start < 0:
		return fmt.Sprintf("bytes=-%d", br.End)
	case br.End < 0:
		return fmt.Sprintf("bytes=%d-", br.Start)
	default:
		return fmt.Sprintf("bytes=%d-%d", br.Start, br.End)
	}
}

// Slice resolves the range against a concrete file size, returning the
// absolute offset and length to serve. Fails with code "range_unsatisfiable"
// when the range selects no bytes of a fileSize-byte file.
func (br ByteRange) Slice(fileSize int64) (offset, length int64, err error) {
	switch {
	case br.Start < 0: // suffix form
		n := br.End
		if n <= 0 {
			return 0, 0, common.NewError("range_unsatisfiable", "suffix length must be positive")
		}
		if n > fileSize {
			n = fileSize
		}
		return fileSize - n, n, nil
	case br.Start >= fileSize:
		return 0, 0, common.NewErrorf("range_unsatisfiable", "start %d beyond file size %d", br.Start, fileSize)
	case br.End < 0: // open ended
		return br.Start, fileSize - br.Start, nil
	default:
		end := br.End
		if end >= fileSize {
			end = fileSize - 1
		}
		return br.Start, end - br.Start + 1, nil
	}
}

// FromLeaves converts a half-open leaf range [startLeaf, stopLeaf) into the
// byte range that fetches exactly those leaves. When the range runs to the
// end of the file the byte range is left open ended.
func FromLeaves(startLeaf, stopLeaf int, leafSize, fileSize int64) (ByteRange, error) {
	count := int((fileSize + leafSize - 1) / leafSize)
	if startLeaf < 0 || stopLeaf <= startLeaf || stopLeaf > count {
		return ByteRange{}, common.NewErrorf("invalid_leaf_range",
			"leaf range [%d, %d) invalid for %d leaves", startLeaf, stopLeaf, count)
	}
	br := ByteRange{Start: int64(startLeaf) * leafSize}
	if stopLeaf == count {
		br.End = -1
	} else {
		br.End = int64(stopLeaf)*leafSize - 1
	}
	return br, nil
}

// ToLeaves is the inverse of FromLeaves: it recovers the half-open leaf
// range a byte range covers, and rejects byte ranges that are not
// leaf-aligned.
func ToLeaves(br ByteRange, leafSize, fileSize int64) (startLeaf, stopLeaf int, err error) {
	count := int((fileSize + leafSize - 1) / leafSize)
	if br.Start < 0 {
		return 0, 0, common.NewError("invalid_leaf_range", "suffix ranges are not leaf-aligned")
	}
	if br.Start%leafSize != 0 {
		return 0, 0, common.NewErrorf("invalid_leaf_range", "start %d is not a leaf boundary", br.Start)
	}
	startLeaf = int(br.Start / leafSize)
	if br.End < 0 {
		stopLeaf = count
	} else {
		if (br.End+1)%leafSize != 0 && br.End != fileSize-1 {
			return 0, 0, common.NewErrorf("invalid_leaf_range", "end %d is not a leaf boundary", br.End)
		}
		stopLeaf = int((br.End + 1 + leafSize - 1) / leafSize)
	}
	if startLeaf >= stopLeaf || stopLeaf > count {
		return 0, 0, common.NewErrorf("invalid_leaf_range", "leaf range [%d, %d) invalid for %d leaves",
			startLeaf, stopLeaf, count)
	}
	return startLeaf, stopLeaf, nil
}

// Parse parses a Range header value. It rejects malformed unit names,
// non-numeric bounds, multiple ranges and end < start.
func Parse(header string) (ByteRange, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return ByteRange{}, common.NewErrorf("bad_range", "unsupported range unit in %q", header)
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return ByteRange{}, common.NewError("bad_range", "multiple ranges are not supported")
	}
	dash := strings.Index(spec, "-")
	if dash < 0 {
		return ByteRange{}, common.NewErrorf("bad_range", "missing '-' in %q", header)
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	if startStr == "" { // suffix form: bytes=-N
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return ByteRange{}, common.NewErrorf("bad_range", "bad suffix length in %q", header)
		}
		return ByteRange{Start: -1, End: n}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return ByteRange{}, common.NewErrorf("bad_range", "bad start in %q", header)
	}
	if endStr == "" { // open ended: bytes=N-
		return ByteRange{Start: start, End: -1}, nil
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return ByteRange{}, common.NewErrorf("bad_range", "bad end in %q", header)
	}
	return ByteRange{Start: start, End: end}, nil
}

// ContentRange renders a Content-Range response header for a served slice.
func ContentRange(offset, length, fileSize int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, fileSize)
}

// ParseContentRange parses "bytes <start>-<end>/<total>" from a resumable
// upload request.
func ParseContentRange(header string) (start, end, total int64, err error) {
	var n int
	n, err = fmt.Sscanf(header, "bytes %d-%d/%d", &start, &end, &total)
	if err != nil || n != 3 {
		return 0, 0, 0, common.NewErrorf("bad_range", "bad Content-Range %q", header)
	}
	if start < 0 || end < start || total <= end {
		return 0, 0, 0, common.NewErrorf("bad_range", "inconsistent Content-Range %q", header)
	}
	return start, end, total, nil
}
