package rangeproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderForms(t *testing.T) {
	assert.Equal(t, "bytes=0-99", ByteRange{Start: 0, End: 99}.Header())
	assert.Equal(t, "bytes=100-", ByteRange{Start: 100, End: -1}.Header())
	assert.Equal(t, "bytes=-500", ByteRange{Start: -1, End: 500}.Header())
}

func TestParseRoundTrip(t *testing.T) {
	for _, hdr := range []string{"bytes=0-99", "bytes=100-", "bytes=-500"} {
		br, err := Parse(hdr)
		require.NoError(t, err)
		assert.Equal(t, hdr, br.Header())
	}
}

func TestParseRejects(t *testing.T) {
	bad := []string{
		"",
		"bytes",
		"bytes=",
		"bytes=-",
		"bytes=abc-def",
		"bytes=5-2",     // end before start
		"bytes=-0",      // empty suffix
		"bytes=0-1,3-4", // multiple ranges
		"chunks=0-99",   // wrong unit
		"0-99",
	}
	for _, hdr := range bad {
		_, err := Parse(hdr)
		assert.Error(t, err, "header %q should be rejected", hdr)
	}
}

func TestSlice(t *testing.T) {
	const size = 1000

	offset, length, err := ByteRange{Start: 0, End: 99}.Slice(size)
	require.NoError(t, err)
	assert.Equal(t, int64(0), offset)
	assert.Equal(t, int64(100), length)

	// Open ended range runs to the end of the file.
	offset, length, err = ByteRange{Start: 900, End: -1}.Slice(size)
	require.NoError(t, err)
	assert.Equal(t, int64(900), offset)
	assert.Equal(t, int64(100), length)

	// Suffix range selects the final N bytes, clamped to the file.
	offset, length, err = ByteRange{Start: -1, End: 300}.Slice(size)
	require.NoError(t, err)
	assert.Equal(t, int64(700), offset)
	assert.Equal(t, int64(300), length)

	offset, length, err = ByteRange{Start: -1, End: 5000}.Slice(size)
	require.NoError(t, err)
	assert.Equal(t, int64(0), offset)
	assert.Equal(t, int64(1000), length)

	// An end past the file is clamped, not rejected.
	offset, length, err = ByteRange{Start: 990, End: 5000}.Slice(size)
	require.NoError(t, err)
	assert.Equal(t, int64(990), offset)
	assert.Equal(t, int64(10), length)

	// A start at or past the file selects nothing.
	_, _, err = ByteRange{Start: 1000, End: 1099}.Slice(size)
	require.Error(t, err)
}

func TestFromLeavesToLeavesRoundTrip(t *testing.T) {
	const leafSize = int64(100)
	const fileSize = int64(950) // 10 leaves, short last leaf

	tests := []struct{ start, stop int }{
		{0, 1},
		{0, 10},
		{3, 7},
		{9, 10},
	}
	for _, tc := range tests {
		br, err := FromLeaves(tc.start, tc.stop, leafSize, fileSize)
		require.NoError(t, err)

		start, stop, err := ToLeaves(br, leafSize, fileSize)
		require.NoError(t, err)
		assert.Equal(t, tc.start, start)
		assert.Equal(t, tc.stop, stop)
	}

	// A range running to the last leaf is open ended.
	br, err := FromLeaves(8, 10, leafSize, fileSize)
	require.NoError(t, err)
	assert.Equal(t, "bytes=800-", br.Header())
}

func TestFromLeavesRejects(t *testing.T) {
	_, err := FromLeaves(-1, 1, 100, 950)
	assert.Error(t, err)
	_, err = FromLeaves(3, 3, 100, 950)
	assert.Error(t, err)
	_, err = FromLeaves(0, 11, 100, 950)
	assert.Error(t, err)
}

func TestToLeavesRejectsUnaligned(t *testing.T) {
	_, _, err := ToLeaves(ByteRange{Start: 50, End: 199}, 100, 950)
	assert.Error(t, err)
	_, _, err = ToLeaves(ByteRange{Start: 0, End: 150}, 100, 950)
	assert.Error(t, err)
	_, _, err = ToLeaves(ByteRange{Start: -1, End: 100}, 100, 950)
	assert.Error(t, err)
}

func TestContentRange(t *testing.T) {
	hdr := ContentRange(200, 100, 950)
	assert.Equal(t, "bytes 200-299/950", hdr)

	start, end, total, err := ParseContentRange(hdr)
	require.NoError(t, err)
	assert.Equal(t, int64(200), start)
	assert.Equal(t, int64(299), end)
	assert.Equal(t, int64(950), total)
}

func TestParseContentRangeRejects(t *testing.T) {
	bad := []string{
		"",
		"bytes 200-299",
		"bytes 300-200/950",
		"bytes 900-999/950", // end past total
		"200-299/950",
	}
	for _, hdr := range bad {
		_, _, _, err := ParseContentRange(hdr)
		assert.Error(t, err, "header %q should be rejected", hdr)
	}
}
