package hashtree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAlgo(t *testing.T) Algorithm {
	t.Helper()
	a, err := LookupAlgorithm("sha1")
	require.NoError(t, err)
	return a
}

func randBytes(t *testing.T, n int64) []byte {
	t.Helper()
	buf := make([]byte, n)
	r := rand.New(rand.NewSource(n))
	_, err := r.Read(buf)
	require.NoError(t, err)
	return buf
}

func TestLeafCount(t *testing.T) {
	tests := []struct {
		fileSize int64
		leafSize int64
		want     int
	}{
		{1, 8, 1},
		{7, 8, 1},
		{8, 8, 1},
		{9, 8, 2},
		{16, 8, 2},
		{17, 8, 3},
		{20202333, DefaultLeafSize, 3},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, LeafCount(tc.fileSize, tc.leafSize),
			"fileSize=%d leafSize=%d", tc.fileSize, tc.leafSize)
	}
}

func TestLeafSizeAt(t *testing.T) {
	// 20,202,333 bytes at the default leaf size: two full leaves and a
	// 3,425,117 byte tail.
	fileSize := int64(20202333)
	assert.Equal(t, DefaultLeafSize, LeafSizeAt(0, fileSize, DefaultLeafSize))
	assert.Equal(t, DefaultLeafSize, LeafSizeAt(1, fileSize, DefaultLeafSize))
	assert.Equal(t, int64(3425117), LeafSizeAt(2, fileSize, DefaultLeafSize))

	// A file that is an exact multiple of the leaf size has a full last leaf.
	assert.Equal(t, int64(8), LeafSizeAt(1, 16, 8))
}

func TestIDLength(t *testing.T) {
	sha1, err := LookupAlgorithm("sha1")
	require.NoError(t, err)
	assert.Equal(t, 32, sha1.IDLength())

	sha256, err := LookupAlgorithm("sha256")
	require.NoError(t, err)
	assert.Equal(t, 52, sha256.IDLength())

	blake3, err := LookupAlgorithm("blake3")
	require.NoError(t, err)
	assert.Equal(t, 52, blake3.IDLength())
}

func TestLookupAlgorithmUnknown(t *testing.T) {
	_, err := LookupAlgorithm("md5")
	require.Error(t, err)
}

func TestEncodeDecodeID(t *testing.T) {
	a := testAlgo(t)
	digest := LeafDigest(a, 100, 0, []byte("hello"))
	id := EncodeID(digest)
	assert.Len(t, id, a.IDLength())

	// The id alphabet is RFC 4648 base32: A-Z and 2-7, no padding.
	for _, c := range id {
		ok := (c >= 'A' && c <= 'Z') || (c >= '2' && c <= '7')
		assert.True(t, ok, "unexpected id character %q", c)
	}

	back, err := DecodeID(id)
	require.NoError(t, err)
	assert.Equal(t, digest, back)

	_, err = DecodeID("not base32!")
	require.Error(t, err)
}

func TestLeafDigestBindsPosition(t *testing.T) {
	a := testAlgo(t)
	data := []byte("same bytes")

	atZero := LeafDigest(a, 100, 0, data)
	atOne := LeafDigest(a, 100, 1, data)
	assert.NotEqual(t, atZero, atOne, "leaf digest must depend on the leaf index")

	smaller := LeafDigest(a, 99, 0, data)
	assert.NotEqual(t, atZero, smaller, "leaf digest must depend on the file size")
}

func TestTopDigestBindsSizeAndOrder(t *testing.T) {
	a := testAlgo(t)
	l0 := LeafDigest(a, 32, 0, randBytes(t, 16))
	l1 := LeafDigest(a, 32, 1, randBytes(t, 17))

	forward := TopID(a, 32, [][]byte{l0, l1})
	reversed := TopID(a, 32, [][]byte{l1, l0})
	assert.NotEqual(t, forward, reversed)

	otherSize := TopID(a, 33, [][]byte{l0, l1})
	assert.NotEqual(t, forward, otherSize)
}

func TestQuickIDIsWeakIdentity(t *testing.T) {
	a := testAlgo(t)
	first := randBytes(t, 64)

	assert.Equal(t, QuickID(a, 1000, first), QuickID(a, 1000, first))
	assert.NotEqual(t, QuickID(a, 1000, first), QuickID(a, 1001, first))
	assert.NotEqual(t, QuickID(a, 1000, first), QuickID(a, 1000, first[:63]))

	// Quick ids must not collide with leaf or top digests of the same bytes.
	assert.NotEqual(t, QuickID(a, 1000, first), EncodeID(LeafDigest(a, 1000, 0, first)))
}
