package hashtree

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/json420/dmedia/core/common"
)

// hashSequential computes the content hash leaf by leaf without the
// pipeline, as a cross-check for HashStream.
func hashSequential(a Algorithm, data []byte, leafSize int64) ContentHash {
	fileSize := int64(len(data))
	count := LeafCount(fileSize, leafSize)
	leafHashes := make([][]byte, count)
	for i := 0; i < count; i++ {
		start := int64(i) * leafSize
		end := start + LeafSizeAt(i, fileSize, leafSize)
		leafHashes[i] = LeafDigest(a, fileSize, i, data[start:end])
	}
	return ContentHash{
		ID:         TopID(a, fileSize, leafHashes),
		FileSize:   fileSize,
		LeafHashes: leafHashes,
	}
}

func TestHashStreamMatchesSequential(t *testing.T) {
	a := testAlgo(t)
	leafSize := int64(1024)

	for _, n := range []int64{1, 1023, 1024, 1025, 4096, 10000} {
		data := randBytes(t, n)
		ch, processed, err := HashStream(bytes.NewReader(data), n, leafSize, a, nil)
		require.NoError(t, err, "size %d", n)
		assert.Equal(t, n, processed)
		assert.Equal(t, hashSequential(a, data, leafSize), ch, "size %d", n)
	}
}

func TestHashStreamDeterministic(t *testing.T) {
	a := testAlgo(t)
	data := randBytes(t, 5000)

	first, _, err := HashStream(bytes.NewReader(data), 5000, 1024, a, nil)
	require.NoError(t, err)
	second, _, err := HashStream(bytes.NewReader(data), 5000, 1024, a, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestHashStreamSensitivity(t *testing.T) {
	a := testAlgo(t)
	data := randBytes(t, 5000)

	base, _, err := HashStream(bytes.NewReader(data), 5000, 1024, a, nil)
	require.NoError(t, err)

	// One flipped bit anywhere changes the id.
	mutated := append([]byte(nil), data...)
	mutated[4999] ^= 0x01
	changed, _, err := HashStream(bytes.NewReader(mutated), 5000, 1024, a, nil)
	require.NoError(t, err)
	assert.NotEqual(t, base.ID, changed.ID)

	// Swapping two whole leaves changes the id even though every byte
	// survives.
	swapped := append([]byte(nil), data...)
	copy(swapped[0:1024], data[1024:2048])
	copy(swapped[1024:2048], data[0:1024])
	reordered, _, err := HashStream(bytes.NewReader(swapped), 5000, 1024, a, nil)
	require.NoError(t, err)
	assert.NotEqual(t, base.ID, reordered.ID)

	// The same bytes under a different leaf size hash differently.
	other, _, err := HashStream(bytes.NewReader(data), 5000, 2048, a, nil)
	require.NoError(t, err)
	assert.NotEqual(t, base.ID, other.ID)
}

func TestHashStreamMirrors(t *testing.T) {
	a := testAlgo(t)
	data := randBytes(t, 3000)

	var dst bytes.Buffer
	ch, processed, err := HashStream(bytes.NewReader(data), 3000, 1024, a, &dst)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), processed)
	assert.Equal(t, data, dst.Bytes())
	assert.Len(t, ch.LeafHashes, 3)
}

func TestHashStreamRejectsEmpty(t *testing.T) {
	a := testAlgo(t)
	_, _, err := HashStream(bytes.NewReader(nil), 0, 1024, a, nil)
	require.Error(t, err)
	assert.Equal(t, "empty_file", common.ErrorCode(err))
}

func TestHashStreamSizeMismatch(t *testing.T) {
	a := testAlgo(t)
	data := randBytes(t, 2000)

	// Stream longer than declared.
	_, _, err := HashStream(bytes.NewReader(data), 1000, 1024, a, nil)
	require.Error(t, err)
	assert.Equal(t, "size_mismatch", common.ErrorCode(err))

	// Stream shorter than declared.
	_, _, err = HashStream(bytes.NewReader(data), 3000, 1024, a, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
