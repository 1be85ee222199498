package filestore

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/json420/dmedia/core/common"
	"github.com/json420/dmedia/mediastore/hashtree"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := New(t.TempDir(), Options{Digest: "sha1", LeafSize: 1024})
	require.NoError(t, err)
	return fs
}

func testData(t *testing.T, n int64) []byte {
	t.Helper()
	buf := make([]byte, n)
	r := rand.New(rand.NewSource(n))
	_, err := r.Read(buf)
	require.NoError(t, err)
	return buf
}

func TestNewStoreIdentity(t *testing.T) {
	base := t.TempDir()

	fs, err := New(base, Options{Digest: "sha256", LeafSize: 4096})
	require.NoError(t, err)
	require.NotEmpty(t, fs.ID())
	assert.Equal(t, "sha256", fs.Algo().Name)
	assert.Equal(t, int64(4096), fs.LeafSize())

	// The identity record and the transfers dir exist on disk.
	_, err = os.Stat(filepath.Join(base, IdentityFile))
	require.NoError(t, err)
	fi, err := os.Stat(filepath.Join(base, TransfersDir))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	// Reopening keeps the persisted identity even when the options differ.
	again, err := New(base, Options{Digest: "sha1", LeafSize: 1024})
	require.NoError(t, err)
	assert.Equal(t, fs.ID(), again.ID())
	assert.Equal(t, "sha256", again.Algo().Name)
	assert.Equal(t, int64(4096), again.LeafSize())
}

func TestImportCanonicalLayout(t *testing.T) {
	fs := newTestStore(t)
	data := testData(t, 3000)

	ch, err := fs.Import(bytes.NewReader(data), 3000, "mov")
	require.NoError(t, err)
	require.Len(t, ch.ID, fs.Algo().IDLength())
	assert.Len(t, ch.LeafHashes, 3)

	p, err := fs.PathFor(ch.ID, "mov")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(fs.Base(), ch.ID[:2], ch.ID[2:]+".mov"), p)
	assert.True(t, fs.Exists(ch.ID, "mov"))

	// Canonical files are read-only and byte-identical to the input.
	fi, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0444), fi.Mode().Perm())
	onDisk, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)

	// Nothing is left behind in the transfers dir.
	entries, err := os.ReadDir(filepath.Join(fs.Base(), TransfersDir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestImportDuplicate(t *testing.T) {
	fs := newTestStore(t)
	data := testData(t, 2048)

	first, err := fs.Import(bytes.NewReader(data), 2048, "mov")
	require.NoError(t, err)

	second, err := fs.Import(bytes.NewReader(data), 2048, "mov")
	require.Error(t, err)
	assert.True(t, IsDuplicate(err))
	assert.Equal(t, first.ID, second.ID)

	var dup *ErrDuplicateFile
	require.ErrorAs(t, err, &dup)
	expected, _ := fs.PathFor(first.ID, "mov")
	assert.Equal(t, expected, dup.Path)
}

func TestImportFileQuickIDShortCircuit(t *testing.T) {
	fs := newTestStore(t)
	data := testData(t, 5000)

	src := filepath.Join(t.TempDir(), "clip.mov")
	require.NoError(t, os.WriteFile(src, data, 0644))

	first, err := fs.ImportFile(src, "mov")
	require.NoError(t, err)

	// The second import of the same path is answered from the quick id
	// cache as a duplicate.
	second, err := fs.ImportFile(src, "mov")
	require.Error(t, err)
	assert.True(t, IsDuplicate(err))
	assert.Equal(t, first.ID, second.ID)
}

func TestImportFileQuickIDCollision(t *testing.T) {
	fs := newTestStore(t)
	data := testData(t, 2048)

	// Same size and same first leaf, different tail: the quick ids collide
	// but the content is distinct.
	other := append([]byte(nil), data...)
	other[2000] ^= 0xFF

	dir := t.TempDir()
	first := filepath.Join(dir, "a.mov")
	second := filepath.Join(dir, "b.mov")
	require.NoError(t, os.WriteFile(first, data, 0644))
	require.NoError(t, os.WriteFile(second, other, 0644))

	chA, err := fs.ImportFile(first, "mov")
	require.NoError(t, err)

	chB, err := fs.ImportFile(second, "mov")
	require.NoError(t, err, "distinct content must not be swallowed as a duplicate")
	require.NotEqual(t, chA.ID, chB.ID)

	// Both files are canonical and byte-identical to their inputs.
	require.True(t, fs.Exists(chA.ID, "mov"))
	require.True(t, fs.Exists(chB.ID, "mov"))
	pB, err := fs.PathFor(chB.ID, "mov")
	require.NoError(t, err)
	onDisk, err := os.ReadFile(pB)
	require.NoError(t, err)
	assert.Equal(t, other, onDisk)
}

func TestImportFileRejectsEmpty(t *testing.T) {
	fs := newTestStore(t)
	src := filepath.Join(t.TempDir(), "empty.mov")
	require.NoError(t, os.WriteFile(src, nil, 0644))

	_, err := fs.ImportFile(src, "mov")
	require.Error(t, err)
	assert.Equal(t, "empty_file", common.ErrorCode(err))
}

func TestVerifyDetectsTamper(t *testing.T) {
	fs := newTestStore(t)
	data := testData(t, 4000)

	ch, err := fs.Import(bytes.NewReader(data), 4000, "mov")
	require.NoError(t, err)

	got, err := fs.Verify(ch.ID, "mov")
	require.NoError(t, err)
	assert.Equal(t, ch.ID, got.ID)

	// Corrupt one byte in place.
	p, err := fs.PathFor(ch.ID, "mov")
	require.NoError(t, err)
	require.NoError(t, os.Chmod(p, 0644))
	f, err := os.OpenFile(p, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{data[100] ^ 0xFF}, 100)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = fs.Verify(ch.ID, "mov")
	require.Error(t, err)
	assert.Equal(t, "hash_mismatch", common.ErrorCode(err))
}

func TestVerifyMissing(t *testing.T) {
	fs := newTestStore(t)
	id := make([]byte, 32)
	for i := range id {
		id[i] = 'A'
	}
	_, err := fs.Verify(string(id), "")
	require.Error(t, err)
	assert.Equal(t, "not_found", common.ErrorCode(err))
}

func TestRemove(t *testing.T) {
	fs := newTestStore(t)
	data := testData(t, 1500)

	ch, err := fs.Import(bytes.NewReader(data), 1500, "")
	require.NoError(t, err)
	require.True(t, fs.Exists(ch.ID, ""))

	require.NoError(t, fs.Remove(ch.ID, ""))
	assert.False(t, fs.Exists(ch.ID, ""))

	err = fs.Remove(ch.ID, "")
	require.Error(t, err)
	assert.Equal(t, "not_found", common.ErrorCode(err))
}

func TestTransferTempSingleWriter(t *testing.T) {
	fs := newTestStore(t)
	data := testData(t, 1024)

	ch, _, err := hashtree.HashStream(bytes.NewReader(data), 1024, fs.LeafSize(), fs.Algo(), nil)
	require.NoError(t, err)

	temp, err := fs.AllocateTransferTemp(1024, ch.ID, "")
	require.NoError(t, err)
	assert.False(t, temp.Existed())

	// A second handle for the same id conflicts while the first is open.
	_, err = fs.AllocateTransferTemp(1024, ch.ID, "")
	require.Error(t, err)
	assert.Equal(t, "conflict", common.ErrorCode(err))

	// Discard keeps the transfer temp on disk but releases the lock.
	require.NoError(t, temp.Discard())
	temp2, err := fs.AllocateTransferTemp(1024, ch.ID, "")
	require.NoError(t, err)
	assert.True(t, temp2.Existed())
	require.NoError(t, temp2.Discard())
}

func TestMoveIntoPlaceDuplicateRace(t *testing.T) {
	fs := newTestStore(t)
	data := testData(t, 1024)

	ch, err := fs.Import(bytes.NewReader(data), 1024, "")
	require.NoError(t, err)

	// A transfer that finishes after the content is already canonical
	// resolves as a duplicate and its temp is deleted.
	temp, err := fs.AllocateTransferTemp(1024, ch.ID, "")
	require.NoError(t, err)
	_, err = temp.WriteAt(data, 0)
	require.NoError(t, err)

	_, err = fs.MoveIntoPlace(temp, ch.ID, "")
	require.Error(t, err)
	assert.True(t, IsDuplicate(err))

	tempPath, err := fs.TempPathFor(ch.ID, "")
	require.NoError(t, err)
	_, err = os.Stat(tempPath)
	assert.True(t, os.IsNotExist(err))

	// The handle is consumed either way.
	_, err = fs.MoveIntoPlace(temp, ch.ID, "")
	require.Error(t, err)
	assert.Equal(t, "stale_temp_handle", common.ErrorCode(err))
}

func TestAudit(t *testing.T) {
	fs := newTestStore(t)

	var ids []string
	for i := int64(1); i <= 4; i++ {
		ch, err := fs.Import(bytes.NewReader(testData(t, i*700)), i*700, "mov")
		require.NoError(t, err)
		ids = append(ids, ch.ID)
	}

	result, err := fs.Audit(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Checked)
	assert.Empty(t, result.Corrupt)

	// Corrupt one file and audit again.
	p, err := fs.PathFor(ids[0], "mov")
	require.NoError(t, err)
	require.NoError(t, os.Chmod(p, 0644))
	require.NoError(t, os.WriteFile(p, []byte("garbage"), 0644))

	result, err = fs.Audit(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Checked)
	assert.Equal(t, []string{ids[0]}, result.Corrupt)
}
