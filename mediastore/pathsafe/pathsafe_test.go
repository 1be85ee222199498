package pathsafe

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateID(t *testing.T) {
	good := strings.Repeat("A", 26) + "234567"
	require.NoError(t, ValidateID(good, 32))

	bad := []string{
		"",
		strings.Repeat("A", 31),                 // too short
		strings.Repeat("A", 33),                 // too long
		strings.Repeat("a", 32),                 // lowercase
		strings.Repeat("A", 31) + "1",           // '1' is not in the alphabet
		strings.Repeat("A", 31) + "0",           // '0' is not in the alphabet
		strings.Repeat("A", 30) + "..",          // dots
		"../" + strings.Repeat("A", 29),         // traversal
		strings.Repeat("A", 16) + "/" + strings.Repeat("A", 15),
	}
	for _, id := range bad {
		assert.Error(t, ValidateID(id, 32), "id %q should be rejected", id)
	}
}

func TestValidateExt(t *testing.T) {
	for _, ext := range []string{"mov", "mp4", "tar.gz", "7z", "ogv"} {
		assert.NoError(t, ValidateExt(ext), "ext %q should be accepted", ext)
	}
	for _, ext := range []string{"", ".mov", "mov.", "tar..gz", "a.b.c", "MOV", "m/v", "m v", "m\x00v"} {
		assert.Error(t, ValidateExt(ext), "ext %q should be rejected", ext)
	}
}

func TestJoinStaysInsideBase(t *testing.T) {
	base := t.TempDir()

	p, err := Join(base, "NW", "BNVXVK.mov")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, base+string(filepath.Separator)))
}

func TestJoinRejectsTraversal(t *testing.T) {
	base := t.TempDir()

	_, err := Join(base, "..", "etc", "passwd")
	require.Error(t, err)

	_, err = Join(base, "a", "..", "..", "b")
	require.Error(t, err)

	_, err = Join(base, "/etc/passwd")
	require.Error(t, err)

	// A sibling directory that shares a name prefix with base must not pass
	// the containment check.
	_, err = Join(base, "../"+filepath.Base(base)+"-evil")
	require.Error(t, err)

	// Joining nothing lands on base itself, which is not strictly inside it.
	_, err = Join(base)
	require.Error(t, err)
}

func TestJoinRejectsSymlinkEscape(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()

	// A directory inside base that is really a link to the outside.
	require.NoError(t, os.Symlink(outside, filepath.Join(base, "NW")))

	_, err := Join(base, "NW", "CLIP.mov")
	require.Error(t, err)

	// A link that stays inside base is fine.
	require.NoError(t, os.MkdirAll(filepath.Join(base, "QQ"), 0700))
	require.NoError(t, os.Symlink(filepath.Join(base, "QQ"), filepath.Join(base, "RR")))
	_, err = Join(base, "RR", "CLIP.mov")
	require.NoError(t, err)
}
