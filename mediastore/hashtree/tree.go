package hashtree

import (
	"fmt"
)

// Namespace is the textual prefix mixed into every digest so that leaf
// hashes, top hashes and quick ids can never collide across contexts.
const Namespace = "dmedia"

// DefaultLeafSize is the reference leaf size (8 MiB).
const DefaultLeafSize = int64(8 * 1024 * 1024)

// ContentHash names a file by its content: the top digest (base32), the
// exact byte length that digest is bound to, and the raw digest of each
// leaf. LeafHashes has exactly LeafCount(FileSize, leafSize) entries for
// any non-empty file.
type ContentHash struct {
	ID         string
	FileSize   int64
	LeafHashes [][]byte
}

// LeafCount is the number of leaves a file of fileSize bytes splits into.
func LeafCount(fileSize, leafSize int64) int {
	return int((fileSize + leafSize - 1) / leafSize)
}

// LeafSizeAt is the byte length of leaf index for a file of fileSize bytes:
// leafSize for every leaf except possibly the last.
func LeafSizeAt(index int, fileSize, leafSize int64) int64 {
	count := LeafCount(fileSize, leafSize)
	if index == count-1 {
		if rem := fileSize % leafSize; rem != 0 {
			return rem
		}
	}
	return leafSize
}

// LeafDigest computes Hash("dmedia/leafhash <file_size> <leaf_index>" || data).
// Binding the file size and position into the digest means a leaf cannot be
// replayed at another offset or inside a padded/truncated file.
func LeafDigest(a Algorithm, fileSize int64, index int, data []byte) []byte {
	h := a.New()
	fmt.Fprintf(h, "%s/leafhash %d %d", Namespace, fileSize, index)
	h.Write(data)
	return h.Sum(nil)
}

// TopDigest computes Hash("dmedia/tophash <file_size>" || leaf digests),
// concatenating the raw digest bytes, not their base32 text.
func TopDigest(a Algorithm, fileSize int64, leafHashes [][]byte) []byte {
	h := a.New()
	fmt.Fprintf(h, "%s/tophash %d", Namespace, fileSize)
	for _, lh := range leafHashes {
		h.Write(lh)
	}
	return h.Sum(nil)
}

// TopID is TopDigest rendered as the file's base32 id.
func TopID(a Algorithm, fileSize int64, leafHashes [][]byte) string {
	return EncodeID(TopDigest(a, fileSize, leafHashes))
}

// QuickID is a weak identity hash over the file size and the first leaf's
// bytes. It exists only to skip a full tree hash for files the store has
// already seen; it proves nothing about integrity.
func QuickID(a Algorithm, fileSize int64, firstLeaf []byte) string {
	h := a.New()
	fmt.Fprintf(h, "%s/quickid %d", Namespace, fileSize)
	h.Write(firstLeaf)
	return EncodeID(h.Sum(nil))
}
