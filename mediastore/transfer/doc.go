package transfer

import (
	"github.com/json420/dmedia/core/common"
	"github.com/json420/dmedia/mediastore/hashtree"
)

// MetaDoc is the wire form of a file's content hash, served by the meta
// endpoint and consumed by downloading peers. Leaf hashes travel base32
// encoded like the file id.
type MetaDoc struct {
	ID         string   `json:"id"`
	FileSize   int64    `json:"file_size"`
	LeafSize   int64    `json:"leaf_size"`
	Digest     string   `json:"digest"`
	LeafHashes []string `json:"leaf_hashes"`
}

// NewMetaDoc builds the wire form from a verified content hash.
func NewMetaDoc(ch hashtree.ContentHash, leafSize int64, digest string) MetaDoc {
	leaves := make([]string, len(ch.LeafHashes))
	for i, lh := range ch.LeafHashes {
		leaves[i] = hashtree.EncodeID(lh)
	}
	return MetaDoc{
		ID:         ch.ID,
		FileSize:   ch.FileSize,
		LeafSize:   leafSize,
		Digest:     digest,
		LeafHashes: leaves,
	}
}

// ContentHash decodes the wire form back into a content hash, checking the
// leaf count against the declared file size.
func (m MetaDoc) ContentHash() (hashtree.ContentHash, error) {
	if m.FileSize <= 0 || m.LeafSize <= 0 {
		return hashtree.ContentHash{}, common.NewErrorf("invalid_request",
			"meta doc for %s has file_size %d, leaf_size %d", m.ID, m.FileSize, m.LeafSize)
	}
	if want := hashtree.LeafCount(m.FileSize, m.LeafSize); len(m.LeafHashes) != want {
		return hashtree.ContentHash{}, common.NewErrorf("invalid_request",
			"meta doc for %s carries %d leaf hashes, %d-byte file needs %d",
			m.ID, len(m.LeafHashes), m.FileSize, want)
	}
	ch := hashtree.ContentHash{
		ID:         m.ID,
		FileSize:   m.FileSize,
		LeafHashes: make([][]byte, len(m.LeafHashes)),
	}
	for i, s := range m.LeafHashes {
		digest, err := hashtree.DecodeID(s)
		if err != nil {
			return hashtree.ContentHash{}, err
		}
		ch.LeafHashes[i] = digest
	}
	return ch, nil
}
