package hashtree

import (
	"crypto/sha1"
	"encoding/base32"
	"hash"

	sha256simd "github.com/minio/sha256-simd"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"

	"github.com/json420/dmedia/core/common"
)

// Algorithm is the digest function a store is parameterized with. The
// personalization scheme and leaf layout are fixed; only the hash function
// varies, and with it the length of the base32 file id.
type Algorithm struct {
	Name string
	// Size is the digest output size in bytes.
	Size int
	New  func() hash.Hash
}

// IDLength is the number of base32 characters an id under this algorithm
// always has (no padding).
func (a Algorithm) IDLength() int {
	return (a.Size*8 + 4) / 5
}

var algorithms = []Algorithm{
	{Name: "sha1", Size: sha1.Size, New: func() hash.Hash { return sha1.New() }},
	{Name: "sha256", Size: sha256simd.Size, New: func() hash.Hash { return sha256simd.New() }},
	{Name: "sha3-256", Size: 32, New: func() hash.Hash { return sha3.New256() }},
	{Name: "blake3", Size: 32, New: func() hash.Hash { return blake3.New() }},
}

// LookupAlgorithm resolves a configured digest name. The set is fixed at
// compile time; an unknown name is a configuration error.
func LookupAlgorithm(name string) (Algorithm, error) {
	for _, a := range algorithms {
		if a.Name == name {
			return a, nil
		}
	}
	return Algorithm{}, common.NewErrorf("unknown_digest", "no digest algorithm named %q", name)
}

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// EncodeID renders a raw digest as the base32 identifier used on disk and
// on the wire.
func EncodeID(digest []byte) string {
	return b32.EncodeToString(digest)
}

// DecodeID is the inverse of EncodeID.
func DecodeID(id string) ([]byte, error) {
	digest, err := b32.DecodeString(id)
	if err != nil {
		return nil, common.NewErrorf("invalid_id", "%q is not base32: %v", id, err)
	}
	return digest, nil
}
