package hashtree

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/json420/dmedia/core/common"
)

// pipelineDepth bounds the read-ahead between the reader goroutine and the
// hashing goroutine. Memory use stays at a few leaf buffers no matter how
// large the file is.
const pipelineDepth = 4

type leafChunk struct {
	index int
	data  []byte
}

// HashStream reads exactly fileSize bytes from r leaf by leaf, computing
// each leaf digest as it goes and mirroring the bytes to dst when dst is
// non-nil. Reading and hashing run on separate goroutines connected by a
// bounded channel so disk I/O overlaps the CPU-bound digest work.
//
// A zero-byte file has no leaves and no content hash in this scheme;
// callers must special-case fileSize == 0 instead of calling HashStream.
func HashStream(r io.Reader, fileSize, leafSize int64, a Algorithm, dst io.Writer) (ContentHash, int64, error) {
	if fileSize <= 0 {
		return ContentHash{}, 0, common.NewError("empty_file", "cannot hash an empty stream")
	}
	if leafSize <= 0 {
		return ContentHash{}, 0, common.NewErrorf("invalid_leaf_size", "leaf size %d", leafSize)
	}

	count := LeafCount(fileSize, leafSize)
	leafHashes := make([][]byte, count)

	ch := make(chan leafChunk, pipelineDepth)
	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		defer close(ch)
		for i := 0; i < count; i++ {
			buf := make([]byte, LeafSizeAt(i, fileSize, leafSize))
			if _, err := io.ReadFull(r, buf); err != nil {
				return errors.Wrapf(err, "short read at leaf %d", i)
			}
			select {
			case ch <- leafChunk{index: i, data: buf}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		var tail [1]byte
		if n, _ := r.Read(tail[:]); n != 0 {
			return common.NewErrorf("size_mismatch", "stream longer than the expected %d bytes", fileSize)
		}
		return nil
	})

	var processed int64
	g.Go(func() error {
		for c := range ch {
			leafHashes[c.index] = LeafDigest(a, fileSize, c.index, c.data)
			if dst != nil {
				if _, err := dst.Write(c.data); err != nil {
					return errors.Wrapf(err, "mirror write at leaf %d", c.index)
				}
			}
			processed += int64(len(c.data))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return ContentHash{}, processed, err
	}

	return ContentHash{
		ID:         TopID(a, fileSize, leafHashes),
		FileSize:   fileSize,
		LeafHashes: leafHashes,
	}, processed, nil
}
