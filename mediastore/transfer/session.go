package transfer

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/json420/dmedia/core/common"
	"github.com/json420/dmedia/core/logging"
	"github.com/json420/dmedia/mediastore/filestore"
	"github.com/json420/dmedia/mediastore/hashtree"
)

// State is the lifecycle of a DownloadSession:
// Initializing -> Active -> Finalizing -> Done, with Failed reachable from
// Active.
type State int

const (
	Initializing State = iota
	Active
	Finalizing
	Done
	Failed
)

// IntegrityError is a rejected leaf: its recomputed digest did not match
// the expected one. It is locally recoverable: the leaf was not written
// and may simply be requested again.
type IntegrityError struct {
	Index    int
	Expected string
	Got      string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("leaf_hash_mismatch: leaf %d expected %s, got %s", e.Index, e.Expected, e.Got)
}

// DownloadFailure means a leaf could not be fetched with a matching hash
// within the attempt budget. This is fatal to the session.
type DownloadFailure struct {
	Index    int
	Expected string
	LastGot  string
	Attempts int
}

func (e *DownloadFailure) Error() string {
	return fmt.Sprintf("download_failure: leaf %d still mismatched after %d attempts (expected %s, last got %s)",
		e.Index, e.Attempts, e.Expected, e.LastGot)
}

// DownloadSession resumes a partially downloaded file. The on-disk transfer
// temp is the durable record of progress: a crash loses only the in-memory
// missing set, which is reconstructed by re-verifying the temp leaf by leaf.
type DownloadSession struct {
	store    *filestore.FileStore
	hash     hashtree.ContentHash
	ext      string
	temp     *filestore.TempHandle
	state    State
	reporter Reporter

	// missing[i] means leaf i has not been verified into the temp yet.
	missing   []bool
	remaining int
	bytes     int64
}

// NewDownloadSession allocates (or reopens) the transfer temp for ch and
// derives the missing set. A fresh temp starts with every leaf missing; an
// existing temp is scanned leaf by leaf, keeping only leaves whose digest
// matches. Corrupt or truncated prior attempts simply stay missing.
func NewDownloadSession(store *filestore.FileStore, ch hashtree.ContentHash, ext string, reporter Reporter) (*DownloadSession, error) {
	if reporter == nil {
		reporter = nopReporter{}
	}
	if ch.FileSize <= 0 {
		return nil, common.NewError("empty_file", "cannot download a zero-byte file")
	}
	count := hashtree.LeafCount(ch.FileSize, store.LeafSize())
	if len(ch.LeafHashes) != count {
		return nil, common.NewErrorf("invalid_request",
			"content hash has %d leaf hashes, file of %d bytes has %d leaves",
			len(ch.LeafHashes), ch.FileSize, count)
	}

	temp, err := store.AllocateTransferTemp(ch.FileSize, ch.ID, ext)
	if err != nil {
		return nil, err
	}

	s := &DownloadSession{
		store:     store,
		hash:      ch,
		ext:       ext,
		temp:      temp,
		state:     Initializing,
		reporter:  reporter,
		missing:   make([]bool, count),
		remaining: count,
	}
	for i := range s.missing {
		s.missing[i] = true
	}

	if temp.Existed() {
		if err := s.rescan(); err != nil {
			temp.Discard() //nolint:errcheck
			return nil, err
		}
		logging.Logger.Info("resuming download",
			zap.String("id", ch.ID), zap.Int("leaves", count), zap.Int("missing", s.remaining))
	}

	s.state = Active
	return s, nil
}

// rescan re-derives the missing set from the temp file. Short reads mean
// the leaf is missing; only real I/O errors propagate.
func (s *DownloadSession) rescan() error {
	leafSize := s.store.LeafSize()
	for i := range s.missing {
		n := hashtree.LeafSizeAt(i, s.hash.FileSize, leafSize)
		buf := make([]byte, n)
		_, err := s.temp.ReadAt(buf, int64(i)*leafSize)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				continue
			}
			return errors.Wrapf(err, "rescanning leaf %d", i)
		}
		digest := hashtree.LeafDigest(s.store.Algo(), s.hash.FileSize, i, buf)
		if bytes.Equal(digest, s.hash.LeafHashes[i]) {
			s.missing[i] = false
			s.remaining--
			s.bytes += n
		}
	}
	return nil
}

// State is the session's current lifecycle state.
func (s *DownloadSession) State() State { return s.state }

// Remaining is the number of leaves still missing.
func (s *DownloadSession) Remaining() int { return s.remaining }

// Missing lists the missing leaf indices in ascending order.
func (s *DownloadSession) Missing() []int {
	out := make([]int, 0, s.remaining)
	for i, m := range s.missing {
		if m {
			out = append(out, i)
		}
	}
	return out
}

// NextRange returns the longest contiguous run of missing leaves as a
// half-open range, lowest start winning ties, or ok == false when nothing
// is missing.
func (s *DownloadSession) NextRange() (start, stop int, ok bool) {
	bestStart, bestLen := 0, 0
	i := 0
	for i < len(s.missing) {
		if !s.missing[i] {
			i++
			continue
		}
		j := i
		for j < len(s.missing) && s.missing[j] {
			j++
		}
		if j-i > bestLen {
			bestStart, bestLen = i, j-i
		}
		i = j
	}
	if bestLen == 0 {
		return 0, 0, false
	}
	return bestStart, bestStart + bestLen, true
}

// AcceptLeaf verifies one received leaf. On a digest match the bytes are
// written at the leaf's offset and the leaf leaves the missing set; on a
// mismatch nothing is written and an *IntegrityError is returned so the
// caller can re-request the leaf. Accepting a leaf that is already present
// is a no-op.
func (s *DownloadSession) AcceptLeaf(index int, data []byte) error {
	if s.state != Active {
		return common.NewErrorf("invalid_request", "session is not active (state %d)", s.state)
	}
	if index < 0 || index >= len(s.missing) {
		return common.NewErrorf("invalid_request", "leaf index %d out of range [0, %d)", index, len(s.missing))
	}
	if !s.missing[index] {
		return nil
	}

	leafSize := s.store.LeafSize()
	if want := hashtree.LeafSizeAt(index, s.hash.FileSize, leafSize); int64(len(data)) != want {
		return common.NewErrorf("invalid_request", "leaf %d must be %d bytes, got %d", index, want, len(data))
	}

	digest := hashtree.LeafDigest(s.store.Algo(), s.hash.FileSize, index, data)
	if !bytes.Equal(digest, s.hash.LeafHashes[index]) {
		return &IntegrityError{
			Index:    index,
			Expected: hashtree.EncodeID(s.hash.LeafHashes[index]),
			Got:      hashtree.EncodeID(digest),
		}
	}

	if _, err := s.temp.WriteAt(data, int64(index)*leafSize); err != nil {
		return errors.Wrapf(err, "writing leaf %d", index)
	}
	s.missing[index] = false
	s.remaining--
	s.bytes += int64(len(data))
	s.reporter.Report(Event{HashID: s.hash.ID, Bytes: s.bytes})
	return nil
}

// Finalize commits the completed temp into the store. A duplicate at this
// point means another writer produced the same content first; that is
// success, and the temp is discarded.
func (s *DownloadSession) Finalize() (string, error) {
	if s.remaining != 0 {
		return "", common.NewErrorf("invalid_request", "%d leaves still missing", s.remaining)
	}
	s.state = Finalizing

	path, err := s.store.MoveIntoPlace(s.temp, s.hash.ID, s.ext)
	if err != nil {
		var dup *filestore.ErrDuplicateFile
		if errors.As(err, &dup) {
			s.state = Done
			s.reporter.Report(Event{HashID: s.hash.ID, Bytes: s.bytes, Done: true})
			return dup.Path, nil
		}
		s.state = Failed
		s.reporter.Report(Event{HashID: s.hash.ID, Bytes: s.bytes, Done: true, Err: err})
		return "", err
	}

	s.state = Done
	s.reporter.Report(Event{HashID: s.hash.ID, Bytes: s.bytes, Done: true})
	return path, nil
}

// Close abandons the session. The transfer temp stays on disk, resumable by
// a later session; only the open handle is released.
func (s *DownloadSession) Close() error {
	if s.state == Done || s.state == Finalizing {
		return nil
	}
	s.state = Failed
	return s.temp.Discard()
}
