package filestore

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/json420/dmedia/core/common"
	"github.com/json420/dmedia/core/logging"
	"github.com/json420/dmedia/mediastore/hashtree"
	"github.com/json420/dmedia/mediastore/pathsafe"
)

func notFound(id string) error {
	return common.NewErrorfWithStatusCode(404, "not_found", "no canonical file for %s", id)
}

// Import reads exactly size bytes from r, hashing leaf by leaf while the
// bytes stream into an import temp, then commits the temp into place. A
// *ErrDuplicateFile result is not a failure: the content hash is still
// returned and the duplicate carries the existing canonical path.
func (fs *FileStore) Import(r io.Reader, size int64, ext string) (hashtree.ContentHash, error) {
	temp, err := fs.AllocateImportTemp(size, ext)
	if err != nil {
		return hashtree.ContentHash{}, err
	}

	ch, _, err := hashtree.HashStream(r, size, fs.leafSize, fs.algo, temp)
	if err != nil {
		if dErr := temp.Discard(); dErr != nil {
			logging.Logger.Warn("discarding import temp", zap.Error(dErr))
		}
		return hashtree.ContentHash{}, err
	}

	if _, err := fs.MoveIntoPlace(temp, ch.ID, ext); err != nil {
		if !IsDuplicate(err) {
			temp.Discard() //nolint:errcheck
		}
		return ch, err
	}
	return ch, nil
}

// ImportFile imports a local file, first checking its quick id against the
// cache of recently imported content so a known duplicate skips the temp
// write and the commit. A quick id hit is always confirmed by a full tree
// hash before the file is reported as a duplicate.
func (fs *FileStore) ImportFile(path, ext string) (hashtree.ContentHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return hashtree.ContentHash{}, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return hashtree.ContentHash{}, err
	}
	size := fi.Size()
	if size == 0 {
		return hashtree.ContentHash{}, common.NewErrorf("empty_file", "%s is empty, empty files have no content hash", path)
	}

	qid, err := fs.quickID(f, size)
	if err != nil {
		return hashtree.ContentHash{}, err
	}
	if cached, ok := fs.quickIDs.Get(qid); ok && fs.Exists(cached.ID, ext) {
		// The quick id is a weak identity (size plus first leaf), so a hit
		// is only a hint: two files can share it and differ in the tail.
		// Confirm with a full tree hash before declaring a duplicate. This
		// still skips the temp-file write on the common re-import case.
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return hashtree.ContentHash{}, err
		}
		ch, _, err := hashtree.HashStream(f, size, fs.leafSize, fs.algo, nil)
		if err != nil {
			return hashtree.ContentHash{}, err
		}
		if ch.ID == cached.ID {
			existing, _ := fs.PathFor(ch.ID, ext)
			return ch, &ErrDuplicateFile{ID: ch.ID, Path: existing}
		}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return hashtree.ContentHash{}, err
	}
	ch, err := fs.Import(f, size, ext)
	if err == nil || IsDuplicate(err) {
		fs.quickIDs.Add(qid, ch)
	}
	return ch, err
}

func (fs *FileStore) quickID(f io.ReaderAt, size int64) (string, error) {
	n := fs.leafSize
	if size < n {
		n = size
	}
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return "", errors.Wrap(err, "reading first leaf for quick id")
	}
	return hashtree.QuickID(fs.algo, size, buf), nil
}

// MoveIntoPlace is the atomic commit point. It consumes the temp handle:
// the file is made read-only, renamed into the canonical location with a
// single rename syscall, and the handle is closed. If the destination
// already exists the rename is not attempted, the destination is left
// untouched, and the temp is discarded with *ErrDuplicateFile: exactly one
// of two racing writers wins.
func (fs *FileStore) MoveIntoPlace(temp *TempHandle, id, ext string) (string, error) {
	if temp.file == nil {
		return "", common.NewError("stale_temp_handle", "temp handle is already closed")
	}

	dir, file := canonicalName(id, ext)
	dest, err := pathsafe.EnsureParentDir(fs.base, dir, file)
	if err != nil {
		temp.Discard() //nolint:errcheck
		return "", err
	}

	if _, err := os.Stat(dest); err == nil {
		temp.Remove() //nolint:errcheck
		return "", &ErrDuplicateFile{ID: id, Path: dest}
	}

	size, err := temp.Size()
	if err != nil {
		return "", err
	}
	if err := temp.file.Chmod(0444); err != nil {
		return "", errors.Wrap(err, "making temp read-only")
	}
	if err := temp.file.Sync(); err != nil {
		return "", errors.Wrap(err, "syncing temp")
	}
	if err := os.Rename(temp.path, dest); err != nil {
		return "", common.NewError("commit_error", err.Error())
	}

	if err := temp.file.Close(); err != nil {
		logging.Logger.Warn("closing committed temp handle", zap.Error(err))
	}
	temp.file = nil
	fs.addTempBytes(-temp.written)
	fs.unlockTransfer(temp.id)
	fs.addCanonBytes(size)

	logging.Logger.Info("committed file",
		zap.String("id", id), zap.String("path", dest), zap.Int64("size", size))
	return dest, nil
}

// Verify opens the canonical file, recomputes its content hash and fails
// with an integrity error when the recomputed id differs from its name.
func (fs *FileStore) Verify(id, ext string) (hashtree.ContentHash, error) {
	f, err := fs.OpenForRead(id, ext)
	if err != nil {
		return hashtree.ContentHash{}, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return hashtree.ContentHash{}, err
	}
	if fi.Size() == 0 {
		return hashtree.ContentHash{}, common.NewErrorf("hash_mismatch", "%s is empty on disk", id)
	}

	ch, _, err := hashtree.HashStream(f, fi.Size(), fs.leafSize, fs.algo, nil)
	if err != nil {
		return hashtree.ContentHash{}, err
	}
	if ch.ID != id {
		return hashtree.ContentHash{}, common.NewErrorf("hash_mismatch",
			"canonical file named %s hashes to %s", id, ch.ID)
	}
	return ch, nil
}

// Remove deletes the canonical file for id. No other bookkeeping.
func (fs *FileStore) Remove(id, ext string) error {
	p, err := fs.PathFor(id, ext)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return notFound(id)
		}
		return err
	}
	logging.Logger.Info("removed file", zap.String("id", id))
	return nil
}
