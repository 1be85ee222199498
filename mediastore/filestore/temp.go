package filestore

import (
	"os"

	"github.com/lithammer/shortuuid/v3"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/json420/dmedia/core/logging"
	"github.com/json420/dmedia/mediastore/pathsafe"
)

// TempHandle owns an open temporary file. Holding the handle is what
// licenses writing the temp and, eventually, calling MoveIntoPlace; the
// store guarantees no two handles write the same transfer temp at once.
type TempHandle struct {
	store   *FileStore
	file    *os.File
	path    string
	id      string // expected content hash for transfer temps, "" for import temps
	ext     string
	existed bool
	written int64
}

// Path is the on-disk location of the temp file.
func (t *TempHandle) Path() string { return t.path }

// Existed reports whether the transfer temp was already on disk when
// allocated, i.e. a prior attempt left resumable progress. The existing
// file size must not be trusted as bytes transferred (pre-allocation);
// progress is determined by per-leaf verification.
func (t *TempHandle) Existed() bool { return t.existed }

func (t *TempHandle) Write(p []byte) (int, error) {
	n, err := t.file.Write(p)
	t.written += int64(n)
	t.store.addTempBytes(int64(n))
	return n, err
}

func (t *TempHandle) WriteAt(p []byte, off int64) (int, error) {
	n, err := t.file.WriteAt(p, off)
	t.written += int64(n)
	t.store.addTempBytes(int64(n))
	return n, err
}

func (t *TempHandle) ReadAt(p []byte, off int64) (int, error) {
	return t.file.ReadAt(p, off)
}

// Size is the current on-disk size of the temp file.
func (t *TempHandle) Size() (int64, error) {
	fi, err := t.file.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Discard abandons the temp. For transfer temps the file stays on disk so
// a later session can resume; only the handle (and its writer lock) is
// released. Import temps are deleted outright.
func (t *TempHandle) Discard() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	t.store.addTempBytes(-t.written)
	t.store.unlockTransfer(t.id)
	if t.id == "" {
		if rmErr := os.Remove(t.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = rmErr
		}
	}
	return err
}

// Remove closes the handle and deletes the temp file outright, used when
// the content turned out to already be canonical or the temp holds no
// progress worth keeping.
func (t *TempHandle) Remove() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	t.store.addTempBytes(-t.written)
	t.store.unlockTransfer(t.id)
	if rmErr := os.Remove(t.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

// AllocateImportTemp creates a randomly named temp file for local ingestion,
// used when the content hash is not yet known. expectedSize is best-effort
// pre-allocated; a failed pre-allocation degrades to a plain empty file.
func (fs *FileStore) AllocateImportTemp(expectedSize int64, ext string) (*TempHandle, error) {
	if ext != "" {
		if err := pathsafe.ValidateExt(ext); err != nil {
			return nil, err
		}
	}
	name := shortuuid.New()
	if ext != "" {
		name += "." + ext
	}
	p, err := pathsafe.EnsureParentDir(fs.base, TransfersDir, name)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	preallocate(f, expectedSize)
	return &TempHandle{store: fs, file: f, path: p, ext: ext}, nil
}

// AllocateTransferTemp creates or reopens the transfer temp named by the
// expected content hash, so a restarted download finds and re-verifies
// partial progress. The store hands out at most one handle per id at a
// time.
func (fs *FileStore) AllocateTransferTemp(expectedSize int64, id, ext string) (*TempHandle, error) {
	p, err := fs.TempPathFor(id, ext)
	if err != nil {
		return nil, err
	}
	if err := fs.lockTransfer(id); err != nil {
		return nil, err
	}

	_, statErr := os.Stat(p)
	existed := statErr == nil

	f, err := os.OpenFile(p, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		fs.unlockTransfer(id)
		return nil, err
	}
	if !existed {
		preallocate(f, expectedSize)
	}
	return &TempHandle{store: fs, file: f, path: p, id: id, ext: ext, existed: existed}, nil
}

func preallocate(f *os.File, size int64) {
	if size <= 0 {
		return
	}
	if err := unix.Fallocate(int(f.Fd()), 0, 0, size); err != nil {
		logging.Logger.Debug("preallocation failed, continuing with a sparse file",
			zap.String("file", f.Name()), zap.Int64("size", size), zap.Error(err))
	}
}
