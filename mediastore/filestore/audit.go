package filestore

import (
	"context"
	iofs "io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/remeh/sizedwaitgroup"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/json420/dmedia/core/logging"
)

// AuditResult is the outcome of a full-store integrity scan.
type AuditResult struct {
	Checked int
	Corrupt []string
}

// Audit walks every canonical file in the store and re-verifies it against
// its name, running at most numWorkers verifications in parallel. Corrupt
// ids are reported, never repaired.
func (fs *FileStore) Audit(ctx context.Context, numWorkers int) (*AuditResult, error) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	swg := sizedwaitgroup.New(numWorkers)

	var mu sync.Mutex
	res := &AuditResult{}

	transfersDir := filepath.Join(fs.base, TransfersDir)
	err := filepath.WalkDir(fs.base, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == transfersDir {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Base(path) == IdentityFile {
			return nil
		}
		id, ext, ok := fs.idFromPath(path)
		if !ok {
			logging.Logger.Warn("unrecognized file in store", zap.String("path", path))
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := swg.AddWithContext(ctx); err != nil {
			return err
		}
		go func() {
			defer swg.Done()
			_, vErr := fs.Verify(id, ext)
			mu.Lock()
			res.Checked++
			if vErr != nil {
				logging.Logger.Error("audit found corrupt file",
					zap.String("id", id), zap.Error(vErr))
				res.Corrupt = append(res.Corrupt, id)
			}
			mu.Unlock()
		}()
		return nil
	})

	swg.Wait()
	if err != nil {
		return res, err
	}
	return res, nil
}

// idFromPath recovers (id, ext) from a canonical path, the inverse of the
// <base>/<id[0:2]>/<id[2:]>[.<ext>] layout.
func (fs *FileStore) idFromPath(path string) (id, ext string, ok bool) {
	rel, err := filepath.Rel(fs.base, path)
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) != 2 || len(parts[0]) != 2 {
		return "", "", false
	}
	name := parts[1]
	if dot := strings.IndexByte(name, '.'); dot >= 0 {
		name, ext = name[:dot], name[dot+1:]
	}
	id = parts[0] + name
	if err := fs.validate(id, ext); err != nil {
		return "", "", false
	}
	return id, ext, true
}

// DiskStatus reports available and total bytes on the filesystem backing
// the store.
func (fs *FileStore) DiskStatus() (available, total uint64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(fs.base, &stat); err != nil {
		return 0, 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), stat.Blocks * uint64(stat.Bsize), nil
}
