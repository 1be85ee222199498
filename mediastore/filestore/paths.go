package filestore

import (
	"os"

	"github.com/json420/dmedia/mediastore/pathsafe"
)

// canonicalName splits an id into the two-character subdirectory and the
// remainder that together form the canonical layout
// <base>/<id[0:2]>/<id[2:]>[.<ext>].
func canonicalName(id, ext string) (dir, file string) {
	dir, file = id[:2], id[2:]
	if ext != "" {
		file += "." + ext
	}
	return dir, file
}

func (fs *FileStore) validate(id, ext string) error {
	if err := pathsafe.ValidateID(id, fs.algo.IDLength()); err != nil {
		return err
	}
	if ext != "" {
		if err := pathsafe.ValidateExt(ext); err != nil {
			return err
		}
	}
	return nil
}

// PathFor is the canonical path for id, a pure function apart from the
// validation; it performs no I/O.
func (fs *FileStore) PathFor(id, ext string) (string, error) {
	if err := fs.validate(id, ext); err != nil {
		return "", err
	}
	dir, file := canonicalName(id, ext)
	return pathsafe.Join(fs.base, dir, file)
}

// TempPathFor is the transfer-temp path for an expected content hash.
func (fs *FileStore) TempPathFor(id, ext string) (string, error) {
	if err := fs.validate(id, ext); err != nil {
		return "", err
	}
	name := id
	if ext != "" {
		name += "." + ext
	}
	return pathsafe.Join(fs.base, TransfersDir, name)
}

// Exists reports whether the canonical file for id is present.
func (fs *FileStore) Exists(id, ext string) bool {
	p, err := fs.PathFor(id, ext)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// OpenForRead opens the canonical file for id.
func (fs *FileStore) OpenForRead(id, ext string) (*os.File, error) {
	p, err := fs.PathFor(id, ext)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(id)
		}
		return nil, err
	}
	return f, nil
}
