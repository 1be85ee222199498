package filestore

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/renameio"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/json420/dmedia/core/common"
	"github.com/json420/dmedia/core/logging"
	"github.com/json420/dmedia/mediastore/hashtree"
	"github.com/json420/dmedia/mediastore/pathsafe"
)

const (
	// TransfersDir is the directory under the store base that holds both
	// kinds of temporary files.
	TransfersDir = "transfers"

	// IdentityFile is the persisted identity record at the store root.
	IdentityFile = "dmedia.json"

	defaultVerifyCacheSize = 1024
)

// identity is the small record written once when a store is created and
// read back on every subsequent open. It carries store identity plus the
// two parameters every peer of this store must agree on.
type identity struct {
	StoreID  string `json:"store_id"`
	Digest   string `json:"digest"`
	LeafSize int64  `json:"leaf_size"`
	Created  int64  `json:"created"`
}

// Options configure a store on first creation. Zero values fall back to
// sha1 / 8 MiB leaves. On reopen the persisted identity record wins.
type Options struct {
	Digest         string
	LeafSize       int64
	QuickCacheSize int
}

// FileStore owns a base directory and maps content hash to canonical path.
// Canonical files are immutable and read-only by construction: they only
// ever appear via atomic rename after verification, so a partially written
// file can never be mistaken for a canonical one.
type FileStore struct {
	base     string
	storeID  string
	algo     hashtree.Algorithm
	leafSize int64

	// quickIDs caches weak identity hashes of recently imported files so a
	// re-import can short-circuit before a full tree hash.
	quickIDs *lru.Cache[string, hashtree.ContentHash]

	// transferLocks implements the single-writer discipline for transfer
	// temps: the open TempHandle holds the lock until committed or
	// discarded.
	mu            sync.Mutex
	transferLocks map[string]struct{}

	statMu     sync.Mutex
	tempBytes  int64
	canonBytes int64
}

// New opens the store at baseDir, creating it and its identity record on
// first use.
func New(baseDir string, opts Options) (*FileStore, error) {
	if opts.Digest == "" {
		opts.Digest = "sha1"
	}
	if opts.LeafSize == 0 {
		opts.LeafSize = hashtree.DefaultLeafSize
	}
	if opts.QuickCacheSize == 0 {
		opts.QuickCacheSize = defaultVerifyCacheSize
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, errors.Wrap(err, "creating store base dir")
	}

	ident, err := loadOrCreateIdentity(baseDir, opts)
	if err != nil {
		return nil, err
	}

	algo, err := hashtree.LookupAlgorithm(ident.Digest)
	if err != nil {
		return nil, err
	}
	if ident.LeafSize <= 0 {
		return nil, common.NewErrorf("invalid_leaf_size", "identity record has leaf size %d", ident.LeafSize)
	}

	cache, err := lru.New[string, hashtree.ContentHash](opts.QuickCacheSize)
	if err != nil {
		return nil, err
	}

	fs := &FileStore{
		base:          baseDir,
		storeID:       ident.StoreID,
		algo:          algo,
		leafSize:      ident.LeafSize,
		quickIDs:      cache,
		transferLocks: make(map[string]struct{}),
	}

	transfersDir, err := pathsafe.Join(baseDir, TransfersDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(transfersDir, 0700); err != nil {
		return nil, errors.Wrap(err, "creating transfers dir")
	}

	logging.Logger.Info("opened file store",
		zap.String("base", baseDir),
		zap.String("store_id", fs.storeID),
		zap.String("digest", algo.Name),
		zap.Int64("leaf_size", fs.leafSize))

	return fs, nil
}

func loadOrCreateIdentity(baseDir string, opts Options) (identity, error) {
	identPath, err := pathsafe.Join(baseDir, IdentityFile)
	if err != nil {
		return identity{}, err
	}

	data, err := os.ReadFile(identPath)
	switch {
	case err == nil:
		var ident identity
		if err := json.Unmarshal(data, &ident); err != nil {
			return identity{}, common.NewError("bad_identity_record", err.Error())
		}
		if ident.StoreID == "" {
			return identity{}, common.NewError("bad_identity_record", "missing store_id")
		}
		return ident, nil
	case os.IsNotExist(err):
		ident := identity{
			StoreID:  uuid.New().String(),
			Digest:   opts.Digest,
			LeafSize: opts.LeafSize,
			Created:  time.Now().Unix(),
		}
		data, err := json.MarshalIndent(ident, "", "  ")
		if err != nil {
			return identity{}, err
		}
		if err := renameio.WriteFile(identPath, append(data, '\n'), 0644); err != nil {
			return identity{}, errors.Wrap(err, "writing identity record")
		}
		return ident, nil
	default:
		return identity{}, errors.Wrap(err, "reading identity record")
	}
}

// ID is the persistent identity of this physical store.
func (fs *FileStore) ID() string { return fs.storeID }

// Base is the store's base directory.
func (fs *FileStore) Base() string { return fs.base }

// Algo is the digest algorithm this store is parameterized with.
func (fs *FileStore) Algo() hashtree.Algorithm { return fs.algo }

// LeafSize is the store-wide leaf size in bytes.
func (fs *FileStore) LeafSize() int64 { return fs.leafSize }

// ErrDuplicateFile means the content is already present. It is a normal
// outcome, not a failure; it always carries the existing canonical path.
type ErrDuplicateFile struct {
	ID   string
	Path string
}

func (e *ErrDuplicateFile) Error() string {
	return fmt.Sprintf("duplicate_file: %s already stored at %s", e.ID, e.Path)
}

// IsDuplicate reports whether err is an ErrDuplicateFile.
func IsDuplicate(err error) bool {
	var dup *ErrDuplicateFile
	return errors.As(err, &dup)
}

func (fs *FileStore) lockTransfer(id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, held := fs.transferLocks[id]; held {
		return common.NewErrorfWithStatusCode(409, "conflict", "transfer temp for %s already has a writer", id)
	}
	fs.transferLocks[id] = struct{}{}
	return nil
}

func (fs *FileStore) unlockTransfer(id string) {
	if id == "" {
		return
	}
	fs.mu.Lock()
	delete(fs.transferLocks, id)
	fs.mu.Unlock()
}

func (fs *FileStore) addTempBytes(n int64) {
	fs.statMu.Lock()
	fs.tempBytes += n
	fs.statMu.Unlock()
}

func (fs *FileStore) addCanonBytes(n int64) {
	fs.statMu.Lock()
	fs.canonBytes += n
	fs.statMu.Unlock()
}

// TempBytes is the number of temp-file bytes this process has written and
// not yet committed or discarded.
func (fs *FileStore) TempBytes() int64 {
	fs.statMu.Lock()
	defer fs.statMu.Unlock()
	return fs.tempBytes
}

// CanonBytes is the number of bytes this process has committed into
// canonical files.
func (fs *FileStore) CanonBytes() int64 {
	fs.statMu.Lock()
	defer fs.statMu.Unlock()
	return fs.canonBytes
}
