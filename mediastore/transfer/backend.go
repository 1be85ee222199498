// Package transfer implements the resumable leaf-wise transfer protocol:
// the client-side download session, the retry policy, and the minimal
// plugin contract remote backends implement.
package transfer

import (
	"context"
	"sort"

	"github.com/json420/dmedia/core/common"
	"github.com/json420/dmedia/mediastore/filestore"
	"github.com/json420/dmedia/mediastore/hashtree"
)

// FileDoc is the slice of a file's metadata document a backend needs: what
// the file is and where a copy of it lives. The metadata schema itself is
// owned by the replication layer, not by this package.
type FileDoc struct {
	Hash hashtree.ContentHash
	Ext  string
	// URL locates the remote copy for URL-addressed backends.
	URL string
}

// Backend moves a file's bytes between a remote peer and a local store. A
// successful Download must leave a file that FileStore.Verify accepts; how
// the bytes move is the backend's business.
type Backend interface {
	Download(ctx context.Context, doc *FileDoc, store *filestore.FileStore) error
	Upload(ctx context.Context, doc *FileDoc, store *filestore.FileStore) error
}

// BackendFactory constructs a backend from its configuration.
type BackendFactory func() (Backend, error)

// Registry maps a plugin name to its factory. It is built once at process
// start and passed by reference to whatever constructs transfer sessions;
// there is no process-wide registry.
type Registry struct {
	factories map[string]BackendFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]BackendFactory)}
}

func (r *Registry) Register(name string, f BackendFactory) error {
	if _, dup := r.factories[name]; dup {
		return common.NewErrorf("duplicate_backend", "backend %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

func (r *Registry) Get(name string) (Backend, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, common.NewErrorf("unknown_backend", "no backend named %q (have %v)", name, r.Names())
	}
	return f()
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
