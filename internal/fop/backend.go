package fop

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"time"
)

// FileType classifies an entry.
type FileType int

const (
	TypeUnknown FileType = iota
	TypeRegular
	TypeDir
	TypeSymlink
	TypeSpecial
)

func (t FileType) String() string {
	switch t {
	case TypeRegular:
		return "file"
	case TypeDir:
		return "dir"
	case TypeSymlink:
		return "symlink"
	case TypeSpecial:
		return "special"
	default:
		return "unknown"
	}
}

// Stat is one attribute snapshot returned by a backend. Symlinks are not
// followed.
type Stat struct {
	Name       string
	Size       int64
	Mode       fs.FileMode
	ModTime    time.Time
	AccessTime time.Time
	UID        uint32
	GID        uint32
	Dev        uint64
	Ino        uint64
	Nlink      uint64
	// Blocks is the number of 512-byte blocks allocated, 0 when unknown.
	Blocks int64
}

// Type returns the entry type derived from Mode.
func (s *Stat) Type() FileType {
	switch {
	case s.Mode.IsRegular():
		return TypeRegular
	case s.Mode.IsDir():
		return TypeDir
	case s.Mode&fs.ModeSymlink != 0:
		return TypeSymlink
	default:
		return TypeSpecial
	}
}

// DirEntry is one child returned by a DirReader. Stat may be nil when the
// backend cannot produce it cheaply.
type DirEntry struct {
	Name string
	Stat *Stat
}

// DirReader reads directory entries in batches. ReadEntries returns io.EOF
// once the directory is exhausted and must give up when ctx is done.
type DirReader interface {
	ReadEntries(ctx context.Context, n int) ([]DirEntry, error)
	Close() error
}

// Backend is the virtual filesystem capability for one URL scheme.
type Backend interface {
	Scheme() string
	Stat(ctx context.Context, u URL) (*Stat, error)
	OpenDir(ctx context.Context, u URL) (DirReader, error)
	Open(ctx context.Context, u URL) (io.ReadCloser, error)
	// Create opens u for writing, truncating any existing content.
	Create(ctx context.Context, u URL, perm fs.FileMode) (io.WriteCloser, error)
	Mkdir(ctx context.Context, u URL, perm fs.FileMode) error
	// Remove deletes a file, a symlink or an empty directory.
	Remove(ctx context.Context, u URL) error
}

// Renamer is implemented by backends that can move entries in place.
type Renamer interface {
	Rename(ctx context.Context, from, to URL) error
}

// AttrSetter is implemented by backends that keep permissions and times.
type AttrSetter interface {
	Chmod(ctx context.Context, u URL, mode fs.FileMode) error
	Chtimes(ctx context.Context, u URL, atime, mtime time.Time) error
}

// Linker is implemented by backends that support symbolic and hard links.
type Linker interface {
	Symlink(ctx context.Context, target string, link URL) error
	Link(ctx context.Context, existing, link URL) error
	Readlink(ctx context.Context, u URL) (string, error)
}

// BackendCopier is the generic copy primitive of a backend, used for
// copies that stay on one non-local backend.
type BackendCopier interface {
	CopyFile(ctx context.Context, from, to URL) error
}

// LocalPather maps a URL to a path on the local filesystem. Backends that
// implement it get the fast local copy strategies.
type LocalPather interface {
	LocalPath(u URL) (string, bool)
}

// Registry resolves URLs to backends by scheme.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[string]Backend)}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// Register adds b, replacing any backend with the same scheme.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Scheme()] = b
}

// Backend returns the backend serving u.
func (r *Registry) Backend(u URL) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, u.Scheme)
	}
	return b, nil
}

// FileInfo creates an attribute cache for u.
func (r *Registry) FileInfo(u URL) (*FileInfo, error) {
	b, err := r.Backend(u)
	if err != nil {
		return nil, err
	}
	return NewFileInfo(b, u), nil
}

// localPath returns the local path of u when its backend exposes one.
func localPath(b Backend, u URL) (string, bool) {
	lp, ok := b.(LocalPather)
	if !ok {
		return "", false
	}
	return lp.LocalPath(u)
}
