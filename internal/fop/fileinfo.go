package fop

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// AttrKind selects one cached attribute of a FileInfo.
type AttrKind int

const (
	AttrExists AttrKind = iota
	AttrName
	AttrSize
	AttrPermissions
	AttrModTime
	AttrAccessTime
	AttrOwner
	AttrGroup
	AttrSymlinkTarget
	AttrType
	AttrInode
)

// FileInfo is a lazily populated view of one entry. Attributes are fetched
// on first use and kept until Refresh. A FileInfo is owned by a single
// goroutine.
type FileInfo struct {
	backend Backend
	url     URL
	cache   attrCache
}

// attrCache holds everything a FileInfo has fetched so far. It is only
// ever cleared as a whole.
type attrCache struct {
	stat         *Stat
	statErr      error
	statLoaded   bool
	target       string
	targetErr    error
	targetLoaded bool
}

func (c *attrCache) invalidate() { *c = attrCache{} }

func NewFileInfo(b Backend, u URL) *FileInfo {
	return &FileInfo{backend: b, url: u}
}

// newFileInfoWithStat seeds the cache, used when an enumerator already
// returned the attributes.
func newFileInfoWithStat(b Backend, u URL, st *Stat) *FileInfo {
	fi := NewFileInfo(b, u)
	if st != nil {
		fi.cache.stat = st
		fi.cache.statLoaded = true
	}
	return fi
}

func (fi *FileInfo) URL() URL         { return fi.url }
func (fi *FileInfo) Backend() Backend { return fi.backend }

// Refresh drops every cached attribute.
func (fi *FileInfo) Refresh() { fi.cache.invalidate() }

// Stat returns the cached attribute snapshot, fetching it on first use.
func (fi *FileInfo) Stat(ctx context.Context) (*Stat, error) {
	if !fi.cache.statLoaded {
		fi.cache.stat, fi.cache.statErr = fi.backend.Stat(ctx, fi.url)
		fi.cache.statLoaded = true
	}
	return fi.cache.stat, fi.cache.statErr
}

// Exists reports whether the entry could be stat'ed.
func (fi *FileInfo) Exists(ctx context.Context) bool {
	_, err := fi.Stat(ctx)
	return err == nil
}

// Type returns the entry type, TypeUnknown when it cannot be stat'ed.
func (fi *FileInfo) Type(ctx context.Context) FileType {
	st, err := fi.Stat(ctx)
	if err != nil {
		return TypeUnknown
	}
	return st.Type()
}

// Name returns the entry name, falling back to the last URL element.
func (fi *FileInfo) Name() string {
	if fi.cache.stat != nil && fi.cache.stat.Name != "" {
		return fi.cache.stat.Name
	}
	return fi.url.Base()
}

// SymlinkTarget returns the link content. Backends without link support
// report ErrNotSupported.
func (fi *FileInfo) SymlinkTarget(ctx context.Context) (string, error) {
	if !fi.cache.targetLoaded {
		if l, ok := fi.backend.(Linker); ok {
			fi.cache.target, fi.cache.targetErr = l.Readlink(ctx, fi.url)
		} else {
			fi.cache.targetErr = ErrNotSupported
		}
		fi.cache.targetLoaded = true
	}
	return fi.cache.target, fi.cache.targetErr
}

// Attribute returns one attribute by kind.
func (fi *FileInfo) Attribute(ctx context.Context, kind AttrKind) (any, error) {
	switch kind {
	case AttrExists:
		return fi.Exists(ctx), nil
	case AttrName:
		return fi.Name(), nil
	case AttrSymlinkTarget:
		return fi.SymlinkTarget(ctx)
	}

	st, err := fi.Stat(ctx)
	if err != nil {
		return nil, err
	}
	switch kind {
	case AttrSize:
		return st.Size, nil
	case AttrPermissions:
		return st.Mode.Perm(), nil
	case AttrModTime:
		return st.ModTime, nil
	case AttrAccessTime:
		return st.AccessTime, nil
	case AttrOwner:
		return st.UID, nil
	case AttrGroup:
		return st.GID, nil
	case AttrType:
		return st.Type(), nil
	case AttrInode:
		return st.Ino, nil
	}
	return nil, fmt.Errorf("unknown attribute kind %d", kind)
}

// isNotExist reports whether err means the entry is missing.
func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
