package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"fop-go/internal/fop"
)

// LocalBackend serves file:// URLs from the local filesystem.
type LocalBackend struct{}

// NewLocalBackend creates the backend for the local filesystem.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{}
}

func (b *LocalBackend) Scheme() string { return fop.SchemeFile }

// LocalPath returns the OS path of u.
func (b *LocalBackend) LocalPath(u fop.URL) (string, bool) {
	if u.Scheme != fop.SchemeFile {
		return "", false
	}
	return filepath.FromSlash(u.Path), true
}

func (b *LocalBackend) path(u fop.URL) (string, error) {
	p, ok := b.LocalPath(u)
	if !ok {
		return "", fmt.Errorf("not a local URL: %s", u)
	}
	return p, nil
}

// Stat does not follow symlinks.
func (b *LocalBackend) Stat(ctx context.Context, u fop.URL) (*fop.Stat, error) {
	p, err := b.path(u)
	if err != nil {
		return nil, err
	}
	info, err := os.Lstat(p)
	if err != nil {
		return nil, err
	}
	return StatFromInfo(info), nil
}

func (b *LocalBackend) OpenDir(ctx context.Context, u fop.URL) (fop.DirReader, error) {
	p, err := b.path(u)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	return &dirReader{f: f, dir: p}, nil
}

func (b *LocalBackend) Open(ctx context.Context, u fop.URL) (io.ReadCloser, error) {
	p, err := b.path(u)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	if info, err := f.Stat(); err == nil && info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("cannot open directory as file: %s", p)
	}
	return f, nil
}

func (b *LocalBackend) Create(ctx context.Context, u fop.URL, perm fs.FileMode) (io.WriteCloser, error) {
	p, err := b.path(u)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
}

func (b *LocalBackend) Mkdir(ctx context.Context, u fop.URL, perm fs.FileMode) error {
	p, err := b.path(u)
	if err != nil {
		return err
	}
	return os.Mkdir(p, perm)
}

func (b *LocalBackend) Remove(ctx context.Context, u fop.URL) error {
	p, err := b.path(u)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

func (b *LocalBackend) Rename(ctx context.Context, from, to fop.URL) error {
	src, err := b.path(from)
	if err != nil {
		return err
	}
	dst, err := b.path(to)
	if err != nil {
		return err
	}
	return os.Rename(src, dst)
}

func (b *LocalBackend) Chmod(ctx context.Context, u fop.URL, mode fs.FileMode) error {
	p, err := b.path(u)
	if err != nil {
		return err
	}
	return os.Chmod(p, mode)
}

func (b *LocalBackend) Chtimes(ctx context.Context, u fop.URL, atime, mtime time.Time) error {
	p, err := b.path(u)
	if err != nil {
		return err
	}
	return os.Chtimes(p, atime, mtime)
}

func (b *LocalBackend) Symlink(ctx context.Context, target string, link fop.URL) error {
	p, err := b.path(link)
	if err != nil {
		return err
	}
	return os.Symlink(target, p)
}

func (b *LocalBackend) Link(ctx context.Context, existing, link fop.URL) error {
	src, err := b.path(existing)
	if err != nil {
		return err
	}
	dst, err := b.path(link)
	if err != nil {
		return err
	}
	return os.Link(src, dst)
}

func (b *LocalBackend) Readlink(ctx context.Context, u fop.URL) (string, error) {
	p, err := b.path(u)
	if err != nil {
		return "", err
	}
	return os.Readlink(p)
}

// dirReader reads a directory in batches. Reads run on their own
// goroutine so a hung mount gives up when ctx does.
type dirReader struct {
	f   *os.File
	dir string
}

type readResult struct {
	entries []fop.DirEntry
	err     error
}

func (r *dirReader) ReadEntries(ctx context.Context, n int) ([]fop.DirEntry, error) {
	if ctx.Done() == nil {
		return r.read(n)
	}
	ch := make(chan readResult, 1)
	go func() {
		entries, err := r.read(n)
		ch <- readResult{entries: entries, err: err}
	}()
	select {
	case res := <-ch:
		return res.entries, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *dirReader) read(n int) ([]fop.DirEntry, error) {
	dirents, err := r.f.ReadDir(n)
	if len(dirents) == 0 {
		if err == nil {
			err = io.EOF
		}
		return nil, err
	}
	entries := make([]fop.DirEntry, 0, len(dirents))
	for _, d := range dirents {
		e := fop.DirEntry{Name: d.Name()}
		info, ierr := d.Info()
		if ierr == nil {
			e.Stat = StatFromInfo(info)
		} else if !errors.Is(ierr, fs.ErrNotExist) {
			return entries, fmt.Errorf("stat %s: %w", filepath.Join(r.dir, d.Name()), ierr)
		}
		entries = append(entries, e)
	}
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return entries, err
}

func (r *dirReader) Close() error { return r.f.Close() }

var (
	_ fop.Backend     = (*LocalBackend)(nil)
	_ fop.LocalPather = (*LocalBackend)(nil)
	_ fop.Renamer     = (*LocalBackend)(nil)
	_ fop.AttrSetter  = (*LocalBackend)(nil)
	_ fop.Linker      = (*LocalBackend)(nil)
)
