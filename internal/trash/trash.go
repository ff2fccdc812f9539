// Package trash implements the freedesktop.org home trash: trashed entries
// live under files/ and their origin is kept in info/<name>.trashinfo.
package trash

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"fop-go/internal/fop"
	localfs "fop-go/internal/fs"
)

const infoSuffix = ".trashinfo"

// Trash serves trash:// URLs and moves local entries into the trash.
type Trash struct {
	root  string
	clock fop.Clock
	local *localfs.LocalBackend

	// mu serialises name reservation.
	mu sync.Mutex
}

// New returns the trash rooted at dir, usually ~/.local/share/Trash.
func New(dir string, clock fop.Clock) *Trash {
	if clock == nil {
		clock = fop.RealClock{}
	}
	return &Trash{root: dir, clock: clock, local: localfs.NewLocalBackend()}
}

// DefaultDir returns $XDG_DATA_HOME/Trash, falling back to
// ~/.local/share/Trash.
func DefaultDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "Trash"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "Trash"), nil
}

func (t *Trash) filesDir() string { return filepath.Join(t.root, "files") }
func (t *Trash) infoDir() string  { return filepath.Join(t.root, "info") }

func (t *Trash) ensureDirs() error {
	for _, dir := range []string{t.filesDir(), t.infoDir()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating trash directory: %w", err)
		}
	}
	return nil
}

// Root lists every trashed item.
func (t *Trash) Root() fop.URL { return fop.URL{Scheme: fop.SchemeTrash, Path: "/"} }

func (t *Trash) Scheme() string { return fop.SchemeTrash }

// LocalPath maps a trash URL to its place under files/.
func (t *Trash) LocalPath(u fop.URL) (string, bool) {
	if u.Scheme != fop.SchemeTrash {
		return "", false
	}
	return filepath.Join(t.filesDir(), filepath.FromSlash(u.Path)), true
}

func (t *Trash) file(u fop.URL) (fop.URL, error) {
	p, ok := t.LocalPath(u)
	if !ok {
		return fop.URL{}, fmt.Errorf("not a trash URL: %s", u)
	}
	return fop.LocalURL(p), nil
}

// itemName is the top level trashed name of u, "" for the root.
func itemName(u fop.URL) string {
	rel := strings.TrimPrefix(u.Path, "/")
	name, _, _ := strings.Cut(rel, "/")
	return name
}

// Trash moves u into the trash. Only local entries on the same device as
// the trash can be trashed.
func (t *Trash) Trash(ctx context.Context, u fop.URL) (fop.URL, error) {
	if !u.IsLocal() {
		return fop.URL{}, fmt.Errorf("%w: trashing %s URLs", fop.ErrNotSupported, u.Scheme)
	}
	src := filepath.FromSlash(u.Path)
	if _, err := os.Lstat(src); err != nil {
		return fop.URL{}, err
	}
	if err := t.ensureDirs(); err != nil {
		return fop.URL{}, err
	}

	info := TrashInfo{Path: src, DeletionDate: t.clock.Now()}
	name, err := t.reserve(filepath.Base(src), info)
	if err != nil {
		return fop.URL{}, err
	}
	if err := os.Rename(src, filepath.Join(t.filesDir(), name)); err != nil {
		_ = os.Remove(t.infoPath(name))
		if errors.Is(err, syscall.EXDEV) {
			return fop.URL{}, fmt.Errorf("%s is on another device than the trash: %w", src, err)
		}
		return fop.URL{}, err
	}
	return fop.URL{Scheme: fop.SchemeTrash, Path: "/" + name}, nil
}

// reserve picks a free trash name by creating its info file exclusively.
func (t *Trash) reserve(base string, info TrashInfo) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	data := info.Marshal()
	for n := 1; ; n++ {
		name := base
		if n > 1 {
			name = base + "." + strconv.Itoa(n)
		}
		if _, err := os.Lstat(filepath.Join(t.filesDir(), name)); err == nil {
			continue
		}
		f, err := os.OpenFile(t.infoPath(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("writing trash info: %w", err)
		}
		_, werr := f.Write(data)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			_ = os.Remove(t.infoPath(name))
			return "", fmt.Errorf("writing trash info: %w", werr)
		}
		return name, nil
	}
}

func (t *Trash) infoPath(name string) string {
	return filepath.Join(t.infoDir(), name+infoSuffix)
}

// Lookup returns where u was trashed from. Entries inside a trashed
// directory map below its original path.
func (t *Trash) Lookup(ctx context.Context, u fop.URL) (*fop.TrashedItem, error) {
	name := itemName(u)
	if name == "" {
		return nil, fmt.Errorf("the trash root is not a trashed item")
	}
	data, err := os.ReadFile(t.infoPath(name))
	if err != nil {
		return nil, fmt.Errorf("reading trash info of %s: %w", name, err)
	}
	info, err := ParseTrashInfo(data)
	if err != nil {
		return nil, fmt.Errorf("trash info of %s: %w", name, err)
	}
	orig := fop.LocalURL(info.Path)
	if rest := strings.TrimPrefix(strings.TrimPrefix(u.Path, "/"), name); rest != "" {
		orig.Path = path.Join(orig.Path, rest)
	}
	return &fop.TrashedItem{
		URL:         u,
		Name:        orig.Base(),
		OriginalURL: orig,
		DeletedAt:   info.DeletionDate,
	}, nil
}

// Forget drops the info file of a top level item that left the trash.
func (t *Trash) Forget(ctx context.Context, u fop.URL) error {
	name := itemName(u)
	if name == "" || strings.Trim(u.Path, "/") != name {
		return nil
	}
	if err := os.Remove(t.infoPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Items lists the trashed items with their metadata, skipping orphans.
func (t *Trash) Items(ctx context.Context) ([]fop.TrashedItem, error) {
	entries, err := os.ReadDir(t.filesDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var items []fop.TrashedItem
	for _, e := range entries {
		item, err := t.Lookup(ctx, fop.URL{Scheme: fop.SchemeTrash, Path: "/" + e.Name()})
		if err != nil {
			continue
		}
		items = append(items, *item)
	}
	return items, nil
}

func (t *Trash) Stat(ctx context.Context, u fop.URL) (*fop.Stat, error) {
	f, err := t.file(u)
	if err != nil {
		return nil, err
	}
	if u.Path == "/" {
		if err := t.ensureDirs(); err != nil {
			return nil, err
		}
	}
	return t.local.Stat(ctx, f)
}

func (t *Trash) OpenDir(ctx context.Context, u fop.URL) (fop.DirReader, error) {
	f, err := t.file(u)
	if err != nil {
		return nil, err
	}
	if u.Path == "/" {
		if err := t.ensureDirs(); err != nil {
			return nil, err
		}
	}
	return t.local.OpenDir(ctx, f)
}

func (t *Trash) Open(ctx context.Context, u fop.URL) (io.ReadCloser, error) {
	f, err := t.file(u)
	if err != nil {
		return nil, err
	}
	return t.local.Open(ctx, f)
}

func (t *Trash) Create(ctx context.Context, u fop.URL, perm fs.FileMode) (io.WriteCloser, error) {
	if itemName(u) == "" || strings.Trim(u.Path, "/") == itemName(u) {
		return nil, fmt.Errorf("%w: creating top level trash items", fop.ErrNotSupported)
	}
	f, err := t.file(u)
	if err != nil {
		return nil, err
	}
	return t.local.Create(ctx, f, perm)
}

func (t *Trash) Mkdir(ctx context.Context, u fop.URL, perm fs.FileMode) error {
	if strings.Trim(u.Path, "/") == itemName(u) {
		return fmt.Errorf("%w: creating top level trash items", fop.ErrNotSupported)
	}
	f, err := t.file(u)
	if err != nil {
		return err
	}
	return t.local.Mkdir(ctx, f, perm)
}

// Remove deletes an entry for good. Removing a top level item also drops
// its info file.
func (t *Trash) Remove(ctx context.Context, u fop.URL) error {
	f, err := t.file(u)
	if err != nil {
		return err
	}
	if u.Path == "/" {
		return fmt.Errorf("cannot remove the trash root")
	}
	if err := t.local.Remove(ctx, f); err != nil {
		return err
	}
	return t.Forget(ctx, u)
}

func (t *Trash) Readlink(ctx context.Context, u fop.URL) (string, error) {
	f, err := t.file(u)
	if err != nil {
		return "", err
	}
	return t.local.Readlink(ctx, f)
}

func (t *Trash) Symlink(ctx context.Context, target string, link fop.URL) error {
	return fmt.Errorf("%w: links inside the trash", fop.ErrNotSupported)
}

func (t *Trash) Link(ctx context.Context, existing, link fop.URL) error {
	return fmt.Errorf("%w: links inside the trash", fop.ErrNotSupported)
}

// Chmod is allowed so permanent deletion can open read-only directories.
func (t *Trash) Chmod(ctx context.Context, u fop.URL, mode fs.FileMode) error {
	f, err := t.file(u)
	if err != nil {
		return err
	}
	return t.local.Chmod(ctx, f, mode)
}

func (t *Trash) Chtimes(ctx context.Context, u fop.URL, atime, mtime time.Time) error {
	f, err := t.file(u)
	if err != nil {
		return err
	}
	return t.local.Chtimes(ctx, f, atime, mtime)
}

var (
	_ fop.Backend     = (*Trash)(nil)
	_ fop.Trasher     = (*Trash)(nil)
	_ fop.LocalPather = (*Trash)(nil)
	_ fop.AttrSetter  = (*Trash)(nil)
	_ fop.Linker      = (*Trash)(nil)
)
