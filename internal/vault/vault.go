// Package vault serves vault:// URLs from a directory tree whose file
// contents are sealed with age. Names and the tree shape stay in plaintext:
//
//	<root>/
//	  content/
//	    <path>    (sealed file bodies, plain directories)
package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fop-go/internal/encryption"
	"fop-go/internal/fop"
	localfs "fop-go/internal/fs"
)

// Scheme addresses entries in the vault.
const Scheme = "vault"

// tmpPrefix marks files being sealed. They are hidden from listings.
const tmpPrefix = ".tmp-"

// Unlocker produces the decryption context the first time sealed content
// is read, usually by prompting for the passphrase.
type Unlocker func() (encryption.DecryptionContext, error)

// Vault is a fop.Backend over an encrypted directory tree.
type Vault struct {
	root       string
	contentDir string
	enc        encryption.Encryptor
	unlock     Unlocker
	storage    fop.StorageResolver
	local      *localfs.LocalBackend

	mu sync.Mutex
	dc encryption.DecryptionContext
}

// New opens the vault rooted at root, creating its layout. storage may be
// nil, in which case free space is not reported.
func New(root string, enc encryption.Encryptor, unlock Unlocker, storage fop.StorageResolver) (*Vault, error) {
	contentDir := filepath.Join(root, "content")
	if err := os.MkdirAll(contentDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}
	return &Vault{
		root:       root,
		contentDir: contentDir,
		enc:        enc,
		unlock:     unlock,
		storage:    storage,
		local:      localfs.NewLocalBackend(),
	}, nil
}

// Root is the URL of the top of the vault.
func (v *Vault) Root() fop.URL { return fop.URL{Scheme: Scheme, Path: "/"} }

func (v *Vault) Scheme() string { return Scheme }

// ValidateSetup verifies that the vault directories are accessible and the
// keys exist.
func (v *Vault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.contentDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	if !v.enc.IsConfigured() {
		return errors.New("vault keys are not set up, run `fop vault init`")
	}
	return nil
}

func (v *Vault) path(u fop.URL) (string, error) {
	if u.Scheme != Scheme {
		return "", fmt.Errorf("not a vault URL: %s", u)
	}
	return filepath.Join(v.contentDir, filepath.FromSlash(u.Path)), nil
}

func (v *Vault) file(u fop.URL) (fop.URL, error) {
	p, err := v.path(u)
	if err != nil {
		return fop.URL{}, err
	}
	return fop.LocalURL(p), nil
}

// decryption unlocks the vault once per process.
func (v *Vault) decryption() (encryption.DecryptionContext, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dc != nil {
		return v.dc, nil
	}
	if v.unlock == nil {
		return nil, errors.New("vault is locked")
	}
	dc, err := v.unlock()
	if err != nil {
		return nil, fmt.Errorf("unlocking vault: %w", err)
	}
	v.dc = dc
	return dc, nil
}

// Stat reports the plaintext size of sealed files.
func (v *Vault) Stat(ctx context.Context, u fop.URL) (*fop.Stat, error) {
	f, err := v.file(u)
	if err != nil {
		return nil, err
	}
	st, err := v.local.Stat(ctx, f)
	if err != nil {
		return nil, err
	}
	return v.plain(f.Path, st)
}

// plain rewrites the size of a sealed file's stat in place.
func (v *Vault) plain(p string, st *fop.Stat) (*fop.Stat, error) {
	if st.Type() != fop.TypeRegular {
		return st, nil
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	size, err := v.enc.PlaintextSize(f, st.Size)
	if err != nil {
		return nil, fmt.Errorf("sealed file %s: %w", p, err)
	}
	st.Size = size
	st.Blocks = 0
	return st, nil
}

func (v *Vault) OpenDir(ctx context.Context, u fop.URL) (fop.DirReader, error) {
	f, err := v.file(u)
	if err != nil {
		return nil, err
	}
	r, err := v.local.OpenDir(ctx, f)
	if err != nil {
		return nil, err
	}
	return &dirReader{DirReader: r, v: v, dir: f.Path}, nil
}

// dirReader hides files being sealed and reports plaintext sizes.
type dirReader struct {
	fop.DirReader
	v   *Vault
	dir string
}

func (r *dirReader) ReadEntries(ctx context.Context, n int) ([]fop.DirEntry, error) {
	for {
		entries, err := r.DirReader.ReadEntries(ctx, n)
		out := entries[:0]
		for _, e := range entries {
			if strings.HasPrefix(e.Name, tmpPrefix) {
				continue
			}
			if e.Stat != nil {
				// Left to the enumerator's own Stat when the size is unreadable.
				st, serr := r.v.plain(filepath.Join(r.dir, e.Name), e.Stat)
				if serr != nil {
					st = nil
				}
				e.Stat = st
			}
			out = append(out, e)
		}
		if len(out) > 0 || err != nil || len(entries) == 0 {
			return out, err
		}
	}
}

// Open returns a reader of the plaintext, unlocking the vault if needed.
func (v *Vault) Open(ctx context.Context, u fop.URL) (io.ReadCloser, error) {
	dc, err := v.decryption()
	if err != nil {
		return nil, err
	}
	f, err := v.file(u)
	if err != nil {
		return nil, err
	}
	rc, err := v.local.Open(ctx, f)
	if err != nil {
		return nil, err
	}
	plain, err := dc.DecryptReader(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("opening %s: %w", u, err)
	}
	return &sealedReader{Reader: plain, c: rc}, nil
}

type sealedReader struct {
	io.Reader
	c io.Closer
}

func (r *sealedReader) Close() error { return r.c.Close() }

// Create seals content into a hidden temporary file that replaces u on
// Close, so u never holds a partial file.
func (v *Vault) Create(ctx context.Context, u fop.URL, perm fs.FileMode) (io.WriteCloser, error) {
	dest, err := v.path(u)
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), tmpPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	enc, err := v.enc.EncryptWriter(tmp)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	return &sealedWriter{enc: enc, tmp: tmp, dest: dest, perm: perm}, nil
}

type sealedWriter struct {
	enc  io.WriteCloser
	tmp  *os.File
	dest string
	perm fs.FileMode
	err  error
}

func (w *sealedWriter) Write(p []byte) (int, error) {
	n, err := w.enc.Write(p)
	if err != nil && w.err == nil {
		w.err = err
	}
	return n, err
}

func (w *sealedWriter) Close() error {
	tmpPath := w.tmp.Name()
	err := w.err
	if cerr := w.enc.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = w.tmp.Chmod(w.perm)
	}
	if cerr := w.tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpPath, w.dest)
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sealing %s: %w", w.dest, err)
	}
	return nil
}

// CopyFile copies the sealed bytes as they are. Content sealed for the
// vault key needs no re-encryption to live elsewhere in the vault.
func (v *Vault) CopyFile(ctx context.Context, from, to fop.URL) error {
	src, err := v.path(from)
	if err != nil {
		return err
	}
	dest, err := v.path(to)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: in})
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != info.Size() {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", info.Size(), written)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

func (v *Vault) Mkdir(ctx context.Context, u fop.URL, perm fs.FileMode) error {
	f, err := v.file(u)
	if err != nil {
		return err
	}
	return v.local.Mkdir(ctx, f, perm)
}

func (v *Vault) Remove(ctx context.Context, u fop.URL) error {
	if u.Path == "/" {
		return errors.New("cannot remove the vault root")
	}
	f, err := v.file(u)
	if err != nil {
		return err
	}
	return v.local.Remove(ctx, f)
}

func (v *Vault) Rename(ctx context.Context, from, to fop.URL) error {
	src, err := v.file(from)
	if err != nil {
		return err
	}
	dst, err := v.file(to)
	if err != nil {
		return err
	}
	return v.local.Rename(ctx, src, dst)
}

func (v *Vault) Chmod(ctx context.Context, u fop.URL, mode fs.FileMode) error {
	f, err := v.file(u)
	if err != nil {
		return err
	}
	return v.local.Chmod(ctx, f, mode)
}

func (v *Vault) Chtimes(ctx context.Context, u fop.URL, atime, mtime time.Time) error {
	f, err := v.file(u)
	if err != nil {
		return err
	}
	return v.local.Chtimes(ctx, f, atime, mtime)
}

func (v *Vault) FreeBytes(ctx context.Context, u fop.URL) (int64, error) {
	if v.storage == nil {
		return 0, fmt.Errorf("%w: free space of the vault", fop.ErrNotSupported)
	}
	return v.storage.FreeBytes(v.contentDir)
}

var (
	_ fop.Backend       = (*Vault)(nil)
	_ fop.Renamer       = (*Vault)(nil)
	_ fop.AttrSetter    = (*Vault)(nil)
	_ fop.BackendCopier = (*Vault)(nil)
	_ fop.SpaceReporter = (*Vault)(nil)
)
