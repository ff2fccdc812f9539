package fs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"fop-go/internal/fop"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestLocalBackend_Stat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewLocalBackend()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "hello")
	if err := os.Symlink("a.txt", filepath.Join(dir, "link")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	t.Run("regular file", func(t *testing.T) {
		t.Parallel()
		st, err := b.Stat(ctx, fop.LocalURL(filepath.Join(dir, "a.txt")))
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if st.Type() != fop.TypeRegular || st.Size != 5 || st.Name != "a.txt" {
			t.Errorf("Stat() = %+v", st)
		}
		if st.Ino == 0 {
			t.Error("expected inode to be filled")
		}
	})

	t.Run("does not follow symlinks", func(t *testing.T) {
		t.Parallel()
		st, err := b.Stat(ctx, fop.LocalURL(filepath.Join(dir, "link")))
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if st.Type() != fop.TypeSymlink {
			t.Errorf("Type() = %s, want symlink", st.Type())
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := b.Stat(ctx, fop.LocalURL(filepath.Join(dir, "missing")))
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("Stat() error = %v, want ErrNotExist", err)
		}
	})

	t.Run("rejects other schemes", func(t *testing.T) {
		t.Parallel()
		if _, err := b.Stat(ctx, fop.URL{Scheme: "s3", Host: "bucket", Path: "/a"}); err == nil {
			t.Error("expected error for s3 URL")
		}
	})
}

func TestLocalBackend_OpenDir(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewLocalBackend()
	dir := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		writeFile(t, filepath.Join(dir, name), name)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	r, err := b.OpenDir(ctx, fop.LocalURL(dir))
	if err != nil {
		t.Fatalf("OpenDir() error = %v", err)
	}
	defer r.Close()

	var names []string
	for {
		batch, err := r.ReadEntries(ctx, 2)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadEntries() error = %v", err)
		}
		if len(batch) > 2 {
			t.Fatalf("batch of %d entries, want at most 2", len(batch))
		}
		for _, e := range batch {
			if e.Stat == nil {
				t.Errorf("entry %s has no stat", e.Name)
			}
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	want := []string{"a", "b", "c", "sub"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestLocalBackend_OpenDirCancelled(t *testing.T) {
	t.Parallel()
	b := NewLocalBackend()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), "a")

	r, err := b.OpenDir(context.Background(), fop.LocalURL(dir))
	if err != nil {
		t.Fatalf("OpenDir() error = %v", err)
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The read may win the race; either outcome must be well formed.
	entries, err := r.ReadEntries(ctx, 10)
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("ReadEntries() error = %v", err)
	}
	if err == nil && len(entries) != 1 {
		t.Errorf("ReadEntries() = %d entries", len(entries))
	}
}

func TestLocalBackend_FileOperations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewLocalBackend()
	dir := t.TempDir()
	u := func(name string) fop.URL { return fop.LocalURL(filepath.Join(dir, name)) }

	w, err := b.Create(ctx, u("new.txt"), 0o600)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := io.WriteString(w, "content"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err := b.Open(ctx, u("new.txt"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, _ := io.ReadAll(r)
	r.Close()
	if string(data) != "content" {
		t.Errorf("read %q, want %q", data, "content")
	}

	if err := b.Mkdir(ctx, u("d"), 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if _, err := b.Open(ctx, u("d")); err == nil {
		t.Error("Open() on a directory should fail")
	}

	if err := b.Rename(ctx, u("new.txt"), u("d/moved.txt")); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "d", "moved.txt")); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}

	if err := b.Chmod(ctx, u("d/moved.txt"), 0o640); err != nil {
		t.Fatalf("Chmod() error = %v", err)
	}
	mtime := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := b.Chtimes(ctx, u("d/moved.txt"), mtime, mtime); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}
	st, err := b.Stat(ctx, u("d/moved.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode.Perm() != 0o640 {
		t.Errorf("mode = %v, want 0640", st.Mode.Perm())
	}
	if !st.ModTime.Equal(mtime) {
		t.Errorf("mtime = %v, want %v", st.ModTime, mtime)
	}

	if err := b.Symlink(ctx, "d/moved.txt", u("sym")); err != nil {
		t.Fatalf("Symlink() error = %v", err)
	}
	target, err := b.Readlink(ctx, u("sym"))
	if err != nil || target != "d/moved.txt" {
		t.Errorf("Readlink() = %q, %v", target, err)
	}
	if err := b.Link(ctx, u("d/moved.txt"), u("hard")); err != nil {
		t.Fatalf("Link() error = %v", err)
	}
	hst, _ := b.Stat(ctx, u("hard"))
	if hst.Ino != st.Ino {
		t.Errorf("hard link inode = %d, want %d", hst.Ino, st.Ino)
	}

	if err := b.Remove(ctx, u("d")); err == nil {
		t.Error("Remove() of a non-empty directory should fail")
	}
	if err := b.Remove(ctx, u("d/moved.txt")); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := b.Remove(ctx, u("d")); err != nil {
		t.Fatalf("Remove() of empty directory error = %v", err)
	}
}

func TestLocalBackend_LocalPath(t *testing.T) {
	t.Parallel()
	b := NewLocalBackend()
	p, ok := b.LocalPath(fop.LocalURL("/tmp/x"))
	if !ok || p != filepath.FromSlash("/tmp/x") {
		t.Errorf("LocalPath() = %q, %v", p, ok)
	}
	if _, ok := b.LocalPath(fop.URL{Scheme: "vault", Path: "/x"}); ok {
		t.Error("LocalPath() should reject other schemes")
	}
}
