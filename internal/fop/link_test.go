package fop_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"fop-go/internal/fop"
	"fop-go/internal/testutil"
)

func TestLink_Symbolic(t *testing.T) {
	t.Run("same backend points at the source path", func(t *testing.T) {
		h := newHarness(t)
		h.mem.AddFile("/src/a.txt", "aaa")
		h.mem.AddDir("/dst")

		r := h.run(t, fop.JobLink, urls(h.mem, "/src/a.txt"), h.mem.URL("/dst"), 0, nil)

		expectOutcome(t, r, fop.OutcomeSuccess)
		target, err := h.mem.Readlink(context.Background(), h.mem.URL("/dst/a.txt"))
		if err != nil || target != "/src/a.txt" {
			t.Errorf("Readlink() = %q, %v, want /src/a.txt", target, err)
		}
		if got := len(h.journal.Entries(fop.EntryLinked)); got != 1 {
			t.Errorf("linked journal entries = %d, want 1", got)
		}
		if len(r.Targets) != 1 || r.Targets[0] != h.mem.URL("/dst/a.txt") {
			t.Errorf("Targets = %v", r.Targets)
		}
	})

	t.Run("local link uses the file system path", func(t *testing.T) {
		h := newHarness(t)
		root := t.TempDir()
		testutil.WriteTree(t, root, map[string]string{"src/a.txt": "aaa", "dst/": ""})

		r := h.run(t, fop.JobLink, []fop.URL{fop.LocalURL(filepath.Join(root, "src/a.txt"))},
			fop.LocalURL(filepath.Join(root, "dst")), 0, nil)

		expectOutcome(t, r, fop.OutcomeSuccess)
		target, err := os.Readlink(filepath.Join(root, "dst/a.txt"))
		if err != nil || target != filepath.Join(root, "src/a.txt") {
			t.Errorf("Readlink() = %q, %v", target, err)
		}
	})

	t.Run("follow links points at the final entry", func(t *testing.T) {
		h := newHarness(t)
		h.mem.AddFile("/src/real.txt", "r")
		h.mem.AddSymlink("/src/alias", "real.txt")
		h.mem.AddDir("/dst")

		r := h.run(t, fop.JobLink, urls(h.mem, "/src/alias"), h.mem.URL("/dst"), fop.FlagFollowLinks, nil)

		expectOutcome(t, r, fop.OutcomeSuccess)
		target, err := h.mem.Readlink(context.Background(), h.mem.URL("/dst/alias"))
		if err != nil || target != "/src/real.txt" {
			t.Errorf("Readlink() = %q, %v, want /src/real.txt", target, err)
		}
	})

	t.Run("collision overwrite replaces the entry", func(t *testing.T) {
		h := newHarness(t)
		h.mem.AddFile("/src/a.txt", "aaa")
		h.mem.AddFile("/dst/a.txt", "old")
		dm := testutil.NewScriptedDecider().Always(fop.ErrKindFileExists, fop.ActionOverwrite)

		r := h.run(t, fop.JobLink, urls(h.mem, "/src/a.txt"), h.mem.URL("/dst"), 0, dm)

		expectOutcome(t, r, fop.OutcomeSuccess)
		if h.mem.Mode("/dst/a.txt")&os.ModeSymlink == 0 {
			t.Errorf("/dst/a.txt mode = %v, want a symlink", h.mem.Mode("/dst/a.txt"))
		}
	})

	t.Run("across backends is unsupported", func(t *testing.T) {
		h := newHarness(t)
		h.mem.AddFile("/src/a.txt", "aaa")
		dst := t.TempDir()
		dm := testutil.NewScriptedDecider().Always(fop.ErrKindUnsupported, fop.ActionSkip)

		r := h.run(t, fop.JobLink, urls(h.mem, "/src/a.txt"), fop.LocalURL(dst), 0, dm)

		expectOutcome(t, r, fop.OutcomePartial)
		if dm.Asked(fop.ErrKindUnsupported) != 1 {
			t.Errorf("asked %v", dm.Seen())
		}
		if _, err := os.Lstat(filepath.Join(dst, "a.txt")); !os.IsNotExist(err) {
			t.Errorf("link created across backends: %v", err)
		}
	})
}

func TestLink_Hard(t *testing.T) {
	t.Run("shares the file", func(t *testing.T) {
		h := newHarness(t)
		h.mem.AddFile("/src/a.txt", "aaa")
		h.mem.AddDir("/dst")

		r := h.run(t, fop.JobLink, urls(h.mem, "/src/a.txt"), h.mem.URL("/dst"), fop.FlagHardLink, nil)

		expectOutcome(t, r, fop.OutcomeSuccess)
		st, err := h.mem.Stat(context.Background(), h.mem.URL("/dst/a.txt"))
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if st.Nlink != 2 || st.Type() != fop.TypeRegular {
			t.Errorf("Stat() = %+v, want a regular file with 2 links", st)
		}
		expectContent(t, h.mem, "/dst/a.txt", "aaa")
		hard := h.journal.Entries(fop.EntryHardLinked)
		if len(hard) != 1 || hard[0].Target != h.mem.URL("/dst/a.txt") {
			t.Errorf("hard-linked journal entries = %+v", hard)
		}
		if n := len(h.journal.Entries(fop.EntryLinked)); n != 0 {
			t.Errorf("linked journal entries = %d, want 0", n)
		}
	})

	t.Run("across backends is skipped", func(t *testing.T) {
		var other *testutil.MemBackend
		h := newHarness(t, func(env *fop.Env) {
			other = testutil.NewMemBackend("other")
			env.Registry.Register(other)
		})
		h.mem.AddFile("/src/a.txt", "aaa")
		other.AddDir("/dst")
		dm := testutil.NewScriptedDecider().Always(fop.ErrKindUnsupported, fop.ActionSkip)

		r := h.run(t, fop.JobLink, urls(h.mem, "/src/a.txt"), other.URL("/dst"), fop.FlagHardLink, dm)

		expectOutcome(t, r, fop.OutcomePartial)
		if len(r.Skipped) != 1 || r.Skipped[0] != h.mem.URL("/src/a.txt") {
			t.Errorf("Skipped = %v", r.Skipped)
		}
		if other.Exists("/dst/a.txt") {
			t.Error("hard link created across backends")
		}
	})
}
