package fop_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"fop-go/internal/fop"
	"fop-go/internal/testutil"
)

func TestMove_Rename(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		h := newHarness(t)
		h.mem.AddFile("/src/a.txt", "hello")
		h.mem.AddDir("/dst")

		r := h.run(t, fop.JobMove, urls(h.mem, "/src/a.txt"), h.mem.URL("/dst"), 0, nil)

		expectOutcome(t, r, fop.OutcomeSuccess)
		expectContent(t, h.mem, "/dst/a.txt", "hello")
		if h.mem.Exists("/src/a.txt") {
			t.Error("source still exists")
		}
		if n := h.mem.Calls("create"); n != 0 {
			t.Errorf("create calls = %d, want a plain rename", n)
		}
		if p := r.Progress; p.CompletedFiles != 1 || p.CompletedBytes != 5 {
			t.Errorf("Progress = %+v", p)
		}
		moved := h.journal.Entries(fop.EntryMoved)
		if len(moved) != 1 || moved[0].Target != h.mem.URL("/dst/a.txt") {
			t.Errorf("moved entries = %+v", moved)
		}
	})

	t.Run("directory", func(t *testing.T) {
		h := newHarness(t)
		h.mem.AddFile("/src/d/a.txt", "a")
		h.mem.AddFile("/src/d/sub/b.txt", "b")
		h.mem.AddDir("/dst")

		r := h.run(t, fop.JobMove, urls(h.mem, "/src/d"), h.mem.URL("/dst"), 0, nil)

		expectOutcome(t, r, fop.OutcomeSuccess)
		expectContent(t, h.mem, "/dst/d/a.txt", "a")
		expectContent(t, h.mem, "/dst/d/sub/b.txt", "b")
		if h.mem.Exists("/src/d") {
			t.Error("source directory still exists")
		}
		if p := r.Progress; p.CompletedFiles != 4 || p.TotalFiles != 4 {
			t.Errorf("Progress = %+v", p)
		}
	})

	t.Run("local", func(t *testing.T) {
		h := newHarness(t)
		src, dst := t.TempDir(), t.TempDir()
		testutil.WriteTree(t, src, map[string]string{"d/a.txt": "a"})

		r := h.run(t, fop.JobMove, []fop.URL{fop.LocalURL(filepath.Join(src, "d"))}, fop.LocalURL(dst), 0, nil)

		expectOutcome(t, r, fop.OutcomeSuccess)
		if got := testutil.ReadTree(t, dst); got["d/a.txt"] != "a" {
			t.Errorf("target tree = %v", got)
		}
		if _, err := os.Stat(filepath.Join(src, "d")); !os.IsNotExist(err) {
			t.Errorf("source still exists: %v", err)
		}
	})
}

func TestMove_CopyAndDelete(t *testing.T) {
	t.Run("rename across devices falls back to copy", func(t *testing.T) {
		h := newHarness(t)
		h.mem.AddFile("/src/a.txt", "hello")
		h.mem.AddDir("/dst")
		h.mem.Fail("rename", "/src/a.txt", syscall.EXDEV, 1)

		r := h.run(t, fop.JobMove, urls(h.mem, "/src/a.txt"), h.mem.URL("/dst"), 0, nil)

		expectOutcome(t, r, fop.OutcomeSuccess)
		expectContent(t, h.mem, "/dst/a.txt", "hello")
		if h.mem.Exists("/src/a.txt") {
			t.Error("source still exists")
		}
		if h.mem.Calls("create") == 0 {
			t.Error("expected a copy after the failed rename")
		}
	})

	t.Run("between backends", func(t *testing.T) {
		other := testutil.NewMemBackend("other")
		h := newHarness(t, func(env *fop.Env) { env.Registry.Register(other) })
		h.mem.AddFile("/src/d/a.txt", "a")
		h.mem.AddFile("/src/d/sub/b.txt", "bb")
		other.AddDir("/dst")

		r := h.run(t, fop.JobMove, urls(h.mem, "/src/d"), other.URL("/dst"), 0, nil)

		expectOutcome(t, r, fop.OutcomeSuccess)
		expectContent(t, other, "/dst/d/a.txt", "a")
		expectContent(t, other, "/dst/d/sub/b.txt", "bb")
		if h.mem.Exists("/src/d") {
			t.Errorf("source left behind: %v", h.mem.Paths())
		}
		if len(r.Targets) != 1 || r.Targets[0] != other.URL("/dst/d") {
			t.Errorf("Targets = %v", r.Targets)
		}
		if p := r.Progress; p.CompletedFiles != p.TotalFiles || p.CompletedBytes != 3 {
			t.Errorf("Progress = %+v", p)
		}
	})

	t.Run("small file is checked for space before copying", func(t *testing.T) {
		other := testutil.NewMemBackend("other")
		h := newHarness(t, func(env *fop.Env) {
			env.Registry.Register(other)
			env.Options.SmallFileThreshold = 1 << 20
		})
		h.mem.AddFile("/src/a.txt", "hello world")
		other.AddDir("/dst")
		other.SetFree(3)
		dm := testutil.NewScriptedDecider().Always(fop.ErrKindNoSpace, fop.ActionSkip)

		r := h.run(t, fop.JobMove, urls(h.mem, "/src/a.txt"), other.URL("/dst"), 0, dm)

		expectOutcome(t, r, fop.OutcomePartial)
		if dm.Asked(fop.ErrKindNoSpace) != 1 {
			t.Errorf("questions = %v", dm.Seen())
		}
		if n := other.Calls("create"); n != 0 {
			t.Errorf("create calls on the target = %d, want 0", n)
		}
		expectContent(t, h.mem, "/src/a.txt", "hello world")
		if other.Exists("/dst/a.txt") {
			t.Error("file moved without space")
		}
	})

	t.Run("undeletable source is left over", func(t *testing.T) {
		other := testutil.NewMemBackend("other")
		h := newHarness(t, func(env *fop.Env) { env.Registry.Register(other) })
		h.mem.AddFile("/src/d/a.txt", "a")
		h.mem.AddFile("/src/d/b.txt", "b")
		other.AddDir("/dst")
		h.mem.Fail("remove", "/src/d/a.txt", fs.ErrPermission, -1)
		dm := testutil.NewScriptedDecider().Always(fop.ErrKindLeftoverSource, fop.ActionSkip)

		r := h.run(t, fop.JobMove, urls(h.mem, "/src/d"), other.URL("/dst"), 0, dm)

		expectOutcome(t, r, fop.OutcomePartial)
		expectContent(t, other, "/dst/d/a.txt", "a")
		expectContent(t, other, "/dst/d/b.txt", "b")
		expectContent(t, h.mem, "/src/d/a.txt", "a")
		if h.mem.Exists("/src/d/b.txt") {
			t.Error("deletable source kept")
		}
		want := []fop.URL{h.mem.URL("/src/d/a.txt"), h.mem.URL("/src/d")}
		if len(r.Leftovers) != 2 || r.Leftovers[0] != want[0] || r.Leftovers[1] != want[1] {
			t.Errorf("Leftovers = %v, want %v", r.Leftovers, want)
		}
		if got := len(h.journal.Entries(fop.EntryLeftover)); got != 2 {
			t.Errorf("leftover journal entries = %d, want 2", got)
		}
		if len(r.Skipped) != 0 {
			t.Errorf("Skipped = %v, want none", r.Skipped)
		}
	})

	t.Run("collision skip keeps the source", func(t *testing.T) {
		h := newHarness(t)
		h.mem.AddFile("/src/a.txt", "new")
		h.mem.AddFile("/dst/a.txt", "old")
		dm := testutil.NewScriptedDecider().Always(fop.ErrKindFileExists, fop.ActionSkip)

		r := h.run(t, fop.JobMove, urls(h.mem, "/src/a.txt"), h.mem.URL("/dst"), 0, dm)

		expectOutcome(t, r, fop.OutcomePartial)
		expectContent(t, h.mem, "/src/a.txt", "new")
		expectContent(t, h.mem, "/dst/a.txt", "old")
	})

	t.Run("merge into an existing directory", func(t *testing.T) {
		h := newHarness(t)
		h.mem.AddFile("/src/d/x.txt", "x")
		h.mem.AddFile("/dst/d/y.txt", "y")

		r := h.run(t, fop.JobMove, urls(h.mem, "/src/d"), h.mem.URL("/dst"), fop.FlagForce, nil)

		expectOutcome(t, r, fop.OutcomeSuccess)
		expectContent(t, h.mem, "/dst/d/x.txt", "x")
		expectContent(t, h.mem, "/dst/d/y.txt", "y")
		if h.mem.Exists("/src/d") {
			t.Errorf("merged source left behind: %v", h.mem.Paths())
		}
	})
}
