package fop_test

import (
	"io/fs"
	"syscall"
	"testing"

	"fop-go/internal/fop"
	"fop-go/internal/testutil"
)

func TestDelete_Tree(t *testing.T) {
	h := newHarness(t)
	h.mem.AddFile("/src/d/a.txt", "aaa")
	h.mem.AddFile("/src/d/sub/b.txt", "bb")
	h.mem.AddFile("/src/keep.txt", "k")

	r := h.run(t, fop.JobDelete, urls(h.mem, "/src/d"), fop.URL{}, 0, nil)

	expectOutcome(t, r, fop.OutcomeSuccess)
	if got := h.mem.Paths(); len(got) != 2 || got[0] != "/src" || got[1] != "/src/keep.txt" {
		t.Errorf("paths after delete = %v", got)
	}
	if len(r.Completed) != 1 || r.Completed[0] != h.mem.URL("/src/d") {
		t.Errorf("Completed = %v", r.Completed)
	}
	if p := r.Progress; p.CompletedFiles != 4 || p.TotalFiles != 4 || p.CompletedBytes != 5 {
		t.Errorf("Progress = %+v", p)
	}
	if got := len(h.journal.Entries(fop.EntryDeleted)); got != 4 {
		t.Errorf("deleted journal entries = %d, want 4", got)
	}
}

func TestDelete_Failures(t *testing.T) {
	t.Run("skipped child keeps its directory", func(t *testing.T) {
		h := newHarness(t)
		h.mem.AddFile("/src/d/a.txt", "a")
		h.mem.AddFile("/src/d/b.txt", "b")
		h.mem.Fail("remove", "/src/d/a.txt", syscall.EBUSY, -1)
		dm := testutil.NewScriptedDecider().Always(fop.ErrKindDelete, fop.ActionSkip)

		r := h.run(t, fop.JobDelete, urls(h.mem, "/src/d"), fop.URL{}, 0, dm)

		expectOutcome(t, r, fop.OutcomePartial)
		if !h.mem.Exists("/src/d/a.txt") || h.mem.Exists("/src/d/b.txt") {
			t.Errorf("paths after delete = %v", h.mem.Paths())
		}
		if len(r.Skipped) != 2 {
			t.Errorf("Skipped = %v, want the file and its directory", r.Skipped)
		}
		if len(r.Completed) != 0 {
			t.Errorf("Completed = %v, want none", r.Completed)
		}
	})

	t.Run("retry", func(t *testing.T) {
		h := newHarness(t)
		h.mem.AddFile("/src/a.txt", "a")
		h.mem.Fail("remove", "/src/a.txt", syscall.EBUSY, 1)
		dm := testutil.NewScriptedDecider().Always(fop.ErrKindDelete, fop.ActionRetry)

		r := h.run(t, fop.JobDelete, urls(h.mem, "/src/a.txt"), fop.URL{}, 0, dm)

		// The failure stays on record, which makes the job partial.
		expectOutcome(t, r, fop.OutcomePartial)
		if h.mem.Exists("/src/a.txt") {
			t.Error("file still exists")
		}
		if len(r.Skipped) != 0 || len(r.Completed) != 1 {
			t.Errorf("Skipped = %v, Completed = %v", r.Skipped, r.Completed)
		}
		if dm.Asked(fop.ErrKindDelete) != 1 {
			t.Errorf("asked %d times, want 1", dm.Asked(fop.ErrKindDelete))
		}
	})

	t.Run("read-only directory needs force", func(t *testing.T) {
		h := newHarness(t)
		h.mem.AddFile("/src/ro/a.txt", "a")
		h.mem.SetMode("/src/ro", 0o555)
		dm := testutil.NewScriptedDecider().Always(fop.ErrKindPermission, fop.ActionSkip)

		r := h.run(t, fop.JobDelete, urls(h.mem, "/src/ro"), fop.URL{}, 0, dm)

		expectOutcome(t, r, fop.OutcomePartial)
		if !h.mem.Exists("/src/ro/a.txt") {
			t.Error("file removed from a read-only directory")
		}
	})

	t.Run("force makes directories writable", func(t *testing.T) {
		h := newHarness(t)
		h.mem.AddFile("/src/ro/a.txt", "a")
		h.mem.SetMode("/src/ro", 0o555)

		r := h.run(t, fop.JobDelete, urls(h.mem, "/src/ro"), fop.URL{}, fop.FlagForce, nil)

		expectOutcome(t, r, fop.OutcomeSuccess)
		if h.mem.Exists("/src/ro") {
			t.Errorf("paths after delete = %v", h.mem.Paths())
		}
	})

	t.Run("missing source", func(t *testing.T) {
		h := newHarness(t)
		dm := testutil.NewScriptedDecider().Always(fop.ErrKindNotFound, fop.ActionSkip)
		r := h.run(t, fop.JobDelete, urls(h.mem, "/nope"), fop.URL{}, 0, dm)
		expectOutcome(t, r, fop.OutcomePartial)
	})

	t.Run("unreadable directory", func(t *testing.T) {
		h := newHarness(t)
		h.mem.AddFile("/src/d/a.txt", "a")
		h.mem.Fail("opendir", "/src/d", fs.ErrPermission, -1)
		dm := testutil.NewScriptedDecider().Always(fop.ErrKindPermission, fop.ActionSkip)

		r := h.run(t, fop.JobDelete, urls(h.mem, "/src/d"), fop.URL{}, 0, dm)

		expectOutcome(t, r, fop.OutcomePartial)
		if !h.mem.Exists("/src/d/a.txt") {
			t.Error("entry of an unreadable directory removed")
		}
	})
}
