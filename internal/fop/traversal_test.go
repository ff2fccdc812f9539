package fop_test

import (
	"context"
	"io/fs"
	"testing"

	"fop-go/internal/fop"
	"fop-go/internal/testutil"
)

func newWalkTree() *testutil.MemBackend {
	mem := testutil.NewMemBackend("mem")
	mem.AddFile("/r/a.txt", "aaa")
	mem.AddFile("/r/sub/b.txt", "bb")
	mem.AddFile("/r/sub/deep/c.txt", "c")
	mem.AddSymlink("/r/link", "a.txt")
	return mem
}

func TestTraversal_Entries(t *testing.T) {
	mem := newWalkTree()
	tr := fop.NewTraversal(mem, mem.URL("/r"), fop.TraversalOptions{IncludeRoot: true})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := tr.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	var paths []string
	depths := map[string]int{}
	var last fop.TraversalEntry
	for e := range tr.Entries() {
		paths = append(paths, e.URL.Path)
		depths[e.URL.Path] = e.Depth
		last = e
	}
	stats, err := tr.Wait()
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	want := []string{"/r", "/r/a.txt", "/r/link", "/r/sub", "/r/sub/b.txt", "/r/sub/deep", "/r/sub/deep/c.txt"}
	if len(paths) != len(want) {
		t.Fatalf("entries = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("entry %d = %s, want %s", i, paths[i], want[i])
		}
	}
	if depths["/r"] != 0 || depths["/r/sub/deep/c.txt"] != 3 {
		t.Errorf("depths = %v", depths)
	}
	if stats.Dirs != 3 || stats.Files != 4 || stats.TotalSize != 6 {
		t.Errorf("stats = %+v", stats)
	}
	if last.Count != 7 || last.TotalSize != 6 {
		t.Errorf("running totals of the last entry = %d, %d", last.Count, last.TotalSize)
	}
	if tr.State() != fop.TraversalFinished {
		t.Errorf("State() = %s", tr.State())
	}
}

func TestCountTree(t *testing.T) {
	mem := newWalkTree()
	ctx := context.Background()

	stats, err := fop.CountTree(ctx, mem, mem.URL("/r"), fop.TraversalOptions{})
	if err != nil {
		t.Fatalf("CountTree() error = %v", err)
	}
	if stats.Count() != 6 || stats.TotalSize != 6 {
		t.Errorf("CountTree() = %+v, want 6 entries of 6 bytes", stats)
	}

	stats, err = fop.CountTree(ctx, mem, mem.URL("/r/a.txt"), fop.TraversalOptions{})
	if err != nil || stats.Files != 1 || stats.TotalSize != 3 {
		t.Errorf("CountTree(file) = %+v, %v", stats, err)
	}

	if _, err := fop.CountTree(ctx, mem, mem.URL("/missing"), fop.TraversalOptions{}); err == nil {
		t.Error("CountTree() of a missing root expected error")
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := fop.CountTree(cctx, mem, mem.URL("/r"), fop.TraversalOptions{}); err == nil {
		t.Error("CountTree() with a cancelled context expected error")
	}
}

func TestTraversal_Cancel(t *testing.T) {
	mem := testutil.NewMemBackend("mem")
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		mem.AddFile("/r/"+name, name)
	}
	tr := fop.NewTraversal(mem, mem.URL("/r"), fop.TraversalOptions{Buffer: 1})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	<-tr.Entries()
	tr.Cancel()
	tr.Cancel()
	n := 1
	for range tr.Entries() {
		n++
	}
	if _, err := tr.Wait(); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	if tr.State() != fop.TraversalCancelled {
		t.Errorf("State() = %s, want cancelled", tr.State())
	}
	if n >= 8 {
		t.Errorf("received all %d entries despite cancel", n)
	}
}

func TestTraversal_CancelBeforeFirstEntry(t *testing.T) {
	mem := testutil.NewMemBackend("mem")
	mem.AddFile("/r/a.txt", "a")
	tr := fop.NewTraversal(mem, mem.URL("/r/a.txt"), fop.TraversalOptions{Buffer: 8})
	tr.Cancel()
	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	n := 0
	for range tr.Entries() {
		n++
	}
	if n != 0 {
		t.Errorf("received %d entries after cancel, want 0", n)
	}
	if tr.State() != fop.TraversalCancelled {
		t.Errorf("State() = %s, want cancelled", tr.State())
	}
}

func TestTraversal_SubdirErrors(t *testing.T) {
	t.Run("counted and skipped", func(t *testing.T) {
		mem := newWalkTree()
		mem.Fail("opendir", "/r/sub", fs.ErrPermission, -1)
		stats, err := fop.CountTree(context.Background(), mem, mem.URL("/r"), fop.TraversalOptions{})
		if err != nil {
			t.Fatalf("CountTree() error = %v", err)
		}
		if stats.Errors != 1 || stats.Dirs != 1 || stats.Files != 2 {
			t.Errorf("stats = %+v", stats)
		}
	})

	t.Run("stop on error", func(t *testing.T) {
		mem := newWalkTree()
		mem.Fail("opendir", "/r/sub", fs.ErrPermission, -1)
		tr := fop.NewTraversal(mem, mem.URL("/r"), fop.TraversalOptions{StopOnError: true})
		tr.Start(context.Background())
		for range tr.Entries() {
		}
		if _, err := tr.Wait(); err == nil {
			t.Fatal("Wait() expected error")
		}
		if tr.State() != fop.TraversalError {
			t.Errorf("State() = %s, want error", tr.State())
		}
	})
}
