package fop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// TraversalState is the lifecycle of a Traversal.
type TraversalState int32

const (
	TraversalIdle TraversalState = iota
	TraversalRunning
	TraversalFinished
	TraversalCancelled
	TraversalError
)

func (s TraversalState) String() string {
	switch s {
	case TraversalIdle:
		return "idle"
	case TraversalRunning:
		return "running"
	case TraversalFinished:
		return "finished"
	case TraversalCancelled:
		return "cancelled"
	case TraversalError:
		return "error"
	}
	return "unknown"
}

var errTraversalCancelled = errors.New("traversal cancelled")

// TraversalEntry is one discovered entry plus the running totals at the
// time it was found.
type TraversalEntry struct {
	URL       URL
	Stat      *Stat
	Depth     int
	Count     int64
	TotalSize int64
}

// TraversalStats aggregates a walk. TotalSize sums regular file sizes.
type TraversalStats struct {
	Files     int64
	Dirs      int64
	TotalSize int64
	// Errors counts subdirectories that could not be enumerated.
	Errors int64
}

// Count is the number of entries seen.
func (s TraversalStats) Count() int64 { return s.Files + s.Dirs }

// TraversalOptions configures a Traversal.
type TraversalOptions struct {
	Enum EnumOptions
	// IncludeRoot emits the root itself before its children.
	IncludeRoot bool
	// StopOnError ends the walk at the first subdirectory that cannot be
	// enumerated instead of counting it and moving on.
	StopOnError bool
	// Buffer is the capacity of the entries channel.
	Buffer int

	discard bool
}

// Traversal walks a tree on its own goroutine, streaming entries and
// running totals. Cancellation is cooperative: it is checked between
// entries and before every descent.
type Traversal struct {
	backend Backend
	root    URL
	opts    TraversalOptions

	state      atomic.Int32
	files      atomic.Int64
	dirs       atomic.Int64
	size       atomic.Int64
	errs       atomic.Int64
	cancelCh   chan struct{}
	cancelOnce sync.Once
	entries    chan TraversalEntry
	done       chan struct{}
	err        error
}

func NewTraversal(b Backend, root URL, opts TraversalOptions) *Traversal {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	return &Traversal{
		backend:  b,
		root:     root,
		opts:     opts,
		cancelCh: make(chan struct{}),
		entries:  make(chan TraversalEntry, buffer),
		done:     make(chan struct{}),
	}
}

// Start launches the walk. A Traversal can only be started once.
func (t *Traversal) Start(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(TraversalIdle), int32(TraversalRunning)) {
		return fmt.Errorf("traversal of %s already started", t.root)
	}
	go t.run(ctx)
	return nil
}

// Entries is closed when the walk ends.
func (t *Traversal) Entries() <-chan TraversalEntry { return t.entries }

// Done is closed when the walk ends.
func (t *Traversal) Done() <-chan struct{} { return t.done }

func (t *Traversal) State() TraversalState { return TraversalState(t.state.Load()) }

// Cancel asks the walk to stop. Entries already emitted stay valid.
func (t *Traversal) Cancel() {
	t.cancelOnce.Do(func() { close(t.cancelCh) })
}

// Stats returns the totals found so far.
func (t *Traversal) Stats() TraversalStats {
	return TraversalStats{
		Files:     t.files.Load(),
		Dirs:      t.dirs.Load(),
		TotalSize: t.size.Load(),
		Errors:    t.errs.Load(),
	}
}

// Wait blocks until the walk ends and returns the final totals. Entries
// must be drained by the caller unless the traversal discards them.
func (t *Traversal) Wait() (TraversalStats, error) {
	<-t.done
	return t.Stats(), t.err
}

func (t *Traversal) run(ctx context.Context) {
	defer close(t.done)
	defer close(t.entries)

	err := t.walkRoot(ctx)
	switch {
	case err == nil:
		t.state.Store(int32(TraversalFinished))
	case errors.Is(err, errTraversalCancelled):
		t.state.Store(int32(TraversalCancelled))
	default:
		t.err = err
		t.state.Store(int32(TraversalError))
	}
}

func (t *Traversal) walkRoot(ctx context.Context) error {
	st, err := t.backend.Stat(ctx, t.root)
	if err != nil {
		return fmt.Errorf("stat traversal root %s: %w", t.root, err)
	}
	if t.opts.IncludeRoot || st.Type() != TypeDir {
		t.account(st)
		if err := t.emit(ctx, t.root, st, 0); err != nil {
			return err
		}
	}
	if st.Type() != TypeDir {
		return nil
	}
	return t.walk(ctx, t.root, "", 1)
}

func (t *Traversal) walk(ctx context.Context, dir URL, rel string, depth int) error {
	if t.stopped(ctx) {
		return errTraversalCancelled
	}
	opts := t.opts.Enum
	opts.relDir = rel
	en, err := NewEnumerator(ctx, t.backend, dir, opts)
	if err != nil {
		return t.subdirFailed(err)
	}
	defer en.Close()

	for en.HasNext() {
		if t.stopped(ctx) {
			return errTraversalCancelled
		}
		u := en.Next()
		st := en.Entry().Stat
		if st == nil {
			if st, err = t.backend.Stat(ctx, u); err != nil {
				continue
			}
		}
		t.account(st)
		if err := t.emit(ctx, u, st, depth); err != nil {
			return err
		}
		if st.Type() == TypeDir {
			if err := t.walk(ctx, u, joinRel(rel, en.Entry().Name), depth+1); err != nil {
				return err
			}
		}
	}
	if err := en.Err(); err != nil {
		return t.subdirFailed(err)
	}
	return nil
}

func (t *Traversal) subdirFailed(err error) error {
	if t.opts.StopOnError {
		return err
	}
	t.errs.Add(1)
	return nil
}

func (t *Traversal) account(st *Stat) {
	switch st.Type() {
	case TypeDir:
		t.dirs.Add(1)
	case TypeRegular:
		t.files.Add(1)
		t.size.Add(st.Size)
	default:
		t.files.Add(1)
	}
}

func (t *Traversal) emit(ctx context.Context, u URL, st *Stat, depth int) error {
	if t.opts.discard {
		return nil
	}
	// A ready send must not win over a pending cancel.
	if t.stopped(ctx) {
		return errTraversalCancelled
	}
	entry := TraversalEntry{
		URL:       u,
		Stat:      st,
		Depth:     depth,
		Count:     t.files.Load() + t.dirs.Load(),
		TotalSize: t.size.Load(),
	}
	select {
	case t.entries <- entry:
		return nil
	case <-t.cancelCh:
		return errTraversalCancelled
	case <-ctx.Done():
		return errTraversalCancelled
	}
}

func (t *Traversal) stopped(ctx context.Context) bool {
	select {
	case <-t.cancelCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func joinRel(rel, name string) string {
	if rel == "" {
		return name
	}
	return rel + "/" + name
}

// CountTree walks root synchronously and returns its totals.
func CountTree(ctx context.Context, b Backend, root URL, opts TraversalOptions) (TraversalStats, error) {
	opts.discard = true
	t := NewTraversal(b, root, opts)
	if err := t.Start(ctx); err != nil {
		return TraversalStats{}, err
	}
	stats, err := t.Wait()
	if err == nil && t.State() == TraversalCancelled {
		err = ctx.Err()
	}
	return stats, err
}
