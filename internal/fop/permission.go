package fop

import (
	"context"
	"errors"
	"io/fs"
	"sync"
)

// DirPermissionInfo is a directory whose final mode is applied once
// everything inside it was written.
type DirPermissionInfo struct {
	Target URL
	Mode   fs.FileMode
}

// dirPermissionQueue keeps pending directory modes in creation order.
type dirPermissionQueue struct {
	mu    sync.Mutex
	items []DirPermissionInfo
}

func (q *dirPermissionQueue) push(p DirPermissionInfo) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
}

// drain empties the queue, oldest first.
func (q *dirPermissionQueue) drain() []DirPermissionInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// restorePermissions applies every queued directory mode. It also runs
// after a stop or a failure so no directory keeps the relaxed mode it was
// created with.
func (w *Worker) restorePermissions() {
	ctx := w.ctx
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	for _, p := range w.perms.drain() {
		b, err := w.env.Registry.Backend(p.Target)
		if err != nil {
			continue
		}
		setter, ok := b.(AttrSetter)
		if !ok {
			continue
		}
		if err := setter.Chmod(ctx, p.Target, p.Mode); err != nil {
			w.log.Warn("restoring directory permissions", "dir", p.Target.String(), "mode", p.Mode.String(), "error", err)
		}
	}
}

// chmodSource changes the mode of a source, or of its whole tree with
// FlagRecursive. Directory modes are applied last, deepest first, so a
// mode without search permission does not lock the walk out.
func (w *Worker) chmodSource(i int, src URL) error {
	from, err := w.sourceInfo(i, src)
	if errors.Is(err, errSkipped) {
		return nil
	}
	if err != nil {
		return err
	}
	setter, ok := from.Backend().(AttrSetter)
	if !ok {
		if _, err := w.resolve(ErrorDescriptor{
			Kind:    ErrKindUnsupported,
			From:    src,
			Err:     ErrNotSupported,
			Actions: []Action{ActionSkip},
		}); err != nil {
			return err
		}
		w.skipEntry(src, w.sources[i])
		return nil
	}
	w.env.Notifier.CurrentTask(w.job.ID, src, URL{})

	skipsBefore := w.skips.Load()
	if !w.job.Flags.Has(FlagRecursive) || from.Type(w.ctx) != TypeDir {
		if err := w.chmodEntry(setter, src); err != nil && !errors.Is(err, errSkipped) {
			return err
		}
	} else if err := w.chmodTree(setter, from); err != nil {
		return err
	}
	if w.skips.Load() == skipsBefore {
		w.recordCompleted(src, URL{})
	}
	return nil
}

func (w *Worker) chmodTree(setter AttrSetter, root *FileInfo) error {
	t := NewTraversal(root.Backend(), root.URL(), TraversalOptions{
		IncludeRoot: true,
		Enum:        EnumOptions{Network: w.opts.Network},
	})
	t.Start(w.ctx)

	var dirs []URL
	var stopErr error
	for e := range t.Entries() {
		if stopErr != nil {
			continue
		}
		if err := w.checkpoint(); err != nil {
			stopErr = err
			t.Cancel()
			continue
		}
		if e.Stat.Type() == TypeDir {
			dirs = append(dirs, e.URL)
			continue
		}
		if err := w.chmodEntry(setter, e.URL); err != nil && !errors.Is(err, errSkipped) {
			stopErr = err
			t.Cancel()
		}
	}
	_, werr := t.Wait()

	for j := len(dirs) - 1; j >= 0; j-- {
		if stopErr != nil {
			break
		}
		if err := w.chmodEntry(setter, dirs[j]); err != nil && !errors.Is(err, errSkipped) {
			stopErr = err
		}
	}
	if stopErr != nil {
		return stopErr
	}
	if werr != nil && !errors.Is(werr, context.Canceled) {
		if _, err := w.resolve(ErrorDescriptor{
			Kind:    ErrKindEnumerate,
			From:    root.URL(),
			Err:     werr,
			Actions: []Action{ActionSkip},
		}); err != nil {
			return err
		}
		w.skipEntry(root.URL(), TraversalStats{})
	}
	return nil
}

func (w *Worker) chmodEntry(setter AttrSetter, u URL) error {
	for {
		err := setter.Chmod(w.ctx, u, w.job.Mode)
		if err == nil || isNotExist(err) {
			w.counters.filesDone(1)
			w.journal(JournalEntry{Source: u, Status: EntryChanged})
			return nil
		}
		a, rerr := w.resolve(ErrorDescriptor{
			Kind:    KindOf(err, ErrKindPermission),
			From:    u,
			Err:     err,
			Actions: []Action{ActionRetry, ActionSkip},
		})
		if rerr != nil {
			return rerr
		}
		if a != ActionRetry {
			w.skipEntry(u, TraversalStats{Files: 1})
			return errSkipped
		}
	}
}
