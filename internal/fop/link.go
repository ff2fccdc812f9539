package fop

import (
	"errors"
	"fmt"
)

// linkSource creates a link to src inside the job target.
func (w *Worker) linkSource(i int, src URL) error {
	from, err := w.sourceInfo(i, src)
	if errors.Is(err, errSkipped) {
		return nil
	}
	if err != nil {
		return err
	}
	plan, err := w.checkTarget(from, w.job.Target, from.Name(), false)
	if errors.Is(err, errSkipped) {
		return nil
	}
	if err != nil {
		return err
	}
	w.env.Notifier.CurrentTask(w.job.ID, src, plan.url())

	for {
		shared, err := w.createSystemLink(from, plan.url(), w.job.Flags.Has(FlagFollowLinks))
		if err == nil {
			w.counters.filesDone(w.sources[i].Count())
			w.recordCompleted(src, plan.url())
			status := EntryLinked
			if shared {
				status = EntryHardLinked
			}
			w.journal(JournalEntry{Source: src, Target: plan.url(), Status: status})
			return nil
		}
		actions := []Action{ActionRetry, ActionSkip}
		kind := KindOf(err, ErrKindSymlink)
		if errors.Is(err, ErrNotSupported) {
			kind, actions = ErrKindUnsupported, []Action{ActionSkip}
		}
		a, rerr := w.resolve(ErrorDescriptor{Kind: kind, From: src, To: plan.url(), Err: err, Actions: actions})
		if rerr != nil {
			return rerr
		}
		if a != ActionRetry {
			w.skipEntry(src, w.sources[i])
			return nil
		}
	}
}

// createSystemLink makes to point at from. Symbolic links store the path of
// from; hard links need both on the same backend. With follow, a symlink
// source is resolved first so the new link points at the final entry.
// created reports whether a new reference to the inode of from was made,
// which only a hard link does.
func (w *Worker) createSystemLink(from *FileInfo, to URL, follow bool) (created bool, err error) {
	toB, err := w.env.Registry.Backend(to)
	if err != nil {
		return false, err
	}
	linker, ok := toB.(Linker)
	if !ok {
		return false, fmt.Errorf("%w: links on %s", ErrNotSupported, to.Scheme)
	}
	src := from
	if follow && from.Type(w.ctx) == TypeSymlink {
		if src, err = w.resolveLink(from); err != nil {
			return false, err
		}
	}

	if w.job.Flags.Has(FlagHardLink) {
		if src.Backend() != toB {
			return false, fmt.Errorf("%w: hard link from %s to %s", ErrNotSupported, src.URL().Scheme, to.Scheme)
		}
		if err := linker.Link(w.ctx, src.URL(), to); err != nil {
			return false, err
		}
		return true, nil
	}

	target, local := localPath(src.Backend(), src.URL())
	_, toLocal := localPath(toB, to)
	switch {
	case local && toLocal:
	case src.Backend() == toB:
		target = src.URL().Path
	default:
		return false, fmt.Errorf("%w: symlink from %s to %s", ErrNotSupported, src.URL().Scheme, to.Scheme)
	}
	return false, linker.Symlink(w.ctx, target, to)
}

// copyLink recreates the symlink from at the planned target.
func (w *Worker) copyLink(from *FileInfo, plan targetPlan, move bool) error {
	for {
		err := w.recreateLink(from, plan)
		if err == nil {
			w.counters.filesDone(1)
			w.journal(JournalEntry{Source: from.URL(), Target: plan.url(), Status: w.doneStatus(move)})
			if move {
				return w.deleteMovedSource(from)
			}
			return nil
		}
		actions := []Action{ActionRetry, ActionSkip}
		kind := KindOf(err, ErrKindSymlink)
		if errors.Is(err, ErrNotSupported) {
			kind, actions = ErrKindUnsupported, []Action{ActionSkip}
		}
		a, rerr := w.resolve(ErrorDescriptor{Kind: kind, From: from.URL(), To: plan.url(), Err: err, Actions: actions})
		if rerr != nil {
			return rerr
		}
		if a != ActionRetry {
			w.skipEntry(from.URL(), TraversalStats{Files: 1})
			return errSkipped
		}
		from.Refresh()
	}
}

func (w *Worker) recreateLink(from *FileInfo, plan targetPlan) error {
	linker, ok := plan.info.Backend().(Linker)
	if !ok {
		return fmt.Errorf("%w: symlinks on %s", ErrNotSupported, plan.url().Scheme)
	}
	content, err := from.SymlinkTarget(w.ctx)
	if err != nil {
		return err
	}
	if plan.exists {
		if err := plan.info.Backend().Remove(w.ctx, plan.url()); err != nil && !isNotExist(err) {
			return err
		}
	}
	return linker.Symlink(w.ctx, content, plan.url())
}
