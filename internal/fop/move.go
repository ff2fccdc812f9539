package fop

import (
	"errors"
	"os"
	"syscall"
)

// moveEntry moves from to toDir/name. A rename is tried first. When the
// backends cannot rename across, the entry is copied and every source file
// deleted once its copy is complete.
func (w *Worker) moveEntry(from *FileInfo, toDir URL, name string) (URL, error) {
	if err := w.checkpoint(); err != nil {
		return URL{}, err
	}
	st, err := from.Stat(w.ctx)
	if err != nil {
		if _, err := w.resolve(ErrorDescriptor{
			Kind:    KindOf(err, ErrKindRead),
			From:    from.URL(),
			Err:     err,
			Actions: []Action{ActionSkip},
		}); err != nil {
			return URL{}, err
		}
		w.skipEntry(from.URL(), TraversalStats{Files: 1})
		return URL{}, errSkipped
	}
	plan, err := w.checkTarget(from, toDir, name, true)
	if err != nil {
		return URL{}, err
	}
	w.env.Notifier.CurrentTask(w.job.ID, from.URL(), plan.url())

	if !(plan.exists && st.Type() == TypeDir) {
		renamed, err := w.renameEntry(from, plan)
		if err != nil {
			return URL{}, err
		}
		if renamed {
			w.accountRenamed(plan.url(), st)
			w.journal(JournalEntry{Source: from.URL(), Target: plan.url(), Size: st.Size, Status: w.doneStatus(true)})
			return plan.url(), nil
		}
	}

	required := st.Size
	if st.Type() == TypeDir {
		if stats, err := CountTree(w.ctx, from.Backend(), from.URL(), TraversalOptions{}); err == nil {
			required = stats.TotalSize
		}
	}
	if err := w.checkDiskSpace(from.URL(), toDir, required); err != nil {
		if errors.Is(err, errSkipped) {
			w.skipTree(from)
		}
		return URL{}, err
	}
	return plan.url(), w.copyPlanned(from, plan, true)
}

// renameEntry renames from onto the planned target. It reports false
// when no rename is possible between the two locations.
func (w *Worker) renameEntry(from *FileInfo, plan targetPlan) (bool, error) {
	fromB, toB := from.Backend(), plan.info.Backend()
	srcPath, srcLocal := localPath(fromB, from.URL())
	dstPath, dstLocal := localPath(toB, plan.url())

	var rename func() error
	switch {
	case srcLocal && dstLocal:
		rename = func() error { return os.Rename(srcPath, dstPath) }
	case fromB == toB:
		if r, ok := fromB.(Renamer); ok {
			rename = func() error { return r.Rename(w.ctx, from.URL(), plan.url()) }
		}
	}
	if rename == nil {
		return false, nil
	}

	for {
		err := rename()
		if err == nil {
			return true, nil
		}
		if errors.Is(err, syscall.EXDEV) || errors.Is(err, ErrNotSupported) {
			return false, nil
		}
		a, rerr := w.resolve(ErrorDescriptor{
			Kind:    KindOf(err, ErrKindWrite),
			From:    from.URL(),
			To:      plan.url(),
			Err:     err,
			Actions: []Action{ActionRetry, ActionSkip},
		})
		if rerr != nil {
			return false, rerr
		}
		if a != ActionRetry {
			w.skipTree(from)
			return false, errSkipped
		}
	}
}

// accountRenamed marks everything that moved with a rename as done.
func (w *Worker) accountRenamed(to URL, st *Stat) {
	stats := TraversalStats{Files: 1}
	switch st.Type() {
	case TypeDir:
		b, err := w.env.Registry.Backend(to)
		if err == nil {
			if s, err := CountTree(w.ctx, b, to, TraversalOptions{IncludeRoot: true}); err == nil {
				stats = s
			}
		}
	case TypeRegular:
		stats.TotalSize = st.Size
	}
	w.counters.filesDone(stats.Count())
	w.counters.bytesDone(stats.TotalSize)
}

// deleteMovedSource removes a source entry whose copy is complete. When it
// cannot be removed the entry is left behind and reported.
func (w *Worker) deleteMovedSource(from *FileInfo) error {
	for {
		err := from.Backend().Remove(w.ctx, from.URL())
		if err == nil || isNotExist(err) {
			return nil
		}
		a, rerr := w.resolve(ErrorDescriptor{
			Kind:    ErrKindLeftoverSource,
			From:    from.URL(),
			Err:     err,
			Message: "copied but the source could not be deleted: " + err.Error(),
			Actions: []Action{ActionRetry, ActionSkip},
		})
		if rerr != nil {
			return rerr
		}
		if a != ActionRetry {
			w.recordLeftover(from.URL())
			return nil
		}
	}
}
