package fop

import (
	"errors"
	"io/fs"
)

// deleteSource removes one job source. Without FlagForce the source goes to
// the trash when one is configured and takes it.
func (w *Worker) deleteSource(i int, src URL) error {
	fi, err := w.sourceInfo(i, src)
	if errors.Is(err, errSkipped) {
		return nil
	}
	if err != nil {
		return err
	}
	w.env.Notifier.CurrentTask(w.job.ID, src, URL{})

	if !w.job.Flags.Has(FlagForce) && w.env.Trash != nil && src.Scheme != SchemeTrash {
		trashed, err := w.trashEntry(src, w.sources[i])
		if !errors.Is(err, ErrNotSupported) {
			if err == nil && !trashed.IsZero() {
				w.recordCompleted(src, URL{})
			}
			return err
		}
		w.log.Debug("trash not available, deleting", "source", src.String())
	}

	skipsBefore := w.skips.Load()
	err = w.removeTree(fi, w.job.Flags.Has(FlagForce), true)
	if errors.Is(err, errSkipped) {
		return nil
	}
	if err != nil {
		return err
	}
	if w.skips.Load() == skipsBefore {
		w.recordCompleted(src, URL{})
	}
	return nil
}

// trashSource moves one source to the trash.
func (w *Worker) trashSource(i int, src URL) error {
	w.env.Notifier.CurrentTask(w.job.ID, src, w.env.Trash.Root())
	trashed, err := w.trashEntry(src, w.sources[i])
	if errors.Is(err, ErrNotSupported) {
		if _, err := w.resolve(ErrorDescriptor{
			Kind:    ErrKindUnsupported,
			From:    src,
			Err:     err,
			Actions: []Action{ActionSkip},
		}); err != nil {
			return err
		}
		w.skipEntry(src, w.sources[i])
		return nil
	}
	if err == nil && !trashed.IsZero() {
		w.recordCompleted(src, trashed)
	}
	return err
}

// trashEntry hands src to the trash. A zero URL with a nil error means the
// entry was skipped. ErrNotSupported is returned untouched so the caller can
// pick another way.
func (w *Worker) trashEntry(src URL, stats TraversalStats) (URL, error) {
	for {
		trashed, err := w.env.Trash.Trash(w.ctx, src)
		if err == nil {
			w.counters.filesDone(stats.Count())
			w.counters.bytesDone(stats.TotalSize)
			w.journal(JournalEntry{Source: src, Target: trashed, Size: stats.TotalSize, Status: EntryTrashed})
			return trashed, nil
		}
		if errors.Is(err, ErrNotSupported) {
			return URL{}, err
		}
		a, rerr := w.resolve(ErrorDescriptor{
			Kind:    KindOf(err, ErrKindDelete),
			From:    src,
			Err:     err,
			Actions: []Action{ActionRetry, ActionSkip},
		})
		if rerr != nil {
			return URL{}, rerr
		}
		if a != ActionRetry {
			w.skipEntry(src, stats)
			return URL{}, nil
		}
	}
}

// removeTree deletes fi and everything below it, depth first. Entries that
// are already gone count as deleted. With force, read-only directories are
// made writable first. account selects whether removed entries count
// toward the job progress.
func (w *Worker) removeTree(fi *FileInfo, force, account bool) error {
	if err := w.checkpoint(); err != nil {
		return err
	}
	st, err := fi.Stat(w.ctx)
	for err != nil {
		if isNotExist(err) {
			return nil
		}
		retry, rerr := w.removeFailed(fi, err, TraversalStats{Files: 1}, account)
		if !retry {
			return rerr
		}
		fi.Refresh()
		st, err = fi.Stat(w.ctx)
	}
	if st.Type() != TypeDir {
		return w.removeEntry(fi, st, force, account)
	}

	if force {
		w.makeWritable(fi.URL(), st.Mode.Perm())
	}
	skipsBefore := w.skips.Load()
	en, err := w.openForRemoval(fi, account)
	if en == nil {
		return err
	}
	for en.HasNext() {
		en.Next()
		if err := w.removeTree(en.FileInfo(), force, account); err != nil && !errors.Is(err, errSkipped) {
			en.Close()
			return err
		}
	}
	en.Close()
	if err := en.Err(); err != nil {
		if _, rerr := w.removeFailed(fi, err, TraversalStats{Dirs: 1}, account); rerr != nil {
			return rerr
		}
	}
	if w.skips.Load() != skipsBefore {
		// A skipped child keeps the directory.
		if account {
			w.skipEntry(fi.URL(), TraversalStats{Dirs: 1})
		}
		return errSkipped
	}
	return w.removeEntry(fi, st, force, account)
}

// openForRemoval lists a directory about to be removed. A nil enumerator
// comes with nil when the directory is already gone, errSkipped or the
// error ending the job.
func (w *Worker) openForRemoval(fi *FileInfo, account bool) (*Enumerator, error) {
	for {
		en, err := NewEnumerator(w.ctx, fi.Backend(), fi.URL(), EnumOptions{Filter: FilterAll, Network: w.opts.Network})
		if err == nil {
			return en, nil
		}
		if isNotExist(err) {
			return nil, nil
		}
		stats := TraversalStats{Dirs: 1}
		if account {
			if s, cerr := CountTree(w.ctx, fi.Backend(), fi.URL(), TraversalOptions{IncludeRoot: true}); cerr == nil {
				stats = s
			}
		}
		retry, rerr := w.removeFailed(fi, err, stats, account)
		if !retry {
			return nil, rerr
		}
	}
}

func (w *Worker) removeEntry(fi *FileInfo, st *Stat, force, account bool) error {
	parentFixed := false
	for {
		err := fi.Backend().Remove(w.ctx, fi.URL())
		if err == nil || isNotExist(err) {
			if account {
				w.counters.filesDone(1)
				if st.Type() == TypeRegular {
					w.counters.bytesDone(st.Size)
				}
				w.journal(JournalEntry{Source: fi.URL(), Size: st.Size, Status: EntryDeleted})
			}
			return nil
		}
		if force && !parentFixed && errors.Is(err, fs.ErrPermission) {
			parentFixed = true
			parent := fi.URL().Parent()
			if pst, serr := fi.Backend().Stat(w.ctx, parent); serr == nil {
				w.makeWritable(parent, pst.Mode.Perm())
				continue
			}
		}
		stats := TraversalStats{Files: 1}
		switch st.Type() {
		case TypeDir:
			stats = TraversalStats{Dirs: 1}
		case TypeRegular:
			stats.TotalSize = st.Size
		}
		retry, rerr := w.removeFailed(fi, err, stats, account)
		if !retry {
			return rerr
		}
	}
}

// removeFailed asks about a failed deletion. Unless retry is set it returns
// errSkipped, after accounting, or the error ending the job.
func (w *Worker) removeFailed(fi *FileInfo, err error, stats TraversalStats, account bool) (retry bool, _ error) {
	a, rerr := w.resolve(ErrorDescriptor{
		Kind:    KindOf(err, ErrKindDelete),
		From:    fi.URL(),
		Err:     err,
		Actions: []Action{ActionRetry, ActionSkip},
	})
	if rerr != nil {
		return false, rerr
	}
	if a == ActionRetry {
		return true, nil
	}
	if account {
		w.skipEntry(fi.URL(), stats)
	}
	return false, errSkipped
}

// makeWritable gives the owner full access to a directory so its entries
// can be removed.
func (w *Worker) makeWritable(dir URL, perm fs.FileMode) {
	if perm&0o700 == 0o700 {
		return
	}
	b, err := w.env.Registry.Backend(dir)
	if err != nil {
		return
	}
	setter, ok := b.(AttrSetter)
	if !ok {
		return
	}
	if err := setter.Chmod(w.ctx, dir, perm|0o700); err != nil {
		w.log.Debug("making directory writable", "dir", dir.String(), "error", err)
	}
}
