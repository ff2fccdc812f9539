package fop

import (
	"errors"
	"fmt"
	"io/fs"
)

// restoreSource moves a trashed item back. Without a job target it goes to
// where it was trashed from, otherwise into the target directory. Missing
// parent directories are created.
func (w *Worker) restoreSource(i int, src URL) error {
	item, err := w.lookupTrashed(i, src)
	if item == nil {
		return err
	}
	dest := item.OriginalURL
	if !w.job.Target.IsZero() {
		dest = w.job.Target.Join(item.Name)
	}

	if err := w.createParentDir(src, dest.Parent()); err != nil {
		if errors.Is(err, errSkipped) {
			w.skipEntry(src, w.sources[i])
			return nil
		}
		return err
	}
	from, err := w.sourceInfo(i, src)
	if errors.Is(err, errSkipped) {
		return nil
	}
	if err != nil {
		return err
	}

	skipsBefore := w.skips.Load()
	leftBefore := w.leftovers.Load()
	dst, err := w.moveEntry(from, dest.Parent(), dest.Base())
	if errors.Is(err, errSkipped) {
		return nil
	}
	if err != nil {
		return err
	}
	if w.skips.Load() != skipsBefore || w.leftovers.Load() != leftBefore {
		return nil
	}
	if err := w.env.Trash.Forget(w.ctx, src); err != nil {
		w.log.Warn("dropping trash metadata", "item", src.String(), "error", err)
	}
	w.recordCompleted(src, dst)
	return nil
}

// lookupTrashed returns the metadata of a trashed item. A nil item comes
// with nil after a skip or with the error ending the job.
func (w *Worker) lookupTrashed(i int, src URL) (*TrashedItem, error) {
	for {
		item, err := w.env.Trash.Lookup(w.ctx, src)
		if err == nil {
			return item, nil
		}
		a, rerr := w.resolve(ErrorDescriptor{
			Kind:    KindOf(err, ErrKindNotFound),
			From:    src,
			Err:     err,
			Actions: []Action{ActionRetry, ActionSkip},
		})
		if rerr != nil {
			return nil, rerr
		}
		if a != ActionRetry {
			w.skipEntry(src, w.sources[i])
			return nil, nil
		}
	}
}

// createParentDir makes sure dir exists before an entry is restored into
// it.
func (w *Worker) createParentDir(src, dir URL) error {
	b, err := w.env.Registry.Backend(dir)
	if err != nil {
		return w.abort(ErrorDescriptor{Kind: ErrKindProgram, From: src, To: dir, Err: err})
	}
	for {
		err := w.mkdirAll(b, dir)
		if err == nil {
			return nil
		}
		a, rerr := w.resolve(ErrorDescriptor{
			Kind:    ErrKindCreateParentDir,
			From:    src,
			To:      dir,
			Err:     err,
			Actions: []Action{ActionRetry, ActionSkip},
		})
		if rerr != nil {
			return rerr
		}
		if a != ActionRetry {
			return errSkipped
		}
	}
}

func (w *Worker) mkdirAll(b Backend, dir URL) error {
	st, err := b.Stat(w.ctx, dir)
	if err == nil {
		if st.Type() != TypeDir {
			return fmt.Errorf("%s exists and is not a directory", dir)
		}
		return nil
	}
	if !isNotExist(err) {
		return err
	}
	if parent := dir.Parent(); parent != dir {
		if err := w.mkdirAll(b, parent); err != nil {
			return err
		}
	}
	if err := b.Mkdir(w.ctx, dir, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	return nil
}
