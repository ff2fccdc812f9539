package fop

import (
	"fmt"
)

// freeBytes returns the space available on the device holding dir. ok is
// false when the backend cannot tell.
func (w *Worker) freeBytes(dir URL) (free int64, ok bool) {
	b, err := w.env.Registry.Backend(dir)
	if err != nil {
		return 0, false
	}
	if sr, isReporter := b.(SpaceReporter); isReporter {
		free, err := sr.FreeBytes(w.ctx, dir)
		if err != nil {
			w.log.Debug("free space", "dir", dir.String(), "error", err)
			return 0, false
		}
		return free, true
	}
	p, isLocal := localPath(b, dir)
	if !isLocal || w.env.Storage == nil {
		return 0, false
	}
	free, err = w.env.Storage.FreeBytes(p)
	if err != nil {
		w.log.Debug("free space", "dir", p, "error", err)
		return 0, false
	}
	return free, true
}

// checkDiskSpace makes sure required bytes fit into dir before anything is
// written, asking while they do not. errSkipped means the caller must skip
// the entry.
func (w *Worker) checkDiskSpace(from, dir URL, required int64) error {
	if required <= 0 {
		return nil
	}
	for {
		free, ok := w.freeBytes(dir)
		if !ok || required <= free {
			return nil
		}
		a, err := w.resolve(ErrorDescriptor{
			Kind:    ErrKindNoSpace,
			From:    from,
			To:      dir,
			Err:     ErrNoSpace,
			Message: fmt.Sprintf("%s needs %d bytes but only %d are free in %s", from, required, free, dir),
			Actions: []Action{ActionRetry, ActionSkip},
		})
		if err != nil {
			return err
		}
		if a != ActionRetry {
			return errSkipped
		}
	}
}
