package fop

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"time"
)

const maxLinkDepth = 40

// transferSource copies or moves one job source into the target
// directory.
func (w *Worker) transferSource(i int, src URL) error {
	from, err := w.sourceInfo(i, src)
	if errors.Is(err, errSkipped) {
		return nil
	}
	if err != nil {
		return err
	}
	st, _ := from.Stat(w.ctx)
	target := w.job.Target
	if st.Type() == TypeDir && (src == target || src.IsAncestorOf(target)) {
		if _, err := w.resolve(ErrorDescriptor{
			Kind:    ErrKindTargetIsDescendant,
			From:    src,
			To:      target,
			Err:     ErrTargetIsDescendant,
			Actions: []Action{ActionSkip},
		}); err != nil {
			return err
		}
		w.skipEntry(src, w.sources[i])
		return nil
	}

	skipsBefore := w.skips.Load()
	var dst URL
	if w.job.Type == JobMove {
		dst, err = w.moveEntry(from, target, from.Name())
	} else {
		err = w.checkDiskSpace(src, target, w.sources[i].TotalSize)
		if errors.Is(err, errSkipped) {
			w.skipEntry(src, w.sources[i])
		} else if err == nil {
			dst, err = w.copyEntry(from, target, from.Name(), false)
		}
	}
	if errors.Is(err, errSkipped) {
		err = nil
	}
	if perr := w.waitPool(); err == nil {
		err = perr
	}
	w.restorePermissions()
	if err != nil {
		return err
	}
	if !dst.IsZero() && w.skips.Load() == skipsBefore {
		w.recordCompleted(src, dst)
	}
	return nil
}

// copyEntry copies from to toDir/name and returns the URL written. With
// move set, every source entry is deleted once its copy is complete.
func (w *Worker) copyEntry(from *FileInfo, toDir URL, name string, move bool) (URL, error) {
	if err := w.checkpoint(); err != nil {
		return URL{}, err
	}
	if _, err := from.Stat(w.ctx); err != nil {
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
	return plan.url(), w.copyPlanned(from, plan, move)
}

func (w *Worker) copyPlanned(from *FileInfo, plan targetPlan, move bool) error {
	w.env.Notifier.CurrentTask(w.job.ID, from.URL(), plan.url())
	st, err := from.Stat(w.ctx)
	if err != nil {
		return w.abort(ErrorDescriptor{Kind: ErrKindProgram, From: from.URL(), Err: err})
	}
	switch st.Type() {
	case TypeDir:
		return w.copyDir(from, plan, move)
	case TypeRegular:
		return w.copyFile(from, plan, move)
	case TypeSymlink:
		if w.job.Flags.Has(FlagFollowLinks) && !move {
			resolved, err := w.resolveLink(from)
			if err != nil {
				if _, err := w.resolve(ErrorDescriptor{
					Kind:    ErrKindSymlink,
					From:    from.URL(),
					To:      plan.url(),
					Err:     err,
					Actions: []Action{ActionSkip},
				}); err != nil {
					return err
				}
				w.skipEntry(from.URL(), TraversalStats{Files: 1})
				return errSkipped
			}
			return w.copyPlanned(resolved, plan, false)
		}
		return w.copyLink(from, plan, move)
	default:
		if _, err := w.resolve(ErrorDescriptor{
			Kind:    ErrKindUnsupported,
			From:    from.URL(),
			To:      plan.url(),
			Err:     fmt.Errorf("cannot copy special file %s", from.URL()),
			Actions: []Action{ActionSkip},
		}); err != nil {
			return err
		}
		w.skipEntry(from.URL(), TraversalStats{Files: 1})
		return errSkipped
	}
}

// resolveLink follows a chain of symlinks to the final entry.
func (w *Worker) resolveLink(link *FileInfo) (*FileInfo, error) {
	cur := link
	for i := 0; i < maxLinkDepth; i++ {
		if cur.Type(w.ctx) != TypeSymlink {
			if _, err := cur.Stat(w.ctx); err != nil {
				return nil, err
			}
			return cur, nil
		}
		target, err := cur.SymlinkTarget(w.ctx)
		if err != nil {
			return nil, err
		}
		if !path.IsAbs(target) {
			target = path.Join(cur.URL().Parent().Path, target)
		}
		next := cur.URL()
		next.Path = cleanPath(target)
		cur = NewFileInfo(cur.Backend(), next)
	}
	return nil, fmt.Errorf("too many levels of symbolic links: %s", link.URL())
}

func (w *Worker) copyDir(from *FileInfo, plan targetPlan, move bool) error {
	st, _ := from.Stat(w.ctx)
	if !plan.exists {
		if err := w.makeDir(from.URL(), plan.info, st.Mode.Perm()); err != nil {
			if errors.Is(err, errSkipped) {
				w.skipTree(from)
			}
			return err
		}
	}
	w.counters.filesDone(1)

	skipsBefore := w.skips.Load()
	leftBefore := w.leftovers.Load()
	en, err := w.openDir(from)
	if err != nil {
		return err
	}
	defer en.Close()
	for en.HasNext() {
		if err := w.checkpoint(); err != nil {
			return err
		}
		en.Next()
		child := en.FileInfo()
		var err error
		if move {
			_, err = w.moveEntry(child, plan.url(), en.Entry().Name)
		} else {
			_, err = w.copyEntry(child, plan.url(), en.Entry().Name, false)
		}
		if err != nil && !errors.Is(err, errSkipped) {
			return err
		}
	}
	if err := en.Err(); err != nil {
		if _, err := w.resolve(ErrorDescriptor{
			Kind:    ErrKindEnumerate,
			From:    from.URL(),
			Err:     err,
			Actions: []Action{ActionSkip},
		}); err != nil {
			return err
		}
		w.skipEntry(from.URL(), TraversalStats{})
	}
	w.journal(JournalEntry{Source: from.URL(), Target: plan.url(), Status: w.doneStatus(move)})

	if move {
		switch {
		case w.skips.Load() != skipsBefore:
		case w.leftovers.Load() != leftBefore:
			w.recordLeftover(from.URL())
		default:
			return w.deleteMovedSource(from)
		}
	}
	return nil
}

// openDir opens a source directory for copying, asking on failure.
func (w *Worker) openDir(from *FileInfo) (*Enumerator, error) {
	for {
		en, err := NewEnumerator(w.ctx, from.Backend(), from.URL(), EnumOptions{Filter: FilterAll, Network: w.opts.Network})
		if err == nil {
			return en, nil
		}
		a, rerr := w.resolve(ErrorDescriptor{
			Kind:    KindOf(err, ErrKindEnumerate),
			From:    from.URL(),
			Err:     err,
			Actions: []Action{ActionRetry, ActionSkip},
		})
		if rerr != nil {
			return nil, rerr
		}
		if a != ActionRetry {
			if stats, err := CountTree(w.ctx, from.Backend(), from.URL(), TraversalOptions{}); err == nil {
				w.skipEntry(from.URL(), stats)
			} else {
				w.skipEntry(from.URL(), TraversalStats{})
			}
			return nil, errSkipped
		}
	}
}

// makeDir creates a target directory writable by its owner and queues the
// source permissions for restore.
func (w *Worker) makeDir(src URL, to *FileInfo, perm fs.FileMode) error {
	for {
		err := to.Backend().Mkdir(w.ctx, to.URL(), perm|0o700)
		if err == nil {
			if _, ok := to.Backend().(AttrSetter); ok {
				w.perms.push(DirPermissionInfo{Target: to.URL(), Mode: perm})
			}
			return nil
		}
		a, rerr := w.resolve(ErrorDescriptor{
			Kind:    KindOf(err, ErrKindWrite),
			From:    src,
			To:      to.URL(),
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

func (w *Worker) copyFile(from *FileInfo, plan targetPlan, move bool) error {
	st, _ := from.Stat(w.ctx)
	if st.Size >= w.opts.SmallFileThreshold {
		if err := w.checkDiskSpace(from.URL(), plan.url().Parent(), st.Size); err != nil {
			if errors.Is(err, errSkipped) {
				w.skipEntry(from.URL(), TraversalStats{Files: 1, TotalSize: st.Size})
			}
			return err
		}
	}
	if w.pooled(from, plan, st, move) {
		snapshot := *st
		b, u := from.Backend(), from.URL()
		w.pool.Go(func() error {
			err := w.copyRegular(newFileInfoWithStat(b, u, &snapshot), plan, false)
			if errors.Is(err, errSkipped) {
				return nil
			}
			return err
		})
		return nil
	}
	return w.copyRegular(from, plan, move)
}

// pooled reports whether a file goes to the small-file pool.
func (w *Worker) pooled(from *FileInfo, plan targetPlan, st *Stat, move bool) bool {
	if w.pool == nil || move || st.Size >= w.opts.SmallFileThreshold {
		return false
	}
	_, srcLocal := localPath(from.Backend(), from.URL())
	_, dstLocal := localPath(plan.info.Backend(), plan.url())
	return srcLocal && dstLocal
}

// copyRegular copies one regular file, retrying transient failures before
// asking.
func (w *Worker) copyRegular(from *FileInfo, plan targetPlan, move bool) error {
	st, _ := from.Stat(w.ctx)
	attempt := 0
	for {
		written, err := w.doCopyFile(from, st, plan)
		if err == nil && move && written != st.Size {
			err = &OpError{Kind: ErrKindWrite, Op: "verify", From: from.URL(), To: plan.url(),
				Err: fmt.Errorf("%w: wrote %d of %d bytes", ErrIncompleteCopy, written, st.Size)}
		}
		if err == nil {
			w.counters.fileCopied(written, st.Size)
			w.copyAttrs(plan.info, st)
			w.journal(JournalEntry{Source: from.URL(), Target: plan.url(), Size: st.Size, Status: w.doneStatus(move)})
			w.maybeSync(written)
			if move {
				return w.deleteMovedSource(from)
			}
			return nil
		}
		w.counters.copyAbandoned(written)
		if w.ctx.Err() != nil {
			return ErrStopped
		}

		kind := KindOf(err, ErrKindWrite)
		if kind.transient() && attempt < w.opts.RetryCount {
			attempt++
			w.log.Warn("retrying file copy", "file", from.URL().String(),
				"attempt", fmt.Sprintf("%d/%d", attempt, w.opts.RetryCount), "after", w.opts.RetryWait, "error", err)
			if !w.sleep(w.opts.RetryWait) {
				return ErrStopped
			}
		} else {
			a, rerr := w.resolve(ErrorDescriptor{
				Kind:    kind,
				From:    from.URL(),
				To:      plan.url(),
				Err:     err,
				Actions: []Action{ActionRetry, ActionSkip},
			})
			if rerr != nil {
				return rerr
			}
			if a != ActionRetry {
				w.skipEntry(from.URL(), TraversalStats{Files: 1, TotalSize: st.Size})
				return errSkipped
			}
			attempt = 0
		}
		from.Refresh()
		if fresh, err := from.Stat(w.ctx); err == nil {
			st = fresh
		}
	}
}

// doCopyFile writes the content of from to the planned target. Backends
// that can rename get the content in a temporary sibling first so the
// target name never holds a partial file.
func (w *Worker) doCopyFile(from *FileInfo, st *Stat, plan targetPlan) (int64, error) {
	toB := plan.info.Backend()
	dst := plan.url()
	renamer, atomic := toB.(Renamer)
	out := dst
	if atomic {
		out = dst.Parent().Join(".fop-" + w.env.IDs.New() + ".part")
		if err := w.env.Journal.PartPending(w.job.ID, out); err != nil {
			w.log.Warn("journal: recording part file", "part", out.String(), "error", err)
		}
		defer func() {
			if err := w.env.Journal.PartResolved(w.job.ID, out); err != nil {
				w.log.Warn("journal: resolving part file", "part", out.String(), "error", err)
			}
		}()
	}

	written, err := w.copyContent(from, st, out, toB)
	if err == nil && atomic {
		if rerr := renamer.Rename(w.ctx, out, dst); rerr != nil {
			err = &OpError{Kind: KindOf(rerr, ErrKindWrite), Op: "rename", From: out, To: dst, Err: rerr}
		}
	}
	if err != nil {
		if rmErr := toB.Remove(w.ctx, out); rmErr != nil && !isNotExist(rmErr) {
			w.log.Warn("removing partial copy", "file", out.String(), "error", rmErr)
		}
		return written, err
	}
	return written, nil
}

// copyContent picks the copy strategy for one file.
func (w *Worker) copyContent(from *FileInfo, st *Stat, out URL, toB Backend) (int64, error) {
	fromB := from.Backend()
	if srcPath, ok := localPath(fromB, from.URL()); ok {
		if outPath, ok := localPath(toB, out); ok {
			return w.copyLocal(srcPath, outPath, st)
		}
	}
	if fromB == toB {
		if c, ok := fromB.(BackendCopier); ok {
			err := c.CopyFile(w.ctx, from.URL(), out)
			if err == nil {
				copied, serr := toB.Stat(w.ctx, out)
				if serr != nil {
					return 0, &OpError{Kind: KindOf(serr, ErrKindWrite), Op: "stat", To: out, Err: serr}
				}
				w.counters.copied(copied.Size)
				return copied.Size, nil
			}
			if !errors.Is(err, ErrNotSupported) {
				return 0, &OpError{Kind: KindOf(err, ErrKindWrite), Op: "copy", From: from.URL(), To: out, Err: err}
			}
		}
	}
	return w.copyStream(from, st, out, toB)
}

// copyStream copies through the generic Open/Create primitives.
func (w *Worker) copyStream(from *FileInfo, st *Stat, out URL, toB Backend) (int64, error) {
	r, err := from.Backend().Open(w.ctx, from.URL())
	if err != nil {
		return 0, &OpError{Kind: KindOf(err, ErrKindOpen), Op: "open", From: from.URL(), Err: err}
	}
	defer r.Close()

	wc, err := toB.Create(w.ctx, out, withUserWrite(st.Mode.Perm()))
	if err != nil {
		return 0, &OpError{Kind: KindOf(err, ErrKindOpen), Op: "create", To: out, Err: err}
	}
	n, err := w.pump(wc, r, from.URL(), out)
	if cerr := wc.Close(); err == nil && cerr != nil {
		err = &OpError{Kind: KindOf(cerr, ErrKindWrite), Op: "close", To: out, Err: cerr}
	}
	return n, err
}

// pump copies src to dst through a pooled buffer, checking for
// cancellation between chunks.
func (w *Worker) pump(dst io.Writer, src io.Reader, from, to URL) (int64, error) {
	bufPtr := w.bufs.Get().(*[]byte)
	defer w.bufs.Put(bufPtr)
	buf := (*bufPtr)[:cap(*bufPtr)]

	var written int64
	for {
		if w.ctx.Err() != nil {
			return written, ErrStopped
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			w.counters.copied(int64(wn))
			if werr == nil && wn < n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return written, &OpError{Kind: KindOf(werr, ErrKindWrite), Op: "write", From: from, To: to, Err: werr}
			}
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, &OpError{Kind: KindOf(rerr, ErrKindRead), Op: "read", From: from, To: to, Err: rerr}
		}
	}
}

// copyAttrs carries permissions and timestamps over. Failures only log.
func (w *Worker) copyAttrs(to *FileInfo, st *Stat) {
	setter, ok := to.Backend().(AttrSetter)
	if !ok {
		return
	}
	if err := setter.Chmod(w.ctx, to.URL(), st.Mode.Perm()); err != nil {
		w.log.Debug("copying permissions", "file", to.URL().String(), "error", err)
	}
	atime := st.AccessTime
	if atime.IsZero() {
		atime = st.ModTime
	}
	if err := setter.Chtimes(w.ctx, to.URL(), atime, st.ModTime); err != nil {
		w.log.Debug("copying timestamps", "file", to.URL().String(), "error", err)
	}
}

func (w *Worker) doneStatus(move bool) EntryStatus {
	switch {
	case w.job.Type == JobRestore:
		return EntryRestored
	case move:
		return EntryMoved
	}
	return EntryCopied
}

// sleep waits d unless the job is cancelled first.
func (w *Worker) sleep(d time.Duration) bool {
	if d <= 0 {
		return w.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-w.ctx.Done():
		return false
	}
}

// withUserWrite keeps a copy writable by its owner while it is written.
func withUserWrite(perm fs.FileMode) fs.FileMode {
	return perm | 0o200
}
