package fop

import (
	"errors"
	"io"
	"os"
)

// errMmapUnsupported sends a big file back to the read/write loop.
var errMmapUnsupported = errors.New("memory mapped copy not supported")

// mapWindow copies one window of a mapped copy.
var mapWindow = mapCopyWindow

// copyLocal copies between two local paths. It tries a reflink first, then
// keeps holes of sparse files, maps big files window by window and falls
// back to the buffered loop.
func (w *Worker) copyLocal(srcPath, dstPath string, st *Stat) (written int64, err error) {
	from, to := LocalURL(srcPath), LocalURL(dstPath)
	in, err := os.Open(srcPath)
	if err != nil {
		return 0, &OpError{Kind: KindOf(err, ErrKindOpen), Op: "open", From: from, Err: err}
	}
	defer in.Close()

	// Read access lets the target be mapped shared for writing.
	out, err := os.OpenFile(dstPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, withUserWrite(st.Mode.Perm()))
	if err != nil {
		return 0, &OpError{Kind: KindOf(err, ErrKindOpen), Op: "create", To: to, Err: err}
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = &OpError{Kind: KindOf(cerr, ErrKindWrite), Op: "close", To: to, Err: cerr}
		}
	}()

	size := st.Size
	if w.opts.Reflink && size > 0 {
		if cloneFile(out, in) == nil {
			w.counters.copied(size)
			return size, nil
		}
	}
	readAhead(in, size)

	switch {
	case size > 0 && isSparse(in, size):
		return w.copySparse(in, out, size, from, to)
	case size >= w.opts.BigFileThreshold:
		n, err := w.copyMapped(in, out, size, from, to)
		if !errors.Is(err, errMmapUnsupported) {
			return n, err
		}
		w.log.Debug("memory mapped copy unavailable", "file", srcPath)
		w.counters.copyAbandoned(n)
		if err := rewind(out); err != nil {
			return 0, &OpError{Kind: KindOf(err, ErrKindWrite), Op: "truncate", To: to, Err: err}
		}
	}
	return w.pump(out, in, from, to)
}

// copySparse copies only the data segments of in and restores the length.
func (w *Worker) copySparse(in, out *os.File, size int64, from, to URL) (int64, error) {
	segments, err := dataSegments(in, size)
	if err != nil {
		segments = []segment{{off: 0, len: size}}
	}
	var written int64
	for _, seg := range segments {
		n, err := w.pump(io.NewOffsetWriter(out, seg.off), io.NewSectionReader(in, seg.off, seg.len), from, to)
		written += n
		if err != nil {
			return written, err
		}
	}
	if err := out.Truncate(size); err != nil {
		return written, &OpError{Kind: KindOf(err, ErrKindWrite), Op: "truncate", To: to, Err: err}
	}
	return size, nil
}

// copyMapped copies a big file through shared memory maps, one window at a
// time. The target is allocated up front so a full disk fails here rather
// than with a fault on a mapped page.
func (w *Worker) copyMapped(in, out *os.File, size int64, from, to URL) (int64, error) {
	if err := preallocate(out, size); err != nil {
		if errors.Is(err, errMmapUnsupported) {
			return 0, err
		}
		return 0, &OpError{Kind: KindOf(err, ErrKindWrite), Op: "allocate", To: to, Err: err}
	}
	window := alignWindow(w.opts.MmapWindow)
	var written int64
	for off := int64(0); off < size; off += window {
		if w.ctx.Err() != nil {
			return written, ErrStopped
		}
		n := min(window, size-off)
		if err := mapWindow(out, in, off, int(n)); err != nil {
			if errors.Is(err, errMmapUnsupported) {
				return written, err
			}
			return written, &OpError{Kind: KindOf(err, ErrKindRead), Op: "mmap copy", From: from, To: to, Err: err}
		}
		w.counters.copied(n)
		written += n
	}
	return written, nil
}

// segment is a byte range holding data.
type segment struct {
	off, len int64
}

func alignWindow(window int64) int64 {
	page := int64(os.Getpagesize())
	if window < page {
		return page
	}
	return window - window%page
}

func rewind(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.Seek(0, io.SeekStart)
	return err
}

// maybeSync flushes the target filesystem once SyncEvery bytes were
// written since the last flush.
func (w *Worker) maybeSync(n int64) {
	if w.opts.SyncEvery <= 0 || w.targetLocal == "" || w.env.Storage == nil {
		return
	}
	if w.sinceSync.Add(n) < w.opts.SyncEvery {
		return
	}
	w.sinceSync.Store(0)
	if err := w.env.Storage.Sync(w.targetLocal); err != nil {
		w.log.Debug("syncing target", "target", w.targetLocal, "error", err)
	}
}

// syncTarget flushes what is left once the job ends. Removable devices are
// always flushed so they can be unplugged when the job reports done.
func (w *Worker) syncTarget() {
	if w.targetLocal == "" || w.env.Storage == nil {
		return
	}
	removable := w.acct != nil && w.acct.info != nil && w.acct.info.Removable
	if !removable && w.sinceSync.Load() == 0 {
		return
	}
	w.sinceSync.Store(0)
	if err := w.env.Storage.Sync(w.targetLocal); err != nil {
		w.log.Warn("syncing target", "target", w.targetLocal, "error", err)
	}
}
