package fop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"
)

const defaultEnumBatch = 128

// EnumOptions configures an Enumerator.
type EnumOptions struct {
	// NameFilters are doublestar patterns applied to non-directory entries.
	NameFilters []string
	Filter      DirFilter
	// Timeout bounds every backend call. Zero lets Network decide.
	Timeout time.Duration
	Network NetworkPolicy
	// BatchSize is the number of entries fetched per backend call.
	BatchSize int

	// relDir is the enumerated directory relative to a traversal root,
	// used for path name filters.
	relDir string
}

// Enumerator lazily yields the children of one directory. It is single
// pass and must only be used by the goroutine that created it. Failures
// end the sequence and are available from Err.
type Enumerator struct {
	ctx     context.Context
	backend Backend
	dir     URL
	reader  DirReader
	names   *nameFilter
	filter  DirFilter
	timeout time.Duration
	batch   int
	relDir  string

	buf     []DirEntry
	next    DirEntry
	pending bool
	cur     DirEntry
	done    bool
	err     error
}

// NewEnumerator opens dir on b.
func NewEnumerator(ctx context.Context, b Backend, dir URL, opts EnumOptions) (*Enumerator, error) {
	names, err := newNameFilter(opts.NameFilters)
	if err != nil {
		return nil, err
	}
	if opts.Network.Pattern == nil {
		opts.Network = DefaultNetworkPolicy
	}
	e := &Enumerator{
		ctx:     ctx,
		backend: b,
		dir:     dir,
		names:   names,
		filter:  opts.Filter,
		timeout: opts.Timeout,
		batch:   opts.BatchSize,
		relDir:  opts.relDir,
	}
	if e.timeout == 0 {
		e.timeout = opts.Network.TimeoutFor(dir)
	}
	if e.batch <= 0 {
		e.batch = defaultEnumBatch
	}

	callCtx, cancel := e.callContext()
	defer cancel()
	reader, err := b.OpenDir(callCtx, dir)
	if err != nil {
		return nil, e.wrap(callCtx, fmt.Errorf("opening directory %s: %w", dir, err))
	}
	e.reader = reader
	return e, nil
}

// HasNext reports whether another entry is available, fetching more from
// the backend as needed.
func (e *Enumerator) HasNext() bool {
	if e.pending {
		return true
	}
	for {
		if len(e.buf) == 0 {
			if e.done {
				return false
			}
			e.fill()
			continue
		}
		entry := e.buf[0]
		e.buf = e.buf[1:]
		if e.accept(&entry) {
			e.next = entry
			e.pending = true
			return true
		}
	}
}

// Next advances to the next entry and returns its URL. It returns the zero
// URL once the sequence is exhausted.
func (e *Enumerator) Next() URL {
	if !e.HasNext() {
		return URL{}
	}
	e.pending = false
	e.cur = e.next
	return e.dir.Join(e.cur.Name)
}

// Entry returns the entry Next last returned.
func (e *Enumerator) Entry() DirEntry { return e.cur }

// FileInfo returns an attribute cache for the current entry, seeded with
// whatever the backend returned while listing.
func (e *Enumerator) FileInfo() *FileInfo {
	return newFileInfoWithStat(e.backend, e.dir.Join(e.cur.Name), e.cur.Stat)
}

// Err returns the last error, nil when the sequence ended normally.
func (e *Enumerator) Err() error { return e.err }

func (e *Enumerator) Close() error {
	if e.reader == nil {
		return nil
	}
	err := e.reader.Close()
	e.reader = nil
	return err
}

func (e *Enumerator) fill() {
	if e.reader == nil {
		e.done = true
		return
	}
	ctx, cancel := e.callContext()
	defer cancel()
	entries, err := e.reader.ReadEntries(ctx, e.batch)
	e.buf = append(e.buf, entries...)
	switch {
	case err == nil:
		if len(entries) == 0 {
			e.done = true
		}
	case errors.Is(err, io.EOF):
		e.done = true
	default:
		e.done = true
		e.err = e.wrap(ctx, fmt.Errorf("reading directory %s: %w", e.dir, err))
	}
}

func (e *Enumerator) accept(entry *DirEntry) bool {
	if entry.Stat == nil {
		ctx, cancel := e.callContext()
		st, err := e.backend.Stat(ctx, e.dir.Join(entry.Name))
		cancel()
		if err != nil {
			if isNotExist(err) {
				return false
			}
		} else {
			entry.Stat = st
		}
	}
	t := TypeRegular
	if entry.Stat != nil {
		t = entry.Stat.Type()
	}
	if !e.filter.accepts(t, entry.Name) {
		return false
	}
	if t == TypeDir {
		return true
	}
	return e.names.Match(path.Join(e.relDir, entry.Name))
}

func (e *Enumerator) callContext() (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(e.ctx, e.timeout)
	}
	return context.WithCancel(e.ctx)
}

// wrap turns a deadline hit by the per-call bound into ErrEnumerationTimeout.
func (e *Enumerator) wrap(callCtx context.Context, err error) error {
	if e.timeout > 0 && e.ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %s", ErrEnumerationTimeout, e.timeout, e.dir)
	}
	return err
}
