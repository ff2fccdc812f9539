package fop

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// errSkipped reports that an entry was skipped after a decision. The
// caller has already accounted for it.
var errSkipped = errors.New("entry skipped")

// abortError ends a job after a cancel decision.
type abortError struct {
	desc ErrorDescriptor
}

func (e *abortError) Error() string {
	return fmt.Sprintf("cancelled on %s error: %s", e.desc.Kind, e.desc.Message)
}

func (e *abortError) Unwrap() error { return e.desc.Err }

// Worker executes one job on its own goroutine. The job type selects which
// per-source operation runs. Collision handling, the decision protocol,
// permission restore and accounting are shared by all of them.
type Worker struct {
	env       Env
	job       *Job
	opts      Options
	log       Logger
	decisions *DecisionChannel
	counters  Counters
	perms     dirPermissionQueue
	acct      *writeAccountant
	pool      *errgroup.Group
	sources   []TraversalStats

	state    atomic.Int32
	started  atomic.Bool
	lifeMu   sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	stopped  atomic.Bool
	abortMu  sync.Mutex
	abortErr error

	holdMu sync.Mutex
	holdCh chan struct{}

	resMu     sync.Mutex
	result    *JobResult
	skips     atomic.Int64
	leftovers atomic.Int64
	observed  atomic.Int64
	bufs      sync.Pool

	targetLocal string
	tid         int
	sinceSync   atomic.Int64
	startedAt   atomic.Pointer[time.Time]
	done        chan struct{}
}

func newWorker(env Env, job *Job) *Worker {
	w := &Worker{
		env:       env,
		job:       job,
		opts:      env.Options,
		log:       withJob(env.Logger, job.ID),
		decisions: NewDecisionChannel(env.Options.Policy),
		result:    &JobResult{JobID: job.ID, Type: job.Type},
		done:      make(chan struct{}),
	}
	size := w.opts.BufferSize
	w.bufs.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	w.decisions.onWait = func(waiting bool) {
		if waiting {
			w.state.CompareAndSwap(int32(StateRunning), int32(StatePaused))
		} else {
			w.state.CompareAndSwap(int32(StatePaused), int32(StateRunning))
		}
	}
	switch {
	case job.Flags.Has(FlagOverwriteAll):
		w.decisions.Remember(ErrKindFileExists, ActionOverwrite)
		w.decisions.Remember(ErrKindDirExists, ActionMerge)
	case job.Flags.Has(FlagSkipAll):
		w.decisions.Remember(ErrKindFileExists, ActionSkip)
		w.decisions.Remember(ErrKindDirExists, ActionSkip)
	case job.Flags.Has(FlagRenameAll):
		w.decisions.Remember(ErrKindFileExists, ActionRename)
		w.decisions.Remember(ErrKindDirExists, ActionRename)
	}
	return w
}

// State returns the current lifecycle state.
func (w *Worker) State() JobState { return JobState(w.state.Load()) }

func (w *Worker) setState(s JobState) {
	w.state.Store(int32(s))
}

func (w *Worker) start(parent context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("job %s already started", w.job.ID)
	}
	w.lifeMu.Lock()
	w.ctx, w.cancel = context.WithCancel(parent)
	if w.stopped.Load() {
		w.cancel()
	}
	w.lifeMu.Unlock()
	now := w.env.Clock.Now()
	w.startedAt.Store(&now)
	go w.run()
	return nil
}

func (w *Worker) stop() {
	w.lifeMu.Lock()
	w.stopped.Store(true)
	if w.cancel != nil {
		w.cancel()
	}
	w.lifeMu.Unlock()
	w.release()
}

func (w *Worker) hold() {
	w.holdMu.Lock()
	defer w.holdMu.Unlock()
	if w.holdCh == nil {
		w.holdCh = make(chan struct{})
	}
}

func (w *Worker) release() {
	w.holdMu.Lock()
	defer w.holdMu.Unlock()
	if w.holdCh != nil {
		close(w.holdCh)
		w.holdCh = nil
	}
}

func (w *Worker) isHeld() bool {
	w.holdMu.Lock()
	defer w.holdMu.Unlock()
	return w.holdCh != nil
}

// checkpoint is called at every file boundary. It waits out a pause and
// reports ErrStopped once the job is cancelled.
func (w *Worker) checkpoint() error {
	if w.ctx.Err() != nil {
		return ErrStopped
	}
	w.holdMu.Lock()
	ch := w.holdCh
	w.holdMu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-w.ctx.Done():
		}
	}
	if w.ctx.Err() != nil {
		return ErrStopped
	}
	return nil
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.cancel()
	// Pinning the goroutine lets task I/O accounting follow it.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	w.tid = currentTID()

	w.setState(StateInitializing)
	if err := w.env.Journal.JobStarted(w.job, *w.startedAt.Load()); err != nil {
		w.log.Warn("journal: recording job start", "error", err)
	}
	w.log.Info("job started", "type", w.job.Type.String(), "sources", len(w.job.Sources),
		"target", w.job.Target.String(), "flags", w.job.Flags.String())

	err := w.initialize()
	if err == nil {
		w.state.CompareAndSwap(int32(StateInitializing), int32(StateRunning))
		stopProgress := w.startProgressLoop()
		err = w.execute()
		if perr := w.waitPool(); err == nil {
			err = perr
		}
		stopProgress()
	}
	w.restorePermissions()
	w.syncTarget()
	w.finish(err)
}

func (w *Worker) initialize() error {
	if w.job.Type.needsTarget() {
		if err := w.checkTargetDir(); err != nil {
			return err
		}
	}

	w.sources = make([]TraversalStats, len(w.job.Sources))
	for i, src := range w.job.Sources {
		if err := w.checkpoint(); err != nil {
			return err
		}
		stats, err := w.measure(src)
		if err != nil {
			// Missing sources are reported when they are processed.
			w.log.Debug("measuring source", "source", src.String(), "error", err)
			stats = TraversalStats{Files: 1}
		}
		w.sources[i] = stats
		w.counters.addTotal(stats.Count(), stats.TotalSize)
	}

	if w.job.Type == JobCopy && w.opts.Workers > 1 && w.opts.SmallFileThreshold > 0 {
		w.pool = &errgroup.Group{}
		w.pool.SetLimit(w.opts.Workers)
	}
	w.setupAccounting()
	return nil
}

// measure sizes one source for the progress totals.
func (w *Worker) measure(src URL) (TraversalStats, error) {
	switch w.job.Type {
	case JobCopy, JobMove, JobDelete, JobRestore:
	case JobChmod:
		if !w.job.Flags.Has(FlagRecursive) {
			return TraversalStats{Files: 1}, nil
		}
	default:
		return TraversalStats{Files: 1}, nil
	}
	b, err := w.env.Registry.Backend(src)
	if err != nil {
		return TraversalStats{}, err
	}
	return CountTree(w.ctx, b, src, TraversalOptions{
		IncludeRoot: true,
		Enum:        EnumOptions{Network: w.opts.Network},
	})
}

// checkTargetDir makes sure the job target is an existing directory.
func (w *Worker) checkTargetDir() error {
	for {
		to, err := w.env.Registry.FileInfo(w.job.Target)
		if err != nil {
			return w.abort(ErrorDescriptor{Kind: ErrKindProgram, To: w.job.Target, Err: err, Message: err.Error()})
		}
		st, err := to.Stat(w.ctx)
		if err == nil && st.Type() == TypeDir {
			w.targetLocal, _ = localPath(to.Backend(), w.job.Target)
			return nil
		}
		kind := KindOf(err, ErrKindProgram)
		if err == nil {
			err = fmt.Errorf("target %s is not a directory", w.job.Target)
			kind = ErrKindProgram
		}
		if _, err := w.resolve(ErrorDescriptor{
			Kind:    kind,
			To:      w.job.Target,
			Err:     err,
			Message: err.Error(),
			Actions: []Action{ActionRetry},
		}); err != nil {
			return err
		}
	}
}

func (w *Worker) setupAccounting() {
	w.acct = &writeAccountant{kind: countBySize, resolver: w.env.Storage, counters: &w.counters}
	if w.job.Flags.Has(FlagCountSizeOnly) || w.env.Storage == nil || w.targetLocal == "" {
		return
	}
	info, err := w.env.Storage.Resolve(w.ctx, w.targetLocal)
	if err != nil {
		w.log.Debug("resolving target storage", "target", w.targetLocal, "error", err)
		return
	}
	w.acct.info = info
	switch {
	case info.Removable:
		w.acct.kind = countBySectors
	case w.pool == nil && w.tid != 0:
		w.acct.kind = countByTask
		w.acct.tid = w.tid
	}
	w.acct.begin()
	w.log.Debug("write accounting", "type", w.acct.kind.String(), "device", info.DevicePath, "removable", info.Removable)
}

func (w *Worker) execute() error {
	for i, src := range w.job.Sources {
		if err := w.checkpoint(); err != nil {
			return err
		}
		var err error
		switch w.job.Type {
		case JobCopy, JobMove:
			err = w.transferSource(i, src)
		case JobDelete:
			err = w.deleteSource(i, src)
		case JobTrash:
			err = w.trashSource(i, src)
		case JobLink:
			err = w.linkSource(i, src)
		case JobRestore:
			err = w.restoreSource(i, src)
		case JobChmod:
			err = w.chmodSource(i, src)
		default:
			err = fmt.Errorf("unsupported job type %s", w.job.Type)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// waitPool waits for every pooled copy to finish.
func (w *Worker) waitPool() error {
	if w.pool == nil {
		return nil
	}
	return w.pool.Wait()
}

// ask hands d to the decision channel.
func (w *Worker) ask(d ErrorDescriptor) Action {
	d.JobID = w.job.ID
	if d.Message == "" && d.Err != nil {
		d.Message = d.Err.Error()
	}
	if !d.Kind.IsCollision() && len(d.Actions) > 0 && d.Allows(ActionSkip) {
		// A skip can be repeated for the same kind of error.
		d.AllowToAll = true
	}
	a := w.decisions.Ask(w.ctx, d)
	w.log.Debug("decision", "kind", d.Kind.String(), "from", d.From.String(), "to", d.To.String(), "action", a.String())
	// Errors cured by a retry leave no trace in the result.
	if !d.Kind.IsCollision() && a != ActionRetry {
		w.resMu.Lock()
		w.result.Errors = append(w.result.Errors, d)
		w.resMu.Unlock()
	}
	return a
}

// resolve asks and turns a cancel into the error that ends the job.
func (w *Worker) resolve(d ErrorDescriptor) (Action, error) {
	a := w.ask(d)
	if a == ActionCancel {
		return a, w.abort(d)
	}
	return a, nil
}

// abort ends the job. The first cause wins.
func (w *Worker) abort(d ErrorDescriptor) error {
	w.abortMu.Lock()
	defer w.abortMu.Unlock()
	if w.abortErr != nil {
		return w.abortErr
	}
	if w.ctx.Err() != nil {
		return ErrStopped
	}
	d.JobID = w.job.ID
	if d.Message == "" && d.Err != nil {
		d.Message = d.Err.Error()
	}
	w.abortErr = &abortError{desc: d}
	w.cancel()
	return w.abortErr
}

// skipEntry accounts an entry, and everything below it, as done without
// touching it.
func (w *Worker) skipEntry(u URL, stats TraversalStats) {
	w.skips.Add(1)
	w.counters.filesDone(stats.Count())
	w.counters.bytesDone(stats.TotalSize)
	w.resMu.Lock()
	w.result.Skipped = append(w.result.Skipped, u)
	w.resMu.Unlock()
	w.journal(JournalEntry{Source: u, Size: stats.TotalSize, Status: EntrySkipped})
}

// skipTree skips fi after measuring it.
func (w *Worker) skipTree(fi *FileInfo) {
	stats := TraversalStats{Files: 1}
	if fi.Type(w.ctx) == TypeDir {
		if s, err := CountTree(w.ctx, fi.Backend(), fi.URL(), TraversalOptions{IncludeRoot: true}); err == nil {
			stats = s
		}
	} else if st, err := fi.Stat(w.ctx); err == nil && st.Type() == TypeRegular {
		stats.TotalSize = st.Size
	}
	w.skipEntry(fi.URL(), stats)
}

func (w *Worker) recordCompleted(src, dst URL) {
	w.resMu.Lock()
	defer w.resMu.Unlock()
	w.result.Completed = append(w.result.Completed, src)
	if !dst.IsZero() {
		w.result.Targets = append(w.result.Targets, dst)
	}
}

func (w *Worker) recordLeftover(src URL) {
	w.leftovers.Add(1)
	w.resMu.Lock()
	w.result.Leftovers = append(w.result.Leftovers, src)
	w.resMu.Unlock()
	w.journal(JournalEntry{Source: src, Status: EntryLeftover})
}

func (w *Worker) journal(e JournalEntry) {
	if err := w.env.Journal.EntryDone(w.job.ID, e); err != nil {
		w.log.Warn("journal: recording entry", "source", e.Source.String(), "error", err)
	}
}

func (w *Worker) progress() Progress {
	p := w.counters.Snapshot()
	// Observed completion never goes backwards.
	for {
		seen := w.observed.Load()
		if p.CompletedBytes <= seen {
			p.CompletedBytes = seen
			break
		}
		if w.observed.CompareAndSwap(seen, p.CompletedBytes) {
			break
		}
	}
	if started := w.startedAt.Load(); started != nil {
		p.Elapsed = w.env.Clock.Now().Sub(*started)
		if secs := p.Elapsed.Seconds(); secs > 0 {
			p.Speed = float64(p.WrittenBytes) / secs
		}
	}
	return p
}

func (w *Worker) startProgressLoop() func() {
	ticker := time.NewTicker(w.opts.ProgressInterval)
	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.acct.sample()
				w.env.Notifier.Progress(w.job.ID, w.progress())
			case <-quit:
				return
			}
		}
	}()
	return func() {
		close(quit)
		wg.Wait()
	}
}

func (w *Worker) finish(err error) {
	w.abortMu.Lock()
	abortErr := w.abortErr
	w.abortMu.Unlock()

	r := w.result
	switch {
	case abortErr != nil:
		r.State, r.Outcome, r.Err = StateFailed, OutcomeFailed, abortErr
		r.Reason = abortErr.Error()
	case w.stopped.Load() || errors.Is(err, ErrStopped):
		r.State, r.Outcome, r.Err = StateStopped, OutcomeCancelled, ErrStopped
		r.Reason = "cancelled by user"
	case err != nil:
		r.State, r.Outcome, r.Err = StateFailed, OutcomeFailed, err
		r.Reason = err.Error()
	default:
		w.counters.reconcile()
		r.State, r.Outcome = StateCompleted, OutcomeSuccess
		if len(r.Skipped) > 0 || len(r.Leftovers) > 0 || len(r.Errors) > 0 {
			r.Outcome = OutcomePartial
			r.Reason = fmt.Sprintf("%d skipped, %d left behind, %d errors", len(r.Skipped), len(r.Leftovers), len(r.Errors))
		}
	}
	if w.acct != nil {
		w.acct.sample()
	}
	r.Progress = w.progress()

	finishedAt := w.env.Clock.Now()
	if jerr := w.env.Journal.JobFinished(r, finishedAt); jerr != nil {
		w.log.Warn("journal: recording job end", "error", jerr)
	}
	w.log.Info("job finished", "state", r.State.String(), "outcome", r.Outcome.String(),
		"files", r.Progress.CompletedFiles, "bytes", r.Progress.CompletedBytes, "reason", r.Reason)
	w.setState(r.State)
	w.env.Notifier.Progress(w.job.ID, r.Progress)
	w.env.Notifier.Finished(w.job.ID, r)
}
