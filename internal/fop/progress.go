package fop

import (
	"sync/atomic"
	"time"
)

// Counters are shared between a worker and its pool goroutines.
// Completed counts never exceed totals.
type Counters struct {
	totalFiles     atomic.Int64
	totalBytes     atomic.Int64
	completedFiles atomic.Int64
	completedBytes atomic.Int64
	// queuedBytes were handed to write calls; writtenBytes is the estimate
	// of what reached the device.
	queuedBytes  atomic.Int64
	writtenBytes atomic.Int64
	// inflightBytes are logical bytes of files still being copied.
	inflightBytes atomic.Int64
}

func (c *Counters) addTotal(files, bytes int64) {
	c.totalFiles.Add(files)
	c.totalBytes.Add(bytes)
}

func (c *Counters) filesDone(n int64) { addCapped(&c.completedFiles, &c.totalFiles, n) }
func (c *Counters) bytesDone(n int64) { addCapped(&c.completedBytes, &c.totalBytes, n) }

// copied records n bytes written for a file still in progress.
func (c *Counters) copied(n int64) {
	c.queuedBytes.Add(n)
	c.inflightBytes.Add(n)
}

// fileCopied moves a finished file from in-flight to completed. written is
// what copied reported for it, size its logical size.
func (c *Counters) fileCopied(written, size int64) {
	c.inflightBytes.Add(-written)
	c.bytesDone(size)
	c.filesDone(1)
}

// copyAbandoned drops the in-flight bytes of a failed attempt.
func (c *Counters) copyAbandoned(written int64) {
	c.inflightBytes.Add(-written)
}

func (c *Counters) setWritten(n int64) {
	if n > c.writtenBytes.Load() {
		c.writtenBytes.Store(n)
	}
}

// reconcile makes totals equal the completed counts when the tree shrank
// while the job ran.
func (c *Counters) reconcile() {
	if done := c.completedFiles.Load(); done < c.totalFiles.Load() {
		c.totalFiles.Store(done)
	}
	if done := c.completedBytes.Load(); done < c.totalBytes.Load() {
		c.totalBytes.Store(done)
	}
}

func addCapped(v, limit *atomic.Int64, n int64) {
	for {
		cur := v.Load()
		next := min(cur+n, limit.Load())
		if next <= cur || v.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Snapshot returns the counters as a Progress without speed.
func (c *Counters) Snapshot() Progress {
	return Progress{
		TotalFiles:     c.totalFiles.Load(),
		CompletedFiles: c.completedFiles.Load(),
		TotalBytes:     c.totalBytes.Load(),
		CompletedBytes: min(c.completedBytes.Load()+max(c.inflightBytes.Load(), 0), c.totalBytes.Load()),
		QueuedBytes:    c.queuedBytes.Load(),
		WrittenBytes:   c.writtenBytes.Load(),
	}
}

// Progress is one observation of a running job.
type Progress struct {
	TotalFiles     int64
	CompletedFiles int64
	TotalBytes     int64
	CompletedBytes int64
	QueuedBytes    int64
	WrittenBytes   int64
	// Speed is in bytes per second, derived from WrittenBytes.
	Speed   float64
	Elapsed time.Duration
}

// Percent is the share of logical bytes processed, falling back to file
// counts for jobs without content.
func (p Progress) Percent() float64 {
	if p.TotalBytes > 0 {
		return float64(p.CompletedBytes) * 100 / float64(p.TotalBytes)
	}
	if p.TotalFiles > 0 {
		return float64(p.CompletedFiles) * 100 / float64(p.TotalFiles)
	}
	return 0
}

// Notifier receives job events. Calls come from the worker goroutine and
// must not block for long.
type Notifier interface {
	CurrentTask(jobID string, from, to URL)
	Progress(jobID string, p Progress)
	Finished(jobID string, r *JobResult)
}

// NopNotifier ignores every event.
type NopNotifier struct{}

func (NopNotifier) CurrentTask(string, URL, URL) {}
func (NopNotifier) Progress(string, Progress)    {}
func (NopNotifier) Finished(string, *JobResult)  {}

// MultiNotifier fans events out in order.
type MultiNotifier []Notifier

func (m MultiNotifier) CurrentTask(jobID string, from, to URL) {
	for _, n := range m {
		n.CurrentTask(jobID, from, to)
	}
}

func (m MultiNotifier) Progress(jobID string, p Progress) {
	for _, n := range m {
		n.Progress(jobID, p)
	}
}

func (m MultiNotifier) Finished(jobID string, r *JobResult) {
	for _, n := range m {
		n.Finished(jobID, r)
	}
}
