package console

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"fop-go/internal/fop"
)

// ProgressBar is a fop.Notifier drawing one bar per job on w. Jobs with
// content count bytes, others count entries.
type ProgressBar struct {
	w  io.Writer
	mu sync.Mutex

	bars map[string]*jobBar
}

type jobBar struct {
	bar   *progressbar.ProgressBar
	bytes bool
	max   int64
	desc  string
}

func NewProgressBar(w io.Writer) *ProgressBar {
	return &ProgressBar{w: w, bars: make(map[string]*jobBar)}
}

// newBar draws a spinner while max is unknown.
func (p *ProgressBar) newBar(max int64, bytes bool) *progressbar.ProgressBar {
	if max <= 0 {
		max = -1
	}
	return progressbar.NewOptions64(max,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionShowBytes(bytes),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// bar returns the job's bar. It is replaced once a total becomes known
// and again when byte counting becomes possible.
func (p *ProgressBar) bar(jobID string, pr fop.Progress) *jobBar {
	jb, ok := p.bars[jobID]
	bytes := pr.TotalBytes > 0
	max := pr.TotalFiles
	if bytes {
		max = pr.TotalBytes
	}
	if !ok || (bytes && !jb.bytes) || (jb.max <= 0 && max > 0) {
		desc := "preparing"
		if ok {
			_ = jb.bar.Clear()
			desc = jb.desc
		}
		jb = &jobBar{bar: p.newBar(max, bytes), bytes: bytes, max: max, desc: desc}
		jb.bar.Describe(desc)
		p.bars[jobID] = jb
	}
	return jb
}

func (p *ProgressBar) CurrentTask(jobID string, from, to fop.URL) {
	p.mu.Lock()
	defer p.mu.Unlock()
	jb := p.bar(jobID, fop.Progress{})
	jb.desc = from.Base()
	jb.bar.Describe(jb.desc)
}

func (p *ProgressBar) Progress(jobID string, pr fop.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.update(p.bar(jobID, pr), pr)
}

func (p *ProgressBar) update(jb *jobBar, pr fop.Progress) {
	max, cur := pr.TotalFiles, pr.CompletedFiles
	if jb.bytes {
		max, cur = pr.TotalBytes, pr.CompletedBytes
	}
	// Totals grow while the enumeration is still running.
	if max > jb.max {
		jb.max = max
		jb.bar.ChangeMax64(max)
	}
	_ = jb.bar.Set64(cur)
}

func (p *ProgressBar) Finished(jobID string, r *fop.JobResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if jb, ok := p.bars[jobID]; ok {
		p.update(jb, r.Progress)
		if r.State == fop.StateCompleted {
			_ = jb.bar.Finish()
		}
		delete(p.bars, jobID)
	}
	fmt.Fprintf(p.w, "\n%s\n", Summary(r))
}

// Summary is the one-line report of a finished job.
func Summary(r *fop.JobResult) string {
	s := fmt.Sprintf("%s %s: %d files, %d bytes in %s",
		r.Type, r.Outcome, r.Progress.CompletedFiles, r.Progress.CompletedBytes, r.Progress.Elapsed.Round(time.Millisecond))
	if n := len(r.Skipped); n > 0 {
		s += fmt.Sprintf(", %d skipped", n)
	}
	if n := len(r.Leftovers); n > 0 {
		s += fmt.Sprintf(", %d left over", n)
	}
	if n := len(r.Errors); n > 0 {
		s += fmt.Sprintf(", %d errors", n)
	}
	if r.Reason != "" {
		s += " (" + r.Reason + ")"
	}
	return s
}

var _ fop.Notifier = (*ProgressBar)(nil)
