package testutil

import (
	"slices"
	"sync"
	"time"

	"fop-go/internal/fop"
)

// RecordingJournal keeps journal calls in memory.
type RecordingJournal struct {
	mu       sync.Mutex
	started  []*fop.Job
	pending  map[fop.URL]bool
	parts    []fop.URL
	entries  []fop.JournalEntry
	finished []*fop.JobResult
}

func NewRecordingJournal() *RecordingJournal {
	return &RecordingJournal{pending: make(map[fop.URL]bool)}
}

func (j *RecordingJournal) JobStarted(job *fop.Job, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.started = append(j.started, job)
	return nil
}

func (j *RecordingJournal) PartPending(jobID string, part fop.URL) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pending[part] = true
	j.parts = append(j.parts, part)
	return nil
}

func (j *RecordingJournal) PartResolved(jobID string, part fop.URL) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.pending, part)
	return nil
}

func (j *RecordingJournal) EntryDone(jobID string, e fop.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *RecordingJournal) JobFinished(r *fop.JobResult, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finished = append(j.finished, r)
	return nil
}

// Entries returns the recorded entries with the given status, all of them
// when status is empty.
func (j *RecordingJournal) Entries(status fop.EntryStatus) []fop.JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []fop.JournalEntry
	for _, e := range j.entries {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// Parts returns every part file ever registered.
func (j *RecordingJournal) Parts() []fop.URL {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.parts)
}

// Unresolved returns part files that were never resolved.
func (j *RecordingJournal) Unresolved() []fop.URL {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []fop.URL
	for u := range j.pending {
		out = append(out, u)
	}
	return out
}

func (j *RecordingJournal) Started() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.started)
}

func (j *RecordingJournal) Finished() []*fop.JobResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.finished)
}

var _ fop.Journal = (*RecordingJournal)(nil)
