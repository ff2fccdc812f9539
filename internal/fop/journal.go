package fop

import "time"

// EntryStatus is the fate of one source entry.
type EntryStatus string

const (
	EntryCopied   EntryStatus = "copied"
	EntryMoved    EntryStatus = "moved"
	EntryDeleted  EntryStatus = "deleted"
	EntryTrashed  EntryStatus = "trashed"
	EntryLinked   EntryStatus = "linked"
	EntryRestored EntryStatus = "restored"
	EntryChanged  EntryStatus = "changed"
	EntrySkipped  EntryStatus = "skipped"
	EntryLeftover EntryStatus = "leftover"

	// EntryHardLinked marks a link that added a reference to the source inode.
	EntryHardLinked EntryStatus = "hard-linked"
)

// JournalEntry records one processed source entry.
type JournalEntry struct {
	Source URL
	Target URL
	Size   int64
	Status EntryStatus
}

// Journal persists job progress so interrupted jobs can be inspected and
// their temporary files cleaned up. Failures are logged by the worker and
// never stop a job.
type Journal interface {
	JobStarted(job *Job, at time.Time) error
	// PartPending records a temporary target before it is written.
	PartPending(jobID string, part URL) error
	// PartResolved records that a temporary target was renamed or removed.
	PartResolved(jobID string, part URL) error
	EntryDone(jobID string, e JournalEntry) error
	JobFinished(r *JobResult, at time.Time) error
}

// NopJournal keeps nothing.
type NopJournal struct{}

func (NopJournal) JobStarted(*Job, time.Time) error        { return nil }
func (NopJournal) PartPending(string, URL) error           { return nil }
func (NopJournal) PartResolved(string, URL) error          { return nil }
func (NopJournal) EntryDone(string, JournalEntry) error    { return nil }
func (NopJournal) JobFinished(*JobResult, time.Time) error { return nil }
