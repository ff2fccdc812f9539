package testutil

import (
	"sync"

	"fop-go/internal/fop"
)

// TaskEvent is one CurrentTask call.
type TaskEvent struct {
	From fop.URL
	To   fop.URL
}

// RecordingNotifier keeps every event it receives.
type RecordingNotifier struct {
	mu       sync.Mutex
	tasks    []TaskEvent
	progress []fop.Progress
	finished []*fop.JobResult
}

func NewRecordingNotifier() *RecordingNotifier { return &RecordingNotifier{} }

func (n *RecordingNotifier) CurrentTask(jobID string, from, to fop.URL) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tasks = append(n.tasks, TaskEvent{From: from, To: to})
}

func (n *RecordingNotifier) Progress(jobID string, p fop.Progress) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, p)
}

func (n *RecordingNotifier) Finished(jobID string, r *fop.JobResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished = append(n.finished, r)
}

func (n *RecordingNotifier) Tasks() []TaskEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]TaskEvent(nil), n.tasks...)
}

func (n *RecordingNotifier) ProgressEvents() []fop.Progress {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]fop.Progress(nil), n.progress...)
}

// Results returns the results reported so far.
func (n *RecordingNotifier) Results() []*fop.JobResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*fop.JobResult(nil), n.finished...)
}

var _ fop.Notifier = (*RecordingNotifier)(nil)
