package fop

import "context"

// JobHandle is the initiator's view of a running job.
type JobHandle struct {
	w *Worker
}

func (h *JobHandle) ID() string { return h.w.job.ID }

// Job returns the job being executed. It must not be modified.
func (h *JobHandle) Job() *Job { return h.w.job }

// Decisions returns the job's decision channel. Listen on it before Start
// to answer errors interactively.
func (h *JobHandle) Decisions() *DecisionChannel { return h.w.decisions }

// Start runs the job on its own goroutine. It fails when the job was
// already started.
func (h *JobHandle) Start(ctx context.Context) error { return h.w.start(ctx) }

// Cancel stops the job at the next checkpoint, interrupting a pending
// decision.
func (h *JobHandle) Cancel() { h.w.stop() }

// Pause holds the worker at the next file boundary.
func (h *JobHandle) Pause() { h.w.hold() }

// Resume releases a Pause.
func (h *JobHandle) Resume() { h.w.release() }

// Held reports whether the job is paused by its initiator.
func (h *JobHandle) Held() bool { return h.w.isHeld() }

func (h *JobHandle) State() JobState { return h.w.State() }

// Progress returns the current counters.
func (h *JobHandle) Progress() Progress { return h.w.progress() }

// Done is closed once the job reached a terminal state.
func (h *JobHandle) Done() <-chan struct{} { return h.w.done }

// Wait blocks until the job ends and returns its result.
func (h *JobHandle) Wait() *JobResult {
	<-h.w.done
	return h.w.result
}
