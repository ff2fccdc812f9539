package fop

import (
	"fmt"
	"io/fs"
	"strings"
)

// JobType is the kind of operation a job performs.
type JobType int

const (
	JobCopy JobType = iota
	JobMove
	JobDelete
	JobTrash
	JobLink
	JobRestore
	JobChmod
)

var jobTypeNames = map[JobType]string{
	JobCopy:    "copy",
	JobMove:    "move",
	JobDelete:  "delete",
	JobTrash:   "trash",
	JobLink:    "link",
	JobRestore: "restore",
	JobChmod:   "chmod",
}

func (t JobType) String() string {
	if s, ok := jobTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("job(%d)", int(t))
}

// ParseJobType is the inverse of JobType.String.
func ParseJobType(s string) (JobType, error) {
	for t, name := range jobTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown job type %q", s)
}

// needsTarget reports whether jobs of this type write into a target
// directory.
func (t JobType) needsTarget() bool {
	return t == JobCopy || t == JobMove || t == JobLink
}

// Flags modify how a job runs.
type Flags uint

const (
	// FlagForce overwrites collisions without asking and deletes without
	// the trash or read-only checks.
	FlagForce Flags = 1 << iota
	// FlagFollowLinks copies or links the target of symlinks instead of
	// the link itself.
	FlagFollowLinks
	// FlagCountSizeOnly accounts progress from logical sizes only.
	FlagCountSizeOnly
	FlagOverwriteAll
	FlagSkipAll
	FlagRenameAll
	// FlagHardLink makes link jobs create hard links.
	FlagHardLink
	// FlagRecursive applies chmod jobs to whole trees.
	FlagRecursive
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagForce, "force"},
	{FlagFollowLinks, "follow-links"},
	{FlagCountSizeOnly, "count-size-only"},
	{FlagOverwriteAll, "overwrite-all"},
	{FlagSkipAll, "skip-all"},
	{FlagRenameAll, "rename-all"},
	{FlagHardLink, "hard-link"},
	{FlagRecursive, "recursive"},
}

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

func (f Flags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseFlags is the inverse of Flags.String.
func ParseFlags(s string) (Flags, error) {
	var f Flags
	if s == "" {
		return f, nil
	}
	for _, name := range strings.Split(s, ",") {
		found := false
		for _, fn := range flagNames {
			if fn.name == name {
				f |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown flag %q", name)
		}
	}
	return f, nil
}

// Job is one requested operation.
type Job struct {
	ID      string
	Type    JobType
	Sources []URL
	// Target is the destination directory. It is zero for delete, trash
	// and chmod jobs, and for restores to the original location.
	Target URL
	Flags  Flags
	// Mode is applied by chmod jobs.
	Mode fs.FileMode
}

// Validate checks the job shape before a worker accepts it.
func (j *Job) Validate() error {
	if len(j.Sources) == 0 {
		return fmt.Errorf("%s job has no sources", j.Type)
	}
	if j.Type.needsTarget() && j.Target.IsZero() {
		return fmt.Errorf("%s job has no target", j.Type)
	}
	if (j.Type == JobDelete || j.Type == JobTrash || j.Type == JobChmod) && !j.Target.IsZero() {
		return fmt.Errorf("%s job does not take a target", j.Type)
	}
	return nil
}

// JobState is the lifecycle of a worker.
type JobState int32

const (
	StateCreated JobState = iota
	StateInitializing
	StateRunning
	StatePaused
	StateCompleted
	StateStopped
	StateFailed
)

func (s JobState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether s is a final state.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateStopped || s == StateFailed
}

// Outcome summarises how a finished job went.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomePartial
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartial:
		return "partial"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "unknown"
}

// JobResult is reported when a job reaches a terminal state.
type JobResult struct {
	JobID   string
	Type    JobType
	State   JobState
	Outcome Outcome
	Reason  string
	Err     error

	Completed []URL
	Targets   []URL
	Skipped   []URL
	// Leftovers are move sources that were copied but could not be
	// deleted.
	Leftovers []URL
	Errors    []ErrorDescriptor
	Progress  Progress
}
