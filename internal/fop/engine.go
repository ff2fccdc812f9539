package fop

import (
	"context"
	"fmt"
)

// Env carries the collaborators shared by every worker of an Engine.
// Storage and Trash may be nil.
type Env struct {
	Registry *Registry
	Storage  StorageResolver
	Trash    Trasher
	Journal  Journal
	Notifier Notifier
	Logger   Logger
	Clock    Clock
	IDs      IDGenerator
	Options  Options
}

// Engine creates and starts jobs.
type Engine struct {
	env Env
}

// NewEngine fills unset collaborators with no-op defaults.
func NewEngine(env Env) *Engine {
	if env.Registry == nil {
		env.Registry = NewRegistry()
	}
	if env.Journal == nil {
		env.Journal = NopJournal{}
	}
	if env.Notifier == nil {
		env.Notifier = NopNotifier{}
	}
	if env.Logger == nil {
		env.Logger = NewNopLogger()
	}
	if env.Clock == nil {
		env.Clock = RealClock{}
	}
	if env.IDs == nil {
		env.IDs = UUIDGenerator{}
	}
	env.Options = env.Options.withDefaults()
	return &Engine{env: env}
}

// Registry returns the backend registry.
func (e *Engine) Registry() *Registry { return e.env.Registry }

// NewJob builds a job with a fresh ID.
func (e *Engine) NewJob(t JobType, sources []URL, target URL, flags Flags) *Job {
	return &Job{
		ID:      e.env.IDs.New(),
		Type:    t,
		Sources: sources,
		Target:  target,
		Flags:   flags,
	}
}

// Prepare creates the worker for job without starting it.
func (e *Engine) Prepare(job *Job) (*JobHandle, error) {
	if job.ID == "" {
		job.ID = e.env.IDs.New()
	}
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}
	if (job.Type == JobTrash || job.Type == JobRestore) && e.env.Trash == nil {
		return nil, fmt.Errorf("%s job needs a trash", job.Type)
	}
	return &JobHandle{w: newWorker(e.env, job)}, nil
}

// Start prepares and starts job. When dm is nil the configured policy
// answers every error.
func (e *Engine) Start(ctx context.Context, job *Job, dm DecisionMaker) (*JobHandle, error) {
	h, err := e.Prepare(job)
	if err != nil {
		return nil, err
	}
	if dm != nil {
		h.Decisions().Attach(ctx, dm)
	}
	if err := h.Start(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// Run starts job and waits for it.
func (e *Engine) Run(ctx context.Context, job *Job, dm DecisionMaker) (*JobResult, error) {
	h, err := e.Start(ctx, job, dm)
	if err != nil {
		return nil, err
	}
	return h.Wait(), nil
}

// TrashSize walks the trash and returns the size and number of trashed
// items.
func (e *Engine) TrashSize(ctx context.Context) (size int64, items int64, err error) {
	if e.env.Trash == nil {
		return 0, 0, fmt.Errorf("no trash configured")
	}
	root := e.env.Trash.Root()
	b, err := e.env.Registry.Backend(root)
	if err != nil {
		return 0, 0, err
	}
	en, err := NewEnumerator(ctx, b, root, EnumOptions{Filter: FilterAll, Network: e.env.Options.Network})
	if err != nil {
		return 0, 0, fmt.Errorf("listing trash: %w", err)
	}
	defer en.Close()

	for en.HasNext() {
		u := en.Next()
		items++
		st := en.Entry().Stat
		if st != nil && st.Type() != TypeDir {
			size += st.Size
			continue
		}
		stats, err := CountTree(ctx, b, u, TraversalOptions{Enum: EnumOptions{Network: e.env.Options.Network}})
		if err != nil {
			return size, items, fmt.Errorf("measuring %s: %w", u, err)
		}
		size += stats.TotalSize
	}
	return size, items, en.Err()
}
