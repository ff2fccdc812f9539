package fop_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"fop-go/internal/fop"
	localfs "fop-go/internal/fs"
	"fop-go/internal/testutil"
)

type harness struct {
	engine   *fop.Engine
	mem      *testutil.MemBackend
	journal  *testutil.RecordingJournal
	notifier *testutil.RecordingNotifier
	storage  *testutil.FakeStorage
	ids      *testutil.StubIDGenerator
}

// newHarness builds an engine over the local filesystem and a "mem"
// backend. configure can adjust the environment before the engine is
// created.
func newHarness(t *testing.T, configure ...func(*fop.Env)) *harness {
	t.Helper()
	h := &harness{
		mem:      testutil.NewMemBackend("mem"),
		journal:  testutil.NewRecordingJournal(),
		notifier: testutil.NewRecordingNotifier(),
		storage:  testutil.NewFakeStorage(),
		ids:      testutil.NewStubIDGenerator(),
	}
	env := fop.Env{
		Registry: fop.NewRegistry(localfs.NewLocalBackend(), h.mem),
		Storage:  h.storage,
		Journal:  h.journal,
		Notifier: h.notifier,
		Clock:    testutil.TickingClock(time.Millisecond),
		IDs:      h.ids,
		Options: fop.Options{
			RetryCount:       3,
			RetryWait:        time.Millisecond,
			ProgressInterval: 5 * time.Millisecond,
			Policy:           fop.PolicyFailFast,
		},
	}
	for _, fn := range configure {
		fn(&env)
	}
	h.engine = fop.NewEngine(env)
	return h
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (h *harness) run(t *testing.T, typ fop.JobType, sources []fop.URL, target fop.URL, flags fop.Flags, dm fop.DecisionMaker) *fop.JobResult {
	t.Helper()
	job := h.engine.NewJob(typ, sources, target, flags)
	r, err := h.engine.Run(testContext(t), job, dm)
	if err != nil {
		t.Fatalf("Run(%s) error = %v", typ, err)
	}
	return r
}

func (h *harness) runJob(t *testing.T, job *fop.Job, dm fop.DecisionMaker) *fop.JobResult {
	t.Helper()
	r, err := h.engine.Run(testContext(t), job, dm)
	if err != nil {
		t.Fatalf("Run(%s) error = %v", job.Type, err)
	}
	return r
}

func expectOutcome(t *testing.T, r *fop.JobResult, want fop.Outcome) {
	t.Helper()
	if r.Outcome != want {
		t.Fatalf("Outcome = %s, want %s (state %s, reason %q, err %v)", r.Outcome, want, r.State, r.Reason, r.Err)
	}
}

func expectContent(t *testing.T, m *testutil.MemBackend, p, want string) {
	t.Helper()
	got, ok := m.ReadFile(p)
	if !ok {
		t.Fatalf("%s does not exist, paths: %v", p, m.Paths())
	}
	if got != want {
		t.Errorf("%s = %q, want %q", p, got, want)
	}
}

func urls(m *testutil.MemBackend, paths ...string) []fop.URL {
	out := make([]fop.URL, len(paths))
	for i, p := range paths {
		out[i] = m.URL(p)
	}
	return out
}

func TestEngine_Prepare_Validation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		job  *fop.Job
	}{
		{"no sources", &fop.Job{Type: fop.JobCopy, Target: h.mem.URL("/dst")}},
		{"copy without target", &fop.Job{Type: fop.JobCopy, Sources: urls(h.mem, "/a")}},
		{"delete with target", &fop.Job{Type: fop.JobDelete, Sources: urls(h.mem, "/a"), Target: h.mem.URL("/dst")}},
		{"chmod with target", &fop.Job{Type: fop.JobChmod, Sources: urls(h.mem, "/a"), Target: h.mem.URL("/dst")}},
		{"trash without trash", &fop.Job{Type: fop.JobTrash, Sources: urls(h.mem, "/a")}},
		{"restore without trash", &fop.Job{Type: fop.JobRestore, Sources: urls(h.mem, "/a")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.engine.Prepare(tt.job); err == nil {
				t.Error("Prepare() expected error")
			}
		})
	}

	t.Run("assigns an ID", func(t *testing.T) {
		job := &fop.Job{Type: fop.JobDelete, Sources: urls(h.mem, "/a")}
		hd, err := h.engine.Prepare(job)
		if err != nil {
			t.Fatalf("Prepare() error = %v", err)
		}
		if hd.ID() == "" || job.ID != hd.ID() {
			t.Errorf("ID() = %q, job.ID = %q", hd.ID(), job.ID)
		}
		if hd.State() != fop.StateCreated {
			t.Errorf("State() = %s, want created", hd.State())
		}
	})
}

func TestJobHandle_StartTwice(t *testing.T) {
	h := newHarness(t)
	h.mem.AddFile("/src/a.txt", "a")
	h.mem.AddDir("/dst")

	hd, err := h.engine.Prepare(h.engine.NewJob(fop.JobCopy, urls(h.mem, "/src/a.txt"), h.mem.URL("/dst"), 0))
	if err != nil {
		t.Fatal(err)
	}
	ctx := testContext(t)
	if err := hd.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := hd.Start(ctx); err == nil {
		t.Error("second Start() expected error")
	}
	r := hd.Wait()
	expectOutcome(t, r, fop.OutcomeSuccess)
	if hd.State() != fop.StateCompleted {
		t.Errorf("State() = %s, want completed", hd.State())
	}
}

func TestJobHandle_ProgressWhileRunning(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 20; i++ {
		h.mem.AddFile(fmt.Sprintf("/src/d/f%02d.txt", i), "content")
	}
	h.mem.AddDir("/dst")
	hd, err := h.engine.Prepare(h.engine.NewJob(fop.JobCopy, urls(h.mem, "/src/d"), h.mem.URL("/dst"), 0))
	if err != nil {
		t.Fatal(err)
	}

	polled := make(chan struct{})
	go func() {
		defer close(polled)
		for {
			p := hd.Progress()
			if p.CompletedFiles > p.TotalFiles || p.Elapsed < 0 {
				t.Errorf("Progress() = %+v", p)
			}
			select {
			case <-hd.Done():
				return
			default:
			}
		}
	}()
	if err := hd.Start(testContext(t)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	r := hd.Wait()
	<-polled

	expectOutcome(t, r, fop.OutcomeSuccess)
	if p := hd.Progress(); p.Elapsed <= 0 {
		t.Errorf("Elapsed = %v after the job, want > 0", p.Elapsed)
	}
}

func TestJobHandle_InteractiveDecision(t *testing.T) {
	setup := func(t *testing.T) (*harness, *fop.JobHandle, <-chan *fop.DecisionRequest) {
		t.Helper()
		h := newHarness(t)
		h.mem.AddFile("/src/a.txt", "new")
		h.mem.AddFile("/dst/a.txt", "old")
		hd, err := h.engine.Prepare(h.engine.NewJob(fop.JobCopy, urls(h.mem, "/src/a.txt"), h.mem.URL("/dst"), 0))
		if err != nil {
			t.Fatal(err)
		}
		reqs := hd.Decisions().Listen()
		if err := hd.Start(testContext(t)); err != nil {
			t.Fatal(err)
		}
		return h, hd, reqs
	}

	receive := func(t *testing.T, reqs <-chan *fop.DecisionRequest) *fop.DecisionRequest {
		t.Helper()
		select {
		case req := <-reqs:
			return req
		case <-time.After(5 * time.Second):
			t.Fatal("no decision request")
		}
		return nil
	}

	t.Run("reply resumes the job", func(t *testing.T) {
		h, hd, reqs := setup(t)
		req := receive(t, reqs)
		d := req.Descriptor
		if d.Kind != fop.ErrKindFileExists || d.From != h.mem.URL("/src/a.txt") || d.To != h.mem.URL("/dst/a.txt") {
			t.Errorf("descriptor = %+v", d)
		}
		if !d.AllowToAll || !d.Allows(fop.ActionRename) {
			t.Errorf("descriptor actions = %v, allow to all = %v", d.Actions, d.AllowToAll)
		}
		if hd.State() != fop.StatePaused {
			t.Errorf("State() while waiting = %s, want paused", hd.State())
		}
		req.Reply(fop.Decision{Action: fop.ActionOverwrite})

		expectOutcome(t, hd.Wait(), fop.OutcomeSuccess)
		expectContent(t, h.mem, "/dst/a.txt", "new")
	})

	t.Run("cancel interrupts a pending question", func(t *testing.T) {
		h, hd, reqs := setup(t)
		receive(t, reqs)
		hd.Cancel()

		r := hd.Wait()
		expectOutcome(t, r, fop.OutcomeCancelled)
		if r.State != fop.StateStopped || !errors.Is(r.Err, fop.ErrStopped) {
			t.Errorf("State = %s, Err = %v", r.State, r.Err)
		}
		expectContent(t, h.mem, "/dst/a.txt", "old")
	})
}

func TestJobHandle_PauseResume(t *testing.T) {
	t.Run("paused job waits until resumed", func(t *testing.T) {
		h := newHarness(t)
		h.mem.AddFile("/src/a.txt", "a")
		h.mem.AddDir("/dst")
		hd, err := h.engine.Prepare(h.engine.NewJob(fop.JobCopy, urls(h.mem, "/src/a.txt"), h.mem.URL("/dst"), 0))
		if err != nil {
			t.Fatal(err)
		}
		hd.Pause()
		if err := hd.Start(testContext(t)); err != nil {
			t.Fatal(err)
		}
		if !hd.Held() {
			t.Error("Held() = false after Pause()")
		}

		select {
		case <-hd.Done():
			t.Fatal("paused job finished")
		case <-time.After(50 * time.Millisecond):
		}
		if h.mem.Exists("/dst/a.txt") {
			t.Fatal("paused job copied a file")
		}

		hd.Resume()
		expectOutcome(t, hd.Wait(), fop.OutcomeSuccess)
		expectContent(t, h.mem, "/dst/a.txt", "a")
	})

	t.Run("cancel releases a paused job", func(t *testing.T) {
		h := newHarness(t)
		h.mem.AddFile("/src/a.txt", "a")
		h.mem.AddDir("/dst")
		hd, err := h.engine.Prepare(h.engine.NewJob(fop.JobCopy, urls(h.mem, "/src/a.txt"), h.mem.URL("/dst"), 0))
		if err != nil {
			t.Fatal(err)
		}
		hd.Pause()
		if err := hd.Start(testContext(t)); err != nil {
			t.Fatal(err)
		}
		hd.Cancel()

		r := hd.Wait()
		expectOutcome(t, r, fop.OutcomeCancelled)
		if h.mem.Exists("/dst/a.txt") {
			t.Error("cancelled job copied a file")
		}
	})
}

func TestEngine_NotifiesAndJournals(t *testing.T) {
	h := newHarness(t)
	h.mem.AddFile("/src/a.txt", "hello")
	h.mem.AddDir("/dst")

	r := h.run(t, fop.JobCopy, urls(h.mem, "/src/a.txt"), h.mem.URL("/dst"), 0, nil)
	expectOutcome(t, r, fop.OutcomeSuccess)

	results := h.notifier.Results()
	if len(results) != 1 || results[0] != r {
		t.Fatalf("Finished() calls = %d", len(results))
	}
	var sawTask bool
	for _, task := range h.notifier.Tasks() {
		if task.From == h.mem.URL("/src/a.txt") && task.To == h.mem.URL("/dst/a.txt") {
			sawTask = true
		}
	}
	if !sawTask {
		t.Errorf("CurrentTask() events = %v", h.notifier.Tasks())
	}
	events := h.notifier.ProgressEvents()
	if len(events) == 0 {
		t.Fatal("no progress events")
	}
	if last := events[len(events)-1]; last != r.Progress {
		t.Errorf("last progress = %+v, want %+v", last, r.Progress)
	}
	if r.Progress.Elapsed <= 0 {
		t.Errorf("Elapsed = %v, want > 0", r.Progress.Elapsed)
	}

	if h.journal.Started() != 1 || len(h.journal.Finished()) != 1 {
		t.Errorf("journal started = %d, finished = %d", h.journal.Started(), len(h.journal.Finished()))
	}
	copied := h.journal.Entries(fop.EntryCopied)
	if len(copied) != 1 || copied[0].Size != 5 || copied[0].Target != h.mem.URL("/dst/a.txt") {
		t.Errorf("copied entries = %+v", copied)
	}
	if len(h.journal.Parts()) != 1 {
		t.Errorf("parts = %v, want one", h.journal.Parts())
	}
	if pending := h.journal.Unresolved(); len(pending) != 0 {
		t.Errorf("unresolved parts = %v", pending)
	}
}

func TestEngine_TrashSize(t *testing.T) {
	t.Run("needs a trash", func(t *testing.T) {
		h := newHarness(t)
		if _, _, err := h.engine.TrashSize(context.Background()); err == nil {
			t.Error("TrashSize() expected error")
		}
	})
}
