package app

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"fop-go/internal/config"
	"fop-go/internal/encryption"
	"fop-go/internal/fop"
	"fop-go/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.NewConfig(base)
	cfg.Journal = config.JournalConfig{Type: "memory"}
	cfg.Trash.Dir = filepath.Join(base, "Trash")
	cfg.Encryption.Type = "test"
	cfg.Engine.DefaultPolicy = "skip"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *FopApp {
	t.Helper()
	enc := encryption.NewTestEncryptor()
	a, err := NewFopApp(context.Background(), cfg, Options{
		Operation: "test",
		Unlock:    func() (encryption.DecryptionContext, error) { return enc.Unlock("") },
		Clock:     testutil.TickingClock(time.Second),
	})
	if err != nil {
		t.Fatalf("NewFopApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewFopApp_Wiring(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)

	for _, scheme := range []string{fop.SchemeFile, fop.SchemeTrash, "vault"} {
		u := fop.URL{Scheme: scheme, Path: "/"}
		if _, err := a.Registry().Backend(u); err != nil {
			t.Errorf("Backend(%s) error = %v", scheme, err)
		}
	}
	if _, err := a.Registry().Backend(fop.URL{Scheme: "s3", Host: "media", Path: "/"}); err == nil {
		t.Error("s3 registered without buckets")
	}
	if _, err := os.Stat(filepath.Join(cfg.LogDir, "fop.log")); err != nil {
		t.Errorf("log file not created: %v", err)
	}
}

func TestNewFopApp_BadConfig(t *testing.T) {
	t.Run("unknown policy", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Engine.DefaultPolicy = "maybe"
		if _, err := NewFopApp(context.Background(), cfg, Options{}); err == nil {
			t.Error("NewFopApp() expected error")
		}
	})

	t.Run("unknown journal", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Journal.Type = "postgres"
		if _, err := NewFopApp(context.Background(), cfg, Options{}); err == nil {
			t.Error("NewFopApp() expected error")
		}
	})
}

func TestFopApp_RunCopy(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)
	ctx := context.Background()

	src := t.TempDir()
	dst := t.TempDir()
	testutil.WriteTree(t, src, map[string]string{
		"docs/a.txt":     "alpha",
		"docs/sub/b.txt": "beta",
	})

	r, err := a.Run(ctx, JobRequest{
		Type:    fop.JobCopy,
		Sources: []string{filepath.Join(src, "docs")},
		Target:  dst,
	}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if r.Outcome != fop.OutcomeSuccess {
		t.Fatalf("Outcome = %v (%s)", r.Outcome, r.Reason)
	}
	got := testutil.ReadTree(t, filepath.Join(dst, "docs"))
	if got["a.txt"] != "alpha" || got["sub/b.txt"] != "beta" {
		t.Errorf("copied tree = %v", got)
	}

	jobs, err := a.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("len(History()) = %d, want 1", len(jobs))
	}
	if jobs[0].ID != r.JobID || jobs[0].Type != "copy" || jobs[0].Outcome != "success" {
		t.Errorf("History()[0] = %+v", jobs[0])
	}

	job, entries, err := a.Job(r.JobID)
	if err != nil {
		t.Fatalf("Job() error = %v", err)
	}
	if !job.Finished() {
		t.Error("job not finished in the journal")
	}
	if len(entries) == 0 {
		t.Error("no journal entries")
	}
	for _, e := range entries {
		if e.Status != string(fop.EntryCopied) {
			t.Errorf("entry %s status = %q", e.Source, e.Status)
		}
	}
}

func TestFopApp_RunChmod(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{"f.txt": "x"})

	r, err := a.Run(context.Background(), JobRequest{
		Type:    fop.JobChmod,
		Sources: []string{filepath.Join(dir, "f.txt")},
		Mode:    "600",
	}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if r.Outcome != fop.OutcomeSuccess {
		t.Fatalf("Outcome = %v (%s)", r.Outcome, r.Reason)
	}
	info, err := os.Stat(filepath.Join(dir, "f.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	if _, err := a.Run(context.Background(), JobRequest{Type: fop.JobChmod, Sources: []string{dir}, Mode: "x"}, nil); err == nil {
		t.Error("Run() with a bad mode expected error")
	}
}

func TestFopApp_TrashAndRestore(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)
	ctx := context.Background()

	dir := filepath.Join(cfg.BaseDir, "work")
	testutil.WriteTree(t, dir, map[string]string{"old.txt": "12345"})

	r, err := a.Run(ctx, JobRequest{Type: fop.JobTrash, Sources: []string{filepath.Join(dir, "old.txt")}}, nil)
	if err != nil {
		t.Fatalf("Run(trash) error = %v", err)
	}
	if r.Outcome != fop.OutcomeSuccess {
		t.Fatalf("trash Outcome = %v (%s)", r.Outcome, r.Reason)
	}

	items, err := a.TrashItems(ctx)
	if err != nil {
		t.Fatalf("TrashItems() error = %v", err)
	}
	if len(items) != 1 || items[0].OriginalURL != fop.LocalURL(filepath.Join(dir, "old.txt")) {
		t.Fatalf("TrashItems() = %+v", items)
	}
	size, n, err := a.TrashSize(ctx)
	if err != nil {
		t.Fatalf("TrashSize() error = %v", err)
	}
	if size != 5 || n != 1 {
		t.Errorf("TrashSize() = %d, %d, want 5, 1", size, n)
	}

	r, err = a.Run(ctx, JobRequest{Type: fop.JobRestore, Sources: []string{items[0].URL.String()}}, nil)
	if err != nil {
		t.Fatalf("Run(restore) error = %v", err)
	}
	if r.Outcome != fop.OutcomeSuccess {
		t.Fatalf("restore Outcome = %v (%s)", r.Outcome, r.Reason)
	}
	data, err := os.ReadFile(filepath.Join(dir, "old.txt"))
	if err != nil || string(data) != "12345" {
		t.Errorf("restored content = %q, %v", data, err)
	}
}

func TestFopApp_VaultRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)
	ctx := context.Background()

	src := t.TempDir()
	testutil.WriteTree(t, src, map[string]string{"secret.txt": "classified"})

	r, err := a.Run(ctx, JobRequest{Type: fop.JobCopy, Sources: []string{filepath.Join(src, "secret.txt")}, Target: "vault:///"}, nil)
	if err != nil {
		t.Fatalf("Run(copy to vault) error = %v", err)
	}
	if r.Outcome != fop.OutcomeSuccess {
		t.Fatalf("Outcome = %v (%s)", r.Outcome, r.Reason)
	}

	out := t.TempDir()
	r, err = a.Run(ctx, JobRequest{Type: fop.JobCopy, Sources: []string{"vault:///secret.txt"}, Target: out}, nil)
	if err != nil {
		t.Fatalf("Run(copy from vault) error = %v", err)
	}
	if r.Outcome != fop.OutcomeSuccess {
		t.Fatalf("Outcome = %v (%s)", r.Outcome, r.Reason)
	}
	data, err := os.ReadFile(filepath.Join(out, "secret.txt"))
	if err != nil || string(data) != "classified" {
		t.Errorf("content = %q, %v", data, err)
	}
}

func TestFopApp_List(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx := context.Background()
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{
		"a.txt":   "a",
		"b.log":   "b",
		".hidden": "h",
		"sub/":    "",
	})

	names := func(infos []*fop.FileInfo) []string {
		var out []string
		for _, fi := range infos {
			out = append(out, fi.Name())
		}
		sort.Strings(out)
		return out
	}

	infos, err := a.List(ctx, dir, ListOptions{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got := names(infos); len(got) != 3 || got[0] != "a.txt" || got[1] != "b.log" || got[2] != "sub" {
		t.Errorf("List() = %v", got)
	}

	infos, err = a.List(ctx, dir, ListOptions{All: true})
	if err != nil {
		t.Fatalf("List(All) error = %v", err)
	}
	if got := names(infos); len(got) != 4 {
		t.Errorf("List(All) = %v", got)
	}

	filter := filepath.Join(t.TempDir(), "filter")
	if err := os.WriteFile(filter, []byte("# text only\n*.txt\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	infos, err = a.List(ctx, dir, ListOptions{FilterFile: filter})
	if err != nil {
		t.Fatalf("List(filter) error = %v", err)
	}
	if got := names(infos); len(got) != 2 || got[0] != "a.txt" || got[1] != "sub" {
		t.Errorf("List(filter) = %v", got)
	}

	if _, err := a.List(ctx, filepath.Join(dir, "missing"), ListOptions{}); err == nil {
		t.Error("List(missing) expected error")
	}
}

func TestFopApp_Prune(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx := context.Background()
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{"f": "x"})

	if _, err := a.Run(ctx, JobRequest{Type: fop.JobChmod, Sources: []string{filepath.Join(dir, "f")}, Mode: "644"}, nil); err != nil {
		t.Fatal(err)
	}
	n, err := a.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Prune(24h) removed %d jobs, want 0", n)
	}
	n, err = a.Prune(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune(-1h) removed %d jobs, want 1", n)
	}
}

func TestInitVault(t *testing.T) {
	base := t.TempDir()
	cfg := config.NewConfig(base)

	if err := InitVault(cfg, "correct horse"); err != nil {
		t.Fatalf("InitVault() error = %v", err)
	}
	for _, p := range []string{cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath, filepath.Join(cfg.Vault.Root, "content")} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s missing: %v", p, err)
		}
	}
	if err := InitVault(cfg, "correct horse"); err == nil {
		t.Error("second InitVault() expected error")
	}

	cfg.Vault.Root = ""
	if err := InitVault(cfg, "x"); err == nil {
		t.Error("InitVault() without a root expected error")
	}
}
