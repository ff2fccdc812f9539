package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"fop-go/internal/backend/s3"
	"fop-go/internal/config"
	"fop-go/internal/encryption"
	"fop-go/internal/fop"
	localfs "fop-go/internal/fs"
	"fop-go/internal/journal"
	"fop-go/internal/metrics"
	"fop-go/internal/trash"
	"fop-go/internal/vault"
)

// Options tune how NewFopApp wires the application.
type Options struct {
	// Operation names the CLI command being run, for the log.
	Operation string
	Verbose   bool
	// Unlock is asked for the vault passphrase the first time sealed
	// content is read.
	Unlock vault.Unlocker
	// Notifiers receive job events next to the metrics.
	Notifiers []fop.Notifier
	Clock     fop.Clock
}

// FopApp is the application layer between the CLI and the engine.
// It constructs all backends from config, exposes high-level operations
// that accept raw paths, and owns the journal and log file until Close.
type FopApp struct {
	cfg      *config.Config
	cwd      string
	clock    fop.Clock
	registry *fop.Registry
	engine   *fop.Engine
	journal  *journal.SQLiteJournal
	trash    *trash.Trash
	metrics  *metrics.Metrics
	logger   *slog.Logger
	logFile  *os.File

	stopMetrics context.CancelFunc
	metricsDone chan error
}

// NewFopApp creates a fully wired FopApp from the given config. Jobs left
// unfinished by an earlier run are recovered before it returns.
// The caller must call Close when done.
func NewFopApp(ctx context.Context, cfg *config.Config, opts Options) (*FopApp, error) {
	clock := opts.Clock
	if clock == nil {
		clock = fop.RealClock{}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}

	runID := clock.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, runID, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &FopApp{cfg: cfg, cwd: cwd, clock: clock, logger: logger, logFile: logFile}
	if err := a.wire(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	logger.Debug("app started", "operation", opts.Operation)
	return a, nil
}

func (a *FopApp) wire(ctx context.Context, opts Options) error {
	cfg := a.cfg
	storage := localfs.NewStorage()
	a.registry = fop.NewRegistry(localfs.NewLocalBackend())

	trashDir := cfg.Trash.Dir
	if trashDir == "" {
		dir, err := trash.DefaultDir()
		if err != nil {
			return fmt.Errorf("locating trash: %w", err)
		}
		trashDir = dir
	}
	a.trash = trash.New(trashDir, a.clock)
	a.registry.Register(a.trash)

	v, err := vault.NewVaultFromConfig(cfg, opts.Unlock, storage)
	if err != nil {
		return fmt.Errorf("creating vault: %w", err)
	}
	if v != nil {
		a.registry.Register(v)
	}

	if len(cfg.S3) > 0 {
		b, err := s3.New(ctx, cfg.S3)
		if err != nil {
			return fmt.Errorf("creating s3 backend: %w", err)
		}
		a.registry.Register(b)
	}

	j, err := journal.NewJournalFromConfig(cfg.Journal)
	if err != nil {
		return fmt.Errorf("creating journal: %w", err)
	}
	a.journal = j
	if err := j.CheckMigrations(); err != nil {
		return fmt.Errorf("journal schema out of date: %w", err)
	}
	if n, err := journal.Recover(ctx, j, a.registry, a.clock, a.logger); err != nil {
		return fmt.Errorf("recovering unfinished jobs: %w", err)
	} else if n > 0 {
		a.logger.Info("recovered unfinished jobs", "count", n)
	}

	options, err := EngineOptions(cfg)
	if err != nil {
		return err
	}

	a.metrics = metrics.New()
	notifier := append(fop.MultiNotifier{a.metrics}, opts.Notifiers...)
	if cfg.Metrics.Listen != "" {
		a.serveMetrics(cfg.Metrics.Listen)
	}

	a.engine = fop.NewEngine(fop.Env{
		Registry: a.registry,
		Storage:  storage,
		Trash:    a.trash,
		Journal:  j,
		Notifier: notifier,
		Logger:   a.logger,
		Clock:    a.clock,
		Options:  options,
	})
	return nil
}

func (a *FopApp) serveMetrics(addr string) {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopMetrics = cancel
	a.metricsDone = make(chan error, 1)
	go func() {
		err := a.metrics.Serve(ctx, addr)
		if err != nil {
			a.logger.Error("metrics endpoint stopped", "addr", addr, "error", err)
		}
		a.metricsDone <- err
	}()
	a.logger.Info("serving metrics", "addr", addr)
}

// Registry returns the backends known to the app.
func (a *FopApp) Registry() *fop.Registry { return a.registry }

// Run resolves req and runs it to completion. dm answers errors the job
// raises; nil leaves them to the configured policy.
func (a *FopApp) Run(ctx context.Context, req JobRequest, dm fop.DecisionMaker) (*fop.JobResult, error) {
	sources, target, mode, err := req.resolve(a.cwd)
	if err != nil {
		return nil, err
	}
	job := a.engine.NewJob(req.Type, sources, target, req.Flags)
	job.Mode = mode
	a.logger.Info("running job", "job", job.ID, "type", job.Type, "sources", len(sources), "target", target.String(), "flags", job.Flags)

	r, err := a.engine.Run(ctx, job, dm)
	if err != nil {
		return nil, err
	}
	a.logger.Info("job finished", "job", r.JobID, "outcome", r.Outcome, "files", r.Progress.CompletedFiles, "bytes", r.Progress.CompletedBytes)
	return r, nil
}

// History returns the most recent jobs, newest first.
func (a *FopApp) History(limit int) ([]*journal.JobRecord, error) {
	return a.journal.ListJobs(limit)
}

// Job returns a journaled job and the entries it processed.
func (a *FopApp) Job(id string) (*journal.JobRecord, []journal.EntryRecord, error) {
	job, err := a.journal.FindJob(id)
	if err != nil {
		return nil, nil, err
	}
	entries, err := a.journal.Entries(id)
	if err != nil {
		return nil, nil, err
	}
	return job, entries, nil
}

// Prune drops journaled jobs that finished more than age ago.
func (a *FopApp) Prune(ctx context.Context, age time.Duration) (int64, error) {
	return a.journal.Prune(ctx, a.clock.Now().Add(-age))
}

// Recover closes jobs that never finished, removing their part files.
func (a *FopApp) Recover(ctx context.Context) (int, error) {
	return journal.Recover(ctx, a.journal, a.registry, a.clock, a.logger)
}

// TrashSize returns the total size and item count of the trash.
func (a *FopApp) TrashSize(ctx context.Context) (int64, int64, error) {
	return a.engine.TrashSize(ctx)
}

// TrashItems lists the trashed items with their original locations.
func (a *FopApp) TrashItems(ctx context.Context) ([]fop.TrashedItem, error) {
	return a.trash.Items(ctx)
}

// ListOptions select what List returns.
type ListOptions struct {
	// FilterFile holds name patterns, one per line.
	FilterFile string
	// All includes hidden entries.
	All bool
}

// List enumerates one directory.
func (a *FopApp) List(ctx context.Context, raw string, opts ListOptions) ([]*fop.FileInfo, error) {
	dir, err := ResolveURL(raw, a.cwd)
	if err != nil {
		return nil, err
	}
	b, err := a.registry.Backend(dir)
	if err != nil {
		return nil, err
	}

	enum := fop.EnumOptions{Filter: fop.FilterFiles | fop.FilterDirs}
	if opts.All {
		enum.Filter = fop.FilterAll
	}
	if opts.FilterFile != "" {
		patterns, err := localfs.ParseFilterFile(opts.FilterFile)
		if err != nil {
			return nil, err
		}
		enum.NameFilters = patterns
	}
	if network, err := fop.NewNetworkPolicy(a.cfg.Enumerator.NetworkPatterns, a.cfg.Enumerator.NetworkTimeout.Duration); err == nil {
		enum.Network = network
	}

	en, err := fop.NewEnumerator(ctx, b, dir, enum)
	if err != nil {
		return nil, err
	}
	defer en.Close()

	var out []*fop.FileInfo
	for en.HasNext() {
		en.Next()
		out = append(out, en.FileInfo())
	}
	if err := en.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// Close stops the metrics endpoint and closes the journal and log file.
func (a *FopApp) Close() error {
	var firstErr error

	if a.stopMetrics != nil {
		a.stopMetrics()
		if err := <-a.metricsDone; err != nil {
			firstErr = fmt.Errorf("metrics endpoint: %w", err)
		}
	}

	if a.journal != nil {
		if err := a.journal.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing journal: %w", err)
		}
	}

	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// InitVault creates the vault key pair, sealing the private key with
// passphrase. It refuses to replace existing keys.
func InitVault(cfg *config.Config, passphrase string) error {
	if cfg.Vault.Root == "" {
		return errors.New("no vault root configured")
	}
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return err
	}
	if enc.IsConfigured() {
		return errors.New("vault keys already exist")
	}
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("setting up vault keys: %w", err)
	}
	v, err := vault.New(cfg.Vault.Root, enc, nil, nil)
	if err != nil {
		return err
	}
	return v.ValidateSetup()
}
