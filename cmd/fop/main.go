package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fop-go/internal/app"
	"fop-go/internal/config"
	"fop-go/internal/console"
	"fop-go/internal/encryption"
	"fop-go/internal/fop"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a FopApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "copy", "history").
func newApp(cmd *cobra.Command, operation string, notifiers ...fop.Notifier) (*app.FopApp, error) {
	cfg, _, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if policy, _ := cmd.Flags().GetString("policy"); policy != "" {
		cfg.Engine.DefaultPolicy = policy
	}
	verbose, _ := cmd.Flags().GetBool("verbose")

	a, err := app.NewFopApp(cmd.Context(), cfg, app.Options{
		Operation: operation,
		Verbose:   verbose,
		Unlock:    unlocker(cfg),
		Notifiers: notifiers,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// unlocker prompts for the vault passphrase on first use.
func unlocker(cfg *config.Config) func() (encryption.DecryptionContext, error) {
	return func() (encryption.DecryptionContext, error) {
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return nil, err
		}
		passphrase, err := console.ReadPassphrase(os.Stdin, os.Stderr, "Vault passphrase: ")
		if err != nil {
			return nil, err
		}
		return enc.Unlock(passphrase)
	}
}

// runJob runs req with a progress bar and interactive decisions when
// attached to a terminal, and fails the command unless every entry made it.
func runJob(cmd *cobra.Command, req app.JobRequest) error {
	interactive := console.IsInteractive()
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		interactive = false
	}

	var notifiers []fop.Notifier
	if interactive {
		notifiers = append(notifiers, console.NewProgressBar(os.Stderr))
	}
	a, err := newApp(cmd, req.Type.String(), notifiers...)
	if err != nil {
		return err
	}
	defer a.Close()

	var dm fop.DecisionMaker
	if interactive {
		dm = console.NewDecider(os.Stdin, os.Stderr)
	}
	r, err := a.Run(cmd.Context(), req, dm)
	if err != nil {
		return err
	}
	if !interactive {
		fmt.Println(console.Summary(r))
	}
	for _, e := range r.Errors {
		fmt.Fprintf(os.Stderr, "%s: %s\n", e.Kind, e.Message)
	}
	if r.Outcome != fop.OutcomeSuccess {
		return fmt.Errorf("%s %s", r.Type, r.Outcome)
	}
	return nil
}

// splitTarget separates the trailing target from the sources.
func splitTarget(args []string) ([]string, string) {
	return args[:len(args)-1], args[len(args)-1]
}

func conflictFlags(cmd *cobra.Command) fop.Flags {
	var f fop.Flags
	if v, _ := cmd.Flags().GetBool("force"); v {
		f |= fop.FlagForce
	}
	if v, _ := cmd.Flags().GetBool("follow-links"); v {
		f |= fop.FlagFollowLinks
	}
	return f
}

var rootCmd = &cobra.Command{
	Use:          "fop",
	Short:        "File operations with progress, collision handling and a trash",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := app.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		if path == "" {
			fmt.Print("No configuration file, using defaults:\n\n")
		} else {
			fmt.Printf("Configuration from %s:\n\n", path)
		}
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg)
	},
}

// vault command
var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage the encrypted vault",
}

var vaultInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the vault key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := app.LoadConfig()
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		passphrase, err := console.ReadNewPassphrase(os.Stdin, os.Stderr)
		if err != nil {
			return err
		}
		if err := app.InitVault(cfg, passphrase); err != nil {
			return err
		}
		fmt.Printf("Vault initialized at %s\n", cfg.Vault.Root)
		return nil
	},
}

// job commands
var copyCmd = &cobra.Command{
	Use:     "cp SOURCE... TARGET_DIR",
	Aliases: []string{"copy"},
	Short:   "Copy files and directories",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, target := splitTarget(args)
		flags := conflictFlags(cmd)
		if v, _ := cmd.Flags().GetBool("count-size-only"); v {
			flags |= fop.FlagCountSizeOnly
		}
		return runJob(cmd, app.JobRequest{Type: fop.JobCopy, Sources: sources, Target: target, Flags: flags})
	},
}

var moveCmd = &cobra.Command{
	Use:     "mv SOURCE... TARGET_DIR",
	Aliases: []string{"move"},
	Short:   "Move files and directories",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, target := splitTarget(args)
		return runJob(cmd, app.JobRequest{Type: fop.JobMove, Sources: sources, Target: target, Flags: conflictFlags(cmd)})
	},
}

var deleteCmd = &cobra.Command{
	Use:     "rm PATH...",
	Aliases: []string{"delete"},
	Short:   "Delete files and directories, through the trash unless forced",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd, app.JobRequest{Type: fop.JobDelete, Sources: args, Flags: conflictFlags(cmd)})
	},
}

var linkCmd = &cobra.Command{
	Use:   "ln SOURCE... TARGET_DIR",
	Short: "Create links to files and directories",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, target := splitTarget(args)
		flags := conflictFlags(cmd)
		if v, _ := cmd.Flags().GetBool("hard"); v {
			flags |= fop.FlagHardLink
		}
		return runJob(cmd, app.JobRequest{Type: fop.JobLink, Sources: sources, Target: target, Flags: flags})
	},
}

var chmodCmd = &cobra.Command{
	Use:   "chmod MODE PATH...",
	Short: "Change permissions",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var flags fop.Flags
		if v, _ := cmd.Flags().GetBool("recursive"); v {
			flags |= fop.FlagRecursive
		}
		return runJob(cmd, app.JobRequest{Type: fop.JobChmod, Sources: args[1:], Mode: args[0], Flags: flags})
	},
}

// trash command
var trashCmd = &cobra.Command{
	Use:   "trash",
	Short: "Manage the trash",
}

var trashPutCmd = &cobra.Command{
	Use:   "put PATH...",
	Short: "Move entries to the trash",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd, app.JobRequest{Type: fop.JobTrash, Sources: args})
	},
}

var trashListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trashed entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "trash-list")
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.TrashItems(cmd.Context())
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("Trash is empty.")
			return nil
		}
		for _, it := range items {
			fmt.Printf("%s  %-30s  %s\n", it.DeletedAt.Format("2006-01-02 15:04:05"), it.Name, it.OriginalURL.Path)
		}
		return nil
	},
}

var trashSizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Show the size of the trash",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "trash-size")
		if err != nil {
			return err
		}
		defer a.Close()

		size, items, err := a.TrashSize(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%d item(s), %d bytes\n", items, size)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore ITEM...",
	Short: "Restore trashed entries to where they came from",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetString("to")

		sources := make([]string, len(args))
		for i, arg := range args {
			if strings.Contains(arg, "://") {
				sources[i] = arg
				continue
			}
			sources[i] = fop.URL{Scheme: fop.SchemeTrash, Path: "/" + arg}.String()
		}
		return runJob(cmd, app.JobRequest{Type: fop.JobRestore, Sources: sources, Target: to, Flags: conflictFlags(cmd)})
	},
}

// ls command
var listCmd = &cobra.Command{
	Use:   "ls [DIR]",
	Short: "List a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		filterFile, _ := cmd.Flags().GetString("filter-file")

		a, err := newApp(cmd, "ls")
		if err != nil {
			return err
		}
		defer a.Close()

		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		infos, err := a.List(cmd.Context(), dir, app.ListOptions{FilterFile: filterFile, All: all})
		for _, fi := range infos {
			st, serr := fi.Stat(cmd.Context())
			if serr != nil {
				fmt.Printf("?          %12s  %s\n", "-", fi.Name())
				continue
			}
			name := fi.Name()
			if st.Type() == fop.TypeDir {
				name += "/"
			}
			fmt.Printf("%s %12d  %s\n", st.Mode, st.Size, name)
		}
		return err
	},
}

// history commands
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View job history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "history")
		if err != nil {
			return err
		}
		defer a.Close()

		jobs, err := a.History(limit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs recorded.")
			return nil
		}

		for _, j := range jobs {
			duration := ""
			if j.FinishedAt != nil {
				duration = j.FinishedAt.Sub(j.StartedAt).Truncate(time.Millisecond).String()
			}
			status := j.Outcome
			if status == "" {
				status = j.State
			}
			fmt.Printf("%s  %-8s  %s  %-11s  %5d files  %s\n",
				j.ID,
				j.Type,
				j.StartedAt.Format("2006-01-02 15:04:05"),
				status,
				j.CompletedFiles,
				duration,
			)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show JOB_ID",
	Short: "Show what a job did",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "show")
		if err != nil {
			return err
		}
		defer a.Close()

		job, entries, err := a.Job(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Job %s (%s)\n", job.ID, job.Type)
		fmt.Printf("Sources: %s\n", strings.Join(job.Sources, " "))
		if job.Target != "" {
			fmt.Printf("Target:  %s\n", job.Target)
		}
		fmt.Printf("State:   %s %s %s\n\n", job.State, job.Outcome, job.Reason)
		for _, e := range entries {
			if e.Target != "" {
				fmt.Printf("%-9s %s -> %s\n", e.Status, e.Source, e.Target)
				continue
			}
			fmt.Printf("%-9s %s\n", e.Status, e.Source)
		}
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Forget finished jobs older than a given age",
	RunE: func(cmd *cobra.Command, args []string) error {
		age, _ := cmd.Flags().GetDuration("older-than")

		a, err := newApp(cmd, "prune")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Prune(cmd.Context(), age)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d job(s)\n", n)
		return nil
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Clean up after jobs interrupted by a crash",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "recover")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Recover(cmd.Context())
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		fmt.Printf("Recovered %d job(s)\n", n)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().String("policy", "", "Answer errors without asking: fail-fast, skip, overwrite or rename")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output to stderr")
	rootCmd.PersistentFlags().BoolP("yes", "y", false, "Never prompt; leave decisions to the policy")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// vault subcommands
	vaultCmd.AddCommand(vaultInitCmd)

	// trash subcommands
	trashCmd.AddCommand(trashPutCmd)
	trashCmd.AddCommand(trashListCmd)
	trashCmd.AddCommand(trashSizeCmd)

	for _, c := range []*cobra.Command{copyCmd, moveCmd, deleteCmd, linkCmd, restoreCmd} {
		c.Flags().BoolP("force", "f", false, "Overwrite collisions without asking; delete bypasses the trash")
	}
	for _, c := range []*cobra.Command{copyCmd, moveCmd, linkCmd} {
		c.Flags().BoolP("follow-links", "L", false, "Follow symbolic links in sources")
	}
	copyCmd.Flags().Bool("count-size-only", false, "Report progress from logical sizes only")
	linkCmd.Flags().Bool("hard", false, "Create hard links")
	chmodCmd.Flags().BoolP("recursive", "R", false, "Apply to whole trees")
	restoreCmd.Flags().String("to", "", "Restore into this directory instead of the original location")
	listCmd.Flags().BoolP("all", "a", false, "Include hidden entries")
	listCmd.Flags().String("filter-file", "", "File of name patterns, one per line")
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of jobs to show")
	pruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "Age of the jobs to forget")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(vaultCmd)
	rootCmd.AddCommand(copyCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(chmodCmd)
	rootCmd.AddCommand(trashCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(recoverCmd)
}
