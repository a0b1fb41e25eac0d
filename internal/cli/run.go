package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/reprofactory/internal/analyze"
	"github.com/lucasnoah/reprofactory/internal/cache"
	"github.com/lucasnoah/reprofactory/internal/clone"
	"github.com/lucasnoah/reprofactory/internal/config"
	"github.com/lucasnoah/reprofactory/internal/db"
	"github.com/lucasnoah/reprofactory/internal/diagnose"
	"github.com/lucasnoah/reprofactory/internal/discover"
	"github.com/lucasnoah/reprofactory/internal/environment"
	"github.com/lucasnoah/reprofactory/internal/executor"
	"github.com/lucasnoah/reprofactory/internal/ingest"
	"github.com/lucasnoah/reprofactory/internal/orchestrator"
	"github.com/lucasnoah/reprofactory/internal/retry"
	"github.com/lucasnoah/reprofactory/internal/session"
)

var runCmd = &cobra.Command{
	Use:   "run <source>",
	Short: "Reproduce a paper from an arXiv ID, arXiv URL, PDF path, or web URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		applyRunFlags(cmd, cfg)

		o, cleanup, err := newPipeline(cmd, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		report, err := o.Run(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printReport(cmd, report)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume an interrupted reproduction session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		applyRunFlags(cmd, cfg)

		o, cleanup, err := newPipeline(cmd, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		// Accept either a session ID or a full session directory path.
		dir := args[0]
		if _, statErr := os.Stat(filepath.Join(dir, session.MetaFileName)); statErr != nil {
			dir = filepath.Join(cfg.SessionsDir(), args[0])
		}

		report, err := o.Resume(cmd.Context(), dir)
		if err != nil {
			return err
		}
		return printReport(cmd, report)
	},
}

// loadConfig loads the file named by --config, or searches the default
// locations, and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "config: %s\n", e)
		}
		return nil, fmt.Errorf("invalid configuration (%d error(s))", len(errs))
	}
	return cfg, nil
}

// applyRunFlags overlays command-line overrides onto the loaded config.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("env"); v != "" {
		cfg.Environment = v
	}
	if cmd.Flags().Changed("interactive") {
		v, _ := cmd.Flags().GetBool("interactive")
		cfg.Interactive = v
	}
	if v, _ := cmd.Flags().GetDuration("timeout"); v > 0 {
		cfg.ExecutionTimeout = v.String()
	}
	if v, _ := cmd.Flags().GetBool("no-cache"); v {
		off := false
		cfg.Cache.Enabled = &off
	}
	if v, _ := cmd.Flags().GetString("work-dir"); v != "" {
		cfg.WorkDir = v
	}
}

// sessionProvisioner roots each environment next to the repository it
// serves, so every session owns its own venv or conda env.
type sessionProvisioner struct {
	runner environment.CmdRunner
}

func (p sessionProvisioner) Setup(ctx context.Context, repoPath string, res analyze.Result, preferred environment.Type) (environment.Info, error) {
	return environment.NewProvisioner(filepath.Dir(repoPath), p.runner).Setup(ctx, repoPath, res, preferred)
}

// newPipeline assembles the orchestrator and its collaborators from the
// config. The returned cleanup closes the event log.
func newPipeline(cmd *cobra.Command, cfg *config.Config) (*orchestrator.Orchestrator, func(), error) {
	sessions, err := session.NewManager(cfg.SessionsDir())
	if err != nil {
		return nil, nil, err
	}

	var store *cache.Store
	if cfg.CacheEnabled() {
		store, err = cache.NewStore(cfg.Cache.Dir)
		if err != nil {
			return nil, nil, err
		}
	}

	dbPath := cfg.Database
	if dbPath == "" {
		dbPath, err = db.DefaultDBPath()
		if err != nil {
			return nil, nil, err
		}
	}
	eventLog, err := db.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	if err := eventLog.Migrate(); err != nil {
		eventLog.Close()
		return nil, nil, err
	}
	cleanup := func() { eventLog.Close() }

	envType, err := environment.ParseType(cfg.Environment)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var chooser discover.Chooser
	if cfg.Interactive {
		chooser = &interactiveChooser{in: cmd.InOrStdin(), out: cmd.OutOrStdout()}
	}

	adapters := orchestrator.Adapters{
		Ingestor:    ingest.NewClient(),
		Finder:      discover.NewGitHubFinder(discover.WithToken(cfg.GitHubToken)),
		Chooser:     chooser,
		Cloner:      clone.NewCloner(clone.ExecGit{}),
		Analyzer:    analyze.DirAnalyzer{},
		Provisioner: sessionProvisioner{runner: environment.ExecRunner{}},
		Executor:    executor.NewRunner(filepath.Join(cfg.WorkDir, "logs")),
	}

	o := orchestrator.New(adapters, orchestrator.Config{
		Sessions: sessions,
		Cache:    store,
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelayDuration(),
			MaxDelay:    60 * time.Second,
			Jitter:      true,
			JitterSeed:  "repro",
		},
		DB:               eventLog,
		Progress:         cmd.ErrOrStderr(),
		Environment:      envType,
		ExecutionTimeout: cfg.ExecutionTimeoutDuration(),
		DiagnoseContext: &diagnose.Context{
			GPUChecked:      true,
			GPUAvailable:    executor.GPUAvailable(),
			DockerAvailable: dockerAvailable(),
		},
	})
	return o, cleanup, nil
}

func dockerAvailable() bool {
	_, err := exec.LookPath("docker")
	return err == nil
}

// printReport renders the final report: JSON with --format json, a
// short human summary otherwise.
func printReport(cmd *cobra.Command, report *orchestrator.Report) error {
	w := cmd.OutOrStdout()

	if format, _ := cmd.Flags().GetString("format"); format == "json" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	fmt.Fprintf(w, "Paper:      %s\n", titleOrSource(report))
	if report.Selected != nil {
		fmt.Fprintf(w, "Repository: %s (%d stars)\n", report.Selected.URL, report.Selected.Stars)
	} else {
		fmt.Fprintf(w, "Repository: none found\n")
	}
	if report.Environment != nil {
		fmt.Fprintf(w, "Environment: %s\n", report.Environment.Type)
	}
	if report.Execution != nil {
		fmt.Fprintf(w, "Execution:  exit code %d (%.1fs)\n",
			report.Execution.ExitCode, report.Execution.ExecutionTime)
	}
	fmt.Fprintf(w, "Success:    %t\n", report.Success)

	for _, d := range report.Errors {
		fmt.Fprintf(w, "\n%s\n", diagnose.FormatDiagnosis(d))
	}
	for _, rec := range report.Recommendations {
		fmt.Fprintf(w, "  -> %s\n", rec)
	}
	return nil
}

func titleOrSource(report *orchestrator.Report) string {
	if report.Paper.Title != "" {
		return report.Paper.Title
	}
	return report.Paper.Source
}

func init() {
	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		c.Flags().String("env", "", "Preferred environment: auto, container, conda, or venv")
		c.Flags().Bool("interactive", false, "Prompt to pick between repository candidates")
		c.Flags().Duration("timeout", 0, "Execution timeout (e.g. 15m)")
		c.Flags().Bool("no-cache", false, "Skip the result cache for this run")
		c.Flags().String("work-dir", "", "Override the working directory")
		c.Flags().String("format", "text", "Output format: text or json")
	}
}
