// Package orchestrator drives the reproduction pipeline: a fixed stage
// sequence from paper ingestion to report assembly, with caching,
// retries around remote calls, and checkpoint/resume across process
// restarts. Stage failures after INGEST end the run early but always
// produce a report; only an unparseable source aborts outright.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasnoah/reprofactory/internal/analyze"
	"github.com/lucasnoah/reprofactory/internal/cache"
	"github.com/lucasnoah/reprofactory/internal/checkpoint"
	"github.com/lucasnoah/reprofactory/internal/db"
	"github.com/lucasnoah/reprofactory/internal/diagnose"
	"github.com/lucasnoah/reprofactory/internal/discover"
	"github.com/lucasnoah/reprofactory/internal/environment"
	"github.com/lucasnoah/reprofactory/internal/executor"
	"github.com/lucasnoah/reprofactory/internal/ingest"
	"github.com/lucasnoah/reprofactory/internal/retry"
	"github.com/lucasnoah/reprofactory/internal/session"
)

// Cloner materializes a repository candidate on local disk.
type Cloner interface {
	Clone(ctx context.Context, repoURL, dest string) error
}

// Provisioner builds an execution environment for an analyzed
// repository.
type Provisioner interface {
	Setup(ctx context.Context, repoPath string, res analyze.Result, preferred environment.Type) (environment.Info, error)
}

// Adapters are the collaborators the orchestrator sequences. All are
// required except Chooser, which defaults to taking the top-ranked
// candidate.
type Adapters struct {
	Ingestor    ingest.Ingestor
	Finder      discover.Finder
	Chooser     discover.Chooser
	Cloner      Cloner
	Analyzer    analyze.Analyzer
	Provisioner Provisioner
	Executor    executor.Executor
}

// Config is the orchestrator's explicit dependency surface. There is no
// ambient state: the cache, event log, and session manager are all
// injected here.
type Config struct {
	Sessions *session.Manager

	// Cache is consulted before remote stage calls; nil disables
	// caching entirely.
	Cache *cache.Store

	// Retry wraps the remote adapters (ingest, discovery, clone).
	// Local stages are never retried.
	Retry retry.Policy

	// DB receives per-session pipeline events; nil disables the log.
	DB *db.DB

	// Progress receives live progress lines; nil = silent.
	Progress io.Writer

	// Environment is the preferred provisioning strategy.
	Environment environment.Type

	// ExecutionTimeout bounds one run of the paper's code.
	ExecutionTimeout time.Duration

	// DiagnoseContext supplements diagnoses with host facts (GPU
	// presence, docker availability). May be nil.
	DiagnoseContext *diagnose.Context
}

// Orchestrator runs and resumes reproduction sessions.
type Orchestrator struct {
	ad  Adapters
	cfg Config
	now func() time.Time
}

// New creates an Orchestrator, filling in config defaults.
func New(ad Adapters, cfg Config) *Orchestrator {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 10 * time.Minute
	}
	if cfg.Environment == "" {
		cfg.Environment = environment.TypeAuto
	}
	return &Orchestrator{ad: ad, cfg: cfg, now: time.Now}
}

// SetClock overrides the report timestamp source, used by tests.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// Run executes the full pipeline for a paper source. An unrecognized
// source fails here, before any session directory exists; every other
// failure surfaces inside the returned report.
func (o *Orchestrator) Run(ctx context.Context, source string) (*Report, error) {
	source = strings.TrimSpace(source)
	if _, err := ingest.ClassifySource(source); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Ingestion happens before the session exists: the session
	// directory is named after the paper title.
	md, ingestErr := o.ingestPaper(ctx, source)

	dir, meta, err := o.cfg.Sessions.Create(source, md.Title)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	o.logf("session %s", meta.ID)

	r := o.newRun(dir, meta.ID, source, false)
	r.event(StageIngest, db.EventStageStarted, "")
	if ingestErr != nil {
		return r.fail(StageIngest, ingestErr)
	}
	r.report.Paper = md
	r.save(StageIngest, md)
	return r.runFrom(ctx, StageFindRepo)
}

// Resume continues an interrupted session from the stage after its last
// checkpoint. Checkpointed stages are reused, never re-executed.
func (o *Orchestrator) Resume(ctx context.Context, sessionDir string) (*Report, error) {
	meta, err := session.Load(sessionDir)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	r := o.newRun(sessionDir, meta.ID, meta.Source, true)
	last, err := r.ck.LastStage()
	if err != nil {
		return nil, err
	}
	o.logf("resuming session %s (last stage: %s)", meta.ID, last)
	r.event(Stage(last), db.EventResumed, "last_stage="+last)

	return r.runFrom(ctx, StageIngest)
}

// ingestPaper resolves paper metadata through the cache and the
// retry-wrapped Ingestor.
func (o *Orchestrator) ingestPaper(ctx context.Context, source string) (ingest.Metadata, error) {
	key := paperKey(source)
	var md ingest.Metadata
	if o.cacheGet(cache.PartitionPapers, key, &md) {
		o.logf("INGEST: cache hit for %s", key)
		return md, nil
	}

	md, err := retry.Do(ctx, o.cfg.Retry, func() (ingest.Metadata, error) {
		return o.ad.Ingestor.Ingest(ctx, source)
	})
	if err != nil {
		return ingest.Metadata{Source: source}, err
	}
	o.cacheSet(cache.PartitionPapers, key, md)
	return md, nil
}

func (o *Orchestrator) chooser() discover.Chooser {
	if o.ad.Chooser != nil {
		return o.ad.Chooser
	}
	return discover.TopRanked{}
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.cfg.Progress != nil {
		fmt.Fprintf(o.cfg.Progress, format+"\n", args...)
	}
}

// cacheGet is a best-effort read; errors degrade to a miss.
func (o *Orchestrator) cacheGet(p cache.Partition, key string, v interface{}) bool {
	if o.cfg.Cache == nil {
		return false
	}
	hit, err := o.cfg.Cache.Get(p, key, v)
	if err != nil {
		o.logf("cache read %s/%s: %v", p, key, err)
		return false
	}
	return hit
}

func (o *Orchestrator) cacheSet(p cache.Partition, key string, v interface{}) {
	if o.cfg.Cache == nil {
		return
	}
	if err := o.cfg.Cache.Set(p, key, v); err != nil {
		o.logf("cache write %s/%s: %v", p, key, err)
	}
}

// paperKey derives the cache key for a paper: the canonical arXiv ID
// when the source has one, else the normalized source text.
func paperKey(source string) string {
	if id, err := ingest.CanonicalArxivID(source); err == nil {
		return id
	}
	return strings.ToLower(strings.TrimSpace(source))
}

// run is the per-session pipeline state.
type run struct {
	o         *Orchestrator
	dir       string
	sessionID string
	source    string
	ck        *checkpoint.Store
	report    *Report
	resume    bool

	// terminal is set when FIND_REPO legitimately ends the run early:
	// zero candidates is an outcome, not a failure.
	terminal bool
}

func (o *Orchestrator) newRun(dir, sessionID, source string, resume bool) *run {
	return &run{
		o:         o,
		dir:       dir,
		sessionID: sessionID,
		source:    source,
		ck:        checkpoint.NewStore(dir),
		report:    &Report{SessionID: sessionID, Paper: ingest.Metadata{Source: source}},
		resume:    resume,
	}
}

// runFrom executes the pipeline from start onward. Cancellation is
// checked before every stage; mid-stage cancellation is the executor's
// concern.
func (r *run) runFrom(ctx context.Context, start Stage) (*Report, error) {
	for _, st := range Order[indexOf(start):] {
		if st == StageReport || r.terminal {
			break
		}
		if err := ctx.Err(); err != nil {
			return r.report, err
		}

		var err error
		switch st {
		case StageIngest:
			err = r.stageIngest(ctx)
		case StageFindRepo:
			err = r.stageFindRepo(ctx)
		case StageConfigure:
			err = r.stageConfigure(ctx)
		case StageAnalyze:
			err = r.stageAnalyze(ctx)
		case StageSetupEnv:
			err = r.stageSetupEnv(ctx)
		case StageExecute:
			err = r.stageExecute(ctx)
		case StageDiagnose:
			err = r.stageDiagnose()
		}
		if err != nil {
			return r.fail(st, err)
		}
	}
	return r.finish()
}

func (r *run) stageIngest(ctx context.Context) error {
	var md ingest.Metadata
	if r.skip(StageIngest, &md) {
		r.report.Paper = md
		return nil
	}
	r.event(StageIngest, db.EventStageStarted, "")
	md, err := r.o.ingestPaper(ctx, r.source)
	if err != nil {
		return err
	}
	r.report.Paper = md
	r.save(StageIngest, md)
	return nil
}

func (r *run) stageFindRepo(ctx context.Context) error {
	var repos []discover.Candidate
	if r.skip(StageFindRepo, &repos) {
		r.setRepositories(repos)
		return nil
	}
	r.event(StageFindRepo, db.EventStageStarted, "")

	key := paperKey(r.source)
	if r.o.cacheGet(cache.PartitionRepositories, key, &repos) {
		r.event(StageFindRepo, db.EventCacheHit, string(cache.PartitionRepositories)+"/"+key)
		r.o.logf("FIND_REPO: cache hit for %s", key)
	} else {
		var err error
		repos, err = retry.Do(ctx, r.o.cfg.Retry, func() ([]discover.Candidate, error) {
			return r.o.ad.Finder.FindRepositories(ctx, r.report.Paper)
		})
		if err != nil {
			return err
		}
		r.o.cacheSet(cache.PartitionRepositories, key, repos)
	}

	r.setRepositories(repos)
	r.save(StageFindRepo, repos)
	return nil
}

func (r *run) setRepositories(repos []discover.Candidate) {
	if repos == nil {
		repos = []discover.Candidate{}
	}
	r.report.Repositories = repos
	if len(repos) == 0 {
		r.terminal = true
		r.o.logf("FIND_REPO: no repositories found")
	} else {
		r.o.logf("FIND_REPO: %d candidate(s)", len(repos))
	}
}

func (r *run) stageConfigure(ctx context.Context) error {
	var out configureOutput
	if r.skip(StageConfigure, &out) {
		r.applyConfigure(out)
		return nil
	}
	r.event(StageConfigure, db.EventStageStarted, "")

	selected, err := r.o.chooser().Choose(r.report.Repositories)
	if err != nil {
		return err
	}
	r.o.logf("CONFIGURE: cloning %s", selected.URL)

	dest := filepath.Join(r.dir, "repo")
	err = r.o.cfg.Retry.Do(ctx, func() error {
		return r.o.ad.Cloner.Clone(ctx, selected.URL, dest)
	})
	if err != nil {
		return err
	}

	out = configureOutput{Selected: selected, RepoPath: dest}
	r.applyConfigure(out)
	r.save(StageConfigure, out)
	return nil
}

func (r *run) applyConfigure(out configureOutput) {
	sel := out.Selected
	r.report.Selected = &sel
	r.report.RepoPath = out.RepoPath
}

func (r *run) stageAnalyze(_ context.Context) error {
	var res analyze.Result
	if r.skip(StageAnalyze, &res) {
		r.report.Analysis = &res
		return nil
	}
	r.event(StageAnalyze, db.EventStageStarted, "")

	key := discover.CanonicalRepoURL(r.report.Selected.URL)
	if r.o.cacheGet(cache.PartitionAnalysis, key, &res) {
		r.event(StageAnalyze, db.EventCacheHit, string(cache.PartitionAnalysis)+"/"+key)
		// The cached result may come from another session's clone.
		res.RepoPath = r.report.RepoPath
	} else {
		var err error
		res, err = r.o.ad.Analyzer.Analyze(r.report.RepoPath)
		if err != nil {
			return err
		}
		r.o.cacheSet(cache.PartitionAnalysis, key, res)
	}

	r.report.Analysis = &res
	r.save(StageAnalyze, res)
	return nil
}

func (r *run) stageSetupEnv(ctx context.Context) error {
	var info environment.Info
	if r.skip(StageSetupEnv, &info) {
		r.report.Environment = &info
		return nil
	}
	r.event(StageSetupEnv, db.EventStageStarted, "")

	info, err := r.o.ad.Provisioner.Setup(ctx, r.report.RepoPath, *r.report.Analysis, r.o.cfg.Environment)
	if err != nil {
		return err
	}
	r.o.logf("SETUP_ENV: %s environment ready", info.Type)
	r.report.Environment = &info
	r.save(StageSetupEnv, info)
	return nil
}

func (r *run) stageExecute(ctx context.Context) error {
	var res executor.Result
	if r.skip(StageExecute, &res) {
		r.report.Execution = &res
		r.report.Success = res.Success
		return nil
	}
	r.event(StageExecute, db.EventStageStarted, "")

	eps := r.report.Analysis.EntryPoints
	if len(eps) == 0 {
		return errors.New("no entry point found in repository")
	}
	command := executor.BuildCommand(*r.report.Environment, r.report.RepoPath, eps[0].Command)
	r.o.logf("EXECUTE: %s", command)

	res, err := r.o.ad.Executor.Run(ctx, *r.report.Environment, r.report.RepoPath, command, r.o.cfg.ExecutionTimeout)
	if err != nil {
		return err
	}

	r.report.Execution = &res
	r.report.Success = res.Success
	r.save(StageExecute, res)
	return nil
}

func (r *run) stageDiagnose() error {
	var rep diagnose.Report
	if r.skip(StageDiagnose, &rep) {
		r.applyDiagnosis(rep)
		return nil
	}
	r.event(StageDiagnose, db.EventStageStarted, "")

	exec := r.report.Execution
	rep = diagnose.AnalyzeExecution(diagnose.ExecutionSummary{
		Success:  exec.Success,
		ExitCode: exec.ExitCode,
		Duration: time.Duration(exec.ExecutionTime * float64(time.Second)),
		Stderr:   exec.Stderr,
		Errors:   exec.Errors,
		Warnings: exec.Warnings,
	}, r.o.cfg.DiagnoseContext)

	r.applyDiagnosis(rep)
	r.save(StageDiagnose, rep)
	return nil
}

func (r *run) applyDiagnosis(rep diagnose.Report) {
	r.report.Errors = append(r.report.Errors, rep.Errors...)
	r.report.Recommendations = append(r.report.Recommendations, rep.Recommendations...)
}

// fail diagnoses a stage failure and finalizes the report early.
// Stage adapter errors never escape to the caller as errors.
func (r *run) fail(st Stage, err error) (*Report, error) {
	r.o.logf("%s failed: %v", st, err)
	r.event(st, db.EventStageFailed, err.Error())

	d := diagnose.Analyze(err.Error(), r.o.cfg.DiagnoseContext)
	r.report.Errors = append(r.report.Errors, d)
	r.report.Success = false
	return r.finish()
}

// finish timestamps, checkpoints, and writes the report document.
func (r *run) finish() (*Report, error) {
	if r.report.Repositories == nil {
		r.report.Repositories = []discover.Candidate{}
	}
	r.report.Timestamp = r.o.now().UTC()

	if err := r.ck.Save(string(StageReport), r.report); err != nil {
		r.o.logf("checkpoint report: %v", err)
	}
	if err := checkpoint.WriteJSON(filepath.Join(r.dir, ReportFileName), r.report); err != nil {
		return r.report, fmt.Errorf("write report: %w", err)
	}

	r.event(StageReport, db.EventRunCompleted, fmt.Sprintf("success=%t", r.report.Success))
	r.o.logf("REPORT: success=%t", r.report.Success)
	return r.report, nil
}

// skip reuses a checkpointed stage output during resume.
func (r *run) skip(st Stage, v interface{}) bool {
	if !r.resume {
		return false
	}
	ok, err := r.ck.Get(string(st), v)
	if err != nil || !ok {
		return false
	}
	r.event(st, db.EventCheckpointSkip, "")
	r.o.logf("%s: reusing checkpointed output", st)
	return true
}

// save checkpoints a completed stage output. Checkpoint failures are
// reported but do not end the run; they only cost resumability.
func (r *run) save(st Stage, out interface{}) {
	if err := r.ck.Save(string(st), out); err != nil {
		r.o.logf("checkpoint %s: %v", st, err)
	}
	r.event(st, db.EventStageCompleted, "")
}

func (r *run) event(st Stage, event, detail string) {
	if r.o.cfg.DB == nil {
		return
	}
	_ = r.o.cfg.DB.LogEvent(r.sessionID, string(st), event, detail)
}
