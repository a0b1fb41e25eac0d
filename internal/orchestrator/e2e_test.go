package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/reprofactory/internal/analyze"
	"github.com/lucasnoah/reprofactory/internal/cache"
	"github.com/lucasnoah/reprofactory/internal/db"
	"github.com/lucasnoah/reprofactory/internal/environment"
	"github.com/lucasnoah/reprofactory/internal/executor"
	"github.com/lucasnoah/reprofactory/internal/retry"
	"github.com/lucasnoah/reprofactory/internal/session"
)

// materializingCloner stands in for git: it writes a small Python repo
// into the destination so the real analyzer has something to walk.
type materializingCloner struct {
	calls int
}

func (c *materializingCloner) Clone(ctx context.Context, repoURL, dest string) error {
	c.calls++
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	files := map[string]string{
		"main.py":          "print('attention is all you need')\n",
		"model.py":         "import numpy as np\n",
		"requirements.txt": "numpy>=1.21\n",
		"README.md":        "# tensor2tensor\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dest, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// echoProvisioner reports a ready venv without touching the host.
type echoProvisioner struct{}

func (echoProvisioner) Setup(ctx context.Context, repoPath string, res analyze.Result, preferred environment.Type) (environment.Info, error) {
	return environment.Info{Type: environment.TypeVenv, Success: true}, nil
}

// echoExecutor swaps the analyzed python command for a shell echo so
// the real process machinery runs without a python interpreter.
type echoExecutor struct {
	runner *executor.Runner
}

func (e echoExecutor) Run(ctx context.Context, env environment.Info, repoPath, command string, timeout time.Duration) (executor.Result, error) {
	return e.runner.Run(ctx, env, repoPath, "echo run ok", timeout)
}

// TestE2EReproduction drives the whole stack with a real cache, event
// log, session manager, analyzer, and process executor; only the
// network-facing adapters are faked.
func TestE2EReproduction(t *testing.T) {
	base := t.TempDir()

	store, err := cache.NewStore(filepath.Join(base, "cache"))
	require.NoError(t, err)
	sessions, err := session.NewManager(filepath.Join(base, "sessions"))
	require.NoError(t, err)

	eventLog, err := db.Open(":memory:")
	require.NoError(t, err)
	defer eventLog.Close()
	require.NoError(t, eventLog.Migrate())

	f := happyFakes()
	cloner := &materializingCloner{}
	var progress strings.Builder

	o := New(Adapters{
		Ingestor:    f.ingestor,
		Finder:      f.finder,
		Cloner:      cloner,
		Analyzer:    analyze.DirAnalyzer{},
		Provisioner: echoProvisioner{},
		Executor:    echoExecutor{runner: executor.NewRunner("")},
	}, Config{
		Sessions:         sessions,
		Cache:            store,
		Retry:            retry.DefaultPolicy().WithSleep(func(time.Duration) {}),
		DB:               eventLog,
		Progress:         &progress,
		Environment:      environment.TypeVenv,
		ExecutionTimeout: time.Minute,
	})

	report, err := o.Run(context.Background(), "1706.03762")
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Contains(t, report.Analysis.Languages, "Python")
	assert.Contains(t, report.Analysis.Dependencies["python"], "numpy")
	assert.False(t, report.Analysis.GPURequired)
	require.NotNil(t, report.Execution)
	assert.Equal(t, 0, report.Execution.ExitCode)
	assert.Contains(t, report.Execution.Stdout, "run ok")

	// The clone landed inside the session directory.
	list, err := sessions.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	sessionDir := sessions.Dir(list[0].ID)
	assert.True(t, strings.HasPrefix(report.RepoPath, sessionDir))
	assert.FileExists(t, filepath.Join(report.RepoPath, "main.py"))

	// Pipeline events were logged in order, ending with run_completed.
	events, err := eventLog.Events(list[0].ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, db.EventRunCompleted, events[len(events)-1].Event)
	assert.Equal(t, string(StageIngest), events[0].Stage)

	// Remote results were cached under every partition.
	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats[cache.PartitionPapers].Entries)
	assert.Equal(t, 1, stats[cache.PartitionRepositories].Entries)
	assert.Equal(t, 1, stats[cache.PartitionAnalysis].Entries)

	assert.NotEmpty(t, progress.String())

	// A second run of the same paper is served from the cache: the
	// remote fakes are not consulted again.
	report2, err := o.Run(context.Background(), "arXiv:1706.03762")
	require.NoError(t, err)
	assert.True(t, report2.Success)
	assert.Equal(t, 1, f.ingestor.calls)
	assert.Equal(t, 1, f.finder.calls)
	assert.Equal(t, 2, cloner.calls, "each session clones its own copy")
}

// TestE2EResumeAfterExecution replays a finished session and verifies
// nothing re-runs.
func TestE2EResumeAfterExecution(t *testing.T) {
	base := t.TempDir()

	sessions, err := session.NewManager(filepath.Join(base, "sessions"))
	require.NoError(t, err)

	f := happyFakes()
	o := New(f.adapters(), Config{
		Sessions:         sessions,
		Retry:            retry.DefaultPolicy().WithSleep(func(time.Duration) {}),
		Environment:      environment.TypeVenv,
		ExecutionTimeout: time.Minute,
	})

	first, err := o.Run(context.Background(), "1706.03762")
	require.NoError(t, err)
	require.True(t, first.Success)

	list, err := sessions.List()
	require.NoError(t, err)
	require.Len(t, list, 1)

	resumed, err := o.Resume(context.Background(), sessions.Dir(list[0].ID))
	require.NoError(t, err)

	assert.True(t, resumed.Success)
	assert.Equal(t, first.Paper.Title, resumed.Paper.Title)
	assert.Equal(t, 1, f.ingestor.calls, "resume must not re-ingest")
	assert.Equal(t, 1, f.finder.calls)
	assert.Equal(t, 1, f.cloner.calls)
	assert.Equal(t, 1, f.analyzer.calls)
	assert.Equal(t, 1, f.prov.calls)
	assert.Equal(t, 1, f.exec.calls, "resume must not re-execute")
}
