// Package executor runs a repository entry point inside a provisioned
// environment and captures everything the diagnoser needs. The timeout
// is a contract: on expiry the process is killed, never left running.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasnoah/reprofactory/internal/environment"
)

// Result captures one monitored execution.
type Result struct {
	Success       bool     `json:"success"`
	ExitCode      int      `json:"exit_code"`
	Stdout        string   `json:"stdout"`
	Stderr        string   `json:"stderr"`
	ExecutionTime float64  `json:"execution_time"`
	Errors        []string `json:"errors,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	TimedOut      bool     `json:"timed_out"`
	Command       string   `json:"command"`
}

// Executor runs a command in an environment.
type Executor interface {
	Run(ctx context.Context, env environment.Info, repoPath, command string, timeout time.Duration) (Result, error)
}

// killGrace is how long after the deadline the process gets to die
// before Wait gives up on its pipes.
const killGrace = 5 * time.Second

// Runner executes through the host shell. When workDir is set, every
// run also appends a plain-text log file there.
type Runner struct {
	workDir string
}

// NewRunner returns a Runner logging under workDir; empty disables
// logging.
func NewRunner(workDir string) *Runner {
	return &Runner{workDir: workDir}
}

// Run executes command in repoPath. A non-zero exit or a timeout is
// reported in the Result, not as an error; the error return is for
// cancellation and for failures to start the process at all.
func (r *Runner) Run(ctx context.Context, env environment.Info, repoPath, command string, timeout time.Duration) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	full := BuildCommand(env, repoPath, command)
	res := Result{Command: full}

	cmd := exec.CommandContext(runCtx, "sh", "-c", full)
	cmd.Dir = repoPath
	cmd.Env = commandEnv(env)
	cmd.WaitDelay = killGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res.ExecutionTime = time.Since(start).Seconds()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	switch {
	case err == nil:
		res.ExitCode = 0
		res.Success = true
	case runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		res.TimedOut = true
		res.ExitCode = -1
		res.Errors = append(res.Errors, fmt.Sprintf("execution timed out after %s", timeout))
	case ctx.Err() != nil:
		return Result{}, ctx.Err()
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.Errors = append(res.Errors, fmt.Sprintf("execution failed: %v", err))
		}
	}

	res.Errors = append(res.Errors, ExtractErrors(res.Stderr)...)
	res.Warnings = ExtractWarnings(res.Stderr)

	r.writeLog(res)
	return res, nil
}

// BuildCommand adapts the raw command to the environment: container
// runs wrap it in docker run with the repository mounted as the
// workspace, everything else runs it directly.
func BuildCommand(env environment.Info, repoPath, command string) string {
	if env.Type == environment.TypeContainer && env.Image != "" {
		return fmt.Sprintf("docker run --rm -v %s:/workspace -w /workspace %s %s", repoPath, env.Image, command)
	}
	return command
}

// commandEnv exposes a venv to the child the way activation would.
func commandEnv(env environment.Info) []string {
	vars := os.Environ()
	if env.Type == environment.TypeVenv && env.Path != "" {
		bin := filepath.Join(env.Path, "bin")
		vars = append(vars,
			"VIRTUAL_ENV="+env.Path,
			"PATH="+bin+string(os.PathListSeparator)+os.Getenv("PATH"),
		)
	}
	return vars
}

var errorMarkers = []string{
	"Error:",
	"ERROR:",
	"Exception:",
	"Traceback",
	"FAILED",
	"ImportError",
	"ModuleNotFoundError",
	"FileNotFoundError",
	"RuntimeError",
	"ValueError",
	"TypeError",
}

// ExtractErrors pulls error lines out of stderr, deduplicated in
// first-seen order.
func ExtractErrors(stderr string) []string {
	return extractLines(stderr, func(line string) bool {
		for _, marker := range errorMarkers {
			if strings.Contains(line, marker) {
				return true
			}
		}
		return false
	})
}

// ExtractWarnings pulls warning lines out of stderr.
func ExtractWarnings(stderr string) []string {
	return extractLines(stderr, func(line string) bool {
		return strings.Contains(line, "Warning:") || strings.Contains(line, "WARNING:")
	})
}

func extractLines(text string, match func(string) bool) []string {
	if text == "" {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || seen[line] || !match(line) {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}
	return out
}

func (r *Runner) writeLog(res Result) {
	if r.workDir == "" {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Command: %s\n", res.Command)
	fmt.Fprintf(&b, "Exit code: %d\n", res.ExitCode)
	fmt.Fprintf(&b, "Execution time: %.2fs\n", res.ExecutionTime)
	fmt.Fprintf(&b, "\n--- STDOUT ---\n%s\n", res.Stdout)
	fmt.Fprintf(&b, "\n--- STDERR ---\n%s\n", res.Stderr)

	name := fmt.Sprintf("execution_%d.log", time.Now().UnixNano())
	// Log writes are best effort; the Result already carries the output.
	_ = os.WriteFile(filepath.Join(r.workDir, name), []byte(b.String()), 0o644)
}

// GPUAvailable reports whether the host exposes an NVIDIA GPU. Used to
// enrich diagnosis context, never to gate execution.
func GPUAvailable() bool {
	_, err := exec.LookPath("nvidia-smi")
	return err == nil
}
