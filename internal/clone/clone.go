// Package clone checks out the selected candidate repository into a
// session directory.
package clone

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/lucasnoah/reprofactory/internal/retry"
)

// GitRunner provides git commands. Interface for testing.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecGit implements GitRunner using exec.CommandContext.
type ExecGit struct{}

func (ExecGit) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Cloner clones repositories for reproduction sessions.
type Cloner struct {
	git GitRunner
}

// NewCloner returns a Cloner executing through git.
func NewCloner(git GitRunner) *Cloner {
	return &Cloner{git: git}
}

// Clone performs a shallow clone of repoURL into dest. Reproduction
// only needs the tip of the default branch, never history. An existing
// clone at dest is reused so resumed sessions do not re-download.
func (c *Cloner) Clone(ctx context.Context, repoURL, dest string) error {
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		if _, err := os.Stat(dest + "/.git"); err == nil {
			return nil
		}
	}
	if _, err := c.git.Run(ctx, "", "clone", "--depth", "1", repoURL, dest); err != nil {
		wrapped := fmt.Errorf("clone %s: %w", repoURL, err)
		if isNetworkFailure(err.Error()) {
			return retry.Transient(wrapped)
		}
		return wrapped
	}
	return nil
}

// git output lines that indicate network trouble rather than a bad
// repository or bad credentials. Matched case-insensitively.
var transientGitFailures = []string{
	"could not resolve host",
	"connection timed out",
	"connection refused",
	"connection reset",
	"operation timed out",
	"failed to connect",
	"early eof",
	"the remote end hung up",
	"gnutls recv error",
	"service unavailable",
	"returned error: 500",
	"returned error: 502",
	"returned error: 503",
	"returned error: 504",
}

func isNetworkFailure(msg string) bool {
	msg = strings.ToLower(msg)
	for _, p := range transientGitFailures {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
