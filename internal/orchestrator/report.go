package orchestrator

import (
	"time"

	"github.com/lucasnoah/reprofactory/internal/analyze"
	"github.com/lucasnoah/reprofactory/internal/diagnose"
	"github.com/lucasnoah/reprofactory/internal/discover"
	"github.com/lucasnoah/reprofactory/internal/environment"
	"github.com/lucasnoah/reprofactory/internal/executor"
	"github.com/lucasnoah/reprofactory/internal/ingest"
)

// ReportFileName is the report document inside each session directory.
const ReportFileName = "report.json"

// Report is the final outcome of one reproduction attempt, assembled at
// the REPORT stage from all prior stage outputs. Pointer fields are nil
// for stages that never ran.
type Report struct {
	SessionID       string               `json:"session_id,omitempty"`
	Paper           ingest.Metadata      `json:"paper"`
	Repositories    []discover.Candidate `json:"repositories"`
	Selected        *discover.Candidate  `json:"selected_repository,omitempty"`
	RepoPath        string               `json:"repo_path,omitempty"`
	Analysis        *analyze.Result      `json:"analysis,omitempty"`
	Environment     *environment.Info    `json:"environment,omitempty"`
	Execution       *executor.Result     `json:"execution,omitempty"`
	Errors          []diagnose.Diagnosis `json:"errors,omitempty"`
	Recommendations []string             `json:"recommendations,omitempty"`
	Success         bool                 `json:"success"`
	Timestamp       time.Time            `json:"timestamp"`
}

// configureOutput is the checkpointed result of the CONFIGURE stage:
// which candidate was chosen and where its clone lives.
type configureOutput struct {
	Selected discover.Candidate `json:"selected"`
	RepoPath string             `json:"repo_path"`
}
