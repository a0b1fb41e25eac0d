// Package environment provisions an isolated execution environment for
// a repository. Three strategies exist: a container built from the
// repository's own Dockerfile, a conda environment, and a plain Python
// virtual environment. The preferred strategy is tried first and the
// provisioner falls back down the chain when a strategy's tooling is
// not installed on the host.
package environment

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/lucasnoah/reprofactory/internal/analyze"
)

// Type names one provisioning strategy. The set is closed: every
// switch over Type handles all three concrete strategies.
type Type string

const (
	TypeAuto      Type = "auto"
	TypeContainer Type = "container"
	TypeConda     Type = "conda"
	TypeVenv      Type = "venv"
)

// ParseType validates a configured environment type string.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypeAuto, "":
		return TypeAuto, nil
	case TypeContainer:
		return TypeContainer, nil
	case TypeConda:
		return TypeConda, nil
	case TypeVenv:
		return TypeVenv, nil
	}
	return "", fmt.Errorf("unknown environment type %q (want auto, container, conda, or venv)", s)
}

// Info describes a provisioned environment.
type Info struct {
	Type              Type     `json:"type"`
	Success           bool     `json:"success"`
	Path              string   `json:"path,omitempty"`
	Image             string   `json:"image,omitempty"`
	ActivationCommand string   `json:"activation_command,omitempty"`
	PythonPath        string   `json:"python_path,omitempty"`
	Errors            []string `json:"errors,omitempty"`
}

// EnvironmentError reports that no strategy in the fallback chain
// could produce a working environment.
type EnvironmentError struct {
	Tried []Type
	Err   error
}

func (e *EnvironmentError) Error() string {
	names := make([]string, len(e.Tried))
	for i, t := range e.Tried {
		names[i] = string(t)
	}
	return fmt.Sprintf("environment setup failed (tried %s): %v", strings.Join(names, ", "), e.Err)
}

func (e *EnvironmentError) Unwrap() error { return e.Err }

// CmdRunner executes host commands. Interface for testing.
type CmdRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (string, error)
}

// ExecRunner runs commands via exec.CommandContext.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("%s %s: %s: %w", name, strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Provisioner sets up execution environments under a working
// directory.
type Provisioner struct {
	workDir string
	runner  CmdRunner
}

// NewProvisioner returns a provisioner that keeps environments under
// workDir and executes through runner.
func NewProvisioner(workDir string, runner CmdRunner) *Provisioner {
	return &Provisioner{workDir: workDir, runner: runner}
}

// Setup provisions an environment for the analyzed repository. The
// preferred type is tried first; a strategy whose tooling is missing
// falls through to the next one. Only when the whole chain is
// exhausted does Setup fail.
func (p *Provisioner) Setup(ctx context.Context, repoPath string, res analyze.Result, preferred Type) (Info, error) {
	chain := p.chainFor(preferred, res)

	var lastErr error
	var tried []Type
	for _, t := range chain {
		if err := ctx.Err(); err != nil {
			return Info{}, err
		}
		if !p.available(ctx, t) {
			continue
		}
		tried = append(tried, t)

		var info Info
		var err error
		switch t {
		case TypeContainer:
			info, err = p.setupContainer(ctx, repoPath, res)
		case TypeConda:
			info, err = p.setupConda(ctx, repoPath, res)
		case TypeVenv:
			info, err = p.setupVenv(ctx, repoPath, res)
		}
		if err == nil {
			info.Success = true
			return info, nil
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no provisioning tool available on this host")
		tried = chain
	}
	return Info{}, &EnvironmentError{Tried: tried, Err: lastErr}
}

// chainFor builds the fallback order. An explicit preference heads the
// chain; auto prefers a container only when the repository ships its
// own container files.
func (p *Provisioner) chainFor(preferred Type, res analyze.Result) []Type {
	switch preferred {
	case TypeContainer:
		return []Type{TypeContainer, TypeConda, TypeVenv}
	case TypeConda:
		return []Type{TypeConda, TypeVenv}
	case TypeVenv:
		return []Type{TypeVenv}
	}
	if res.DockerSupport {
		return []Type{TypeContainer, TypeConda, TypeVenv}
	}
	if condaFile(res) != "" {
		return []Type{TypeConda, TypeVenv}
	}
	return []Type{TypeVenv}
}

// available probes for the strategy's tool.
func (p *Provisioner) available(ctx context.Context, t Type) bool {
	var name string
	switch t {
	case TypeContainer:
		name = "docker"
	case TypeConda:
		name = "conda"
	case TypeVenv:
		name = "python3"
	}
	_, err := p.runner.Run(ctx, "", name, "--version")
	return err == nil
}

func (p *Provisioner) setupContainer(ctx context.Context, repoPath string, res analyze.Result) (Info, error) {
	dockerfile := ""
	for _, f := range res.ContainerFiles {
		if strings.Contains(filepath.Base(f), "Dockerfile") {
			dockerfile = f
			break
		}
	}
	if dockerfile == "" {
		return Info{}, fmt.Errorf("no Dockerfile in repository")
	}

	image := "repro/" + strings.ToLower(filepath.Base(repoPath))
	_, err := p.runner.Run(ctx, repoPath, "docker", "build", "-f", dockerfile, "-t", image, ".")
	if err != nil {
		return Info{}, fmt.Errorf("docker build: %w", err)
	}
	return Info{Type: TypeContainer, Image: image}, nil
}

const condaEnvName = "repro_env"

func (p *Provisioner) setupConda(ctx context.Context, repoPath string, res analyze.Result) (Info, error) {
	info := Info{
		Type:              TypeConda,
		Path:              condaEnvName,
		ActivationCommand: "conda activate " + condaEnvName,
	}

	if envFile := condaFile(res); envFile != "" {
		_, err := p.runner.Run(ctx, repoPath, "conda", "env", "create", "-f", envFile, "-n", condaEnvName)
		if err != nil {
			return Info{}, fmt.Errorf("conda env create: %w", err)
		}
		return info, nil
	}

	_, err := p.runner.Run(ctx, repoPath, "conda", "create", "-n", condaEnvName, "python=3.10", "-y")
	if err != nil {
		return Info{}, fmt.Errorf("conda create: %w", err)
	}
	for _, req := range requirementsFiles(res) {
		if _, err := p.runner.Run(ctx, repoPath, "conda", "run", "-n", condaEnvName, "pip", "install", "-r", req); err != nil {
			info.Errors = append(info.Errors, fmt.Sprintf("install %s: %v", req, err))
		}
	}
	return info, nil
}

func (p *Provisioner) setupVenv(ctx context.Context, repoPath string, res analyze.Result) (Info, error) {
	envPath := filepath.Join(p.workDir, "venv")
	if _, err := p.runner.Run(ctx, "", "python3", "-m", "venv", envPath); err != nil {
		return Info{}, fmt.Errorf("create venv: %w", err)
	}

	pip := filepath.Join(envPath, "bin", "pip")
	info := Info{
		Type:              TypeVenv,
		Path:              envPath,
		ActivationCommand: "source " + filepath.Join(envPath, "bin", "activate"),
		PythonPath:        filepath.Join(envPath, "bin", "python"),
	}

	if _, err := p.runner.Run(ctx, "", pip, "install", "--upgrade", "pip"); err != nil {
		info.Errors = append(info.Errors, fmt.Sprintf("upgrade pip: %v", err))
	}

	// Dependency install failures are recorded, not fatal: a partially
	// provisioned environment still lets execution surface the real
	// missing pieces for diagnosis.
	for _, req := range requirementsFiles(res) {
		if _, err := p.runner.Run(ctx, repoPath, pip, "install", "-r", req); err != nil {
			info.Errors = append(info.Errors, fmt.Sprintf("install %s: %v", req, err))
		}
	}
	if hasDependencyFile(res, "setup.py") {
		if _, err := p.runner.Run(ctx, repoPath, pip, "install", "-e", "."); err != nil {
			info.Errors = append(info.Errors, fmt.Sprintf("install setup.py: %v", err))
		}
	}
	return info, nil
}

func condaFile(res analyze.Result) string {
	for _, f := range res.DependencyFiles {
		base := filepath.Base(f)
		if strings.HasPrefix(base, "environment") && (strings.HasSuffix(base, ".yml") || strings.HasSuffix(base, ".yaml")) {
			return f
		}
	}
	return ""
}

func requirementsFiles(res analyze.Result) []string {
	var files []string
	for _, f := range res.DependencyFiles {
		base := filepath.Base(f)
		if strings.HasPrefix(base, "requirements") && strings.HasSuffix(base, ".txt") {
			files = append(files, f)
		}
	}
	return files
}

func hasDependencyFile(res analyze.Result, name string) bool {
	for _, f := range res.DependencyFiles {
		if f == name {
			return true
		}
	}
	return false
}
