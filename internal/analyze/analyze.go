// Package analyze inspects a cloned repository and extracts the facts
// the provisioner and executor need: languages, dependency manifests,
// entry points, GPU requirements, and a rough complexity estimate.
// Everything here is filesystem-only; no network, no subprocesses.
package analyze

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// AnalysisError reports a repository that cannot be analyzed: missing,
// unreadable, or empty.
type AnalysisError struct {
	RepoPath string
	Reason   string
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analyze %s: %s", e.RepoPath, e.Reason)
}

// EntryPoint is one way to run the repository.
type EntryPoint struct {
	File    string `json:"file,omitempty"`
	Script  string `json:"script,omitempty"`
	Type    string `json:"type"`
	Command string `json:"command"`
}

// Result is the full analysis of one repository.
type Result struct {
	RepoPath         string              `json:"repo_path"`
	Languages        []string            `json:"languages"`
	Dependencies     map[string][]string `json:"dependencies"`
	DependencyFiles  []string            `json:"dependency_files,omitempty"`
	EntryPoints      []EntryPoint        `json:"entry_points"`
	ConfigFiles      []string            `json:"config_files,omitempty"`
	Readme           string              `json:"readme,omitempty"`
	DockerSupport    bool                `json:"docker_support"`
	ContainerFiles   []string            `json:"container_files,omitempty"`
	DataRequirements []string            `json:"data_requirements,omitempty"`
	GPURequired      bool                `json:"gpu_required"`
	Complexity       string              `json:"estimated_complexity"`
}

// Analyzer produces repository facts for the pipeline.
type Analyzer interface {
	Analyze(repoPath string) (Result, error)
}

// DirAnalyzer analyzes a repository rooted at a local directory.
type DirAnalyzer struct{}

var extLanguages = map[string]string{
	".py":   "Python",
	".js":   "JavaScript",
	".jsx":  "JavaScript",
	".ts":   "TypeScript",
	".tsx":  "TypeScript",
	".java": "Java",
	".cpp":  "C++",
	".c":    "C",
	".go":   "Go",
	".rs":   "Rust",
	".r":    "R",
	".jl":   "Julia",
	".sh":   "Shell",
}

var gpuKeywords = []string{
	"torch.cuda",
	"tensorflow.gpu",
	"cupy",
	"jax.gpu",
	`device="cuda"`,
	"device='cuda'",
	"device=cuda",
}

// Analyze walks the repository once for language detection, then
// resolves manifest and entry-point patterns with doublestar globs.
func (DirAnalyzer) Analyze(repoPath string) (Result, error) {
	info, err := os.Stat(repoPath)
	if err != nil {
		return Result{}, &AnalysisError{RepoPath: repoPath, Reason: "repository path does not exist"}
	}
	if !info.IsDir() {
		return Result{}, &AnalysisError{RepoPath: repoPath, Reason: "not a directory"}
	}

	fsys := os.DirFS(repoPath)

	res := Result{
		RepoPath:     repoPath,
		Dependencies: map[string][]string{},
	}
	res.Languages, err = detectLanguages(fsys)
	if err != nil {
		return Result{}, &AnalysisError{RepoPath: repoPath, Reason: err.Error()}
	}
	if len(res.Languages) == 0 {
		return Result{}, &AnalysisError{RepoPath: repoPath, Reason: "no source files found"}
	}

	if contains(res.Languages, "Python") {
		files, pkgs := pythonDeps(fsys)
		res.DependencyFiles = append(res.DependencyFiles, files...)
		if len(pkgs) > 0 {
			res.Dependencies["python"] = pkgs
		}
		res.EntryPoints = append(res.EntryPoints, pythonEntryPoints(fsys)...)
		res.GPURequired = gpuRequired(fsys)
	}
	if contains(res.Languages, "JavaScript") || contains(res.Languages, "TypeScript") {
		if pkgs, eps, found := nodeDeps(fsys); found {
			res.DependencyFiles = append(res.DependencyFiles, "package.json")
			if len(pkgs) > 0 {
				res.Dependencies["node"] = pkgs
			}
			res.EntryPoints = append(res.EntryPoints, eps...)
		}
	}
	if contains(res.Languages, "Go") {
		if _, err := fs.Stat(fsys, "go.mod"); err == nil {
			res.DependencyFiles = append(res.DependencyFiles, "go.mod")
		}
	}

	res.ContainerFiles = glob(fsys, "**/Dockerfile*", "**/docker-compose*.yml", "**/docker-compose*.yaml")
	res.DockerSupport = len(res.ContainerFiles) > 0

	res.ConfigFiles = glob(fsys,
		"**/config.{yaml,yml,json}",
		"**/settings.{yaml,yml,json}",
		"**/.env.{example,sample}",
	)
	res.Readme = findReadme(fsys)
	res.DataRequirements = dataRequirements(fsys)
	res.Complexity = estimateComplexity(res)
	return res, nil
}

func detectLanguages(fsys fs.FS) ([]string, error) {
	seen := map[string]bool{}
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return fs.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".r" {
			seen["R"] = true
			return nil
		}
		if lang, ok := extLanguages[ext]; ok {
			seen[lang] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	langs := make([]string, 0, len(seen))
	for lang := range seen {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs, nil
}

// glob resolves each doublestar pattern and returns the merged, sorted
// match list.
func glob(fsys fs.FS, patterns ...string) []string {
	seen := map[string]bool{}
	var matches []string
	for _, pattern := range patterns {
		found, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			continue
		}
		for _, m := range found {
			if !seen[m] && !strings.HasPrefix(m, ".git/") {
				seen[m] = true
				matches = append(matches, m)
			}
		}
	}
	sort.Strings(matches)
	return matches
}

var requirementLineRe = regexp.MustCompile(`^([A-Za-z0-9_.\-]+)`)

// pythonDeps gathers packages from requirements files and conda
// environment manifests.
func pythonDeps(fsys fs.FS) (files []string, packages []string) {
	pkgSet := map[string]bool{}

	for _, reqFile := range glob(fsys, "**/requirements*.txt") {
		files = append(files, reqFile)
		data, err := fs.ReadFile(fsys, reqFile)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
				continue
			}
			if m := requirementLineRe.FindStringSubmatch(line); m != nil {
				pkgSet[m[1]] = true
			}
		}
	}

	for _, name := range []string{"setup.py", "pyproject.toml"} {
		if _, err := fs.Stat(fsys, name); err == nil {
			files = append(files, name)
		}
	}

	for _, envFile := range glob(fsys, "**/environment*.yml", "**/environment*.yaml") {
		files = append(files, envFile)
		data, err := fs.ReadFile(fsys, envFile)
		if err != nil {
			continue
		}
		var env struct {
			Dependencies []any `yaml:"dependencies"`
		}
		if err := yaml.Unmarshal(data, &env); err != nil {
			continue
		}
		for _, dep := range env.Dependencies {
			switch d := dep.(type) {
			case string:
				if m := requirementLineRe.FindStringSubmatch(d); m != nil {
					pkgSet[m[1]] = true
				}
			case map[string]any:
				pips, _ := d["pip"].([]any)
				for _, p := range pips {
					if s, ok := p.(string); ok {
						if m := requirementLineRe.FindStringSubmatch(s); m != nil {
							pkgSet[m[1]] = true
						}
					}
				}
			}
		}
	}

	for pkg := range pkgSet {
		packages = append(packages, pkg)
	}
	sort.Strings(packages)
	return files, packages
}

var pythonEntryCandidates = []string{
	"main.py", "run.py", "train.py", "test.py",
	"demo.py", "example.py", "inference.py", "predict.py",
}

func pythonEntryPoints(fsys fs.FS) []EntryPoint {
	var eps []EntryPoint
	for _, candidate := range pythonEntryCandidates {
		for _, file := range glob(fsys, "**/"+candidate) {
			eps = append(eps, EntryPoint{
				File:    file,
				Type:    "python_script",
				Command: "python " + file,
			})
		}
	}
	for _, file := range glob(fsys, "**/__main__.py") {
		pkg := filepath.Base(filepath.Dir(file))
		eps = append(eps, EntryPoint{
			File:    file,
			Type:    "python_package",
			Command: "python -m " + pkg,
		})
	}
	return eps
}

func nodeDeps(fsys fs.FS) (packages []string, eps []EntryPoint, found bool) {
	data, err := fs.ReadFile(fsys, "package.json")
	if err != nil {
		return nil, nil, false
	}
	var pkg struct {
		Main            string            `json:"main"`
		Scripts         map[string]string `json:"scripts"`
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, nil, true
	}

	seen := map[string]bool{}
	for name := range pkg.Dependencies {
		seen[name] = true
	}
	for name := range pkg.DevDependencies {
		seen[name] = true
	}
	for name := range seen {
		packages = append(packages, name)
	}
	sort.Strings(packages)

	if pkg.Main != "" {
		eps = append(eps, EntryPoint{File: pkg.Main, Type: "node_main", Command: "node " + pkg.Main})
	}
	scripts := make([]string, 0, len(pkg.Scripts))
	for name := range pkg.Scripts {
		scripts = append(scripts, name)
	}
	sort.Strings(scripts)
	for _, name := range scripts {
		eps = append(eps, EntryPoint{Script: name, Type: "npm_script", Command: "npm run " + name})
	}
	return packages, eps, true
}

func findReadme(fsys fs.FS) string {
	for _, name := range []string{"README.md", "README", "README.txt", "readme.md", "Readme.md"} {
		if _, err := fs.Stat(fsys, name); err == nil {
			return name
		}
	}
	return ""
}

func dataRequirements(fsys fs.FS) []string {
	var reqs []string
	for _, dir := range []string{"data", "dataset", "datasets", "inputs"} {
		if info, err := fs.Stat(fsys, dir); err == nil && info.IsDir() {
			reqs = append(reqs, fmt.Sprintf("found %q directory", dir))
		}
	}
	if scripts := glob(fsys, "**/download*.py", "**/download*.sh"); len(scripts) > 0 {
		reqs = append(reqs, "found data download scripts: "+strings.Join(scripts, ", "))
	}
	return reqs
}

const gpuScanLimit = 20

// gpuRequired scans a bounded number of Python files for GPU framework
// usage. Bounded because large repos would otherwise dominate analysis
// time for a heuristic answer.
func gpuRequired(fsys fs.FS) bool {
	files, err := doublestar.Glob(fsys, "**/*.py")
	if err != nil {
		return false
	}
	if len(files) > gpuScanLimit {
		files = files[:gpuScanLimit]
	}
	for _, file := range files {
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			continue
		}
		content := string(data)
		for _, kw := range gpuKeywords {
			if strings.Contains(content, kw) {
				return true
			}
		}
	}
	return false
}

// estimateComplexity scores reproduction difficulty: dependency count
// and GPU/data needs raise it, Docker support and clear entry points
// lower it.
func estimateComplexity(res Result) string {
	score := 0

	total := 0
	for _, pkgs := range res.Dependencies {
		total += len(pkgs)
	}
	switch {
	case total > 50:
		score += 3
	case total > 20:
		score += 2
	case total > 10:
		score += 1
	}

	if res.GPURequired {
		score += 2
	}
	if len(res.DataRequirements) > 0 {
		score += 2
	}
	if res.DockerSupport {
		score -= 2
	}
	if len(res.EntryPoints) > 0 {
		score--
	}

	switch {
	case score <= 0:
		return "low"
	case score <= 3:
		return "medium"
	default:
		return "high"
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
