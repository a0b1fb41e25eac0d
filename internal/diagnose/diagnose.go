// Package diagnose classifies execution failures into actionable
// categories. Classification runs over an ordered pattern table; the
// first matching pattern wins and its capture group, when present,
// names the root cause.
package diagnose

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Category buckets a failure by what kind of intervention fixes it.
type Category string

const (
	CategoryDependency Category = "dependency"
	CategoryGPU        Category = "gpu"
	CategoryData       Category = "data"
	CategoryNetwork    Category = "network"
	CategoryRuntime    Category = "runtime"
	CategoryPermission Category = "permission"
	CategoryUnknown    Category = "unknown"
)

// Diagnosis is the result of classifying one error message.
type Diagnosis struct {
	ErrorType      string   `json:"error_type"`
	Category       Category `json:"category"`
	Description    string   `json:"description"`
	RootCause      string   `json:"root_cause,omitempty"`
	SuggestedFixes []string `json:"suggested_fixes"`
	Matched        bool     `json:"matched_pattern"`
}

// Context carries environment facts that refine the suggested fixes.
// The zero value adds nothing.
type Context struct {
	GPUChecked      bool // GPUAvailable is meaningful only when set
	GPUAvailable    bool
	PythonVersion   string
	DockerAvailable bool
}

type pattern struct {
	name     string
	re       *regexp.Regexp
	category Category
	fixes    []string
}

// The table is ordered: specific Python exception shapes first, broad
// keyword sweeps (version/compatibility) last. First match wins.
var patterns = []pattern{
	{
		name:     "ModuleNotFoundError",
		re:       regexp.MustCompile(`(?im)ModuleNotFoundError: No module named '(\w+)'`),
		category: CategoryDependency,
		fixes: []string{
			"Install the missing package: pip install {module}",
			"Check if package name has changed or been deprecated",
			"Try installing with conda: conda install {module}",
			"Check requirements.txt for correct package name",
		},
	},
	{
		name:     "ImportError",
		re:       regexp.MustCompile(`(?im)ImportError: cannot import name '(\w+)'`),
		category: CategoryDependency,
		fixes: []string{
			"Package version mismatch - check requirements.txt for correct version",
			"Try upgrading the package: pip install --upgrade {module}",
			"The import may have been moved in newer versions",
		},
	},
	{
		name:     "CUDAError",
		re:       regexp.MustCompile(`(?im)RuntimeError: CUDA|CUDA error|cuda`),
		category: CategoryGPU,
		fixes: []string{
			"Install CUDA toolkit matching PyTorch/TensorFlow version",
			"Check GPU availability: nvidia-smi",
			"Set environment to use CPU: export CUDA_VISIBLE_DEVICES=''",
			"Update GPU drivers",
			"Try CPU version of the framework",
		},
	},
	{
		name:     "OutOfMemoryError",
		re:       regexp.MustCompile(`(?im)OutOfMemoryError|out of memory`),
		category: CategoryGPU,
		fixes: []string{
			"Reduce batch size in training/inference",
			"Clear GPU cache: torch.cuda.empty_cache()",
			"Use gradient accumulation instead of large batches",
			"Enable mixed precision training (fp16)",
			"Use a smaller model variant",
		},
	},
	{
		name:     "FileNotFoundError",
		re:       regexp.MustCompile(`(?im)FileNotFoundError.*['"](.+?)['"]`),
		category: CategoryData,
		fixes: []string{
			"Download required data files",
			"Check data directory paths in config files",
			"Run data preparation scripts first",
			"Update file paths to match your directory structure",
		},
	},
	{
		name:     "PermissionError",
		re:       regexp.MustCompile(`(?im)PermissionError|permission denied`),
		category: CategoryPermission,
		fixes: []string{
			"Check file/directory permissions: ls -la",
			"You may need write permissions: chmod +w {file}",
			"Try running with appropriate permissions",
			"Check if file is being used by another process",
		},
	},
	{
		name:     "ConnectionError",
		re:       regexp.MustCompile(`(?im)ConnectionError|Connection refused|connection reset|could not resolve host|timed? ?out`),
		category: CategoryNetwork,
		fixes: []string{
			"Check internet connection",
			"API endpoint may be down - try again later",
			"Check firewall settings",
			"Increase timeout in configuration",
		},
	},
	{
		name:     "ValueError",
		re:       regexp.MustCompile(`(?m)ValueError: (.+)`),
		category: CategoryRuntime,
		fixes: []string{
			"Check input data format and types",
			"Verify configuration parameters",
			"Look at the specific error message for hints",
			"Check data preprocessing steps",
		},
	},
	{
		name:     "KeyError",
		re:       regexp.MustCompile(`(?m)KeyError: ['"](\w+)['"]`),
		category: CategoryRuntime,
		fixes: []string{
			"Missing required key '{key}' in config or data",
			"Check configuration file for required fields",
			"Verify data format matches expected structure",
		},
	},
	{
		name:     "TypeError",
		re:       regexp.MustCompile(`(?m)TypeError: (.+)`),
		category: CategoryRuntime,
		fixes: []string{
			"Type mismatch - check function arguments",
			"May be caused by version incompatibility",
			"Review API documentation for correct types",
		},
	},
	{
		name:     "VersionConflict",
		re:       regexp.MustCompile(`(?im)version conflict|incompatible version|requires .+ version|compatibility`),
		category: CategoryDependency,
		fixes: []string{
			"Check package version requirements",
			"Create fresh virtual environment",
			"Use pip freeze to check installed versions",
			"Refer to paper's requirements for exact versions",
		},
	},
}

var unknownFixes = []string{
	"Review full error logs for more details",
	"Search the repository's issue tracker for the error message",
	"Re-run with verbose output enabled",
}

const descriptionLimit = 200

// Analyze classifies one error message. The table is scanned in order
// and the first match wins; unmatched messages come back as
// CategoryUnknown with generic suggestions. ctx may be nil.
func Analyze(message string, ctx *Context) Diagnosis {
	d := Diagnosis{
		ErrorType:   "unknown",
		Category:    CategoryUnknown,
		Description: truncate(message, descriptionLimit),
	}

	for _, p := range patterns {
		m := p.re.FindStringSubmatch(message)
		if m == nil {
			continue
		}
		d.ErrorType = p.name
		d.Category = p.category
		d.Matched = true
		if len(m) > 1 {
			d.RootCause = m[1]
			d.SuggestedFixes = expandFixes(p.fixes, m[1])
		} else {
			d.SuggestedFixes = append([]string(nil), p.fixes...)
		}
		break
	}

	if !d.Matched {
		d.SuggestedFixes = append([]string(nil), unknownFixes...)
	}
	d.SuggestedFixes = append(d.SuggestedFixes, contextFixes(d.Category, ctx)...)
	return d
}

// expandFixes substitutes the captured root-cause token into the fix
// templates. Only one token exists per pattern, so every placeholder
// takes the same value.
func expandFixes(fixes []string, detail string) []string {
	out := make([]string, 0, len(fixes))
	for _, fix := range fixes {
		fix = strings.ReplaceAll(fix, "{module}", detail)
		fix = strings.ReplaceAll(fix, "{key}", detail)
		fix = strings.ReplaceAll(fix, "{file}", detail)
		out = append(out, fix)
	}
	return out
}

func contextFixes(cat Category, ctx *Context) []string {
	if ctx == nil {
		return nil
	}
	var fixes []string
	if cat == CategoryGPU && ctx.GPUChecked && !ctx.GPUAvailable {
		fixes = append(fixes, "No GPU detected - consider using CPU-only version")
	}
	if cat == CategoryDependency && ctx.PythonVersion != "" {
		fixes = append(fixes, "Python version: "+ctx.PythonVersion+" - check compatibility")
	}
	if ctx.DockerAvailable {
		fixes = append(fixes, "Consider using Docker for better isolation")
	}
	return fixes
}

// ExecutionSummary is the slice of an execution result the diagnoser
// needs. The orchestrator fills it from the executor's output.
type ExecutionSummary struct {
	Success  bool
	ExitCode int
	Duration time.Duration
	Stderr   string
	Errors   []string
	Warnings []string
}

// Report is the full diagnosis of a failed execution.
type Report struct {
	Success         bool        `json:"success"`
	ExitCode        int         `json:"exit_code"`
	Duration        float64     `json:"execution_time"`
	Errors          []Diagnosis `json:"errors"`
	Warnings        []string    `json:"warnings,omitempty"`
	Recommendations []string    `json:"recommendations,omitempty"`
}

// AnalyzeExecution diagnoses every captured error line plus stderr and
// rolls the per-error diagnoses up into overall recommendations.
func AnalyzeExecution(sum ExecutionSummary, ctx *Context) Report {
	r := Report{
		Success:  sum.Success,
		ExitCode: sum.ExitCode,
		Duration: sum.Duration.Seconds(),
		Warnings: sum.Warnings,
	}

	for _, msg := range sum.Errors {
		r.Errors = append(r.Errors, Analyze(msg, ctx))
	}
	// Stderr only contributes when it matches a known pattern; otherwise
	// it would drown the report in unknowns.
	if sum.Stderr != "" {
		if d := Analyze(sum.Stderr, ctx); d.Matched {
			r.Errors = append(r.Errors, d)
		}
	}

	if !r.Success {
		r.Recommendations = recommendations(r)
	}
	return r
}

// recommendations picks overall guidance from the dominant error
// category. Ties resolve to whichever category was diagnosed first.
func recommendations(r Report) []string {
	counts := map[Category]int{}
	order := []Category{}
	for _, d := range r.Errors {
		if counts[d.Category] == 0 {
			order = append(order, d.Category)
		}
		counts[d.Category]++
	}

	var top Category
	best := 0
	for _, cat := range order {
		if counts[cat] > best {
			top, best = cat, counts[cat]
		}
	}

	var recs []string
	switch top {
	case CategoryDependency:
		recs = append(recs,
			"Consider creating a fresh virtual environment",
			"Review and install all dependencies from requirements.txt")
	case CategoryGPU:
		recs = append(recs,
			"Check GPU availability and CUDA installation",
			"Consider running on CPU or cloud GPU service")
	case CategoryData:
		recs = append(recs,
			"Verify all required data files are downloaded",
			"Check README for data preparation instructions")
	case CategoryNetwork:
		recs = append(recs,
			"Check internet connectivity",
			"Try increasing timeout settings")
	}
	if r.ExitCode != 0 {
		recs = append(recs, "Review full error logs for more details")
	}
	return recs
}

// FormatDiagnosis renders a diagnosis for terminal display.
func FormatDiagnosis(d Diagnosis) string {
	var b strings.Builder
	b.WriteString("Error Type: " + d.ErrorType + "\n")
	b.WriteString("Category: " + string(d.Category) + "\n")
	if d.RootCause != "" {
		b.WriteString("Root Cause: " + d.RootCause + "\n")
	}
	if len(d.SuggestedFixes) > 0 {
		b.WriteString("Suggested Fixes:\n")
		for i, fix := range d.SuggestedFixes {
			b.WriteString("  " + strconv.Itoa(i+1) + ". " + fix + "\n")
		}
	}
	return b.String()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
