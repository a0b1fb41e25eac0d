// Package ingest turns a paper reference into structured metadata. A
// source string may be a bare arXiv ID, an arXiv URL, a local PDF path,
// or a generic web URL; classification is deterministic and an
// unrecognized source is a configuration error, not a fetch failure.
package ingest

import (
	"fmt"
	"regexp"
	"strings"
)

// SourceKind is the classified form of a raw source string.
type SourceKind string

const (
	KindArxivID  SourceKind = "arxiv_id"
	KindArxivURL SourceKind = "arxiv_url"
	KindPDF      SourceKind = "pdf"
	KindURL      SourceKind = "url"
)

// Metadata is what ingestion extracts from a paper reference.
type Metadata struct {
	Source     string   `json:"source"`
	Title      string   `json:"title,omitempty"`
	Authors    []string `json:"authors,omitempty"`
	Abstract   string   `json:"abstract,omitempty"`
	ArxivID    string   `json:"arxiv_id,omitempty"`
	PDFURL     string   `json:"pdf_url,omitempty"`
	GitHubURLs []string `json:"github_urls,omitempty"`
}

// InvalidSourceError reports a source string that cannot be classified
// at all. It is fatal: no session should be created for it.
type InvalidSourceError struct {
	Source string
}

func (e *InvalidSourceError) Error() string {
	if strings.TrimSpace(e.Source) == "" {
		return "invalid source: empty"
	}
	return fmt.Sprintf("invalid source: %q is not an arXiv ID, arXiv URL, PDF path, or URL", e.Source)
}

// IngestionError reports a recognized source that could not be fetched
// or parsed. Unlike InvalidSourceError it surfaces in the final report.
type IngestionError struct {
	Source string
	Err    error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %q: %v", e.Source, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

var (
	// Modern arXiv identifiers: YYMM.NNNN or YYMM.NNNNN, optional vN.
	arxivIDRe = regexp.MustCompile(`^\d{4}\.\d{4,5}(v\d+)?$`)
	// Embedded ID inside URLs or "arXiv:" prefixes.
	arxivEmbeddedRe = regexp.MustCompile(`(?i)(?:arxiv\.org/(?:abs|pdf)/|arxiv:\s*)(\d{4}\.\d{4,5}(?:v\d+)?)`)

	githubURLRe = regexp.MustCompile(`https?://(?:www\.)?github\.com/[\w\-.]+/[\w\-.]+`)
)

// ClassifySource determines what kind of reference the raw source
// string is. Empty or unrecognizable sources return InvalidSourceError.
func ClassifySource(source string) (SourceKind, error) {
	s := strings.TrimSpace(source)
	if s == "" {
		return "", &InvalidSourceError{Source: source}
	}

	if arxivIDRe.MatchString(s) || strings.HasPrefix(strings.ToLower(s), "arxiv:") {
		return KindArxivID, nil
	}
	lower := strings.ToLower(s)
	if strings.Contains(lower, "arxiv.org/") {
		return KindArxivURL, nil
	}
	if strings.HasSuffix(lower, ".pdf") && !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return KindPDF, nil
	}
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return KindURL, nil
	}
	return "", &InvalidSourceError{Source: source}
}

// CanonicalArxivID normalizes every accepted spelling of an arXiv
// reference to the bare lowercase identifier without a version suffix,
// so cache keys agree regardless of which form reached us: "1706.03762",
// "1706.03762v5", "arXiv:1706.03762", "https://arxiv.org/abs/1706.03762"
// and ".../pdf/1706.03762.pdf" all canonicalize to "1706.03762".
func CanonicalArxivID(source string) (string, error) {
	s := strings.TrimSpace(source)

	if m := arxivEmbeddedRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.ToLower(s)
	s = strings.TrimSuffix(s, ".pdf")

	if !arxivIDRe.MatchString(s) {
		return "", &InvalidSourceError{Source: source}
	}
	// Drop the version suffix: the paper, not the revision, is the cache key.
	if i := strings.IndexByte(s, 'v'); i > 0 {
		s = s[:i]
	}
	return s, nil
}

// ExtractGitHubURLs pulls GitHub repository URLs out of free text,
// deduplicated in first-seen order with trailing slashes and .git
// suffixes removed.
func ExtractGitHubURLs(text string) []string {
	seen := map[string]bool{}
	var urls []string
	for _, m := range githubURLRe.FindAllString(text, -1) {
		// Sentence punctuation sticks to the match; shed it before the
		// .git suffix check.
		u := strings.TrimSuffix(strings.TrimRight(m, "/."), ".git")
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	return urls
}

// collapseSpace flattens the hard-wrapped whitespace arXiv Atom fields
// arrive with.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
