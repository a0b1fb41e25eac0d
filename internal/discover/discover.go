// Package discover finds candidate code repositories for a paper.
// Candidates come from two strategies: URLs the paper itself links to,
// and a GitHub search keyed by arXiv ID or title. Paper-linked
// candidates always outrank search hits; within a strategy, stars
// decide. Zero candidates is a valid result, not an error.
package discover

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/lucasnoah/reprofactory/internal/ingest"
)

// Candidate is one discovered repository, ranked for selection.
type Candidate struct {
	URL           string   `json:"url"`
	FullName      string   `json:"full_name"`
	Description   string   `json:"description,omitempty"`
	Stars         int      `json:"stars"`
	Language      string   `json:"language,omitempty"`
	Topics        []string `json:"topics,omitempty"`
	DefaultBranch string   `json:"default_branch"`
	Archived      bool     `json:"archived"`
	LastUpdated   string   `json:"last_updated,omitempty"`
	Source        string   `json:"source"` // paper_text or github_search
}

const (
	SourcePaperText    = "paper_text"
	SourceGitHubSearch = "github_search"
)

// Finder locates candidate repositories for a paper.
type Finder interface {
	FindRepositories(ctx context.Context, md ingest.Metadata) ([]Candidate, error)
}

// Chooser resolves which candidate to reproduce when discovery returns
// more than one. Interactive frontends prompt; everything else takes
// the top-ranked default.
type Chooser interface {
	Choose(candidates []Candidate) (Candidate, error)
}

// TopRanked is the non-interactive Chooser: it always picks the first
// candidate.
type TopRanked struct{}

func (TopRanked) Choose(candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, errors.New("no candidates to choose from")
	}
	return candidates[0], nil
}

// CanonicalRepoURL normalizes a repository URL for deduplication:
// lowercased, trailing slashes and the .git suffix removed.
func CanonicalRepoURL(url string) string {
	u := strings.ToLower(strings.TrimSpace(url))
	u = strings.TrimRight(u, "/")
	return strings.TrimSuffix(u, ".git")
}

// Rank orders candidates: paper-linked first in their original order,
// then the rest by descending stars. Duplicate URLs collapse to the
// first occurrence, so a search hit never shadows a paper link.
func Rank(candidates []Candidate) []Candidate {
	seen := map[string]bool{}
	var linked, rest []Candidate
	for _, c := range candidates {
		key := CanonicalRepoURL(c.URL)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if c.Source == SourcePaperText {
			linked = append(linked, c)
		} else {
			rest = append(rest, c)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].Stars > rest[j].Stars })
	return append(linked, rest...)
}

// Official applies the official-repository heuristic: the first
// paper-linked candidate wins, otherwise the top-ranked one. ok is
// false when there are no candidates.
func Official(candidates []Candidate) (Candidate, bool) {
	ranked := Rank(candidates)
	if len(ranked) == 0 {
		return Candidate{}, false
	}
	return ranked[0], true
}
