package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lucasnoah/reprofactory/internal/ingest"
	"github.com/lucasnoah/reprofactory/internal/retry"
)

// DefaultGitHubBaseURL is the GitHub REST v3 endpoint.
const DefaultGitHubBaseURL = "https://api.github.com"

const searchLimit = 5

// GitHubFinder discovers repositories through the GitHub REST API. A
// token raises the rate limit but is not required.
type GitHubFinder struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// GitHubOption configures a GitHubFinder.
type GitHubOption func(*GitHubFinder)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) GitHubOption {
	return func(f *GitHubFinder) { f.httpClient = hc }
}

// WithBaseURL points the finder at a different API endpoint.
func WithBaseURL(u string) GitHubOption {
	return func(f *GitHubFinder) { f.baseURL = strings.TrimRight(u, "/") }
}

// WithToken sets the API token sent with every request.
func WithToken(token string) GitHubOption {
	return func(f *GitHubFinder) { f.token = token }
}

// NewGitHubFinder returns a Finder backed by the GitHub REST API.
func NewGitHubFinder(opts ...GitHubOption) *GitHubFinder {
	f := &GitHubFinder{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    DefaultGitHubBaseURL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// repoJSON is the subset of the GitHub repository resource we keep.
type repoJSON struct {
	FullName      string   `json:"full_name"`
	HTMLURL       string   `json:"html_url"`
	Description   string   `json:"description"`
	Stars         int      `json:"stargazers_count"`
	Language      string   `json:"language"`
	Topics        []string `json:"topics"`
	DefaultBranch string   `json:"default_branch"`
	Archived      bool     `json:"archived"`
	UpdatedAt     string   `json:"updated_at"`
}

type searchJSON struct {
	Items []repoJSON `json:"items"`
}

// FindRepositories resolves the paper's own GitHub links and, when the
// paper carries an arXiv ID or title, searches GitHub for more. Results
// are deduplicated and ranked; an empty slice with a nil error means
// the paper simply has no discoverable code.
func (f *GitHubFinder) FindRepositories(ctx context.Context, md ingest.Metadata) ([]Candidate, error) {
	var candidates []Candidate

	for _, link := range md.GitHubURLs {
		c, found, err := f.lookup(ctx, link)
		if err != nil {
			return nil, err
		}
		if found {
			c.Source = SourcePaperText
			candidates = append(candidates, c)
		}
	}

	if q := searchQuery(md); q != "" {
		hits, err := f.search(ctx, q)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, hits...)
	}

	return Rank(candidates), nil
}

// searchQuery prefers the arXiv ID, which papers' READMEs cite
// verbatim, over the fuzzier title.
func searchQuery(md ingest.Metadata) string {
	if md.ArxivID != "" {
		return fmt.Sprintf("%q", md.ArxivID)
	}
	if md.Title != "" {
		return fmt.Sprintf("%q", md.Title)
	}
	return ""
}

// lookup fetches one repository by its web URL. A vanished repository
// (404, or a 403 on a private one) is skipped, not an error.
func (f *GitHubFinder) lookup(ctx context.Context, repoURL string) (Candidate, bool, error) {
	owner, name, ok := splitRepoURL(repoURL)
	if !ok {
		return Candidate{}, false, nil
	}

	var repo repoJSON
	status, err := f.getJSON(ctx, f.baseURL+"/repos/"+owner+"/"+name, &repo)
	if err != nil {
		return Candidate{}, false, err
	}
	if status == http.StatusNotFound || status == http.StatusForbidden {
		return Candidate{}, false, nil
	}
	return toCandidate(repo, repoURL), true, nil
}

func (f *GitHubFinder) search(ctx context.Context, query string) ([]Candidate, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("sort", "stars")
	q.Set("order", "desc")
	q.Set("per_page", fmt.Sprint(searchLimit))

	var result searchJSON
	status, err := f.getJSON(ctx, f.baseURL+"/search/repositories?"+q.Encode(), &result)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		// Search is a best-effort enrichment; a refusal (e.g. query too
		// long) should not sink discovery.
		return nil, nil
	}

	var candidates []Candidate
	for _, repo := range result.Items {
		c := toCandidate(repo, repo.HTMLURL)
		c.Source = SourceGitHubSearch
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// getJSON performs one authenticated GET and decodes the body on 200.
// Rate limiting and server errors come back transient; 404/403 return
// their status for the caller to interpret.
func (f *GitHubFinder) getJSON(ctx context.Context, rawURL string, v any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, retry.Transient(fmt.Errorf("github: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(v); err != nil {
			return resp.StatusCode, fmt.Errorf("github: decode response: %w", err)
		}
		return resp.StatusCode, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return resp.StatusCode, retry.Transient(fmt.Errorf("github: server returned %s", resp.Status))
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return resp.StatusCode, retry.Transient(fmt.Errorf("github: rate limited"))
	default:
		return resp.StatusCode, nil
	}
}

func toCandidate(repo repoJSON, originalURL string) Candidate {
	u := originalURL
	if repo.HTMLURL != "" {
		u = repo.HTMLURL
	}
	return Candidate{
		URL:           u,
		FullName:      repo.FullName,
		Description:   repo.Description,
		Stars:         repo.Stars,
		Language:      repo.Language,
		Topics:        repo.Topics,
		DefaultBranch: repo.DefaultBranch,
		Archived:      repo.Archived,
		LastUpdated:   repo.UpdatedAt,
	}
}

// splitRepoURL extracts owner and repository name from a GitHub web
// URL.
func splitRepoURL(repoURL string) (owner, name string, ok bool) {
	u := CanonicalRepoURL(repoURL)
	i := strings.Index(u, "github.com/")
	if i < 0 {
		return "", "", false
	}
	parts := strings.Split(u[i+len("github.com/"):], "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
