package discover

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/reprofactory/internal/ingest"
	"github.com/lucasnoah/reprofactory/internal/retry"
)

func newTestFinder(t *testing.T, handler http.Handler, opts ...GitHubOption) *GitHubFinder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]GitHubOption{WithBaseURL(srv.URL), WithHTTPClient(srv.Client())}, opts...)
	return NewGitHubFinder(opts...)
}

func TestFindRepositoriesPaperLinksAndSearch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/author/official", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(repoJSON{
			FullName:      "author/official",
			HTMLURL:       "https://github.com/author/official",
			Stars:         42,
			Language:      "Python",
			DefaultBranch: "main",
		})
	})
	mux.HandleFunc("/search/repositories", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `"1706.03762"`, r.URL.Query().Get("q"),
			"search should quote the arXiv ID")
		json.NewEncoder(w).Encode(searchJSON{Items: []repoJSON{
			{FullName: "fan/reimpl", HTMLURL: "https://github.com/fan/reimpl", Stars: 900, DefaultBranch: "master"},
			{FullName: "author/official", HTMLURL: "https://github.com/author/official", Stars: 42},
		}})
	})

	f := newTestFinder(t, mux)
	got, err := f.FindRepositories(context.Background(), ingest.Metadata{
		ArxivID:    "1706.03762",
		GitHubURLs: []string{"https://github.com/author/official"},
	})
	require.NoError(t, err)

	require.Len(t, got, 2, "duplicate of the paper link must collapse")
	assert.Equal(t, "author/official", got[0].FullName)
	assert.Equal(t, SourcePaperText, got[0].Source)
	assert.Equal(t, "Python", got[0].Language)
	assert.Equal(t, "fan/reimpl", got[1].FullName)
	assert.Equal(t, SourceGitHubSearch, got[1].Source)
}

func TestFindRepositoriesVanishedLinkSkipped(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/search/repositories", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchJSON{})
	})

	f := newTestFinder(t, mux)
	got, err := f.FindRepositories(context.Background(), ingest.Metadata{
		ArxivID:    "1706.03762",
		GitHubURLs: []string{"https://github.com/gone/repo"},
	})
	require.NoError(t, err)
	assert.Empty(t, got, "zero candidates is a valid, non-error result")
}

func TestFindRepositoriesNothingToQuery(t *testing.T) {
	called := false
	f := newTestFinder(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	got, err := f.FindRepositories(context.Background(), ingest.Metadata{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.False(t, called, "no links and no query means no API traffic")
}

func TestFindRepositoriesServerErrorTransient(t *testing.T) {
	f := newTestFinder(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))

	_, err := f.FindRepositories(context.Background(), ingest.Metadata{
		GitHubURLs: []string{"https://github.com/a/b"},
	})
	require.Error(t, err)
	assert.True(t, retry.IsTransient(err))
}

func TestFindRepositoriesRateLimitTransient(t *testing.T) {
	f := newTestFinder(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := f.FindRepositories(context.Background(), ingest.Metadata{
		GitHubURLs: []string{"https://github.com/a/b"},
	})
	require.Error(t, err)
	assert.True(t, retry.IsTransient(err))
}

func TestFindRepositoriesSendsToken(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/a/b", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(repoJSON{FullName: "a/b", HTMLURL: "https://github.com/a/b"})
	})

	f := newTestFinder(t, mux, WithToken("ghp_test"))
	_, err := f.FindRepositories(context.Background(), ingest.Metadata{
		GitHubURLs: []string{"https://github.com/a/b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer ghp_test", gotAuth)
}
