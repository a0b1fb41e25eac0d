package discover

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalRepoURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://github.com/Google/JAX", "https://github.com/google/jax"},
		{"https://github.com/google/jax/", "https://github.com/google/jax"},
		{"https://github.com/google/jax.git", "https://github.com/google/jax"},
		{"  https://github.com/google/jax  ", "https://github.com/google/jax"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanonicalRepoURL(tt.in))
	}
}

func TestRankPaperLinkedFirst(t *testing.T) {
	candidates := []Candidate{
		{URL: "https://github.com/big/star", Stars: 90000, Source: SourceGitHubSearch},
		{URL: "https://github.com/author/official", Stars: 12, Source: SourcePaperText},
		{URL: "https://github.com/mid/fork", Stars: 300, Source: SourceGitHubSearch},
	}

	ranked := Rank(candidates)
	require.Len(t, ranked, 3)
	assert.Equal(t, "https://github.com/author/official", ranked[0].URL,
		"paper-linked repo outranks any star count")
	assert.Equal(t, "https://github.com/big/star", ranked[1].URL)
	assert.Equal(t, "https://github.com/mid/fork", ranked[2].URL)
}

func TestRankDeduplicatesAcrossSources(t *testing.T) {
	candidates := []Candidate{
		{URL: "https://github.com/author/code", Stars: 10, Source: SourcePaperText},
		{URL: "https://github.com/Author/Code/", Stars: 10, Source: SourceGitHubSearch},
		{URL: "https://github.com/author/code.git", Stars: 10, Source: SourceGitHubSearch},
	}

	ranked := Rank(candidates)
	require.Len(t, ranked, 1)
	assert.Equal(t, SourcePaperText, ranked[0].Source)
}

func TestRankStableForEqualStars(t *testing.T) {
	candidates := []Candidate{
		{URL: "https://github.com/a/a", Stars: 5, Source: SourceGitHubSearch},
		{URL: "https://github.com/b/b", Stars: 5, Source: SourceGitHubSearch},
	}
	ranked := Rank(candidates)
	assert.Equal(t, "https://github.com/a/a", ranked[0].URL)
	assert.Equal(t, "https://github.com/b/b", ranked[1].URL)
}

func TestRankEmpty(t *testing.T) {
	assert.Empty(t, Rank(nil))
}

func TestOfficialHeuristic(t *testing.T) {
	t.Run("paper-linked wins", func(t *testing.T) {
		c, ok := Official([]Candidate{
			{URL: "https://github.com/big/star", Stars: 50000, Source: SourceGitHubSearch},
			{URL: "https://github.com/author/official", Stars: 3, Source: SourcePaperText},
		})
		require.True(t, ok)
		assert.Equal(t, "https://github.com/author/official", c.URL)
	})

	t.Run("falls back to stars", func(t *testing.T) {
		c, ok := Official([]Candidate{
			{URL: "https://github.com/small/fork", Stars: 2, Source: SourceGitHubSearch},
			{URL: "https://github.com/big/star", Stars: 50000, Source: SourceGitHubSearch},
		})
		require.True(t, ok)
		assert.Equal(t, "https://github.com/big/star", c.URL)
	})

	t.Run("no candidates", func(t *testing.T) {
		_, ok := Official(nil)
		assert.False(t, ok)
	})
}

func TestTopRankedChooser(t *testing.T) {
	first := Candidate{URL: "https://github.com/a/a"}
	c, err := TopRanked{}.Choose([]Candidate{first, {URL: "https://github.com/b/b"}})
	require.NoError(t, err)
	assert.Equal(t, first, c)

	_, err = TopRanked{}.Choose(nil)
	assert.Error(t, err)
}

func TestSplitRepoURL(t *testing.T) {
	tests := []struct {
		url         string
		owner, name string
		ok          bool
	}{
		{"https://github.com/google/jax", "google", "jax", true},
		{"http://www.github.com/Facebook/React.git", "facebook", "react", true},
		{"https://gitlab.com/x/y", "", "", false},
		{"https://github.com/onlyowner", "", "", false},
	}
	for _, tt := range tests {
		owner, name, ok := splitRepoURL(tt.url)
		assert.Equal(t, tt.ok, ok, tt.url)
		assert.Equal(t, tt.owner, owner, tt.url)
		assert.Equal(t, tt.name, name, tt.url)
	}
}
