package ingest

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/lucasnoah/reprofactory/internal/retry"
)

// DefaultArxivBaseURL is the arXiv Atom query endpoint.
const DefaultArxivBaseURL = "https://export.arxiv.org/api/query"

// Ingestor produces paper metadata from a source reference.
type Ingestor interface {
	Ingest(ctx context.Context, source string) (Metadata, error)
}

// Client ingests papers from arXiv, local PDFs, and generic URLs. The
// zero value is not usable; construct with NewClient.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, used by tests to point the
// ingestor at a local server.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL overrides the arXiv API endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// NewClient returns an ingestor backed by the public arXiv API.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    DefaultArxivBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ingest classifies the source and dispatches to the matching
// extractor. Fetch failures of network class come back marked transient
// so a retry policy around this call will re-attempt them.
func (c *Client) Ingest(ctx context.Context, source string) (Metadata, error) {
	kind, err := ClassifySource(source)
	if err != nil {
		return Metadata{}, err
	}

	switch kind {
	case KindArxivID, KindArxivURL:
		id, err := CanonicalArxivID(source)
		if err != nil {
			return Metadata{}, err
		}
		return c.fetchArxiv(ctx, id)
	case KindPDF:
		return ingestPDF(source)
	case KindURL:
		return c.fetchPage(ctx, source)
	}
	return Metadata{}, &InvalidSourceError{Source: source}
}

// Atom feed shapes for the arXiv query API. Namespaced fields (the
// arxiv:comment extension) decode by local name.
type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID      string       `xml:"id"`
	Title   string       `xml:"title"`
	Summary string       `xml:"summary"`
	Comment string       `xml:"comment"`
	Authors []atomAuthor `xml:"author"`
	Links   []atomLink   `xml:"link"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

func (c *Client) fetchArxiv(ctx context.Context, id string) (Metadata, error) {
	source := "arXiv:" + id

	q := url.Values{}
	q.Set("id_list", id)
	q.Set("max_results", "1")

	body, err := c.get(ctx, c.baseURL+"?"+q.Encode(), source)
	if err != nil {
		return Metadata{}, err
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return Metadata{}, &IngestionError{Source: source, Err: fmt.Errorf("decode atom feed: %w", err)}
	}
	if len(feed.Entries) == 0 {
		return Metadata{}, &IngestionError{Source: source, Err: errors.New("no such paper")}
	}

	entry := feed.Entries[0]
	// The API reports unknown IDs as a feed entry whose id links to an
	// error page rather than an abstract.
	if strings.Contains(entry.ID, "/api/errors") {
		return Metadata{}, &IngestionError{Source: source, Err: fmt.Errorf("arXiv error: %s", collapseSpace(entry.Summary))}
	}

	md := Metadata{
		Source:   source,
		Title:    collapseSpace(entry.Title),
		Abstract: collapseSpace(entry.Summary),
		ArxivID:  id,
	}
	for _, a := range entry.Authors {
		md.Authors = append(md.Authors, a.Name)
	}
	for _, l := range entry.Links {
		if l.Title == "pdf" || l.Type == "application/pdf" {
			md.PDFURL = l.Href
			break
		}
	}
	// Code links usually live in the abstract or the author comment.
	md.GitHubURLs = ExtractGitHubURLs(entry.Title + "\n" + entry.Summary + "\n" + entry.Comment)
	return md, nil
}

var htmlTitleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// fetchPage extracts what it can from an arbitrary paper landing page:
// the document title and any GitHub links in the body.
func (c *Client) fetchPage(ctx context.Context, pageURL string) (Metadata, error) {
	body, err := c.get(ctx, pageURL, pageURL)
	if err != nil {
		return Metadata{}, err
	}

	md := Metadata{Source: pageURL}
	if m := htmlTitleRe.FindSubmatch(body); m != nil {
		md.Title = collapseSpace(string(m[1]))
	}
	md.GitHubURLs = ExtractGitHubURLs(string(body))
	return md, nil
}

// ingestPDF records a local PDF reference. Text extraction is delegated
// to external tooling; the filename still yields a usable title for
// session naming and repository search.
func ingestPDF(path string) (Metadata, error) {
	if _, err := os.Stat(path); err != nil {
		return Metadata{}, &IngestionError{Source: path, Err: err}
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	title := collapseSpace(strings.NewReplacer("_", " ", "-", " ").Replace(name))
	return Metadata{Source: path, Title: title}, nil
}

// get performs one HTTP GET. Transport errors and 5xx/429 responses are
// wrapped as transient; other non-2xx statuses are plain ingestion
// failures.
func (c *Client) get(ctx context.Context, rawURL, source string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &IngestionError{Source: source, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, retry.Transient(&IngestionError{Source: source, Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, retry.Transient(&IngestionError{Source: source, Err: fmt.Errorf("server returned %s", resp.Status)})
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &IngestionError{Source: source, Err: fmt.Errorf("server returned %s", resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, retry.Transient(&IngestionError{Source: source, Err: err})
	}
	return body, nil
}
