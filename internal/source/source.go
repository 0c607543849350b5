// Package source implements the client for the upstream document management
// system (a paperless-ngx style REST API). It is the only package that talks
// to the source: listing documents incrementally, fetching metadata, and
// downloading raw content.
//
// All requests pass through a shared rate limiter so batch ingestion cannot
// overwhelm the source.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrNotFound is returned when the source reports the document does not exist.
var ErrNotFound = errors.New("source: document not found")

// maxContentBytes caps a single document download. Anything larger is
// almost certainly not text worth indexing.
const maxContentBytes = 256 << 20

// Document is the source-side metadata of a document.
type Document struct {
	// ID is the numeric document ID assigned by the source.
	ID int
	// Title is the document title.
	Title string
	// Modified is the last-modified timestamp reported by the source.
	Modified time.Time
	// Tags are the resolved tag names attached to the document.
	Tags []string
	// OriginalFilename is the stored filename, used for format detection.
	OriginalFilename string
}

// Client talks to the document source API. It is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter

	// tagMu guards tagNames, a cache of tag ID to tag name. Tags change
	// rarely; the cache lives for the client's lifetime.
	tagMu    sync.Mutex
	tagNames map[int]string
}

// Config holds the settings for constructing a Client.
type Config struct {
	// BaseURL is the API base, e.g. "https://docs.example.com" (no trailing slash).
	BaseURL string
	// Token is the API token sent as "Authorization: Token <token>".
	Token string
	// RateLimit is the sustained request rate (req/s). Zero means 5 req/s.
	RateLimit float64
}

// New constructs a Client from the given config.
func New(cfg *Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("source: base URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("source: API token is required")
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 5
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: 2 * time.Minute},
		limiter: rate.NewLimiter(rate.Limit(limit), 1),
	}, nil
}

// listResponse is one page of the paginated document listing.
type listResponse struct {
	Count   int           `json:"count"`
	Next    *string       `json:"next"`
	Results []rawDocument `json:"results"`
}

// rawDocument is the wire form of a document. Tags arrive as numeric IDs.
type rawDocument struct {
	ID               int       `json:"id"`
	Title            string    `json:"title"`
	Modified         time.Time `json:"modified"`
	Tags             []int     `json:"tags"`
	OriginalFilename string    `json:"original_file_name"`
}

// List returns every document, ordered by ID, walking the paginated listing
// to the end. When updatedAfter is non-zero, only documents modified strictly
// after it are returned, which is what makes incremental sync cheap.
func (c *Client) List(ctx context.Context, updatedAfter time.Time) ([]Document, error) {
	query := url.Values{"ordering": {"id"}}
	if !updatedAfter.IsZero() {
		query.Set("modified__gt", updatedAfter.UTC().Format(time.RFC3339))
	}

	var docs []Document
	page := 1
	for {
		query.Set("page", strconv.Itoa(page))

		var resp listResponse
		if err := c.getJSON(ctx, "/api/documents/?"+query.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("source: list page %d: %w", page, err)
		}

		for _, raw := range resp.Results {
			doc, err := c.resolve(ctx, raw)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}

		if resp.Next == nil || *resp.Next == "" {
			return docs, nil
		}
		page++
	}
}

// Get fetches one document's metadata. Returns ErrNotFound when the source
// does not know the ID.
func (c *Client) Get(ctx context.Context, id int) (Document, error) {
	var raw rawDocument
	if err := c.getJSON(ctx, fmt.Sprintf("/api/documents/%d/", id), &raw); err != nil {
		return Document{}, fmt.Errorf("source: get document %d: %w", id, err)
	}
	return c.resolve(ctx, raw)
}

// Download fetches the raw content of a document. The returned filename comes
// from the Content-Disposition header when present, falling back to the
// stored original filename.
func (c *Client) Download(ctx context.Context, id int) (filename string, content []byte, err error) {
	resp, err := c.do(ctx, fmt.Sprintf("/api/documents/%d/download/", id))
	if err != nil {
		return "", nil, fmt.Errorf("source: download document %d: %w", id, err)
	}
	defer resp.Body.Close()

	content, err = io.ReadAll(io.LimitReader(resp.Body, maxContentBytes))
	if err != nil {
		return "", nil, fmt.Errorf("source: download document %d: read body: %w", id, err)
	}

	filename = dispositionFilename(resp.Header.Get("Content-Disposition"))
	return filename, content, nil
}

// DocumentURL returns the link to the document in the source's web UI.
func (c *Client) DocumentURL(id int) string {
	return fmt.Sprintf("%s/documents/%d/", c.baseURL, id)
}

// Ping verifies the source is reachable and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	var resp listResponse
	if err := c.getJSON(ctx, "/api/documents/?page=1&page_size=1", &resp); err != nil {
		return fmt.Errorf("source: ping: %w", err)
	}
	return nil
}

// resolve converts a wire document into its domain form, mapping tag IDs to
// names via the cached tag listing.
func (c *Client) resolve(ctx context.Context, raw rawDocument) (Document, error) {
	names, err := c.lookupTags(ctx, raw.Tags)
	if err != nil {
		return Document{}, err
	}
	return Document{
		ID:               raw.ID,
		Title:            raw.Title,
		Modified:         raw.Modified,
		Tags:             names,
		OriginalFilename: raw.OriginalFilename,
	}, nil
}

// tagListResponse is one page of the paginated tag listing.
type tagListResponse struct {
	Next    *string `json:"next"`
	Results []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"results"`
}

// lookupTags maps tag IDs to names, loading the tag listing on first use.
// Unknown IDs are skipped rather than failing the document.
func (c *Client) lookupTags(ctx context.Context, ids []int) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	c.tagMu.Lock()
	defer c.tagMu.Unlock()

	if c.tagNames == nil {
		names := make(map[int]string)
		page := 1
		for {
			var resp tagListResponse
			if err := c.getJSON(ctx, "/api/tags/?page="+strconv.Itoa(page), &resp); err != nil {
				return nil, fmt.Errorf("source: list tags page %d: %w", page, err)
			}
			for _, tag := range resp.Results {
				names[tag.ID] = tag.Name
			}
			if resp.Next == nil || *resp.Next == "" {
				break
			}
			page++
		}
		c.tagNames = names
	}

	resolved := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := c.tagNames[id]; ok {
			resolved = append(resolved, name)
		}
	}
	return resolved, nil
}

// getJSON performs a rate-limited GET and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do performs a rate-limited GET against the source, translating HTTP status
// codes into errors. The caller owns the response body on success.
func (c *Client) do(ctx context.Context, path string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return resp, nil
}

// dispositionFilename extracts the filename from a Content-Disposition header.
func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}
