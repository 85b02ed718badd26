package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/johann/apod/internal/apod"
	"github.com/johann/apod/internal/config"
)

// Client is an HTTP client for the apod server
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// APIError is an error response from the server
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Msg)
}

// Query selects the entries to fetch
type Query struct {
	Date        string
	StartDate   string
	EndDate     string
	Count       int
	Thumbs      bool
	ConceptTags bool
}

func (q Query) values() url.Values {
	v := url.Values{}
	if q.Date != "" {
		v.Set("date", q.Date)
	}
	if q.StartDate != "" {
		v.Set("start_date", q.StartDate)
	}
	if q.EndDate != "" {
		v.Set("end_date", q.EndDate)
	}
	if q.Count > 0 {
		v.Set("count", strconv.Itoa(q.Count))
	}
	if q.Thumbs {
		v.Set("thumbs", "true")
	}
	if q.ConceptTags {
		v.Set("concept_tags", "true")
	}
	return v
}

// CacheStats mirrors the server's cache statistics
type CacheStats struct {
	Entries       int64 `json:"entries"`
	Translations  int64 `json:"translations"`
	Pages         int64 `json:"pages"`
	PageBytes     int64 `json:"page_bytes"`
	ArchivedToS3  int64 `json:"archived_to_s3"`
	MemoryEntries int   `json:"memory_entries"`
}

// New creates a new client from config
func New(cfg *config.ClientConfig) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server URL not configured. Run 'apod login <server-url>'")
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.ServerURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}, nil
}

// Get fetches a single entry. An empty q.Date means today.
func (c *Client) Get(ctx context.Context, q Query) (*apod.Entry, error) {
	var entry apod.Entry
	if err := c.getJSON(ctx, "/v1/apod/", Query{Date: q.Date, Thumbs: q.Thumbs, ConceptTags: q.ConceptTags}.values(), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Range fetches the entries from q.StartDate to q.EndDate
func (c *Client) Range(ctx context.Context, q Query) ([]apod.Entry, error) {
	if q.StartDate == "" {
		return nil, fmt.Errorf("start date is required")
	}
	q.Date, q.Count = "", 0

	var entries []apod.Entry
	if err := c.getJSON(ctx, "/v1/apod/", q.values(), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Random fetches q.Count randomly chosen entries
func (c *Client) Random(ctx context.Context, q Query) ([]apod.Entry, error) {
	if q.Count <= 0 {
		return nil, fmt.Errorf("count must be positive")
	}
	q.Date, q.StartDate, q.EndDate = "", "", ""

	var entries []apod.Entry
	if err := c.getJSON(ctx, "/v1/apod/", q.values(), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// NASA fetches the translated entry from the NASA API proxy
func (c *Client) NASA(ctx context.Context, date string, thumbs bool) (map[string]any, error) {
	v := url.Values{}
	if date != "" {
		v.Set("date", date)
	}
	if thumbs {
		v.Set("thumbs", "true")
	}

	var doc map[string]any
	if err := c.getJSON(ctx, "/api/apod", v, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Health checks that the server is up
func (c *Client) Health(ctx context.Context) error {
	var status map[string]any
	return c.getJSON(ctx, "/api/health", nil, &status)
}

// CacheStats returns the server's cache statistics. Requires a token.
func (c *Client) CacheStats(ctx context.Context) (*CacheStats, error) {
	var st CacheStats
	if err := c.getJSON(ctx, "/api/cache/stats", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// PurgeCache drops the server's cached entries, and archived pages as well
// when pages is set. Requires a token.
func (c *Client) PurgeCache(ctx context.Context, pages bool) error {
	path := "/api/cache"
	if pages {
		path += "?pages=true"
	}
	req, err := c.newRequest(ctx, http.MethodDelete, path)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	req, err := c.newRequest(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Msg == "" {
			apiErr.Msg = strings.TrimSpace(string(body))
			if apiErr.Msg == "" {
				apiErr.Msg = http.StatusText(resp.StatusCode)
			}
		}
		apiErr.Code = resp.StatusCode
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	return req, nil
}
