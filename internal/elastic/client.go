package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// Config holds search cluster connection settings
type Config struct {
	Host            string
	Username        string
	Password        string
	Timeout         time.Duration
	RetryOnConflict int
}

// Client is a thin typed wrapper over the search cluster HTTP API. It offers
// search, index, bulk, update, delete, refresh, exists and create on named
// indices. Index deletion is deliberately not exposed; destructive rebuilds
// belong to bootstrap tooling, never to the running service.
type Client struct {
	host            string
	username        string
	password        string
	retryOnConflict int
	http            *http.Client
	logger          arbor.ILogger
}

// APIError is a non-2xx response from the search cluster
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("search cluster returned %d: %s", e.StatusCode, e.Body)
}

// NewClient creates a search cluster client
func NewClient(config Config, logger arbor.ILogger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retryOnConflict := config.RetryOnConflict
	if retryOnConflict <= 0 {
		retryOnConflict = 3
	}
	return &Client{
		host:            strings.TrimRight(config.Host, "/"),
		username:        config.Username,
		password:        config.Password,
		retryOnConflict: retryOnConflict,
		http:            &http.Client{Timeout: timeout},
		logger:          logger,
	}
}

// RetryOnConflict returns the configured optimistic-concurrency retry budget
func (c *Client) RetryOnConflict() int {
	return c.retryOnConflict
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, contentType string, body []byte, out interface{}) error {
	endpoint := c.host + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response for %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(payload)}
	}
	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("failed to decode response for %s %s: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, params url.Values, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body for %s: %w", path, err)
		}
	}
	return c.do(ctx, method, path, params, "application/json", payload, out)
}

// SearchRequest is a from/size paged query
type SearchRequest struct {
	Query  map[string]interface{} `json:"query,omitempty"`
	From   int                    `json:"from"`
	Size   int                    `json:"size"`
	Source []string               `json:"_source,omitempty"`
}

// Hit is one search result
type Hit struct {
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

// SearchResponse is the subset of the search reply the service consumes
type SearchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []Hit `json:"hits"`
	} `json:"hits"`
}

// Search runs a paged query against an index
func (c *Client) Search(ctx context.Context, index string, req *SearchRequest, expandWildcards string) (*SearchResponse, error) {
	params := url.Values{}
	if expandWildcards != "" {
		params.Set("expand_wildcards", expandWildcards)
	}
	var resp SearchResponse
	if err := c.doJSON(ctx, http.MethodPost, "/"+index+"/_search", params, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type indexResponse struct {
	ID string `json:"_id"`
}

// Index writes a document. An empty id lets the cluster assign one; the
// assigned id is returned either way.
func (c *Client) Index(ctx context.Context, index, id string, doc interface{}) (string, error) {
	var resp indexResponse
	if id == "" {
		if err := c.doJSON(ctx, http.MethodPost, "/"+index+"/_doc", nil, doc, &resp); err != nil {
			return "", err
		}
	} else {
		if err := c.doJSON(ctx, http.MethodPut, "/"+index+"/_doc/"+url.PathEscape(id), nil, doc, &resp); err != nil {
			return "", err
		}
	}
	if resp.ID == "" {
		resp.ID = id
	}
	return resp.ID, nil
}

type getResponse struct {
	ID     string          `json:"_id"`
	Found  bool            `json:"found"`
	Source json.RawMessage `json:"_source"`
}

// Get fetches a document by id; found is false when it does not exist
func (c *Client) Get(ctx context.Context, index, id string) (*Hit, bool, error) {
	var resp getResponse
	err := c.doJSON(ctx, http.MethodGet, "/"+index+"/_doc/"+url.PathEscape(id), nil, nil, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !resp.Found {
		return nil, false, nil
	}
	return &Hit{ID: resp.ID, Source: resp.Source}, true, nil
}

// Update applies a partial document update with retry-on-conflict for
// optimistic concurrency across replicas.
func (c *Client) Update(ctx context.Context, index, id string, partial interface{}, retryOnConflict int) error {
	params := url.Values{}
	if retryOnConflict > 0 {
		params.Set("retry_on_conflict", strconv.Itoa(retryOnConflict))
	}
	body := map[string]interface{}{"doc": partial}
	return c.doJSON(ctx, http.MethodPost, "/"+index+"/_update/"+url.PathEscape(id), params, body, nil)
}

// Delete removes a document by id
func (c *Client) Delete(ctx context.Context, index, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/"+index+"/_doc/"+url.PathEscape(id), nil, nil, nil)
}

// Refresh makes recent writes visible to search
func (c *Client) Refresh(ctx context.Context, index string) error {
	return c.doJSON(ctx, http.MethodPost, "/"+index+"/_refresh", nil, nil, nil)
}

// IndexExists probes for an index
func (c *Client) IndexExists(ctx context.Context, index string) (bool, error) {
	err := c.do(ctx, http.MethodHead, "/"+index, nil, "", nil, nil)
	if err == nil {
		return true, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

// CreateIndex creates an index with optional settings/mappings
func (c *Client) CreateIndex(ctx context.Context, index string, body map[string]interface{}) error {
	return c.doJSON(ctx, http.MethodPut, "/"+index, nil, body, nil)
}

// BulkItemError describes a per-document bulk rejection
type BulkItemError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// BulkItemResult is one entry of a bulk reply
type BulkItemResult struct {
	ID     string         `json:"_id"`
	Status int            `json:"status"`
	Error  *BulkItemError `json:"error,omitempty"`
}

// BulkResponse is the bulk endpoint reply
type BulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]BulkItemResult `json:"items"`
}

// Bulk submits an NDJSON payload, routed through the named ingest pipeline
func (c *Client) Bulk(ctx context.Context, payload []byte, pipeline string) (*BulkResponse, error) {
	params := url.Values{}
	if pipeline != "" {
		params.Set("pipeline", pipeline)
	}
	var resp BulkResponse
	if err := c.do(ctx, http.MethodPost, "/_bulk", params, "application/x-ndjson", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping checks cluster reachability
func (c *Client) Ping(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/", nil, nil, nil)
}
