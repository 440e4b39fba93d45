// Package http provides an HTTP client for the tenantdesk API.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	tenantdesk "github.com/matt-riley/tenantdesk/clients/go"
)

// Config holds configuration for the HTTP client.
type Config struct {
	// BaseURL is the base URL of the server, e.g. "http://localhost:8080".
	BaseURL string
	// APIKey is the bearer token in "id.secret" format.
	APIKey string
	// Locale is sent as Accept-Language ("en" or "ar"). Empty means English.
	Locale string
	// HTTPClient is optional; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client implements tenantdesk.ResourceClient and tenantdesk.AuditReader
// over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var (
	_ tenantdesk.ResourceClient = (*Client)(nil)
	_ tenantdesk.AuditReader    = (*Client)(nil)
)

// NewHTTPClient returns a new HTTP client for the tenantdesk API.
func NewHTTPClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: hc}
}

// APIError is returned when the server responds with an HTTP error status.
// Validation failures carry one message per failed field.
type APIError struct {
	StatusCode int
	Messages   []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tenantdesk: HTTP %d: %s", e.StatusCode, strings.Join(e.Messages, "; "))
}

// decodeAPIError reads an {"error": ...} body, where the value is either a
// single message or a list of them. Anything else is kept as raw text.
func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Error) > 0 {
		var single string
		if err := json.Unmarshal(envelope.Error, &single); err == nil {
			apiErr.Messages = []string{single}
			return apiErr
		}
		var many []string
		if err := json.Unmarshal(envelope.Error, &many); err == nil {
			apiErr.Messages = many
			return apiErr
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		apiErr.Messages = []string{text}
	}
	return apiErr
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("tenantdesk: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("tenantdesk: create request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if c.cfg.Locale != "" {
		req.Header.Set("Accept-Language", c.cfg.Locale)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tenantdesk: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return decodeAPIError(resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("tenantdesk: decode response: %w", err)
	}
	return nil
}

// Create submits payload to POST /v1/<resource> and returns the new row's ID.
func (c *Client) Create(ctx context.Context, resource string, payload map[string]any) (int64, error) {
	var out struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/"+url.PathEscape(resource), payload, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// List fetches one page of a resource.
func (c *Client) List(ctx context.Context, resource string, q tenantdesk.ListQuery) (tenantdesk.Page, error) {
	var page tenantdesk.Page
	path := "/v1/" + url.PathEscape(resource) + "?" + encodeListQuery(q).Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return tenantdesk.Page{}, err
	}
	return page, nil
}

// Delete removes ids from a resource and returns how many rows the server
// deleted. IDs owned by other tenants are silently skipped by the server.
func (c *Client) Delete(ctx context.Context, resource string, tenantID int64, ids []int64) (int64, error) {
	body := map[string]any{
		"tenant_id":        tenantID,
		idsField(resource): ids,
	}
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if err := c.do(ctx, http.MethodDelete, "/v1/"+url.PathEscape(resource), body, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// AuditLog returns the tenant's audit entries, newest first.
func (c *Client) AuditLog(ctx context.Context, tenantID int64, page, pageSize int) ([]tenantdesk.AuditEntry, error) {
	q := url.Values{"tenant_id": {strconv.FormatInt(tenantID, 10)}}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	var out struct {
		Data []tenantdesk.AuditEntry `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/audit_log?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Healthy reports whether /healthz answers 200.
func (c *Client) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func encodeListQuery(q tenantdesk.ListQuery) url.Values {
	v := url.Values{"tenant_id": {strconv.FormatInt(q.TenantID, 10)}}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.SortBy != "" {
		v.Set("sortBy", q.SortBy)
	}
	if q.SortOrder != "" {
		v.Set("sortOrder", q.SortOrder)
	}
	for name, value := range q.Filters {
		v.Set(name, value)
	}
	return v
}

// idsField names the delete body's ID list: the singular resource name with
// an "_ids" suffix.
func idsField(resource string) string {
	switch {
	case strings.HasSuffix(resource, "ches"):
		return strings.TrimSuffix(resource, "es") + "_ids"
	case strings.HasSuffix(resource, "s"):
		return strings.TrimSuffix(resource, "s") + "_ids"
	default:
		return resource + "_ids"
	}
}
