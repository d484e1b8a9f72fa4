package kioku

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
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Kioku server (e.g. "http://localhost:8080").
	BaseURL string

	// Token is the bearer token used to authenticate requests. Tokens are
	// issued out-of-band by the server operator.
	Token string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Kioku knowledge API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL or Token is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("kioku: BaseURL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("kioku: Token is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  httpClient,
	}, nil
}

// CreateRelationship creates a typed edge between two knowledge items.
func (c *Client) CreateRelationship(ctx context.Context, req CreateRelationshipRequest) (*Relationship, error) {
	var resp Relationship
	if err := c.post(ctx, "/v1/relationships", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FindRelated traverses the graph from an item. A depth of 0 uses the
// server default.
func (c *Client) FindRelated(ctx context.Context, itemType, itemID string, depth int) ([]RelatedItem, error) {
	path := "/v1/items/" + url.PathEscape(itemType) + "/" + url.PathEscape(itemID) + "/related"
	if depth > 0 {
		path += "?depth=" + strconv.Itoa(depth)
	}
	var resp []RelatedItem
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// AutoLink scans content for item references (e.g. "ADR-42") and creates
// a relationship for each one found.
func (c *Client) AutoLink(ctx context.Context, itemType, itemID, content string) (*AutoLinkResult, error) {
	path := "/v1/items/" + url.PathEscape(itemType) + "/" + url.PathEscape(itemID) + "/autolink"
	body := map[string]string{"content": content}
	var resp AutoLinkResult
	if err := c.post(ctx, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExportOptions are optional filters for ExportGraph.
type ExportOptions struct {
	IncludeArchived bool
	MaxNodes        int
}

// ExportGraph retrieves the knowledge graph's nodes and edges.
func (c *Client) ExportGraph(ctx context.Context, opts *ExportOptions) (*GraphExport, error) {
	params := url.Values{}
	if opts != nil {
		if opts.IncludeArchived {
			params.Set("include_archived", "true")
		}
		if opts.MaxNodes > 0 {
			params.Set("max_nodes", strconv.Itoa(opts.MaxNodes))
		}
	}

	path := "/v1/graph/export"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp GraphExport
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Contribute appends a message to the debate on a knowledge item,
// opening the debate if it does not exist yet.
func (c *Client) Contribute(ctx context.Context, resourceType, resourceID string, req ContributeRequest) (*Contribution, error) {
	path := "/v1/debates/" + url.PathEscape(resourceType) + "/" + url.PathEscape(resourceID) + "/messages"
	var resp Contribution
	if err := c.post(ctx, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDebate retrieves a debate with its messages and judgment, if any.
func (c *Client) GetDebate(ctx context.Context, debateID uuid.UUID) (*DebateDetail, error) {
	var resp DebateDetail
	if err := c.get(ctx, "/v1/debates/"+debateID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Remediate matches an error against resolved failures and returns a
// remediation report.
func (c *Client) Remediate(ctx context.Context, req RemediateRequest) (*RemediationReport, error) {
	var resp RemediationReport
	if err := c.post(ctx, "/v1/remediate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DecaySweep runs an on-demand decay sweep and returns the number of
// items archived.
func (c *Client) DecaySweep(ctx context.Context) (int, error) {
	var resp struct {
		Archived int `json:"archived"`
	}
	if err := c.post(ctx, "/v1/decay/sweep", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Archived, nil
}

// Health checks the server's health status. This endpoint does not require
// authentication and will work even if the client's token is invalid.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("kioku: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kioku: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var health HealthResponse
	if err := handleResponse(resp, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("kioku: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("kioku: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("kioku: create request: %w", err)
	}

	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kioku: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kioku: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("kioku: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
