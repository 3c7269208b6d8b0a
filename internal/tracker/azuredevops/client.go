package azuredevops

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrNotFound is matched (via errors.Is) by API errors with status 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the REST API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// Is makes errors.Is(err, ErrNotFound) work for 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

const defaultRetryMaxElapsed = 30 * time.Second

// Client provides methods to interact with the Azure DevOps REST API.
type Client struct {
	Organization string // Organization name or URL
	Project      string
	PAT          string // Personal Access Token
	BaseURL      string // Full base URL (derived from Organization)
	HTTPClient   *http.Client

	// NewBackOff returns the retry policy for 429 and 5xx responses.
	// nil uses an exponential backoff capped at 30s overall.
	NewBackOff func() backoff.BackOff
}

// NewClient creates a new Azure DevOps client.
func NewClient(organization, project, pat string) *Client {
	// Handle both organization name and full URL
	baseURL := organization
	if !strings.HasPrefix(organization, "http") {
		baseURL = fmt.Sprintf("https://dev.azure.com/%s", organization)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &Client{
		Organization: organization,
		Project:      project,
		PAT:          pat,
		BaseURL:      baseURL,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithEndpoint overrides the base URL (tests, on-premises servers).
func (c *Client) WithEndpoint(endpoint string) *Client {
	c.BaseURL = strings.TrimSuffix(endpoint, "/")
	return c
}

// WithHTTPClient replaces the HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.HTTPClient = hc
	return c
}

// WithBackOff sets the retry policy factory.
func (c *Client) WithBackOff(fn func() backoff.BackOff) *Client {
	c.NewBackOff = fn
	return c
}

func (c *Client) backOff(ctx context.Context) backoff.BackOff {
	var bo backoff.BackOff
	if c.NewBackOff != nil {
		bo = c.NewBackOff()
	} else {
		// BackOff implementations are stateful; always use a fresh instance.
		exp := backoff.NewExponentialBackOff()
		exp.MaxElapsedTime = defaultRetryMaxElapsed
		bo = exp
	}
	return backoff.WithContext(bo, ctx)
}

// ConnectionRoot returns the collection URL work item links are rooted at.
func (c *Client) ConnectionRoot() string {
	return c.BaseURL
}

// doRequest performs an authenticated request, retrying throttled and
// server-side failures.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, contentType string) ([]byte, error) {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	// Add API version to path
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	reqURL := c.BaseURL + path + separator + "api-version=" + APIVersion

	var respBody []byte
	err := backoff.Retry(func() error {
		var err error
		respBody, err = c.send(ctx, method, reqURL, data, contentType)
		var apiErr *APIError
		if err != nil && errors.As(err, &apiErr) && !apiErr.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}, c.backOff(ctx))
	if err != nil {
		return nil, err
	}
	return respBody, nil
}

func (c *Client) send(ctx context.Context, method, reqURL string, data []byte, contentType string) ([]byte, error) {
	var reqBody io.Reader
	if data != nil {
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	// Azure DevOps uses Basic auth with empty username and PAT as password
	auth := base64.StdEncoding.EncodeToString([]byte(":" + c.PAT))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	} else if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

// QueryIDs runs a WIQL query in the client's project and returns the ids
// in result order.
func (c *Client) QueryIDs(ctx context.Context, wiql string) ([]int, error) {
	path := fmt.Sprintf("/%s/_apis/wit/wiql", c.Project)
	respBody, err := c.doRequest(ctx, "POST", path, WIQLQueryRequest{Query: wiql}, "application/json")
	if err != nil {
		return nil, fmt.Errorf("WIQL query failed: %w", err)
	}

	var queryResp WIQLQueryResponse
	if err := json.Unmarshal(respBody, &queryResp); err != nil {
		return nil, fmt.Errorf("failed to parse WIQL response: %w", err)
	}

	ids := make([]int, len(queryResp.WorkItems))
	for i, ref := range queryResp.WorkItems {
		ids[i] = ref.ID
	}
	return ids, nil
}

// FetchWorkItems retrieves work items with their relations, in batches.
func (c *Client) FetchWorkItems(ctx context.Context, ids []int) ([]WorkItem, error) {
	var all []WorkItem
	for i := 0; i < len(ids); i += MaxPageSize {
		end := i + MaxPageSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[i:end]

		idStrings := make([]string, len(batch))
		for j, id := range batch {
			idStrings[j] = strconv.Itoa(id)
		}

		path := fmt.Sprintf("/%s/_apis/wit/workitems?ids=%s&$expand=relations",
			c.Project, strings.Join(idStrings, ","))

		respBody, err := c.doRequest(ctx, "GET", path, nil, "")
		if err != nil {
			return nil, fmt.Errorf("failed to fetch work items batch: %w", err)
		}

		var batchResp WorkItemBatchResponse
		if err := json.Unmarshal(respBody, &batchResp); err != nil {
			return nil, fmt.Errorf("failed to parse work items response: %w", err)
		}

		all = append(all, batchResp.Value...)
	}
	return all, nil
}

// FetchWorkItem retrieves a single work item with its relations.
// A missing item yields an error matching ErrNotFound.
func (c *Client) FetchWorkItem(ctx context.Context, id int) (*WorkItem, error) {
	path := fmt.Sprintf("/%s/_apis/wit/workitems/%d?$expand=relations", c.Project, id)

	respBody, err := c.doRequest(ctx, "GET", path, nil, "")
	if err != nil {
		return nil, fmt.Errorf("fetching work item %d: %w", id, err)
	}

	var workItem WorkItem
	if err := json.Unmarshal(respBody, &workItem); err != nil {
		return nil, fmt.Errorf("failed to parse work item: %w", err)
	}

	return &workItem, nil
}

// UpdateWorkItem applies a JSON patch to an existing work item.
func (c *Client) UpdateWorkItem(ctx context.Context, id int, ops []PatchOperation) (*WorkItem, error) {
	path := fmt.Sprintf("/%s/_apis/wit/workitems/%d?$expand=relations", c.Project, id)

	respBody, err := c.doRequest(ctx, "PATCH", path, ops, "application/json-patch+json")
	if err != nil {
		return nil, fmt.Errorf("failed to update work item: %w", err)
	}

	var workItem WorkItem
	if err := json.Unmarshal(respBody, &workItem); err != nil {
		return nil, fmt.Errorf("failed to parse update response: %w", err)
	}

	return &workItem, nil
}

// BuildWorkItemURL returns the web URL for a work item.
func (c *Client) BuildWorkItemURL(id int) string {
	return fmt.Sprintf("%s/%s/_workitems/edit/%d", c.BaseURL, c.Project, id)
}

// ListProjects retrieves all projects accessible in the organization.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	// Core API is at org level, not project level
	path := "/_apis/projects?$top=100"

	respBody, err := c.doRequest(ctx, "GET", path, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	var resp ProjectListResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse projects response: %w", err)
	}

	return resp.Value, nil
}

// ListGitRepositories lists the Git repositories of a project, or of the
// whole organization when project is empty.
func (c *Client) ListGitRepositories(ctx context.Context, project string) ([]GitRepository, error) {
	path := "/_apis/git/repositories"
	if project != "" {
		path = "/" + project + path
	}

	respBody, err := c.doRequest(ctx, "GET", path, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}

	var resp GitRepositoryListResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse repositories response: %w", err)
	}

	return resp.Value, nil
}
