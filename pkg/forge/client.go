package forge

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

	"github.com/petrbroz/bim360-issue-editor/pkg/config"
	"github.com/petrbroz/bim360-issue-editor/pkg/ratelimit"
)

// Client defines the interface for BIM360 operations used by the loader and
// the importer. This enables dependency injection and testing with mock
// implementations.
type Client interface {
	ListIssuesPage(ctx context.Context, containerID string, filter IssueFilter, offset, limit int) ([]Issue, error)
	CreateIssue(ctx context.Context, containerID string, attrs IssueAttributes) (*Issue, error)
	UpdateIssue(ctx context.Context, containerID, issueID string, attrs IssueAttributes) (*Issue, error)

	ListIssueTypesPage(ctx context.Context, containerID string, offset, limit int) ([]IssueType, error)
	ListAttributeDefinitionsPage(ctx context.Context, containerID string, offset, limit int) ([]AttributeDefinition, error)
	ListLocationsPage(ctx context.Context, containerID string, offset, limit int) ([]Location, error)

	// ListProjectUsersPage fetches one page of project users from the admin
	// API. nextURL is empty for the first page; the returned nextURL is empty
	// once the last page has been fetched.
	ListProjectUsersPage(ctx context.Context, projectID, nextURL string) ([]User, string, error)

	ListTopFolders(ctx context.Context, hubID, projectID string) ([]Folder, error)
	ListFolderContents(ctx context.Context, projectID, folderID string) ([]Document, []Folder, error)
	GetItemsBatch(ctx context.Context, projectID string, itemIDs []string) ([]Document, error)
}

// Folder is a folder node encountered while walking the project tree.
type Folder struct {
	ID   string
	Name string
}

// HTTPClient implements the Client interface against the Forge REST services.
// Two bearer contexts are kept: the three-legged user token for issue and
// document calls, and a two-legged app token for the admin (users) API. Both
// share one rate limiter.
type HTTPClient struct {
	baseURL string
	region  string

	user *http.Client
	app  *http.Client

	clientID     string
	clientSecret string
	appToken     string
	appTransport *ratelimit.Transport
}

const defaultBaseURL = "https://developer.api.autodesk.com"

// NewClient creates a new BIM360 client with the provided configuration
func NewClient(cfg *config.Config) *HTTPClient {
	limiter := ratelimit.NewRateLimiter(ratelimit.Options{
		Delay:         cfg.RateLimitDelay,
		MaxConcurrent: cfg.MaxConcurrentRequests,
	})

	appTransport := ratelimit.NewTransport("", limiter)

	return &HTTPClient{
		baseURL: defaultBaseURL,
		region:  cfg.Region,
		user: &http.Client{
			Transport: ratelimit.NewTransport(cfg.AccessToken, limiter),
			Timeout:   30 * time.Second,
		},
		app: &http.Client{
			Transport: appTransport,
			Timeout:   30 * time.Second,
		},
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		appTransport: appTransport,
	}
}

// Authenticate exchanges the app credentials for a two-legged token used by
// the admin API calls. User-context calls use the configured three-legged
// token as-is.
func (c *HTTPClient) Authenticate(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", "account:read data:read")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/authentication/v2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &ClientError{Type: "connection_error", Message: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.errorFromResponse(resp, "authentication")
	}

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return &ClientError{Type: "api_error", Message: "malformed token response", Err: err}
	}

	c.appToken = token.AccessToken
	c.appTransport.Token = token.AccessToken
	return nil
}

// ListIssuesPage fetches one page of issues matching the filter.
func (c *HTTPClient) ListIssuesPage(ctx context.Context, containerID string, filter IssueFilter, offset, limit int) ([]Issue, error) {
	query := filter.Query()
	query.Set("page[offset]", strconv.Itoa(offset))
	query.Set("page[limit]", strconv.Itoa(limit))

	endpoint := fmt.Sprintf("%s/issues/v1/containers/%s/quality-issues?%s",
		c.baseURL, url.PathEscape(containerID), query.Encode())

	var payload struct {
		Data []issueRecord `json:"data"`
	}
	if err := c.getJSON(ctx, c.user, endpoint, "issues "+containerID, &payload); err != nil {
		return nil, err
	}

	issues := make([]Issue, 0, len(payload.Data))
	for _, record := range payload.Data {
		issues = append(issues, record.issue())
	}
	return issues, nil
}

// CreateIssue submits a new issue with the given attributes.
func (c *HTTPClient) CreateIssue(ctx context.Context, containerID string, attrs IssueAttributes) (*Issue, error) {
	endpoint := fmt.Sprintf("%s/issues/v1/containers/%s/quality-issues",
		c.baseURL, url.PathEscape(containerID))

	body := map[string]any{
		"data": map[string]any{
			"type":       "quality_issues",
			"attributes": attrs,
		},
	}

	var payload struct {
		Data issueRecord `json:"data"`
	}
	if err := c.sendJSON(ctx, c.user, http.MethodPost, endpoint, "create issue in "+containerID, body, &payload); err != nil {
		return nil, err
	}
	issue := payload.Data.issue()
	return &issue, nil
}

// UpdateIssue submits a partial update of an existing issue. Only the given
// attributes are touched.
func (c *HTTPClient) UpdateIssue(ctx context.Context, containerID, issueID string, attrs IssueAttributes) (*Issue, error) {
	endpoint := fmt.Sprintf("%s/issues/v1/containers/%s/quality-issues/%s",
		c.baseURL, url.PathEscape(containerID), url.PathEscape(issueID))

	body := map[string]any{
		"data": map[string]any{
			"type":       "quality_issues",
			"id":         issueID,
			"attributes": attrs,
		},
	}

	var payload struct {
		Data issueRecord `json:"data"`
	}
	if err := c.sendJSON(ctx, c.user, http.MethodPatch, endpoint, "issue "+issueID, body, &payload); err != nil {
		return nil, err
	}
	issue := payload.Data.issue()
	return &issue, nil
}

// ListIssueTypesPage fetches one page of the issue type taxonomy, subtypes
// included.
func (c *HTTPClient) ListIssueTypesPage(ctx context.Context, containerID string, offset, limit int) ([]IssueType, error) {
	endpoint := fmt.Sprintf("%s/issues/v1/containers/%s/ng-issue-types?include=subtypes&limit=%d&offset=%d",
		c.baseURL, url.PathEscape(containerID), limit, offset)

	var payload struct {
		Results []IssueType `json:"results"`
	}
	if err := c.getJSON(ctx, c.user, endpoint, "issue types "+containerID, &payload); err != nil {
		return nil, err
	}
	return payload.Results, nil
}

// ListAttributeDefinitionsPage fetches one page of custom attribute
// definitions.
func (c *HTTPClient) ListAttributeDefinitionsPage(ctx context.Context, containerID string, offset, limit int) ([]AttributeDefinition, error) {
	endpoint := fmt.Sprintf("%s/issues/v2/containers/%s/issue-attribute-definitions?limit=%d&offset=%d",
		c.baseURL, url.PathEscape(containerID), limit, offset)

	var payload struct {
		Results []AttributeDefinition `json:"results"`
	}
	if err := c.getJSON(ctx, c.user, endpoint, "attribute definitions "+containerID, &payload); err != nil {
		return nil, err
	}
	return payload.Results, nil
}

// ListLocationsPage fetches one page of location tree nodes.
func (c *HTTPClient) ListLocationsPage(ctx context.Context, containerID string, offset, limit int) ([]Location, error) {
	endpoint := fmt.Sprintf("%s/bim360/locations/v2/containers/%s/trees/default/nodes?limit=%d&offset=%d",
		c.baseURL, url.PathEscape(containerID), limit, offset)

	var payload struct {
		Results []Location `json:"results"`
	}
	if err := c.getJSON(ctx, c.user, endpoint, "locations "+containerID, &payload); err != nil {
		return nil, err
	}
	return payload.Results, nil
}

// ListProjectUsersPage fetches one page of project users from the admin API,
// which paginates through pagination.nextUrl rather than offsets.
func (c *HTTPClient) ListProjectUsersPage(ctx context.Context, projectID, nextURL string) ([]User, string, error) {
	endpoint := nextURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("%s/bim360/admin/v1/projects/%s/users?limit=%d",
			c.baseURL, url.PathEscape(projectID), 64)
	}

	var payload struct {
		Results    []User `json:"results"`
		Pagination struct {
			NextURL string `json:"nextUrl"`
		} `json:"pagination"`
	}
	if err := c.getJSON(ctx, c.app, endpoint, "users "+projectID, &payload); err != nil {
		return nil, "", err
	}
	return payload.Results, payload.Pagination.NextURL, nil
}

// ListTopFolders fetches the project's top-level folders.
func (c *HTTPClient) ListTopFolders(ctx context.Context, hubID, projectID string) ([]Folder, error) {
	endpoint := fmt.Sprintf("%s/project/v1/hubs/%s/projects/%s/topFolders",
		c.baseURL, url.PathEscape(hubID), url.PathEscape(projectID))

	var payload struct {
		Data []folderRecord `json:"data"`
	}
	if err := c.getJSON(ctx, c.user, endpoint, "top folders "+projectID, &payload); err != nil {
		return nil, err
	}

	folders := make([]Folder, 0, len(payload.Data))
	for _, record := range payload.Data {
		folders = append(folders, record.folder())
	}
	return folders, nil
}

// ListFolderContents fetches one folder's direct children, split into leaf
// documents and subfolders.
func (c *HTTPClient) ListFolderContents(ctx context.Context, projectID, folderID string) ([]Document, []Folder, error) {
	endpoint := fmt.Sprintf("%s/data/v1/projects/%s/folders/%s/contents",
		c.baseURL, url.PathEscape(projectID), url.PathEscape(folderID))

	var payload struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := c.getJSON(ctx, c.user, endpoint, "folder "+folderID, &payload); err != nil {
		return nil, nil, err
	}

	var documents []Document
	var folders []Folder
	for _, raw := range payload.Data {
		var kind struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &kind); err != nil {
			continue
		}
		switch kind.Type {
		case "items":
			var doc Document
			if err := json.Unmarshal(raw, &doc); err == nil {
				documents = append(documents, doc)
			}
		case "folders":
			var record folderRecord
			if err := json.Unmarshal(raw, &record); err == nil {
				folders = append(folders, record.folder())
			}
		}
	}
	return documents, folders, nil
}

// GetItemsBatch resolves a set of item ids into documents with one bulk
// ListItems command call.
func (c *HTTPClient) GetItemsBatch(ctx context.Context, projectID string, itemIDs []string) ([]Document, error) {
	endpoint := fmt.Sprintf("%s/data/v1/projects/%s/commands",
		c.baseURL, url.PathEscape(projectID))

	resources := make([]map[string]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		resources = append(resources, map[string]string{"type": "items", "id": id})
	}
	body := map[string]any{
		"jsonapi": map[string]string{"version": "1.0"},
		"data": map[string]any{
			"type": "commands",
			"attributes": map[string]any{
				"extension": map[string]any{
					"type":    "commands:autodesk.core:ListItems",
					"version": "1.0.0",
				},
			},
			"relationships": map[string]any{
				"resources": map[string]any{"data": resources},
			},
		},
	}

	var payload struct {
		Data struct {
			Relationships struct {
				Resources struct {
					Data []Document `json:"data"`
				} `json:"resources"`
			} `json:"relationships"`
		} `json:"data"`
		Included []Document `json:"included"`
	}
	if err := c.sendJSON(ctx, c.user, http.MethodPost, endpoint, "items batch in "+projectID, body, &payload); err != nil {
		return nil, err
	}

	// Included versions carry the display names; the relationship records are
	// the fallback when the service omits them.
	documents := payload.Included
	if len(documents) == 0 {
		documents = payload.Data.Relationships.Resources.Data
	}
	return documents, nil
}

// issueRecord is the JSON:API envelope around one issue.
type issueRecord struct {
	ID         string `json:"id"`
	Attributes Issue  `json:"attributes"`
}

func (r issueRecord) issue() Issue {
	issue := r.Attributes
	issue.ID = r.ID
	return issue
}

// folderRecord is the JSON:API envelope around one folder.
type folderRecord struct {
	ID         string `json:"id"`
	Attributes struct {
		DisplayName string `json:"displayName"`
		Name        string `json:"name"`
	} `json:"attributes"`
}

func (r folderRecord) folder() Folder {
	name := r.Attributes.DisplayName
	if name == "" {
		name = r.Attributes.Name
	}
	return Folder{ID: r.ID, Name: name}
}

// getJSON performs a GET request and decodes the JSON response.
func (c *HTTPClient) getJSON(ctx context.Context, httpClient *http.Client, endpoint, opContext string, out any) error {
	return c.sendJSON(ctx, httpClient, http.MethodGet, endpoint, opContext, nil, out)
}

// sendJSON performs a request with an optional JSON body and decodes the JSON
// response into out.
func (c *HTTPClient) sendJSON(ctx context.Context, httpClient *http.Client, method, endpoint, opContext string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &ClientError{Type: "invalid_input", Message: "failed to encode request body", Err: err, Context: opContext}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &ClientError{Type: "invalid_input", Message: "failed to build request", Err: err, Context: opContext}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/vnd.api+json")
	}
	if c.region != "" {
		req.Header.Set("x-ads-region", c.region)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return &ClientError{Type: "connection_error", Message: "request failed", Err: err, Context: opContext}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.errorFromResponse(resp, opContext)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ClientError{Type: "api_error", Message: "malformed response body", Err: err, Context: opContext}
	}
	return nil
}

// errorFromResponse maps an HTTP error response onto the client error
// taxonomy.
func (c *HTTPClient) errorFromResponse(resp *http.Response, opContext string) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &ClientError{Type: "authentication_error", Message: "authentication failed - check Forge credentials", Context: opContext}
	case http.StatusForbidden:
		return &ClientError{Type: "authorization_error", Message: "access denied - insufficient permissions", Context: opContext}
	case http.StatusNotFound:
		return &ClientError{Type: "not_found", Message: "resource not found", Context: opContext}
	case http.StatusTooManyRequests:
		return &RateLimitError{
			RetryAfter: ratelimit.ParseRetryAfter(resp),
			Context:    opContext,
		}
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	message := fmt.Sprintf("HTTP %d error - %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if len(snippet) > 0 {
		message = fmt.Sprintf("%s: %s", message, strings.TrimSpace(string(snippet)))
	}
	return &ClientError{Type: "api_error", Message: message, Context: opContext}
}
