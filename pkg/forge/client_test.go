package forge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/petrbroz/bim360-issue-editor/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		ClientID:              "client-id",
		ClientSecret:          "client-secret",
		AccessToken:           "user-token",
		Region:                "US",
		HubID:                 "b.hub",
		ProjectID:             "b.project",
		IssueContainerID:      "container-1",
		PageSize:              128,
		MaxConcurrentRequests: 5,
	}
}

func newTestClient(serverURL string) *HTTPClient {
	client := NewClient(testConfig())
	client.baseURL = serverURL
	return client
}

func TestHTTPClient_ListIssuesPage(t *testing.T) {
	var gotQuery map[string][]string
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "issue-1", "attributes": map[string]any{"title": "Broken door", "identifier": 17, "status": "open"}},
				{"id": "issue-2", "attributes": map[string]any{"title": "Leak", "identifier": 18, "status": "draft"}},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	issues, err := client.ListIssuesPage(context.Background(), "container-1",
		IssueFilter{CreatedBy: "USER1"}, 0, 128)
	if err != nil {
		t.Fatalf("ListIssuesPage returned error: %v", err)
	}

	if len(issues) != 2 {
		t.Fatalf("got %d issues, want 2", len(issues))
	}
	// The envelope id must be folded into the issue
	if issues[0].ID != "issue-1" || issues[0].Title != "Broken door" || issues[0].Identifier != 17 {
		t.Errorf("unexpected first issue: %+v", issues[0])
	}

	if got := gotQuery["page[offset]"]; len(got) != 1 || got[0] != "0" {
		t.Errorf("page[offset] = %v", got)
	}
	if got := gotQuery["page[limit]"]; len(got) != 1 || got[0] != "128" {
		t.Errorf("page[limit] = %v", got)
	}
	if got := gotQuery["filter[created_by]"]; len(got) != 1 || got[0] != "USER1" {
		t.Errorf("filter[created_by] = %v", got)
	}
	if gotAuth != "Bearer user-token" {
		t.Errorf("Authorization = %q, want the three-legged token", gotAuth)
	}
}

func TestHTTPClient_UpdateIssue(t *testing.T) {
	var gotMethod string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"id": "issue-1", "attributes": map[string]any{"title": "Renamed", "status": "open"}},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	issue, err := client.UpdateIssue(context.Background(), "container-1", "issue-1",
		IssueAttributes{"title": "Renamed"})
	if err != nil {
		t.Fatalf("UpdateIssue returned error: %v", err)
	}

	if gotMethod != http.MethodPatch {
		t.Errorf("method = %s, want PATCH", gotMethod)
	}
	data, _ := gotBody["data"].(map[string]any)
	attrs, _ := data["attributes"].(map[string]any)
	if attrs["title"] != "Renamed" {
		t.Errorf("submitted attributes = %v", attrs)
	}
	if issue.ID != "issue-1" || issue.Title != "Renamed" {
		t.Errorf("returned issue = %+v", issue)
	}
}

func TestHTTPClient_ListProjectUsersPage_Pagination(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "next" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"results":    []map[string]any{{"autodeskId": "U3", "name": "Third"}},
				"pagination": map[string]any{},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"autodeskId": "U1", "name": "First"},
				{"autodeskId": "U2", "name": "Second"},
			},
			"pagination": map[string]any{"nextUrl": server.URL + "/users?cursor=next"},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ctx := context.Background()

	users, next, err := client.ListProjectUsersPage(ctx, "b.project", "")
	if err != nil {
		t.Fatalf("first page returned error: %v", err)
	}
	if len(users) != 2 || users[0].ID != "U1" {
		t.Fatalf("first page = %+v", users)
	}
	if next == "" {
		t.Fatal("first page should carry a nextUrl")
	}

	users, next, err = client.ListProjectUsersPage(ctx, "b.project", next)
	if err != nil {
		t.Fatalf("second page returned error: %v", err)
	}
	if len(users) != 1 || users[0].ID != "U3" {
		t.Errorf("second page = %+v", users)
	}
	if next != "" {
		t.Errorf("last page nextUrl = %q, want empty", next)
	}
}

func TestHTTPClient_ListFolderContents_SplitsItemsAndFolders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"type": "items", "id": "item-1", "attributes": map[string]any{"displayName": "plan.pdf"}},
				{"type": "folders", "id": "folder-2", "attributes": map[string]any{"displayName": "Drawings"}},
				{"type": "items", "id": "item-3", "attributes": map[string]any{"displayName": "model.rvt"}},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	documents, folders, err := client.ListFolderContents(context.Background(), "b.project", "folder-1")
	if err != nil {
		t.Fatalf("ListFolderContents returned error: %v", err)
	}

	if len(documents) != 2 || documents[0].ID != "item-1" || documents[1].DisplayName != "model.rvt" {
		t.Errorf("documents = %+v", documents)
	}
	if len(folders) != 1 || folders[0].ID != "folder-2" || folders[0].Name != "Drawings" {
		t.Errorf("folders = %+v", folders)
	}
}

func TestHTTPClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{
			"unauthorized", http.StatusUnauthorized,
			func(t *testing.T, err error) {
				if !IsAuthenticationError(err) {
					t.Errorf("expected authentication error, got %v", err)
				}
			},
		},
		{
			"not found", http.StatusNotFound,
			func(t *testing.T, err error) {
				if !IsNotFoundError(err) {
					t.Errorf("expected not-found error, got %v", err)
				}
			},
		},
		{
			"rate limited", http.StatusTooManyRequests,
			func(t *testing.T, err error) {
				retryAfter, ok := IsRateLimitError(err)
				if !ok {
					t.Fatalf("expected rate limit error, got %v", err)
				}
				if retryAfter != 3*time.Second {
					t.Errorf("RetryAfter = %v, want 3s", retryAfter)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status == http.StatusTooManyRequests {
					w.Header().Set("Retry-After", "3")
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := newTestClient(server.URL)
			_, err := client.ListIssuesPage(context.Background(), "container-1", IssueFilter{}, 0, 10)
			if err == nil {
				t.Fatal("expected an error")
			}
			tt.check(t, err)
		})
	}
}

func TestHTTPClient_RegionHeader(t *testing.T) {
	var gotRegion string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRegion = r.Header.Get("x-ads-region")
		_ = json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Region = "EMEA"
	client := NewClient(cfg)
	client.baseURL = server.URL

	if _, err := client.ListLocationsPage(context.Background(), "container-1", 0, 10); err != nil {
		t.Fatalf("ListLocationsPage returned error: %v", err)
	}
	if gotRegion != "EMEA" {
		t.Errorf("x-ads-region = %q, want EMEA", gotRegion)
	}
}
