package forge

import (
	"context"
	"fmt"
	"sync"
)

// MockClient implements the Client interface for testing
// This enables comprehensive unit testing without external network calls
type MockClient struct {
	// mu protects all fields for thread-safe concurrent access
	mu sync.Mutex

	// Backing data served by the default method implementations
	Issues         []Issue
	IssueTypes     []IssueType
	AttributeDefs  []AttributeDefinition
	Locations      []Location
	Users          []User
	TopFolders     []Folder
	FolderItems    map[string][]Document
	FolderChildren map[string][]Folder
	Items          map[string]Document

	// Configurable errors
	IssuesError    error
	LocationsError error
	CreateError    error
	UpdateError    error

	// BatchErrors is consumed one per GetItemsBatch call before the default
	// behavior applies; used to simulate rate-limit sequences.
	BatchErrors []error

	// Optional overrides
	UpdateIssueFunc func(containerID, issueID string, attrs IssueAttributes) (*Issue, error)
	CreateIssueFunc func(containerID string, attrs IssueAttributes) (*Issue, error)

	// Call tracking for verification in tests
	ListIssuesCalls  int
	ListTypesCalls   int
	ListUsersCalls   int
	BatchCalls       [][]string
	UpdateCalls      []UpdateCall
	CreateCalls      []IssueAttributes
	nextIdentifier   int
}

// UpdateCall records one UpdateIssue invocation
type UpdateCall struct {
	ContainerID string
	IssueID     string
	Attrs       IssueAttributes
}

// NewMockClient creates a new mock BIM360 client for testing
func NewMockClient() *MockClient {
	return &MockClient{
		FolderItems:    make(map[string][]Document),
		FolderChildren: make(map[string][]Folder),
		Items:          make(map[string]Document),
		nextIdentifier: 1000,
	}
}

func (m *MockClient) ListIssuesPage(ctx context.Context, containerID string, filter IssueFilter, offset, limit int) ([]Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListIssuesCalls++

	if m.IssuesError != nil {
		return nil, m.IssuesError
	}
	return pageOf(m.Issues, offset, limit), nil
}

func (m *MockClient) CreateIssue(ctx context.Context, containerID string, attrs IssueAttributes) (*Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls = append(m.CreateCalls, attrs)

	if m.CreateError != nil {
		return nil, m.CreateError
	}
	if m.CreateIssueFunc != nil {
		return m.CreateIssueFunc(containerID, attrs)
	}

	m.nextIdentifier++
	issue := &Issue{
		ID:         fmt.Sprintf("created-%d", m.nextIdentifier),
		Identifier: m.nextIdentifier,
		Status:     StatusDraft,
	}
	if title, ok := attrs["title"].(string); ok {
		issue.Title = title
	}
	return issue, nil
}

func (m *MockClient) UpdateIssue(ctx context.Context, containerID, issueID string, attrs IssueAttributes) (*Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls = append(m.UpdateCalls, UpdateCall{ContainerID: containerID, IssueID: issueID, Attrs: attrs})

	if m.UpdateError != nil {
		return nil, m.UpdateError
	}
	if m.UpdateIssueFunc != nil {
		return m.UpdateIssueFunc(containerID, issueID, attrs)
	}

	for i := range m.Issues {
		if m.Issues[i].ID == issueID {
			issue := m.Issues[i]
			if title, ok := attrs["title"].(string); ok {
				issue.Title = title
			}
			if status, ok := attrs["status"].(string); ok {
				issue.Status = status
			}
			return &issue, nil
		}
	}
	return nil, &ClientError{Type: "not_found", Message: "issue not found", Context: issueID}
}

func (m *MockClient) ListIssueTypesPage(ctx context.Context, containerID string, offset, limit int) ([]IssueType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListTypesCalls++
	return pageOf(m.IssueTypes, offset, limit), nil
}

func (m *MockClient) ListAttributeDefinitionsPage(ctx context.Context, containerID string, offset, limit int) ([]AttributeDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return pageOf(m.AttributeDefs, offset, limit), nil
}

func (m *MockClient) ListLocationsPage(ctx context.Context, containerID string, offset, limit int) ([]Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LocationsError != nil {
		return nil, m.LocationsError
	}
	return pageOf(m.Locations, offset, limit), nil
}

func (m *MockClient) ListProjectUsersPage(ctx context.Context, projectID, nextURL string) ([]User, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListUsersCalls++
	// Single page; admin pagination is exercised against the HTTP client.
	return m.Users, "", nil
}

func (m *MockClient) ListTopFolders(ctx context.Context, hubID, projectID string) ([]Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.TopFolders, nil
}

func (m *MockClient) ListFolderContents(ctx context.Context, projectID, folderID string) ([]Document, []Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FolderItems[folderID], m.FolderChildren[folderID], nil
}

func (m *MockClient) GetItemsBatch(ctx context.Context, projectID string, itemIDs []string) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchCalls = append(m.BatchCalls, itemIDs)

	if len(m.BatchErrors) > 0 {
		err := m.BatchErrors[0]
		m.BatchErrors = m.BatchErrors[1:]
		if err != nil {
			return nil, err
		}
	}

	var documents []Document
	for _, id := range itemIDs {
		if doc, ok := m.Items[id]; ok {
			documents = append(documents, doc)
		}
	}
	return documents, nil
}

func pageOf[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	page := make([]T, end-offset)
	copy(page, items[offset:end])
	return page
}
