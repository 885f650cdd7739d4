// Package loader fetches BIM360 reference data and issues, hiding the
// service's paging behind complete, order-preserving collections.
package loader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/petrbroz/bim360-issue-editor/pkg/forge"
)

// DefaultPageSize is the page length used when fetching complete collections.
const DefaultPageSize = 128

// batchChunkSize bounds one bulk document lookup call.
const batchChunkSize = 50

// maxBatchRetries caps the retries of one rate-limited lookup chunk.
const maxBatchRetries = 3

// Page requests a single caller-driven page instead of a full fetch.
type Page struct {
	Offset int
	Limit  int
}

// Loader wraps a forge client with full-pagination and fan-out logic.
type Loader struct {
	client   forge.Client
	log      logr.Logger
	pageSize int
}

// New creates a loader. A pageSize of zero falls back to DefaultPageSize.
func New(client forge.Client, log logr.Logger, pageSize int) *Loader {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Loader{client: client, log: log, pageSize: pageSize}
}

// Issues fetches issues matching the filter. With a nil page the whole
// collection is fetched (offset 0, fixed page size, concatenating until a
// short page); with a non-nil page exactly that page is returned.
func (l *Loader) Issues(ctx context.Context, containerID string, filter forge.IssueFilter, page *Page) ([]forge.Issue, error) {
	if page != nil {
		l.log.V(1).Info("fetching issues page", "offset", page.Offset, "limit", page.Limit)
		return l.client.ListIssuesPage(ctx, containerID, filter, page.Offset, page.Limit)
	}
	return fetchAll(l.pageSize, func(offset, limit int) ([]forge.Issue, error) {
		l.log.V(1).Info("fetching issues page", "offset", offset, "limit", limit)
		return l.client.ListIssuesPage(ctx, containerID, filter, offset, limit)
	})
}

// IssueTypes fetches the complete issue type taxonomy.
func (l *Loader) IssueTypes(ctx context.Context, containerID string) ([]forge.IssueType, error) {
	l.log.V(1).Info("fetching issue types")
	return fetchAll(l.pageSize, func(offset, limit int) ([]forge.IssueType, error) {
		return l.client.ListIssueTypesPage(ctx, containerID, offset, limit)
	})
}

// AttributeDefinitions fetches all custom attribute definitions.
func (l *Loader) AttributeDefinitions(ctx context.Context, containerID string) ([]forge.AttributeDefinition, error) {
	l.log.V(1).Info("fetching attribute definitions")
	return fetchAll(l.pageSize, func(offset, limit int) ([]forge.AttributeDefinition, error) {
		return l.client.ListAttributeDefinitionsPage(ctx, containerID, offset, limit)
	})
}

// Locations fetches all location tree nodes. Locations are an optional
// feature: when the fetch fails the result is an empty collection and a
// warning, never an error.
func (l *Loader) Locations(ctx context.Context, containerID string) []forge.Location {
	if containerID == "" {
		return nil
	}
	locations, err := fetchAll(l.pageSize, func(offset, limit int) ([]forge.Location, error) {
		l.log.V(1).Info("fetching locations page", "offset", offset, "limit", limit)
		return l.client.ListLocationsPage(ctx, containerID, offset, limit)
	})
	if err != nil {
		l.log.Error(err, "could not load locations; the Locations worksheet will be empty")
		return nil
	}
	return locations
}

// Users fetches all project users from the admin API, following
// pagination.nextUrl until the last page.
func (l *Loader) Users(ctx context.Context, projectID string) ([]forge.User, error) {
	var users []forge.User
	nextURL := ""
	for {
		l.log.V(1).Info("fetching users page", "nextUrl", nextURL)
		page, next, err := l.client.ListProjectUsersPage(ctx, projectID, nextURL)
		if err != nil {
			return nil, err
		}
		users = append(users, page...)
		if next == "" {
			return users, nil
		}
		nextURL = next
	}
}

// DocumentsByWalk discovers all documents in the project by walking the
// folder tree from the top-level folders. The walk keeps an explicit frontier
// of folder ids and fetches each level's folders concurrently, which bounds
// concurrency on deep trees.
func (l *Loader) DocumentsByWalk(ctx context.Context, hubID, projectID string) ([]forge.Document, error) {
	l.log.V(1).Info("fetching documents", "hub", hubID, "project", projectID)
	topFolders, err := l.client.ListTopFolders(ctx, hubID, projectID)
	if err != nil {
		return nil, err
	}

	var (
		mu        sync.Mutex
		documents []forge.Document
	)
	frontier := make([]string, 0, len(topFolders))
	for _, folder := range topFolders {
		frontier = append(frontier, folder.ID)
	}

	for len(frontier) > 0 {
		next := make([]string, 0)
		group, groupCtx := errgroup.WithContext(ctx)
		for _, folderID := range frontier {
			folderID := folderID
			group.Go(func() error {
				items, subfolders, err := l.client.ListFolderContents(groupCtx, projectID, folderID)
				if err != nil {
					return err
				}
				mu.Lock()
				documents = append(documents, items...)
				for _, sub := range subfolders {
					next = append(next, sub.ID)
				}
				mu.Unlock()
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}
		frontier = next
	}
	return documents, nil
}

// DocumentsByIDs resolves a known set of issue-referenced document ids in
// chunks of 50 through the bulk lookup call. A rate-limited chunk sleeps the
// server's Retry-After and retries, at most 3 times; a chunk that keeps
// failing is logged and skipped, so its documents are simply missing from
// the result.
func (l *Loader) DocumentsByIDs(ctx context.Context, projectID string, itemIDs []string) []forge.Document {
	var documents []forge.Document
	for start := 0; start < len(itemIDs); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(itemIDs) {
			end = len(itemIDs)
		}
		chunk := itemIDs[start:end]

		batch, err := l.resolveChunk(ctx, projectID, chunk)
		if err != nil {
			l.log.Error(err, "could not resolve document chunk", "offset", start, "size", len(chunk))
			continue
		}
		documents = append(documents, batch...)
	}
	return documents
}

// resolveChunk fetches one lookup chunk, honoring server-driven retries.
func (l *Loader) resolveChunk(ctx context.Context, projectID string, chunk []string) ([]forge.Document, error) {
	retry := &serverDrivenBackOff{}
	policy := backoff.WithContext(backoff.WithMaxRetries(retry, maxBatchRetries), ctx)

	var documents []forge.Document
	operation := func() error {
		batch, err := l.client.GetItemsBatch(ctx, projectID, chunk)
		if err != nil {
			if retryAfter, ok := forge.IsRateLimitError(err); ok {
				l.log.V(1).Info("document lookup rate limited", "retryAfter", retryAfter)
				retry.delay = retryAfter
				return err
			}
			return backoff.Permanent(err)
		}
		documents = batch
		return nil
	}
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return documents, nil
}

// serverDrivenBackOff sleeps exactly as long as the service's last
// Retry-After asked for.
type serverDrivenBackOff struct {
	delay time.Duration
}

func (b *serverDrivenBackOff) NextBackOff() time.Duration {
	if b.delay <= 0 {
		return time.Second
	}
	return b.delay
}

func (b *serverDrivenBackOff) Reset() {}

// ExportRequest identifies the container hierarchy to export from.
type ExportRequest struct {
	IssueContainerID    string
	LocationContainerID string
	HubID               string
	ProjectID           string
	Filter              forge.IssueFilter
	Page                *Page

	// ReferencedDocumentsOnly resolves just the documents the exported issues
	// point at, through the bulk lookup, instead of walking the whole project
	// folder tree.
	ReferencedDocumentsOnly bool
}

// ExportData is everything the exporter needs to assemble a workbook.
type ExportData struct {
	Issues        []forge.Issue
	Types         []forge.IssueType
	Users         []forge.User
	Locations     []forge.Location
	AttributeDefs []forge.AttributeDefinition
	Documents     []forge.Document
}

// ExportData fetches issues and all reference collections. Independent
// collections are fetched concurrently; paging within each collection stays
// sequential.
func (l *Loader) ExportData(ctx context.Context, req ExportRequest) (*ExportData, error) {
	data := &ExportData{}
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		issues, err := l.Issues(groupCtx, req.IssueContainerID, req.Filter, req.Page)
		if err != nil {
			return fmt.Errorf("failed to load issues: %w", err)
		}
		data.Issues = issues
		// Resolving only the referenced documents needs the issues first, so
		// the lookup chains onto this fetch instead of running alongside it.
		if req.ReferencedDocumentsOnly {
			data.Documents = l.DocumentsByIDs(groupCtx, req.ProjectID, issueDocumentIDs(issues))
		}
		return nil
	})
	group.Go(func() error {
		types, err := l.IssueTypes(groupCtx, req.IssueContainerID)
		if err != nil {
			return fmt.Errorf("failed to load issue types: %w", err)
		}
		data.Types = types
		return nil
	})
	group.Go(func() error {
		users, err := l.Users(groupCtx, req.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to load users: %w", err)
		}
		data.Users = users
		return nil
	})
	group.Go(func() error {
		data.Locations = l.Locations(groupCtx, req.LocationContainerID)
		return nil
	})
	group.Go(func() error {
		defs, err := l.AttributeDefinitions(groupCtx, req.IssueContainerID)
		if err != nil {
			return fmt.Errorf("failed to load attribute definitions: %w", err)
		}
		data.AttributeDefs = defs
		return nil
	})
	if !req.ReferencedDocumentsOnly {
		group.Go(func() error {
			documents, err := l.DocumentsByWalk(groupCtx, req.HubID, req.ProjectID)
			if err != nil {
				return fmt.Errorf("failed to load documents: %w", err)
			}
			data.Documents = documents
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return data, nil
}

// issueDocumentIDs collects the distinct document ids referenced by the
// issues, in first-seen order.
func issueDocumentIDs(issues []forge.Issue) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, issue := range issues {
		if issue.TargetURN == "" || seen[issue.TargetURN] {
			continue
		}
		seen[issue.TargetURN] = true
		ids = append(ids, issue.TargetURN)
	}
	return ids
}

// fetchAll repeatedly requests the next page starting at offset 0 and
// concatenates results until a page comes back shorter than requested.
func fetchAll[T any](pageSize int, fetch func(offset, limit int) ([]T, error)) ([]T, error) {
	var results []T
	offset := 0
	for {
		page, err := fetch(offset, pageSize)
		if err != nil {
			return nil, err
		}
		results = append(results, page...)
		if len(page) < pageSize {
			return results, nil
		}
		offset += len(page)
	}
}
