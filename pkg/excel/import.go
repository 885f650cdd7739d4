package excel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/xuri/excelize/v2"

	"github.com/petrbroz/bim360-issue-editor/pkg/forge"
	"github.com/petrbroz/bim360-issue-editor/pkg/loader"
	"github.com/petrbroz/bim360-issue-editor/pkg/reconcile"
)

// Importer parses an edited workbook and pushes its changes back to the
// issues service. Rows with a known issue id are reconciled against a fresh
// server snapshot; rows without one create new issues.
type Importer struct {
	client forge.Client
	loader *loader.Loader
	log    logr.Logger
}

// NewImporter creates an importer.
func NewImporter(client forge.Client, log logr.Logger) *Importer {
	return &Importer{
		client: client,
		loader: loader.New(client, log, 0),
		log:    log,
	}
}

// ImportOptions tune how the import runs.
type ImportOptions struct {
	// Sequential processes rows one at a time in sheet order instead of
	// concurrently. Slower, but the write order is deterministic.
	Sequential bool

	// FromRow and ToRow restrict the import to a closed range of sheet row
	// numbers. A zero bound leaves that side open.
	FromRow int
	ToRow   int
}

// includesRow reports whether the sheet row number falls inside the
// configured range.
func (o ImportOptions) includesRow(row int) bool {
	if o.FromRow > 0 && row < o.FromRow {
		return false
	}
	if o.ToRow > 0 && row > o.ToRow {
		return false
	}
	return true
}

// Success records one row whose changes were written. Rows that needed no
// write at all appear in neither ledger.
type Success struct {
	Row     int          `json:"row"`
	Number  int          `json:"number"`
	IssueID string       `json:"id"`
	Issue   *forge.Issue `json:"-"`
}

// Failure records one row that could not be parsed or written. A failed row
// never stops the remaining rows.
type Failure struct {
	Row     int
	IssueID string
	Err     error
}

// MarshalJSON serializes the failure with the error's message; a bare error
// value would otherwise marshal as an empty object.
func (f Failure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Row   int    `json:"row"`
		ID    string `json:"id,omitempty"`
		Error string `json:"error"`
	}{Row: f.Row, ID: f.IssueID, Error: f.Err.Error()})
}

// Result is the per-row ledger of one import run.
type Result struct {
	Succeeded []Success `json:"succeeded"`
	Failed    []Failure `json:"failed"`
}

// rowEdit is one parsed data row: the issue it addresses (empty id means
// create) and the candidate attribute values read from its cells.
type rowEdit struct {
	row     int
	issueID string
	attrs   forge.IssueAttributes
}

// customColumn binds one sheet column to the attribute definition whose
// title matches its header.
type customColumn struct {
	index int
	def   forge.AttributeDefinition
}

// Import reads the Issues sheet of an exported workbook and applies the
// edits. Structural problems (unreadable workbook, missing sheet, snapshot
// fetch failure) abort with an error; per-row problems are collected in the
// result and never stop other rows.
func (i *Importer) Import(ctx context.Context, containerID string, workbook []byte, opts ImportOptions) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(workbook))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	// GetRows flattens rich-text cells to their concatenated plain text, so
	// composite cells decode the same whether or not formatting survived.
	rows, err := f.GetRows(SheetIssues)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s sheet: %w", SheetIssues, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("workbook has no %s sheet header", SheetIssues)
	}

	// Fresh server snapshot: reconciliation always diffs against what the
	// service holds now, not what was exported.
	issues, err := i.loader.Issues(ctx, containerID, forge.IssueFilter{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load current issues: %w", err)
	}
	defs, err := i.loader.AttributeDefinitions(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attribute definitions: %w", err)
	}

	byID := make(map[string]*forge.Issue, len(issues))
	for idx := range issues {
		byID[issues[idx].ID] = &issues[idx]
	}
	customColumns := matchCustomColumns(rows[0], defs)

	result := &Result{Succeeded: []Success{}, Failed: []Failure{}}
	var mu sync.Mutex

	process := func(edit rowEdit, parseErr error) {
		if parseErr == nil && edit.issueID == "" && len(withoutEmpty(edit.attrs)) == 0 {
			// Blank filler row, not an edit.
			return
		}
		var issue *forge.Issue
		var skipped bool
		if parseErr == nil {
			issue, skipped, parseErr = i.applyRow(ctx, containerID, byID, edit)
		}
		if parseErr == nil && skipped {
			// No-op row: nothing was written, so neither ledger records it.
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if parseErr != nil {
			i.log.Error(parseErr, "row failed", "row", edit.row, "issue", edit.issueID)
			result.Failed = append(result.Failed, Failure{Row: edit.row, IssueID: edit.issueID, Err: parseErr})
			return
		}
		result.Succeeded = append(result.Succeeded, Success{
			Row:     edit.row,
			Number:  issue.Identifier,
			IssueID: issue.ID,
			Issue:   issue,
		})
	}

	if opts.Sequential {
		for rowIndex := 1; rowIndex < len(rows); rowIndex++ {
			if !opts.includesRow(rowIndex + 1) {
				continue
			}
			edit, parseErr := parseRow(rows[rowIndex], rowIndex+1, customColumns)
			process(edit, parseErr)
		}
		return result, nil
	}

	var wg sync.WaitGroup
	for rowIndex := 1; rowIndex < len(rows); rowIndex++ {
		if !opts.includesRow(rowIndex + 1) {
			continue
		}
		edit, parseErr := parseRow(rows[rowIndex], rowIndex+1, customColumns)
		wg.Add(1)
		go func() {
			defer wg.Done()
			process(edit, parseErr)
		}()
	}
	wg.Wait()
	return result, nil
}

// applyRow writes one row's changes: diff-and-update for a known issue id,
// create for an unknown or empty one. A row whose fields all match the
// server state is skipped without any call.
func (i *Importer) applyRow(ctx context.Context, containerID string, byID map[string]*forge.Issue, edit rowEdit) (*forge.Issue, bool, error) {
	if current, ok := byID[edit.issueID]; ok {
		plan := reconcile.Diff(current, edit.attrs)
		if plan.IsNoop() {
			return current, true, nil
		}
		issue, err := reconcile.Apply(ctx, i.client, containerID, current, plan)
		return issue, false, err
	}

	attrs := withoutEmpty(edit.attrs)
	if _, ok := attrs["title"]; !ok {
		return nil, false, fmt.Errorf("cannot create issue without a title")
	}
	issue, err := i.client.CreateIssue(ctx, containerID, attrs)
	return issue, false, err
}

// matchCustomColumns pairs the sheet columns past the fixed set with the
// attribute definitions whose titles match their headers. Unmatched columns
// are ignored.
func matchCustomColumns(header []string, defs []forge.AttributeDefinition) []customColumn {
	var columns []customColumn
	for index := issueColumnCount; index < len(header); index++ {
		for _, def := range defs {
			if def.Title == header[index] {
				columns = append(columns, customColumn{index: index, def: def})
				break
			}
		}
	}
	return columns
}

// parseRow converts one data row into candidate attribute values. A cell
// that cannot be decoded is a hard failure for this row only.
func parseRow(row []string, rowNumber int, customColumns []customColumn) (rowEdit, error) {
	cell := func(index int) string {
		if index < len(row) {
			return row[index]
		}
		return ""
	}

	edit := rowEdit{row: rowNumber, issueID: cell(0), attrs: forge.IssueAttributes{}}

	if raw := cell(2); raw != "" {
		typeID, subtypeID, ok := DecodeNameIDPair(raw)
		if !ok {
			return edit, fmt.Errorf("could not parse issue type %q", raw)
		}
		edit.attrs["ng_issue_type_id"] = typeID
		edit.attrs["ng_issue_subtype_id"] = subtypeID
	}

	edit.attrs["title"] = cell(3)
	edit.attrs["description"] = cell(4)
	edit.attrs["assigned_to_type"] = cell(8)
	edit.attrs["due_date"] = parseDate(cell(12))
	edit.attrs["location_description"] = cell(14)
	edit.attrs["status"] = cell(16)
	edit.attrs["answer"] = cell(17)

	for field, index := range map[string]int{
		"assigned_to":  7,
		"owner":        9,
		"lbs_location": 13,
		"target_urn":   15,
	} {
		raw := cell(index)
		if raw == "" {
			edit.attrs[field] = ""
			continue
		}
		id, ok := DecodeNameID(raw)
		if !ok {
			return edit, fmt.Errorf("could not parse %s %q", field, raw)
		}
		edit.attrs[field] = id
	}

	var customAttrs []forge.CustomAttribute
	for _, column := range customColumns {
		raw := cell(column.index)
		if raw == "" {
			continue
		}
		value := any(raw)
		if column.def.Type == "list" {
			id, ok := column.def.OptionID(raw)
			if !ok {
				return edit, fmt.Errorf("unknown option %q for attribute %q", raw, column.def.Title)
			}
			value = id
		}
		customAttrs = append(customAttrs, forge.CustomAttribute{
			ID:    column.def.ID,
			Type:  column.def.Type,
			Value: value,
		})
	}
	if len(customAttrs) > 0 {
		edit.attrs["custom_attributes"] = customAttrs
	}

	return edit, nil
}

// withoutEmpty drops empty-valued fields, leaving only the values a create
// call should carry.
func withoutEmpty(attrs forge.IssueAttributes) forge.IssueAttributes {
	filtered := forge.IssueAttributes{}
	for key, value := range attrs {
		switch v := value.(type) {
		case string:
			if v == "" {
				continue
			}
		case nil:
			continue
		}
		filtered[key] = value
	}
	return filtered
}
