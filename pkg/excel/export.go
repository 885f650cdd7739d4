package excel

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/xuri/excelize/v2"

	"github.com/petrbroz/bim360-issue-editor/pkg/forge"
	"github.com/petrbroz/bim360-issue-editor/pkg/loader"
)

// Worksheet names of the exported workbook.
const (
	SheetIssues    = "Issues"
	SheetTypes     = "Types"
	SheetOwners    = "Owners"
	SheetLocations = "Locations"
	SheetDocuments = "Documents"
)

const workbookCreator = "bim360-issue-editor"

// locationSeparator joins the ancestor chain in resolved location paths.
const locationSeparator = " > "

// Exporter assembles fetched issues and reference collections into a
// workbook with cross-referencing, validation and protection rules. Export
// is read-only with respect to the remote system.
type Exporter struct {
	log logr.Logger
}

// NewExporter creates an exporter.
func NewExporter(log logr.Logger) *Exporter {
	return &Exporter{log: log}
}

// Export builds the five-sheet workbook from the loaded data.
func (e *Exporter) Export(data *loader.ExportData) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetIssues); err != nil {
		return nil, err
	}
	for _, sheet := range []string{SheetTypes, SheetOwners, SheetLocations, SheetDocuments} {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	_ = f.SetDocProps(&excelize.DocProperties{Creator: workbookCreator})

	lookups := newLookups(data)

	if err := e.fillIssues(f, data, lookups); err != nil {
		return nil, fmt.Errorf("failed to fill %s sheet: %w", SheetIssues, err)
	}
	if err := e.fillTypes(f, data.Types); err != nil {
		return nil, fmt.Errorf("failed to fill %s sheet: %w", SheetTypes, err)
	}
	if err := e.fillOwners(f, data.Users); err != nil {
		return nil, fmt.Errorf("failed to fill %s sheet: %w", SheetOwners, err)
	}
	if err := e.fillLocations(f, data.Locations); err != nil {
		return nil, fmt.Errorf("failed to fill %s sheet: %w", SheetLocations, err)
	}
	if err := e.fillDocuments(f, data.Documents); err != nil {
		return nil, fmt.Errorf("failed to fill %s sheet: %w", SheetDocuments, err)
	}
	return f, nil
}

// ExportBytes builds the workbook and serializes it.
func (e *Exporter) ExportBytes(data *loader.ExportData) ([]byte, error) {
	f, err := e.Export(data)
	if err != nil {
		return nil, err
	}
	buffer, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	return buffer.Bytes(), nil
}

// lookups indexes the reference collections for per-cell formatting.
type lookups struct {
	types     []forge.IssueType
	users     map[string]forge.User
	locations map[string]forge.Location
	documents map[string]forge.Document
}

func newLookups(data *loader.ExportData) *lookups {
	l := &lookups{
		types:     data.Types,
		users:     make(map[string]forge.User, len(data.Users)),
		locations: make(map[string]forge.Location, len(data.Locations)),
		documents: make(map[string]forge.Document, len(data.Documents)),
	}
	for _, user := range data.Users {
		l.users[user.ID] = user
	}
	for _, location := range data.Locations {
		l.locations[location.ID] = location
	}
	for _, document := range data.Documents {
		l.documents[document.ID] = document
	}
	return l
}

// formatType renders a subtype id as "{type} > {subtype} [{tid},{sid}]".
func (l *lookups) formatType(subtypeID string) cellValue {
	if subtypeID == "" {
		return cellValue{}
	}
	for _, issueType := range l.types {
		for _, subtype := range issueType.Subtypes {
			if subtype.ID == subtypeID {
				label := issueType.Title + " > " + subtype.Title
				return richCell(label, issueType.ID+","+subtypeID)
			}
		}
	}
	return cellValue{}
}

// formatUser renders a user id as "{name} [{id}]".
func (l *lookups) formatUser(userID string) cellValue {
	if user, ok := l.users[userID]; ok {
		return richCell(user.Name, user.ID)
	}
	return cellValue{}
}

// formatLocation renders a location id as "{name} [{id}]".
func (l *lookups) formatLocation(locationID string) cellValue {
	if location, ok := l.locations[locationID]; ok {
		return richCell(location.Name, location.ID)
	}
	return cellValue{}
}

// formatDocument renders a document id as "{displayName} [{id}]".
func (l *lookups) formatDocument(documentID string) cellValue {
	if document, ok := l.documents[documentID]; ok {
		id := document.ID
		if id == "" {
			id = document.PathInProject
		}
		return richCell(document.DisplayName, id)
	}
	return cellValue{}
}

// cellValue carries either a plain value or rich text runs for one cell.
type cellValue struct {
	plain any
	rich  []excelize.RichTextRun
}

func plainCell(value any) cellValue {
	return cellValue{plain: value}
}

func richCell(name, id string) cellValue {
	return cellValue{rich: EncodeNameIDRich(name, id)}
}

// issueColumn describes one Issues sheet column: its attribute key, header,
// whether it is server-managed (locked), and how a raw issue value renders
// into a cell.
type issueColumn struct {
	key    string
	title  string
	width  float64
	locked bool
	format func(l *lookups, issue *forge.Issue) cellValue
}

// issueColumns returns the canonical Issues sheet column set, in order.
// Custom attribute columns follow these at export time.
func issueColumns() []issueColumn {
	return []issueColumn{
		{key: "id", title: "ID", width: 12, locked: true,
			format: func(l *lookups, i *forge.Issue) cellValue { return plainCell(i.ID) }},
		{key: "identifier", title: "#", width: 8, locked: true,
			format: func(l *lookups, i *forge.Issue) cellValue { return plainCell(i.Identifier) }},
		{key: "ng_issue_subtype_id", title: "Type", width: 24,
			format: func(l *lookups, i *forge.Issue) cellValue { return l.formatType(i.IssueSubtypeID) }},
		{key: "title", title: "Title", width: 32,
			format: func(l *lookups, i *forge.Issue) cellValue { return plainCell(i.Title) }},
		{key: "description", title: "Description", width: 32,
			format: func(l *lookups, i *forge.Issue) cellValue { return plainCell(i.Description) }},
		{key: "created_by", title: "Created by", width: 16, locked: true,
			format: func(l *lookups, i *forge.Issue) cellValue { return l.formatUser(i.CreatedBy) }},
		{key: "updated_by", title: "Updated by", width: 16, locked: true,
			format: func(l *lookups, i *forge.Issue) cellValue { return l.formatUser(i.UpdatedBy) }},
		{key: "assigned_to", title: "Assigned to", width: 16,
			format: func(l *lookups, i *forge.Issue) cellValue { return l.formatUser(i.AssignedTo) }},
		{key: "assigned_to_type", title: "Assignee type", width: 12,
			format: func(l *lookups, i *forge.Issue) cellValue { return plainCell(i.AssigneeType) }},
		{key: "owner", title: "Owner", width: 16,
			format: func(l *lookups, i *forge.Issue) cellValue { return l.formatUser(i.Owner) }},
		{key: "created_at", title: "Created on", width: 20, locked: true,
			format: func(l *lookups, i *forge.Issue) cellValue { return plainCell(formatDate(i.CreatedAt)) }},
		{key: "updated_at", title: "Updated on", width: 20, locked: true,
			format: func(l *lookups, i *forge.Issue) cellValue { return plainCell(formatDate(i.UpdatedAt)) }},
		{key: "due_date", title: "Due date", width: 20,
			format: func(l *lookups, i *forge.Issue) cellValue { return plainCell(formatDate(i.DueDate)) }},
		{key: "lbs_location", title: "Location", width: 20,
			format: func(l *lookups, i *forge.Issue) cellValue { return l.formatLocation(i.LbsLocation) }},
		{key: "location_description", title: "Location details", width: 24,
			format: func(l *lookups, i *forge.Issue) cellValue { return plainCell(i.LocationDescription) }},
		{key: "target_urn", title: "Document", width: 32,
			format: func(l *lookups, i *forge.Issue) cellValue { return l.formatDocument(i.TargetURN) }},
		{key: "status", title: "Status", width: 16,
			format: func(l *lookups, i *forge.Issue) cellValue { return plainCell(i.Status) }},
		{key: "answer", title: "Answer", width: 32,
			format: func(l *lookups, i *forge.Issue) cellValue { return plainCell(i.Answer) }},
		{key: "comment_count", title: "Comments", width: 8, locked: true,
			format: func(l *lookups, i *forge.Issue) cellValue { return plainCell(i.CommentCount) }},
		{key: "attachment_count", title: "Attachments", width: 8, locked: true,
			format: func(l *lookups, i *forge.Issue) cellValue { return plainCell(i.AttachmentCount) }},
	}
}

// issueColumnCount is the number of fixed Issues sheet columns preceding the
// custom attribute columns.
var issueColumnCount = len(issueColumns())

func (e *Exporter) fillIssues(f *excelize.File, data *loader.ExportData, lookups *lookups) error {
	columns := issueColumns()

	// Header row: fixed columns, then one column per attribute definition.
	headers := make([]any, 0, len(columns)+len(data.AttributeDefs))
	for _, column := range columns {
		headers = append(headers, column.title)
	}
	for _, def := range data.AttributeDefs {
		headers = append(headers, def.Title)
	}
	if err := f.SetSheetRow(SheetIssues, "A1", &headers); err != nil {
		return err
	}

	for rowIndex, issue := range data.Issues {
		rowNumber := rowIndex + 2
		for colIndex, column := range columns {
			value := column.format(lookups, &issue)
			if err := setCell(f, SheetIssues, colIndex+1, rowNumber, value); err != nil {
				return err
			}
		}
		for defIndex, def := range data.AttributeDefs {
			value := customAttributeCell(&issue, &def)
			if err := setCell(f, SheetIssues, len(columns)+defIndex+1, rowNumber, value); err != nil {
				return err
			}
		}
	}

	// Column widths and unlocked styles for editable columns.
	unlocked, err := f.NewStyle(&excelize.Style{Protection: &excelize.Protection{Locked: false}})
	if err != nil {
		return err
	}
	lastRow := len(data.Issues) + 1
	for colIndex, column := range columns {
		name, err := excelize.ColumnNumberToName(colIndex + 1)
		if err != nil {
			return err
		}
		_ = f.SetColWidth(SheetIssues, name, name, column.width)
		if !column.locked && lastRow > 1 {
			if err := f.SetCellStyle(SheetIssues,
				fmt.Sprintf("%s2", name), fmt.Sprintf("%s%d", name, lastRow), unlocked); err != nil {
				return err
			}
		}
	}
	for defIndex := range data.AttributeDefs {
		name, err := excelize.ColumnNumberToName(len(columns) + defIndex + 1)
		if err != nil {
			return err
		}
		_ = f.SetColWidth(SheetIssues, name, name, 20)
		if lastRow > 1 {
			if err := f.SetCellStyle(SheetIssues,
				fmt.Sprintf("%s2", name), fmt.Sprintf("%s%d", name, lastRow), unlocked); err != nil {
				return err
			}
		}
	}

	if err := e.addIssueValidations(f, data, columns); err != nil {
		return err
	}

	return protectSheet(f, SheetIssues)
}

// addIssueValidations wires the declarative input constraints: the status
// enum and the cross-sheet dropdowns pointing at the reference sheets'
// composite columns.
func (e *Exporter) addIssueValidations(f *excelize.File, data *loader.ExportData, columns []issueColumn) error {
	if len(data.Issues) == 0 {
		return nil
	}
	lastRow := len(data.Issues) + 1

	sqref := func(key string) (string, error) {
		for colIndex, column := range columns {
			if column.key == key {
				name, err := excelize.ColumnNumberToName(colIndex + 1)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%s2:%s%d", name, name, lastRow), nil
			}
		}
		return "", fmt.Errorf("unknown issue column %q", key)
	}

	addDropList := func(key string, values []string) error {
		ref, err := sqref(key)
		if err != nil {
			return err
		}
		dv := excelize.NewDataValidation(true)
		dv.Sqref = ref
		if err := dv.SetDropList(values); err != nil {
			return err
		}
		return f.AddDataValidation(SheetIssues, dv)
	}

	addSheetDropList := func(key, sheet, column string, count int) error {
		if count == 0 {
			return nil
		}
		ref, err := sqref(key)
		if err != nil {
			return err
		}
		dv := excelize.NewDataValidation(true)
		dv.Sqref = ref
		dv.SetSqrefDropList(fmt.Sprintf("%s!$%s$2:$%s$%d", sheet, column, column, count+1))
		return f.AddDataValidation(SheetIssues, dv)
	}

	if err := addDropList("status", forge.IssueStatuses()); err != nil {
		return err
	}

	subtypeCount := 0
	for _, issueType := range data.Types {
		subtypeCount += len(issueType.Subtypes)
	}
	if err := addSheetDropList("ng_issue_subtype_id", SheetTypes, "E", subtypeCount); err != nil {
		return err
	}
	if err := addSheetDropList("assigned_to", SheetOwners, "C", len(data.Users)); err != nil {
		return err
	}
	if err := addSheetDropList("owner", SheetOwners, "C", len(data.Users)); err != nil {
		return err
	}
	if err := addSheetDropList("lbs_location", SheetLocations, "E", len(data.Locations)); err != nil {
		return err
	}
	if err := addSheetDropList("target_urn", SheetDocuments, "C", len(data.Documents)); err != nil {
		return err
	}

	// List-type custom attributes constrain edits to their defined options.
	for defIndex, def := range data.AttributeDefs {
		if def.Type != "list" || len(def.Metadata.List.Options) == 0 {
			continue
		}
		values := make([]string, 0, len(def.Metadata.List.Options))
		total := 0
		for _, option := range def.Metadata.List.Options {
			values = append(values, option.Value)
			total += len(option.Value) + 1
		}
		// The inline drop list formula is capped at 255 characters.
		if total > 255 {
			continue
		}
		name, err := excelize.ColumnNumberToName(issueColumnCount + defIndex + 1)
		if err != nil {
			return err
		}
		dv := excelize.NewDataValidation(true)
		dv.Sqref = fmt.Sprintf("%s2:%s%d", name, name, lastRow)
		if err := dv.SetDropList(values); err != nil {
			return err
		}
		if err := f.AddDataValidation(SheetIssues, dv); err != nil {
			return err
		}
	}
	return nil
}

// customAttributeCell renders one custom attribute value: list attributes
// show the option's display value, everything else passes through unchanged.
func customAttributeCell(issue *forge.Issue, def *forge.AttributeDefinition) cellValue {
	for _, attr := range issue.CustomAttributes {
		if attr.ID != def.ID {
			continue
		}
		if def.Type == "list" {
			id, _ := attr.Value.(string)
			if value, ok := def.OptionValue(id); ok {
				return plainCell(value)
			}
			return cellValue{}
		}
		return plainCell(attr.Value)
	}
	return cellValue{}
}

func (e *Exporter) fillTypes(f *excelize.File, types []forge.IssueType) error {
	headers := []any{"Type ID", "Type Name", "Subtype ID", "Subtype Name", ""}
	if err := f.SetSheetRow(SheetTypes, "A1", &headers); err != nil {
		return err
	}
	row := 2
	for _, issueType := range types {
		for _, subtype := range issueType.Subtypes {
			values := []any{issueType.ID, issueType.Title, subtype.ID, subtype.Title}
			if err := f.SetSheetRow(SheetTypes, fmt.Sprintf("A%d", row), &values); err != nil {
				return err
			}
			// Full representation shown in the Issues sheet; decodes back
			// into the type/subtype id pair.
			full := richCell(issueType.Title+" > "+subtype.Title, issueType.ID+","+subtype.ID)
			if err := setCell(f, SheetTypes, 5, row, full); err != nil {
				return err
			}
			row++
		}
	}
	setWidths(f, SheetTypes, 16, 32, 16, 32, 64)
	return protectSheet(f, SheetTypes)
}

func (e *Exporter) fillOwners(f *excelize.File, users []forge.User) error {
	headers := []any{"User ID", "User Name", ""}
	if err := f.SetSheetRow(SheetOwners, "A1", &headers); err != nil {
		return err
	}
	for i, user := range users {
		row := i + 2
		values := []any{user.ID, user.Name}
		if err := f.SetSheetRow(SheetOwners, fmt.Sprintf("A%d", row), &values); err != nil {
			return err
		}
		if err := setCell(f, SheetOwners, 3, row, richCell(user.Name, user.ID)); err != nil {
			return err
		}
	}
	setWidths(f, SheetOwners, 16, 32, 64)
	return protectSheet(f, SheetOwners)
}

func (e *Exporter) fillLocations(f *excelize.File, locations []forge.Location) error {
	headers := []any{"Location ID", "Parent ID", "Location Name", "Path", ""}
	if err := f.SetSheetRow(SheetLocations, "A1", &headers); err != nil {
		return err
	}
	for i, location := range locations {
		row := i + 2
		path, ok := forge.LocationPath(locations, location.ID, locationSeparator)
		if !ok {
			e.log.Info("cycle detected in location tree, using node name only", "location", location.ID)
			path = location.Name
		}
		values := []any{location.ID, location.ParentID, location.Name, path}
		if err := f.SetSheetRow(SheetLocations, fmt.Sprintf("A%d", row), &values); err != nil {
			return err
		}
		if err := setCell(f, SheetLocations, 5, row, richCell(location.Name, location.ID)); err != nil {
			return err
		}
	}
	setWidths(f, SheetLocations, 16, 16, 32, 48, 64)
	return protectSheet(f, SheetLocations)
}

func (e *Exporter) fillDocuments(f *excelize.File, documents []forge.Document) error {
	headers := []any{"Document URN", "Document Name", ""}
	if err := f.SetSheetRow(SheetDocuments, "A1", &headers); err != nil {
		return err
	}
	for i, document := range documents {
		row := i + 2
		values := []any{document.ID, document.DisplayName}
		if err := f.SetSheetRow(SheetDocuments, fmt.Sprintf("A%d", row), &values); err != nil {
			return err
		}
		if err := setCell(f, SheetDocuments, 3, row, richCell(document.DisplayName, document.ID)); err != nil {
			return err
		}
	}
	setWidths(f, SheetDocuments, 48, 32, 64)
	return protectSheet(f, SheetDocuments)
}

// setCell writes one cell, choosing between a plain value and rich text.
func setCell(f *excelize.File, sheet string, col, row int, value cellValue) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if value.rich != nil {
		return f.SetCellRichText(sheet, cell, value.rich)
	}
	if value.plain == nil {
		return nil
	}
	return f.SetCellValue(sheet, cell, value.plain)
}

func setWidths(f *excelize.File, sheet string, widths ...float64) {
	for i, width := range widths {
		if name, err := excelize.ColumnNumberToName(i + 1); err == nil {
			_ = f.SetColWidth(sheet, name, name, width)
		}
	}
}

// protectSheet turns on worksheet protection; only cells with an unlocked
// style stay editable.
func protectSheet(f *excelize.File, sheet string) error {
	return f.ProtectSheet(sheet, &excelize.SheetProtectionOptions{
		SelectLockedCells:   true,
		SelectUnlockedCells: true,
		Sort:                true,
		AutoFilter:          true,
	})
}

// formatDate renders an ISO datetime as "YYYY-MM-DD HH:MM:SS" in UTC,
// seconds precision. Missing or unparsable dates render empty.
func formatDate(value string) string {
	if value == "" {
		return ""
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Format("2006-01-02 15:04:05")
		}
	}
	return ""
}

// parseDate converts a sheet date back into the ISO form the service
// expects. Empty stays empty; anything unparsable passes through so the
// service can reject it.
func parseDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return value
}
