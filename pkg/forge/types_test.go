package forge

import (
	"encoding/json"
	"testing"
)

func TestUser_UnmarshalJSON_IDVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want User
	}{
		{
			"admin api uid",
			`{"uid": "USER123", "name": "Jane Doe"}`,
			User{ID: "USER123", Name: "Jane Doe"},
		},
		{
			"admin api autodeskId",
			`{"autodeskId": "ADSK456", "name": "John Roe"}`,
			User{ID: "ADSK456", Name: "John Roe"},
		},
		{
			"plain id",
			`{"id": "PLAIN789", "name": "Sam Poe"}`,
			User{ID: "PLAIN789", Name: "Sam Poe"},
		},
		{
			"uid wins over id",
			`{"uid": "UID1", "id": "row-17", "name": "Jane Doe"}`,
			User{ID: "UID1", Name: "Jane Doe"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var user User
			if err := json.Unmarshal([]byte(tt.raw), &user); err != nil {
				t.Fatalf("Unmarshal returned error: %v", err)
			}
			if user != tt.want {
				t.Errorf("got %+v, want %+v", user, tt.want)
			}
		})
	}
}

func TestDocument_UnmarshalJSON_FolderItemShape(t *testing.T) {
	raw := `{
		"type": "items",
		"id": "urn:adsk.wipprod:dm.lineage:abc",
		"attributes": {"displayName": "plan.pdf", "pathInProject": "/Plans"}
	}`

	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if doc.ID != "urn:adsk.wipprod:dm.lineage:abc" {
		t.Errorf("ID = %q, want the item id", doc.ID)
	}
	if doc.DisplayName != "plan.pdf" {
		t.Errorf("DisplayName = %q, want plan.pdf", doc.DisplayName)
	}
	if doc.PathInProject != "/Plans" {
		t.Errorf("PathInProject = %q, want /Plans", doc.PathInProject)
	}
}

func TestDocument_UnmarshalJSON_ItemVersionShape(t *testing.T) {
	// Batch lookups return item versions that point at their parent item
	raw := `{
		"type": "versions",
		"id": "urn:adsk.wipprod:fs.file:vf.xyz?version=3",
		"attributes": {"displayName": "model.rvt"},
		"relationships": {"item": {"data": {"id": "urn:adsk.wipprod:dm.lineage:xyz"}}}
	}`

	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if doc.ID != "urn:adsk.wipprod:dm.lineage:xyz" {
		t.Errorf("ID = %q, want the parent item id", doc.ID)
	}
	if doc.DisplayName != "model.rvt" {
		t.Errorf("DisplayName = %q, want model.rvt", doc.DisplayName)
	}
}

func TestDocument_UnmarshalJSON_TopLevelDisplayNameWins(t *testing.T) {
	raw := `{"id": "item-1", "displayName": "top", "attributes": {"displayName": "nested"}}`

	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if doc.DisplayName != "top" {
		t.Errorf("DisplayName = %q, want top", doc.DisplayName)
	}
}

func TestLocationPath(t *testing.T) {
	locations := []Location{
		{ID: "root", Name: "Building A"},
		{ID: "floor", ParentID: "root", Name: "Level 2"},
		{ID: "room", ParentID: "floor", Name: "Room 201"},
	}

	path, ok := LocationPath(locations, "room", " > ")
	if !ok {
		t.Fatal("LocationPath reported a cycle in an acyclic tree")
	}
	if path != "Building A > Level 2 > Room 201" {
		t.Errorf("path = %q", path)
	}
}

func TestLocationPath_DanglingParent(t *testing.T) {
	locations := []Location{
		{ID: "room", ParentID: "missing", Name: "Room 201"},
	}

	path, ok := LocationPath(locations, "room", " > ")
	if !ok {
		t.Fatal("a dangling parent reference is not a cycle")
	}
	if path != "Room 201" {
		t.Errorf("path = %q, want just the node name", path)
	}
}

func TestLocationPath_Cycle(t *testing.T) {
	locations := []Location{
		{ID: "a", ParentID: "b", Name: "A"},
		{ID: "b", ParentID: "a", Name: "B"},
	}

	_, ok := LocationPath(locations, "a", " > ")
	if ok {
		t.Error("LocationPath should report a cycle")
	}
}

func TestIssue_PermitsAttribute(t *testing.T) {
	issue := &Issue{PermittedAttributes: []string{"title", "status", "answer"}}

	if !issue.PermitsAttribute("status") {
		t.Error("status should be permitted")
	}
	if issue.PermitsAttribute("due_date") {
		t.Error("due_date should not be permitted")
	}

	empty := &Issue{}
	if empty.PermitsAttribute("title") {
		t.Error("nothing is permitted with an empty set")
	}
}

func TestAttributeDefinition_Options(t *testing.T) {
	def := &AttributeDefinition{
		ID:   "attr-1",
		Type: "list",
		Metadata: AttributeMetadata{List: AttributeList{Options: []AttributeOption{
			{ID: "opt-1", Value: "Low"},
			{ID: "opt-2", Value: "High"},
		}}},
	}

	if value, ok := def.OptionValue("opt-2"); !ok || value != "High" {
		t.Errorf("OptionValue(opt-2) = %q, %v", value, ok)
	}
	if _, ok := def.OptionValue("opt-9"); ok {
		t.Error("OptionValue should miss for unknown ids")
	}
	if id, ok := def.OptionID("Low"); !ok || id != "opt-1" {
		t.Errorf("OptionID(Low) = %q, %v", id, ok)
	}
	if _, ok := def.OptionID("Medium"); ok {
		t.Error("OptionID should miss for unknown values")
	}
}

func TestIssueFilter_Query(t *testing.T) {
	filter := IssueFilter{
		DueDate:        "2026-01-01..2026-02-01",
		CreatedBy:      "USER123",
		IssueSubtypeID: "sub-1",
	}

	query := filter.Query()
	if got := query.Get("filter[due_date]"); got != "2026-01-01..2026-02-01" {
		t.Errorf("filter[due_date] = %q", got)
	}
	if got := query.Get("filter[created_by]"); got != "USER123" {
		t.Errorf("filter[created_by] = %q", got)
	}
	if got := query.Get("filter[ng_issue_subtype_id]"); got != "sub-1" {
		t.Errorf("filter[ng_issue_subtype_id] = %q", got)
	}

	// Zero fields must not appear at all
	if _, present := query["filter[owner]"]; present {
		t.Error("empty owner filter should be omitted")
	}
	if len(query) != 3 {
		t.Errorf("query has %d parameters, want 3", len(query))
	}
}

func TestIssueStatuses_Complete(t *testing.T) {
	statuses := IssueStatuses()
	if len(statuses) != 9 {
		t.Fatalf("IssueStatuses returned %d entries, want 9", len(statuses))
	}
	if statuses[0] != StatusVoid || statuses[8] != StatusClosed {
		t.Errorf("unexpected status ordering: %v", statuses)
	}
}
