package forge

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Issue statuses supported by the BIM360 issues service.
const (
	StatusVoid           = "void"
	StatusDraft          = "draft"
	StatusOpen           = "open"
	StatusAnswered       = "answered"
	StatusWorkCompleted  = "work_completed"
	StatusReadyToInspect = "ready_to_inspect"
	StatusInDispute      = "in_dispute"
	StatusNotApproved    = "not_approved"
	StatusClosed         = "closed"
)

// IssueStatuses lists every status literal accepted by the service, in the
// order they are presented to users.
func IssueStatuses() []string {
	return []string{
		StatusVoid,
		StatusDraft,
		StatusOpen,
		StatusAnswered,
		StatusWorkCompleted,
		StatusReadyToInspect,
		StatusInDispute,
		StatusNotApproved,
		StatusClosed,
	}
}

// Issue represents a BIM360 issue as returned by the issues service.
// The record is owned entirely server-side; this tool only reads snapshots
// and submits partial updates.
type Issue struct {
	ID                  string            `json:"id"`
	Identifier          int               `json:"identifier"`
	Title               string            `json:"title"`
	Description         string            `json:"description"`
	Status              string            `json:"status"`
	Owner               string            `json:"owner"`
	CreatedBy           string            `json:"created_by"`
	UpdatedBy           string            `json:"updated_by"`
	AssignedTo          string            `json:"assigned_to"`
	AssigneeType        string            `json:"assigned_to_type"`
	IssueTypeID         string            `json:"ng_issue_type_id"`
	IssueSubtypeID      string            `json:"ng_issue_subtype_id"`
	LbsLocation         string            `json:"lbs_location"`
	LocationDescription string            `json:"location_description"`
	TargetURN           string            `json:"target_urn"`
	DueDate             string            `json:"due_date"`
	CreatedAt           string            `json:"created_at"`
	UpdatedAt           string            `json:"updated_at"`
	Answer              string            `json:"answer"`
	CommentCount        int               `json:"comment_count"`
	AttachmentCount     int               `json:"attachment_count"`
	CustomAttributes    []CustomAttribute `json:"custom_attributes"`
	PermittedAttributes []string          `json:"permitted_attributes"`
}

// PermitsAttribute reports whether the server currently allows the caller to
// modify the given attribute. The permitted set is server-computed and changes
// with issue state.
func (i *Issue) PermitsAttribute(name string) bool {
	for _, attr := range i.PermittedAttributes {
		if attr == name {
			return true
		}
	}
	return false
}

// CustomAttribute is one custom attribute value attached to an issue.
type CustomAttribute struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// IssueAttributes is a partial set of issue fields submitted with create and
// update calls, keyed by the service's attribute names.
type IssueAttributes map[string]any

// IssueType is one node of the two-level issue type taxonomy.
type IssueType struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Subtypes []IssueSubtype `json:"subtypes"`
}

// IssueSubtype is a child of an IssueType.
type IssueSubtype struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// User is a normalized project or hub user. Depending on the API generation
// the wire id field is either "uid" or "autodeskId"; both are folded into ID
// at the decode boundary so downstream code never sees the raw field name.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (u *User) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         string `json:"id"`
		UID        string `json:"uid"`
		AutodeskID string `json:"autodeskId"`
		Name       string `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u.Name = raw.Name
	switch {
	case raw.UID != "":
		u.ID = raw.UID
	case raw.AutodeskID != "":
		u.ID = raw.AutodeskID
	default:
		u.ID = raw.ID
	}
	return nil
}

// Location is one node of the location breakdown structure tree.
type Location struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId"`
	Name     string `json:"name"`
}

// LocationPath resolves the full display name of a location by walking parent
// links from the node to the root, joining names with sep (root first).
// The remote API does not guarantee the tree is acyclic; the walk keeps a
// visited set and returns ok=false with the chain collected so far when it
// encounters a cycle or a dangling parent reference is simply cut short.
func LocationPath(locations []Location, id string, sep string) (string, bool) {
	byID := make(map[string]Location, len(locations))
	for _, loc := range locations {
		byID[loc.ID] = loc
	}

	var names []string
	visited := make(map[string]bool)
	for current := id; current != ""; {
		if visited[current] {
			// Cycle in parent links; stop rather than loop forever.
			return joinReversed(names, sep), false
		}
		visited[current] = true
		loc, found := byID[current]
		if !found {
			break
		}
		names = append(names, loc.Name)
		current = loc.ParentID
	}
	return joinReversed(names, sep), true
}

func joinReversed(names []string, sep string) string {
	var sb strings.Builder
	for i := len(names) - 1; i >= 0; i-- {
		if sb.Len() > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(names[i])
	}
	return sb.String()
}

// AttributeDefinition describes one custom attribute configured for an issue
// container. For "list" attributes, Metadata carries the option id/value pairs.
type AttributeDefinition struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Type     string            `json:"dataType"`
	Metadata AttributeMetadata `json:"metadata"`
}

// AttributeMetadata holds type-specific attribute definition details.
type AttributeMetadata struct {
	List AttributeList `json:"list"`
}

// AttributeList enumerates the options of a "list" attribute.
type AttributeList struct {
	Options []AttributeOption `json:"options"`
}

// AttributeOption maps a stored option id to its display value.
type AttributeOption struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// OptionValue returns the display value for a stored option id.
func (d *AttributeDefinition) OptionValue(id string) (string, bool) {
	for _, opt := range d.Metadata.List.Options {
		if opt.ID == id {
			return opt.Value, true
		}
	}
	return "", false
}

// OptionID returns the stored option id for a display value.
func (d *AttributeDefinition) OptionID(value string) (string, bool) {
	for _, opt := range d.Metadata.List.Options {
		if opt.Value == value {
			return opt.ID, true
		}
	}
	return "", false
}

// Document is a normalized linked document reference. The data management API
// produces two shapes for the same concept: folder-walk items carry the display
// name at the top level (or under "attributes"), while batch item-version
// lookups nest the document id under relationships.item. Both are folded into
// this shape at the decode boundary.
type Document struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	PathInProject string `json:"pathInProject,omitempty"`
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
		Attributes  struct {
			DisplayName   string `json:"displayName"`
			PathInProject string `json:"pathInProject"`
		} `json:"attributes"`
		Relationships struct {
			Item struct {
				Data struct {
					ID string `json:"id"`
				} `json:"data"`
			} `json:"item"`
		} `json:"relationships"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	// Item-version records point at their parent item; that is the id issues
	// reference in target_urn.
	if raw.Relationships.Item.Data.ID != "" {
		d.ID = raw.Relationships.Item.Data.ID
	} else {
		d.ID = raw.ID
	}
	if raw.DisplayName != "" {
		d.DisplayName = raw.DisplayName
	} else {
		d.DisplayName = raw.Attributes.DisplayName
	}
	d.PathInProject = raw.Attributes.PathInProject
	return nil
}

// IssueFilter is a conjunction of optional issue list constraints. A zero
// field means "no constraint", not "match empty".
type IssueFilter struct {
	DueDate        string
	SyncedAfter    string
	CreatedAt      string
	CreatedBy      string
	Owner          string
	IssueTypeID    string
	IssueSubtypeID string
}

// Query encodes the filter into the service's filter[...] query parameters.
func (f IssueFilter) Query() url.Values {
	values := url.Values{}
	set := func(key, value string) {
		if value != "" {
			values.Set("filter["+key+"]", value)
		}
	}
	set("due_date", f.DueDate)
	set("synced_after", f.SyncedAfter)
	set("created_at", f.CreatedAt)
	set("created_by", f.CreatedBy)
	set("owner", f.Owner)
	set("ng_issue_type_id", f.IssueTypeID)
	set("ng_issue_subtype_id", f.IssueSubtypeID)
	return values
}
