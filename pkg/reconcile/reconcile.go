// Package reconcile decides which fields of a spreadsheet edit are real
// changes and whether the issues service currently permits changing them.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/petrbroz/bim360-issue-editor/pkg/forge"
)

// Plan is the outcome of reconciling one candidate edit against the fresh
// server state of an issue.
type Plan struct {
	// Changes holds the fields that actually differ from the server state.
	Changes forge.IssueAttributes

	// Blocked lists the changed fields the server does not currently permit
	// modifying. They stay in Changes; applying the plan lifts the
	// restriction by temporarily opening the issue.
	Blocked []string
}

// IsNoop reports whether nothing differs from the server state.
func (p *Plan) IsNoop() bool {
	return len(p.Changes) == 0
}

// NeedsUnlock reports whether at least one changed field is blocked.
func (p *Plan) NeedsUnlock() bool {
	return len(p.Blocked) > 0
}

// ChangesStatus reports whether the candidate itself changes the status.
func (p *Plan) ChangesStatus() bool {
	_, ok := p.Changes["status"]
	return ok
}

// Diff compares candidate attribute values with the fresh server state and
// keeps only the real changes. A field equal to its current value, or where
// both sides are empty, is dropped. Remaining fields missing from the
// server's permitted set are collected as blocked.
func Diff(current *forge.Issue, candidate forge.IssueAttributes) *Plan {
	plan := &Plan{Changes: forge.IssueAttributes{}}

	keys := make([]string, 0, len(candidate))
	for key := range candidate {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, field := range keys {
		value := candidate[field]

		if field == "custom_attributes" {
			if changed := diffCustomAttributes(current, value); len(changed) > 0 {
				plan.Changes[field] = changed
				if !current.PermitsAttribute(field) {
					plan.Blocked = append(plan.Blocked, field)
				}
			}
			continue
		}

		if equalValue(currentValue(current, field), value) {
			continue
		}
		plan.Changes[field] = value
		if !current.PermitsAttribute(field) {
			plan.Blocked = append(plan.Blocked, field)
		}
	}
	return plan
}

// Apply executes the plan against the service. With blocked fields the
// temporary-unlock maneuver runs: open the issue, submit the real update,
// then restore the snapshot status unless the candidate changed status
// itself. All calls are sequential and best-effort; there is no rollback of
// partial side effects.
func Apply(ctx context.Context, client forge.Client, containerID string, current *forge.Issue, plan *Plan) (*forge.Issue, error) {
	if plan.IsNoop() {
		return current, nil
	}

	if !plan.NeedsUnlock() {
		return client.UpdateIssue(ctx, containerID, current.ID, plan.Changes)
	}

	if _, err := client.UpdateIssue(ctx, containerID, current.ID, forge.IssueAttributes{"status": forge.StatusOpen}); err != nil {
		return nil, fmt.Errorf("failed to open issue for update: %w", err)
	}
	updated, err := client.UpdateIssue(ctx, containerID, current.ID, plan.Changes)
	if err != nil {
		return nil, err
	}
	if !plan.ChangesStatus() {
		restored, err := client.UpdateIssue(ctx, containerID, current.ID, forge.IssueAttributes{"status": current.Status})
		if err != nil {
			return nil, fmt.Errorf("failed to restore issue status: %w", err)
		}
		return restored, nil
	}
	return updated, nil
}

// currentValue reads the server-side value of an updatable attribute.
func currentValue(issue *forge.Issue, field string) any {
	switch field {
	case "title":
		return issue.Title
	case "description":
		return issue.Description
	case "status":
		return issue.Status
	case "answer":
		return issue.Answer
	case "owner":
		return issue.Owner
	case "assigned_to":
		return issue.AssignedTo
	case "assigned_to_type":
		return issue.AssigneeType
	case "due_date":
		return issue.DueDate
	case "lbs_location":
		return issue.LbsLocation
	case "location_description":
		return issue.LocationDescription
	case "target_urn":
		return issue.TargetURN
	case "ng_issue_type_id":
		return issue.IssueTypeID
	case "ng_issue_subtype_id":
		return issue.IssueSubtypeID
	default:
		return nil
	}
}

// diffCustomAttributes keeps the candidate custom attribute values that
// differ from the issue's stored values.
func diffCustomAttributes(current *forge.Issue, value any) []forge.CustomAttribute {
	candidates, ok := value.([]forge.CustomAttribute)
	if !ok {
		return nil
	}

	stored := make(map[string]any, len(current.CustomAttributes))
	for _, attr := range current.CustomAttributes {
		stored[attr.ID] = attr.Value
	}

	var changed []forge.CustomAttribute
	for _, attr := range candidates {
		if equalValue(stored[attr.ID], attr.Value) {
			continue
		}
		changed = append(changed, attr)
	}
	return changed
}

// equalValue is the change-detection equality: two values are "unchanged"
// when both are empty (nil or empty string), or when their canonical string
// forms match. Every cell value re-enters the system as a string, so string
// comparison is the round-trip-safe notion of structural equality here.
// Timestamps are compared as instants: the service emits millisecond
// precision while re-parsed cells carry seconds, and that difference is not
// a change.
func equalValue(current, candidate any) bool {
	if isEmpty(current) && isEmpty(candidate) {
		return true
	}
	if isEmpty(current) != isEmpty(candidate) {
		return false
	}
	if currentTime, ok := asTime(current); ok {
		if candidateTime, ok := asTime(candidate); ok {
			return currentTime.Equal(candidateTime)
		}
	}
	return fmt.Sprint(current) == fmt.Sprint(candidate)
}

func asTime(value any) (time.Time, bool) {
	s, ok := value.(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return s == ""
	}
	return false
}
