// Package excel assembles BIM360 issue data into an XLSX workbook and parses
// edited workbooks back into issue create/update operations.
package excel

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Composite reference cells embed both a human label and a machine id, e.g.
// "Door > Broken [T1,S2]". The label lets a person pick from a dropdown, the
// trailing bracket keeps the id recoverable when the sheet comes back.
//
// The greedy prefix makes the pattern bind to the last bracket group, so
// labels containing brackets still round-trip.
var nameIDPattern = regexp.MustCompile(`^(.*)\[([^\[\]]*)\]\s*$`)

// idSuffixColor renders the id run in a de-emphasized grey.
const idSuffixColor = "CCCCCC"

// EncodeNameID encodes a label and id into the plain-text composite form.
func EncodeNameID(name, id string) string {
	return fmt.Sprintf("%s [%s]", name, id)
}

// EncodeNameIDRich encodes a label and id into rich text runs with the id
// suffix visually de-emphasized. The concatenated text of the runs equals
// EncodeNameID(name, id).
func EncodeNameIDRich(name, id string) []excelize.RichTextRun {
	return []excelize.RichTextRun{
		{Text: name},
		{
			Text: " [" + id + "]",
			Font: &excelize.Font{Color: idSuffixColor},
		},
	}
}

// DecodeNameID recovers the id from a composite cell. Rich-text formatting
// must already be flattened to plain text (reading cell values does that).
// An empty bracket group is a decode failure, not an empty id.
func DecodeNameID(cell string) (string, bool) {
	match := nameIDPattern.FindStringSubmatch(strings.TrimSpace(cell))
	if match == nil {
		return "", false
	}
	id := strings.TrimSpace(match[2])
	if id == "" {
		return "", false
	}
	return id, true
}

// DecodeNameIDPair recovers a two-part id (type and subtype) from a composite
// cell of the form "label [id1,id2]".
func DecodeNameIDPair(cell string) (string, string, bool) {
	ids, ok := DecodeNameID(cell)
	if !ok {
		return "", "", false
	}
	parts := strings.Split(ids, ",")
	if len(parts) != 2 {
		return "", "", false
	}
	first := strings.TrimSpace(parts[0])
	second := strings.TrimSpace(parts[1])
	if first == "" || second == "" {
		return "", "", false
	}
	return first, second, true
}
