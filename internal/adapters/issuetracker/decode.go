package issuetracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
	"github.com/JakeFAU/crlink-unfurler/internal/upstream"
)

const (
	searchResponseTag   = "b.IssueSearchResponse"
	commentsRequestTag  = "b.BatchGetIssueCommentsRequest"
	commentsResponseTag = "b.BatchGetIssueCommentsResponse"
)

// rowPaths locates each value inside the positional issue row found at
// [0][1][0] of a search response.
var rowPaths = struct {
	number, created, commentToken, fieldMeta                     []int
	kind, status, priority, severity, title, opener, fieldValues []int
}{
	number:       []int{0},
	created:      []int{3, 1},
	commentToken: []int{12},
	fieldMeta:    []int{14},
	kind:         []int{21, 1},
	status:       []int{21, 2},
	priority:     []int{21, 3},
	severity:     []int{21, 4},
	title:        []int{21, 5},
	opener:       []int{21, 6, 1},
	fieldValues:  []int{21, 14},
}

// Offsets inside entries of the field metadata table and the field value list.
const (
	metaEntry      = 13
	metaID         = 0
	metaName       = 4
	valueFieldID   = 0
	valueHuman     = 9
	rawValueFirst  = 5
	rawValueSecond = 7
	rawValueThird  = 8
)

// issueRecord is the typed form of one positional issue row.
type issueRecord struct {
	Number       int64
	CreatedMicro int64
	CommentToken string
	Type         int64
	Status       int64
	Priority     int64
	Severity     int64
	Title        string
	Opener       string
	CustomFields []customField
}

type customField struct {
	Name  string
	Value string
}

var errShape = errors.New("unexpected payload shape")

// decodeIssue validates a search response and extracts the first issue row.
func decodeIssue(body []byte) (issueRecord, error) {
	const source = "issues/list"
	var payload any
	if err := upstream.DecodeXSSI(source, body, &payload); err != nil {
		return issueRecord{}, err
	}
	malformed := func(what string) error {
		return unfurl.Malformed(source, body, fmt.Errorf("%w: %s", errShape, what))
	}

	if tag, _ := upstream.StringAt(payload, 0, 0); tag != searchResponseTag {
		return issueRecord{}, malformed("response tag")
	}
	row, ok := upstream.ArrayAt(payload, 0, 1, 0)
	if !ok {
		return issueRecord{}, malformed("issue row")
	}

	var rec issueRecord
	ints := []struct {
		dst  *int64
		path []int
		name string
	}{
		{&rec.Number, rowPaths.number, "number"},
		{&rec.Type, rowPaths.kind, "type"},
		{&rec.Status, rowPaths.status, "status"},
		{&rec.Priority, rowPaths.priority, "priority"},
		{&rec.Severity, rowPaths.severity, "severity"},
	}
	for _, f := range ints {
		v, ok := upstream.IntAt(row, f.path...)
		if !ok {
			return issueRecord{}, malformed(f.name)
		}
		*f.dst = v
	}
	if rec.Title, ok = upstream.StringAt(row, rowPaths.title...); !ok {
		return issueRecord{}, malformed("title")
	}
	rec.CreatedMicro, _ = upstream.IntAt(row, rowPaths.created...)
	rec.Opener, _ = upstream.StringAt(row, rowPaths.opener...)
	if tok, ok := upstream.At(row, rowPaths.commentToken...); ok {
		rec.CommentToken = scalarString(tok)
	}

	meta, _ := upstream.ArrayAt(row, rowPaths.fieldMeta...)
	values, _ := upstream.ArrayAt(row, rowPaths.fieldValues...)
	rec.CustomFields = resolveFields(meta, values)
	return rec, nil
}

// resolveFields maps custom field values to display names through the
// field metadata table. Values without metadata or a printable value are
// skipped.
func resolveFields(meta, values []any) []customField {
	names := make(map[string]string, len(meta))
	for _, m := range meta {
		id, ok := upstream.At(m, metaEntry, metaID)
		if !ok {
			continue
		}
		name, ok := upstream.StringAt(m, metaEntry, metaName)
		if !ok || name == "" {
			continue
		}
		names[scalarString(id)] = name
	}

	var fields []customField
	for _, v := range values {
		id, ok := upstream.At(v, valueFieldID)
		if !ok {
			continue
		}
		name, ok := names[scalarString(id)]
		if !ok {
			continue
		}
		value := fieldValue(v)
		if value == "" {
			continue
		}
		fields = append(fields, customField{Name: name, Value: value})
	}
	return fields
}

func fieldValue(v any) string {
	if human, ok := upstream.StringAt(v, valueHuman); ok && human != "" {
		return human
	}
	for _, idx := range []int{rawValueFirst, rawValueSecond, rawValueThird} {
		raw, ok := upstream.ArrayAt(v, idx)
		if !ok || len(raw) == 0 {
			continue
		}
		return scalarString(raw[0])
	}
	return ""
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

// commentsRequest builds the batch request for the first comment of an issue.
func commentsRequest(rec issueRecord) []any {
	return []any{commentsRequestTag, nil, nil, rec.CommentToken, []any{rec.Number, []any{1}, 2}}
}

// decodeFirstComment extracts the text of the first comment. It reports
// false when the response carries no comment.
func decodeFirstComment(body []byte) (string, bool, error) {
	const source = "comments/batch"
	var payload any
	if err := upstream.DecodeXSSI(source, body, &payload); err != nil {
		return "", false, err
	}
	if tag, _ := upstream.StringAt(payload, 0, 0); tag != commentsResponseTag {
		return "", false, nil
	}
	text, ok := upstream.StringAt(payload, 0, 2, 0, 0, 0)
	return text, ok, nil
}
