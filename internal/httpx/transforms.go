package httpx

import (
	"regexp"
	"time"
)

// BodyTransform rewrites a decoded JSON tree and returns it. Transforms are
// applied as an explicit ordered pipeline: after parse, before the tree is
// converted into a domain value.
type BodyTransform func(body any) any

// ISO-8601 date-time, optional fractional seconds, optional trailing UTC
// designator. Matching strings are rehydrated into time.Time values.
var isoDateTime = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?Z?$`)

// RehydrateDates recursively replaces ISO date-time strings in the tree with
// parsed time values. Already-parsed values are left alone, so applying the
// transform twice is a no-op.
func RehydrateDates(body any) any {
	switch v := body.(type) {
	case map[string]any:
		for k, item := range v {
			v[k] = RehydrateDates(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = RehydrateDates(item)
		}
		return v
	case string:
		if t, ok := parseISODateTime(v); ok {
			return t
		}
		return v
	default:
		return body
	}
}

func parseISODateTime(s string) (time.Time, bool) {
	if !isoDateTime.MatchString(s) {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	// No zone designator: treat as UTC.
	if t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// Revision key names of the document-database convention.
const (
	idKey  = "_id"
	revKey = "_rev"
)

// captureRevisions records the latest observed revision for every object in
// the tree that carries both an id and a revision (last write wins).
func (c *Client) captureRevisions(body any) any {
	switch v := body.(type) {
	case map[string]any:
		id, hasID := v[idKey].(string)
		rev, hasRev := v[revKey].(string)
		if hasID && hasRev && id != "" && rev != "" {
			c.setRevision(id, rev)
		}
		for _, item := range v {
			c.captureRevisions(item)
		}
	case []any:
		for _, item := range v {
			c.captureRevisions(item)
		}
	}
	return body
}

// injectRevision prepares an outgoing replacement body: the single top-level
// property is the document itself; when its id has a tracked revision, the
// revision is written into the document and the id is stripped (the id
// travels via the URL on updates, not the body).
func (c *Client) injectRevision(body any) any {
	root, ok := body.(map[string]any)
	if !ok || len(root) != 1 {
		return body
	}
	for _, nested := range root {
		doc, ok := nested.(map[string]any)
		if !ok {
			return body
		}
		id, _ := doc[idKey].(string)
		if id == "" {
			return body
		}
		if rev, ok := c.Revision(id); ok {
			doc[revKey] = rev
			delete(doc, idKey)
		}
	}
	return body
}
