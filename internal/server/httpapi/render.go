package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/carebridge/carelink/internal/model"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// docFields merges a stored document body with its _id and _rev metadata.
func docFields(doc *model.Document) (map[string]any, error) {
	m := map[string]any{}
	if len(doc.Body) > 0 {
		if err := json.Unmarshal(doc.Body, &m); err != nil {
			return nil, err
		}
	}
	m["_id"] = doc.ID.String()
	m["_rev"] = doc.Rev
	return m, nil
}

// writeDoc renders a document as {name: {..., "_id", "_rev"}}.
func writeDoc(w http.ResponseWriter, status int, name string, doc *model.Document) {
	m, err := docFields(doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, status, map[string]any{name: m})
}

// writeDocList renders documents as {plural: [{...}, ...]}.
func writeDocList(w http.ResponseWriter, plural string, docs []model.Document) {
	items := make([]map[string]any, 0, len(docs))
	for i := range docs {
		m, err := docFields(&docs[i])
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal")
			return
		}
		items = append(items, m)
	}
	writeJSON(w, http.StatusOK, map[string]any{plural: items})
}

// parseDocBody decodes a request body of the form {name: {...}}, strips the
// _id and _rev fields and returns the canonical body plus the base revision
// the client wrote against.
func parseDocBody(r *http.Request, name string) (body []byte, baseRev string, err error) {
	var envelope map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		return nil, "", errors.New("bad request body")
	}
	raw, ok := envelope[name]
	if !ok {
		return nil, "", fmt.Errorf("missing %q field", name)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, "", fmt.Errorf("bad %q field", name)
	}
	if rev, ok := m["_rev"].(string); ok {
		baseRev = rev
	}
	delete(m, "_rev")
	delete(m, "_id")
	body, err = json.Marshal(m)
	if err != nil {
		return nil, "", err
	}
	return body, baseRev, nil
}
