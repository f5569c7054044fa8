package httpx

import (
	"fmt"
	"net/http"
)

// StatusError reports a non-2xx response that is not a revision conflict.
type StatusError struct {
	Status int
	Method string
	Path   string
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %s: %s", e.Method, e.Path, http.StatusText(e.Status), e.Detail)
	}
	return fmt.Sprintf("%s %s: %s", e.Method, e.Path, http.StatusText(e.Status))
}

// ConflictError reports an optimistic-concurrency conflict (HTTP 409). Body
// holds the decoded conflict payload after the response transforms ran, so
// revision tracking and date rehydration apply to it like any other body.
type ConflictError struct {
	Method string
	Path   string
	Body   map[string]any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: revision conflict", e.Method, e.Path)
}

// ConflictBody exposes the authoritative payload to conflict resolvers.
func (e *ConflictError) ConflictBody() map[string]any { return e.Body }

// IsForbidden reports whether err is a 403 response.
func IsForbidden(err error) bool {
	se, ok := err.(*StatusError)
	return ok && se.Status == http.StatusForbidden
}
