package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/carebridge/carelink/internal/httpx"
)

// Response bodies are keyed by document name ({"profile": {...}}); these
// helpers unwrap that envelope around the typed document.

func fetchDoc[T any](ctx context.Context, c *httpx.Client, path, name string) (T, error) {
	var env map[string]json.RawMessage
	var zero T
	if err := c.Get(ctx, path, &env); err != nil {
		return zero, err
	}
	return unwrap[T](env, name, path)
}

func putDoc[T any](ctx context.Context, c *httpx.Client, path, name string, doc T) (T, error) {
	var env map[string]json.RawMessage
	var zero T
	if err := c.PutDoc(ctx, path, name, doc, &env); err != nil {
		return zero, err
	}
	return unwrap[T](env, name, path)
}

func postDoc[T any](ctx context.Context, c *httpx.Client, path, name string, doc T) (T, error) {
	var env map[string]json.RawMessage
	var zero T
	if err := c.PostDoc(ctx, path, name, doc, &env); err != nil {
		return zero, err
	}
	return unwrap[T](env, name, path)
}

func fetchList[T any](ctx context.Context, c *httpx.Client, path, pluralName string) ([]T, error) {
	var env map[string]json.RawMessage
	if err := c.Get(ctx, path, &env); err != nil {
		return nil, err
	}
	raw, ok := env[pluralName]
	if !ok {
		return nil, fmt.Errorf("response for %s missing %q", path, pluralName)
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return items, nil
}

func unwrap[T any](env map[string]json.RawMessage, name, path string) (T, error) {
	var v T
	raw, ok := env[name]
	if !ok {
		return v, fmt.Errorf("response for %s missing %q", path, name)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", path, err)
	}
	return v, nil
}
