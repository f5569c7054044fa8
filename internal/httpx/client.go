// Package httpx is the JSON HTTP client shared by the store layer. One
// client instance owns the revision map for optimistic-concurrency updates
// and the auth configuration; every call goes through the same ordered
// body-transform pipeline.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds every request unless overridden.
const DefaultTimeout = 60 * time.Second

// TokenFunc returns the current bearer token. It is called at send time so a
// refreshed token is always picked up; an empty result sends no auth header.
type TokenFunc func() string

// Client wraps HTTP access to the registry backend.
type Client struct {
	base *url.URL
	http *http.Client
	log  *zap.Logger

	// Ordered response pipeline, applied after parse on success and 409
	// bodies alike.
	respTransforms []BodyTransform

	mu             sync.Mutex
	revs           map[string]string
	getToken       TokenFunc
	onUnauthorized func()
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger enables request logging.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New constructs a Client for the given base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &Client{
		base: u,
		http: &http.Client{Timeout: DefaultTimeout},
		log:  zap.NewNop(),
		revs: make(map[string]string),
	}
	c.respTransforms = []BodyTransform{RehydrateDates, c.captureRevisions}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ApplyAuth installs the token accessor and the access-denied callback,
// replacing any previously installed pair. Reconfiguration is idempotent:
// only the most recently supplied accessor is consulted, exactly once per
// request.
func (c *Client) ApplyAuth(getToken TokenFunc, onUnauthorized func()) {
	c.mu.Lock()
	c.getToken = getToken
	c.onUnauthorized = onUnauthorized
	c.mu.Unlock()
}

// ClearAuth removes the auth configuration.
func (c *Client) ClearAuth() { c.ApplyAuth(nil, nil) }

// Revision returns the tracked revision for a document id.
func (c *Client) Revision(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rev, ok := c.revs[id]
	return rev, ok
}

func (c *Client) setRevision(id, rev string) {
	c.mu.Lock()
	c.revs[id] = rev
	c.mu.Unlock()
}

// Get fetches path and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post sends body as-is (no document wrapping) and decodes into out. Used by
// auth endpoints and other non-document calls.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	tree, err := toTree(body)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, tree, out)
}

// PostDoc creates a document: the body is {docName: doc}.
func (c *Client) PostDoc(ctx context.Context, path, docName string, doc, out any) error {
	tree, err := toTree(map[string]any{docName: doc})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, tree, out)
}

// PutDoc replaces a document: the body is {docName: doc} with the tracked
// revision injected and the id stripped before sending.
func (c *Client) PutDoc(ctx context.Context, path, docName string, doc, out any) error {
	tree, err := toTree(map[string]any{docName: doc})
	if err != nil {
		return err
	}
	tree = c.injectRevision(tree)
	return c.do(ctx, http.MethodPut, path, tree, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ref, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return fmt.Errorf("parse path: %w", err)
	}
	target := c.base.ResolveReference(ref).String()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.Lock()
	getToken := c.getToken
	onUnauthorized := c.onUnauthorized
	c.mu.Unlock()
	if getToken != nil {
		if tok := getToken(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	c.log.Debug("http",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("dur", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusConflict:
		tree := decodeTree(raw)
		for _, tr := range c.respTransforms {
			tree = tr(tree)
		}
		ce := &ConflictError{Method: method, Path: path}
		if m, ok := tree.(map[string]any); ok {
			ce.Body = m
		}
		return ce
	case resp.StatusCode == http.StatusForbidden:
		if onUnauthorized != nil {
			onUnauthorized()
		}
		return &StatusError{Status: resp.StatusCode, Method: method, Path: path, Detail: trimDetail(raw)}
	case resp.StatusCode >= 400:
		return &StatusError{Status: resp.StatusCode, Method: method, Path: path, Detail: trimDetail(raw)}
	}

	if out == nil {
		return nil
	}
	tree := decodeTree(raw)
	for _, tr := range c.respTransforms {
		tree = tr(tree)
	}
	cooked, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("re-encode body: %w", err)
	}
	if err := json.Unmarshal(cooked, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// toTree converts a typed value into a generic JSON tree so the request
// transforms can inspect and rewrite it.
func toTree(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func decodeTree(raw []byte) any {
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil
	}
	return tree
}

func trimDetail(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
