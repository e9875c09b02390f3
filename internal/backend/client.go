// Package backend implements the typed HTTP client for the remote
// user-management API. Every call returns a normalized Response so callers
// branch on one shape regardless of how the backend reported success or
// failure.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
)

// Resolver yields the base URL of the backend API. Implementations may be
// static or backed by service discovery.
type Resolver interface {
	BaseURL() (string, error)
}

// StaticResolver pins the backend to a fixed base URL.
type StaticResolver string

// BaseURL returns the pinned URL.
func (s StaticResolver) BaseURL() (string, error) {
	return string(s), nil
}

// Client calls the backend API and normalizes responses.
type Client struct {
	resolver Resolver
	http     *http.Client

	mu   sync.Mutex
	csrf string
}

// NewClient builds a Client over the given resolver. A nil httpClient
// falls back to http.DefaultClient; no extra timeout is layered on top of
// its behavior.
func NewClient(resolver Resolver, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{resolver: resolver, http: httpClient}
}

type tokenKey struct{}

// WithToken stores an access token in ctx. Requests made with that context
// carry it as a bearer Authorization header.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFrom(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey{}).(string)
	return tok
}

// Get issues a GET request to path.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, "")
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.doJSON(ctx, http.MethodPost, path, body)
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.doJSON(ctx, http.MethodPatch, path, body)
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.doJSON(ctx, http.MethodPut, path, body)
}

// Delete issues a DELETE request to path.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil, "")
}

// PostMultipart issues a multipart POST carrying form fields plus a single
// file part.
func (c *Client) PostMultipart(ctx context.Context, path string, fields map[string]string, fileField, filename string, file io.Reader) (*Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", k, err)
		}
	}
	part, err := w.CreateFormFile(fileField, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to copy file contents: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	return c.do(ctx, http.MethodPost, path, &buf, w.FormDataContentType())
}

// FetchCSRFToken obtains a CSRF token from the backend and caches it for
// subsequent mutating requests.
func (c *Client) FetchCSRFToken(ctx context.Context) (string, error) {
	resp, err := c.Get(ctx, "/get-csrf-token/")
	if err != nil {
		return "", err
	}
	if resp.Err != nil {
		return "", fmt.Errorf("csrf token request failed: %s", resp.Err.String())
	}

	var body struct {
		Token string `json:"csrfToken"`
	}
	if err := json.Unmarshal(resp.Data, &body); err != nil || body.Token == "" {
		return "", fmt.Errorf("csrf token missing from response")
	}

	c.mu.Lock()
	c.csrf = body.Token
	c.mu.Unlock()
	return body.Token, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any) (*Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	return c.do(ctx, method, path, reader, "application/json")
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*Response, error) {
	base, err := c.resolver.BaseURL()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backend: %w", err)
	}

	url := strings.TrimRight(base, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	if tok := tokenFrom(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if method != http.MethodGet {
		c.mu.Lock()
		if c.csrf != "" {
			req.Header.Set("X-CSRFToken", c.csrf)
		}
		c.mu.Unlock()
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return Normalize(res.StatusCode, raw), nil
}
