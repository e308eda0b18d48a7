// SPDX-License-Identifier: MIT

// Package remote speaks the file-server HTTP protocol: reachability probes,
// token refresh, and content streams for the transfer engine.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cellar-sync/cellar/internal/account"
	"github.com/cellar-sync/cellar/internal/auth"
)

// TokenSource hands out the stored token for an account. Satisfied by
// auth.Credentials.
type TokenSource interface {
	Get(ctx context.Context, accountID string) (*auth.Token, error)
}

// Client talks to one server.
type Client struct {
	base       string
	generation account.Generation
	http       *http.Client
	tokens     TokenSource
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New builds a client for one server base URL.
func New(base string, generation account.Generation, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		generation: generation,
		http:       &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping checks that the server answers at all. Auth failures still count as
// reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/a/frontend/state", nil)
	res, err := c.http.Do(req)
	if err != nil {
		return &APIError{Sentinel: ErrUnavailable, Operation: "ping", Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode >= 500 {
		return &APIError{Sentinel: ErrServerFault, Operation: "ping", Status: res.StatusCode}
	}
	return nil
}

// RefreshToken exchanges a refresh token for a fresh token pair. Legacy
// servers have no refresh flow and always fail.
func (c *Client) RefreshToken(ctx context.Context, accountID, refreshToken string) (*auth.Token, error) {
	if c.generation == account.GenLegacy {
		return nil, &APIError{Sentinel: ErrLegacyRefresh, Operation: "refresh"}
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/oidc/token",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Sentinel: ErrUnavailable, Operation: "refresh", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, &APIError{
			Sentinel:  statusSentinel(res.StatusCode),
			Operation: "refresh",
			Status:    res.StatusCode,
			Body:      strings.TrimSpace(string(body)),
		}
	}

	var p struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return nil, &APIError{Sentinel: ErrBadResponse, Operation: "refresh", Err: err}
	}
	if p.AccessToken == "" {
		return nil, &APIError{Sentinel: ErrBadResponse, Operation: "refresh", Body: "empty access_token"}
	}

	tok := &auth.Token{
		AccountID:    accountID,
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
	}
	if p.ExpiresIn > 0 {
		tok.ExpirationTime = time.Now().Unix() + p.ExpiresIn
	}
	return tok, nil
}

// Download opens a content stream for a node, resuming at offset when it is
// positive. The returned size is the full node size, or -1 when the server
// does not report one.
func (c *Client) Download(ctx context.Context, accountID, nodePath string, offset int64) (io.ReadCloser, int64, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/io/"+escapePath(nodePath), nil)
	if err := c.authorize(ctx, req, accountID); err != nil {
		return nil, 0, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &APIError{Sentinel: ErrUnavailable, Operation: "download", Err: err}
	}
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusPartialContent {
		defer res.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, 0, &APIError{
			Sentinel:  statusSentinel(res.StatusCode),
			Operation: "download",
			Status:    res.StatusCode,
			Body:      strings.TrimSpace(string(body)),
		}
	}

	return res.Body, totalSize(res, offset), nil
}

// Upload streams r to a node path.
func (c *Client) Upload(ctx context.Context, accountID, nodePath string, r io.Reader, size int64) error {
	req, _ := http.NewRequestWithContext(ctx, http.MethodPut, c.base+"/io/"+escapePath(nodePath), r)
	if err := c.authorize(ctx, req, accountID); err != nil {
		return err
	}
	if size >= 0 {
		req.ContentLength = size
	}

	res, err := c.http.Do(req)
	if err != nil {
		return &APIError{Sentinel: ErrUnavailable, Operation: "upload", Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &APIError{
			Sentinel:  statusSentinel(res.StatusCode),
			Operation: "upload",
			Status:    res.StatusCode,
			Body:      strings.TrimSpace(string(body)),
		}
	}
	return nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request, accountID string) error {
	if c.tokens == nil {
		return nil
	}
	tok, err := c.tokens.Get(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load token for %s: %w", accountID, err)
	}
	if tok == nil {
		// Legacy servers authenticate at the transport layer.
		if c.generation == account.GenLegacy {
			return nil
		}
		return &APIError{Sentinel: ErrNoToken, Operation: req.Method}
	}
	typ := tok.TokenType
	if typ == "" {
		typ = "Bearer"
	}
	req.Header.Set("Authorization", typ+" "+tok.AccessToken)
	return nil
}

// totalSize resolves the full node size from Content-Range (ranged reads)
// or Content-Length (full reads).
func totalSize(res *http.Response, offset int64) int64 {
	if cr := res.Header.Get("Content-Range"); cr != "" {
		// bytes start-end/total
		if idx := strings.LastIndex(cr, "/"); idx >= 0 {
			if total, err := strconv.ParseInt(cr[idx+1:], 10, 64); err == nil {
				return total
			}
		}
	}
	if res.ContentLength >= 0 {
		return offset + res.ContentLength
	}
	return -1
}

func escapePath(p string) string {
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
