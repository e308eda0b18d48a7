// SPDX-License-Identifier: MIT

package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cellar-sync/cellar/internal/account"
	"github.com/cellar-sync/cellar/internal/auth"
)

type staticTokens struct {
	tok *auth.Token
}

func (s *staticTokens) Get(ctx context.Context, accountID string) (*auth.Token, error) {
	return s.tok, nil
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/a/frontend/state", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, account.GenModern, nil)
	require.NoError(t, c.Ping(context.Background()))
}

func TestPingServerFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, account.GenModern, nil)
	err := c.Ping(context.Background())
	require.ErrorIs(t, err, ErrServerFault)
}

func TestPingUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", account.GenModern, nil,
		WithHTTPClient(&http.Client{Timeout: 200 * time.Millisecond}))
	err := c.Ping(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestPingUnauthorizedStillReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, account.GenModern, nil)
	require.NoError(t, c.Ping(context.Background()))
}

func TestRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oidc/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		require.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
		fmt.Fprint(w, `{"access_token":"new-access","refresh_token":"new-refresh","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	c := New(srv.URL, account.GenModern, nil)
	tok, err := c.RefreshToken(context.Background(), "acc-1", "old-refresh")
	require.NoError(t, err)
	require.Equal(t, "new-access", tok.AccessToken)
	require.Equal(t, "new-refresh", tok.RefreshToken)
	require.Equal(t, "acc-1", tok.AccountID)
	require.Greater(t, tok.ExpirationTime, time.Now().Unix())
}

func TestRefreshTokenRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, account.GenModern, nil)
	_, err := c.RefreshToken(context.Background(), "acc-1", "stale")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestRefreshTokenLegacy(t *testing.T) {
	c := New("http://unused", account.GenLegacy, nil)
	_, err := c.RefreshToken(context.Background(), "acc-1", "whatever")
	require.ErrorIs(t, err, ErrLegacyRefresh)
}

func TestDownloadFull(t *testing.T) {
	content := "file payload"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/io/docs/report.pdf", r.URL.Path)
		require.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		require.Empty(t, r.Header.Get("Range"))
		fmt.Fprint(w, content)
	}))
	defer srv.Close()

	tokens := &staticTokens{tok: &auth.Token{AccountID: "acc-1", AccessToken: "access-1", TokenType: "Bearer"}}
	c := New(srv.URL, account.GenModern, tokens)

	rc, total, err := c.Download(context.Background(), "acc-1", "/docs/report.pdf", 0)
	require.NoError(t, err)
	defer rc.Close()
	require.Equal(t, int64(len(content)), total)

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, content, string(data))
}

func TestDownloadResumeRange(t *testing.T) {
	content := "0123456789"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "bytes=4-", r.Header.Get("Range"))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 4-9/%d", len(content)))
		w.WriteHeader(http.StatusPartialContent)
		fmt.Fprint(w, content[4:])
	}))
	defer srv.Close()

	tokens := &staticTokens{tok: &auth.Token{AccessToken: "a"}}
	c := New(srv.URL, account.GenModern, tokens)

	rc, total, err := c.Download(context.Background(), "acc-1", "docs/file.bin", 4)
	require.NoError(t, err)
	defer rc.Close()
	require.Equal(t, int64(len(content)), total)

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, content[4:], string(data))
}

func TestDownloadNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	tokens := &staticTokens{tok: &auth.Token{AccessToken: "a"}}
	c := New(srv.URL, account.GenModern, tokens)
	_, _, err := c.Download(context.Background(), "acc-1", "missing.txt", 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDownloadWithoutToken(t *testing.T) {
	tokens := &staticTokens{}
	c := New("http://unused", account.GenModern, tokens)
	_, _, err := c.Download(context.Background(), "acc-1", "docs/x", 0)
	require.ErrorIs(t, err, ErrNoToken)
}

func TestUpload(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/io/docs/new%20file.txt", r.URL.EscapedPath())
		var err error
		received, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tokens := &staticTokens{tok: &auth.Token{AccessToken: "a"}}
	c := New(srv.URL, account.GenModern, tokens)

	payload := "uploaded bytes"
	err := c.Upload(context.Background(), "acc-1", "docs/new file.txt",
		strings.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	require.Equal(t, payload, string(received))
}
