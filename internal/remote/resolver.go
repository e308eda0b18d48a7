// SPDX-License-Identifier: MIT

package remote

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/cellar-sync/cellar/internal/account"
	"github.com/cellar-sync/cellar/internal/auth"
)

// Directory looks up account records. Satisfied by account.Store.
type Directory interface {
	GetAccount(ctx context.Context, id string) (*account.Account, error)
}

// Resolver hands out one Client per server and adapts the per-account API
// that the transfer engine and the credential refresher expect.
type Resolver struct {
	directory Directory
	tokens    TokenSource
	opts      []Option

	mu      sync.Mutex
	clients map[string]*Client
}

// NewResolver builds a Resolver. opts are applied to every client it creates.
func NewResolver(directory Directory, tokens TokenSource, opts ...Option) *Resolver {
	return &Resolver{
		directory: directory,
		tokens:    tokens,
		opts:      opts,
		clients:   make(map[string]*Client),
	}
}

// ClientFor returns the client for the account's server, creating and
// caching it on first use.
func (r *Resolver) ClientFor(ctx context.Context, accountID string) (*Client, error) {
	acc, err := r.directory.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, fmt.Errorf("account %s not found", accountID)
	}

	key := acc.ServerURL + "|" + string(acc.Generation)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[key]; ok {
		return c, nil
	}
	c := New(acc.ServerURL, acc.Generation, r.tokens, r.opts...)
	r.clients[key] = c
	return c, nil
}

// Ping probes the account's server.
func (r *Resolver) Ping(ctx context.Context, accountID string) error {
	c, err := r.ClientFor(ctx, accountID)
	if err != nil {
		return err
	}
	return c.Ping(ctx)
}

// RefreshToken implements the credential refresher against the account's
// server.
func (r *Resolver) RefreshToken(ctx context.Context, accountID, refreshToken string) (*auth.Token, error) {
	c, err := r.ClientFor(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return c.RefreshToken(ctx, accountID, refreshToken)
}

// Download implements the transfer engine's remote.
func (r *Resolver) Download(ctx context.Context, accountID, nodePath string, offset int64) (io.ReadCloser, int64, error) {
	c, err := r.ClientFor(ctx, accountID)
	if err != nil {
		return nil, 0, err
	}
	return c.Download(ctx, accountID, nodePath, offset)
}

// Upload implements the transfer engine's remote.
func (r *Resolver) Upload(ctx context.Context, accountID, nodePath string, rd io.Reader, size int64) error {
	c, err := r.ClientFor(ctx, accountID)
	if err != nil {
		return err
	}
	return c.Upload(ctx, accountID, nodePath, rd, size)
}
