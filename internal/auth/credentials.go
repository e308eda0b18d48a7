// SPDX-License-Identifier: MIT

package auth

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cellar-sync/cellar/internal/log"
)

// Refresher performs the remote token refresh call. Implemented by the
// remote client for modern-generation servers.
type Refresher interface {
	RefreshToken(ctx context.Context, accountID, refreshToken string) (*Token, error)
}

// Credentials is the credential store facade: cached reads, fresh reads, and
// fire-and-forget refresh requests with per-account single-flight.
type Credentials struct {
	store     *TokenStore
	refresher Refresher
	logger    zerolog.Logger

	mu       sync.Mutex
	cache    map[string]*Token
	inFlight map[string]bool
}

// NewCredentials builds the credential facade over a token store.
func NewCredentials(store *TokenStore, refresher Refresher) *Credentials {
	return &Credentials{
		store:     store,
		refresher: refresher,
		logger:    log.WithComponent("credentials"),
		cache:     make(map[string]*Token),
		inFlight:  make(map[string]bool),
	}
}

// SetRefresher installs the refresher after construction. The remote client
// needs this store for auth headers while this store needs the client for
// refreshes, so one of the two is wired late.
func (c *Credentials) SetRefresher(r Refresher) {
	c.mu.Lock()
	c.refresher = r
	c.mu.Unlock()
}

// Get returns the token for an account, served from the in-memory cache when
// possible. Returns nil when the account has no stored credentials.
func (c *Credentials) Get(ctx context.Context, accountID string) (*Token, error) {
	c.mu.Lock()
	if tok, ok := c.cache[accountID]; ok {
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	tok, err := c.store.Get(accountID)
	if err != nil || tok == nil {
		return tok, err
	}
	c.mu.Lock()
	c.cache[accountID] = tok
	c.mu.Unlock()
	return tok, nil
}

// GetToken always reads the persisted token, bypassing the cache. The
// refresh monitor polls this to observe an expiry change.
func (c *Credentials) GetToken(ctx context.Context, accountID string) (*Token, error) {
	return c.store.Get(accountID)
}

// Put persists a token and updates the cache.
func (c *Credentials) Put(ctx context.Context, tok *Token) error {
	if err := c.store.Put(tok); err != nil {
		return err
	}
	c.mu.Lock()
	c.cache[tok.AccountID] = tok
	c.mu.Unlock()
	return nil
}

// Delete removes an account's token from store and cache.
func (c *Credentials) Delete(ctx context.Context, accountID string) error {
	c.mu.Lock()
	delete(c.cache, accountID)
	c.mu.Unlock()
	return c.store.Delete(accountID)
}

// RequestRefreshToken starts a refresh for the account in the background.
// At most one refresh per account runs at a time; additional requests while
// one is in flight are dropped. Errors are logged, never returned: the
// monitor observes success by polling the stored expiry.
func (c *Credentials) RequestRefreshToken(ctx context.Context, accountID string) {
	c.mu.Lock()
	if c.inFlight[accountID] {
		c.mu.Unlock()
		return
	}
	c.inFlight[accountID] = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.inFlight, accountID)
			c.mu.Unlock()
		}()

		old, err := c.store.Get(accountID)
		if err != nil || old == nil {
			c.logger.Warn().Err(err).Str("account_id", accountID).Msg("refresh requested without stored token")
			return
		}
		if c.refresher == nil {
			c.logger.Warn().Str("account_id", accountID).Msg("no refresher configured")
			return
		}

		fresh, err := c.refresher.RefreshToken(ctx, accountID, old.RefreshToken)
		if err != nil {
			c.logger.Error().Err(err).Str("account_id", accountID).Msg("token refresh failed")
			return
		}
		fresh.AccountID = accountID
		if fresh.RefreshToken == "" {
			// Some servers rotate only the access token.
			fresh.RefreshToken = old.RefreshToken
		}
		if err := c.Put(ctx, fresh); err != nil {
			c.logger.Error().Err(err).Str("account_id", accountID).Msg("failed to persist refreshed token")
		}
	}()
}
