// SPDX-License-Identifier: MIT
package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestTokenStore(t *testing.T) *TokenStore {
	t.Helper()
	store, err := OpenTokenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestTokenStoreRoundTrip(t *testing.T) {
	store := newTestTokenStore(t)

	exp := time.Now().Add(time.Hour).Unix()
	require.NoError(t, store.Put(&Token{
		AccountID:      "alice@one",
		AccessToken:    "at-1",
		RefreshToken:   "rt-1",
		ExpirationTime: exp,
	}))

	got, err := store.Get("alice@one")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "at-1", got.AccessToken)
	require.Equal(t, exp, got.ExpirationTime)
}

func TestTokenStoreGetMissing(t *testing.T) {
	store := newTestTokenStore(t)
	got, err := store.Get("nobody")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestTokenStoreDelete(t *testing.T) {
	store := newTestTokenStore(t)
	require.NoError(t, store.Put(&Token{AccountID: "alice@one", AccessToken: "at", ExpirationTime: 1}))
	require.NoError(t, store.Delete("alice@one"))
	require.NoError(t, store.Delete("alice@one")) // idempotent

	got, err := store.Get("alice@one")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestTokenStorePutNormalizesJWTExpiry(t *testing.T) {
	store := newTestTokenStore(t)
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	require.NoError(t, store.Put(&Token{
		AccountID:   "alice@one",
		AccessToken: signedJWT(t, exp),
	}))

	got, err := store.Get("alice@one")
	require.NoError(t, err)
	require.Equal(t, exp.Unix(), got.ExpirationTime)
}
