// SPDX-License-Identifier: MIT

package auth

import (
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// TokenStore persists tokens in a Badger key-value store:
// key = "tok:<accountID>" (JSON). Tokens are small, hot, and per-account,
// which suits a KV layout better than a relational table.
type TokenStore struct {
	db *badger.DB
}

// OpenTokenStore opens (or creates) the token store at path.
func OpenTokenStore(path string) (*TokenStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &TokenStore{db: db}, nil
}

// Close closes the underlying database.
func (s *TokenStore) Close() error { return s.db.Close() }

func tokenKey(accountID string) []byte {
	return []byte("tok:" + accountID)
}

// Put stores a token, normalizing its expiry from the JWT exp claim when the
// explicit expiry is absent.
func (s *TokenStore) Put(tok *Token) error {
	tok.normalize()
	buf, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tokenKey(tok.AccountID), buf)
	})
}

// Get retrieves the token for an account, or nil when absent.
func (s *TokenStore) Get(accountID string) (*Token, error) {
	var out Token
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tokenKey(accountID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes the token for an account. Deleting a missing token is not
// an error.
func (s *TokenStore) Delete(accountID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(tokenKey(accountID))
	})
}
