// SPDX-License-Identifier: MIT

// Package auth holds credentials for remote sessions and the background
// monitor that refreshes them before expiry.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token is one refreshable credential bound to an account.
type Token struct {
	AccountID      string `json:"account_id"`
	AccessToken    string `json:"access_token"`
	RefreshToken   string `json:"refresh_token,omitempty"`
	TokenType      string `json:"token_type,omitempty"`
	ExpirationTime int64  `json:"expiration_time"` // unix seconds
}

// ExpiresWithin reports whether the token expires within d of now.
func (t *Token) ExpiresWithin(now time.Time, d time.Duration) bool {
	return t.ExpirationTime <= now.Add(d).Unix()
}

// normalize fills ExpirationTime from the access token's JWT exp claim when
// the server response did not carry an explicit expiry.
func (t *Token) normalize() {
	if t.ExpirationTime != 0 || t.AccessToken == "" {
		return
	}
	if exp, ok := jwtExpiry(t.AccessToken); ok {
		t.ExpirationTime = exp
	}
}

// jwtExpiry extracts the exp claim of a JWT without verifying its signature.
// The token originates from the server we are about to trust with it anyway;
// only the expiry schedule is needed here.
func jwtExpiry(raw string) (int64, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return 0, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, false
	}
	return exp.Unix(), true
}
