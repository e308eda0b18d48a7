// SPDX-License-Identifier: MIT

// Package account holds accounts, their server sessions, and the projection
// of the currently foregrounded session that the rest of the core observes.
package account

// Generation identifies the protocol generation of a remote server.
type Generation string

const (
	// GenLegacy servers use cookie-style credentials with no refresh flow.
	GenLegacy Generation = "legacy"
	// GenModern servers issue OAuth-style tokens that expire and refresh.
	GenModern Generation = "modern"
)

// AuthStatus is the authentication state of one session.
type AuthStatus string

const (
	AuthNew          AuthStatus = "new"
	AuthNoCreds      AuthStatus = "no-credentials"
	AuthUnauthorized AuthStatus = "unauthorized"
	AuthExpired      AuthStatus = "expired"
	AuthRefreshing   AuthStatus = "refreshing"
	AuthConnected    AuthStatus = "connected"
)

// Account is one configured connection to a remote server.
type Account struct {
	ID          string
	ServerURL   string
	Username    string
	Generation  Generation
	CustomColor string
	CreatedAt   int64
}

// View is the read-only projection of the foreground session. It is written
// only by the account-switch flow and read continuously by the status
// aggregator and the credential monitor.
type View struct {
	AccountID   string
	Username    string
	ServerURL   string
	Generation  Generation
	AuthStatus  AuthStatus
	Reachable   bool
	CustomColor string
}

// IsLegacy reports whether the session targets a legacy-generation server.
func (v *View) IsLegacy() bool {
	return v != nil && v.Generation == GenLegacy
}
