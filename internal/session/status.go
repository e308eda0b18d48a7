// SPDX-License-Identifier: MIT

// Package session aggregates network reachability and the foreground
// session's auth state into the single user-facing session status.
package session

// Status is the aggregated, user-facing session status.
type Status string

const (
	StatusNoInternet        Status = "no_internet"
	StatusServerUnreachable Status = "server_unreachable"
	StatusNotLoggedIn       Status = "not_logged_in"
	StatusCanRelog          Status = "can_relog"
	StatusRoaming           Status = "roaming"
	StatusMetered           Status = "metered"
	StatusOk                Status = "ok"
)

// Degraded reports whether the status indicates a connectivity problem that
// should gate remote work.
func (s Status) Degraded() bool {
	switch s {
	case StatusNoInternet, StatusServerUnreachable, StatusNotLoggedIn, StatusCanRelog:
		return true
	default:
		return false
	}
}
