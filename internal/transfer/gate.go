// SPDX-License-Identifier: MIT

package transfer

import (
	"github.com/cellar-sync/cellar/internal/session"
)

// Gate decides whether a new transfer may start under the current session
// status. Finer policy, like blocking only large downloads on metered
// connections, belongs to the predicate's owner.
type Gate func(status session.Status, t *Transfer) bool

// GatePolicy is the configuration backing DefaultGate.
type GatePolicy struct {
	AllowMetered bool
	AllowRoaming bool
}

// DefaultGate blocks transfers whenever the session status is degraded and
// applies the metered/roaming switches for the remaining statuses.
func DefaultGate(policy GatePolicy) Gate {
	return func(status session.Status, t *Transfer) bool {
		switch status {
		case session.StatusOk:
			return true
		case session.StatusMetered:
			return policy.AllowMetered
		case session.StatusRoaming:
			return policy.AllowRoaming
		default:
			return false
		}
	}
}
