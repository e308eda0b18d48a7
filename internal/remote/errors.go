// SPDX-License-Identifier: MIT

package remote

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrUnauthorized  = errors.New("remote: credentials rejected")
	ErrNotFound      = errors.New("remote: node not found")
	ErrUnavailable   = errors.New("remote: host unreachable or transport failure")
	ErrServerFault   = errors.New("remote: internal server error (5xx)")
	ErrBadResponse   = errors.New("remote: invalid response format or malformed data")
	ErrLegacyRefresh = errors.New("remote: legacy servers have no refresh flow")
	ErrNoToken       = errors.New("remote: no stored token for account")
)

// APIError wraps a sentinel with call context.
type APIError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("remote: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Sentinel
}

// statusSentinel maps an HTTP status code to its sentinel.
func statusSentinel(code int) error {
	switch {
	case code == 401 || code == 403:
		return ErrUnauthorized
	case code == 404:
		return ErrNotFound
	case code >= 500:
		return ErrServerFault
	default:
		return ErrBadResponse
	}
}
