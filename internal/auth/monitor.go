// SPDX-License-Identifier: MIT

package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cellar-sync/cellar/internal/account"
	"github.com/cellar-sync/cellar/internal/log"
	"github.com/cellar-sync/cellar/internal/metrics"
)

// errMonitorAbort makes the monitor loop pause itself: the session can
// structurally never be refreshed (no stored credentials), so retrying on
// the regular cycle is pointless.
var errMonitorAbort = errors.New("credential monitoring aborted")

// SessionSource resolves the current foreground session view.
type SessionSource interface {
	CurrentView() *account.View
}

// Monitor keeps the foreground session's token refreshed before it expires.
// At most one monitoring loop is active per Monitor instance: Relaunch
// cancels and joins the previous loop before starting a fresh one.
type Monitor struct {
	base     context.Context
	creds    *Credentials
	sessions SessionSource
	logger   zerolog.Logger

	interval         time.Duration // pause between check cycles
	refreshThreshold time.Duration // refresh when expiry is this close
	pollInterval     time.Duration // poll cadence while awaiting a refresh
	refreshWait      time.Duration // how long to await an expiry change
	now              func() time.Time

	// reqGen orders Relaunch/Pause requests: each call takes a fresh
	// generation and the spawned goroutine applies itself only while it is
	// still the newest request, so delayed goroutines cannot invert a
	// Pause-then-Relaunch sequence.
	reqGen atomic.Uint64

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithIntervals overrides the monitor timing (tests).
func WithIntervals(cycle, threshold, poll, wait time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.interval = cycle
		m.refreshThreshold = threshold
		m.pollInterval = poll
		m.refreshWait = wait
	}
}

// WithNow injects a clock (tests).
func WithNow(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor builds a stopped monitor. base bounds the lifetime of every
// loop the monitor spawns.
func NewMonitor(base context.Context, creds *Credentials, sessions SessionSource, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		base:             base,
		creds:            creds,
		sessions:         sessions,
		logger:           log.WithComponent("credential-monitor"),
		interval:         10 * time.Second,
		refreshThreshold: 120 * time.Second,
		pollInterval:     time.Second,
		refreshWait:      30 * time.Second,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Relaunch cancels any in-flight loop, awaits its exit, then starts a fresh
// one. The cancel-and-join is serialized so two quick Relaunch calls leave
// exactly one survivor loop, and superseded requests are dropped.
func (m *Monitor) Relaunch() {
	gen := m.reqGen.Add(1)
	go func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.reqGen.Load() {
			return
		}
		m.stopAndJoinLocked()

		ctx, cancel := context.WithCancel(m.base)
		done := make(chan struct{})
		m.stop, m.done = cancel, done
		go m.run(ctx, done)
	}()
}

// Pause cancels the in-flight loop, if any. Persisted credentials are left
// untouched. A Pause overtaken by a newer Relaunch is dropped.
func (m *Monitor) Pause() {
	gen := m.reqGen.Add(1)
	go func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.reqGen.Load() {
			return
		}
		m.stopAndJoinLocked()
	}()
}

// IsRunning reports whether a monitoring loop is currently alive.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// stopAndJoinLocked cancels the current loop and waits for it to exit.
// Caller must hold mu.
func (m *Monitor) stopAndJoinLocked() {
	if m.stop == nil {
		return
	}
	m.stop()
	<-m.done
	m.stop, m.done = nil, nil
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	m.logger.Debug().Msg("credential monitor loop started")

	for {
		if err := m.checkCredentials(ctx); err != nil {
			if errors.Is(err, errMonitorAbort) {
				m.logger.Warn().Msg("credential monitor pausing itself")
				return
			}
			// Caught and logged; the next cycle retries.
			m.logger.Error().Err(err).Msg("credential check failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.interval):
		}
	}
}

// checkCredentials performs one monitoring cycle.
func (m *Monitor) checkCredentials(ctx context.Context) error {
	metrics.IncMonitorCycle()

	view := m.sessions.CurrentView()
	if view == nil {
		return nil
	}
	if view.IsLegacy() {
		// Legacy servers have no token refresh flow.
		return nil
	}

	tok, err := m.creds.Get(ctx, view.AccountID)
	if err != nil {
		return err
	}
	if tok == nil {
		m.logger.Warn().Str("account_id", view.AccountID).Msg("session has no credentials, aborting monitoring")
		return errMonitorAbort
	}

	now := m.now()
	if !tok.ExpiresWithin(now, m.refreshThreshold) {
		return nil
	}

	m.logger.Info().
		Str("account_id", view.AccountID).
		Time("expires_at", time.Unix(tok.ExpirationTime, 0)).
		Msg("token close to expiry, requesting refresh")

	oldTs := tok.ExpirationTime
	m.creds.RequestRefreshToken(ctx, view.AccountID)

	deadline := now.Add(m.refreshWait)
	for m.now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.pollInterval):
		}
		fresh, err := m.creds.GetToken(ctx, view.AccountID)
		if err != nil {
			m.logger.Warn().Err(err).Str("account_id", view.AccountID).Msg("could not read token while awaiting refresh")
			continue
		}
		if fresh != nil && fresh.ExpirationTime != oldTs {
			metrics.IncRefresh("confirmed")
			m.logger.Info().
				Str("account_id", view.AccountID).
				Time("expires_at", time.Unix(fresh.ExpirationTime, 0)).
				Msg("token refreshed")
			return nil
		}
	}

	// Give up silently for this cycle; the next one re-evaluates.
	metrics.IncRefresh("timeout")
	m.logger.Error().Str("account_id", view.AccountID).Msg("token expiry unchanged after refresh window")
	return nil
}
