// SPDX-License-Identifier: MIT

package session

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cellar-sync/cellar/internal/account"
	"github.com/cellar-sync/cellar/internal/event"
	"github.com/cellar-sync/cellar/internal/log"
	"github.com/cellar-sync/cellar/internal/metrics"
	"github.com/cellar-sync/cellar/internal/netmon"
)

// MonitorControl is the slice of the credential monitor the aggregator
// drives as a side effect of recomputation.
type MonitorControl interface {
	Relaunch()
	Pause()
}

// Aggregator recomputes the session status whenever the network status or
// the foreground session view changes. The output signal is de-duplicated:
// consumers only observe changes. Recomputation is not pure: it pauses the
// credential monitor when auth is not connected and relaunches it when it
// is. Identical recomputations redundantly cancel-and-relaunch the monitor;
// the relaunch path is serialized, so this is wasteful but safe.
type Aggregator struct {
	logger  zerolog.Logger
	monitor MonitorControl

	status    *event.Signal[Status]
	accountID *event.Signal[string]
	color     *event.Signal[string]
}

// NewAggregator wires the aggregation pipeline. It runs until ctx is done.
func NewAggregator(ctx context.Context, network *event.Signal[netmon.Status], active *event.Signal[*account.View], monitor MonitorControl) *Aggregator {
	a := &Aggregator{
		logger:    log.WithComponent("session-status"),
		monitor:   monitor,
		status:    event.NewDistinct[Status](),
		accountID: event.NewDistinct[string](),
		color:     event.NewDistinct[string](),
	}

	event.CombineInto2(ctx, network, active, a.status, a.combine)

	// Projections of the active session for consumers that only care about
	// identity or display color.
	sub := active.Subscribe()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case v := <-sub.C():
				if v == nil {
					a.accountID.Set("")
					a.color.Set("")
				} else {
					a.accountID.Set(v.AccountID)
					a.color.Set(v.CustomColor)
				}
			}
		}
	}()

	return a
}

// Status exposes the aggregated session status signal.
func (a *Aggregator) Status() *event.Signal[Status] {
	return a.status
}

// Current returns the latest aggregated status, defaulting to
// ServerUnreachable before the first recomputation.
func (a *Aggregator) Current() Status {
	v, ok := a.status.Get()
	if !ok {
		return StatusServerUnreachable
	}
	return v
}

// AccountID exposes the foreground account id signal ("" when none).
func (a *Aggregator) AccountID() *event.Signal[string] {
	return a.accountID
}

// CustomColor exposes the foreground account display color signal.
func (a *Aggregator) CustomColor() *event.Signal[string] {
	return a.color
}

// combine maps the latest (network, session) pair to a session status.
func (a *Aggregator) combine(net netmon.Status, view *account.View) Status {
	metrics.IncSessionRecomputation()

	var status Status
	switch net {
	case netmon.StatusUnmetered:
		status = StatusOk
	case netmon.StatusMetered:
		status = StatusMetered
	case netmon.StatusRoaming:
		status = StatusRoaming
	case netmon.StatusUnavailable:
		status = StatusNoInternet
	default:
		a.logger.Error().Str("network_status", string(net)).Msg("unexpected network status")
		status = StatusOk
	}

	if view == nil {
		// No foreground session to refine against; the monitor is left alone.
		status = StatusServerUnreachable
		a.publish(status)
		return status
	}

	if status != StatusNoInternet && !view.Reachable {
		status = StatusServerUnreachable
	}

	if view.AuthStatus != account.AuthConnected {
		a.monitor.Pause()
		if status != StatusNoInternet && status != StatusServerUnreachable {
			status = StatusCanRelog
		} else {
			// Connectivity is degraded AND auth is broken: the more specific
			// auth label wins, matching the historical precedence.
			status = StatusNotLoggedIn
		}
	} else {
		a.monitor.Relaunch()
	}

	a.publish(status)
	return status
}

func (a *Aggregator) publish(status Status) {
	metrics.SetSessionStatus(string(status))
	a.logger.Debug().Str("status", string(status)).Msg("session status recomputed")
}
