// SPDX-License-Identifier: MIT
package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cellar-sync/cellar/internal/account"
	"github.com/cellar-sync/cellar/internal/event"
	"github.com/cellar-sync/cellar/internal/netmon"
)

type fakeMonitor struct {
	relaunches atomic.Int64
	pauses     atomic.Int64
}

func (f *fakeMonitor) Relaunch() { f.relaunches.Add(1) }
func (f *fakeMonitor) Pause()    { f.pauses.Add(1) }

type harness struct {
	network *event.Signal[netmon.Status]
	active  *event.Signal[*account.View]
	monitor *fakeMonitor
	agg     *Aggregator
	sub     *event.Subscription[Status]
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{
		network: event.New[netmon.Status](),
		active:  event.New[*account.View](),
		monitor: &fakeMonitor{},
	}
	h.agg = NewAggregator(ctx, h.network, h.active, h.monitor)
	h.sub = h.agg.Status().Subscribe()
	t.Cleanup(h.sub.Close)
	return h
}

func (h *harness) waitStatus(t *testing.T, want Status) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-h.sub.C():
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s (current %s)", want, h.agg.Current())
		}
	}
}

func connectedView() *account.View {
	return &account.View{
		AccountID:  "alice@one",
		Generation: account.GenModern,
		AuthStatus: account.AuthConnected,
		Reachable:  true,
	}
}

func TestNoSessionMeansServerUnreachable(t *testing.T) {
	// Scenario A: network fine, no foreground session.
	h := newHarness(t)
	h.network.Set(netmon.StatusUnmetered)
	h.active.Set(nil)
	h.waitStatus(t, StatusServerUnreachable)
}

func TestConnectedSessionOkAndMonitorRelaunched(t *testing.T) {
	// Scenario B.
	h := newHarness(t)
	h.network.Set(netmon.StatusUnmetered)
	h.active.Set(connectedView())
	h.waitStatus(t, StatusOk)
	require.Eventually(t, func() bool { return h.monitor.relaunches.Load() >= 1 },
		time.Second, 5*time.Millisecond)
	require.Zero(t, h.monitor.pauses.Load())
}

func TestExpiredSessionCanRelogAndMonitorPaused(t *testing.T) {
	// Scenario C.
	h := newHarness(t)
	view := connectedView()
	view.AuthStatus = account.AuthExpired
	h.network.Set(netmon.StatusUnmetered)
	h.active.Set(view)
	h.waitStatus(t, StatusCanRelog)
	require.Eventually(t, func() bool { return h.monitor.pauses.Load() >= 1 },
		time.Second, 5*time.Millisecond)
	require.Zero(t, h.monitor.relaunches.Load())
}

func TestNoInternetAlwaysWins(t *testing.T) {
	h := newHarness(t)
	h.network.Set(netmon.StatusUnavailable)
	h.active.Set(connectedView())
	h.waitStatus(t, StatusNoInternet)
}

func TestNoInternetWithBrokenAuthIsNotLoggedIn(t *testing.T) {
	// Historical precedence: degraded connectivity plus broken auth shows
	// the auth label, not the connectivity one.
	h := newHarness(t)
	view := connectedView()
	view.AuthStatus = account.AuthUnauthorized
	h.network.Set(netmon.StatusUnavailable)
	h.active.Set(view)
	h.waitStatus(t, StatusNotLoggedIn)
}

func TestUnreachableServerOverridesAuth(t *testing.T) {
	h := newHarness(t)
	view := connectedView()
	view.Reachable = false
	view.AuthStatus = account.AuthExpired
	h.network.Set(netmon.StatusUnmetered)
	h.active.Set(view)
	h.waitStatus(t, StatusNotLoggedIn)
}

func TestMeteredAndRoamingMapThrough(t *testing.T) {
	h := newHarness(t)
	h.active.Set(connectedView())

	h.network.Set(netmon.StatusMetered)
	h.waitStatus(t, StatusMetered)

	h.network.Set(netmon.StatusRoaming)
	h.waitStatus(t, StatusRoaming)
}

func TestUnknownNetworkFallsBackToOk(t *testing.T) {
	h := newHarness(t)
	h.network.Set(netmon.StatusUnknown)
	h.active.Set(connectedView())
	h.waitStatus(t, StatusOk)
}

func TestStatusStreamIsDeduplicated(t *testing.T) {
	h := newHarness(t)
	h.network.Set(netmon.StatusUnmetered)
	h.active.Set(connectedView())
	h.waitStatus(t, StatusOk)

	// Re-publishing an equivalent view recomputes but emits nothing.
	h.active.Set(connectedView())
	select {
	case got := <-h.sub.C():
		t.Fatalf("unexpected duplicate status %s", got)
	case <-time.After(100 * time.Millisecond):
	}

	// The redundant recomputation still relaunched the monitor again.
	require.Eventually(t, func() bool { return h.monitor.relaunches.Load() >= 2 },
		time.Second, 5*time.Millisecond)
}

func TestAccountProjections(t *testing.T) {
	h := newHarness(t)
	idSub := h.agg.AccountID().Subscribe()
	defer idSub.Close()

	view := connectedView()
	view.CustomColor = "#AA0044"
	h.active.Set(view)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case id := <-idSub.C():
			if id == "alice@one" {
				require.Eventually(t, func() bool {
					color, ok := h.agg.CustomColor().Get()
					return ok && color == "#AA0044"
				}, time.Second, 5*time.Millisecond)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for account projection")
		}
	}
}

func TestDegraded(t *testing.T) {
	require.True(t, StatusNoInternet.Degraded())
	require.True(t, StatusServerUnreachable.Degraded())
	require.True(t, StatusCanRelog.Degraded())
	require.False(t, StatusOk.Degraded())
	require.False(t, StatusMetered.Degraded())
	require.False(t, StatusRoaming.Degraded())
}
