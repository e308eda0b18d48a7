// SPDX-License-Identifier: MIT
package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cellar-sync/cellar/internal/account"
)

type fakeSessions struct {
	mu    sync.Mutex
	view  *account.View
	calls atomic.Int64
}

func (f *fakeSessions) CurrentView() *account.View {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeSessions) set(v *account.View) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.view = v
}

type fakeRefresher struct {
	mu       sync.Mutex
	calls    int
	fail     bool
	newToken *Token
}

func (f *fakeRefresher) RefreshToken(ctx context.Context, accountID, refreshToken string) (*Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errors.New("refresh endpoint unavailable")
	}
	return f.newToken, nil
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastIntervals() MonitorOption {
	return WithIntervals(20*time.Millisecond, 120*time.Second, 5*time.Millisecond, 60*time.Millisecond)
}

func modernView(id string) *account.View {
	return &account.View{AccountID: id, Generation: account.GenModern, AuthStatus: account.AuthConnected}
}

func TestMonitorRefreshConfirmed(t *testing.T) {
	store := newTestTokenStore(t)
	sessions := &fakeSessions{}
	sessions.set(modernView("alice@one"))

	oldExp := time.Now().Add(60 * time.Second).Unix() // within the 120s threshold
	newExp := time.Now().Add(time.Hour).Unix()
	refresher := &fakeRefresher{newToken: &Token{
		AccessToken: "at-2", RefreshToken: "rt-2", ExpirationTime: newExp,
	}}
	creds := NewCredentials(store, refresher)
	require.NoError(t, creds.Put(context.Background(), &Token{
		AccountID: "alice@one", AccessToken: "at-1", RefreshToken: "rt-1", ExpirationTime: oldExp,
	}))

	m := NewMonitor(context.Background(), creds, sessions, fastIntervals())
	m.Relaunch()
	defer m.Pause()

	require.Eventually(t, func() bool {
		tok, err := creds.GetToken(context.Background(), "alice@one")
		return err == nil && tok != nil && tok.ExpirationTime == newExp
	}, 2*time.Second, 10*time.Millisecond, "expected refreshed expiry to land in the store")
	require.GreaterOrEqual(t, refresher.callCount(), 1)
}

func TestMonitorRefreshTimeoutKeepsRunning(t *testing.T) {
	store := newTestTokenStore(t)
	sessions := &fakeSessions{}
	sessions.set(modernView("alice@one"))

	refresher := &fakeRefresher{fail: true}
	creds := NewCredentials(store, refresher)
	require.NoError(t, creds.Put(context.Background(), &Token{
		AccountID: "alice@one", AccessToken: "at-1", RefreshToken: "rt-1",
		ExpirationTime: time.Now().Add(60 * time.Second).Unix(),
	}))

	m := NewMonitor(context.Background(), creds, sessions, fastIntervals())
	m.Relaunch()
	defer m.Pause()

	// The refresh never lands; the cycle times out silently and the loop
	// stays alive to retry next cycle.
	require.Eventually(t, func() bool { return refresher.callCount() >= 2 },
		2*time.Second, 10*time.Millisecond)
	require.True(t, m.IsRunning())
}

func TestMonitorFreshTokenNoRefresh(t *testing.T) {
	store := newTestTokenStore(t)
	sessions := &fakeSessions{}
	sessions.set(modernView("alice@one"))

	refresher := &fakeRefresher{}
	creds := NewCredentials(store, refresher)
	require.NoError(t, creds.Put(context.Background(), &Token{
		AccountID: "alice@one", AccessToken: "at-1",
		ExpirationTime: time.Now().Add(time.Hour).Unix(),
	}))

	m := NewMonitor(context.Background(), creds, sessions, fastIntervals())
	m.Relaunch()
	defer m.Pause()

	require.Eventually(t, func() bool { return sessions.calls.Load() >= 3 },
		2*time.Second, 10*time.Millisecond)
	require.Zero(t, refresher.callCount())
}

func TestMonitorLegacySessionSkipped(t *testing.T) {
	store := newTestTokenStore(t)
	sessions := &fakeSessions{}
	sessions.set(&account.View{AccountID: "old@p8", Generation: account.GenLegacy})

	refresher := &fakeRefresher{}
	creds := NewCredentials(store, refresher)

	m := NewMonitor(context.Background(), creds, sessions, fastIntervals())
	m.Relaunch()
	defer m.Pause()

	require.Eventually(t, func() bool { return sessions.calls.Load() >= 3 },
		2*time.Second, 10*time.Millisecond)
	require.Zero(t, refresher.callCount())
	require.True(t, m.IsRunning())
}

func TestMonitorMissingCredentialsSelfPauses(t *testing.T) {
	store := newTestTokenStore(t)
	sessions := &fakeSessions{}
	sessions.set(modernView("ghost@one")) // no token stored

	creds := NewCredentials(store, &fakeRefresher{})
	m := NewMonitor(context.Background(), creds, sessions, fastIntervals())
	m.Relaunch()

	require.Eventually(t, func() bool { return !m.IsRunning() && sessions.calls.Load() >= 1 },
		2*time.Second, 10*time.Millisecond, "monitor should pause itself on missing credentials")

	// Self-pause is sticky: no further cycles run.
	n := sessions.calls.Load()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, n, sessions.calls.Load())
}

func TestMonitorDoubleRelaunchSingleSurvivor(t *testing.T) {
	store := newTestTokenStore(t)
	sessions := &fakeSessions{}
	sessions.set(&account.View{AccountID: "old@p8", Generation: account.GenLegacy})

	creds := NewCredentials(store, &fakeRefresher{})
	m := NewMonitor(context.Background(), creds, sessions, fastIntervals())

	m.Relaunch()
	m.Relaunch()

	require.Eventually(t, func() bool { return m.IsRunning() }, 2*time.Second, 10*time.Millisecond)

	// One Pause retires the single surviving loop; cycle counting then stops.
	m.Pause()
	require.Eventually(t, func() bool { return !m.IsRunning() }, 2*time.Second, 10*time.Millisecond)

	n := sessions.calls.Load()
	time.Sleep(120 * time.Millisecond)
	require.Equal(t, n, sessions.calls.Load(), "a zombie loop is still running")
}

func TestMonitorLatestRequestWins(t *testing.T) {
	store := newTestTokenStore(t)
	sessions := &fakeSessions{}
	sessions.set(&account.View{AccountID: "old@p8", Generation: account.GenLegacy})

	creds := NewCredentials(store, &fakeRefresher{})
	m := NewMonitor(context.Background(), creds, sessions, fastIntervals())

	// Rapid alternation must converge on the last request even when the
	// spawned goroutines are scheduled out of order.
	for i := 0; i < 25; i++ {
		m.Pause()
		m.Relaunch()
	}
	require.Eventually(t, func() bool { return m.IsRunning() }, 2*time.Second, 10*time.Millisecond,
		"monitor must end running when Relaunch was the last request")

	for i := 0; i < 25; i++ {
		m.Relaunch()
		m.Pause()
	}
	require.Eventually(t, func() bool { return !m.IsRunning() }, 2*time.Second, 10*time.Millisecond,
		"monitor must end stopped when Pause was the last request")

	n := sessions.calls.Load()
	time.Sleep(120 * time.Millisecond)
	require.Equal(t, n, sessions.calls.Load())
}
