// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cellar-sync/cellar/internal/session"
)

type staticChecker struct {
	name   string
	result CheckResult
}

func (c *staticChecker) Name() string                        { return c.name }
func (c *staticChecker) Check(_ context.Context) CheckResult { return c.result }

func TestHealthAlwaysHealthyWithoutVerbose(t *testing.T) {
	m := NewManager("1.0.0")
	m.RegisterChecker(&staticChecker{name: "db", result: CheckResult{Status: StatusUnhealthy}})

	resp := m.Health(context.Background(), false)
	require.Equal(t, StatusHealthy, resp.Status)
	require.Empty(t, resp.Checks)
}

func TestHealthVerboseAggregates(t *testing.T) {
	m := NewManager("1.0.0")
	m.RegisterChecker(&staticChecker{name: "db", result: CheckResult{Status: StatusHealthy}})
	m.RegisterChecker(&staticChecker{name: "session", result: CheckResult{Status: StatusDegraded}})

	resp := m.Health(context.Background(), true)
	require.Equal(t, StatusDegraded, resp.Status)
	require.Len(t, resp.Checks, 2)
}

func TestReadyUnhealthyComponentBlocksReadiness(t *testing.T) {
	m := NewManager("1.0.0")
	m.RegisterChecker(&staticChecker{name: "db", result: CheckResult{Status: StatusUnhealthy, Error: "closed"}})

	resp := m.Ready(context.Background())
	require.False(t, resp.Ready)
	require.Equal(t, StatusUnhealthy, resp.Status)
}

func TestReadyDegradedStaysReady(t *testing.T) {
	m := NewManager("1.0.0")
	m.RegisterChecker(&staticChecker{name: "session", result: CheckResult{Status: StatusDegraded}})

	resp := m.Ready(context.Background())
	require.True(t, resp.Ready)
	require.Equal(t, StatusDegraded, resp.Status)
}

func TestServeReadyStatusCodes(t *testing.T) {
	m := NewManager("1.0.0")
	m.RegisterChecker(&staticChecker{name: "db", result: CheckResult{Status: StatusUnhealthy}})

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Ready)
}

func TestServeHealthAlways200(t *testing.T) {
	m := NewManager("1.0.0")
	m.RegisterChecker(&staticChecker{name: "db", result: CheckResult{Status: StatusUnhealthy}})

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz?verbose=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionChecker(t *testing.T) {
	degraded := NewSessionChecker(func() session.Status { return session.StatusNoInternet })
	res := degraded.Check(context.Background())
	require.Equal(t, StatusDegraded, res.Status)
	require.Equal(t, string(session.StatusNoInternet), res.Message)

	ok := NewSessionChecker(func() session.Status { return session.StatusOk })
	require.Equal(t, StatusHealthy, ok.Check(context.Background()).Status)
}
