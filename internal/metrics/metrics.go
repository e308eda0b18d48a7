// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	sessionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cellar_session_status",
		Help: "Current aggregated session status (1 for the active value, 0 otherwise)",
	}, []string{"status"})

	sessionRecomputations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cellar_session_status_recomputations_total",
		Help: "Total number of session status recomputations",
	})

	// Credential monitor metrics
	monitorCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cellar_credential_monitor_cycles_total",
		Help: "Total credential monitor check cycles",
	})

	monitorRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellar_credential_refresh_total",
		Help: "Credential refresh attempts by outcome",
	}, []string{"outcome"}) // outcome=confirmed|timeout|error|skipped

	// Transfer metrics
	transfersStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellar_transfers_started_total",
		Help: "Transfers started by type",
	}, []string{"type"}) // type=download|upload

	transfersFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellar_transfers_finished_total",
		Help: "Transfers finished by type and outcome",
	}, []string{"type", "outcome"}) // outcome=done|cancelled|error

	transferBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellar_transfer_bytes_total",
		Help: "Bytes moved by transfer type",
	}, []string{"type"})

	transfersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cellar_transfers_active",
		Help: "Transfers currently executing",
	})

	// Job ledger metrics
	jobsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellar_jobs_created_total",
		Help: "Jobs created by owner",
	}, []string{"owner"})

	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellar_jobs_finished_total",
		Help: "Jobs finished by status",
	}, []string{"status"})

	logWriteDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cellar_log_write_drops_total",
		Help: "Ledger log writes dropped due to persistence errors",
	})

	// Network monitor metrics
	networkStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cellar_network_status",
		Help: "Current network status (1 for the active value, 0 otherwise)",
	}, []string{"status"})

	probeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cellar_network_probe_failures_total",
		Help: "Total outbound connectivity probe failures",
	})

	// Resilience metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cellar_circuit_breaker_state",
		Help: "Circuit breaker state per component (1 for the active state, 0 otherwise)",
	}, []string{"component", "state"})
)

var sessionStatusValues = []string{
	"no_internet", "server_unreachable", "not_logged_in", "can_relog", "roaming", "metered", "ok",
}

// SetSessionStatus records the aggregated session status.
func SetSessionStatus(status string) {
	for _, v := range sessionStatusValues {
		val := 0.0
		if v == status {
			val = 1.0
		}
		sessionStatus.WithLabelValues(v).Set(val)
	}
}

// IncSessionRecomputation counts one aggregation pass.
func IncSessionRecomputation() {
	sessionRecomputations.Inc()
}

// IncMonitorCycle counts one credential monitor check cycle.
func IncMonitorCycle() {
	monitorCycles.Inc()
}

// IncRefresh records a credential refresh attempt outcome.
func IncRefresh(outcome string) {
	monitorRefreshes.WithLabelValues(outcome).Inc()
}

// IncTransferStarted counts a transfer start.
func IncTransferStarted(transferType string) {
	transfersStarted.WithLabelValues(transferType).Inc()
	transfersActive.Inc()
}

// IncTransferFinished counts a transfer completion.
func IncTransferFinished(transferType, outcome string) {
	transfersFinished.WithLabelValues(transferType, outcome).Inc()
	transfersActive.Dec()
}

// AddTransferBytes accumulates moved bytes.
func AddTransferBytes(transferType string, n int64) {
	if n > 0 {
		transferBytes.WithLabelValues(transferType).Add(float64(n))
	}
}

// IncJobCreated counts a ledger job creation.
func IncJobCreated(owner string) {
	jobsCreated.WithLabelValues(owner).Inc()
}

// IncJobFinished counts a ledger job reaching a terminal status.
func IncJobFinished(status string) {
	jobsFinished.WithLabelValues(status).Inc()
}

// IncLogWriteDrop counts a swallowed ledger log write failure.
func IncLogWriteDrop() {
	logWriteDrops.Inc()
}

var networkStatusValues = []string{
	"unknown", "unmetered", "metered", "roaming", "unavailable",
}

// SetNetworkStatus records the current network status.
func SetNetworkStatus(status string) {
	for _, v := range networkStatusValues {
		val := 0.0
		if v == status {
			val = 1.0
		}
		networkStatus.WithLabelValues(v).Set(val)
	}
}

// IncProbeFailure counts one failed connectivity probe.
func IncProbeFailure() {
	probeFailures.Inc()
}

var breakerStates = []string{"closed", "open", "half-open"}

// SetCircuitBreakerState records the current breaker state for a component.
func SetCircuitBreakerState(component, state string) {
	for _, s := range breakerStates {
		val := 0.0
		if s == state {
			val = 1.0
		}
		circuitBreakerState.WithLabelValues(component, s).Set(val)
	}
}
