// SPDX-License-Identifier: MIT

// Package netmon publishes the device's network reachability class as a live
// signal. Platforms with native connectivity callbacks push statuses in
// directly; otherwise a background prober dials out on an interval.
package netmon

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/cellar-sync/cellar/internal/event"
	"github.com/cellar-sync/cellar/internal/log"
	"github.com/cellar-sync/cellar/internal/metrics"
	"github.com/cellar-sync/cellar/internal/resilience"
)

// Status is the network reachability class.
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusUnmetered   Status = "unmetered"
	StatusMetered     Status = "metered"
	StatusRoaming     Status = "roaming"
	StatusUnavailable Status = "unavailable"
)

// Dialer abstracts the outbound dial used by the prober.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Monitor owns the network status signal.
type Monitor struct {
	status  *event.Signal[Status]
	breaker *resilience.CircuitBreaker
	dialer  Dialer
	logger  zerolog.Logger

	probeAddr     string
	probeInterval time.Duration
	probeTimeout  time.Duration
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithDialer injects a custom dialer (tests).
func WithDialer(d Dialer) Option {
	return func(m *Monitor) { m.dialer = d }
}

// WithBreaker replaces the probe circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(m *Monitor) { m.breaker = cb }
}

// WithProbe sets the outbound probe target and interval.
func WithProbe(addr string, interval time.Duration) Option {
	return func(m *Monitor) {
		m.probeAddr = addr
		m.probeInterval = interval
	}
}

// New creates a Monitor with status Unknown until the first update.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		status:        event.NewDistinct[Status](),
		breaker:       resilience.NewCircuitBreaker("netprobe", 3, 30*time.Second),
		dialer:        &net.Dialer{},
		logger:        log.WithComponent("netmon"),
		probeAddr:     "1.1.1.1:443",
		probeInterval: 15 * time.Second,
		probeTimeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.Set(StatusUnknown)
	return m
}

// Status exposes the live network status signal.
func (m *Monitor) Status() *event.Signal[Status] {
	return m.status
}

// Current returns the latest published status.
func (m *Monitor) Current() Status {
	v, ok := m.status.Get()
	if !ok {
		return StatusUnknown
	}
	return v
}

// Set publishes a status pushed from a platform connectivity callback.
func (m *Monitor) Set(status Status) {
	metrics.SetNetworkStatus(string(status))
	m.status.Set(status)
}

// Run probes outbound connectivity on a ticker until ctx is done. A failed
// probe flips the status to Unavailable; a successful probe restores
// Unmetered only when the previous state was Unavailable or Unknown, so a
// pushed Metered/Roaming classification is not clobbered.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	err := m.breaker.Execute(func() error {
		dialCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
		defer cancel()
		conn, err := m.dialer.DialContext(dialCtx, "tcp", m.probeAddr)
		if err != nil {
			return err
		}
		return conn.Close()
	})
	if err != nil {
		if err != resilience.ErrCircuitOpen {
			metrics.IncProbeFailure()
			m.logger.Warn().Err(err).Str("addr", m.probeAddr).Msg("connectivity probe failed")
		}
		m.Set(StatusUnavailable)
		return
	}
	if cur := m.Current(); cur == StatusUnavailable || cur == StatusUnknown {
		m.Set(StatusUnmetered)
	}
}
