// SPDX-License-Identifier: MIT

package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cellar-sync/cellar/internal/event"
	"github.com/cellar-sync/cellar/internal/ledger"
	"github.com/cellar-sync/cellar/internal/log"
	"github.com/cellar-sync/cellar/internal/session"
)

// Remote moves file content for one account. Implemented by the protocol
// clients; offset supports resuming interrupted downloads.
type Remote interface {
	Download(ctx context.Context, accountID, nodePath string, offset int64) (io.ReadCloser, int64, error)
	Upload(ctx context.Context, accountID, nodePath string, r io.Reader, size int64) error
}

// Manager owns the transfer queue and lifecycle. Individual transfers run
// on a bounded worker pool with cooperative cancellation; every persisted
// mutation is mirrored to per-transfer live signals for observers.
type Manager struct {
	store   *Store
	remote  Remote
	gate    Gate
	status  func() session.Status
	ledger  *ledger.Ledger
	logger  zerolog.Logger
	clock   func() time.Time
	dataDir string

	workers      int
	persistEvery time.Duration

	mu       sync.Mutex
	running  map[int64]context.CancelFunc
	intents  map[int64]Status
	watchers map[int64]*event.Signal[*Transfer]

	queue chan int64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithWorkers bounds the number of concurrently executing transfers.
func WithWorkers(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithGate replaces the admission predicate.
func WithGate(g Gate) ManagerOption {
	return func(m *Manager) { m.gate = g }
}

// WithClock injects a test clock.
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

// WithPersistInterval tunes how often in-flight progress is persisted.
func WithPersistInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.persistEvery = d
		}
	}
}

// NewManager builds a Manager. dataDir is the root for downloaded files;
// status resolves the current session status for gating.
func NewManager(store *Store, remote Remote, ledgerSvc *ledger.Ledger, dataDir string, status func() session.Status, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:        store,
		remote:       remote,
		gate:         DefaultGate(GatePolicy{AllowMetered: true, AllowRoaming: true}),
		status:       status,
		ledger:       ledgerSvc,
		logger:       log.WithComponent("transfer"),
		clock:        time.Now,
		dataDir:      dataDir,
		workers:      3,
		persistEvery: 500 * time.Millisecond,
		running:      make(map[int64]context.CancelFunc),
		intents:      make(map[int64]Status),
		watchers:     make(map[int64]*event.Signal[*Transfer]),
		queue:        make(chan int64, 256),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run consumes the queue until ctx is done. Rows left in processing by an
// unclean shutdown are reset first, then the persisted queue is restored.
func (m *Manager) Run(ctx context.Context) error {
	requeued, err := m.store.RequeueOrphaned(ctx)
	if err != nil {
		return fmt.Errorf("requeue interrupted transfers: %w", err)
	}
	if requeued > 0 {
		m.logger.Info().Int64("count", requeued).Msg("requeued transfers interrupted by shutdown")
	}

	pending, err := m.store.Pending(ctx)
	if err != nil {
		return fmt.Errorf("restore transfer queue: %w", err)
	}
	for _, t := range pending {
		m.enqueue(t.ID)
	}

	g, runCtx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case id := <-m.queue:
			g.Go(func() error {
				m.execute(runCtx, id)
				return nil
			})
		}
	}
}

// Launch pushes a prepared transfer onto the queue.
func (m *Manager) Launch(id int64) {
	m.enqueue(id)
}

// Nudge re-enqueues queued transfers, typically after the session status
// recovered and gating allows work again.
func (m *Manager) Nudge(ctx context.Context) {
	pending, err := m.store.Pending(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("could not list pending transfers")
		return
	}
	for _, t := range pending {
		m.enqueue(t.ID)
	}
}

// PrepareDownload allocates a download record without starting it, so the
// caller can observe the record before any bytes move.
func (m *Manager) PrepareDownload(ctx context.Context, accountID, nodePath, owner string) (*Transfer, error) {
	local := filepath.Join(m.dataDir, safeSegment(accountID), filepath.FromSlash(nodePath))
	t := &Transfer{
		AccountID: accountID,
		NodePath:  nodePath,
		Type:      TypeDownload,
		LocalPath: local,
		Size:      SizeUnknown,
		Status:    StatusNew,
		Owner:     owner,
		CreatedAt: m.clock().Unix(),
	}
	id, err := m.store.Insert(ctx, t)
	if err != nil {
		return nil, err
	}
	stored, err := m.store.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	m.publish(stored)
	return stored, nil
}

// RunDownload executes a previously prepared download synchronously.
func (m *Manager) RunDownload(ctx context.Context, accountID string, transferID int64) error {
	t, err := m.store.Get(ctx, accountID, transferID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("transfer %d not found for %s", transferID, accountID)
	}
	m.execute(ctx, t.ID)
	return nil
}

// EnqueueUpload records an upload for the file at localPath targeting the
// remote parent path and pushes it onto the queue.
func (m *Manager) EnqueueUpload(ctx context.Context, accountID, parentPath, localPath, owner string) (*Transfer, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("stat upload source: %w", err)
	}
	t := &Transfer{
		AccountID: accountID,
		NodePath:  path.Join(parentPath, filepath.Base(localPath)),
		Type:      TypeUpload,
		LocalPath: localPath,
		Size:      info.Size(),
		Status:    StatusNew,
		Owner:     owner,
		CreatedAt: m.clock().Unix(),
	}
	id, err := m.store.Insert(ctx, t)
	if err != nil {
		return nil, err
	}
	stored, err := m.store.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	m.publish(stored)
	m.enqueue(id)
	return stored, nil
}

// CancelTransfer cancels a transfer. Cancelling an already-terminal
// transfer is a no-op.
func (m *Manager) CancelTransfer(ctx context.Context, accountID string, id int64, owner string) error {
	m.ledger.Info("transfer", fmt.Sprintf("cancel requested by %s", owner), fmt.Sprintf("%d", id))
	return m.interrupt(ctx, accountID, id, StatusCancelled)
}

// PauseOne pauses a transfer. Idempotent; a no-op on terminal transfers.
func (m *Manager) PauseOne(ctx context.Context, accountID string, id int64) error {
	return m.interrupt(ctx, accountID, id, StatusPaused)
}

// ResumeOne re-enqueues a paused or failed transfer, keeping already
// transferred bytes for downloads.
func (m *Manager) ResumeOne(ctx context.Context, accountID string, id int64) error {
	t, err := m.store.Get(ctx, accountID, id)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("transfer %d not found for %s", id, accountID)
	}
	switch t.Status {
	case StatusPaused, StatusError, StatusCancelled:
	case StatusNew:
		m.enqueue(id)
		return nil
	default:
		return nil
	}
	t.Status = StatusNew
	t.Error = ""
	t.DoneAt = 0
	if err := m.store.Update(ctx, t); err != nil {
		return err
	}
	m.publish(t)
	m.enqueue(id)
	return nil
}

// RemoveOne deletes a transfer record, cancelling it first if running.
func (m *Manager) RemoveOne(ctx context.Context, accountID string, id int64) error {
	m.cancelRunning(id, StatusCancelled)
	if err := m.store.Delete(ctx, accountID, id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.watchers, id)
	m.mu.Unlock()
	return nil
}

// ClearTerminated removes all terminal transfers for the account.
func (m *Manager) ClearTerminated(ctx context.Context, accountID string) error {
	return m.store.ClearTerminated(ctx, accountID)
}

// GetRecord loads one transfer record.
func (m *Manager) GetRecord(ctx context.Context, accountID string, id int64) (*Transfer, error) {
	return m.store.Get(ctx, accountID, id)
}

// LiveTransfer exposes a live signal for one transfer record. The signal is
// seeded with the stored record when one exists.
func (m *Manager) LiveTransfer(ctx context.Context, accountID string, id int64) *event.Signal[*Transfer] {
	m.mu.Lock()
	sig, ok := m.watchers[id]
	if !ok {
		sig = event.New[*Transfer]()
		m.watchers[id] = sig
	}
	m.mu.Unlock()
	if _, seeded := sig.Get(); !seeded {
		if t, err := m.store.Get(ctx, accountID, id); err == nil && t != nil {
			sig.Set(t)
		}
	}
	return sig
}

// QueryTransfers lists transfers for an account with an explicit filter and
// ordering.
func (m *Manager) QueryTransfers(ctx context.Context, accountID string, filter Filter, order Order) ([]Transfer, error) {
	return m.store.List(ctx, accountID, filter, order)
}

// interrupt applies a pause or cancel to a transfer in any state.
func (m *Manager) interrupt(ctx context.Context, accountID string, id int64, target Status) error {
	t, err := m.store.Get(ctx, accountID, id)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("transfer %d not found for %s", id, accountID)
	}
	if t.Status.Terminal() || t.Status == target {
		return nil
	}

	if m.cancelRunning(id, target) {
		// The runner observes the cancellation and persists the target
		// status itself.
		return nil
	}

	t.Status = target
	if target == StatusCancelled {
		t.DoneAt = m.clock().Unix()
	}
	if err := m.store.Update(ctx, t); err != nil {
		return err
	}
	m.publish(t)
	return nil
}

// cancelRunning cancels the in-flight run of id, recording the status the
// runner should persist. Reports whether a run was actually in flight.
func (m *Manager) cancelRunning(id int64, target Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cancel, ok := m.running[id]
	if !ok {
		return false
	}
	m.intents[id] = target
	cancel()
	return true
}

func (m *Manager) enqueue(id int64) {
	select {
	case m.queue <- id:
	default:
		m.logger.Warn().Int64("transfer_id", id).Msg("transfer queue full, dropping enqueue")
	}
}

func (m *Manager) publish(t *Transfer) {
	m.mu.Lock()
	sig, ok := m.watchers[t.ID]
	m.mu.Unlock()
	if ok {
		copied := *t
		sig.Set(&copied)
	}
}

func safeSegment(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
