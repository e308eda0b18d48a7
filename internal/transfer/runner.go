// SPDX-License-Identifier: MIT

package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"

	"github.com/cellar-sync/cellar/internal/metrics"
)

const copyBufSize = 32 * 1024

// execute runs one queued transfer to completion, cancellation or failure.
// Transfers that are gated by the current session status stay queued.
func (m *Manager) execute(ctx context.Context, id int64) {
	t, err := m.loadRunnable(ctx, id)
	if err != nil {
		m.logger.Warn().Err(err).Int64("transfer_id", id).Msg("could not load transfer")
		return
	}
	if t == nil {
		return
	}

	if !m.gate(m.status(), t) {
		m.logger.Debug().
			Int64("transfer_id", t.ID).
			Str("session_status", string(m.status())).
			Msg("transfer gated, staying queued")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.running[t.ID] = cancel
	delete(m.intents, t.ID)
	m.mu.Unlock()
	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.running, t.ID)
		delete(m.intents, t.ID)
		m.mu.Unlock()
	}()

	t.Status = StatusProcessing
	t.StartedAt = m.clock().Unix()
	t.Error = ""
	if err := m.store.Update(ctx, t); err != nil {
		m.logger.Error().Err(err).Int64("transfer_id", t.ID).Msg("could not mark transfer processing")
		return
	}
	m.publish(t)
	metrics.IncTransferStarted(string(t.Type))

	var runErr error
	switch t.Type {
	case TypeUpload:
		runErr = m.runUpload(runCtx, t)
	default:
		runErr = m.runDownload(runCtx, t)
	}
	m.finalize(ctx, t, runErr)
}

// loadRunnable returns the record if it is in a runnable state, nil if the
// run should be silently skipped.
func (m *Manager) loadRunnable(ctx context.Context, id int64) (*Transfer, error) {
	t, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}
	if t.Status != StatusNew {
		return nil, nil
	}
	return t, nil
}

// finalize persists the terminal state for a finished run. A cancelled
// context resolves to the status the interrupting caller recorded.
func (m *Manager) finalize(ctx context.Context, t *Transfer, runErr error) {
	now := m.clock().Unix()
	switch {
	case runErr == nil:
		t.Status = StatusDone
		if t.Size >= 0 {
			t.Transferred = t.Size
		}
		t.DoneAt = now
		m.ledger.Info("transfer", fmt.Sprintf("%s of %s finished", t.Type, t.NodePath), t.AccountID)
	case errors.Is(runErr, context.Canceled):
		m.mu.Lock()
		target, ok := m.intents[t.ID]
		m.mu.Unlock()
		if !ok {
			target = StatusCancelled
		}
		t.Status = target
		if target == StatusCancelled {
			t.DoneAt = now
		}
	default:
		t.Status = StatusError
		t.Error = runErr.Error()
		t.DoneAt = now
		m.ledger.Error("transfer", fmt.Sprintf("%s of %s failed: %v", t.Type, t.NodePath, runErr), t.AccountID)
	}

	if err := m.store.Update(ctx, t); err != nil {
		m.logger.Error().Err(err).Int64("transfer_id", t.ID).Msg("could not persist terminal transfer state")
		return
	}
	m.publish(t)
	if t.Status.Terminal() {
		metrics.IncTransferFinished(string(t.Type), string(t.Status))
	}
}

func (m *Manager) runDownload(ctx context.Context, t *Transfer) error {
	if err := os.MkdirAll(filepath.Dir(t.LocalPath), 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	offset := t.Transferred
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(t.LocalPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()

	rc, total, err := m.remote.Download(ctx, t.AccountID, t.NodePath, offset)
	if err != nil {
		return fmt.Errorf("open remote stream: %w", err)
	}
	defer rc.Close()

	if total >= 0 && t.Size != total {
		t.Size = total
		if err := m.store.Update(ctx, t); err != nil {
			return err
		}
		m.publish(t)
	}

	return m.copyWithProgress(ctx, t, f, rc)
}

func (m *Manager) runUpload(ctx context.Context, t *Transfer) error {
	f, err := os.Open(t.LocalPath)
	if err != nil {
		return fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()

	pr := &progressReader{r: f, m: m, t: t, limiter: m.newPersistLimiter(), ctx: ctx}
	if err := m.remote.Upload(ctx, t.AccountID, t.NodePath, pr, t.Size); err != nil {
		return fmt.Errorf("upload %s: %w", t.NodePath, err)
	}
	return nil
}

// copyWithProgress streams src into dst, persisting progress at a bounded
// rate so observers track long transfers without hammering the store.
func (m *Manager) copyWithProgress(ctx context.Context, t *Transfer, dst io.Writer, src io.Reader) error {
	limiter := m.newPersistLimiter()
	buf := make([]byte, copyBufSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write local file: %w", werr)
			}
			m.advance(ctx, t, int64(n), limiter)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return fmt.Errorf("read remote stream: %w", rerr)
		}
	}
}

// advance adds n transferred bytes and persists when the limiter allows.
func (m *Manager) advance(ctx context.Context, t *Transfer, n int64, limiter *rate.Limiter) {
	t.Transferred += n
	metrics.AddTransferBytes(string(t.Type), n)
	if !limiter.Allow() {
		return
	}
	if err := m.store.Update(ctx, t); err != nil {
		m.logger.Warn().Err(err).Int64("transfer_id", t.ID).Msg("could not persist transfer progress")
		return
	}
	m.publish(t)
}

func (m *Manager) newPersistLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(m.persistEvery), 1)
}

// progressReader counts bytes pulled by an upload and mirrors progress into
// the record.
type progressReader struct {
	r       io.Reader
	m       *Manager
	t       *Transfer
	limiter *rate.Limiter
	ctx     context.Context
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(b)
	if n > 0 {
		p.m.advance(p.ctx, p.t, int64(n), p.limiter)
	}
	return n, err
}
