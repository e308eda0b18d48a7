// SPDX-License-Identifier: MIT

package transfer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "transfers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedTransfer(t *testing.T, s *Store, accountID string, status Status, createdAt int64) *Transfer {
	t.Helper()
	ctx := context.Background()
	rec := &Transfer{
		AccountID: accountID,
		NodePath:  "/docs/report.pdf",
		Type:      TypeDownload,
		LocalPath: "/tmp/report.pdf",
		Size:      1024,
		Status:    status,
		Owner:     OwnerUser,
		CreatedAt: createdAt,
	}
	id, err := s.Insert(ctx, rec)
	require.NoError(t, err)
	rec.ID = id
	return rec
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := seedTransfer(t, s, "acc-1", StatusNew, 100)

	got, err := s.Get(ctx, "acc-1", rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "/docs/report.pdf", got.NodePath)
	require.Equal(t, TypeDownload, got.Type)
	require.Equal(t, StatusNew, got.Status)
	require.Equal(t, int64(1024), got.Size)

	got.Status = StatusProcessing
	got.Transferred = 512
	got.StartedAt = 101
	require.NoError(t, s.Update(ctx, got))

	again, err := s.Get(ctx, "acc-1", rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, again.Status)
	require.Equal(t, int64(512), again.Transferred)
}

func TestStoreGetScopedToAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := seedTransfer(t, s, "acc-1", StatusNew, 100)

	got, err := s.Get(ctx, "acc-other", rec.ID)
	require.NoError(t, err)
	require.Nil(t, got)

	byID, err := s.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	require.Equal(t, "acc-1", byID.AccountID)
}

func TestStoreListFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedTransfer(t, s, "acc-1", StatusDone, 100)
	seedTransfer(t, s, "acc-1", StatusNew, 200)
	seedTransfer(t, s, "acc-1", StatusNew, 300)
	seedTransfer(t, s, "acc-2", StatusNew, 400)

	all, err := s.List(ctx, "acc-1", Filter{}, OrderByCreated)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, int64(300), all[0].CreatedAt)

	queued, err := s.List(ctx, "acc-1", Filter{Status: StatusNew}, OrderByCreated)
	require.NoError(t, err)
	require.Len(t, queued, 2)
}

func TestStorePendingOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedTransfer(t, s, "acc-1", StatusDone, 100)
	second := seedTransfer(t, s, "acc-1", StatusNew, 300)
	first := seedTransfer(t, s, "acc-2", StatusNew, 200)

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, first.ID, pending[0].ID)
	require.Equal(t, second.ID, pending[1].ID)
}

func TestStoreRequeueOrphaned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	orphan := seedTransfer(t, s, "acc-1", StatusProcessing, 100)
	done := seedTransfer(t, s, "acc-1", StatusDone, 110)
	queued := seedTransfer(t, s, "acc-1", StatusNew, 120)
	paused := seedTransfer(t, s, "acc-1", StatusPaused, 130)

	n, err := s.RequeueOrphaned(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := s.GetByID(ctx, orphan.ID)
	require.NoError(t, err)
	require.Equal(t, StatusNew, got.Status)

	// Only the interrupted row is touched.
	for id, want := range map[int64]Status{done.ID: StatusDone, queued.ID: StatusNew, paused.ID: StatusPaused} {
		rec, err := s.GetByID(ctx, id)
		require.NoError(t, err)
		require.Equal(t, want, rec.Status)
	}

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, orphan.ID, pending[0].ID)
}

func TestStoreClearTerminated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedTransfer(t, s, "acc-1", StatusDone, 100)
	seedTransfer(t, s, "acc-1", StatusError, 110)
	seedTransfer(t, s, "acc-1", StatusCancelled, 120)
	paused := seedTransfer(t, s, "acc-1", StatusPaused, 130)
	queued := seedTransfer(t, s, "acc-1", StatusNew, 140)

	require.NoError(t, s.ClearTerminated(ctx, "acc-1"))

	left, err := s.List(ctx, "acc-1", Filter{}, OrderByCreated)
	require.NoError(t, err)
	require.Len(t, left, 2)
	ids := []int64{left[0].ID, left[1].ID}
	require.Contains(t, ids, paused.ID)
	require.Contains(t, ids, queued.ID)
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := seedTransfer(t, s, "acc-1", StatusNew, 100)
	require.NoError(t, s.Delete(ctx, "acc-1", rec.ID))

	got, err := s.Get(ctx, "acc-1", rec.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}
