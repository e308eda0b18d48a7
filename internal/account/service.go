// SPDX-License-Identifier: MIT

package account

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cellar-sync/cellar/internal/event"
	"github.com/cellar-sync/cellar/internal/log"
)

// Service owns the foreground-session projection. All writes go through the
// store first; the signal is refreshed from the persisted row so observers
// never see a value that was not committed.
type Service struct {
	store  *Store
	active *event.Signal[*View]
	logger zerolog.Logger
}

// NewService builds the service and seeds the active-session signal from the
// persisted foreground row, if any.
func NewService(ctx context.Context, store *Store) (*Service, error) {
	s := &Service{
		store:  store,
		active: event.New[*View](),
		logger: log.WithComponent("account"),
	}
	view, err := store.ForegroundView(ctx)
	if err != nil {
		return nil, err
	}
	s.active.Set(view)
	return s, nil
}

// Active exposes the foreground session view as a live signal. A nil view
// means no account is foregrounded.
func (s *Service) Active() *event.Signal[*View] {
	return s.active
}

// CurrentView returns the latest published view, possibly nil.
func (s *Service) CurrentView() *View {
	v, _ := s.active.Get()
	return v
}

// Register inserts or updates an account.
func (s *Service) Register(ctx context.Context, a Account) error {
	if err := s.store.UpsertAccount(ctx, a); err != nil {
		return err
	}
	s.logger.Info().Str("account_id", a.ID).Str("generation", string(a.Generation)).Msg("account registered")
	return s.refresh(ctx)
}

// SwitchForeground makes the given account the foreground session and
// publishes the updated view.
func (s *Service) SwitchForeground(ctx context.Context, accountID string) error {
	if err := s.store.SetForeground(ctx, accountID); err != nil {
		return err
	}
	s.logger.Info().Str("account_id", accountID).Msg("foreground account switched")
	return s.refresh(ctx)
}

// SetAuthStatus persists a new auth status for the account and republishes
// the view when the foreground session is affected.
func (s *Service) SetAuthStatus(ctx context.Context, accountID string, status AuthStatus) error {
	if err := s.store.SetAuthStatus(ctx, accountID, status); err != nil {
		return err
	}
	s.logger.Debug().Str("account_id", accountID).Str("auth_status", string(status)).Msg("auth status updated")
	return s.refresh(ctx)
}

// SetReachable persists the reachability flag for the account and republishes
// the view when the foreground session is affected.
func (s *Service) SetReachable(ctx context.Context, accountID string, reachable bool) error {
	if err := s.store.SetReachable(ctx, accountID, reachable); err != nil {
		return err
	}
	return s.refresh(ctx)
}

// Accounts lists all registered accounts.
func (s *Service) Accounts(ctx context.Context) ([]Account, error) {
	return s.store.ListAccounts(ctx)
}

func (s *Service) refresh(ctx context.Context) error {
	view, err := s.store.ForegroundView(ctx)
	if err != nil {
		return err
	}
	s.active.Set(view)
	return nil
}
