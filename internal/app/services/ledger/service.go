// Package ledger implements value custody for the competition: receiving
// accounts, payout credits and irreversible burns. The round engine talks to
// it through the small transfer/burn/resolver capabilities it defines itself.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/R3E-Network/rumble/internal/app/domain/ledger"
	"github.com/R3E-Network/rumble/internal/app/storage"
	"github.com/R3E-Network/rumble/pkg/logger"
)

// Errors
var (
	ErrInvalidAddress  = errors.New("invalid account address")
	ErrAccountNotFound = errors.New("receiving account not found")
	ErrBalanceOverflow = errors.New("account balance overflow")
)

// Service manages custody accounts and the append-only movement log.
type Service struct {
	store storage.LedgerStore
	log   *logger.Logger
}

// New constructs the ledger service.
func New(store storage.LedgerStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{store: store, log: log}
}

// CreateAccount provisions a receiving account with a zero balance.
func (s *Service) CreateAccount(ctx context.Context, address string) (domain.Account, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return domain.Account{}, ErrInvalidAddress
	}

	acct, err := s.store.CreateLedgerAccount(ctx, domain.Account{Address: address})
	if err != nil {
		return domain.Account{}, fmt.Errorf("create account: %w", err)
	}

	s.log.WithField("address", address).Info("ledger account created")
	return acct, nil
}

// EnsureAccount returns the account for the address, creating it if absent.
func (s *Service) EnsureAccount(ctx context.Context, address string) (domain.Account, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return domain.Account{}, ErrInvalidAddress
	}

	acct, err := s.store.GetLedgerAccount(ctx, address)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, storage.ErrAccountNotFound) {
		return domain.Account{}, fmt.Errorf("get account: %w", err)
	}
	return s.CreateAccount(ctx, address)
}

// GetAccount returns the account for the address.
func (s *Service) GetAccount(ctx context.Context, address string) (domain.Account, error) {
	acct, err := s.store.GetLedgerAccount(ctx, strings.TrimSpace(address))
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return domain.Account{}, ErrAccountNotFound
		}
		return domain.Account{}, fmt.Errorf("get account: %w", err)
	}
	return acct, nil
}

// ListAccounts returns every custody account.
func (s *Service) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return s.store.ListLedgerAccounts(ctx)
}

// Resolve reports whether the address can receive a payout. A nil return
// means the account exists.
func (s *Service) Resolve(ctx context.Context, address string) error {
	_, err := s.store.GetLedgerAccount(ctx, strings.TrimSpace(address))
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, address)
		}
		return fmt.Errorf("resolve account: %w", err)
	}
	return nil
}

// Pay credits a payout to the address and records the movement. The round
// engine resolves all winners before paying, so an unknown address here means
// the account disappeared between resolution and credit.
func (s *Service) Pay(ctx context.Context, address string, amount uint64, roundID string) error {
	address = strings.TrimSpace(address)

	acct, err := s.store.GetLedgerAccount(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, address)
		}
		return fmt.Errorf("get account: %w", err)
	}

	if acct.Balance > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, address)
	}
	acct.Balance += amount

	if _, err := s.store.SaveLedgerAccount(ctx, acct); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	if _, err := s.store.AppendLedgerEntry(ctx, domain.Entry{
		ID:        uuid.NewString(),
		Type:      domain.EntryCredit,
		Address:   address,
		Amount:    amount,
		RoundID:   roundID,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("append credit entry: %w", err)
	}

	s.log.WithField("address", address).
		WithField("amount", amount).
		WithField("round_id", roundID).
		Info("payout credited")
	return nil
}

// Burn permanently destroys the amount from pool custody. Burning zero is a
// legal no-op: truncation of small pools can produce a zero share.
func (s *Service) Burn(ctx context.Context, amount uint64, roundID string) error {
	if amount == 0 {
		return nil
	}

	if _, err := s.store.AppendLedgerEntry(ctx, domain.Entry{
		ID:        uuid.NewString(),
		Type:      domain.EntryBurn,
		Amount:    amount,
		RoundID:   roundID,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("append burn entry: %w", err)
	}

	s.log.WithField("amount", amount).
		WithField("round_id", roundID).
		Info("value burned")
	return nil
}

// Entries lists ledger movements, optionally filtered by round.
func (s *Service) Entries(ctx context.Context, roundID string) ([]domain.Entry, error) {
	return s.store.ListLedgerEntries(ctx, roundID)
}

// TotalBurned reports the cumulative amount destroyed across all rounds.
func (s *Service) TotalBurned(ctx context.Context) (uint64, error) {
	return s.store.TotalBurned(ctx)
}
