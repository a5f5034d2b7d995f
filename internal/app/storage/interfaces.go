package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/rumble/internal/app/domain/ledger"
	"github.com/R3E-Network/rumble/internal/app/domain/round"
	"github.com/R3E-Network/rumble/internal/app/events"
)

// Sentinel errors shared by every store implementation so callers can
// classify failures with errors.Is regardless of the backing storage.
var (
	ErrRoundNotFound      = errors.New("round not found")
	ErrRoundExists        = errors.New("round already exists")
	ErrAccountNotFound    = errors.New("ledger account not found")
	ErrAccountExists      = errors.New("ledger account already exists")
	ErrSettlementNotFound = errors.New("settlement not found")
)

// RoundStore persists round state and settlement outcomes. SaveRound replaces
// the stored record wholesale; the round engine serialises mutations per
// round, so implementations only need record-level atomicity.
type RoundStore interface {
	CreateRound(ctx context.Context, r round.Round) (round.Round, error)
	GetRound(ctx context.Context, id string) (round.Round, error)
	SaveRound(ctx context.Context, r round.Round) (round.Round, error)
	ListRounds(ctx context.Context) ([]round.Round, error)

	SaveSettlement(ctx context.Context, s round.Settlement) (round.Settlement, error)
	ListSettlements(ctx context.Context, roundID string) ([]round.Settlement, error)
	ListUnanchoredSettlements(ctx context.Context) ([]round.Settlement, error)
	MarkSettlementAnchored(ctx context.Context, id, txID string) (round.Settlement, error)
}

// LedgerStore persists custody accounts and the append-only movement log.
type LedgerStore interface {
	CreateLedgerAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error)
	GetLedgerAccount(ctx context.Context, address string) (ledger.Account, error)
	SaveLedgerAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error)
	ListLedgerAccounts(ctx context.Context) ([]ledger.Account, error)

	AppendLedgerEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error)
	ListLedgerEntries(ctx context.Context, roundID string) ([]ledger.Entry, error)
	TotalBurned(ctx context.Context) (uint64, error)
}

// EventStore archives emitted events for the history endpoints.
type EventStore interface {
	AppendEvent(ctx context.Context, evt events.Event) (events.Event, error)
	ListEvents(ctx context.Context, roundID string, limit int) ([]events.Event, error)
}
