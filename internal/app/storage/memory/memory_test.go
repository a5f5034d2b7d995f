package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/R3E-Network/rumble/internal/app/domain/ledger"
	"github.com/R3E-Network/rumble/internal/app/domain/round"
	"github.com/R3E-Network/rumble/internal/app/events"
	"github.com/R3E-Network/rumble/internal/app/storage"
)

func TestRoundLifecycle(t *testing.T) {
	ctx := context.Background()
	store := New()

	created, err := store.CreateRound(ctx, round.Round{ID: "weekly-1"})
	if err != nil {
		t.Fatalf("create round: %v", err)
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Error("timestamps not set on create")
	}

	if _, err := store.CreateRound(ctx, round.Round{ID: "weekly-1"}); !errors.Is(err, storage.ErrRoundExists) {
		t.Errorf("duplicate create error = %v, want ErrRoundExists", err)
	}

	created.Participants = append(created.Participants, round.Participant{Identity: "alice", Deposit: 100})
	created.TotalDeposits = 100
	created.PrizePool = 100
	if _, err := store.SaveRound(ctx, created); err != nil {
		t.Fatalf("save round: %v", err)
	}

	got, err := store.GetRound(ctx, "weekly-1")
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if got.TotalDeposits != 100 || len(got.Participants) != 1 {
		t.Fatalf("round not persisted: %+v", got)
	}

	// Mutating the returned copy must not touch stored state.
	got.Participants[0].Deposit = 9999
	again, err := store.GetRound(ctx, "weekly-1")
	if err != nil {
		t.Fatalf("get round again: %v", err)
	}
	if again.Participants[0].Deposit != 100 {
		t.Error("stored participant mutated through returned copy")
	}

	if _, err := store.GetRound(ctx, "missing"); !errors.Is(err, storage.ErrRoundNotFound) {
		t.Errorf("missing round error = %v, want ErrRoundNotFound", err)
	}
	if _, err := store.SaveRound(ctx, round.Round{ID: "missing"}); !errors.Is(err, storage.ErrRoundNotFound) {
		t.Errorf("save missing round error = %v, want ErrRoundNotFound", err)
	}
}

func TestSettlementAnchoring(t *testing.T) {
	ctx := context.Background()
	store := New()

	first, err := store.SaveSettlement(ctx, round.Settlement{RoundID: "weekly-1", Winners: []string{"alice"}, PerWinner: 300})
	if err != nil {
		t.Fatalf("save settlement: %v", err)
	}
	second, err := store.SaveSettlement(ctx, round.Settlement{RoundID: "weekly-2", Winners: []string{"bob"}, PerWinner: 90})
	if err != nil {
		t.Fatalf("save settlement: %v", err)
	}

	pending, err := store.ListUnanchoredSettlements(ctx)
	if err != nil {
		t.Fatalf("list unanchored: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("unanchored = %d, want 2", len(pending))
	}

	anchored, err := store.MarkSettlementAnchored(ctx, first.ID, "0xabc")
	if err != nil {
		t.Fatalf("mark anchored: %v", err)
	}
	if anchored.AnchorTxID != "0xabc" || anchored.AnchoredAt.IsZero() {
		t.Errorf("anchor fields not set: %+v", anchored)
	}

	pending, err = store.ListUnanchoredSettlements(ctx)
	if err != nil {
		t.Fatalf("list unanchored: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Fatalf("unanchored after anchor = %+v", pending)
	}

	byRound, err := store.ListSettlements(ctx, "weekly-1")
	if err != nil {
		t.Fatalf("list settlements: %v", err)
	}
	if len(byRound) != 1 || byRound[0].ID != first.ID {
		t.Fatalf("settlements for weekly-1 = %+v", byRound)
	}

	if _, err := store.MarkSettlementAnchored(ctx, "missing", "0xdef"); !errors.Is(err, storage.ErrSettlementNotFound) {
		t.Errorf("missing settlement error = %v, want ErrSettlementNotFound", err)
	}
}

func TestLedgerAccountsAndEntries(t *testing.T) {
	ctx := context.Background()
	store := New()

	if _, err := store.CreateLedgerAccount(ctx, ledger.Account{Address: "alice"}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := store.CreateLedgerAccount(ctx, ledger.Account{Address: "alice"}); !errors.Is(err, storage.ErrAccountExists) {
		t.Errorf("duplicate account error = %v, want ErrAccountExists", err)
	}
	if _, err := store.GetLedgerAccount(ctx, "nobody"); !errors.Is(err, storage.ErrAccountNotFound) {
		t.Errorf("missing account error = %v, want ErrAccountNotFound", err)
	}

	acct, err := store.GetLedgerAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	acct.Balance = 300
	if _, err := store.SaveLedgerAccount(ctx, acct); err != nil {
		t.Fatalf("save account: %v", err)
	}

	for _, entry := range []ledger.Entry{
		{Type: ledger.EntryCredit, Address: "alice", Amount: 300, RoundID: "weekly-1"},
		{Type: ledger.EntryBurn, Amount: 100, RoundID: "weekly-1"},
		{Type: ledger.EntryBurn, Amount: 10, RoundID: "weekly-2"},
	} {
		if _, err := store.AppendLedgerEntry(ctx, entry); err != nil {
			t.Fatalf("append entry: %v", err)
		}
	}

	entries, err := store.ListLedgerEntries(ctx, "weekly-1")
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries for weekly-1 = %d, want 2", len(entries))
	}

	burned, err := store.TotalBurned(ctx)
	if err != nil {
		t.Fatalf("total burned: %v", err)
	}
	if burned != 110 {
		t.Errorf("total burned = %d, want 110", burned)
	}
}

func TestEventHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := New()

	for i, kind := range []events.Type{events.TypeDepositRecorded, events.TypeScoresRecorded, events.TypeWinnersSelected} {
		evt := events.New(kind, "weekly-1", nil)
		if _, err := store.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
	}
	if _, err := store.AppendEvent(ctx, events.New(events.TypeGameReset, "other", nil)); err != nil {
		t.Fatalf("append event: %v", err)
	}

	history, err := store.ListEvents(ctx, "weekly-1", 2)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Type != events.TypeWinnersSelected || history[1].Type != events.TypeScoresRecorded {
		t.Errorf("history not newest-first: %v, %v", history[0].Type, history[1].Type)
	}

	all, err := store.ListEvents(ctx, "", 0)
	if err != nil {
		t.Fatalf("list all events: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("all events = %d, want 4", len(all))
	}
}
