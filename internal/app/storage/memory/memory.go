// Package memory provides the in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development; the application falls back to it when no
// database is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/rumble/internal/app/domain/ledger"
	"github.com/R3E-Network/rumble/internal/app/domain/round"
	"github.com/R3E-Network/rumble/internal/app/events"
	"github.com/R3E-Network/rumble/internal/app/storage"
)

// Store is an in-memory persistence layer. All reads hand out defensive
// copies so callers can never mutate stored state in place.
type Store struct {
	mu          sync.RWMutex
	nextID      int64
	rounds      map[string]round.Round
	settlements map[string]round.Settlement
	settleOrder []string
	accounts    map[string]ledger.Account
	entries     []ledger.Entry
	events      []events.Event
}

var _ storage.RoundStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.EventStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:      1,
		rounds:      make(map[string]round.Round),
		settlements: make(map[string]round.Settlement),
		accounts:    make(map[string]ledger.Account),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// RoundStore implementation ---------------------------------------------------

func (s *Store) CreateRound(_ context.Context, r round.Round) (round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = s.nextIDLocked()
	} else if _, exists := s.rounds[r.ID]; exists {
		return round.Round{}, fmt.Errorf("round %s: %w", r.ID, storage.ErrRoundExists)
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	r = cloneRound(r)

	s.rounds[r.ID] = r
	return cloneRound(r), nil
}

func (s *Store) GetRound(_ context.Context, id string) (round.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rounds[id]
	if !ok {
		return round.Round{}, fmt.Errorf("round %s: %w", id, storage.ErrRoundNotFound)
	}
	return cloneRound(r), nil
}

func (s *Store) SaveRound(_ context.Context, r round.Round) (round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.rounds[r.ID]
	if !ok {
		return round.Round{}, fmt.Errorf("round %s: %w", r.ID, storage.ErrRoundNotFound)
	}

	r.CreatedAt = original.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	r = cloneRound(r)

	s.rounds[r.ID] = r
	return cloneRound(r), nil
}

func (s *Store) ListRounds(_ context.Context) ([]round.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]round.Round, 0, len(s.rounds))
	for _, r := range s.rounds {
		out = append(out, cloneRound(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveSettlement(_ context.Context, st round.Settlement) (round.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.ID == "" {
		st.ID = s.nextIDLocked()
	}
	if _, exists := s.settlements[st.ID]; !exists {
		s.settleOrder = append(s.settleOrder, st.ID)
	}
	st = cloneSettlement(st)

	s.settlements[st.ID] = st
	return cloneSettlement(st), nil
}

func (s *Store) ListSettlements(_ context.Context, roundID string) ([]round.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []round.Settlement
	for _, id := range s.settleOrder {
		st := s.settlements[id]
		if roundID != "" && st.RoundID != roundID {
			continue
		}
		out = append(out, cloneSettlement(st))
	}
	return out, nil
}

func (s *Store) ListUnanchoredSettlements(_ context.Context) ([]round.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []round.Settlement
	for _, id := range s.settleOrder {
		st := s.settlements[id]
		if st.AnchorTxID != "" {
			continue
		}
		out = append(out, cloneSettlement(st))
	}
	return out, nil
}

func (s *Store) MarkSettlementAnchored(_ context.Context, id, txID string) (round.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.settlements[id]
	if !ok {
		return round.Settlement{}, fmt.Errorf("settlement %s: %w", id, storage.ErrSettlementNotFound)
	}

	st.AnchorTxID = txID
	st.AnchoredAt = time.Now().UTC()
	s.settlements[id] = st
	return cloneSettlement(st), nil
}

// LedgerStore implementation --------------------------------------------------

func (s *Store) CreateLedgerAccount(_ context.Context, acct ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[acct.Address]; exists {
		return ledger.Account{}, fmt.Errorf("account %s: %w", acct.Address, storage.ErrAccountExists)
	}

	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	s.accounts[acct.Address] = acct
	return acct, nil
}

func (s *Store) GetLedgerAccount(_ context.Context, address string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[address]
	if !ok {
		return ledger.Account{}, fmt.Errorf("account %s: %w", address, storage.ErrAccountNotFound)
	}
	return acct, nil
}

func (s *Store) SaveLedgerAccount(_ context.Context, acct ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.accounts[acct.Address]
	if !ok {
		return ledger.Account{}, fmt.Errorf("account %s: %w", acct.Address, storage.ErrAccountNotFound)
	}

	acct.CreatedAt = original.CreatedAt
	acct.UpdatedAt = time.Now().UTC()

	s.accounts[acct.Address] = acct
	return acct, nil
}

func (s *Store) ListLedgerAccounts(_ context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (s *Store) AppendLedgerEntry(_ context.Context, entry ledger.Entry) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = s.nextIDLocked()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *Store) ListLedgerEntries(_ context.Context, roundID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Entry
	for _, entry := range s.entries {
		if roundID != "" && entry.RoundID != roundID {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) TotalBurned(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total uint64
	for _, entry := range s.entries {
		if entry.Type == ledger.EntryBurn {
			total += entry.Amount
		}
	}
	return total, nil
}

// EventStore implementation ---------------------------------------------------

func (s *Store) AppendEvent(_ context.Context, evt events.Event) (events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.ID == "" {
		evt.ID = s.nextIDLocked()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	s.events = append(s.events, evt)
	return evt, nil
}

func (s *Store) ListEvents(_ context.Context, roundID string, limit int) ([]events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []events.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		evt := s.events[i]
		if roundID != "" && evt.RoundID != roundID {
			continue
		}
		out = append(out, evt)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Clone helpers ---------------------------------------------------------------

func cloneRound(r round.Round) round.Round {
	r.Participants = append([]round.Participant(nil), r.Participants...)
	r.Winners = append([]round.Participant(nil), r.Winners...)
	return r
}

func cloneSettlement(st round.Settlement) round.Settlement {
	st.Winners = append([]string(nil), st.Winners...)
	return st
}
