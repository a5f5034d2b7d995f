// Package rounds implements the pooled-stake round engine: deposit
// aggregation, score recording, winner selection with proportional payout,
// and reset. It owns the round state machine and its arithmetic; value
// movement and notification delivery are injected capabilities.
package rounds

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/rumble/internal/app/domain/round"
	"github.com/R3E-Network/rumble/internal/app/events"
	"github.com/R3E-Network/rumble/internal/app/storage"
	"github.com/R3E-Network/rumble/pkg/logger"
)

// Share of the captured pool distributed to winners; the rest is burned.
// Both shares truncate independently, so up to a few units per settlement
// are neither paid nor burned. That residual is recorded on the settlement.
const (
	winnerSharePercent = 90
	burnSharePercent   = 10
)

// Errors
var (
	ErrInvalidIdentity       = errors.New("invalid participant identity")
	ErrInvalidAmount         = errors.New("deposit amount must be positive")
	ErrOverflow              = errors.New("deposit aggregation overflow")
	ErrNoDeposits            = errors.New("round has no deposits")
	ErrRoundAlreadyActive    = errors.New("round already active")
	ErrRoundNotActive        = errors.New("round not active")
	ErrDivisionByZero        = errors.New("payout division by zero")
	ErrWinnerAccountNotFound = errors.New("winner account not found")
	ErrBurnFailed            = errors.New("burn failed")
	ErrRoundNotFound         = errors.New("round not found")
	ErrRoundExists           = errors.New("round already exists")
)

// ValueTransfer moves value to a winner's receiving account.
type ValueTransfer interface {
	Pay(ctx context.Context, account string, amount uint64, roundID string) error
}

// ValueBurn irreversibly destroys value from pool custody.
type ValueBurn interface {
	Burn(ctx context.Context, amount uint64, roundID string) error
}

// AccountResolver reports whether a receiving account exists. Winner
// selection resolves every winner before the first transfer so a missing
// account aborts the settlement with the round untouched.
type AccountResolver interface {
	Resolve(ctx context.Context, account string) error
}

// ScoreEntry is one (identity, score) pair submitted to RecordScores.
type ScoreEntry struct {
	Identity string
	Score    uint32
}

// Service is the round engine. All state transitions for one round are
// serialised behind a per-round lock; distinct rounds never contend.
type Service struct {
	store    storage.RoundStore
	transfer ValueTransfer
	burn     ValueBurn
	resolver AccountResolver
	sink     events.Sink
	log      *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs the round engine. The transfer, burn and resolver
// capabilities are required for winner selection; the other operations work
// without them.
func New(store storage.RoundStore, transfer ValueTransfer, burn ValueBurn, resolver AccountResolver, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("rounds")
	}
	return &Service{
		store:    store,
		transfer: transfer,
		burn:     burn,
		resolver: resolver,
		sink:     events.NopSink{},
		log:      log,
		locks:    make(map[string]*sync.Mutex),
	}
}

// AttachSink sets the notification sink. Call before serving traffic.
func (s *Service) AttachSink(sink events.Sink) {
	if sink == nil {
		sink = events.NopSink{}
	}
	s.sink = sink
}

// lockRound returns the mutex serialising operations on one round. Locks are
// created lazily and kept for the life of the process; rounds are cycled, not
// destroyed, so the set stays small.
func (s *Service) lockRound(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Initialize creates a zeroed, inactive round. An empty id gets a generated
// one.
func (s *Service) Initialize(ctx context.Context, id string) (round.Round, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}

	created, err := s.store.CreateRound(ctx, round.Round{ID: id})
	if err != nil {
		if errors.Is(err, storage.ErrRoundExists) {
			return round.Round{}, ErrRoundExists
		}
		return round.Round{}, fmt.Errorf("create round: %w", err)
	}

	s.log.WithField("round_id", created.ID).Info("round initialised")
	return created, nil
}

// Get returns the current state of a round.
func (s *Service) Get(ctx context.Context, id string) (round.Round, error) {
	r, err := s.store.GetRound(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, storage.ErrRoundNotFound) {
			return round.Round{}, ErrRoundNotFound
		}
		return round.Round{}, fmt.Errorf("get round: %w", err)
	}
	return r, nil
}

// List returns every round.
func (s *Service) List(ctx context.Context) ([]round.Round, error) {
	return s.store.ListRounds(ctx)
}

// Settlements returns the settlement history of a round.
func (s *Service) Settlements(ctx context.Context, roundID string) ([]round.Settlement, error) {
	return s.store.ListSettlements(ctx, strings.TrimSpace(roundID))
}

// Deposit records a stake from a depositor. Repeat deposits from the same
// identity accumulate; the prize pool mirrors total deposits.
func (s *Service) Deposit(ctx context.Context, roundID, depositor string, amount uint64) (round.Round, error) {
	depositor = strings.TrimSpace(depositor)
	if depositor == "" {
		return round.Round{}, ErrInvalidIdentity
	}
	if amount == 0 {
		return round.Round{}, ErrInvalidAmount
	}

	lock := s.lockRound(strings.TrimSpace(roundID))
	lock.Lock()
	defer lock.Unlock()

	r, err := s.Get(ctx, roundID)
	if err != nil {
		return round.Round{}, err
	}

	found := false
	for i := range r.Participants {
		if r.Participants[i].Identity == depositor {
			if r.Participants[i].Deposit > math.MaxUint64-amount {
				return round.Round{}, ErrOverflow
			}
			r.Participants[i].Deposit += amount
			found = true
			break
		}
	}
	if !found {
		r.Participants = append(r.Participants, round.Participant{
			Identity:   depositor,
			Deposit:    amount,
			LastActive: time.Now().UTC(),
		})
	}

	if r.TotalDeposits > math.MaxUint64-amount {
		return round.Round{}, ErrOverflow
	}
	r.TotalDeposits += amount
	r.PrizePool = r.TotalDeposits

	saved, err := s.store.SaveRound(ctx, r)
	if err != nil {
		return round.Round{}, fmt.Errorf("save round: %w", err)
	}

	s.sink.Emit(ctx, events.New(events.TypeDepositRecorded, saved.ID, events.DepositRecorded{
		Depositor: depositor,
		Amount:    amount,
	}))

	s.log.WithField("round_id", saved.ID).
		WithField("depositor", depositor).
		WithField("amount", amount).
		WithField("total_deposits", saved.TotalDeposits).
		Info("deposit recorded")
	return saved, nil
}

// RecordScores overwrites the score of every matching participant and
// refreshes its last-active timestamp. Identities with no participant entry
// are silently ignored: they never deposited, so they cannot win. The call is
// idempotent apart from the timestamp refresh.
func (s *Service) RecordScores(ctx context.Context, roundID string, scores []ScoreEntry) (round.Round, error) {
	lock := s.lockRound(strings.TrimSpace(roundID))
	lock.Lock()
	defer lock.Unlock()

	r, err := s.Get(ctx, roundID)
	if err != nil {
		return round.Round{}, err
	}

	now := time.Now().UTC()
	updated := 0
	for _, entry := range scores {
		for i := range r.Participants {
			if r.Participants[i].Identity == entry.Identity {
				r.Participants[i].Score = entry.Score
				r.Participants[i].LastActive = now
				updated++
				break
			}
		}
	}

	saved, err := s.store.SaveRound(ctx, r)
	if err != nil {
		return round.Round{}, fmt.Errorf("save round: %w", err)
	}

	s.sink.Emit(ctx, events.New(events.TypeScoresRecorded, saved.ID, events.ScoresRecorded{
		Updated: updated,
	}))

	s.log.WithField("round_id", saved.ID).
		WithField("submitted", len(scores)).
		WithField("updated", updated).
		Info("scores recorded")
	return saved, nil
}

// SelectWinners settles the round: the top tenth of participants by score
// (stable on insertion order for ties) splits 90% of the pool evenly, 10% is
// burned, and the round transitions to active with deposits drained. Every
// winner's account is resolved before any value moves, so a failure at any
// step leaves the round exactly as it was.
func (s *Service) SelectWinners(ctx context.Context, roundID string) (round.Settlement, error) {
	if s.transfer == nil || s.burn == nil || s.resolver == nil {
		return round.Settlement{}, fmt.Errorf("settlement capabilities not configured")
	}

	lock := s.lockRound(strings.TrimSpace(roundID))
	lock.Lock()
	defer lock.Unlock()

	r, err := s.Get(ctx, roundID)
	if err != nil {
		return round.Settlement{}, err
	}

	if r.TotalDeposits == 0 {
		return round.Settlement{}, ErrNoDeposits
	}
	if r.Active {
		return round.Settlement{}, ErrRoundAlreadyActive
	}

	winnerCount := (len(r.Participants) + 9) / 10
	if winnerCount == 0 && len(r.Participants) > 0 {
		winnerCount = 1
	}

	sorted := append([]round.Participant(nil), r.Participants...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	winners := sorted[:winnerCount]

	prizePool := r.PrizePool
	winnerShare := prizePool * winnerSharePercent / 100
	burnShare := prizePool * burnSharePercent / 100

	if winnerCount == 0 {
		return round.Settlement{}, ErrDivisionByZero
	}
	perWinner := winnerShare / uint64(winnerCount)

	identities := make([]string, len(winners))
	for i, w := range winners {
		identities[i] = w.Identity
	}

	// Resolve every receiving account before the first transfer.
	for _, identity := range identities {
		if err := s.resolver.Resolve(ctx, identity); err != nil {
			return round.Settlement{}, fmt.Errorf("%w: %s", ErrWinnerAccountNotFound, identity)
		}
	}

	for _, identity := range identities {
		if err := s.transfer.Pay(ctx, identity, perWinner, r.ID); err != nil {
			return round.Settlement{}, fmt.Errorf("pay winner %s: %w", identity, err)
		}
	}

	if err := s.burn.Burn(ctx, burnShare, r.ID); err != nil {
		return round.Settlement{}, fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}

	r.Winners = append([]round.Participant(nil), winners...)
	r.TotalDeposits = 0
	r.PrizePool = 0
	r.Active = true

	saved, err := s.store.SaveRound(ctx, r)
	if err != nil {
		return round.Settlement{}, fmt.Errorf("save round: %w", err)
	}

	settlement := round.Settlement{
		ID:          uuid.NewString(),
		RoundID:     saved.ID,
		Winners:     identities,
		WinnerShare: winnerShare,
		BurnShare:   burnShare,
		PerWinner:   perWinner,
		Residual:    prizePool - winnerShare - burnShare,
		SettledAt:   time.Now().UTC(),
	}
	if _, err := s.store.SaveSettlement(ctx, settlement); err != nil {
		// The round transition is already committed; losing the audit row
		// must not fail the settlement.
		s.log.WithError(err).
			WithField("round_id", saved.ID).
			Error("record settlement failed")
	}

	s.sink.Emit(ctx, events.New(events.TypeWinnersSelected, saved.ID, events.WinnersSelected{
		Winners:   identities,
		PerWinner: perWinner,
		BurnShare: burnShare,
	}))

	s.log.WithField("round_id", saved.ID).
		WithField("winners", len(identities)).
		WithField("per_winner", perWinner).
		WithField("burn_share", burnShare).
		Info("winners selected")
	return settlement, nil
}

// Reset clears participants and winners and reopens the round for deposits.
// The round id is preserved; the record is cycled, never destroyed.
func (s *Service) Reset(ctx context.Context, roundID string) (round.Round, error) {
	lock := s.lockRound(strings.TrimSpace(roundID))
	lock.Lock()
	defer lock.Unlock()

	r, err := s.Get(ctx, roundID)
	if err != nil {
		return round.Round{}, err
	}

	if !r.Active {
		return round.Round{}, ErrRoundNotActive
	}

	r.Active = false
	r.Participants = nil
	r.Winners = nil
	r.TotalDeposits = 0
	r.PrizePool = 0

	saved, err := s.store.SaveRound(ctx, r)
	if err != nil {
		return round.Round{}, fmt.Errorf("save round: %w", err)
	}

	s.sink.Emit(ctx, events.New(events.TypeGameReset, saved.ID, events.GameReset{}))

	s.log.WithField("round_id", saved.ID).Info("round reset")
	return saved, nil
}
