package rounds

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/rumble/internal/app/events"
	"github.com/R3E-Network/rumble/internal/app/storage/memory"
)

type payment struct {
	account string
	amount  uint64
	roundID string
}

// fakeLedger implements ValueTransfer, ValueBurn and AccountResolver for
// engine tests. Accounts listed in missing fail resolution.
type fakeLedger struct {
	mu       sync.Mutex
	payments []payment
	burns    []uint64
	missing  map[string]bool
	payErr   error
	burnErr  error
}

func (f *fakeLedger) Pay(_ context.Context, account string, amount uint64, roundID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payErr != nil {
		return f.payErr
	}
	f.payments = append(f.payments, payment{account: account, amount: amount, roundID: roundID})
	return nil
}

func (f *fakeLedger) Burn(_ context.Context, amount uint64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.burnErr != nil {
		return f.burnErr
	}
	f.burns = append(f.burns, amount)
	return nil
}

func (f *fakeLedger) Resolve(_ context.Context, account string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[account] {
		return errors.New("no such account")
	}
	return nil
}

// recordingSink captures emitted events in order.
type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) Emit(_ context.Context, evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingSink) byType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, evt := range r.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

func newTestService(t *testing.T) (*Service, *fakeLedger, *recordingSink) {
	t.Helper()
	ledger := &fakeLedger{missing: make(map[string]bool)}
	sink := &recordingSink{}
	svc := New(memory.New(), ledger, ledger, ledger, nil)
	svc.AttachSink(sink)
	return svc, ledger, sink
}

func seedRound(t *testing.T, svc *Service, id string, deposits map[string]uint64) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.Initialize(ctx, id)
	require.NoError(t, err)
	for depositor, amount := range deposits {
		_, err := svc.Deposit(ctx, id, depositor, amount)
		require.NoError(t, err)
	}
}

func TestInitialize(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	r, err := svc.Initialize(ctx, "round-1")
	require.NoError(t, err)
	assert.Equal(t, "round-1", r.ID)
	assert.False(t, r.Active)
	assert.Zero(t, r.TotalDeposits)
	assert.Zero(t, r.PrizePool)
	assert.Empty(t, r.Participants)
	assert.Empty(t, r.Winners)

	_, err = svc.Initialize(ctx, "round-1")
	assert.ErrorIs(t, err, ErrRoundExists)

	generated, err := svc.Initialize(ctx, "  ")
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)
}

func TestDepositAggregateInvariant(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Initialize(ctx, "round-1")
	require.NoError(t, err)

	deposits := []struct {
		depositor string
		amount    uint64
	}{
		{"alice", 100},
		{"bob", 250},
		{"alice", 50},
		{"carol", 1},
	}
	var total uint64
	for _, d := range deposits {
		r, err := svc.Deposit(ctx, "round-1", d.depositor, d.amount)
		require.NoError(t, err)
		total += d.amount
		assert.Equal(t, total, r.TotalDeposits)
		assert.Equal(t, r.TotalDeposits, r.PrizePool)
	}

	r, err := svc.Get(ctx, "round-1")
	require.NoError(t, err)
	require.Len(t, r.Participants, 3)

	var sum uint64
	for _, p := range r.Participants {
		sum += p.Deposit
	}
	assert.Equal(t, r.TotalDeposits, sum)

	alice, ok := r.Participant("alice")
	require.True(t, ok)
	assert.Equal(t, uint64(150), alice.Deposit)
	assert.Zero(t, alice.Score)
}

func TestDepositValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Initialize(ctx, "round-1")
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, "round-1", "alice", 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Deposit(ctx, "round-1", "   ", 10)
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = svc.Deposit(ctx, "missing", "alice", 10)
	assert.ErrorIs(t, err, ErrRoundNotFound)
}

func TestDepositOverflow(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Initialize(ctx, "round-1")
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, "round-1", "alice", math.MaxUint64)
	require.NoError(t, err)

	// Repeat depositor trips the per-participant guard.
	_, err = svc.Deposit(ctx, "round-1", "alice", 1)
	assert.ErrorIs(t, err, ErrOverflow)

	// A fresh depositor trips the aggregate guard.
	_, err = svc.Deposit(ctx, "round-1", "bob", 1)
	assert.ErrorIs(t, err, ErrOverflow)

	r, err := svc.Get(ctx, "round-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), r.TotalDeposits)
	assert.Len(t, r.Participants, 1)
}

func TestRecordScoresIdempotent(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	seedRound(t, svc, "round-1", map[string]uint64{"alice": 10, "bob": 20})

	scores := []ScoreEntry{{Identity: "alice", Score: 7}, {Identity: "bob", Score: 3}}
	first, err := svc.RecordScores(ctx, "round-1", scores)
	require.NoError(t, err)

	second, err := svc.RecordScores(ctx, "round-1", scores)
	require.NoError(t, err)

	for _, identity := range []string{"alice", "bob"} {
		a, ok := first.Participant(identity)
		require.True(t, ok)
		b, ok := second.Participant(identity)
		require.True(t, ok)
		assert.Equal(t, a.Score, b.Score)
		assert.Equal(t, a.Deposit, b.Deposit)
	}

	// One notification per call, not per participant.
	assert.Len(t, sink.byType(events.TypeScoresRecorded), 2)
}

func TestRecordScoresIgnoresUnknownIdentities(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	seedRound(t, svc, "round-1", map[string]uint64{"alice": 10})

	r, err := svc.RecordScores(ctx, "round-1", []ScoreEntry{
		{Identity: "alice", Score: 5},
		{Identity: "ghost", Score: 99},
	})
	require.NoError(t, err)
	require.Len(t, r.Participants, 1)

	alice, ok := r.Participant("alice")
	require.True(t, ok)
	assert.Equal(t, uint32(5), alice.Score)

	_, ok = r.Participant("ghost")
	assert.False(t, ok)
}

func TestSelectWinnersCount(t *testing.T) {
	cases := []struct {
		participants int
		winners      int
	}{
		{1, 1},
		{5, 1},
		{10, 1},
		{11, 2},
		{20, 2},
		{21, 3},
		{95, 10},
		{100, 10},
		{101, 11},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(fmt.Sprintf("n=%d", tc.participants), func(t *testing.T) {
			svc, _, _ := newTestService(t)
			ctx := context.Background()

			id := fmt.Sprintf("round-%d", tc.participants)
			_, err := svc.Initialize(ctx, id)
			require.NoError(t, err)
			for i := 0; i < tc.participants; i++ {
				_, err := svc.Deposit(ctx, id, fmt.Sprintf("player-%03d", i), 10)
				require.NoError(t, err)
			}

			settlement, err := svc.SelectWinners(ctx, id)
			require.NoError(t, err)
			assert.Len(t, settlement.Winners, tc.winners)
		})
	}
}

func TestSelectWinnersStableTieBreak(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// Eleven participants so two winners are selected. A and B tie on the
	// top score; insertion order must decide, never comparator whim.
	_, err := svc.Initialize(ctx, "round-1")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, "round-1", "A", 10)
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, "round-1", "B", 10)
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, "round-1", "C", 10)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		_, err = svc.Deposit(ctx, "round-1", fmt.Sprintf("filler-%d", i), 10)
		require.NoError(t, err)
	}

	scores := []ScoreEntry{{Identity: "A", Score: 5}, {Identity: "B", Score: 5}, {Identity: "C", Score: 3}}
	_, err = svc.RecordScores(ctx, "round-1", scores)
	require.NoError(t, err)

	settlement, err := svc.SelectWinners(ctx, "round-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, settlement.Winners)
}

func TestSelectWinnersPayoutArithmetic(t *testing.T) {
	svc, ledger, sink := newTestService(t)
	ctx := context.Background()

	// 25 participants so three winners split the pool. Deposits total 1000.
	_, err := svc.Initialize(ctx, "round-1")
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		_, err := svc.Deposit(ctx, "round-1", fmt.Sprintf("player-%02d", i), 40)
		require.NoError(t, err)
	}
	_, err = svc.RecordScores(ctx, "round-1", []ScoreEntry{
		{Identity: "player-03", Score: 30},
		{Identity: "player-07", Score: 20},
		{Identity: "player-11", Score: 10},
	})
	require.NoError(t, err)

	settlement, err := svc.SelectWinners(ctx, "round-1")
	require.NoError(t, err)

	assert.Equal(t, uint64(900), settlement.WinnerShare)
	assert.Equal(t, uint64(100), settlement.BurnShare)
	assert.Equal(t, uint64(300), settlement.PerWinner)
	assert.Zero(t, settlement.Residual)
	assert.Equal(t, []string{"player-03", "player-07", "player-11"}, settlement.Winners)

	require.Len(t, ledger.payments, 3)
	var paid uint64
	for _, p := range ledger.payments {
		assert.Equal(t, uint64(300), p.amount)
		assert.Equal(t, "round-1", p.roundID)
		paid += p.amount
	}
	assert.Equal(t, uint64(900), paid)
	assert.Equal(t, []uint64{100}, ledger.burns)

	r, err := svc.Get(ctx, "round-1")
	require.NoError(t, err)
	assert.True(t, r.Active)
	assert.Zero(t, r.TotalDeposits)
	assert.Zero(t, r.PrizePool)
	require.Len(t, r.Winners, 3)
	assert.Equal(t, "player-03", r.Winners[0].Identity)

	selected := sink.byType(events.TypeWinnersSelected)
	require.Len(t, selected, 1)
	payload, ok := selected[0].Payload.(events.WinnersSelected)
	require.True(t, ok)
	assert.Equal(t, uint64(300), payload.PerWinner)
	assert.Equal(t, uint64(100), payload.BurnShare)
}

func TestSelectWinnersTruncationResidual(t *testing.T) {
	svc, ledger, _ := newTestService(t)
	ctx := context.Background()

	seedRound(t, svc, "round-1", map[string]uint64{"alice": 101})

	settlement, err := svc.SelectWinners(ctx, "round-1")
	require.NoError(t, err)

	// 101 splits into 90 paid and 10 burned; one unit is unaccounted and
	// that is accepted, not an error.
	assert.Equal(t, uint64(90), settlement.WinnerShare)
	assert.Equal(t, uint64(10), settlement.BurnShare)
	assert.Equal(t, uint64(90), settlement.PerWinner)
	assert.Equal(t, uint64(1), settlement.Residual)
	require.Len(t, ledger.payments, 1)
	assert.Equal(t, uint64(90), ledger.payments[0].amount)
	assert.Equal(t, []uint64{10}, ledger.burns)
}

func TestSelectWinnersPreconditions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Initialize(ctx, "round-1")
	require.NoError(t, err)

	// No deposits yet.
	_, err = svc.SelectWinners(ctx, "round-1")
	assert.ErrorIs(t, err, ErrNoDeposits)

	_, err = svc.Deposit(ctx, "round-1", "alice", 100)
	require.NoError(t, err)
	_, err = svc.SelectWinners(ctx, "round-1")
	require.NoError(t, err)

	// The round is active and drained, so a bare retry reports the missing
	// deposits first. Deposits are still accepted while active; once one
	// lands, the active guard is reached.
	_, err = svc.SelectWinners(ctx, "round-1")
	assert.ErrorIs(t, err, ErrNoDeposits)

	_, err = svc.Deposit(ctx, "round-1", "bob", 50)
	require.NoError(t, err)

	before, err := svc.Get(ctx, "round-1")
	require.NoError(t, err)

	_, err = svc.SelectWinners(ctx, "round-1")
	assert.ErrorIs(t, err, ErrRoundAlreadyActive)

	after, err := svc.Get(ctx, "round-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSelectWinnersMissingAccountAbortsBeforePayout(t *testing.T) {
	svc, ledger, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Initialize(ctx, "round-1")
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		_, err := svc.Deposit(ctx, "round-1", fmt.Sprintf("player-%02d", i), 40)
		require.NoError(t, err)
	}
	_, err = svc.RecordScores(ctx, "round-1", []ScoreEntry{
		{Identity: "player-00", Score: 30},
		{Identity: "player-01", Score: 20},
		{Identity: "player-02", Score: 10},
	})
	require.NoError(t, err)

	// The second winner cannot be resolved. Nothing may be paid or burned,
	// including to the first winner whose account is fine.
	ledger.missing["player-01"] = true

	before, err := svc.Get(ctx, "round-1")
	require.NoError(t, err)

	_, err = svc.SelectWinners(ctx, "round-1")
	assert.ErrorIs(t, err, ErrWinnerAccountNotFound)
	assert.Empty(t, ledger.payments)
	assert.Empty(t, ledger.burns)

	after, err := svc.Get(ctx, "round-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// The account turns up; the retry settles cleanly.
	delete(ledger.missing, "player-01")
	settlement, err := svc.SelectWinners(ctx, "round-1")
	require.NoError(t, err)
	assert.Len(t, settlement.Winners, 3)
	assert.Len(t, ledger.payments, 3)
}

func TestSelectWinnersBurnFailure(t *testing.T) {
	svc, ledger, _ := newTestService(t)
	ctx := context.Background()

	seedRound(t, svc, "round-1", map[string]uint64{"alice": 100})

	ledger.burnErr = errors.New("custody rejected")

	_, err := svc.SelectWinners(ctx, "round-1")
	assert.ErrorIs(t, err, ErrBurnFailed)

	r, err := svc.Get(ctx, "round-1")
	require.NoError(t, err)
	assert.False(t, r.Active)
	assert.Equal(t, uint64(100), r.TotalDeposits)
	assert.Empty(t, r.Winners)
}

func TestResetCompleteness(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	seedRound(t, svc, "round-1", map[string]uint64{"alice": 100, "bob": 200})
	_, err := svc.SelectWinners(ctx, "round-1")
	require.NoError(t, err)

	r, err := svc.Reset(ctx, "round-1")
	require.NoError(t, err)
	assert.Equal(t, "round-1", r.ID)
	assert.False(t, r.Active)
	assert.Empty(t, r.Participants)
	assert.Empty(t, r.Winners)
	assert.Zero(t, r.TotalDeposits)
	assert.Zero(t, r.PrizePool)

	assert.Len(t, sink.byType(events.TypeGameReset), 1)

	// The cycled round accepts a fresh lifecycle.
	_, err = svc.Deposit(ctx, "round-1", "carol", 10)
	require.NoError(t, err)
	settlement, err := svc.SelectWinners(ctx, "round-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, settlement.Winners)
}

func TestResetRequiresActive(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	seedRound(t, svc, "round-1", map[string]uint64{"alice": 100})

	_, err := svc.Reset(ctx, "round-1")
	assert.ErrorIs(t, err, ErrRoundNotActive)

	r, err := svc.Get(ctx, "round-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), r.TotalDeposits)
	require.Len(t, r.Participants, 1)
}

func TestSettlementHistory(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	seedRound(t, svc, "round-1", map[string]uint64{"alice": 1000})
	first, err := svc.SelectWinners(ctx, "round-1")
	require.NoError(t, err)
	_, err = svc.Reset(ctx, "round-1")
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, "round-1", "bob", 500)
	require.NoError(t, err)
	second, err := svc.SelectWinners(ctx, "round-1")
	require.NoError(t, err)

	settlements, err := svc.Settlements(ctx, "round-1")
	require.NoError(t, err)
	require.Len(t, settlements, 2)
	assert.Equal(t, first.ID, settlements[0].ID)
	assert.Equal(t, second.ID, settlements[1].ID)
	assert.Equal(t, uint64(900), settlements[0].WinnerShare)
	assert.Equal(t, uint64(450), settlements[1].WinnerShare)
}

func TestDepositEventEmitted(t *testing.T) {
	svc, _, sink := newTestService(t)

	seedRound(t, svc, "round-1", map[string]uint64{"alice": 25})

	deposits := sink.byType(events.TypeDepositRecorded)
	require.Len(t, deposits, 1)
	assert.Equal(t, "round-1", deposits[0].RoundID)
	payload, ok := deposits[0].Payload.(events.DepositRecorded)
	require.True(t, ok)
	assert.Equal(t, "alice", payload.Depositor)
	assert.Equal(t, uint64(25), payload.Amount)
}

func TestConcurrentDeposits(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Initialize(ctx, "round-1")
	require.NoError(t, err)

	const workers = 16
	const perWorker = 10

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			depositor := fmt.Sprintf("player-%d", w)
			for i := 0; i < perWorker; i++ {
				if _, err := svc.Deposit(ctx, "round-1", depositor, 5); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	r, err := svc.Get(ctx, "round-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(workers*perWorker*5), r.TotalDeposits)
	assert.Equal(t, r.TotalDeposits, r.PrizePool)
	assert.Len(t, r.Participants, workers)
}
