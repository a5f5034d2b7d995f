// Package postgres implements the storage interfaces backed by PostgreSQL.
// Participant and winner lists ride along as JSONB documents: a round is
// always read and written wholesale, so there is nothing to join.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/rumble/internal/app/domain/ledger"
	"github.com/R3E-Network/rumble/internal/app/domain/round"
	"github.com/R3E-Network/rumble/internal/app/events"
	"github.com/R3E-Network/rumble/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.RoundStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.EventStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Monetary columns are BIGINT; amounts are capped at the signed 64-bit range
// on this backend.

// --- RoundStore -------------------------------------------------------------

type roundRow struct {
	ID            string    `db:"id"`
	TotalDeposits int64     `db:"total_deposits"`
	PrizePool     int64     `db:"prize_pool"`
	Active        bool      `db:"active"`
	Participants  []byte    `db:"participants"`
	Winners       []byte    `db:"winners"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

type participantDoc struct {
	Identity   string    `json:"identity"`
	Deposit    uint64    `json:"deposit"`
	Score      uint32    `json:"score"`
	LastActive time.Time `json:"last_active"`
}

func encodeParticipants(ps []round.Participant) ([]byte, error) {
	docs := make([]participantDoc, len(ps))
	for i, p := range ps {
		docs[i] = participantDoc{
			Identity:   p.Identity,
			Deposit:    p.Deposit,
			Score:      p.Score,
			LastActive: p.LastActive,
		}
	}
	return json.Marshal(docs)
}

func decodeParticipants(raw []byte) ([]round.Participant, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var docs []participantDoc
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	ps := make([]round.Participant, len(docs))
	for i, d := range docs {
		ps[i] = round.Participant{
			Identity:   d.Identity,
			Deposit:    d.Deposit,
			Score:      d.Score,
			LastActive: d.LastActive,
		}
	}
	return ps, nil
}

func (row roundRow) toDomain() (round.Round, error) {
	participants, err := decodeParticipants(row.Participants)
	if err != nil {
		return round.Round{}, fmt.Errorf("decode participants: %w", err)
	}
	winners, err := decodeParticipants(row.Winners)
	if err != nil {
		return round.Round{}, fmt.Errorf("decode winners: %w", err)
	}
	return round.Round{
		ID:            row.ID,
		TotalDeposits: uint64(row.TotalDeposits),
		PrizePool:     uint64(row.PrizePool),
		Active:        row.Active,
		Participants:  participants,
		Winners:       winners,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}, nil
}

func (s *Store) CreateRound(ctx context.Context, r round.Round) (round.Round, error) {
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	participants, err := encodeParticipants(r.Participants)
	if err != nil {
		return round.Round{}, err
	}
	winners, err := encodeParticipants(r.Winners)
	if err != nil {
		return round.Round{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_rounds (id, total_deposits, prize_pool, active, participants, winners, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, int64(r.TotalDeposits), int64(r.PrizePool), r.Active, participants, winners, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return round.Round{}, fmt.Errorf("round %s: %w", r.ID, storage.ErrRoundExists)
		}
		return round.Round{}, err
	}
	return r, nil
}

func (s *Store) GetRound(ctx context.Context, id string) (round.Round, error) {
	var row roundRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, total_deposits, prize_pool, active, participants, winners, created_at, updated_at
		FROM app_rounds
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return round.Round{}, fmt.Errorf("round %s: %w", id, storage.ErrRoundNotFound)
	}
	if err != nil {
		return round.Round{}, err
	}
	return row.toDomain()
}

func (s *Store) SaveRound(ctx context.Context, r round.Round) (round.Round, error) {
	existing, err := s.GetRound(ctx, r.ID)
	if err != nil {
		return round.Round{}, err
	}

	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = time.Now().UTC()

	participants, err := encodeParticipants(r.Participants)
	if err != nil {
		return round.Round{}, err
	}
	winners, err := encodeParticipants(r.Winners)
	if err != nil {
		return round.Round{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_rounds
		SET total_deposits = $2, prize_pool = $3, active = $4, participants = $5, winners = $6, updated_at = $7
		WHERE id = $1
	`, r.ID, int64(r.TotalDeposits), int64(r.PrizePool), r.Active, participants, winners, r.UpdatedAt)
	if err != nil {
		return round.Round{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return round.Round{}, fmt.Errorf("round %s: %w", r.ID, storage.ErrRoundNotFound)
	}
	return r, nil
}

func (s *Store) ListRounds(ctx context.Context) ([]round.Round, error) {
	var rows []roundRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, total_deposits, prize_pool, active, participants, winners, created_at, updated_at
		FROM app_rounds
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}

	result := make([]round.Round, 0, len(rows))
	for _, row := range rows {
		r, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, nil
}

type settlementRow struct {
	ID          string       `db:"id"`
	RoundID     string       `db:"round_id"`
	Winners     []byte       `db:"winners"`
	WinnerShare int64        `db:"winner_share"`
	BurnShare   int64        `db:"burn_share"`
	PerWinner   int64        `db:"per_winner"`
	Residual    int64        `db:"residual"`
	SettledAt   time.Time    `db:"settled_at"`
	AnchorTxID  string       `db:"anchor_tx_id"`
	AnchoredAt  sql.NullTime `db:"anchored_at"`
}

func (row settlementRow) toDomain() (round.Settlement, error) {
	var winners []string
	if len(row.Winners) > 0 {
		if err := json.Unmarshal(row.Winners, &winners); err != nil {
			return round.Settlement{}, fmt.Errorf("decode winners: %w", err)
		}
	}
	st := round.Settlement{
		ID:          row.ID,
		RoundID:     row.RoundID,
		Winners:     winners,
		WinnerShare: uint64(row.WinnerShare),
		BurnShare:   uint64(row.BurnShare),
		PerWinner:   uint64(row.PerWinner),
		Residual:    uint64(row.Residual),
		SettledAt:   row.SettledAt.UTC(),
		AnchorTxID:  row.AnchorTxID,
	}
	if row.AnchoredAt.Valid {
		st.AnchoredAt = row.AnchoredAt.Time.UTC()
	}
	return st, nil
}

const settlementColumns = `id, round_id, winners, winner_share, burn_share, per_winner, residual, settled_at, anchor_tx_id, anchored_at`

func (s *Store) SaveSettlement(ctx context.Context, st round.Settlement) (round.Settlement, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.SettledAt.IsZero() {
		st.SettledAt = time.Now().UTC()
	}

	winners, err := json.Marshal(st.Winners)
	if err != nil {
		return round.Settlement{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_settlements (`+settlementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, st.ID, st.RoundID, winners, int64(st.WinnerShare), int64(st.BurnShare), int64(st.PerWinner), int64(st.Residual), st.SettledAt, st.AnchorTxID, toNullTime(st.AnchoredAt))
	if err != nil {
		return round.Settlement{}, err
	}
	return st, nil
}

func (s *Store) ListSettlements(ctx context.Context, roundID string) ([]round.Settlement, error) {
	var rows []settlementRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+settlementColumns+`
		FROM app_settlements
		WHERE $1 = '' OR round_id = $1
		ORDER BY settled_at
	`, roundID)
	if err != nil {
		return nil, err
	}
	return settlementsToDomain(rows)
}

func (s *Store) ListUnanchoredSettlements(ctx context.Context) ([]round.Settlement, error) {
	var rows []settlementRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+settlementColumns+`
		FROM app_settlements
		WHERE anchor_tx_id = ''
		ORDER BY settled_at
	`)
	if err != nil {
		return nil, err
	}
	return settlementsToDomain(rows)
}

func (s *Store) MarkSettlementAnchored(ctx context.Context, id, txID string) (round.Settlement, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE app_settlements
		SET anchor_tx_id = $2, anchored_at = $3
		WHERE id = $1
	`, id, txID, time.Now().UTC())
	if err != nil {
		return round.Settlement{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return round.Settlement{}, fmt.Errorf("settlement %s: %w", id, storage.ErrSettlementNotFound)
	}

	var row settlementRow
	err = s.db.GetContext(ctx, &row, `
		SELECT `+settlementColumns+`
		FROM app_settlements
		WHERE id = $1
	`, id)
	if err != nil {
		return round.Settlement{}, err
	}
	return row.toDomain()
}

func settlementsToDomain(rows []settlementRow) ([]round.Settlement, error) {
	result := make([]round.Settlement, 0, len(rows))
	for _, row := range rows {
		st, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, nil
}

// --- LedgerStore ------------------------------------------------------------

type accountRow struct {
	Address   string    `db:"address"`
	Balance   int64     `db:"balance"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (row accountRow) toDomain() ledger.Account {
	return ledger.Account{
		Address:   row.Address,
		Balance:   uint64(row.Balance),
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
}

func (s *Store) CreateLedgerAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error) {
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_ledger_accounts (address, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`, acct.Address, int64(acct.Balance), acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.Account{}, fmt.Errorf("account %s: %w", acct.Address, storage.ErrAccountExists)
		}
		return ledger.Account{}, err
	}
	return acct, nil
}

func (s *Store) GetLedgerAccount(ctx context.Context, address string) (ledger.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		SELECT address, balance, created_at, updated_at
		FROM app_ledger_accounts
		WHERE address = $1
	`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("account %s: %w", address, storage.ErrAccountNotFound)
	}
	if err != nil {
		return ledger.Account{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) SaveLedgerAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error) {
	acct.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_ledger_accounts
		SET balance = $2, updated_at = $3
		WHERE address = $1
	`, acct.Address, int64(acct.Balance), acct.UpdatedAt)
	if err != nil {
		return ledger.Account{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ledger.Account{}, fmt.Errorf("account %s: %w", acct.Address, storage.ErrAccountNotFound)
	}
	return acct, nil
}

func (s *Store) ListLedgerAccounts(ctx context.Context) ([]ledger.Account, error) {
	var rows []accountRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT address, balance, created_at, updated_at
		FROM app_ledger_accounts
		ORDER BY address
	`)
	if err != nil {
		return nil, err
	}

	result := make([]ledger.Account, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

type entryRow struct {
	ID        string    `db:"id"`
	EntryType string    `db:"entry_type"`
	Address   string    `db:"address"`
	Amount    int64     `db:"amount"`
	RoundID   string    `db:"round_id"`
	CreatedAt time.Time `db:"created_at"`
}

func (row entryRow) toDomain() ledger.Entry {
	return ledger.Entry{
		ID:        row.ID,
		Type:      ledger.EntryType(row.EntryType),
		Address:   row.Address,
		Amount:    uint64(row.Amount),
		RoundID:   row.RoundID,
		CreatedAt: row.CreatedAt.UTC(),
	}
}

func (s *Store) AppendLedgerEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_ledger_entries (id, entry_type, address, amount, round_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, string(entry.Type), entry.Address, int64(entry.Amount), entry.RoundID, entry.CreatedAt)
	if err != nil {
		return ledger.Entry{}, err
	}
	return entry, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, roundID string) ([]ledger.Entry, error) {
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, entry_type, address, amount, round_id, created_at
		FROM app_ledger_entries
		WHERE $1 = '' OR round_id = $1
		ORDER BY created_at
	`, roundID)
	if err != nil {
		return nil, err
	}

	result := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) TotalBurned(ctx context.Context) (uint64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(amount), 0)
		FROM app_ledger_entries
		WHERE entry_type = 'burn'
	`)
	if err != nil {
		return 0, err
	}
	return uint64(total), nil
}

// --- EventStore -------------------------------------------------------------

type eventRow struct {
	ID         string    `db:"id"`
	EventType  string    `db:"event_type"`
	RoundID    string    `db:"round_id"`
	OccurredAt time.Time `db:"occurred_at"`
	Payload    []byte    `db:"payload"`
}

func (row eventRow) toDomain() (events.Event, error) {
	evt := events.Event{
		ID:        row.ID,
		Type:      events.Type(row.EventType),
		RoundID:   row.RoundID,
		Timestamp: row.OccurredAt.UTC(),
	}
	if len(row.Payload) > 0 {
		var payload any
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return events.Event{}, fmt.Errorf("decode payload: %w", err)
		}
		evt.Payload = payload
	}
	return evt, nil
}

func (s *Store) AppendEvent(ctx context.Context, evt events.Event) (events.Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return events.Event{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_events (id, event_type, round_id, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, evt.ID, string(evt.Type), evt.RoundID, evt.Timestamp, payload)
	if err != nil {
		return events.Event{}, err
	}
	return evt, nil
}

func (s *Store) ListEvents(ctx context.Context, roundID string, limit int) ([]events.Event, error) {
	if limit < 0 {
		limit = 0
	}

	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, event_type, round_id, occurred_at, payload
		FROM app_events
		WHERE $1 = '' OR round_id = $1
		ORDER BY occurred_at DESC
		LIMIT NULLIF($2, 0)
	`, roundID, limit)
	if err != nil {
		return nil, err
	}

	result := make([]events.Event, 0, len(rows))
	for _, row := range rows {
		evt, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, evt)
	}
	return result, nil
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
