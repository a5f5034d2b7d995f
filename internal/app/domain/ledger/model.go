package ledger

import "time"

// Account is a receiving account under the custody ledger. Balances are
// denominated in the smallest indivisible unit of the staked asset.
type Account struct {
	Address   string
	Balance   uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EntryType distinguishes ledger movements.
type EntryType string

const (
	// EntryCredit is a payout credited to a receiving account.
	EntryCredit EntryType = "credit"
	// EntryBurn is value permanently destroyed from pool custody.
	EntryBurn EntryType = "burn"
)

// Entry is one append-only ledger movement. Burns carry no address.
type Entry struct {
	ID        string
	Type      EntryType
	Address   string
	Amount    uint64
	RoundID   string
	CreatedAt time.Time
}
