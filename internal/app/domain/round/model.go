package round

import "time"

// Participant is one depositor inside a round. Identity is the unique key
// within the round; deposit and score evolve independently and LastActive
// moves only when a score is recorded.
type Participant struct {
	Identity   string
	Deposit    uint64
	Score      uint32
	LastActive time.Time
}

// Round is the authoritative record of one pooled-stake competition cycle.
// While the round is open (Active == false) PrizePool mirrors TotalDeposits.
// Winner selection drains both to zero, fills Winners and flips Active; reset
// clears participants and winners and reopens the round. The record itself is
// never destroyed, only cycled.
type Round struct {
	ID            string
	TotalDeposits uint64
	PrizePool     uint64
	Active        bool
	Participants  []Participant
	Winners       []Participant
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Participant returns the participant with the given identity, if present.
func (r Round) Participant(identity string) (Participant, bool) {
	for _, p := range r.Participants {
		if p.Identity == identity {
			return p, true
		}
	}
	return Participant{}, false
}

// Settlement records the outcome of one winner selection. Residual is the
// part of the pool lost to the independent truncation of the two shares; it
// is recorded for auditability and never redistributed. AnchorTxID is filled
// once the settlement digest has been anchored on chain.
type Settlement struct {
	ID          string
	RoundID     string
	Winners     []string
	WinnerShare uint64
	BurnShare   uint64
	PerWinner   uint64
	Residual    uint64
	SettledAt   time.Time
	AnchorTxID  string
	AnchoredAt  time.Time
}
