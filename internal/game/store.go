package game

import (
	"context"
	"time"
)

// Store is the persistence boundary of the engine. Every method that
// mutates money or settles a bet is a single atomic unit: either all of
// its writes land or none do. Implementations return the sentinel
// errors from errors.go so the engine and the handlers can classify
// failures without knowing the backend.
type Store interface {
	// NextRoundNumber allocates the next nonce. Strictly increasing
	// and serialized: two concurrent calls never observe the same
	// value.
	NextRoundNumber(ctx context.Context) (uint64, error)

	// CreateRound persists a fully derived pending round, or nothing.
	CreateRound(ctx context.Context, r *Round) error

	GetRound(ctx context.Context, id string) (*Round, error)

	// ActivateRound flips pending -> active.
	ActivateRound(ctx context.Context, id string, at time.Time) (*Round, error)

	// CrashRound flips active -> crashed and, in the same unit, moves
	// every still-placed bet on the round to lost with profit set to
	// the negated stake. Returns the number of bets settled as lost.
	CrashRound(ctx context.Context, id string, at time.Time) (*Round, int, error)

	// CancelRound flips pending/active -> cancelled and refunds every
	// still-placed bet (credit + audit). Returns the refund count.
	CancelRound(ctx context.Context, id string, at time.Time) (*Round, int, error)

	GetBet(ctx context.Context, id string) (*Bet, error)
	ListRoundBets(ctx context.Context, roundID string, status BetStatus) ([]Bet, error)

	// PlaceBet debits the stake and inserts the bet atomically, with
	// an audit row. Fails with ErrRoundNotOpen when the round is not
	// pending and ErrInsufficientFunds when the ledger cannot cover
	// the stake. Returns the post-debit balance.
	PlaceBet(ctx context.Context, b *Bet) (int64, error)

	// SettleCashout is the one-shot settlement: compare-and-set the
	// bet from placed to cashed_out while the round is still active,
	// credit the payout and append the audit row, all in one unit.
	// Exactly one concurrent caller can win the CAS; the rest get
	// ErrBetSettled (or ErrRoundNotActive once the round is over).
	SettleCashout(ctx context.Context, betID string, multiplier float64, profitCents, payoutCents int64, at time.Time) (*Bet, int64, error)

	// Balance returns the current balance for a ledger pool; an
	// unknown wallet reads as zero.
	Balance(ctx context.Context, userID string, ledger Ledger) (int64, error)

	// AdjustBalance sets a balance to an absolute value on behalf of
	// an operator, recording who and why.
	AdjustBalance(ctx context.Context, userID string, ledger Ledger, newBalanceCents int64, actor, reason string) (*AuditEntry, error)

	AuditTrail(ctx context.Context, userID string, limit int) ([]AuditEntry, error)
}
