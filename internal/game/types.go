package game

import (
	"context"
	"time"
)

type RoundStatus string

const (
	RoundPending   RoundStatus = "pending"
	RoundActive    RoundStatus = "active"
	RoundCrashed   RoundStatus = "crashed"
	RoundCancelled RoundStatus = "cancelled"
)

type BetStatus string

const (
	BetPlaced    BetStatus = "placed"
	BetCashedOut BetStatus = "cashed_out"
	BetLost      BetStatus = "lost"
	BetRefunded  BetStatus = "refunded"
)

// Ledger is the wager pool a bet draws from. Pools never mix.
type Ledger string

const (
	LedgerReal     Ledger = "real"
	LedgerPractice Ledger = "practice"
)

func (l Ledger) Valid() bool {
	return l == LedgerReal || l == LedgerPractice
}

// Round is the server-side round record. ServerSeed and CrashPoint are
// the house secrets: they stay out of every serialized form until the
// round has crashed, and both are immutable after creation.
type Round struct {
	ID             string      `json:"id"`
	RoundNumber    uint64      `json:"round_number"`
	ServerSeed     string      `json:"-"`
	ServerSeedHash string      `json:"server_seed_hash"`
	ClientSeed     string      `json:"client_seed"`
	CrashPoint     float64     `json:"-"`
	Status         RoundStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	EndedAt        *time.Time  `json:"ended_at,omitempty"`
}

// PublicRound is the only round shape handed to clients while a round
// is pending or active.
type PublicRound struct {
	ID                string      `json:"id"`
	RoundNumber       uint64      `json:"round_number"`
	ServerSeedHash    string      `json:"server_seed_hash"`
	ClientSeed        string      `json:"client_seed"`
	Status            RoundStatus `json:"status"`
	CurrentMultiplier float64     `json:"current_multiplier,omitempty"`
}

// RevealedRound extends the public view with the secrets, legal only
// once the round is crashed.
type RevealedRound struct {
	PublicRound
	ServerSeed string     `json:"server_seed"`
	CrashPoint float64    `json:"crash_point"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

func (r *Round) Public(currentMultiplier float64) PublicRound {
	return PublicRound{
		ID:                r.ID,
		RoundNumber:       r.RoundNumber,
		ServerSeedHash:    r.ServerSeedHash,
		ClientSeed:        r.ClientSeed,
		Status:            r.Status,
		CurrentMultiplier: currentMultiplier,
	}
}

// Revealed returns the full round view. Callers must only use it for
// rounds in the crashed state; Public is the safe default.
func (r *Round) Revealed() RevealedRound {
	return RevealedRound{
		PublicRound: r.Public(0),
		ServerSeed:  r.ServerSeed,
		CrashPoint:  r.CrashPoint,
		EndedAt:     r.EndedAt,
	}
}

type Bet struct {
	ID                string     `json:"id"`
	RoundID           string     `json:"round_id"`
	UserID            string     `json:"user_id"`
	Ledger            Ledger     `json:"ledger"`
	AmountCents       int64      `json:"amount_cents"`
	AutoCashoutAt     *float64   `json:"auto_cashout_at,omitempty"`
	Status            BetStatus  `json:"status"`
	CashoutMultiplier *float64   `json:"cashout_multiplier,omitempty"`
	ProfitCents       *int64     `json:"profit_cents,omitempty"`
	PlacedAt          time.Time  `json:"placed_at"`
	CashedOutAt       *time.Time `json:"cashed_out_at,omitempty"`
}

// CashoutResult is returned from a successful cash-out.
type CashoutResult struct {
	BetID        string  `json:"bet_id"`
	Multiplier   float64 `json:"multiplier"`
	ProfitCents  int64   `json:"profit_cents"`
	PayoutCents  int64   `json:"payout_cents"`
	BalanceCents int64   `json:"balance_cents"`
}

// AuditKind tags an audit entry with one of the known ledger mutations.
// Each kind carries the same fixed before/after schema; there is no
// free-form payload.
type AuditKind string

const (
	AuditBetDebit      AuditKind = "bet_debit"
	AuditCashoutCredit AuditKind = "cashout_credit"
	AuditRefundCredit  AuditKind = "refund_credit"
	AuditAdminAdjust   AuditKind = "admin_adjust"
)

// AuditEntry is one row of the append-only balance audit log.
type AuditEntry struct {
	ID          int64     `json:"id"`
	Kind        AuditKind `json:"kind"`
	UserID      string    `json:"user_id"`
	Ledger      Ledger    `json:"ledger"`
	BeforeCents int64     `json:"before_cents"`
	AfterCents  int64     `json:"after_cents"`
	Actor       string    `json:"actor"`
	Reason      string    `json:"reason"`
	BetID       *string   `json:"bet_id,omitempty"`
	RoundID     *string   `json:"round_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoundCrashedEvent is published when a round resolves.
type RoundCrashedEvent struct {
	RoundID     string  `json:"round_id"`
	RoundNumber uint64  `json:"round_number"`
	CrashPoint  float64 `json:"crash_point"`
	ServerSeed  string  `json:"server_seed"`
	LostBets    int     `json:"lost_bets"`
	TsUnixMs    int64   `json:"ts_unix_ms"`
}

// BetSettledEvent is published when a bet cashes out. Losses are not
// published per bet; downstream consumers derive them from
// RoundCrashedEvent, which carries the lost-bet count.
type BetSettledEvent struct {
	BetID       string    `json:"bet_id"`
	RoundID     string    `json:"round_id"`
	UserID      string    `json:"user_id"`
	Ledger      Ledger    `json:"ledger"`
	Status      BetStatus `json:"status"`
	AmountCents int64     `json:"amount_cents"`
	ProfitCents int64     `json:"profit_cents"`
	PayoutCents int64     `json:"payout_cents"`
	Multiplier  float64   `json:"multiplier,omitempty"`
	TsUnixMs    int64     `json:"ts_unix_ms"`
}

// EventPublisher pushes settlement events to downstream consumers.
// Implementations must be safe for concurrent use; a nil publisher
// disables publishing.
type EventPublisher interface {
	PublishRoundCrashed(ctx context.Context, ev RoundCrashedEvent) error
	PublishBetSettled(ctx context.Context, ev BetSettledEvent) error
}

// MetricsRecorder counts engine activity. A nil recorder disables
// metrics.
type MetricsRecorder interface {
	RoundCreated()
	RoundCrashed(crashPoint float64)
	BetPlaced(amountCents int64)
	CashedOut(payoutCents int64)
}

// Snapshots mirrors live round state into a cache for cheap reads.
type Snapshots interface {
	SaveCurrentRound(ctx context.Context, round PublicRound) error
	PushCrashHistory(ctx context.Context, roundNumber uint64, crashPoint float64, endedAt time.Time) error
}
