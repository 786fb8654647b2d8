// Package store implements the game.Store persistence boundary on
// PostgreSQL. Every mutating method runs inside a single transaction so
// money movement, bet transitions and audit rows land together or not
// at all.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crashfair/internal/game"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const roundColumns = `id, round_number, status, server_seed, server_seed_hash, client_seed, crash_point, created_at, started_at, ended_at`

const betColumns = `id, user_id, round_id, ledger, status, amount_cents, auto_cashout_at, cashout_multiplier, profit_cents, placed_at, cashed_out_at`

func (p *Postgres) NextRoundNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := p.pool.QueryRow(ctx, `SELECT nextval('round_number_seq')`).Scan(&n)
	return n, err
}

func (p *Postgres) CreateRound(ctx context.Context, r *game.Round) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO rounds (id, round_number, status, server_seed, server_seed_hash, client_seed, crash_point, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.RoundNumber, r.Status, r.ServerSeed, r.ServerSeedHash, r.ClientSeed, r.CrashPoint, r.CreatedAt)
	return err
}

func (p *Postgres) GetRound(ctx context.Context, id string) (*game.Round, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id)
	r, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, game.ErrRoundNotFound
	}
	return r, err
}

func (p *Postgres) ActivateRound(ctx context.Context, id string, at time.Time) (*game.Round, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE rounds
		SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4
		RETURNING `+roundColumns,
		game.RoundActive, at, id, game.RoundPending)
	r, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, p.roundConflict(ctx, id, game.ErrRoundNotOpen)
	}
	return r, err
}

func (p *Postgres) CrashRound(ctx context.Context, id string, at time.Time) (*game.Round, int, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE rounds
		SET status = $1, ended_at = $2
		WHERE id = $3 AND status = $4
		RETURNING `+roundColumns,
		game.RoundCrashed, at, id, game.RoundActive)
	r, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, p.roundConflict(ctx, id, game.ErrRoundNotActive)
	}
	if err != nil {
		return nil, 0, err
	}

	// Loss sweep: everything still placed on this round loses its stake.
	cmd, err := tx.Exec(ctx, `
		UPDATE bets
		SET status = $1, profit_cents = -amount_cents
		WHERE round_id = $2 AND status = $3
	`, game.BetLost, id, game.BetPlaced)
	if err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, 0, err
	}
	return r, int(cmd.RowsAffected()), nil
}

func (p *Postgres) CancelRound(ctx context.Context, id string, at time.Time) (*game.Round, int, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE rounds
		SET status = $1, ended_at = $2
		WHERE id = $3 AND status IN ($4, $5)
		RETURNING `+roundColumns,
		game.RoundCancelled, at, id, game.RoundPending, game.RoundActive)
	r, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, p.roundConflict(ctx, id, game.ErrRoundFinished)
	}
	if err != nil {
		return nil, 0, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, user_id, ledger, amount_cents
		FROM bets
		WHERE round_id = $1 AND status = $2
		FOR UPDATE
	`, id, game.BetPlaced)
	if err != nil {
		return nil, 0, err
	}
	type refund struct {
		betID       string
		userID      string
		ledger      game.Ledger
		amountCents int64
	}
	var refunds []refund
	for rows.Next() {
		var rf refund
		if err := rows.Scan(&rf.betID, &rf.userID, &rf.ledger, &rf.amountCents); err != nil {
			rows.Close()
			return nil, 0, err
		}
		refunds = append(refunds, rf)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for _, rf := range refunds {
		after, err := creditTx(ctx, tx, rf.userID, rf.ledger, rf.amountCents)
		if err != nil {
			return nil, 0, err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE bets SET status = $1, profit_cents = 0 WHERE id = $2
		`, game.BetRefunded, rf.betID); err != nil {
			return nil, 0, err
		}
		if err := insertAuditTx(ctx, tx, game.AuditEntry{
			Kind:        game.AuditRefundCredit,
			UserID:      rf.userID,
			Ledger:      rf.ledger,
			BeforeCents: after - rf.amountCents,
			AfterCents:  after,
			Actor:       "engine",
			Reason:      "round cancelled",
			BetID:       &rf.betID,
			RoundID:     &id,
		}); err != nil {
			return nil, 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, err
	}
	return r, len(refunds), nil
}

func (p *Postgres) GetBet(ctx context.Context, id string) (*game.Bet, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1`, id)
	b, err := scanBet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, game.ErrBetNotFound
	}
	return b, err
}

func (p *Postgres) ListRoundBets(ctx context.Context, roundID string, status game.BetStatus) ([]game.Bet, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+betColumns+`
		FROM bets
		WHERE round_id = $1 AND status = $2
		ORDER BY placed_at
	`, roundID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (p *Postgres) PlaceBet(ctx context.Context, b *game.Bet) (int64, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// Lock the round row shared so a concurrent activate/cancel cannot
	// slip between the status check and the insert.
	var status game.RoundStatus
	err = tx.QueryRow(ctx, `SELECT status FROM rounds WHERE id = $1 FOR SHARE`, b.RoundID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, game.ErrRoundNotFound
	}
	if err != nil {
		return 0, err
	}
	if status != game.RoundPending {
		return 0, game.ErrRoundNotOpen
	}

	// Conditional debit. A missing wallet reads as zero, so no matched
	// row means the stake is not covered either way.
	var after int64
	err = tx.QueryRow(ctx, `
		UPDATE balances
		SET balance_cents = balance_cents - $1, updated_at = now()
		WHERE user_id = $2 AND ledger = $3 AND balance_cents >= $1
		RETURNING balance_cents
	`, b.AmountCents, b.UserID, b.Ledger).Scan(&after)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, game.ErrInsufficientFunds
	}
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO bets (id, user_id, round_id, ledger, status, amount_cents, auto_cashout_at, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, b.ID, b.UserID, b.RoundID, b.Ledger, b.Status, b.AmountCents, b.AutoCashoutAt, b.PlacedAt); err != nil {
		return 0, err
	}

	if err := insertAuditTx(ctx, tx, game.AuditEntry{
		Kind:        game.AuditBetDebit,
		UserID:      b.UserID,
		Ledger:      b.Ledger,
		BeforeCents: after + b.AmountCents,
		AfterCents:  after,
		Actor:       b.UserID,
		Reason:      "bet placed",
		BetID:       &b.ID,
		RoundID:     &b.RoundID,
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return after, nil
}

func (p *Postgres) SettleCashout(ctx context.Context, betID string, multiplier float64, profitCents, payoutCents int64, at time.Time) (*game.Bet, int64, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback(ctx)

	// The compare-and-set: only one caller can move the bet out of
	// placed, and only while the round row still says active.
	row := tx.QueryRow(ctx, `
		UPDATE bets
		SET status = $1, cashout_multiplier = $2, profit_cents = $3, cashed_out_at = $4
		WHERE id = $5
		  AND status = $6
		  AND EXISTS (SELECT 1 FROM rounds WHERE rounds.id = bets.round_id AND rounds.status = $7)
		RETURNING `+betColumns,
		game.BetCashedOut, multiplier, profitCents, at, betID, game.BetPlaced, game.RoundActive)
	b, err := scanBet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, p.cashoutConflict(ctx, betID)
	}
	if err != nil {
		return nil, 0, err
	}

	after, err := creditTx(ctx, tx, b.UserID, b.Ledger, payoutCents)
	if err != nil {
		return nil, 0, err
	}
	if err := insertAuditTx(ctx, tx, game.AuditEntry{
		Kind:        game.AuditCashoutCredit,
		UserID:      b.UserID,
		Ledger:      b.Ledger,
		BeforeCents: after - payoutCents,
		AfterCents:  after,
		Actor:       b.UserID,
		Reason:      "cashout",
		BetID:       &b.ID,
		RoundID:     &b.RoundID,
	}); err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, err
	}
	return b, after, nil
}

func (p *Postgres) Balance(ctx context.Context, userID string, ledger game.Ledger) (int64, error) {
	var cents int64
	err := p.pool.QueryRow(ctx, `
		SELECT COALESCE((SELECT balance_cents FROM balances WHERE user_id = $1 AND ledger = $2), 0)
	`, userID, ledger).Scan(&cents)
	return cents, err
}

func (p *Postgres) AdjustBalance(ctx context.Context, userID string, ledger game.Ledger, newBalanceCents int64, actor, reason string) (*game.AuditEntry, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var before int64
	err = tx.QueryRow(ctx, `
		SELECT balance_cents FROM balances WHERE user_id = $1 AND ledger = $2 FOR UPDATE
	`, userID, ledger).Scan(&before)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO balances (user_id, ledger, balance_cents)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, ledger)
		DO UPDATE SET balance_cents = $3, updated_at = now()
	`, userID, ledger, newBalanceCents); err != nil {
		return nil, err
	}

	entry := game.AuditEntry{
		Kind:        game.AuditAdminAdjust,
		UserID:      userID,
		Ledger:      ledger,
		BeforeCents: before,
		AfterCents:  newBalanceCents,
		Actor:       actor,
		Reason:      reason,
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO audit_log (kind, user_id, ledger, before_cents, after_cents, actor, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, entry.Kind, entry.UserID, entry.Ledger, entry.BeforeCents, entry.AfterCents, entry.Actor, entry.Reason).
		Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (p *Postgres) AuditTrail(ctx context.Context, userID string, limit int) ([]game.AuditEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, kind, user_id, ledger, before_cents, after_cents, actor, reason, bet_id, round_id, created_at
		FROM audit_log
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.AuditEntry
	for rows.Next() {
		var e game.AuditEntry
		if err := rows.Scan(&e.ID, &e.Kind, &e.UserID, &e.Ledger, &e.BeforeCents, &e.AfterCents,
			&e.Actor, &e.Reason, &e.BetID, &e.RoundID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentRounds returns crashed rounds newest first, secrets included,
// for the public history endpoint.
func (p *Postgres) RecentRounds(ctx context.Context, limit int) ([]game.Round, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+roundColumns+`
		FROM rounds
		WHERE status = $1
		ORDER BY round_number DESC
		LIMIT $2
	`, game.RoundCrashed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// roundConflict maps a failed conditional round update to the right
// sentinel: not found when the row is missing, otherwise the given
// state conflict.
func (p *Postgres) roundConflict(ctx context.Context, id string, conflict error) error {
	var status game.RoundStatus
	err := p.pool.QueryRow(ctx, `SELECT status FROM rounds WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return game.ErrRoundNotFound
	}
	if err != nil {
		return err
	}
	return conflict
}

func (p *Postgres) cashoutConflict(ctx context.Context, betID string) error {
	var status game.BetStatus
	err := p.pool.QueryRow(ctx, `SELECT status FROM bets WHERE id = $1`, betID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return game.ErrBetNotFound
	}
	if err != nil {
		return err
	}
	if status != game.BetPlaced {
		return game.ErrBetSettled
	}
	return game.ErrRoundNotActive
}

func creditTx(ctx context.Context, tx pgx.Tx, userID string, ledger game.Ledger, cents int64) (int64, error) {
	var after int64
	err := tx.QueryRow(ctx, `
		INSERT INTO balances (user_id, ledger, balance_cents)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, ledger)
		DO UPDATE SET balance_cents = balances.balance_cents + $3, updated_at = now()
		RETURNING balance_cents
	`, userID, ledger, cents).Scan(&after)
	return after, err
}

func insertAuditTx(ctx context.Context, tx pgx.Tx, e game.AuditEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO audit_log (kind, user_id, ledger, before_cents, after_cents, actor, reason, bet_id, round_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.Kind, e.UserID, e.Ledger, e.BeforeCents, e.AfterCents, e.Actor, e.Reason, e.BetID, e.RoundID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (*game.Round, error) {
	var r game.Round
	err := row.Scan(&r.ID, &r.RoundNumber, &r.Status, &r.ServerSeed, &r.ServerSeedHash,
		&r.ClientSeed, &r.CrashPoint, &r.CreatedAt, &r.StartedAt, &r.EndedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanBet(row rowScanner) (*game.Bet, error) {
	var b game.Bet
	err := row.Scan(&b.ID, &b.UserID, &b.RoundID, &b.Ledger, &b.Status, &b.AmountCents,
		&b.AutoCashoutAt, &b.CashoutMultiplier, &b.ProfitCents, &b.PlacedAt, &b.CashedOutAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
