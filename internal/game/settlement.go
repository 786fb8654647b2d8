package game

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crashfair/pkg/fair"
)

const (
	MinBetCents int64 = 100      // 1.00
	MaxBetCents int64 = 1_000_00 // 1000.00
)

// PlaceBet debits the stake and creates a placed bet as one atomic
// unit. The round must still be pending; once it activates, the betting
// window is closed.
func (e *Engine) PlaceBet(ctx context.Context, userID, roundID string, ledger Ledger, amountCents int64, autoCashoutAt *float64) (*Bet, int64, error) {
	if userID == "" {
		return nil, 0, ErrMissingUser
	}
	if !ledger.Valid() {
		return nil, 0, ErrUnknownLedger
	}
	if amountCents < MinBetCents || amountCents > MaxBetCents {
		return nil, 0, ErrInvalidAmount
	}
	if autoCashoutAt != nil && *autoCashoutAt < fair.MinMultiplier {
		return nil, 0, ErrInvalidMultiplier
	}

	bet := &Bet{
		ID:            uuid.NewString(),
		RoundID:       roundID,
		UserID:        userID,
		Ledger:        ledger,
		AmountCents:   amountCents,
		AutoCashoutAt: autoCashoutAt,
		Status:        BetPlaced,
		PlacedAt:      time.Now().UTC(),
	}
	newBalance, err := e.store.PlaceBet(ctx, bet)
	if err != nil {
		return nil, 0, err
	}

	if e.metrics != nil {
		e.metrics.BetPlaced(amountCents)
	}
	e.broadcast(WSMessage{Type: "bet_placed", Data: map[string]any{
		"bet_id":       bet.ID,
		"user_id":      bet.UserID,
		"amount_cents": bet.AmountCents,
	}})

	e.log.Info("bet placed",
		zap.String("bet_id", bet.ID),
		zap.String("user_id", userID),
		zap.Int64("amount_cents", amountCents))
	return bet, newBalance, nil
}

// CashOut settles a placed bet at the current multiplier. The client
// multiplier is treated as a hint of when the user clicked: it is
// clamped to the engine's live multiplier and rejected outright if it
// exceeds the round's crash point. A round this engine is not climbing
// has no live multiplier to price against, so its cash-outs are
// refused even when the store still says active. The status CAS, the
// ledger credit and the audit row are one atomic unit in the store, so
// exactly one concurrent cash-out per bet can ever succeed.
func (e *Engine) CashOut(ctx context.Context, userID, betID string, clientMultiplier float64) (*CashoutResult, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if clientMultiplier < fair.MinMultiplier {
		return nil, ErrInvalidMultiplier
	}

	bet, err := e.store.GetBet(ctx, betID)
	if err != nil {
		return nil, err
	}
	if bet.UserID != userID {
		return nil, ErrNotBetOwner
	}
	if bet.Status != BetPlaced {
		return nil, ErrBetSettled
	}

	round, err := e.store.GetRound(ctx, bet.RoundID)
	if err != nil {
		return nil, err
	}
	if round.Status != RoundActive {
		return nil, ErrRoundNotActive
	}

	live, ok := e.liveFor(round.ID)
	if !ok {
		// Stored as active but not climbing here: the process restarted
		// mid-round, or another round went live since. Paying the client
		// hint would mean paying a multiplier nobody watched the round
		// reach.
		return nil, ErrRoundNotActive
	}
	multiplier := clientMultiplier
	if multiplier > live {
		multiplier = live
	}
	if multiplier > round.CrashPoint {
		// The user claims a multiplier the round never reached; the
		// crash beat them regardless of what the round status said at
		// read time.
		return nil, ErrCashoutTooLate
	}

	payoutCents := int64(math.Round(float64(bet.AmountCents) * multiplier))
	profitCents := payoutCents - bet.AmountCents

	settled, newBalance, err := e.store.SettleCashout(ctx, betID, multiplier, profitCents, payoutCents, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.CashedOut(payoutCents)
	}
	e.broadcast(WSMessage{Type: "cashout", Data: map[string]any{
		"bet_id":       settled.ID,
		"user_id":      settled.UserID,
		"multiplier":   multiplier,
		"payout_cents": payoutCents,
	}})
	e.publishBetSettled(ctx, settled, payoutCents, multiplier)

	e.log.Info("bet cashed out",
		zap.String("bet_id", settled.ID),
		zap.String("user_id", userID),
		zap.Float64("multiplier", multiplier),
		zap.Int64("payout_cents", payoutCents))

	return &CashoutResult{
		BetID:        settled.ID,
		Multiplier:   multiplier,
		ProfitCents:  profitCents,
		PayoutCents:  payoutCents,
		BalanceCents: newBalance,
	}, nil
}

// Bet returns a stored bet, owner-checked.
func (e *Engine) Bet(ctx context.Context, userID, betID string) (*Bet, error) {
	bet, err := e.store.GetBet(ctx, betID)
	if err != nil {
		return nil, err
	}
	if bet.UserID != userID {
		return nil, ErrNotBetOwner
	}
	return bet, nil
}

// runAutoCashouts fires cash-outs for placed bets whose auto target the
// live multiplier has reached. Individual failures (usually a race with
// the crash) are logged and skipped; the loss sweep covers them.
func (e *Engine) runAutoCashouts(ctx context.Context, roundID string, currentMultiplier float64) {
	bets, err := e.store.ListRoundBets(ctx, roundID, BetPlaced)
	if err != nil {
		e.log.Warn("list bets for auto cashout", zap.Error(err))
		return
	}
	for i := range bets {
		bet := &bets[i]
		if bet.AutoCashoutAt == nil || *bet.AutoCashoutAt > currentMultiplier {
			continue
		}
		if _, err := e.CashOut(ctx, bet.UserID, bet.ID, *bet.AutoCashoutAt); err != nil {
			e.log.Debug("auto cashout skipped",
				zap.String("bet_id", bet.ID),
				zap.Error(err))
		}
	}
}

func (e *Engine) publishBetSettled(ctx context.Context, bet *Bet, payoutCents int64, multiplier float64) {
	if e.publisher == nil {
		return
	}
	profit := int64(0)
	if bet.ProfitCents != nil {
		profit = *bet.ProfitCents
	}
	ev := BetSettledEvent{
		BetID:       bet.ID,
		RoundID:     bet.RoundID,
		UserID:      bet.UserID,
		Ledger:      bet.Ledger,
		Status:      bet.Status,
		AmountCents: bet.AmountCents,
		ProfitCents: profit,
		PayoutCents: payoutCents,
		Multiplier:  multiplier,
	}
	if err := e.publisher.PublishBetSettled(ctx, ev); err != nil {
		e.log.Warn("publish bet settled", zap.Error(err))
	}
}
