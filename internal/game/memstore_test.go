package game

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store with the same atomicity guarantees as
// the postgres implementation: every mutating method runs under one
// lock, so its writes are all-or-nothing relative to other calls.
type memStore struct {
	mu       sync.Mutex
	counter  uint64
	rounds   map[string]*Round
	bets     map[string]*Bet
	balances map[string]int64 // userID + "/" + ledger
	audit    []AuditEntry
}

func newMemStore() *memStore {
	return &memStore{
		rounds:   make(map[string]*Round),
		bets:     make(map[string]*Bet),
		balances: make(map[string]int64),
	}
}

func balanceKey(userID string, ledger Ledger) string {
	return userID + "/" + string(ledger)
}

func (s *memStore) NextRoundNumber(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return s.counter, nil
}

func (s *memStore) CreateRound(ctx context.Context, r *Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rounds[r.ID] = &cp
	return nil
}

func (s *memStore) GetRound(ctx context.Context, id string) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, ErrRoundNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) ActivateRound(ctx context.Context, id string, at time.Time) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, ErrRoundNotFound
	}
	if r.Status != RoundPending {
		return nil, ErrRoundNotOpen
	}
	r.Status = RoundActive
	r.StartedAt = &at
	cp := *r
	return &cp, nil
}

func (s *memStore) CrashRound(ctx context.Context, id string, at time.Time) (*Round, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, 0, ErrRoundNotFound
	}
	if r.Status != RoundActive {
		return nil, 0, ErrRoundNotActive
	}
	r.Status = RoundCrashed
	r.EndedAt = &at

	lost := 0
	for _, b := range s.bets {
		if b.RoundID == id && b.Status == BetPlaced {
			b.Status = BetLost
			profit := -b.AmountCents
			b.ProfitCents = &profit
			lost++
		}
	}
	cp := *r
	return &cp, lost, nil
}

func (s *memStore) CancelRound(ctx context.Context, id string, at time.Time) (*Round, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, 0, ErrRoundNotFound
	}
	if r.Status != RoundPending && r.Status != RoundActive {
		return nil, 0, ErrRoundFinished
	}
	r.Status = RoundCancelled
	r.EndedAt = &at

	refunded := 0
	for _, b := range s.bets {
		if b.RoundID == id && b.Status == BetPlaced {
			key := balanceKey(b.UserID, b.Ledger)
			before := s.balances[key]
			s.balances[key] = before + b.AmountCents
			b.Status = BetRefunded
			zero := int64(0)
			b.ProfitCents = &zero
			s.appendAudit(AuditEntry{
				Kind:        AuditRefundCredit,
				UserID:      b.UserID,
				Ledger:      b.Ledger,
				BeforeCents: before,
				AfterCents:  before + b.AmountCents,
				Actor:       "engine",
				Reason:      "round cancelled",
				BetID:       &b.ID,
				RoundID:     &b.RoundID,
			})
			refunded++
		}
	}
	cp := *r
	return &cp, refunded, nil
}

func (s *memStore) GetBet(ctx context.Context, id string) (*Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[id]
	if !ok {
		return nil, ErrBetNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) ListRoundBets(ctx context.Context, roundID string, status BetStatus) ([]Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Bet
	for _, b := range s.bets {
		if b.RoundID == roundID && b.Status == status {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	return out, nil
}

func (s *memStore) PlaceBet(ctx context.Context, b *Bet) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[b.RoundID]
	if !ok {
		return 0, ErrRoundNotFound
	}
	if r.Status != RoundPending {
		return 0, ErrRoundNotOpen
	}
	key := balanceKey(b.UserID, b.Ledger)
	before := s.balances[key]
	if before < b.AmountCents {
		return 0, ErrInsufficientFunds
	}
	after := before - b.AmountCents
	s.balances[key] = after
	cp := *b
	s.bets[b.ID] = &cp
	s.appendAudit(AuditEntry{
		Kind:        AuditBetDebit,
		UserID:      b.UserID,
		Ledger:      b.Ledger,
		BeforeCents: before,
		AfterCents:  after,
		Actor:       b.UserID,
		Reason:      "bet placed",
		BetID:       &cp.ID,
		RoundID:     &cp.RoundID,
	})
	return after, nil
}

func (s *memStore) SettleCashout(ctx context.Context, betID string, multiplier float64, profitCents, payoutCents int64, at time.Time) (*Bet, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[betID]
	if !ok {
		return nil, 0, ErrBetNotFound
	}
	if b.Status != BetPlaced {
		return nil, 0, ErrBetSettled
	}
	r, ok := s.rounds[b.RoundID]
	if !ok || r.Status != RoundActive {
		return nil, 0, ErrRoundNotActive
	}
	b.Status = BetCashedOut
	b.CashoutMultiplier = &multiplier
	b.ProfitCents = &profitCents
	b.CashedOutAt = &at

	key := balanceKey(b.UserID, b.Ledger)
	before := s.balances[key]
	after := before + payoutCents
	s.balances[key] = after
	s.appendAudit(AuditEntry{
		Kind:        AuditCashoutCredit,
		UserID:      b.UserID,
		Ledger:      b.Ledger,
		BeforeCents: before,
		AfterCents:  after,
		Actor:       b.UserID,
		Reason:      "cashout",
		BetID:       &b.ID,
		RoundID:     &b.RoundID,
	})
	cp := *b
	return &cp, after, nil
}

func (s *memStore) Balance(ctx context.Context, userID string, ledger Ledger) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[balanceKey(userID, ledger)], nil
}

func (s *memStore) AdjustBalance(ctx context.Context, userID string, ledger Ledger, newBalanceCents int64, actor, reason string) (*AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := balanceKey(userID, ledger)
	before := s.balances[key]
	s.balances[key] = newBalanceCents
	entry := s.appendAudit(AuditEntry{
		Kind:        AuditAdminAdjust,
		UserID:      userID,
		Ledger:      ledger,
		BeforeCents: before,
		AfterCents:  newBalanceCents,
		Actor:       actor,
		Reason:      reason,
	})
	return &entry, nil
}

func (s *memStore) AuditTrail(ctx context.Context, userID string, limit int) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEntry
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if s.audit[i].UserID == userID {
			out = append(out, s.audit[i])
		}
	}
	return out, nil
}

func (s *memStore) appendAudit(e AuditEntry) AuditEntry {
	e.ID = int64(len(s.audit) + 1)
	e.CreatedAt = time.Now().UTC()
	s.audit = append(s.audit, e)
	return e
}
