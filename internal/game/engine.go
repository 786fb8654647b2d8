package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crashfair/pkg/fair"
)

// Engine owns the round state machine and the bet lifecycle. It is an
// explicit instance constructed once per process with its collaborators
// injected; there is no package-level state. Hub, snapshots, publisher
// and metrics are all optional.
type Engine struct {
	store     Store
	log       *zap.Logger
	hub       *Hub
	snapshots Snapshots
	publisher EventPublisher
	metrics   MetricsRecorder

	bettingWindow   time.Duration
	interRoundPause time.Duration

	mu             sync.RWMutex
	liveRoundID    string
	liveMultiplier float64
}

// EngineOptions carries the optional collaborators and loop pacing
// overrides.
type EngineOptions struct {
	Hub       *Hub
	Snapshots Snapshots
	Publisher EventPublisher
	Metrics   MetricsRecorder

	BettingWindow   time.Duration
	InterRoundPause time.Duration
}

func NewEngine(store Store, log *zap.Logger, opts EngineOptions) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.BettingWindow <= 0 {
		opts.BettingWindow = defaultBettingWindow
	}
	if opts.InterRoundPause <= 0 {
		opts.InterRoundPause = defaultInterRoundPause
	}
	return &Engine{
		store:           store,
		log:             log,
		hub:             opts.Hub,
		snapshots:       opts.Snapshots,
		publisher:       opts.Publisher,
		metrics:         opts.Metrics,
		bettingWindow:   opts.BettingWindow,
		interRoundPause: opts.InterRoundPause,
	}
}

// CreateRound allocates the next nonce, derives the seed pair and the
// crash point, and persists the round as pending. Only the commitment
// hash and the client seed become visible; the server seed and the
// crash point stay server-side until the round resolves.
func (e *Engine) CreateRound(ctx context.Context, clientSeedHint string) (*Round, error) {
	nonce, err := e.store.NextRoundNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate round number: %w", err)
	}

	serverSeed := fair.GenerateServerSeed()
	clientSeed := fair.GenerateClientSeed(clientSeedHint)
	crashPoint := fair.DeriveCrashPoint(serverSeed, clientSeed, nonce)
	if crashPoint < fair.MinMultiplier || crashPoint > fair.MaxMultiplier {
		// Cannot happen with well-formed seeds; refuse to create a
		// round whose ground truth is broken.
		return nil, fmt.Errorf("derived crash point %v out of range", crashPoint)
	}

	r := &Round{
		ID:             uuid.NewString(),
		RoundNumber:    nonce,
		ServerSeed:     serverSeed,
		ServerSeedHash: fair.Commit(serverSeed),
		ClientSeed:     clientSeed,
		CrashPoint:     crashPoint,
		Status:         RoundPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.CreateRound(ctx, r); err != nil {
		return nil, fmt.Errorf("persist round: %w", err)
	}

	if e.metrics != nil {
		e.metrics.RoundCreated()
	}
	e.broadcast(WSMessage{Type: "round_created", Data: r.Public(0)})
	e.saveSnapshot(ctx, r.Public(0))

	e.log.Info("round created",
		zap.Uint64("round_number", r.RoundNumber),
		zap.String("round_id", r.ID),
		zap.String("commitment", r.ServerSeedHash))
	return r, nil
}

// ActivateRound closes the betting window and starts the live climb.
func (e *Engine) ActivateRound(ctx context.Context, roundID string) (*Round, error) {
	r, err := e.store.ActivateRound(ctx, roundID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	e.setLive(r.ID, fair.MinMultiplier)
	e.broadcast(WSMessage{Type: "round_active", Data: r.Public(fair.MinMultiplier)})
	e.saveSnapshot(ctx, r.Public(fair.MinMultiplier))

	e.log.Info("round active", zap.Uint64("round_number", r.RoundNumber))
	return r, nil
}

// ResolveRound crashes an active round. Loss settlement of every
// still-placed bet happens inside the same store transaction as the
// status flip, so no placed bet survives. The server seed is revealed
// from here on.
func (e *Engine) ResolveRound(ctx context.Context, roundID string) (*Round, int, error) {
	r, lost, err := e.store.CrashRound(ctx, roundID, time.Now().UTC())
	if err != nil {
		return nil, 0, err
	}

	e.clearLive(r.ID)
	if e.metrics != nil {
		e.metrics.RoundCrashed(r.CrashPoint)
	}
	e.broadcast(WSMessage{Type: "round_crashed", Data: r.Revealed()})
	if e.snapshots != nil && r.EndedAt != nil {
		if err := e.snapshots.PushCrashHistory(ctx, r.RoundNumber, r.CrashPoint, *r.EndedAt); err != nil {
			e.log.Warn("push crash history", zap.Error(err))
		}
	}
	if e.publisher != nil {
		ev := RoundCrashedEvent{
			RoundID:     r.ID,
			RoundNumber: r.RoundNumber,
			CrashPoint:  r.CrashPoint,
			ServerSeed:  r.ServerSeed,
			LostBets:    lost,
		}
		if err := e.publisher.PublishRoundCrashed(ctx, ev); err != nil {
			e.log.Warn("publish round crashed", zap.Error(err))
		}
	}

	e.log.Info("round crashed",
		zap.Uint64("round_number", r.RoundNumber),
		zap.Float64("crash_point", r.CrashPoint),
		zap.Int("lost_bets", lost))
	return r, lost, nil
}

// CancelRound aborts a pending or active round. Placed bets are
// refunded; the server seed is discarded, never revealed, and its nonce
// is never reused.
func (e *Engine) CancelRound(ctx context.Context, roundID string) (*Round, int, error) {
	r, refunded, err := e.store.CancelRound(ctx, roundID, time.Now().UTC())
	if err != nil {
		return nil, 0, err
	}

	e.clearLive(r.ID)
	e.broadcast(WSMessage{Type: "round_cancelled", Data: r.Public(0)})

	e.log.Warn("round cancelled",
		zap.Uint64("round_number", r.RoundNumber),
		zap.Int("refunded_bets", refunded))
	return r, refunded, nil
}

// Round returns the stored round.
func (e *Engine) Round(ctx context.Context, roundID string) (*Round, error) {
	return e.store.GetRound(ctx, roundID)
}

// CurrentRound returns the live round's public view, if any.
func (e *Engine) CurrentRound(ctx context.Context) (*PublicRound, error) {
	e.mu.RLock()
	roundID, mult := e.liveRoundID, e.liveMultiplier
	e.mu.RUnlock()
	if roundID == "" {
		return nil, ErrRoundNotFound
	}
	r, err := e.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	view := r.Public(mult)
	return &view, nil
}

// Balance reads a ledger balance.
func (e *Engine) Balance(ctx context.Context, userID string, ledger Ledger) (int64, error) {
	if userID == "" {
		return 0, ErrMissingUser
	}
	if !ledger.Valid() {
		return 0, ErrUnknownLedger
	}
	return e.store.Balance(ctx, userID, ledger)
}

// AdjustBalance sets a balance to an absolute value on behalf of an
// operator. Actor and reason are mandatory so the audit entry can say
// who did it and why.
func (e *Engine) AdjustBalance(ctx context.Context, userID string, ledger Ledger, balanceCents int64, actor, reason string) (*AuditEntry, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if !ledger.Valid() {
		return nil, ErrUnknownLedger
	}
	if balanceCents < 0 {
		return nil, ErrInvalidAmount
	}
	if actor == "" || reason == "" {
		return nil, fmt.Errorf("%w: actor and reason are required", ErrInvalidAmount)
	}
	entry, err := e.store.AdjustBalance(ctx, userID, ledger, balanceCents, actor, reason)
	if err != nil {
		return nil, err
	}
	e.log.Info("balance adjusted",
		zap.String("user_id", userID),
		zap.String("ledger", string(ledger)),
		zap.Int64("before_cents", entry.BeforeCents),
		zap.Int64("after_cents", entry.AfterCents),
		zap.String("actor", actor))
	return entry, nil
}

// AuditTrail returns the most recent audit entries for a user.
func (e *Engine) AuditTrail(ctx context.Context, userID string, limit int) ([]AuditEntry, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return e.store.AuditTrail(ctx, userID, limit)
}

// setLive records the climbing multiplier for one round. The cash-out
// path clamps client hints against this value.
func (e *Engine) setLive(roundID string, multiplier float64) {
	e.mu.Lock()
	e.liveRoundID = roundID
	e.liveMultiplier = multiplier
	e.mu.Unlock()
}

func (e *Engine) clearLive(roundID string) {
	e.mu.Lock()
	if e.liveRoundID == roundID {
		e.liveRoundID = ""
		e.liveMultiplier = 0
	}
	e.mu.Unlock()
}

// liveFor returns the live multiplier for roundID, if that round is the
// one currently climbing.
func (e *Engine) liveFor(roundID string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.liveRoundID != roundID {
		return 0, false
	}
	return e.liveMultiplier, true
}

func (e *Engine) broadcast(msg WSMessage) {
	if e.hub != nil {
		e.hub.Broadcast(msg)
	}
}

func (e *Engine) saveSnapshot(ctx context.Context, view PublicRound) {
	if e.snapshots == nil {
		return
	}
	if err := e.snapshots.SaveCurrentRound(ctx, view); err != nil {
		e.log.Warn("save round snapshot", zap.Error(err))
	}
}
