package game

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

const (
	tickInterval           = 100 * time.Millisecond
	defaultBettingWindow   = 5 * time.Second
	defaultInterRoundPause = 3 * time.Second
)

// Run drives rounds back to back until ctx is cancelled: create a
// round, hold the betting window open, activate, climb the multiplier
// until it reaches the predetermined crash point, resolve, pause,
// repeat. The loop only calls the same exported operations the API
// exposes; it owns no state of its own.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info("round loop started")
	for {
		select {
		case <-ctx.Done():
			e.log.Info("round loop stopped")
			return
		default:
			e.runRound(ctx)
		}
	}
}

func (e *Engine) runRound(ctx context.Context) {
	round, err := e.CreateRound(ctx, "")
	if err != nil {
		e.log.Error("create round", zap.Error(err))
		e.pause(ctx, e.interRoundPause)
		return
	}

	if !e.pause(ctx, e.bettingWindow) {
		return
	}

	active, err := e.ActivateRound(ctx, round.ID)
	if err != nil {
		e.log.Error("activate round", zap.Error(err))
		e.pause(ctx, e.interRoundPause)
		return
	}

	start := time.Now()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Abort cleanly so no round is left hanging active.
			if _, _, err := e.CancelRound(context.Background(), round.ID); err != nil {
				e.log.Error("cancel round on shutdown", zap.Error(err))
			}
			return
		case <-ticker.C:
			m := multiplierAt(time.Since(start).Seconds())
			if m >= round.CrashPoint {
				if _, _, err := e.ResolveRound(ctx, round.ID); err != nil {
					e.log.Error("resolve round", zap.Error(err))
				}
				e.pause(ctx, e.interRoundPause)
				return
			}
			e.advance(ctx, active, m)
		}
	}
}

// advance publishes one tick of the climbing multiplier.
func (e *Engine) advance(ctx context.Context, round *Round, multiplier float64) {
	e.setLive(round.ID, multiplier)
	e.broadcast(WSMessage{Type: "tick", Data: map[string]any{
		"round_id":   round.ID,
		"multiplier": multiplier,
	}})
	e.saveSnapshot(ctx, round.Public(multiplier))
	e.runAutoCashouts(ctx, round.ID, multiplier)
}

// multiplierAt maps elapsed seconds to the displayed multiplier:
// linear early, gently accelerating, floored to 2 decimals.
func multiplierAt(elapsed float64) float64 {
	m := 1.0 + elapsed/1.5 + elapsed*elapsed*0.005
	return math.Floor(m*100) / 100
}

// pause sleeps for d unless ctx ends first; reports whether the full
// pause elapsed.
func (e *Engine) pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
