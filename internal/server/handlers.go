package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"crashfair/internal/game"
	"crashfair/pkg/fair"
)

// errorResponse maps the engine's error taxonomy onto HTTP statuses:
// validation 400, missing state 404, state conflicts 409.
func errorResponse(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case game.IsValidation(err):
		status = fiber.StatusBadRequest
	case game.IsNotFound(err):
		status = fiber.StatusNotFound
	case game.IsConflict(err):
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// roundView picks the serializable shape for a round: secrets stay
// hidden until the round has crashed.
func roundView(r *game.Round) any {
	if r.Status == game.RoundCrashed {
		return r.Revealed()
	}
	return r.Public(0)
}

func (s *FiberServer) getCurrentRoundHandler(c *fiber.Ctx) error {
	round, err := s.engine.CurrentRound(c.Context())
	if err == nil {
		return c.JSON(round)
	}
	if !errors.Is(err, game.ErrRoundNotFound) {
		return errorResponse(c, err)
	}
	// Between activation windows the engine has no live round; the
	// snapshot still knows the pending one.
	if s.snapshots != nil {
		snap, serr := s.snapshots.CurrentRound(c.Context())
		if serr == nil && snap != nil {
			return c.JSON(snap)
		}
	}
	return errorResponse(c, game.ErrRoundNotFound)
}

func (s *FiberServer) getRoundHandler(c *fiber.Ctx) error {
	round, err := s.engine.Round(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(roundView(round))
}

func (s *FiberServer) roundHistoryHandler(c *fiber.Ctx) error {
	if s.history == nil {
		return c.JSON([]any{})
	}
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rounds, err := s.history.RecentRounds(c.Context(), limit)
	if err != nil {
		return errorResponse(c, err)
	}
	out := make([]game.RevealedRound, 0, len(rounds))
	for i := range rounds {
		out = append(out, rounds[i].Revealed())
	}
	return c.JSON(out)
}

func (s *FiberServer) crashHistoryHandler(c *fiber.Ctx) error {
	if s.snapshots == nil {
		return c.JSON([]any{})
	}
	records, err := s.snapshots.CrashHistory(c.Context(), c.QueryInt("limit", 50))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(records)
}

func (s *FiberServer) createRoundHandler(c *fiber.Ctx) error {
	var body struct {
		ClientSeed string `json:"client_seed"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}
	round, err := s.engine.CreateRound(c.Context(), body.ClientSeed)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(round.Public(0))
}

func (s *FiberServer) activateRoundHandler(c *fiber.Ctx) error {
	round, err := s.engine.ActivateRound(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(round.Public(fair.MinMultiplier))
}

func (s *FiberServer) resolveRoundHandler(c *fiber.Ctx) error {
	round, lost, err := s.engine.ResolveRound(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"round":     round.Revealed(),
		"lost_bets": lost,
	})
}

func (s *FiberServer) cancelRoundHandler(c *fiber.Ctx) error {
	round, refunded, err := s.engine.CancelRound(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"round":         round.Public(0),
		"refunded_bets": refunded,
	})
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req struct {
		UserID        string   `json:"user_id"`
		RoundID       string   `json:"round_id"`
		Ledger        string   `json:"ledger"`
		AmountCents   int64    `json:"amount_cents"`
		AutoCashoutAt *float64 `json:"auto_cashout_at"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Ledger == "" {
		req.Ledger = string(game.LedgerReal)
	}

	bet, balance, err := s.engine.PlaceBet(c.Context(), req.UserID, req.RoundID, game.Ledger(req.Ledger), req.AmountCents, req.AutoCashoutAt)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"bet":           bet,
		"balance_cents": balance,
	})
}

func (s *FiberServer) getBetHandler(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return errorResponse(c, game.ErrMissingUser)
	}
	bet, err := s.engine.Bet(c.Context(), userID, c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(bet)
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var req struct {
		UserID     string  `json:"user_id"`
		Multiplier float64 `json:"multiplier"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	result, err := s.engine.CashOut(c.Context(), req.UserID, c.Params("id"), req.Multiplier)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(result)
}

func (s *FiberServer) getBalanceHandler(c *fiber.Ctx) error {
	ledger := game.Ledger(c.Query("ledger", string(game.LedgerReal)))
	balance, err := s.engine.Balance(c.Context(), c.Params("userId"), ledger)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"user_id":       c.Params("userId"),
		"ledger":        ledger,
		"balance_cents": balance,
	})
}

func (s *FiberServer) adjustBalanceHandler(c *fiber.Ctx) error {
	var req struct {
		UserID       string `json:"user_id"`
		Ledger       string `json:"ledger"`
		BalanceCents int64  `json:"balance_cents"`
		Actor        string `json:"actor"`
		Reason       string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Ledger == "" {
		req.Ledger = string(game.LedgerReal)
	}

	entry, err := s.engine.AdjustBalance(c.Context(), req.UserID, game.Ledger(req.Ledger), req.BalanceCents, req.Actor, req.Reason)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(entry)
}

func (s *FiberServer) auditTrailHandler(c *fiber.Ctx) error {
	trail, err := s.engine.AuditTrail(c.Context(), c.Params("userId"), c.QueryInt("limit", 100))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(trail)
}

func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	var req struct {
		ServerSeed     string  `json:"server_seed"`
		ServerSeedHash string  `json:"server_seed_hash"`
		ClientSeed     string  `json:"client_seed"`
		Nonce          uint64  `json:"nonce"`
		CrashPoint     float64 `json:"crash_point"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.ServerSeed == "" || req.ServerSeedHash == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "server_seed and server_seed_hash are required"})
	}

	v := fair.Verify(req.ServerSeed, req.ServerSeedHash, req.ClientSeed, req.Nonce, req.CrashPoint)
	return c.JSON(v)
}
