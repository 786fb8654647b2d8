package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	// Public round surface.
	api.Get("/rounds/current", s.getCurrentRoundHandler)
	api.Get("/rounds/history", s.roundHistoryHandler)
	api.Get("/rounds/crashes", s.crashHistoryHandler)
	api.Get("/rounds/:id", s.getRoundHandler)

	// Round lifecycle, driven by operators or the internal loop.
	api.Post("/rounds", s.createRoundHandler)
	api.Post("/rounds/:id/activate", s.activateRoundHandler)
	api.Post("/rounds/:id/resolve", s.resolveRoundHandler)
	api.Post("/rounds/:id/cancel", s.cancelRoundHandler)

	// Betting.
	api.Post("/bets", s.placeBetHandler)
	api.Get("/bets/:id", s.getBetHandler)
	api.Post("/bets/:id/cashout", s.cashoutHandler)

	// Wallet.
	api.Get("/users/:userId/balance", s.getBalanceHandler)
	api.Get("/users/:userId/audit", s.auditTrailHandler)

	// Operator surface.
	api.Post("/admin/balance", s.adjustBalanceHandler)

	// Independent verification: pure function of its inputs, no state.
	api.Post("/verify", s.verifyHandler)

	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"game": fiber.Map{
			"status":            "running",
			"connected_clients": s.hub.ClientCount(),
		},
	}
	if s.db != nil {
		health["database"] = s.db.Health()
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	return c.JSON(health)
}
