package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func (s *FiberServer) RegisterFiberRoutes() {
	// Apply CORS middleware
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	api.Get("/round", s.currentRoundHandler)
	api.Get("/round/history", s.historyHandler)
	api.Get("/round/bets", s.activeBetsHandler)
	api.Get("/insurance/tiers", s.insuranceTiersHandler)
	api.Get("/rounds/:id", s.roundHandler)
	api.Post("/actions", s.actionHandler)
	api.Get("/verify", s.verifyHandler)
	api.Get("/players/:id/balance", s.balanceHandler)
	api.Post("/players/:id/deposit", s.depositHandler)

	// WebSocket route
	s.App.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	disabled := map[string]string{"status": "disabled"}

	db := disabled
	if s.db != nil {
		db = s.db.Health()
	}
	cache := disabled
	if s.cache != nil {
		cache = s.cache.Health()
	}

	game := fiber.Map{
		"status":            "running",
		"connected_clients": s.gameHub.GetClientCount(),
		"dropped_events":    s.gameHub.Dropped(),
		"integrity":         "ok",
	}
	if r := s.gameManager.CurrentRound(); r != nil {
		game["round_id"] = r.ID
		game["phase"] = r.Phase
		if r.NeedsReconciliation {
			game["integrity"] = "degraded"
		}
	}

	status := fiber.StatusOK
	if db["status"] == "down" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"database": db,
		"cache":    cache,
		"game":     game,
	})
}
