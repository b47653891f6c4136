package server

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crash/internal/apperr"
	"crash/internal/fairness"
	"crash/internal/game"
)

const defaultHistoryLimit = 20

// writeError renders a domain error with its reason code. Internal faults
// are logged and reported without detail.
func (s *FiberServer) writeError(c *fiber.Ctx, err error) error {
	e := apperr.As(err)
	if e.Internal() {
		s.log.Error("request failed",
			zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return c.Status(e.HTTPStatus()).JSON(game.Failure(err))
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(game.ActionResponse{
		Success: false,
		Code:    string(apperr.CodeInvalidArgument),
		Message: msg,
	})
}

// currentRoundHandler returns the public state of the current round, from
// the live mirror when it has one.
func (s *FiberServer) currentRoundHandler(c *fiber.Ctx) error {
	if s.cache != nil {
		live, err := s.cache.LiveRound(c.UserContext())
		if err == nil && live != nil {
			return c.JSON(live)
		}
		if err != nil {
			s.log.Warn("live round read from cache failed", zap.Error(err))
		}
	}
	return c.JSON(s.gameManager.Snapshot())
}

func (s *FiberServer) activeBetsHandler(c *fiber.Ctx) error {
	snapshot := s.gameManager.Snapshot()
	return c.JSON(fiber.Map{
		"round_id": snapshot.RoundID,
		"bets":     s.activeBets(c.UserContext(), snapshot.RoundID),
	})
}

// activeBets reads the unsettled bets of a round from the live mirror and
// falls back to the engine's own view.
func (s *FiberServer) activeBets(ctx context.Context, roundID int64) []game.ActiveBet {
	if roundID == 0 {
		return []game.ActiveBet{}
	}
	if s.cache != nil {
		bets, err := s.cache.ActiveBets(ctx, roundID)
		if err == nil && len(bets) > 0 {
			return bets
		}
		if err != nil {
			s.log.Warn("active bets read from cache failed", zap.Int64("round_id", roundID), zap.Error(err))
		}
	}
	return s.gameManager.ActiveBets()
}

func (s *FiberServer) insuranceTiersHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"tiers": s.gameManager.InsuranceTiers()})
}

func (s *FiberServer) historyHandler(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultHistoryLimit)

	if s.cache != nil {
		history, err := s.cache.History(c.UserContext(), limit)
		if err == nil && len(history) > 0 {
			return c.JSON(fiber.Map{"source": "live", "rounds": history})
		}
		if err != nil {
			s.log.Warn("history read from cache failed", zap.Error(err))
		}
	}

	rounds, err := s.gameManager.RecentRounds(c.UserContext(), limit)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{"source": "archive", "rounds": rounds})
}

func (s *FiberServer) roundHandler(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return badRequest(c, "invalid round id")
	}
	r, err := s.gameManager.Round(c.UserContext(), id)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(r)
}

func (s *FiberServer) actionHandler(c *fiber.Ctx) error {
	var req game.ActionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.PlayerID == "" {
		return badRequest(c, "player id is required")
	}

	resp, err := s.gameManager.Handle(c.UserContext(), req)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(resp)
}

// verifyHandler recomputes a round from its revealed inputs.
func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	serverSeed := c.Query("server_seed")
	clientSeed := c.Query("client_seed")
	if serverSeed == "" || clientSeed == "" {
		return badRequest(c, "server_seed and client_seed are required")
	}
	nonce, err := strconv.ParseInt(c.Query("nonce"), 10, 64)
	if err != nil || nonce <= 0 {
		return badRequest(c, "nonce must be a positive integer")
	}
	edge := fairness.DefaultEdge
	if raw := c.Query("edge"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || !fairness.Edge(v).Valid() {
			return badRequest(c, "edge must be between 0 and 1")
		}
		edge = fairness.Edge(v)
	}

	v := fairness.Verify(serverSeed, clientSeed, nonce, edge)
	out := fiber.Map{
		"server_seed_hash": v.ServerSeedHash,
		"client_seed":      clientSeed,
		"nonce":            nonce,
		"edge":             v.Edge,
		"crash_point":      v.CrashPoint,
	}
	if hash := c.Query("server_seed_hash"); hash != "" {
		out["hash_matches"] = fairness.VerifySeed(serverSeed, hash)
	}
	return c.JSON(out)
}

func (s *FiberServer) balanceHandler(c *fiber.Ctx) error {
	playerID := c.Params("id")
	balance, err := s.ledger.Balance(c.UserContext(), playerID)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"player_id": playerID,
		"balance":   balance.StringFixed(2),
	})
}

// depositHandler credits a player, for local play and tests.
func (s *FiberServer) depositHandler(c *fiber.Ctx) error {
	playerID := c.Params("id")

	var body struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	balance, err := s.ledger.Deposit(c.UserContext(), playerID, body.Amount)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"player_id": playerID,
		"balance":   balance.StringFixed(2),
		"message":   "Balance updated successfully",
	})
}
