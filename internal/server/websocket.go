package server

import (
	"context"
	"encoding/json"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"crash/internal/apperr"
	"crash/internal/game"
)

const maxInboundMessage = 4096

// inbound is a message from a websocket client: a ping or a player action.
type inbound struct {
	Type string `json:"type"`
	game.ActionRequest
}

// legacyActions maps message types of older clients onto actions.
var legacyActions = map[string]string{
	"place_bet": "bet",
	"cashout":   "cashout",
	"insure":    "insure",
}

// gameWebSocketHandler streams round events to the client and accepts
// player actions. The hub owns all writes to the connection.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	playerID := conn.Query("player_id")
	log := s.log.With(zap.String("player_id", playerID))
	log.Debug("websocket connected")

	snapshot := s.gameManager.Snapshot()
	snapshot.Bets = s.activeBets(context.Background(), snapshot.RoundID)
	client := s.gameHub.Register(conn, playerID, &snapshot)
	defer func() {
		s.gameHub.Unregister(client)
		<-client.Closed()
	}()

	conn.SetReadLimit(maxInboundMessage)
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Debug("websocket closed", zap.Error(err))
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			s.gameHub.Send(client, game.Failure(apperr.New(apperr.CodeInvalidArgument, "malformed message")))
			continue
		}
		if msg.Type == "ping" {
			s.gameHub.Send(client, map[string]string{"type": "pong"})
			continue
		}

		req := msg.ActionRequest
		if req.Action == "" {
			req.Action = legacyActions[msg.Type]
		}
		if playerID != "" {
			req.PlayerID = playerID
		}
		if req.PlayerID == "" {
			s.gameHub.Send(client, game.Failure(apperr.New(apperr.CodeInvalidArgument, "player id is required")))
			continue
		}

		resp, err := s.gameManager.Handle(context.Background(), req)
		if err != nil && apperr.As(err).Internal() {
			log.Error("websocket action failed", zap.String("action", req.Action), zap.Error(err))
		}
		if !s.gameHub.Send(client, resp) {
			log.Warn("reply dropped", zap.String("action", req.Action))
		}
	}
}
