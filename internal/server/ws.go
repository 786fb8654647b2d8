package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"crashfair/internal/game"
)

// gameWebSocketHandler serves the live round feed. Clients receive the
// current round on connect and every hub broadcast after that. Cash-out
// requests are accepted over the socket too, since latency matters most
// there; everything else goes through REST. All writes to the
// connection go through the hub client so direct replies never race a
// broadcast.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	userID := conn.Query("user_id", "anonymous")

	s.log.Debug("ws connection", zap.String("user_id", userID))
	client := s.hub.RegisterClient(conn, userID)

	if round, err := s.engine.CurrentRound(context.Background()); err == nil {
		client.Send(game.WSMessage{Type: "initial_state", Data: round})
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			s.hub.UnregisterClient(conn)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var clientMsg map[string]any
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			continue
		}
		msgType, ok := clientMsg["type"].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "cashout":
			betID := fmt.Sprintf("%v", clientMsg["bet_id"])
			multiplier, _ := clientMsg["multiplier"].(float64)

			result, err := s.engine.CashOut(context.Background(), userID, betID, multiplier)
			if err != nil {
				client.Send(game.WSMessage{Type: "cashout_error", Data: err.Error()})
			} else {
				client.Send(game.WSMessage{Type: "cashout_ok", Data: result})
			}

		case "ping":
			client.Send(game.WSMessage{Type: "pong"})
		}
	}
}
