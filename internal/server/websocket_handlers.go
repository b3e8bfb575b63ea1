package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"fetch/internal/middleware"
	"fetch/internal/notifications"
	"fetch/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// WebSocketHandler streams the caller's change events over a websocket until
// either side closes. Clients only ever read; inbound frames other than
// control frames are discarded.
func (s *Server) WebSocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		observability.ActiveWebSockets.Inc()
		defer observability.ActiveWebSockets.Dec()
		defer func() { _ = conn.Close() }()

		userID, _ := conn.Locals(middleware.LocalUserID).(string)
		if userID == "" {
			return
		}

		ctx, cancel := context.WithCancel(observability.WithUserID(context.Background(), userID))
		defer cancel()

		events, err := s.accounts.Subscribe(ctx, userID)
		if err != nil {
			observability.Logger.WarnContext(ctx, "websocket subscribe failed", slog.String("error", err.Error()))
			return
		}

		go s.wsReadLoop(conn, cancel)
		s.wsWriteLoop(ctx, conn, events)
	})
}

// wsReadLoop drains the connection so pongs and close frames are handled.
func (s *Server) wsReadLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) wsWriteLoop(ctx context.Context, conn *websocket.Conn, events <-chan notifications.Event) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				observability.Logger.ErrorContext(ctx, "encode change event", slog.String("error", err.Error()))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
