package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/famulus-ai/famulus/pkg/models"
)

// wsWriteTimeout bounds one frame write so a stalled client cannot pin the
// pump goroutine.
const wsWriteTimeout = 10 * time.Second

// wsHandler handles GET /api/v1/ws: upgrades to WebSocket and streams the
// caller's notifications, snapshot first, then incremental events.
func (s *Server) wsHandler(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.System.AllowedWSOrigins,
	})
	if err != nil {
		// Accept already wrote the handshake failure response.
		s.logger.Warn("WebSocket accept failed", "error", err)
		return
	}

	s.streamNotifications(c.Request.Context(), conn, tenantOf(c), userOf(c))
}

// streamNotifications owns one connection until it closes. Subscribe runs
// before the snapshot query inside the center, so a publish racing the
// attach is duplicated, never lost.
func (s *Server) streamNotifications(parentCtx context.Context, conn *websocket.Conn, tenantID, userID string) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sub, err := s.notifier.Subscribe(ctx, tenantID, userID)
	if err != nil {
		s.logger.Warn("WebSocket subscribe failed", "user_id", userID, "error", err)
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer sub.Close()

	// The client sends nothing meaningful; reading services control frames
	// and turns a close into cancellation of the write pump.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	if err := s.writeEvent(ctx, conn, sub.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "stream closed")
				return
			}
			if err := s.writeEvent(ctx, conn, ev); err != nil {
				s.logger.Warn("WebSocket write failed", "user_id", userID, "error", err)
				return
			}
		}
	}
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, ev *models.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
