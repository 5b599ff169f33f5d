package websocket

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

const (
	// A plan request frame carries a prompt plus a little JSON.
	maxRequestFrame = 16 * 1024
	outboxSize      = 256
)

// client is one browser tab of a user. Plan fragments queue in outbox and
// are written one frame each.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID uuid.UUID
	outbox chan []byte
}

// Serve registers conn for userID and blocks until it closes. Turns started
// from its frames are cancelled with it.
func (h *Hub) Serve(conn *websocket.Conn, userID uuid.UUID) {
	c := &client{hub: h, conn: conn, userID: userID, outbox: make(chan []byte, outboxSize)}
	h.register <- c

	go c.writeLoop()
	c.readLoop()
}

func (c *client) readLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxRequestFrame)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WS_CLIENT", "Connection dropped", map[string]interface{}{
					"user_id": c.userID.String(),
					"error":   err.Error(),
				})
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		c.hub.dispatch(ctx, c, frame)
	}
}

func (c *client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, open := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
