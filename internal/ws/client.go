package ws

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 256
)

// Client is a single websocket connection bound to an authenticated user.
type Client struct {
	ID     string
	UserID uuid.UUID

	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	handle func(*Client, []byte)
	logger *zap.Logger
}

func NewClient(userID uuid.UUID, conn *websocket.Conn, hub *Hub, handle func(*Client, []byte), logger *zap.Logger) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		hub:    hub,
		handle: handle,
		logger: logger,
	}
}

// enqueue queues payload for the write pump. Slow consumers get dropped
// rather than blocking broadcasts.
func (c *Client) enqueue(payload []byte) {
	defer func() {
		// send may be closed concurrently by Unregister
		recover()
	}()
	select {
	case c.send <- payload:
	default:
		c.logger.Warn("send buffer full, dropping message",
			zap.String("conn_id", c.ID),
			zap.String("user_id", c.UserID.String()))
	}
}

// ReadPump reads incoming frames and feeds them to the dispatcher. Runs
// until the connection errors, then unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("unexpected websocket close",
					zap.String("conn_id", c.ID), zap.Error(err))
			}
			break
		}
		c.handle(c, raw)
	}
}

// WritePump drains the send channel onto the wire and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
