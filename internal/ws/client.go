package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jamoveo/rehearsal-backend/internal/rehearsal"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Client is one authenticated WebSocket connection. The gateway runs a read
// pump and a write pump per client; the read pump dispatches inbound control
// messages and detects disconnects (including keep-alive timeout), the write
// pump drains the buffered send channel.
type Client struct {
	ID        string
	Principal rehearsal.Principal

	conn  *websocket.Conn
	send  chan []byte
	group string // session token of the subscribed group, guarded by hub.mu
}

func newClient(id string, p rehearsal.Principal, conn *websocket.Conn) *Client {
	return &Client{
		ID:        id,
		Principal: p,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
	}
}

// readPump consumes inbound control messages until the connection drops.
func (c *Client) readPump(g *Gateway) {
	defer g.onDisconnect(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Warn("websocket read failed", "connection", c.ID, "user", c.Principal.UserID, "error", err)
			}
			return
		}

		var msg ControlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			g.sendError(c, "malformed control message")
			continue
		}
		g.dispatch(c, msg)
	}
}

// writePump serializes all writes to the connection and keeps it alive with
// pings. It exits when the send channel is closed (hub removed the client)
// or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
