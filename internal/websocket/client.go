package websocket

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/mtr002/compute-queue/internal/events"
	"github.com/mtr002/compute-queue/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Client is one gateway connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	// relay is set on publisher connections only
	relay bool
}

// ReadPump reads frames until the connection fails. On publisher connections
// frames that decode as notification events are relayed to every client.
// Subscriber frames and anything malformed are ignored.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Logger.Debug().Err(err).Msg("Gateway client read error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if !c.relay {
			continue
		}

		e, err := events.Decode(message)
		if err != nil {
			logger.Logger.Debug().Err(err).Msg("Ignoring non-event frame")
			continue
		}
		c.hub.BroadcastEvent(e)
	}
}

// WritePump sends queued messages and keepalive pings. It exits when the hub
// closes the send channel or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
