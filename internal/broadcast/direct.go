package broadcast

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mtr002/compute-queue/internal/logger"
)

// ErrNotConnected is returned by Direct.Send while the gateway connection is down
var ErrNotConnected = errors.New("gateway connection not established")

const (
	writeWait      = 5 * time.Second
	maxInboundSize = 64 * 1024
)

// Direct keeps one persistent WebSocket connection to the notification
// gateway and redials it after every drop.
type Direct struct {
	url            string
	header         http.Header
	reconnectDelay time.Duration
	dialer         *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDirect creates a gateway client. header is sent with every dial and may
// be nil.
func NewDirect(url string, header http.Header, reconnectDelay time.Duration) *Direct {
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Direct{
		url:            url,
		header:         header,
		reconnectDelay: reconnectDelay,
		dialer:         &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start launches the dial loop
func (d *Direct) Start() {
	d.wg.Add(1)
	go d.run()
}

func (d *Direct) run() {
	defer d.wg.Done()

	for {
		conn, _, err := d.dialer.DialContext(d.ctx, d.url, d.header)
		if err != nil {
			if d.ctx.Err() != nil {
				return
			}
			logger.Logger.Debug().Err(err).Str("url", d.url).Msg("Gateway dial failed")
		} else {
			if !d.setConn(conn) {
				conn.Close()
				return
			}
			logger.Logger.Info().Str("url", d.url).Msg("Connected to notification gateway")
			d.drain(conn)
			d.clearConn(conn)
			if d.ctx.Err() != nil {
				return
			}
			logger.Logger.Warn().Str("url", d.url).Msg("Gateway connection lost")
		}

		select {
		case <-d.ctx.Done():
			return
		case <-time.After(d.reconnectDelay):
		}
	}
}

// drain discards inbound frames until the connection fails. Reading is what
// surfaces remote closes and answers pings.
func (d *Direct) drain(conn *websocket.Conn) {
	conn.SetReadLimit(maxInboundSize)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// setConn publishes conn unless Close has already run
func (d *Direct) setConn(conn *websocket.Conn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx.Err() != nil {
		return false
	}
	d.conn = conn
	return true
}

func (d *Direct) clearConn(conn *websocket.Conn) {
	d.mu.Lock()
	if d.conn == conn {
		d.conn = nil
	}
	d.mu.Unlock()
	conn.Close()
}

// Connected reports whether a gateway connection is currently open
func (d *Direct) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil
}

// Send writes payload as one text frame. A failed write closes the
// connection so the dial loop replaces it.
func (d *Direct) Send(ctx context.Context, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(writeWait)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	d.conn.SetWriteDeadline(deadline)

	if err := d.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		d.conn.Close()
		d.conn = nil
		return fmt.Errorf("gateway write: %w", err)
	}
	return nil
}

// Close stops the dial loop and closes the current connection
func (d *Direct) Close() error {
	d.cancel()

	d.mu.Lock()
	if d.conn != nil {
		d.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		d.conn.Close()
		d.conn = nil
	}
	d.mu.Unlock()

	d.wg.Wait()
	return nil
}
