package websocket

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/mtr002/compute-queue/internal/broker"
	"github.com/mtr002/compute-queue/internal/events"
	"github.com/mtr002/compute-queue/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// PublishTokenHeader carries the shared publisher secret on /ws/publish
const PublishTokenHeader = "X-Gateway-Token"

// HandleWebSocket upgrades a read-only subscriber connection
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request) {
	serve(hub, w, r, false)
}

// HandlePublish upgrades a producer connection whose event frames are relayed
// to every subscriber. A non-empty token must match PublishTokenHeader.
func HandlePublish(hub *Hub, token string, w http.ResponseWriter, r *http.Request) {
	if token != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(PublishTokenHeader)), []byte(token)) != 1 {
		logger.Logger.Warn().Str("remote", r.RemoteAddr).Msg("Rejected gateway publisher with bad token")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	serve(hub, w, r, true)
}

func serve(hub *Hub, w http.ResponseWriter, r *http.Request, relay bool) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		relay: relay,
	}

	if !hub.addClient(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// Handler returns an http.Handler that upgrades subscribers onto hub
func Handler(hub *Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleWebSocket(hub, w, r)
	})
}

// PublishHandler returns an http.Handler for direct event publishers
func PublishHandler(hub *Hub, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandlePublish(hub, token, w, r)
	})
}

// RelayBroker subscribes to channel and re-broadcasts every valid event to the
// hub's clients. The subscription is retried a few times with exponential
// backoff; the gateway keeps serving direct publishers if it never succeeds.
func RelayBroker(ctx context.Context, hub *Hub, b broker.Broker, channel string) (broker.Subscription, error) {
	handler := func(payload []byte) {
		if _, err := events.Decode(payload); err != nil {
			logger.Logger.Warn().Err(err).Msg("Discarding malformed broker message")
			return
		}
		hub.Broadcast(payload)
	}

	backoff := retry.WithMaxRetries(5, retry.WithCappedDuration(5*time.Second, retry.NewExponential(500*time.Millisecond)))

	var sub broker.Subscription
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		s, err := b.Subscribe(ctx, channel, handler)
		if err != nil {
			logger.Logger.Warn().Err(err).Str("channel", channel).Msg("Broker subscribe failed, retrying")
			return retry.RetryableError(err)
		}
		sub = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Logger.Info().Str("channel", channel).Msg("Relaying broker events to gateway clients")
	return sub, nil
}
