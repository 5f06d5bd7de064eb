package websocket

import (
	"context"
	"errors"
	"sync"

	"github.com/mtr002/compute-queue/internal/events"
	"github.com/mtr002/compute-queue/internal/logger"
	"github.com/mtr002/compute-queue/internal/metrics"
)

// ErrHubStopped is returned by Send once Run has exited
var ErrHubStopped = errors.New("gateway hub stopped")

// Hub is the notification gateway's set of live client connections. All set
// mutations happen on the Run goroutine.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu    sync.RWMutex
	count int

	done chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is cancelled, then closes every client
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.remove(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.setCount()
			logger.Logger.Debug().Int("clients", len(h.clients)).Msg("Gateway client connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.remove(client)
				logger.Logger.Debug().Int("clients", len(h.clients)).Msg("Gateway client disconnected")
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// slow or dead client
					h.remove(client)
					logger.Logger.Warn().Msg("Dropping gateway client with full send buffer")
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
	metrics.GatewayClients.Set(float64(len(h.clients)))
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Broadcast queues a raw message for every connected client. Messages are
// dropped once the hub has stopped.
func (h *Hub) Broadcast(message []byte) {
	h.enqueue(message)
}

func (h *Hub) enqueue(message []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.broadcast <- message:
		return true
	case <-h.done:
		return false
	}
}

// BroadcastEvent encodes e and queues it for every connected client
func (h *Hub) BroadcastEvent(e *events.Event) {
	message, err := events.Encode(e)
	if err != nil {
		logger.Logger.Error().Err(err).Str("job_id", e.JobID).Msg("Failed to encode event")
		return
	}
	h.Broadcast(message)
}

// Send queues an already encoded event. It lets a worker in the same process
// use the hub as its direct delivery path.
func (h *Hub) Send(_ context.Context, payload []byte) error {
	if !h.enqueue(payload) {
		return ErrHubStopped
	}
	return nil
}

func (h *Hub) addClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) removeClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
