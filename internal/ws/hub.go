package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/clinicore/queue-api/internal/model"
	"github.com/clinicore/queue-api/internal/service/event"
	"github.com/clinicore/queue-api/pkg/logger"
	"github.com/clinicore/queue-api/pkg/messaging"
	"github.com/clinicore/queue-api/pkg/metrics"
)

// Hub groups connected subscribers into rooms (one per doctor plus the
// shared display room) and fans committed queue events out to them. It holds
// no queue state: reconnecting clients must refresh via the REST snapshot
// before trusting pushes.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]bool
	logger  *logger.Logger
	metrics *metrics.Metrics
}

type SubscribeMessage struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

func NewHub(logger *logger.Logger, metrics *metrics.Metrics) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Client]bool),
		logger:  logger,
		metrics: metrics,
	}
}

// Run consumes the broker channel and broadcasts each event to its rooms.
// Blocks until ctx is cancelled or the subscription closes.
func (h *Hub) Run(ctx context.Context, broker messaging.Broker) error {
	msgs, err := broker.Subscribe(ctx, event.Channel)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return nil
			}
			var evt model.QueueEvent
			if err := json.Unmarshal(payload, &evt); err != nil {
				h.logger.Error(err, "failed to decode queue event")
				continue
			}
			h.Broadcast(evt.Rooms, payload)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range client.rooms {
		h.join(room, client)
	}
	h.metrics.ConnectedClients.Inc()
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range client.rooms {
		h.leave(room, client)
	}
	select {
	case <-client.done:
	default:
		close(client.done)
	}
	h.metrics.ConnectedClients.Dec()
}

func (h *Hub) Join(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.rooms[room] = true
	h.join(room, client)
}

func (h *Hub) Leave(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(client.rooms, room)
	h.leave(room, client)
}

// Broadcast delivers payload to every subscriber of the given rooms, at most
// once per client even when it sits in several of them. A subscriber that
// cannot keep up has the message dropped rather than blocking the fan-out.
func (h *Hub) Broadcast(rooms []string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := make(map[*Client]bool)
	for _, room := range rooms {
		for client := range h.rooms[room] {
			if delivered[client] {
				continue
			}
			delivered[client] = true
			select {
			case client.send <- payload:
			default:
				h.metrics.DroppedMessages.Inc()
				h.logger.Warn("dropping message for slow subscriber", "room", room)
			}
		}
	}
}

func (h *Hub) join(room string, client *Client) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][client] = true
}

func (h *Hub) leave(room string, client *Client) {
	if subscribers, ok := h.rooms[room]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.rooms, room)
		}
	}
}

// RoomCount reports the current number of subscribers in a room.
func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
