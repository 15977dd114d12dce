package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/turnordoficial-hash/turnord02/internal/feed"
)

// Subscription scopes what a client receives. An empty Code receives
// every change of the business.
type Subscription struct {
	BusinessID string
	Code       string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type SubscribeMessage struct {
	Action     string `json:"action"`
	BusinessID string `json:"business_id"`
	Code       string `json:"code"`
}

// Envelope is the message pushed to clients. It names the change and
// never carries customer details; clients reload what they render.
type Envelope struct {
	Type       string    `json:"type"`
	BusinessID string    `json:"business_id"`
	Code       string    `json:"code"`
	State      string    `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends payload to every client subscribed to the business.
// Clients tracking a single code still get every change, since any
// change in the line can move their estimate.
func (h *Hub) Broadcast(payload []byte, businessID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.Subscription.BusinessID == "" || client.Subscription.BusinessID != businessID {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.logger.Warn("drop message for client", "client_id", client.ID)
		}
	}
}

// Run relays the feed of one business to its clients until ctx is
// cancelled or the feed closes.
func (h *Hub) Run(ctx context.Context, source feed.Source, businessID string) error {
	events, err := source.Subscribe(ctx, businessID)
	if err != nil {
		return err
	}
	for event := range events {
		payload, err := json.Marshal(Envelope{
			Type:       event.Type,
			BusinessID: event.BusinessID,
			Code:       event.Ticket.Code,
			State:      event.Ticket.State,
			CreatedAt:  event.CreatedAt,
		})
		if err != nil {
			h.logger.Error("encode envelope", "event_id", event.ID, "error", err)
			continue
		}
		h.Broadcast(payload, event.BusinessID)
	}
	return nil
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
