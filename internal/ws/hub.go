package ws

import (
	"sync"

	"go.uber.org/zap"

	"messenger/internal/observability"
)

// Hub maps each user id to the set of that user's live connections. A user's
// room receives every event addressed to the user.
type Hub struct {
	rooms  map[string]map[*Client]struct{}
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		logger: logger.Named("hub"),
	}
}

// Join registers a client in its user's room and returns the number of
// connections the user now has.
func (h *Hub) Join(c *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.UserID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[c.UserID] = room
	}
	room[c] = struct{}{}
	return len(room)
}

// Leave removes a client and returns the number of connections the user has
// left. The second result is false when the client was not registered.
func (h *Hub) Leave(c *Client) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.UserID]
	if !ok {
		return 0, false
	}
	if _, ok := room[c]; !ok {
		return len(room), false
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.UserID)
		return 0, true
	}
	return len(room), true
}

// Emit sends an event to every connection of userID. Clients whose queue is
// full are closed.
func (h *Hub) Emit(userID, event string, payload any) {
	frame, err := encodeFrame(event, payload, 0)
	if err != nil {
		h.logger.Error("encode event failed", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[userID]))
	for c := range h.rooms[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.Send(frame) {
			h.kick(c, event)
		}
	}
}

func (h *Hub) kick(c *Client, event string) {
	select {
	case <-c.Done():
		return
	default:
	}
	h.logger.Warn("dropping slow client", zap.String("conn_id", c.ID), zap.String("user_id", c.UserID), zap.String("event", event))
	observability.IncWSDropped()
	c.Close()
}

// Connections returns the number of live connections of userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}

// Close closes every registered client.
func (h *Hub) Close() {
	h.mu.RLock()
	var clients []*Client
	for _, room := range h.rooms {
		for c := range room {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
}
