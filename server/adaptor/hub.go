package adaptor

import (
	"log/slog"
	"sync"

	"github.com/wavehq/wavechat/server/domain"
)

const sendBuffer = 256

// client is one registered connection: its identity and a buffered send
// channel drained by the connection's write pump.
type client struct {
	id     string
	send   chan domain.StreamEvent
	reason domain.DisconnectReason

	mu     sync.Mutex
	closed bool
}

// enqueue is non-blocking: a consumer too slow to drain its buffer loses
// events instead of stalling the room.
func (c *client) enqueue(event domain.StreamEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

func (c *client) closeReason() domain.DisconnectReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *client) close(reason domain.DisconnectReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.reason = reason
	close(c.send)
}

// closeCurrent closes the send stream keeping whatever reason was last
// recorded, so a concurrent close with an explicit reason wins.
func (c *client) closeCurrent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Hub is the in-process fanout: connections, their room attachments, and
// room-addressed broadcast. It implements usecase.Broadcaster.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
	rooms   map[string]map[string]bool // roomID -> connection ids
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]bool),
	}
}

func (h *Hub) register(connectionID string) *client {
	cl := &client{
		id:     connectionID,
		send:   make(chan domain.StreamEvent, sendBuffer),
		reason: domain.DisconnectClient,
	}
	h.mu.Lock()
	h.clients[connectionID] = cl
	h.mu.Unlock()
	return cl
}

func (h *Hub) unregister(connectionID string) {
	h.mu.Lock()
	cl, ok := h.clients[connectionID]
	if ok {
		delete(h.clients, connectionID)
		for roomID, members := range h.rooms {
			delete(members, connectionID)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	h.mu.Unlock()
	if ok {
		cl.closeCurrent()
	}
}

func (h *Hub) AttachToRoom(connectionID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[connectionID]; !ok {
		return
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]bool)
	}
	h.rooms[roomID][connectionID] = true
}

func (h *Hub) DetachFromRoom(connectionID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

func (h *Hub) BroadcastToRoom(roomID string, event domain.StreamEvent) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.rooms[roomID]))
	for id := range h.rooms[roomID] {
		if cl, ok := h.clients[id]; ok {
			targets = append(targets, cl)
		}
	}
	h.mu.RUnlock()

	for _, cl := range targets {
		if !cl.enqueue(event) {
			h.logger.Warn("dropping event for slow consumer", "connectionId", cl.id, "event", event.Name)
		}
	}
}

func (h *Hub) SendToConnection(connectionID string, event domain.StreamEvent) {
	h.mu.RLock()
	cl, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if !cl.enqueue(event) {
		h.logger.Warn("dropping event for slow consumer", "connectionId", connectionID, "event", event.Name)
	}
}

// CloseConnection ends the connection's send stream with the given reason;
// the write pump sees the closed channel and tears the transport down.
func (h *Hub) CloseConnection(connectionID string, reason domain.DisconnectReason) {
	h.mu.RLock()
	cl, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	cl.close(reason)
}

func (h *Hub) IsConnected(connectionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[connectionID]
	return ok
}

// RoomSize reports how many connections are attached to the room.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
