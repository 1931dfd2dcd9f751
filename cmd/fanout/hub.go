package main

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/capstack/origination/common/logger"
)

// Hub maintains active WebSocket connections and broadcasts change events
type Hub struct {
	// Map: resume ID → []*Client
	connections map[uuid.UUID][]*Client
	mutex       sync.RWMutex

	// Channel for registering clients
	register chan *Client

	// Channel for unregistering clients
	unregister chan *Client

	// Channel for broadcasting messages
	broadcast chan *Message

	log *logger.Logger
}

// Message represents a change event to be broadcast to a resume's viewers
type Message struct {
	ResumeID uuid.UUID
	Actor    string
	Data     []byte
}

// NewHub creates a new Hub instance
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		log:         log,
	}
}

// Run starts the hub's main loop and exits once ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("hub started")

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToResume(message)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.connections[client.resumeID] = append(h.connections[client.resumeID], client)
	h.log.Info("client registered",
		"resume_id", client.resumeID,
		"actor", client.actor,
		"viewers", len(h.connections[client.resumeID]))
}

// unregisterClient removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients := h.connections[client.resumeID]
	for i, c := range clients {
		if c == client {
			// Remove client from slice
			h.connections[client.resumeID] = append(clients[:i], clients[i+1:]...)
			client.closeSend()

			// If no more viewers for this resume, remove the map entry
			if len(h.connections[client.resumeID]) == 0 {
				delete(h.connections, client.resumeID)
			}

			h.log.Info("client unregistered",
				"resume_id", client.resumeID,
				"actor", client.actor,
				"viewers", len(h.connections[client.resumeID]))
			break
		}
	}
}

// broadcastToResume sends a change event to every viewer of a resume except
// the actor who caused it. The author already holds the result of its own
// write; pushing the echo back would only trigger a pointless reload.
func (h *Hub) broadcastToResume(message *Message) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := h.connections[message.ResumeID]
	if len(clients) == 0 {
		// No viewers for this resume, skip
		return
	}

	for _, client := range clients {
		if client.closed.Load() {
			// Dropped earlier, still waiting on its pumps to unregister
			continue
		}
		if message.Actor != "" && client.actor == message.Actor {
			continue
		}
		select {
		case client.send <- message.Data:
			// Message sent successfully
		default:
			// Client's send buffer is full, close the connection
			h.log.Warn("client send buffer full, closing connection",
				"resume_id", client.resumeID,
				"actor", client.actor)
			client.closeSend()
		}
	}
}

// closeAll closes every client send channel during shutdown.
func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for resumeID, clients := range h.connections {
		for _, client := range clients {
			client.closeSend()
		}
		delete(h.connections, resumeID)
	}
}

// GetConnectionCount returns the total number of active connections
func (h *Hub) GetConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, clients := range h.connections {
		count += len(clients)
	}
	return count
}

// GetResumeCount returns the number of resumes with at least one viewer
func (h *Hub) GetResumeCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.connections)
}
