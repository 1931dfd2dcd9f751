package main

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/capstack/origination/common/logger"
	"github.com/capstack/origination/common/notify"
	"github.com/capstack/origination/common/redis"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The UI and the API run on different origins in every deployment
		return true
	},
}

// Server handles WebSocket upgrades for resume viewers
type Server struct {
	hub   *Hub
	redis *redis.Client
	log   *logger.Logger
}

// NewServer creates a new Server instance
func NewServer(hub *Hub, redisClient *redis.Client, log *logger.Logger) *Server {
	return &Server{
		hub:   hub,
		redis: redisClient,
		log:   log,
	}
}

// HandleWebSocket handles WebSocket upgrade and registration
// URL: /ws?resume_id=<uuid>&actor_id=analyst-7
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	resumeID, err := uuid.Parse(r.URL.Query().Get("resume_id"))
	if err != nil {
		http.Error(w, "resume_id query parameter must be a valid UUID", http.StatusBadRequest)
		return
	}

	// actor_id is optional; without it the viewer also receives echoes of
	// its own writes and has to filter them itself.
	actor := r.URL.Query().Get("actor_id")

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	// Create client
	client := NewClient(s.hub, conn, resumeID, actor, s.log)

	// Queue a replay of the most recent event, if one is cached, so a viewer
	// who connects just after a write still learns about it. This happens
	// before registration, while the send channel is exclusively ours.
	s.replayLastEvent(r, client)

	// Register client with hub
	s.hub.register <- client

	s.log.Info("new websocket connection",
		"resume_id", resumeID,
		"actor", actor,
		"remote", r.RemoteAddr)

	// Start client goroutines
	go client.writePump()
	go client.readPump()
}

func (s *Server) replayLastEvent(r *http.Request, client *Client) {
	payload, err := s.redis.Get(r.Context(), lastEventKey(client.resumeID))
	if err != nil || payload == "" {
		return
	}

	// The same rule as live broadcast: never hand a viewer its own write.
	var event notify.Event
	if err := json.Unmarshal([]byte(payload), &event); err == nil &&
		event.Actor != "" && event.Actor == client.actor {
		return
	}

	client.send <- []byte(payload)
}

// HandleStats reports connection counts
// GET /api/stats
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"connections": s.hub.GetConnectionCount(),
		"resumes":     s.hub.GetResumeCount(),
	})
}
