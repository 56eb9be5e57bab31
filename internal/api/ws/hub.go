package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jlahut/chirp/internal/models"
	"github.com/jlahut/chirp/internal/observability"
	"github.com/jlahut/chirp/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// Client represents a connected WebSocket client. jobID is guarded by the
// hub mutex; readPump may replace it while the hub loop is filtering.
type Client struct {
	conn  *websocket.Conn
	send  chan []byte
	jobID string // optional filter
}

// Hub maintains active WebSocket clients and broadcasts job progress.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub event loop. Call this in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			filter := client.jobID
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "filter", filter)

		case client := <-h.unregister:
			h.mu.Lock()
			// A client evicted on a full buffer already left the map and
			// was counted then; only an actual removal moves the gauge.
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				observability.WSConnections.Dec()
			}
			h.mu.Unlock()
			slog.Debug("ws client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				// If client follows a single job, check the filter
				if client.jobID != "" {
					var progress models.JobProgress
					if err := json.Unmarshal(message, &progress); err == nil {
						if progress.JobID.String() != client.jobID {
							continue
						}
					}
				}

				select {
				case client.send <- message:
				default:
					// Client buffer full, disconnect
					h.mu.RUnlock()
					h.mu.Lock()
					delete(h.clients, client)
					close(client.send)
					observability.WSConnections.Dec()
					h.mu.Unlock()
					h.mu.RLock()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastProgress sends a job progress event to all connected clients.
func (h *Hub) BroadcastProgress(progress *models.JobProgress) {
	data, err := json.Marshal(progress)
	if err != nil {
		slog.Error("marshal ws progress", "error", err)
		return
	}
	h.broadcast <- data
}

// BroadcastRaw forwards an already-serialized progress payload, e.g.
// straight off the events stream.
func (h *Hub) BroadcastRaw(data []byte) {
	h.broadcast <- data
}

// HandleWS handles WebSocket upgrade requests.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	jobFilter := c.Query("job_id")

	client := &Client{
		conn:  conn,
		send:  make(chan []byte, 64),
		jobID: jobFilter,
	}

	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(h, data)
	}
}

// handleMessage applies a client frame. Subscribe requests replace the job
// filter set at connect time; anything else is ignored.
func (c *Client) handleMessage(h *Hub, data []byte) {
	var msg dto.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "subscribe" {
		return
	}
	var sub dto.SubscribeRequest
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		slog.Debug("ws bad subscribe payload", "error", err)
		return
	}
	h.mu.Lock()
	c.jobID = sub.JobID
	h.mu.Unlock()
	slog.Debug("ws client resubscribed", "filter", sub.JobID)
}
