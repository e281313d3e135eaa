package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/deckforge/api/internal/model"
)

// Client represents a WebSocket client
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte

	// set by the hub, under its mutex, when Send is closed
	dropped bool
}

// Hub fans job checkpoints out to the sockets watching each job.
// It satisfies pipeline.Notifier.
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	mu     sync.RWMutex
	logger *slog.Logger
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		logger:     slog.Default().With("component", "ws_hub"),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "job_id", client.JobID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "job_id", client.JobID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.JobID] {
				select {
				case client.Send <- msg.Message:
				default:
					// slow consumer
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop must be called with mu held.
func (h *Hub) drop(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	client.dropped = true
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.JobID)
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Reply queues a message for one client without blocking. It reports false
// when the client's buffer is full or the hub has already dropped it.
func (h *Hub) Reply(client *Client, data []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.dropped {
		return false
	}
	select {
	case client.Send <- data:
		return true
	default:
		return false
	}
}

// Subscribers returns how many sockets watch a job
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

func progressMessage(job *model.Job) model.WSProgressMessage {
	return model.WSProgressMessage{
		Type:            model.WSMessageTypeProgress,
		JobID:           job.ID,
		Status:          job.Status,
		ProgressPercent: job.ProgressPercent,
		UnitsCompleted:  job.UnitsCompleted,
		TotalUnits:      job.TotalUnits,
		CurrentStep:     job.CurrentStep,
	}
}

// JobProgress broadcasts a progress checkpoint
func (h *Hub) JobProgress(job *model.Job) {
	h.send(job.ID, progressMessage(job))
}

// JobCompleted broadcasts the finished read model
func (h *Hub) JobCompleted(job *model.Job) {
	h.send(job.ID, model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		JobID:  job.ID,
		Result: job.StatusView(),
	})
}

// JobFailed broadcasts a failed or canceled job
func (h *Hub) JobFailed(job *model.Job) {
	code := "JOB_FAILED"
	if job.Status == model.JobStatusCanceled {
		code = "JOB_CANCELED"
	}
	message := ""
	if job.ErrorMessage != nil {
		message = *job.ErrorMessage
	}
	h.send(job.ID, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: job.ID,
		Error: model.WSError{Code: code, Message: message},
	})
}

func (h *Hub) send(jobID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal ws message", "job_id", jobID, "error", err)
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{JobID: jobID, Message: data}:
	default:
		h.logger.Warn("ws broadcast queue full, dropping message", "job_id", jobID)
	}
}

// HandleConnection serves one socket. The current job state is sent first
// so late subscribers do not wait for the next checkpoint.
func (h *Hub) HandleConnection(c *websocket.Conn, job *model.Job) {
	client := &Client{
		JobID: job.ID,
		Conn:  c,
		Send:  make(chan []byte, 256),
	}

	// Queued before registering: the hub cannot have closed Send yet.
	if initial, err := json.Marshal(progressMessage(job)); err == nil {
		client.Send <- initial
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					// Dropped by the hub; closing the conn ends the reader loop.
					c.WriteMessage(websocket.CloseMessage, []byte{})
					c.Close()
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket error", "job_id", job.ID, "error", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			if !h.Reply(client, data) {
				break
			}
		}
	}
}
