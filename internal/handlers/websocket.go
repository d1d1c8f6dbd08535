// -----------------------------------------------------------------------
// WebSocket Handler
// Streams engine events (job lifecycle, tool-loop progress) to clients
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// wsClient is one connected subscriber. An empty jobID receives all
// events; otherwise only events for that job are forwarded.
type wsClient struct {
	conn  *websocket.Conn
	jobID string
	mu    sync.Mutex
}

type WebSocketHandler struct {
	logger  arbor.ILogger
	events  interfaces.EventService
	clients map[*wsClient]bool
	mu      sync.RWMutex
}

// streamedEvents lists the event types forwarded to WebSocket clients.
var streamedEvents = []interfaces.EventType{
	interfaces.EventJobStarted,
	interfaces.EventJobCompleted,
	interfaces.EventJobFailed,
	interfaces.EventStepStarted,
	interfaces.EventStepCompleted,
	interfaces.EventLoopLog,
	interfaces.EventLoopActionCall,
	interfaces.EventLoopActionExecuted,
	interfaces.EventLoopScreenshot,
	interfaces.EventLoopSafetyCheck,
	interfaces.EventLoopComplete,
}

func NewWebSocketHandler(events interfaces.EventService, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:  logger,
		events:  events,
		clients: make(map[*wsClient]bool),
	}

	for _, eventType := range streamedEvents {
		if err := events.Subscribe(eventType, h.broadcast); err != nil {
			logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to subscribe WebSocket bridge")
		}
	}

	return h
}

// HandleWebSocket upgrades the connection and registers the client. An
// optional job_id query parameter scopes the stream to one job.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &wsClient{
		conn:  conn,
		jobID: r.URL.Query().Get("job_id"),
	}

	h.mu.Lock()
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().
		Str("remote", r.RemoteAddr).
		Str("job_id", client.jobID).
		Int("clients", clientCount).
		Msg("WebSocket client connected")

	// Read loop: clients send nothing meaningful, but the read pump is
	// needed to detect disconnects and answer control frames.
	go func() {
		defer h.removeClient(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// broadcast forwards one engine event to every matching client.
func (h *WebSocketHandler) broadcast(ctx context.Context, event interfaces.Event) error {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		if client.jobID == "" || client.jobID == event.JobID {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.mu.Lock()
		err := client.conn.WriteJSON(event)
		client.mu.Unlock()
		if err != nil {
			h.removeClient(client)
		}
	}
	return nil
}

func (h *WebSocketHandler) removeClient(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.conn.Close()
	}
	h.mu.Unlock()
}

// Close disconnects all clients.
func (h *WebSocketHandler) Close() {
	h.mu.Lock()
	for client := range h.clients {
		client.conn.Close()
		delete(h.clients, client)
	}
	h.mu.Unlock()
}
