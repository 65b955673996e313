package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/abrezinsky/eventxp/internal/logger"
	"github.com/abrezinsky/eventxp/internal/models"
	"github.com/abrezinsky/eventxp/internal/services"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced by the router
	},
}

// outbound is a message plus the event it concerns
type outbound struct {
	eventID string
	msg     models.WSMessage
}

// Hub maintains the set of active clients and broadcasts event changes to them
type Hub struct {
	log        logger.Logger
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
}

// Client is a middleman between the websocket connection and the hub.
// A client with an eventID only receives messages about that event.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan models.WSMessage
	eventID string
}

// New creates a new Hub instance
func New(log logger.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Start begins the hub's main loop in a goroutine. The loop stops with ctx.
func (h *Hub) Start(ctx context.Context) {
	go h.run(ctx)
}

// run handles client registration/unregistration and message broadcasting
func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			close(h.done)
			h.log.Info("WebSocket hub stopped")
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.log.Debug("Client connected", "total_clients", total, "event_id", client.eventID)

			client.send <- models.WSMessage{
				Type:    "connected",
				Payload: map[string]string{"eventId": client.eventID},
			}

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.log.Debug("Client disconnected", "total_clients", total)

		case out := <-h.broadcast:
			h.mutex.RLock()
			for client := range h.clients {
				if client.eventID != "" && client.eventID != out.eventID {
					continue
				}
				select {
				case client.send <- out.msg:
				default:
					// Client's send channel is full, unregister
					go func(c *Client) {
						select {
						case h.unregister <- c:
						case <-h.done:
						}
					}(client)
				}
			}
			h.mutex.RUnlock()
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// BroadcastMessage queues a message for every client watching eventID.
// It gives up when ctx ends.
func (h *Hub) BroadcastMessage(ctx context.Context, eventID, msgType string, payload interface{}) error {
	select {
	case h.broadcast <- outbound{eventID: eventID, msg: models.WSMessage{Type: msgType, Payload: payload}}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify implements services.Notifier
func (h *Hub) Notify(ctx context.Context, n services.Notification) error {
	return h.BroadcastMessage(ctx, n.EventID, n.Type, n)
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("WebSocket error", "error", err)
			}
			break
		}

		var msg models.WSMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			c.hub.log.Debug("Received message", "type", msg.Type)
		}
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs handles websocket requests from clients. The optional "event"
// query parameter limits the stream to one event.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("WebSocket upgrade error", "error", err)
		return
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan models.WSMessage, sendBuffer),
		eventID: r.URL.Query().Get("event"),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

var _ services.Notifier = (*Hub)(nil)
