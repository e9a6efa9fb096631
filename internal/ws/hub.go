package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"whatsapp-crm/internal/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Event types pushed to dashboards.
const (
	EventSequenceSent         = "sequence_sent"
	EventSequenceStageChanged = "sequence_stage_changed"
	EventSequenceFailed       = "sequence_failed"
	EventNewMessage           = "new_message"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a connected WebSocket client
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of active clients and broadcasts events to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
	log        logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run serves registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("WebSocket client registered")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Debug("WebSocket client unregistered")
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount reports how many dashboards are connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

type WSEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// BroadcastEvent queues an event for every client. Events are dropped when
// the queue is full so senders never block on slow dashboards.
func (h *Hub) BroadcastEvent(eventType string, data interface{}) {
	payload, err := json.Marshal(WSEvent{Type: eventType, Data: data})
	if err != nil {
		h.log.WithError(err).Error("Error marshaling WS event")
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.log.WithField("type", eventType).Warn("WS broadcast queue full, event dropped")
	}
}

func (h *Hub) NotifyMessage(msg models.Message) {
	h.BroadcastEvent(EventNewMessage, msg)
}

func (h *Hub) NotifySequenceSent(contact *models.Contact, msg *models.Message) {
	h.BroadcastEvent(EventSequenceSent, fields{
		"contact_id":    contact.ID,
		"sequence_id":   contact.SequenceID,
		"step_position": msg.SequenceMessageID,
		"wa_message_id": msg.WaMessageID,
		"timestamp":     msg.Timestamp,
	})
}

func (h *Hub) NotifyStageChanged(contact *models.Contact, step int, stage string) {
	h.BroadcastEvent(EventSequenceStageChanged, fields{
		"contact_id":    contact.ID,
		"sequence_id":   contact.SequenceID,
		"step_position": step,
		"stage":         stage,
	})
}

func (h *Hub) NotifySequenceFailed(contact *models.Contact, step int, reason string) {
	h.BroadcastEvent(EventSequenceFailed, fields{
		"contact_id":    contact.ID,
		"sequence_id":   contact.SequenceID,
		"step_position": step,
		"error":         reason,
	})
}

type fields map[string]interface{}

func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade error")
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	for {
		// clients only send pings
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
