package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labtasker/labtasker/internal/platform/logger"
	"github.com/labtasker/labtasker/internal/shared/events"
	"github.com/labtasker/labtasker/internal/taskqueue/app/service"
)

var _ service.EventSink = (*Hub)(nil)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 30 * time.Second
	sendBuffer  = 256
	eventBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one WebSocket subscriber bound to its authenticated queue
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	queueID string
	send    chan []byte
}

// Hub fans lifecycle events out to WebSocket subscribers, scoped per
// queue so tenants never see each other's events. The subscriber maps
// are owned by the Run goroutine; everything else talks to it over
// channels.
type Hub struct {
	byQueue    map[string]map[*Client]bool
	events     chan *events.Event
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	done       chan struct{}
	logger     logger.Logger
}

// NewHub creates a hub. Call Run in a goroutine before serving.
func NewHub(log logger.Logger) *Hub {
	return &Hub{
		byQueue:    make(map[string]map[*Client]bool),
		events:     make(chan *events.Event, eventBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     log,
	}
}

// Publish hands an event to the fan-out loop. Delivery is best effort:
// when the buffer is full the event is dropped so slow subscribers can
// never stall the operation that produced it.
func (h *Hub) Publish(ctx context.Context, evt *events.Event) error {
	select {
	case h.events <- evt:
	default:
		h.logger.Warn("event buffer full, dropping event", "type", evt.Type, "queue_id", evt.QueueID)
	}
	return nil
}

// Run processes registrations and events until Close is called
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			clients, ok := h.byQueue[client.queueID]
			if !ok {
				clients = make(map[*Client]bool)
				h.byQueue[client.queueID] = clients
			}
			clients[client] = true

		case client := <-h.unregister:
			h.drop(client)

		case evt := <-h.events:
			h.fanOut(evt)

		case <-h.stop:
			for _, clients := range h.byQueue {
				for client := range clients {
					close(client.send)
				}
			}
			return
		}
	}
}

// Close stops the fan-out loop and disconnects all subscribers
func (h *Hub) Close() {
	close(h.stop)
	<-h.done
}

func (h *Hub) fanOut(evt *events.Event) {
	clients, ok := h.byQueue[evt.QueueID]
	if !ok {
		return
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to encode event", "error", err, "type", evt.Type)
		return
	}

	for client := range clients {
		select {
		case client.send <- payload:
		default:
			h.drop(client)
		}
	}
}

func (h *Hub) drop(client *Client) {
	clients, ok := h.byQueue[client.queueID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}

	delete(clients, client)
	if len(clients) == 0 {
		delete(h.byQueue, client.queueID)
	}
	close(client.send)
}

// readPump drains the connection so control frames are processed and
// disconnects are noticed. The event stream is one way; inbound frames
// are discarded.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
