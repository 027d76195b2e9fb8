package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/labtasker/labtasker/internal/platform/logger"
)

// EventsHandler upgrades authenticated requests to the event stream
type EventsHandler struct {
	hub    *Hub
	logger logger.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(hub *Hub, logger logger.Logger) *EventsHandler {
	return &EventsHandler{
		hub:    hub,
		logger: logger,
	}
}

// RegisterRoutes registers the event stream route
func (h *EventsHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/events", h.Subscribe).Methods("GET")
}

// Subscribe upgrades the connection and binds it to the caller's queue.
// Every lifecycle event for that queue is delivered as one JSON text
// frame until the client disconnects.
func (h *EventsHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	authed, ok := authedQueue(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with the handshake error.
		h.logger.Warn("websocket upgrade failed", "error", err, "queue_id", authed.ID)
		return
	}

	client := &Client{
		hub:     h.hub,
		conn:    conn,
		queueID: authed.ID,
		send:    make(chan []byte, sendBuffer),
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.stop:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()

	// The greeting doubles as a registration barrier: once a client has
	// read it, events published afterwards are guaranteed to reach it.
	if frame, err := json.Marshal(map[string]string{"type": "connected", "queue_id": authed.ID}); err == nil {
		client.send <- frame
	}
}
