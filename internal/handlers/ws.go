package handlers

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/tonwerk/abschrift/internal/queue"
)

// refreshInterval matches the browser's polling cadence.
const refreshInterval = 2 * time.Second

// WSHandler pushes queue snapshots to the browser over a websocket, so the
// page refreshes on a fixed timer and immediately when a new error shows up.
type WSHandler struct {
	view *queue.View
}

// NewWSHandler creates a websocket queue handler.
func NewWSHandler(view *queue.View) *WSHandler {
	return &WSHandler{view: view}
}

// Handle streams queue snapshots until the client disconnects.
func (h *WSHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	userID := c.Params("user")
	log.Printf("WebSocket queue watch established for user %s", userID)

	// Drain client messages so pings and close frames are handled.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		rows, newErrors, err := h.view.List(context.Background(), userID)
		if err != nil {
			log.Printf("WebSocket: queue list for %s: %v", userID, err)
			return
		}
		payload := map[string]any{
			"files":      rows,
			"new_errors": newErrors,
		}
		if err := c.WriteJSON(payload); err != nil {
			log.Printf("WebSocket: write to %s: %v", userID, err)
			return
		}

		select {
		case <-closed:
			return
		case <-ticker.C:
		}
	}
}
