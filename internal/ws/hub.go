package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"relay-service/internal/models"
	"relay-service/internal/observability"
)

// surface is one connected client surface. writeMu serializes writes to the
// connection: drain lanes, the badge poll and the attach-time push all fan
// out concurrently, and gorilla/websocket allows a single writer per conn.
type surface struct {
	info    ConnInfo
	writeMu sync.Mutex
}

func (s *surface) write(conn *websocket.Conn, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub maintains the connected client surfaces (tabs, devices) of the local
// session and fans badge and outbox events out to all of them, so every
// surface renders the same state without polling independently.
type Hub struct {
	clients map[*websocket.Conn]*surface
	mu      sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]*surface)}
}

// AddClient registers a connected surface.
func (h *Hub) AddClient(conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = &surface{info: info}
}

// RemoveClient removes a surface.
func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// ClientCount reports the number of connected surfaces.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Push sends an event to a single surface, serialized with broadcasts.
func (h *Hub) Push(conn *websocket.Conn, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	s, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.write(conn, payload)
}

// BroadcastBadge sends a badge update to every surface.
func (h *Hub) BroadcastBadge(counts models.BadgeCounts) {
	h.broadcast(models.BadgeEvent{Type: "badge", Counts: counts})
}

// BroadcastOutbox sends an outbox lifecycle event to every surface.
func (h *Hub) BroadcastOutbox(ev models.OutboxEvent) {
	h.broadcast(ev)
}

func (h *Hub) broadcast(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("hub event marshal failed")
		return
	}

	type target struct {
		conn *websocket.Conn
		s    *surface
	}
	h.mu.RLock()
	targets := make([]target, 0, len(h.clients))
	for conn, s := range h.clients {
		targets = append(targets, target{conn: conn, s: s})
	}
	h.mu.RUnlock()

	for _, t := range targets {
		if err := t.s.write(t.conn, payload); err != nil {
			log.Warn().Err(err).Msg("websocket write error")
			t.conn.Close()
			h.publishWSError(t.conn, err)
			h.RemoveClient(t.conn)
		}
	}
}

func (h *Hub) publishWSError(conn *websocket.Conn, err error) {
	h.mu.RLock()
	s, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}
	info := s.info

	payload := map[string]any{
		"ws": map[string]any{
			"event":       "ws_error",
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]any{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.surfaces", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent("ws_error")
}
