package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"relay-service/internal/backend"
	"relay-service/internal/models"
	"relay-service/internal/observability"
)

// SurfaceHandler upgrades client surfaces (tabs, devices) onto the hub.
type SurfaceHandler struct {
	hub    *Hub
	client backend.Client
	badge  func() models.BadgeCounts // current value pushed on attach
}

// NewSurfaceHandler constructs a SurfaceHandler. badge may be nil.
func NewSurfaceHandler(hub *Hub, client backend.Client, badge func() models.BadgeCounts) *SurfaceHandler {
	return &SurfaceHandler{hub: hub, client: client, badge: badge}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers the surface.
func (h *SurfaceHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("relay-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
	}
	userID, err := h.validateToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(conn, info)
	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")

	// New surfaces converge immediately instead of waiting for the next poll.
	if h.badge != nil {
		payload := models.BadgeEvent{Type: "badge", Counts: h.badge()}
		_ = h.hub.Push(conn, payload)
	}

	go func() {
		defer func() {
			h.hub.RemoveClient(conn)
			observability.DecWSActive()
			observability.IncWSEvent("ws_disconnect")
			conn.Close()
		}()
		for {
			// Surfaces only listen; reads exist to detect the close.
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *SurfaceHandler) validateToken(ctx context.Context, header string) (string, error) {
	token := header
	if len(token) > 7 && (token[:7] == "Bearer " || token[:7] == "bearer ") {
		token = token[7:]
	}
	return h.client.VerifyToken(ctx, token)
}
