package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"relay-service/internal/models"
	"relay-service/internal/outbox"
	"relay-service/internal/repositories"
)

// OutboxService is the outbox surface the HTTP layer depends on,
// implemented by *outbox.Service.
type OutboxService interface {
	Send(ctx context.Context, kind models.ConversationKind, targetID, body, attachmentRef string) (bool, models.QueuedMessage, error)
	Drain(ctx context.Context) outbox.DrainResult
	List(ctx context.Context) ([]models.QueuedMessage, error)
	ListDead(ctx context.Context) ([]models.QueuedMessage, error)
	Requeue(ctx context.Context, id string) (models.QueuedMessage, error)
	Clear(ctx context.Context) error
}

// OutboxHandler manages the send path and queue inspection endpoints.
type OutboxHandler struct {
	svc OutboxService
}

// NewOutboxHandler builds an OutboxHandler.
func NewOutboxHandler(svc OutboxService) *OutboxHandler {
	return &OutboxHandler{svc: svc}
}

// SendMessage accepts an outgoing message: delivered immediately while
// online, queued otherwise. Permanent backend rejections are surfaced to the
// caller instead of being queued.
func (h *OutboxHandler) SendMessage(c *gin.Context) {
	var req struct {
		Kind          models.ConversationKind `json:"kind" binding:"required"`
		TargetID      string                  `json:"target_id" binding:"required"`
		Body          string                  `json:"body" binding:"required"`
		AttachmentRef string                  `json:"attachment_ref"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Kind != models.KindDirect && req.Kind != models.KindGroup {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be direct or group"})
		return
	}

	delivered, msg, err := h.svc.Send(c.Request.Context(), req.Kind, req.TargetID, req.Body, req.AttachmentRef)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "message rejected", "detail": err.Error()})
		return
	}

	status := "queued"
	if delivered {
		status = "delivered"
	}
	c.JSON(http.StatusAccepted, gin.H{"status": status, "message": msg})
}

// ListOutbox returns every queued entry in enqueue order.
func (h *OutboxHandler) ListOutbox(c *gin.Context) {
	entries, err := h.svc.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load outbox"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// Drain triggers a drain pass immediately.
func (h *OutboxHandler) Drain(c *gin.Context) {
	result := h.svc.Drain(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// ClearOutbox discards all queued entries. Destructive, user-triggered.
func (h *OutboxHandler) ClearOutbox(c *gin.Context) {
	if err := h.svc.Clear(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear outbox"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// ListDead returns dead-lettered entries held for inspection.
func (h *OutboxHandler) ListDead(c *gin.Context) {
	entries, err := h.svc.ListDead(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load dead letters"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// RequeueDead returns a dead entry to the pending queue.
func (h *OutboxHandler) RequeueDead(c *gin.Context) {
	msg, err := h.svc.Requeue(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repositories.ErrEntryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "dead entry not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to requeue entry"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}
