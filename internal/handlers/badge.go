package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"relay-service/internal/models"
)

// BadgeReconciler is the badge surface the HTTP layer depends on,
// implemented by *badge.Reconciler.
type BadgeReconciler interface {
	Current() models.BadgeCounts
	Refresh(ctx context.Context)
	Clear(ctx context.Context)
}

// BadgeHandler exposes the unread badge value.
type BadgeHandler struct {
	rec BadgeReconciler
}

// NewBadgeHandler builds a BadgeHandler.
func NewBadgeHandler(rec BadgeReconciler) *BadgeHandler {
	return &BadgeHandler{rec: rec}
}

// GetBadge returns the last-known badge counts.
func (h *BadgeHandler) GetBadge(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"counts": h.rec.Current()})
}

// RefreshBadge polls the backend once and returns the resulting counts.
func (h *BadgeHandler) RefreshBadge(c *gin.Context) {
	h.rec.Refresh(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"counts": h.rec.Current()})
}

// ClearBadge marks everything read and zeroes the badge on all surfaces.
func (h *BadgeHandler) ClearBadge(c *gin.Context) {
	h.rec.Clear(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"counts": h.rec.Current()})
}
