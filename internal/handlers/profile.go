package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"relay-service/internal/models"
)

// ProfileResolver is implemented by *profiles.Service.
type ProfileResolver interface {
	Lookup(ctx context.Context, userID string) (models.Profile, error)
}

// ProfileHandler serves cached recipient profiles.
type ProfileHandler struct {
	profiles ProfileResolver
}

// NewProfileHandler builds a ProfileHandler.
func NewProfileHandler(profiles ProfileResolver) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// GetProfile resolves one profile through the cache.
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	profile, err := h.profiles.Lookup(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile})
}
