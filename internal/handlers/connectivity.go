package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ConnectivityMonitor is implemented by *connectivity.Monitor.
type ConnectivityMonitor interface {
	Online() bool
	SetOverride(online *bool)
}

// ConnectivityHandler exposes the connectivity state and an ops override.
type ConnectivityHandler struct {
	monitor ConnectivityMonitor
}

// NewConnectivityHandler builds a ConnectivityHandler.
func NewConnectivityHandler(monitor ConnectivityMonitor) *ConnectivityHandler {
	return &ConnectivityHandler{monitor: monitor}
}

// GetStatus reports the current connectivity state.
func (h *ConnectivityHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online": h.monitor.Online()})
}

// SetOverride pins connectivity for testing; {"online": null} resumes probing.
func (h *ConnectivityHandler) SetOverride(c *gin.Context) {
	var req struct {
		Online *bool `json:"online"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.monitor.SetOverride(req.Online)
	c.JSON(http.StatusOK, gin.H{"online": h.monitor.Online()})
}
