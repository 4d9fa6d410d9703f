package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	version   string
	storeMode string
}

func NewHealthHandler(version, storeMode string) *HealthHandler {
	return &HealthHandler{version: version, storeMode: storeMode}
}

// HealthCheck answers the Cloud Run startup and liveness probes.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": h.version, "store": h.storeMode})
}
