package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/whytv-ai/whytv-backend/internal/http/response"
	"github.com/whytv-ai/whytv-backend/internal/services"
)

type ChannelHandler struct {
	channels services.ChannelService
}

func NewChannelHandler(channels services.ChannelService) *ChannelHandler {
	return &ChannelHandler{channels: channels}
}

// POST /api/channels
func (h *ChannelHandler) CreateChannel(c *gin.Context) {
	var in services.CreateChannelInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	ch, err := h.channels.Create(c.Request.Context(), in)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"channel": ch})
}

// GET /api/channels/:id
func (h *ChannelHandler) GetChannel(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	view, err := h.channels.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, view)
}
