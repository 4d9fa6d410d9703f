package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/whytv-ai/whytv-backend/internal/data/runs"
	"github.com/whytv-ai/whytv-backend/internal/domain"
	"github.com/whytv-ai/whytv-backend/internal/http/response"
	"github.com/whytv-ai/whytv-backend/internal/services"
)

type AdminHandler struct {
	channels services.ChannelService
	runs     runs.Repo
}

// NewAdminHandler accepts a nil runs repo when the ledger is disabled.
func NewAdminHandler(channels services.ChannelService, ledger runs.Repo) *AdminHandler {
	return &AdminHandler{channels: channels, runs: ledger}
}

type retryRequest struct {
	Status string `json:"status" binding:"required"`
}

// POST /api/admin/channels/:id/retry
func (h *AdminHandler) RetryChannel(c *gin.Context) {
	var req retryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	ch, err := h.channels.Retry(c.Request.Context(), strings.TrimSpace(c.Param("id")), domain.Status(strings.TrimSpace(req.Status)))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"channel": ch})
}

// GET /api/admin/channels/:id/runs?limit=N
func (h *AdminHandler) ListRuns(c *gin.Context) {
	if h.runs == nil {
		response.RespondError(c, http.StatusNotFound, "ledger_disabled", errors.New("stage run ledger is not configured"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := h.runs.ListByChannel(c.Request.Context(), strings.TrimSpace(c.Param("id")), limit)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"runs": rows})
}
