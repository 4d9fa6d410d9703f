package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/whytv-ai/whytv-backend/internal/http/response"
	"github.com/whytv-ai/whytv-backend/internal/pipeline"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
	"github.com/whytv-ai/whytv-backend/internal/triggers"
)

const maxEventBytes = 8 << 20

// EventDeliverer is satisfied by *triggers.Ingress.
type EventDeliverer interface {
	Deliver(ctx context.Context, ev pipeline.Event) error
}

type EventHandler struct {
	log     *logger.Logger
	deliver EventDeliverer
}

func NewEventHandler(log *logger.Logger, deliver EventDeliverer) *EventHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &EventHandler{log: log.With("handler", "EventHandler"), deliver: deliver}
}

// POST /events/firestore
//
// Any non-2xx response makes the trigger platform redeliver, so only stage failures answer
// 500. Malformed envelopes answer 400 and unsupported documents 204.
func (h *EventHandler) Firestore(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBytes+1))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if len(body) > maxEventBytes {
		response.RespondError(c, http.StatusRequestEntityTooLarge, "event_too_large", errors.New("event body too large"))
		return
	}

	ev, err := triggers.ParseFirestoreEvent(c.Request.Header, body)
	if errors.Is(err, triggers.ErrIgnored) {
		h.log.Debug("Event ignored", "ce_id", c.GetHeader("Ce-Id"), "reason", err.Error())
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		h.log.Warn("Malformed event", "ce_id", c.GetHeader("Ce-Id"), "error", err)
		response.RespondError(c, http.StatusBadRequest, "invalid_event", err)
		return
	}

	if err := h.deliver.Deliver(c.Request.Context(), ev); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "stage_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}
