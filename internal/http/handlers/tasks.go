package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/whytv-ai/whytv-backend/internal/http/response"
	"github.com/whytv-ai/whytv-backend/internal/pipeline/stages"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
	"github.com/whytv-ai/whytv-backend/internal/triggers"
)

type Sweeper interface {
	Sweep(ctx context.Context) (stages.SweepResult, error)
}

// RunPruner is satisfied by runs.Repo.
type RunPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type TaskHandler struct {
	log       *logger.Logger
	sweeper   Sweeper
	retry     triggers.RetryPolicy
	pruner    RunPruner
	retention time.Duration
}

// NewTaskHandler prunes ledger rows older than retention after each sweep when pruner is set.
func NewTaskHandler(log *logger.Logger, sweeper Sweeper, retry triggers.RetryPolicy, pruner RunPruner, retention time.Duration) *TaskHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &TaskHandler{
		log:       log.With("handler", "TaskHandler"),
		sweeper:   sweeper,
		retry:     retry,
		pruner:    pruner,
		retention: retention,
	}
}

// POST /tasks/cleanup
func (h *TaskHandler) Cleanup(c *gin.Context) {
	ctx := c.Request.Context()
	var res stages.SweepResult
	err := triggers.Retry(ctx, h.retry, func(ctx context.Context) error {
		var err error
		res, err = h.sweeper.Sweep(ctx)
		return err
	})
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "cleanup_failed", err)
		return
	}

	out := gin.H{"scanned": res.Scanned, "deleted": res.Deleted}
	if h.pruner != nil && h.retention > 0 {
		n, err := h.pruner.Prune(ctx, time.Now().Add(-h.retention))
		if err != nil {
			h.log.Warn("Stage run prune failed", "error", err)
		} else {
			out["runsPruned"] = n
		}
	}
	response.RespondOK(c, out)
}
