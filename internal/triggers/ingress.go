package triggers

import (
	"context"

	"github.com/whytv-ai/whytv-backend/internal/pipeline"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
)

// EventDispatcher is satisfied by *pipeline.Registry.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev pipeline.Event) error
}

// Ingress is the single entry point for deliveries from every trigger source.
type Ingress struct {
	log      *logger.Logger
	dispatch EventDispatcher
	dedupe   Deduper
}

func NewIngress(log *logger.Logger, dispatch EventDispatcher, dedupe Deduper) *Ingress {
	if log == nil {
		log = logger.Nop()
	}
	if dedupe == nil {
		dedupe = NopDeduper()
	}
	return &Ingress{log: log.With("component", "TriggerIngress"), dispatch: dispatch, dedupe: dedupe}
}

// Deliver dispatches ev unless the same event id was already claimed. A failed dispatch
// releases the claim and returns the error so the caller reports failure to the platform.
// When the dedupe store is unreachable the event is processed anyway; stages are idempotent.
func (i *Ingress) Deliver(ctx context.Context, ev pipeline.Event) error {
	log := i.log.With("event_id", ev.ID, "trigger", ev.Trigger.String(), "path", ev.Path, "attempt", ev.Attempt)
	claimed, err := i.dedupe.Claim(ctx, ev.ID)
	switch {
	case err != nil:
		log.Warn("Event dedupe unavailable; processing anyway", "error", err)
		claimed = false
	case !claimed:
		log.Info("Duplicate delivery dropped")
		return nil
	}

	if err := i.dispatch.Dispatch(ctx, ev); err != nil {
		log.Error("Event dispatch failed", "error", err)
		if claimed {
			if rerr := i.dedupe.Release(context.WithoutCancel(ctx), ev.ID); rerr != nil {
				log.Warn("Event dedupe release failed", "error", rerr)
			}
		}
		return err
	}
	return nil
}
