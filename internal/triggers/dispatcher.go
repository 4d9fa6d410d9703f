package triggers

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/whytv-ai/whytv-backend/internal/docstore/memstore"
	"github.com/whytv-ai/whytv-backend/internal/pipeline"
	"github.com/whytv-ai/whytv-backend/internal/platform/httpx"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
)

// Deliverer is satisfied by *Ingress.
type Deliverer interface {
	Deliver(ctx context.Context, ev pipeline.Event) error
}

type DispatcherConfig struct {
	Concurrency int
	// MaxAttempts bounds redelivery of a failing event, first delivery included.
	MaxAttempts int
	Backoff     time.Duration
}

// Dispatcher emulates at-least-once document triggers in-process: every memstore change is
// queued and delivered on a bounded worker pool, and failed deliveries are retried.
type Dispatcher struct {
	log     *logger.Logger
	deliver Deliverer
	cfg     DispatcherConfig

	mu       sync.Mutex
	queue    []pipeline.Event
	inflight int
	wake     chan struct{}
	idle     *sync.Cond
}

func NewDispatcher(log *logger.Logger, deliver Deliverer, cfg DispatcherConfig) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	d := &Dispatcher{
		log:     log.With("component", "LocalDispatcher"),
		deliver: deliver,
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// EventFromChange converts a memstore change into a pipeline event. ok is false for deletes
// and documents outside the channel tree.
func EventFromChange(c memstore.Change) (pipeline.Event, bool) {
	var kind pipeline.Kind
	switch c.Kind {
	case memstore.Created:
		kind = pipeline.Created
	case memstore.Updated:
		kind = pipeline.Updated
	default:
		return pipeline.Event{}, false
	}
	ev, err := pipeline.NewDocumentEvent(c.ID, kind, c.Path, c.Before, c.After)
	if err != nil {
		return pipeline.Event{}, false
	}
	return ev, true
}

// OnChange is the memstore subscriber. It never blocks the writer.
func (d *Dispatcher) OnChange(c memstore.Change) {
	if ev, ok := EventFromChange(c); ok {
		d.Enqueue(ev)
	}
}

func (d *Dispatcher) Enqueue(ev pipeline.Event) {
	d.mu.Lock()
	d.queue = append(d.queue, ev)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run delivers queued events until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	d.log.Info("Local dispatcher started", "concurrency", d.cfg.Concurrency, "max_attempts", d.cfg.MaxAttempts)
	for {
		ev, ok := d.next(ctx)
		if !ok {
			break
		}
		g.Go(func() error {
			defer d.done()
			d.handle(gctx, ev)
			return nil
		})
	}
	err := g.Wait()
	d.log.Info("Local dispatcher stopped")
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return err
}

// WaitIdle blocks until the queue is empty and no delivery is in flight.
func (d *Dispatcher) WaitIdle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.queue) > 0 || d.inflight > 0 {
		d.idle.Wait()
	}
}

func (d *Dispatcher) next(ctx context.Context) (pipeline.Event, bool) {
	for {
		d.mu.Lock()
		if len(d.queue) > 0 {
			ev := d.queue[0]
			d.queue = d.queue[1:]
			d.inflight++
			d.mu.Unlock()
			return ev, true
		}
		d.mu.Unlock()
		select {
		case <-ctx.Done():
			return pipeline.Event{}, false
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) done() {
	d.mu.Lock()
	d.inflight--
	if d.inflight == 0 && len(d.queue) == 0 {
		d.idle.Broadcast()
	}
	d.mu.Unlock()
}

func (d *Dispatcher) handle(ctx context.Context, ev pipeline.Event) {
	for {
		err := d.deliver.Deliver(ctx, ev)
		if err == nil {
			return
		}
		if ev.Attempt >= d.cfg.MaxAttempts {
			d.log.Error("Event dropped after max attempts",
				"event_id", ev.ID,
				"trigger", ev.Trigger.String(),
				"path", ev.Path,
				"attempts", ev.Attempt,
				"error", err,
			)
			return
		}
		if serr := httpx.Sleep(ctx, httpx.JitterSleep(d.cfg.Backoff*time.Duration(ev.Attempt))); serr != nil {
			return
		}
		ev.Attempt++
	}
}
