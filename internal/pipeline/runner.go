package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/whytv-ai/whytv-backend/internal/observability"
	"github.com/whytv-ai/whytv-backend/internal/platform/ctxutil"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
)

const (
	OutcomeSucceeded = "succeeded"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// RunRecord is one guarded stage invocation as written to the ledger.
type RunRecord struct {
	Stage        string
	Trigger      string
	DocumentPath string
	ChannelID    string
	EventID      string
	Outcome      string
	Error        string
	Attempt      int
	FromStatus   string
	ToStatus     string
	StartedAt    time.Time
	Duration     time.Duration
}

type Recorder interface {
	Record(ctx context.Context, rec RunRecord) error
}

// Registry maps triggers to the stages subscribed to them.
type Registry struct {
	mu     sync.RWMutex
	stages map[Trigger][]Stage
	names  map[string]bool
	runner *Runner
}

func NewRegistry(runner *Runner) *Registry {
	if runner == nil {
		runner = NewRunner(nil, nil)
	}
	return &Registry{
		stages: make(map[Trigger][]Stage),
		names:  make(map[string]bool),
		runner: runner,
	}
}

func (r *Registry) Register(stages ...Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range stages {
		if s == nil {
			return fmt.Errorf("nil stage")
		}
		name := s.Name()
		if name == "" {
			return fmt.Errorf("stage Name() is empty")
		}
		if r.names[name] {
			return fmt.Errorf("stage already registered: %s", name)
		}
		r.names[name] = true
		r.stages[s.Trigger()] = append(r.stages[s.Trigger()], s)
	}
	return nil
}

func (r *Registry) Stages(t Trigger) []Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Stage(nil), r.stages[t]...)
}

// Dispatch runs every stage on ev's trigger whose guard accepts it. Stage errors are joined
// so the trigger layer sees a failure if any stage failed.
func (r *Registry) Dispatch(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range r.Stages(ev.Trigger) {
		if err := r.runner.Run(ctx, s, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Runner wraps one stage invocation with the guard check, structured logs, a span, panic
// recovery and a ledger row.
type Runner struct {
	log      *logger.Logger
	recorder Recorder
	now      func() time.Time
}

func NewRunner(log *logger.Logger, recorder Recorder) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{log: log.With("component", "StageRunner"), recorder: recorder, now: time.Now}
}

func (r *Runner) Run(ctx context.Context, s Stage, ev Event) (err error) {
	if !s.Guard(ev) {
		return nil
	}
	started := r.now()
	name := s.Name()
	log := r.log.With(
		"stage", name,
		"trigger", ev.Trigger.String(),
		"path", ev.Path,
		"event_id", ev.ID,
		"attempt", ev.Attempt,
		"from", ev.BeforeStatus(),
		"to", ev.AfterStatus(),
	)

	ctx = ctxutil.WithTraceData(ctx, traceFor(ctx, ev))
	ctx, span := observability.StartStage(ctx, name, ev.Trigger.String(), ev.Path, ev.ID, ev.Attempt)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Stage panic", "panic", rec)
			err = &panicError{Stage: name, Val: rec}
		}
		outcome := OutcomeSucceeded
		var errMsg string
		switch {
		case err == nil:
		case errors.Is(err, ErrSkip):
			outcome = OutcomeSkipped
			log.Info("Stage skipped", "reason", err.Error())
			err = nil
		default:
			outcome = OutcomeFailed
			errMsg = err.Error()
		}
		observability.EndStage(span, outcome, err)
		dur := r.now().Sub(started)
		if outcome == OutcomeSucceeded {
			log.Info("Stage succeeded", "duration_ms", dur.Milliseconds())
		}
		r.record(ctx, log, RunRecord{
			Stage:        name,
			Trigger:      ev.Trigger.String(),
			DocumentPath: ev.Path,
			ChannelID:    ev.Ref.ChannelID,
			EventID:      ev.ID,
			Outcome:      outcome,
			Error:        errMsg,
			Attempt:      ev.Attempt,
			FromStatus:   ev.BeforeStatus(),
			ToStatus:     ev.AfterStatus(),
			StartedAt:    started,
			Duration:     dur,
		})
	}()

	log.Debug("Stage starting")
	return s.Run(ctx, ev)
}

func (r *Runner) record(ctx context.Context, log *logger.Logger, rec RunRecord) {
	if r.recorder == nil {
		return
	}
	// The ledger is diagnostic; a write failure never fails the stage.
	if err := r.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("Stage run ledger write failed", "error", err)
	}
}

func traceFor(ctx context.Context, ev Event) *ctxutil.TraceData {
	td := &ctxutil.TraceData{EventID: ev.ID, Attempt: ev.Attempt}
	if prev := ctxutil.GetTraceData(ctx); prev != nil {
		td.TraceID = prev.TraceID
		td.RequestID = prev.RequestID
	}
	return td
}

type panicError struct {
	Stage string
	Val   any
}

func (e *panicError) Error() string { return fmt.Sprintf("stage %s panic: %v", e.Stage, e.Val) }
