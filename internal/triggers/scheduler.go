package triggers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/whytv-ai/whytv-backend/internal/platform/httpx"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
)

// RetryPolicy mirrors the scheduled-function retry settings: at most RetryCount retries,
// none started later than MaxRetryDuration after the first attempt.
type RetryPolicy struct {
	RetryCount       int
	MaxRetryDuration time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
}

// CleanupRetry is the policy of the daily cleanup sweep.
var CleanupRetry = RetryPolicy{
	RetryCount:       3,
	MaxRetryDuration: 60 * time.Second,
	MinBackoff:       5 * time.Second,
	MaxBackoff:       30 * time.Second,
}

// Retry runs fn, retrying failures under p. It returns the last error.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	return retry(ctx, p, time.Now, httpx.Sleep, fn)
}

func retry(ctx context.Context, p RetryPolicy, now func() time.Time, sleep func(context.Context, time.Duration) error, fn func(ctx context.Context) error) error {
	start := now()
	backoff := p.MinBackoff
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= p.RetryCount {
			return err
		}
		if p.MaxRetryDuration > 0 && now().Add(backoff).Sub(start) > p.MaxRetryDuration {
			return err
		}
		if serr := sleep(ctx, httpx.JitterSleep(backoff)); serr != nil {
			return err
		}
		backoff *= 2
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
}

// Job is one scheduled task.
type Job struct {
	Name  string
	Spec  string
	Retry RetryPolicy
	Run   func(ctx context.Context) error
}

// Scheduler runs Jobs on cron specs ("0 3 * * *", "@every 24h", "@daily"). Runs of one job
// never overlap.
type Scheduler struct {
	log  *logger.Logger
	cron *cron.Cron

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		log:  log.With("component", "Scheduler"),
		cron: cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:  context.Background(),
	}
}

func (s *Scheduler) Add(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %s has no Run func", job.Name)
	}
	_, err := s.cron.AddFunc(job.Spec, func() { s.runJob(job) })
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
	}
	s.log.Info("Job scheduled", "job", job.Name, "spec", job.Spec)
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.log.Info("Scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop halts scheduling and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped")
}

func (s *Scheduler) runJob(job Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	log := s.log.With("job", job.Name)
	started := time.Now()
	attempt := 0
	err := Retry(ctx, job.Retry, func(ctx context.Context) error {
		attempt++
		err := job.Run(ctx)
		if err != nil {
			log.Warn("Scheduled job attempt failed", "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		log.Error("Scheduled job failed", "attempts", attempt, "error", err)
		return
	}
	log.Info("Scheduled job finished", "attempts", attempt, "duration_ms", time.Since(started).Milliseconds())
}
