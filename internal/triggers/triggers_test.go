package triggers

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/whytv-ai/whytv-backend/internal/docstore"
	"github.com/whytv-ai/whytv-backend/internal/docstore/memstore"
	"github.com/whytv-ai/whytv-backend/internal/pipeline"
)

func TestRetry_BoundedByCount(t *testing.T) {
	calls := 0
	var slept []time.Duration
	err := retry(context.Background(), CleanupRetry, time.Now,
		func(_ context.Context, d time.Duration) error { slept = append(slept, d); return nil },
		func(context.Context) error { calls++; return errors.New("transient") },
	)
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 4 || len(slept) != 3 {
		t.Fatalf("calls=%d sleeps=%d, want 4 and 3", calls, len(slept))
	}
}

func TestRetry_BoundedByWindow(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	sleep := func(_ context.Context, d time.Duration) error { clock = clock.Add(25 * time.Second); return nil }
	calls := 0
	p := RetryPolicy{RetryCount: 10, MaxRetryDuration: 60 * time.Second, MinBackoff: 10 * time.Second}
	_ = retry(context.Background(), p, now, sleep, func(context.Context) error { calls++; return errors.New("x") })
	// Attempts at t=0, 25s and 50s; the next backoff (40s) would start past the window.
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetry_StopsOnSuccess(t *testing.T) {
	calls := 0
	err := retry(context.Background(), CleanupRetry, time.Now,
		func(context.Context, time.Duration) error { return nil },
		func(context.Context) error {
			calls++
			if calls < 2 {
				return errors.New("transient")
			}
			return nil
		},
	)
	if err != nil || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

type fakeDispatch struct {
	mu    sync.Mutex
	fail  map[string]int
	calls map[string]int
}

func (f *fakeDispatch) Dispatch(_ context.Context, ev pipeline.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[ev.ID]++
	if f.fail[ev.ID] > 0 {
		f.fail[ev.ID]--
		return errors.New("stage failed")
	}
	return nil
}

func (f *fakeDispatch) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

// memDeduper is an in-process Deduper for tests.
type memDeduper struct {
	mu       sync.Mutex
	claimed  map[string]bool
	released int
	err      error
}

func (m *memDeduper) Claim(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.claimed == nil {
		m.claimed = map[string]bool{}
	}
	if m.claimed[id] {
		return false, nil
	}
	m.claimed[id] = true
	return true, nil
}

func (m *memDeduper) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimed, id)
	m.released++
	return nil
}

func TestIngress_DropsDuplicatesAndReleasesFailures(t *testing.T) {
	fd := &fakeDispatch{fail: map[string]int{"bad": 1}}
	dd := &memDeduper{}
	in := NewIngress(nil, fd, dd)
	ctx := context.Background()

	if err := in.Deliver(ctx, pipeline.Event{ID: "ok"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := in.Deliver(ctx, pipeline.Event{ID: "ok"}); err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if fd.count("ok") != 1 {
		t.Fatalf("duplicate was dispatched")
	}

	if err := in.Deliver(ctx, pipeline.Event{ID: "bad"}); err == nil {
		t.Fatalf("expected failure")
	}
	if dd.released != 1 {
		t.Fatalf("failed claim not released")
	}
	if err := in.Deliver(ctx, pipeline.Event{ID: "bad", Attempt: 2}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if fd.count("bad") != 2 {
		t.Fatalf("retry not dispatched")
	}
}

func TestIngress_FailsOpenWhenDedupeDown(t *testing.T) {
	fd := &fakeDispatch{}
	in := NewIngress(nil, fd, &memDeduper{err: errors.New("connection refused")})
	if err := in.Deliver(context.Background(), pipeline.Event{ID: "e"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if fd.count("e") != 1 {
		t.Fatalf("event should be processed")
	}
}

func TestDispatcher_RedeliversUntilMaxAttempts(t *testing.T) {
	fd := &fakeDispatch{fail: map[string]int{"flaky": 1, "broken": 10}}
	d := NewDispatcher(nil, NewIngress(nil, fd, nil), DispatcherConfig{Concurrency: 2, MaxAttempts: 3, Backoff: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Enqueue(pipeline.Event{ID: "flaky", Attempt: 1})
	d.Enqueue(pipeline.Event{ID: "broken", Attempt: 1})
	d.Enqueue(pipeline.Event{ID: "fine", Attempt: 1})
	d.WaitIdle()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	if fd.count("flaky") != 2 || fd.count("broken") != 3 || fd.count("fine") != 1 {
		t.Fatalf("calls: flaky=%d broken=%d fine=%d", fd.count("flaky"), fd.count("broken"), fd.count("fine"))
	}
}

func TestDispatcher_FollowsChangeFeed(t *testing.T) {
	store := memstore.New()
	fd := &fakeDispatch{}
	d := NewDispatcher(nil, NewIngress(nil, fd, nil), DispatcherConfig{})
	store.Subscribe(d.OnChange)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	ctxw := context.Background()
	if err := store.Create(ctxw, "channels/a", map[string]any{"status": "pending"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Update(ctxw, "channels/a", map[string]any{"status": "new"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.Create(ctxw, "counters/channels", map[string]any{"nextChannelNumber": 2}); err != nil {
		t.Fatalf("create counter: %v", err)
	}
	if err := store.Delete(ctxw, "channels/a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	d.WaitIdle()

	fd.mu.Lock()
	defer fd.mu.Unlock()
	if len(fd.calls) != 2 {
		t.Fatalf("dispatched %d events, want create and update only", len(fd.calls))
	}
}

func TestEventFromChange(t *testing.T) {
	after := &docstore.Snapshot{Exists: true, Data: map[string]any{"status": "completed"}}
	ev, ok := EventFromChange(memstore.Change{ID: "1", Kind: memstore.Updated, Path: "channels/a/queries/q00", After: after})
	if !ok || ev.Trigger != pipeline.QueryUpdated || ev.AfterStatus() != "completed" {
		t.Fatalf("unexpected event: %+v ok=%v", ev, ok)
	}
	if _, ok := EventFromChange(memstore.Change{Kind: memstore.Deleted, Path: "channels/a"}); ok {
		t.Fatalf("deletes are not delivered")
	}
}

func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := NewScheduler(nil)
	if err := s.Add(Job{Name: "cleanup", Spec: "every day", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatalf("expected spec error")
	}
	if err := s.Add(Job{Name: "cleanup", Spec: "@every 24h"}); err == nil {
		t.Fatalf("expected missing Run error")
	}
	if err := s.Add(Job{Name: "cleanup", Spec: "@every 24h", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.Start(context.Background())
	s.Stop()
}

func TestRedisDeduper(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	d, err := NewRedisDeduper(nil, RedisDeduperConfig{Addr: addr, TTL: time.Minute})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer d.Close()
	ctx := context.Background()
	id := uuid.NewString()
	if ok, err := d.Claim(ctx, id); err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if ok, _ := d.Claim(ctx, id); ok {
		t.Fatalf("second claim should lose")
	}
	if err := d.Release(ctx, id); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := d.Claim(ctx, id); !ok {
		t.Fatalf("claim after release should win")
	}
	_ = d.Release(ctx, id)
}
