package stages_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/whytv-ai/whytv-backend/internal/docstore"
	"github.com/whytv-ai/whytv-backend/internal/docstore/memstore"
	"github.com/whytv-ai/whytv-backend/internal/domain"
	"github.com/whytv-ai/whytv-backend/internal/llm"
	"github.com/whytv-ai/whytv-backend/internal/pipeline"
	"github.com/whytv-ai/whytv-backend/internal/pipeline/stages"
)

// fakeLLM answers by schema name. A missing handler is an error.
type fakeLLM struct {
	mu       sync.Mutex
	handlers map[string]func(llm.Request) (llm.Result, error)
	calls    map[string]int
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{handlers: map[string]func(llm.Request) (llm.Result, error){}, calls: map[string]int{}}
}

func (f *fakeLLM) on(schema string, h func(llm.Request) (llm.Result, error)) *fakeLLM {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[schema] = h
	return f
}

func (f *fakeLLM) count(schema string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[schema]
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Generate(_ context.Context, req llm.Request) (llm.Result, error) {
	f.mu.Lock()
	f.calls[req.SchemaName]++
	h := f.handlers[req.SchemaName]
	f.mu.Unlock()
	if h == nil {
		return llm.Result{}, fmt.Errorf("no fake handler for %s", req.SchemaName)
	}
	return h(req)
}

func structured(key string, v any) func(llm.Request) (llm.Result, error) {
	return func(llm.Request) (llm.Result, error) {
		return llm.Result{Structured: map[string]any{key: v}}, nil
	}
}

type fakeSearch struct {
	mu      sync.Mutex
	results map[string][]domain.SearchResult
	calls   int
}

func (f *fakeSearch) Search(_ context.Context, q string, _ int) []domain.SearchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.results[q]
}

func result(id string) domain.SearchResult {
	return domain.SearchResult{
		ExternalID:   id,
		Title:        "Video " + id,
		ChannelTitle: "Uploader",
		PublishedAt:  "2024-01-01T00:00:00Z",
		Thumbnails:   domain.Thumbnails{Default: domain.Thumbnail{URL: "https://i.ytimg.com/vi/" + id + "/default.jpg", Width: 120, Height: 90}},
	}
}

func newDeps(store docstore.Store, gen *fakeLLM, search stages.Searcher) stages.Deps {
	deps := stages.Deps{
		Store: store,
		LLM:   llm.NewRouter("fake", gen),
		Now:   func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	if search != nil {
		deps.Search = search
	}
	return deps
}

func mustGet(t *testing.T, store docstore.Store, path string) *docstore.Snapshot {
	t.Helper()
	snap, err := store.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	return snap
}

func mustCreate(t *testing.T, store docstore.Store, path string, data map[string]any) {
	t.Helper()
	if err := store.Create(context.Background(), path, data); err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
}

func channelOf(t *testing.T, store docstore.Store, id string) domain.Channel {
	t.Helper()
	snap := mustGet(t, store, domain.ChannelPath(id))
	if !snap.Exists {
		t.Fatalf("channel %s missing", id)
	}
	return domain.ChannelFromData(id, snap.Data)
}

func videosOf(t *testing.T, store docstore.Store, channelID string) map[string]domain.Video {
	t.Helper()
	snaps, err := store.List(context.Background(), domain.VideosPath(channelID))
	if err != nil {
		t.Fatalf("list videos: %v", err)
	}
	out := map[string]domain.Video{}
	for _, s := range snaps {
		out[s.ID] = domain.VideoFromData(s.ID, s.Data)
	}
	return out
}

// statusEvent synthesizes a channel or query update that moved status from before to after.
func statusEvent(t *testing.T, path, before, after string) pipeline.Event {
	t.Helper()
	ev, err := pipeline.NewDocumentEvent("ev-"+path+"-"+after, pipeline.Updated, path,
		&docstore.Snapshot{Exists: true, Data: map[string]any{domain.FieldStatus: before}},
		&docstore.Snapshot{Exists: true, Data: map[string]any{domain.FieldStatus: after}},
	)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	return ev
}

func createdEvent(t *testing.T, path string) pipeline.Event {
	t.Helper()
	ev, err := pipeline.NewDocumentEvent("ev-"+path, pipeline.Created, path, nil,
		&docstore.Snapshot{Exists: true, Data: map[string]any{}})
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	return ev
}

func TestBootstrap_ConcurrentNumbersAreDistinct(t *testing.T) {
	store := memstore.New()
	gen := newFakeLLM().on("channel_name", structured(llm.KeyChannelName, "Cozy Kitchen"))
	stage := stages.NewBootstrap(newDeps(store, gen, nil))

	const n = 25
	for i := 0; i < n; i++ {
		mustCreate(t, store, domain.ChannelPath(fmt.Sprintf("c%02d", i)), map[string]any{
			domain.FieldDescription: "cooking tips",
			domain.FieldStatus:      string(domain.StatusPending),
		})
	}
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- stage.Run(context.Background(), createdEvent(t, domain.ChannelPath(fmt.Sprintf("c%02d", i))))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("bootstrap: %v", err)
		}
	}

	seen := map[int64]string{}
	for i := 0; i < n; i++ {
		ch := channelOf(t, store, fmt.Sprintf("c%02d", i))
		if ch.ChannelNumber < 1 || ch.ChannelNumber > n {
			t.Fatalf("channel %s number %d out of range", ch.ID, ch.ChannelNumber)
		}
		if other, dup := seen[ch.ChannelNumber]; dup {
			t.Fatalf("channels %s and %s share number %d", other, ch.ID, ch.ChannelNumber)
		}
		seen[ch.ChannelNumber] = ch.ID
		if ch.Status != domain.StatusNew || ch.ChannelName != "Cozy Kitchen" {
			t.Fatalf("unexpected channel: %+v", ch)
		}
	}
	counter := mustGet(t, store, domain.CounterPath)
	if got := domain.NextChannelNumber(counter.Data); got != n+1 {
		t.Fatalf("counter = %d, want %d", got, n+1)
	}
}

func TestBootstrap_RedeliveryKeepsNumber(t *testing.T) {
	store := memstore.New()
	gen := newFakeLLM().on("channel_name", structured(llm.KeyChannelName, "Name"))
	stage := stages.NewBootstrap(newDeps(store, gen, nil))
	mustCreate(t, store, "channels/a", map[string]any{domain.FieldDescription: "jazz"})

	ev := createdEvent(t, "channels/a")
	if err := stage.Run(context.Background(), ev); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := stage.Run(context.Background(), ev); !errors.Is(err, pipeline.ErrSkip) {
		t.Fatalf("second run should skip, got %v", err)
	}
	if got := channelOf(t, store, "a").ChannelNumber; got != 1 {
		t.Fatalf("number = %d, want 1", got)
	}
	if gen.count("channel_name") != 1 {
		t.Fatalf("provider called %d times", gen.count("channel_name"))
	}
}

func TestBootstrap_DeletesInvalidChannels(t *testing.T) {
	cases := []struct {
		name        string
		description string
		handler     func(llm.Request) (llm.Result, error)
		wantErr     bool
	}{
		{name: "blank description", description: "   "},
		{name: "unusable name", description: "jazz", handler: func(llm.Request) (llm.Result, error) {
			return llm.Result{RawText: "  \n "}, nil
		}},
		{name: "provider failure", description: "jazz", wantErr: true, handler: func(llm.Request) (llm.Result, error) {
			return llm.Result{}, errors.New("quota exceeded")
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			store := memstore.New()
			gen := newFakeLLM()
			if c.handler != nil {
				gen.on("channel_name", c.handler)
			}
			stage := stages.NewBootstrap(newDeps(store, gen, nil))
			mustCreate(t, store, "channels/a", map[string]any{domain.FieldDescription: c.description})

			err := stage.Run(context.Background(), createdEvent(t, "channels/a"))
			if (err != nil) != c.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, c.wantErr)
			}
			if mustGet(t, store, "channels/a").Exists {
				t.Fatalf("channel should be deleted")
			}
			if mustGet(t, store, domain.CounterPath).Exists {
				t.Fatalf("counter should be untouched")
			}
		})
	}
}

func TestQueryGeneration_WritesDedupedQueries(t *testing.T) {
	store := memstore.New()
	raw := []any{"Knife skills", "knife skills", "Boil pasta"}
	for i := 0; i < 30; i++ {
		raw = append(raw, fmt.Sprintf("query %d", i))
	}
	gen := newFakeLLM().on("search_queries", structured(llm.KeyQueries, raw))
	stage := stages.NewQueryGeneration(newDeps(store, gen, nil))
	mustCreate(t, store, "channels/a", map[string]any{
		domain.FieldDescription: "cooking",
		domain.FieldChannelName: "Cozy",
		domain.FieldStatus:      string(domain.StatusNew),
	})

	if err := stage.Run(context.Background(), statusEvent(t, "channels/a", "pending", "new")); err != nil {
		t.Fatalf("run: %v", err)
	}
	ch := channelOf(t, store, "a")
	if ch.Status != domain.StatusQueriesReady || ch.QueriesCount != 20 {
		t.Fatalf("unexpected channel: %+v", ch)
	}
	n, _ := store.Count(context.Background(), domain.QueriesPath("a"))
	if n != 20 {
		t.Fatalf("queries = %d, want 20", n)
	}
	q := domain.QueryFromData("a", "q01", mustGet(t, store, domain.QueryPath("a", "q01")).Data)
	if q.QueryText != "Boil pasta" || q.Status != domain.QueryNew {
		t.Fatalf("unexpected second query: %+v", q)
	}
}

func TestQueryGeneration_SkipsWhenLocked(t *testing.T) {
	store := memstore.New()
	gen := newFakeLLM()
	stage := stages.NewQueryGeneration(newDeps(store, gen, nil))
	mustCreate(t, store, "channels/a", map[string]any{
		domain.FieldDescription: "cooking",
		domain.FieldStatus:      string(domain.StatusProcessingQueries),
	})
	err := stage.Run(context.Background(), statusEvent(t, "channels/a", "pending", "new"))
	if !errors.Is(err, pipeline.ErrSkip) {
		t.Fatalf("expected skip, got %v", err)
	}
	if gen.count("search_queries") != 0 {
		t.Fatalf("provider should not be called")
	}
}

func TestQueryGeneration_RevertIsBounded(t *testing.T) {
	store := memstore.New()
	gen := newFakeLLM().on("search_queries", func(llm.Request) (llm.Result, error) {
		return llm.Result{}, errors.New("upstream 500")
	})
	deps := newDeps(store, gen, nil)
	deps.MaxQueryGenAttempts = 3
	stage := stages.NewQueryGeneration(deps)
	mustCreate(t, store, "channels/a", map[string]any{
		domain.FieldDescription: "cooking",
		domain.FieldStatus:      string(domain.StatusNew),
	})

	for attempt := 1; attempt <= 3; attempt++ {
		if err := stage.Run(context.Background(), statusEvent(t, "channels/a", "processing queries", "new")); err == nil {
			t.Fatalf("attempt %d: expected error", attempt)
		}
		ch := channelOf(t, store, "a")
		if attempt < 3 {
			if ch.Status != domain.StatusNew || ch.QueryGenAttempts != int64(attempt) {
				t.Fatalf("attempt %d: unexpected channel %+v", attempt, ch)
			}
			continue
		}
		if ch.Status != domain.StatusError || ch.Error == "" {
			t.Fatalf("final attempt: unexpected channel %+v", ch)
		}
	}
	if n, _ := store.Count(context.Background(), domain.QueriesPath("a")); n != 0 {
		t.Fatalf("no queries should be written, got %d", n)
	}
}

func seedQuery(t *testing.T, store docstore.Store, channelID, queryID, text string, status domain.QueryStatus) {
	t.Helper()
	mustCreate(t, store, domain.QueryPath(channelID, queryID), map[string]any{
		domain.FieldQueryText: text,
		domain.FieldStatus:    string(status),
	})
}

func TestQueryExecution_RedeliveryMergesByVideoID(t *testing.T) {
	store := memstore.New()
	search := &fakeSearch{results: map[string][]domain.SearchResult{
		"knife skills": {result("v1"), result("v2")},
		"boil pasta":   {result("v2"), result("v3")},
	}}
	stage := stages.NewQueryExecution(newDeps(store, newFakeLLM(), search))
	mustCreate(t, store, "channels/a", map[string]any{domain.FieldStatus: string(domain.StatusQueriesReady)})
	seedQuery(t, store, "a", "q00", "knife skills", domain.QueryNew)
	seedQuery(t, store, "a", "q01", "boil pasta", domain.QueryNew)

	ctx := context.Background()
	if err := stage.Run(ctx, createdEvent(t, domain.QueryPath("a", "q00"))); err != nil {
		t.Fatalf("run q00: %v", err)
	}
	// A redelivery that raced the completion write runs the search again.
	if err := store.Update(ctx, domain.QueryPath("a", "q00"), map[string]any{domain.FieldStatus: "searching"}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := stage.Run(ctx, createdEvent(t, domain.QueryPath("a", "q00"))); err != nil {
		t.Fatalf("rerun q00: %v", err)
	}
	if err := stage.Run(ctx, createdEvent(t, domain.QueryPath("a", "q01"))); err != nil {
		t.Fatalf("run q01: %v", err)
	}
	if err := stage.Run(ctx, createdEvent(t, domain.QueryPath("a", "q01"))); !errors.Is(err, pipeline.ErrSkip) {
		t.Fatalf("completed query should skip, got %v", err)
	}

	videos := videosOf(t, store, "a")
	if len(videos) != 3 {
		t.Fatalf("videos = %d, want 3", len(videos))
	}
	if videos["v1"].Thumbnails.Default.Width != 120 {
		t.Fatalf("thumbnail not persisted: %+v", videos["v1"])
	}
	q := domain.QueryFromData("a", "q00", mustGet(t, store, domain.QueryPath("a", "q00")).Data)
	if q.Status != domain.QueryCompleted || q.ResultsCount != 2 {
		t.Fatalf("unexpected query: %+v", q)
	}
	if search.calls != 3 {
		t.Fatalf("search calls = %d, want 3", search.calls)
	}
}

func TestQueryExecution_WriteFailureMarksQueryError(t *testing.T) {
	store := memstore.New()
	search := &fakeSearch{results: map[string][]domain.SearchResult{"x": {result("v1")}}}
	stage := stages.NewQueryExecution(newDeps(store, newFakeLLM(), search))
	seedQuery(t, store, "a", "q00", "x", domain.QueryNew)
	store.SetFault(func(op, path string) error {
		if strings.Contains(path, "/videos/") {
			return errors.New("unavailable")
		}
		return nil
	})
	err := stage.Run(context.Background(), createdEvent(t, domain.QueryPath("a", "q00")))
	store.SetFault(nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	q := domain.QueryFromData("a", "q00", mustGet(t, store, domain.QueryPath("a", "q00")).Data)
	if q.Status != domain.QueryError || q.Error == "" {
		t.Fatalf("unexpected query: %+v", q)
	}
}

func TestQueryExecution_NoSearcherLeavesQuery(t *testing.T) {
	store := memstore.New()
	stage := stages.NewQueryExecution(newDeps(store, newFakeLLM(), nil))
	seedQuery(t, store, "a", "q00", "x", domain.QueryNew)
	if err := stage.Run(context.Background(), createdEvent(t, domain.QueryPath("a", "q00"))); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st := mustGet(t, store, domain.QueryPath("a", "q00")).Field(domain.FieldStatus); st != "new" {
		t.Fatalf("status = %v, want new", st)
	}
}

func TestFanIn_AdvancesOnlyAfterLastCompletion(t *testing.T) {
	store := memstore.New()
	stage := stages.NewFanIn(newDeps(store, newFakeLLM(), nil))
	ctx := context.Background()
	mustCreate(t, store, "channels/a", map[string]any{domain.FieldStatus: string(domain.StatusQueriesReady)})
	const n = 5
	for i := 0; i < n; i++ {
		seedQuery(t, store, "a", stages.QueryID(i), "q", domain.QuerySearching)
	}
	mustCreate(t, store, domain.VideoPath("a", "v1"), map[string]any{domain.FieldTitle: "one"})
	mustCreate(t, store, domain.VideoPath("a", "v2"), map[string]any{domain.FieldTitle: "two"})

	for i := 0; i < n; i++ {
		path := domain.QueryPath("a", stages.QueryID(i))
		if err := store.Update(ctx, path, map[string]any{domain.FieldStatus: "completed"}); err != nil {
			t.Fatalf("complete: %v", err)
		}
		if err := stage.Run(ctx, statusEvent(t, path, "searching", "completed")); err != nil {
			t.Fatalf("fan-in %d: %v", i, err)
		}
		ch := channelOf(t, store, "a")
		if i < n-1 && ch.Status != domain.StatusQueriesReady {
			t.Fatalf("advanced after %d of %d completions", i+1, n)
		}
		if i == n-1 {
			if ch.Status != domain.StatusSelectVideos || ch.QueriesCompleted != n || ch.TotalVideosFound != 2 {
				t.Fatalf("unexpected channel: %+v", ch)
			}
		}
	}
}

func TestFanIn_ConcurrentCompletionsConverge(t *testing.T) {
	store := memstore.New()
	stage := stages.NewFanIn(newDeps(store, newFakeLLM(), nil))
	mustCreate(t, store, "channels/a", map[string]any{domain.FieldStatus: string(domain.StatusQueriesReady)})
	const n = 12
	for i := 0; i < n; i++ {
		seedQuery(t, store, "a", stages.QueryID(i), "q", domain.QueryCompleted)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		advanced int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := stage.Run(context.Background(), statusEvent(t, domain.QueryPath("a", stages.QueryID(i)), "searching", "completed"))
			if err != nil && !errors.Is(err, pipeline.ErrSkip) {
				t.Errorf("fan-in: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				advanced++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if advanced != 1 {
		t.Fatalf("advance landed %d times, want 1", advanced)
	}
	if ch := channelOf(t, store, "a"); ch.Status != domain.StatusSelectVideos || ch.QueriesCompleted != n {
		t.Fatalf("unexpected channel: %+v", ch)
	}
}

func TestFanIn_ErroredQueryBlocksAdvance(t *testing.T) {
	store := memstore.New()
	stage := stages.NewFanIn(newDeps(store, newFakeLLM(), nil))
	mustCreate(t, store, "channels/a", map[string]any{domain.FieldStatus: string(domain.StatusQueriesReady)})
	seedQuery(t, store, "a", "q00", "q", domain.QueryCompleted)
	seedQuery(t, store, "a", "q01", "q", domain.QueryError)
	if err := stage.Run(context.Background(), statusEvent(t, domain.QueryPath("a", "q00"), "searching", "completed")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ch := channelOf(t, store, "a"); ch.Status != domain.StatusQueriesReady {
		t.Fatalf("status = %q", ch.Status)
	}
}

func seedVideos(t *testing.T, store docstore.Store, channelID string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		mustCreate(t, store, domain.VideoPath(channelID, id), result(id).VideoData())
	}
}

func TestSelection_KeptSetMatchesDeletedFlags(t *testing.T) {
	store := memstore.New()
	gen := newFakeLLM().on("select_videos", structured(llm.KeyKeepIDs, []any{"a", "c", "not-a-video"}))
	stage := stages.NewSelection(newDeps(store, gen, nil))
	mustCreate(t, store, "channels/ch", map[string]any{
		domain.FieldDescription: "jazz",
		domain.FieldChannelName: "Late Night",
		domain.FieldStatus:      string(domain.StatusSelectVideos),
	})
	seedVideos(t, store, "ch", "a", "b", "c", "d")
	// Previously dropped videos are offered again and can be restored.
	if err := store.Update(context.Background(), domain.VideoPath("ch", "c"), map[string]any{domain.FieldDeleted: true}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := stage.Run(context.Background(), statusEvent(t, "channels/ch", "queries ready", "select_videos")); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := map[string]bool{"a": false, "b": true, "c": false, "d": true}
	for id, v := range videosOf(t, store, "ch") {
		if v.Deleted != want[id] {
			t.Fatalf("video %s deleted=%v, want %v", id, v.Deleted, want[id])
		}
	}
	ch := channelOf(t, store, "ch")
	if ch.Status != domain.StatusVideosSelected || ch.SelectedVideosCount != 2 || ch.DeletedVideosCount != 2 {
		t.Fatalf("unexpected channel: %+v", ch)
	}
}

func TestSelection_ProviderFailureSetsError(t *testing.T) {
	store := memstore.New()
	gen := newFakeLLM().on("select_videos", func(llm.Request) (llm.Result, error) {
		return llm.Result{}, errors.New("model overloaded")
	})
	stage := stages.NewSelection(newDeps(store, gen, nil))
	mustCreate(t, store, "channels/ch", map[string]any{
		domain.FieldDescription: "jazz",
		domain.FieldStatus:      string(domain.StatusSelectVideos),
	})
	seedVideos(t, store, "ch", "a")
	if err := stage.Run(context.Background(), statusEvent(t, "channels/ch", "queries ready", "select_videos")); err != nil {
		t.Fatalf("selection failures are recorded, not returned: %v", err)
	}
	ch := channelOf(t, store, "ch")
	if ch.Status != domain.StatusError || ch.Error == "" {
		t.Fatalf("unexpected channel: %+v", ch)
	}
	if videosOf(t, store, "ch")["a"].Deleted {
		t.Fatalf("videos must be untouched on failure")
	}
}

func TestSelection_ZeroVideosAdvancesWithoutProvider(t *testing.T) {
	store := memstore.New()
	gen := newFakeLLM()
	mustCreate(t, store, "channels/ch", map[string]any{
		domain.FieldDescription: "jazz",
		domain.FieldStatus:      string(domain.StatusSelectVideos),
	})
	if err := stages.NewSelection(newDeps(store, gen, nil)).Run(context.Background(), statusEvent(t, "channels/ch", "queries ready", "select_videos")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if gen.count("select_videos") != 0 {
		t.Fatalf("provider should not be called")
	}
	ch := channelOf(t, store, "ch")
	if ch.Status != domain.StatusVideosSelected || ch.SelectedVideosCount != 0 || ch.DeletedVideosCount != 0 {
		t.Fatalf("unexpected channel: %+v", ch)
	}

	// Finalize is what turns the empty selection into an error.
	if err := stages.NewFinalize(newDeps(store, gen, nil)).Run(context.Background(), statusEvent(t, "channels/ch", "select_videos", "videos_selected")); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if ch := channelOf(t, store, "ch"); ch.Status != domain.StatusError {
		t.Fatalf("unexpected channel after finalize: %+v", ch)
	}
}

func TestFinalize_ZeroVideosIsError(t *testing.T) {
	store := memstore.New()
	gen := newFakeLLM()
	stage := stages.NewFinalize(newDeps(store, gen, nil))
	mustCreate(t, store, "channels/ch", map[string]any{
		domain.FieldDescription: "jazz",
		domain.FieldStatus:      string(domain.StatusVideosSelected),
	})
	if err := stage.Run(context.Background(), statusEvent(t, "channels/ch", "select_videos", "videos_selected")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ch := channelOf(t, store, "ch"); ch.Status != domain.StatusError || ch.Error == "" {
		t.Fatalf("unexpected channel: %+v", ch)
	}
	if gen.count("order_playlist") != 0 {
		t.Fatalf("provider should not be called")
	}
}

func TestFinalize_UnknownIDsIgnoredAndMissingPushedToEnd(t *testing.T) {
	store := memstore.New()
	gen := newFakeLLM().on("order_playlist", structured(llm.KeyOrderedIDs, []any{"c", "ghost", "a", "c", "b"}))
	stage := stages.NewFinalize(newDeps(store, gen, nil))
	mustCreate(t, store, "channels/ch", map[string]any{
		domain.FieldDescription: "jazz",
		domain.FieldStatus:      string(domain.StatusVideosSelected),
	})
	seedVideos(t, store, "ch", "a", "b", "c", "d", "e")
	if err := store.Update(context.Background(), domain.VideoPath("ch", "e"), map[string]any{domain.FieldDeleted: true}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := stage.Run(context.Background(), statusEvent(t, "channels/ch", "select_videos", "videos_selected")); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := map[string]int64{"c": 0, "a": 1, "b": 2, "d": 5, "e": 5}
	for id, v := range videosOf(t, store, "ch") {
		if v.Order == nil || *v.Order != want[id] {
			t.Fatalf("video %s order=%v, want %d", id, v.Order, want[id])
		}
	}
	if _, ok := videosOf(t, store, "ch")["ghost"]; ok {
		t.Fatalf("unknown id must not create a video")
	}
	if ch := channelOf(t, store, "ch"); ch.Status != domain.StatusAvailable {
		t.Fatalf("status = %q", ch.Status)
	}
}

func TestFinalize_ProviderFailurePropagates(t *testing.T) {
	store := memstore.New()
	gen := newFakeLLM().on("order_playlist", func(llm.Request) (llm.Result, error) {
		return llm.Result{RawText: ""}, nil
	})
	stage := stages.NewFinalize(newDeps(store, gen, nil))
	mustCreate(t, store, "channels/ch", map[string]any{
		domain.FieldDescription: "jazz",
		domain.FieldStatus:      string(domain.StatusVideosSelected),
	})
	seedVideos(t, store, "ch", "a")
	if err := stage.Run(context.Background(), statusEvent(t, "channels/ch", "select_videos", "videos_selected")); err == nil {
		t.Fatalf("expected error")
	}
	if ch := channelOf(t, store, "ch"); ch.Status != domain.StatusError {
		t.Fatalf("status = %q", ch.Status)
	}
}

func TestRank(t *testing.T) {
	videos := []domain.Video{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	got := stages.Rank([]string{"b", "x", "b", "a"}, videos)
	if len(got) != 2 || got["b"] != 0 || got["a"] != 1 {
		t.Fatalf("unexpected ranks: %v", got)
	}
	if _, ok := got["c"]; ok {
		t.Fatalf("unranked video should be absent")
	}
}

func TestCleanup_SweepsInvalidAndStuckChannels(t *testing.T) {
	store := memstore.New()
	deps := newDeps(store, newFakeLLM(), nil)
	now := deps.Now()
	stage := stages.NewCleanup(deps)

	valid := map[string]any{
		domain.FieldDescription: "jazz",
		domain.FieldChannelName: "Late Night",
		domain.FieldStatus:      string(domain.StatusAvailable),
	}
	with := func(k string, v any) map[string]any {
		m := map[string]any{}
		for kk, vv := range valid {
			m[kk] = vv
		}
		m[k] = v
		return m
	}
	mustCreate(t, store, "channels/keep", valid)
	mustCreate(t, store, "channels/fresh-pending", with(domain.FieldStatus, "pending"))
	store.Update(context.Background(), "channels/fresh-pending", map[string]any{domain.FieldCreatedAt: domain.NowISO(now.Add(-time.Hour))})
	mustCreate(t, store, "channels/bad-date", with(domain.FieldCreatedAt, "yesterday"))
	store.Update(context.Background(), "channels/bad-date", map[string]any{domain.FieldStatus: "pending"})
	mustCreate(t, store, "channels/stuck", with(domain.FieldStatus, "pending"))
	store.Update(context.Background(), "channels/stuck", map[string]any{domain.FieldCreatedAt: domain.NowISO(now.Add(-25 * time.Hour))})
	mustCreate(t, store, "channels/no-name", with(domain.FieldChannelName, " "))
	mustCreate(t, store, "channels/no-status", with(domain.FieldStatus, ""))
	for i := 0; i < 600; i++ {
		mustCreate(t, store, fmt.Sprintf("channels/blank-%03d", i), with(domain.FieldDescription, ""))
	}
	mustCreate(t, store, "channels/orphan-parent/queries/q00", map[string]any{domain.FieldQueryText: "x"})

	res, err := stage.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Deleted != 603 || res.Scanned != 606 {
		t.Fatalf("unexpected result: %+v", res)
	}
	for _, id := range []string{"keep", "fresh-pending", "bad-date"} {
		if !mustGet(t, store, domain.ChannelPath(id)).Exists {
			t.Fatalf("channel %s should be kept", id)
		}
	}
	for _, id := range []string{"stuck", "no-name", "no-status", "blank-599"} {
		if mustGet(t, store, domain.ChannelPath(id)).Exists {
			t.Fatalf("channel %s should be deleted", id)
		}
	}
	if !mustGet(t, store, "channels/orphan-parent/queries/q00").Exists {
		t.Fatalf("sweep must not cascade into sub-collections")
	}
}
