// Package stages holds the handlers of the channel pipeline. Each stage reacts to one row of
// pipeline.Transitions, re-checks its precondition against current store state, makes at
// most one provider call, and commits its writes atomically (or in 500-op chunks).
package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/whytv-ai/whytv-backend/internal/docstore"
	"github.com/whytv-ai/whytv-backend/internal/domain"
	"github.com/whytv-ai/whytv-backend/internal/llm"
	"github.com/whytv-ai/whytv-backend/internal/pipeline"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
)

// Searcher is the search provider. It never fails; errors surface as an empty list.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) []domain.SearchResult
}

// ProviderResolver picks the generation backend named on a channel.
type ProviderResolver interface {
	Resolve(name string) (llm.Provider, error)
}

type Deps struct {
	Store docstore.Store
	LLM   ProviderResolver
	// Search is nil when no YouTube API key is configured.
	Search Searcher
	Log    *logger.Logger
	Now    func() time.Time

	MaxSearchResults    int
	MinQueries          int
	MaxQueries          int
	MaxQueryGenAttempts int
	StuckPendingAfter   time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.MaxSearchResults <= 0 {
		d.MaxSearchResults = 10
	}
	if d.MinQueries <= 0 {
		d.MinQueries = 15
	}
	if d.MaxQueries <= 0 {
		d.MaxQueries = 20
	}
	if d.MaxQueryGenAttempts <= 0 {
		d.MaxQueryGenAttempts = 3
	}
	if d.StuckPendingAfter <= 0 {
		d.StuckPendingAfter = 24 * time.Hour
	}
	return d
}

// All returns every stage wired to deps, in transition-table order.
func All(deps Deps) []pipeline.Stage {
	return []pipeline.Stage{
		NewBootstrap(deps),
		NewQueryGeneration(deps),
		NewQueryExecution(deps),
		NewFanIn(deps),
		NewSelection(deps),
		NewFinalize(deps),
		NewCleanup(deps),
	}
}

type base struct {
	t    pipeline.Transition
	deps Deps
	log  *logger.Logger
}

func newBase(stage string, deps Deps) base {
	deps = deps.withDefaults()
	return base{
		t:    pipeline.TransitionFor(stage),
		deps: deps,
		log:  deps.Log.With("stage", stage),
	}
}

func (b base) Name() string                 { return b.t.Stage }
func (b base) Trigger() pipeline.Trigger    { return b.t.Trigger }
func (b base) Guard(ev pipeline.Event) bool { return b.t.Matches(ev) }

func (b base) eventLog(ev pipeline.Event) *logger.Logger {
	kv := []any{"channel_id", ev.Ref.ChannelID, "from", ev.BeforeStatus(), "to", ev.AfterStatus()}
	if ev.Ref.Collection == domain.QueriesCollection {
		kv = append(kv, "query_id", ev.Ref.ChildID)
	}
	return b.log.With(kv...)
}

// generate renders a prompt and runs it on the channel's provider and model.
func (b base) generate(ctx context.Context, ch domain.Channel, name llm.PromptName, in llm.Input) (llm.Result, error) {
	if b.deps.LLM == nil {
		return llm.Result{}, fmt.Errorf("no generation provider configured")
	}
	p, err := llm.Build(name, in)
	if err != nil {
		return llm.Result{}, err
	}
	provider, err := b.deps.LLM.Resolve(ch.Provider)
	if err != nil {
		return llm.Result{}, err
	}
	res, err := provider.Generate(ctx, p.Request(ch.Model))
	if err != nil {
		return llm.Result{}, fmt.Errorf("%s via %s: %w", name, provider.Name(), err)
	}
	return res, nil
}

// loadChannel reads the channel fresh from the store.
func (b base) loadChannel(ctx context.Context, channelID string) (domain.Channel, bool, error) {
	snap, err := b.deps.Store.Get(ctx, domain.ChannelPath(channelID))
	if err != nil {
		return domain.Channel{}, false, fmt.Errorf("load channel: %w", err)
	}
	if !snap.Exists {
		return domain.Channel{}, false, nil
	}
	return domain.ChannelFromData(channelID, snap.Data), true, nil
}

func (b base) loadVideos(ctx context.Context, channelID string) ([]domain.Video, error) {
	snaps, err := b.deps.Store.List(ctx, domain.VideosPath(channelID))
	if err != nil {
		return nil, fmt.Errorf("load videos: %w", err)
	}
	out := make([]domain.Video, 0, len(snaps))
	for _, s := range snaps {
		if s.Exists {
			out = append(out, domain.VideoFromData(s.ID, s.Data))
		}
	}
	return out, nil
}

// failChannel moves a channel to error with msg. A channel deleted in the meantime is not an
// error.
func (b base) failChannel(ctx context.Context, channelID, msg string) error {
	err := b.deps.Store.Update(ctx, domain.ChannelPath(channelID), map[string]any{
		domain.FieldStatus:      string(domain.StatusError),
		domain.FieldError:       msg,
		domain.FieldLastUpdated: docstore.ServerTimestamp,
	})
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("set channel error: %w", err)
	}
	return nil
}

type promptVideo struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	ChannelTitle string `json:"channelTitle,omitempty"`
	Deleted      bool   `json:"deleted,omitempty"`
}

func videosJSON(videos []domain.Video) (string, error) {
	rows := make([]promptVideo, 0, len(videos))
	for _, v := range videos {
		rows = append(rows, promptVideo{
			ID:           v.ID,
			Title:        v.Title,
			Description:  truncate(v.Description, 300),
			ChannelTitle: v.ChannelTitle,
			Deleted:      v.Deleted,
		})
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("encode videos: %w", err)
	}
	return string(raw), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
