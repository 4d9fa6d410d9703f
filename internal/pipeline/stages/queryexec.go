package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/whytv-ai/whytv-backend/internal/docstore"
	"github.com/whytv-ai/whytv-backend/internal/domain"
	"github.com/whytv-ai/whytv-backend/internal/pipeline"
)

// QueryExecution runs one generated query against the search provider and upserts the hits
// as candidate videos. Video docs are keyed by platform id, so a redelivered event rewrites
// the same documents instead of adding new ones.
type QueryExecution struct{ base }

func NewQueryExecution(deps Deps) *QueryExecution {
	return &QueryExecution{newBase(pipeline.StageQueryExecution, deps)}
}

func (s *QueryExecution) Run(ctx context.Context, ev pipeline.Event) error {
	log := s.eventLog(ev)
	if s.deps.Search == nil {
		log.Warn("Search provider not configured; leaving query untouched")
		return nil
	}
	channelID, queryID := ev.Ref.ChannelID, ev.Ref.ChildID
	path := domain.QueryPath(channelID, queryID)

	snap, err := s.deps.Store.Get(ctx, path)
	if err != nil {
		log.Error("Query execution could not read query", "error", err)
		return fmt.Errorf("load query: %w", err)
	}
	if !snap.Exists {
		return pipeline.Skip("query %s no longer exists", path)
	}
	q := domain.QueryFromData(channelID, queryID, snap.Data)
	if q.Status == domain.QueryCompleted {
		return pipeline.Skip("query %s already completed", path)
	}

	if err := s.deps.Store.Update(ctx, path, map[string]any{
		domain.FieldStatus:      string(domain.QuerySearching),
		domain.FieldLastUpdated: docstore.ServerTimestamp,
	}); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return pipeline.Skip("query %s deleted before search", path)
		}
		return fmt.Errorf("mark query searching: %w", err)
	}

	results := s.deps.Search.Search(ctx, q.QueryText, s.deps.MaxSearchResults)

	w := docstore.NewChunkedWriter(s.deps.Store)
	err = s.writeResults(ctx, w, channelID, path, results)
	if err != nil {
		log.Error("Query result write failed", "error", err, "results_count", len(results), "committed", w.Committed())
		if uerr := s.deps.Store.Update(ctx, path, map[string]any{
			domain.FieldStatus:      string(domain.QueryError),
			domain.FieldError:       err.Error(),
			domain.FieldLastUpdated: docstore.ServerTimestamp,
		}); uerr != nil && !errors.Is(uerr, docstore.ErrNotFound) {
			return errors.Join(err, fmt.Errorf("mark query error: %w", uerr))
		}
		return err
	}
	log.Info("Query executed", "query_text", q.QueryText, "results_count", len(results))
	return nil
}

// writeResults upserts every hit and then completes the query. The query update is the last
// op so completion is only visible once all video writes before it have committed.
func (s *QueryExecution) writeResults(ctx context.Context, w *docstore.ChunkedWriter, channelID, queryPath string, results []domain.SearchResult) error {
	for _, r := range results {
		data := r.VideoData()
		data[domain.FieldLastUpdated] = docstore.ServerTimestamp
		if err := w.Set(ctx, domain.VideoPath(channelID, r.ExternalID), data, true); err != nil {
			return fmt.Errorf("write videos: %w", err)
		}
	}
	if err := w.Update(ctx, queryPath, map[string]any{
		domain.FieldStatus:       string(domain.QueryCompleted),
		domain.FieldResultsCount: len(results),
		domain.FieldLastUpdated:  docstore.ServerTimestamp,
	}); err != nil {
		return fmt.Errorf("complete query: %w", err)
	}
	if err := w.Flush(ctx); err != nil {
		return fmt.Errorf("complete query: %w", err)
	}
	return nil
}
