package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/whytv-ai/whytv-backend/internal/docstore"
	"github.com/whytv-ai/whytv-backend/internal/domain"
	"github.com/whytv-ai/whytv-backend/internal/pipeline"
)

// FanIn advances a channel to select_videos once every one of its queries has completed.
// Every completion re-reads all siblings. Concurrent completions that all observe the final
// state race on the advance; the write is conditional on the channel still being in
// "queries ready", so only one lands and the rest skip.
type FanIn struct{ base }

func NewFanIn(deps Deps) *FanIn {
	return &FanIn{newBase(pipeline.StageFanIn, deps)}
}

func (s *FanIn) Run(ctx context.Context, ev pipeline.Event) error {
	log := s.eventLog(ev)
	channelID := ev.Ref.ChannelID

	ch, exists, err := s.loadChannel(ctx, channelID)
	if err != nil {
		log.Error("Fan-in could not read channel", "error", err)
		return err
	}
	if !exists {
		return pipeline.Skip("channel %s no longer exists", channelID)
	}
	if ch.Status != domain.StatusQueriesReady {
		return pipeline.Skip("channel %s status is %q", channelID, ch.Status)
	}

	queries, err := s.deps.Store.List(ctx, domain.QueriesPath(channelID))
	if err != nil {
		log.Error("Fan-in could not list queries", "error", err)
		return fmt.Errorf("list queries: %w", err)
	}
	completed := 0
	for _, q := range queries {
		if domain.QueryStatus(asStatus(q)) == domain.QueryCompleted {
			completed++
		}
	}
	if len(queries) == 0 || completed < len(queries) {
		log.Debug("Queries still outstanding", "completed", completed, "queries_count", len(queries))
		return nil
	}

	total, err := s.deps.Store.Count(ctx, domain.VideosPath(channelID))
	if err != nil {
		log.Error("Fan-in could not count videos", "error", err)
		return fmt.Errorf("count videos: %w", err)
	}

	err = s.deps.Store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(domain.ChannelPath(channelID))
		if err != nil {
			return err
		}
		if !snap.Exists {
			return pipeline.Skip("channel %s deleted before advance", channelID)
		}
		if st := domain.Status(asStatus(snap)); st != domain.StatusQueriesReady {
			return pipeline.Skip("channel %s already advanced to %q", channelID, st)
		}
		return tx.Update(domain.ChannelPath(channelID), map[string]any{
			domain.FieldStatus:           string(domain.StatusSelectVideos),
			domain.FieldQueriesCompleted: completed,
			domain.FieldTotalVideosFound: total,
			domain.FieldLastUpdated:      docstore.ServerTimestamp,
		})
	})
	if errors.Is(err, pipeline.ErrSkip) {
		return err
	}
	if err != nil {
		log.Error("Fan-in advance failed", "error", err)
		return fmt.Errorf("advance channel: %w", err)
	}
	log.Info("All queries completed; channel advanced to select_videos",
		"queries_completed", completed,
		"total_videos_found", total,
	)
	return nil
}

func asStatus(s *docstore.Snapshot) string {
	v, _ := s.Field(domain.FieldStatus).(string)
	return v
}
