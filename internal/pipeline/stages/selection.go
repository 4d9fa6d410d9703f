package stages

import (
	"context"
	"fmt"

	"github.com/whytv-ai/whytv-backend/internal/docstore"
	"github.com/whytv-ai/whytv-backend/internal/domain"
	"github.com/whytv-ai/whytv-backend/internal/llm"
	"github.com/whytv-ai/whytv-backend/internal/pipeline"
)

// Selection asks the provider which candidates to keep and soft-deletes the rest. Videos
// deleted in an earlier pass are shown to the provider again and may be restored.
type Selection struct{ base }

func NewSelection(deps Deps) *Selection {
	return &Selection{newBase(pipeline.StageSelection, deps)}
}

func (s *Selection) Run(ctx context.Context, ev pipeline.Event) error {
	log := s.eventLog(ev)
	channelID := ev.Ref.ChannelID

	ch, exists, err := s.loadChannel(ctx, channelID)
	if err != nil {
		log.Error("Selection could not read channel", "error", err)
		return err
	}
	if !exists {
		return pipeline.Skip("channel %s no longer exists", channelID)
	}
	if ch.Status != domain.StatusSelectVideos {
		return pipeline.Skip("channel %s status is %q", channelID, ch.Status)
	}

	kept, deleted, err := s.selectVideos(ctx, ch)
	if err != nil {
		log.Error("Video selection failed", "to", string(domain.StatusError), "error", err)
		if ferr := s.failChannel(ctx, channelID, err.Error()); ferr != nil {
			log.Error("Could not record selection failure", "error", ferr)
			return ferr
		}
		return nil
	}
	log.Info("Videos selected", "selected_videos_count", kept, "deleted_videos_count", deleted)
	return nil
}

func (s *Selection) selectVideos(ctx context.Context, ch domain.Channel) (kept, deleted int, err error) {
	videos, err := s.loadVideos(ctx, ch.ID)
	if err != nil {
		return 0, 0, err
	}

	keep := map[string]bool{}
	if len(videos) > 0 {
		payload, err := videosJSON(videos)
		if err != nil {
			return 0, 0, err
		}
		res, err := s.generate(ctx, ch, llm.PromptSelectVideos, llm.Input{
			Description: ch.Description,
			ChannelName: ch.ChannelName,
			VideosJSON:  payload,
		})
		if err != nil {
			return 0, 0, err
		}
		ids, ok := llm.Strings(llm.KeyKeepIDs)(res)
		if !ok {
			return 0, 0, fmt.Errorf("provider returned no parseable video selection")
		}
		for _, id := range ids {
			keep[id] = true
		}
	}

	w := docstore.NewChunkedWriter(s.deps.Store)
	for _, v := range videos {
		del := !keep[v.ID]
		if del {
			deleted++
		} else {
			kept++
		}
		if err := w.Update(ctx, domain.VideoPath(ch.ID, v.ID), map[string]any{
			domain.FieldDeleted:     del,
			domain.FieldLastUpdated: docstore.ServerTimestamp,
		}); err != nil {
			return 0, 0, fmt.Errorf("mark videos: %w", err)
		}
	}
	if err := w.Update(ctx, domain.ChannelPath(ch.ID), map[string]any{
		domain.FieldStatus:              string(domain.StatusVideosSelected),
		domain.FieldSelectedVideosCount: kept,
		domain.FieldDeletedVideosCount:  deleted,
		domain.FieldLastUpdated:         docstore.ServerTimestamp,
	}); err != nil {
		return 0, 0, fmt.Errorf("advance channel: %w", err)
	}
	if err := w.Flush(ctx); err != nil {
		return 0, 0, fmt.Errorf("advance channel: %w", err)
	}
	return kept, deleted, nil
}
