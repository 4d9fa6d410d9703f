package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/whytv-ai/whytv-backend/internal/docstore"
	"github.com/whytv-ai/whytv-backend/internal/domain"
	"github.com/whytv-ai/whytv-backend/internal/llm"
	"github.com/whytv-ai/whytv-backend/internal/pipeline"
)

var errNoVideos = errors.New("no videos found for channel; playlist not published")

// Finalize orders the kept videos and publishes the channel.
type Finalize struct{ base }

func NewFinalize(deps Deps) *Finalize {
	return &Finalize{newBase(pipeline.StageFinalize, deps)}
}

func (s *Finalize) Run(ctx context.Context, ev pipeline.Event) error {
	log := s.eventLog(ev)
	channelID := ev.Ref.ChannelID

	ch, exists, err := s.loadChannel(ctx, channelID)
	if err != nil {
		log.Error("Finalize could not read channel", "error", err)
		return err
	}
	if !exists {
		return pipeline.Skip("channel %s no longer exists", channelID)
	}
	if ch.Status != domain.StatusVideosSelected {
		return pipeline.Skip("channel %s status is %q", channelID, ch.Status)
	}

	ranked, err := s.finalize(ctx, ch)
	if errors.Is(err, errNoVideos) {
		log.Warn("Nothing to publish", "to", string(domain.StatusError))
		return s.failChannel(ctx, channelID, err.Error())
	}
	if err != nil {
		log.Error("Playlist finalization failed", "to", string(domain.StatusError), "error", err)
		if ferr := s.failChannel(ctx, channelID, err.Error()); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}
	log.Info("Playlist published", "ranked_videos", ranked)
	return nil
}

func (s *Finalize) finalize(ctx context.Context, ch domain.Channel) (int, error) {
	videos, err := s.loadVideos(ctx, ch.ID)
	if err != nil {
		return 0, err
	}
	kept := make([]domain.Video, 0, len(videos))
	for _, v := range videos {
		if !v.Deleted {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return 0, errNoVideos
	}

	payload, err := videosJSON(kept)
	if err != nil {
		return 0, err
	}
	res, err := s.generate(ctx, ch, llm.PromptOrderPlaylist, llm.Input{
		Description: ch.Description,
		ChannelName: ch.ChannelName,
		VideosJSON:  payload,
	})
	if err != nil {
		return 0, err
	}
	order, ok := llm.Strings(llm.KeyOrderedIDs)(res)
	if !ok {
		return 0, fmt.Errorf("provider returned no parseable playlist order")
	}
	ranks := Rank(order, kept)

	w := docstore.NewChunkedWriter(s.deps.Store)
	for _, v := range videos {
		rank, ok := ranks[v.ID]
		if !ok {
			rank = len(videos)
		}
		if err := w.Update(ctx, domain.VideoPath(ch.ID, v.ID), map[string]any{
			domain.FieldOrder:       rank,
			domain.FieldLastUpdated: docstore.ServerTimestamp,
		}); err != nil {
			return 0, fmt.Errorf("write order: %w", err)
		}
	}
	if err := w.Update(ctx, domain.ChannelPath(ch.ID), map[string]any{
		domain.FieldStatus:      string(domain.StatusAvailable),
		domain.FieldUpdatedAt:   docstore.ServerTimestamp,
		domain.FieldLastUpdated: docstore.ServerTimestamp,
	}); err != nil {
		return 0, fmt.Errorf("publish channel: %w", err)
	}
	if err := w.Flush(ctx); err != nil {
		return 0, fmt.Errorf("publish channel: %w", err)
	}
	return len(ranks), nil
}

// Rank maps each id in order to its position among the candidates. Ids that match no
// candidate and repeats of an id already ranked are dropped, so ranks are 0..K-1 without gaps.
func Rank(order []string, candidates []domain.Video) map[string]int {
	known := make(map[string]bool, len(candidates))
	for _, v := range candidates {
		known[v.ID] = true
	}
	ranks := make(map[string]int, len(order))
	for _, id := range order {
		if !known[id] {
			continue
		}
		if _, dup := ranks[id]; dup {
			continue
		}
		ranks[id] = len(ranks)
	}
	return ranks
}
