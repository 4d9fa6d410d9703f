package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/whytv-ai/whytv-backend/internal/docstore"
	"github.com/whytv-ai/whytv-backend/internal/domain"
	"github.com/whytv-ai/whytv-backend/internal/platform/apierr"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
)

const maxDescriptionLen = 2000

type CreateChannelInput struct {
	Description string `json:"description"`
	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`
}

// ChannelView is a channel with its playlist.
type ChannelView struct {
	Channel domain.Channel `json:"channel"`
	Videos  []domain.Video `json:"videos"`
}

type ChannelService interface {
	Create(ctx context.Context, in CreateChannelInput) (domain.Channel, error)
	Get(ctx context.Context, channelID string) (ChannelView, error)
	// Retry re-enters the pipeline at status (new or select_videos) for a channel that is in
	// error or already available.
	Retry(ctx context.Context, channelID string, status domain.Status) (domain.Channel, error)
}

type channelService struct {
	store     docstore.Store
	log       *logger.Logger
	providers map[string]bool
	now       func() time.Time
}

// NewChannelService accepts any provider name when providers is empty.
func NewChannelService(store docstore.Store, baseLog *logger.Logger, providers []string) ChannelService {
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	known := map[string]bool{}
	for _, p := range providers {
		known[strings.ToLower(p)] = true
	}
	return &channelService{
		store:     store,
		log:       baseLog.With("service", "ChannelService"),
		providers: known,
		now:       time.Now,
	}
}

func (s *channelService) Create(ctx context.Context, in CreateChannelInput) (domain.Channel, error) {
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return domain.Channel{}, apierr.BadRequest("invalid_description", errors.New("description is required"))
	}
	if len(desc) > maxDescriptionLen {
		return domain.Channel{}, apierr.BadRequest("invalid_description", fmt.Errorf("description exceeds %d characters", maxDescriptionLen))
	}
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider != "" && len(s.providers) > 0 && !s.providers[provider] {
		return domain.Channel{}, apierr.BadRequest("invalid_provider", fmt.Errorf("unknown provider %q", in.Provider))
	}

	id := s.store.NewID(domain.ChannelsCollection)
	createdAt := domain.NowISO(s.now())
	data := map[string]any{
		domain.FieldDescription: desc,
		domain.FieldStatus:      string(domain.StatusPending),
		domain.FieldCreatedAt:   createdAt,
	}
	if provider != "" {
		data[domain.FieldProvider] = provider
	}
	if model := strings.TrimSpace(in.Model); model != "" {
		data[domain.FieldModel] = model
	}
	if err := s.store.Create(ctx, domain.ChannelPath(id), data); err != nil {
		s.log.Error("Create channel failed", "error", err)
		return domain.Channel{}, fmt.Errorf("create channel: %w", err)
	}
	s.log.Info("Channel created", "channel_id", id, "provider", provider)
	return domain.ChannelFromData(id, data), nil
}

func (s *channelService) Get(ctx context.Context, channelID string) (ChannelView, error) {
	snap, err := s.store.Get(ctx, domain.ChannelPath(channelID))
	if err != nil {
		return ChannelView{}, fmt.Errorf("get channel: %w", err)
	}
	if !snap.Exists {
		return ChannelView{}, apierr.NotFound("channel_not_found", fmt.Errorf("channel %s not found", channelID))
	}
	docs, err := s.store.List(ctx, domain.VideosPath(channelID))
	if err != nil {
		return ChannelView{}, fmt.Errorf("list videos: %w", err)
	}
	videos := make([]domain.Video, 0, len(docs))
	for _, d := range docs {
		v := domain.VideoFromData(d.ID, d.Data)
		if !v.Deleted {
			videos = append(videos, v)
		}
	}
	SortPlaylist(videos)
	return ChannelView{Channel: domain.ChannelFromData(snap.ID, snap.Data), Videos: videos}, nil
}

// SortPlaylist orders ranked videos by order, then unranked ones by id.
func SortPlaylist(videos []domain.Video) {
	sort.SliceStable(videos, func(i, j int) bool {
		a, b := videos[i].Order, videos[j].Order
		switch {
		case a != nil && b != nil && *a != *b:
			return *a < *b
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return videos[i].ID < videos[j].ID
	})
}

func (s *channelService) Retry(ctx context.Context, channelID string, status domain.Status) (domain.Channel, error) {
	if !status.Valid() || (status != domain.StatusNew && status != domain.StatusSelectVideos) {
		return domain.Channel{}, apierr.BadRequest("invalid_status", fmt.Errorf("retry status must be %q or %q", domain.StatusNew, domain.StatusSelectVideos))
	}
	log := s.log.With("channel_id", channelID, "to", string(status))

	snap, err := s.store.Get(ctx, domain.ChannelPath(channelID))
	if err != nil {
		return domain.Channel{}, fmt.Errorf("get channel: %w", err)
	}
	if !snap.Exists {
		return domain.Channel{}, apierr.NotFound("channel_not_found", fmt.Errorf("channel %s not found", channelID))
	}
	current := domain.ChannelFromData(snap.ID, snap.Data)
	if !retryableFrom(current.Status, status) {
		return domain.Channel{}, apierr.Conflict("channel_in_progress", fmt.Errorf("channel is %q", current.Status))
	}

	// A reset to new parks the channel in resetting, removes the old query documents so their
	// create triggers fire again, and only then enters new. Videos are kept.
	target := status
	if status == domain.StatusNew {
		target = domain.StatusResetting
	}
	if err := s.swapStatus(ctx, channelID, current.Status, target, map[string]any{
		domain.FieldError:            "",
		domain.FieldQueryGenAttempts: 0,
	}); err != nil {
		log.Warn("Channel retry rejected", "error", err)
		return domain.Channel{}, err
	}
	if status == domain.StatusNew {
		if err := s.clearQueries(ctx, channelID); err != nil {
			log.Error("Clear channel queries failed; channel left in resetting", "error", err)
			return domain.Channel{}, err
		}
		if err := s.swapStatus(ctx, channelID, domain.StatusResetting, domain.StatusNew, nil); err != nil {
			log.Error("Channel reset could not enter new", "error", err)
			return domain.Channel{}, err
		}
	}

	log.Info("Channel retry requested", "from", string(current.Status))
	current.Status = status
	current.Error = ""
	current.QueryGenAttempts = 0
	return current, nil
}

// retryableFrom is true for finished channels and for a reset to new that was interrupted.
func retryableFrom(from, to domain.Status) bool {
	switch from {
	case domain.StatusError, domain.StatusAvailable:
		return true
	case domain.StatusResetting:
		return to == domain.StatusNew
	}
	return false
}

// swapStatus moves the channel from one status to another in a transaction and rejects the
// write when the stored status is no longer from.
func (s *channelService) swapStatus(ctx context.Context, channelID string, from, to domain.Status, extra map[string]any) error {
	fields := map[string]any{
		domain.FieldStatus:      string(to),
		domain.FieldLastUpdated: docstore.ServerTimestamp,
	}
	for k, v := range extra {
		fields[k] = v
	}
	return s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(domain.ChannelPath(channelID))
		if err != nil {
			return err
		}
		if !snap.Exists {
			return apierr.NotFound("channel_not_found", fmt.Errorf("channel %s not found", channelID))
		}
		if st := domain.ChannelFromData(snap.ID, snap.Data).Status; st != from {
			return apierr.Conflict("channel_changed", fmt.Errorf("channel moved to %q", st))
		}
		return tx.Update(domain.ChannelPath(channelID), fields)
	})
}

func (s *channelService) clearQueries(ctx context.Context, channelID string) error {
	coll := domain.QueriesPath(channelID)
	docs, err := s.store.List(ctx, coll)
	if err != nil {
		return fmt.Errorf("list %s: %w", coll, err)
	}
	w := docstore.NewChunkedWriter(s.store)
	for _, d := range docs {
		if err := w.Delete(ctx, coll+"/"+d.ID); err != nil {
			return fmt.Errorf("delete %s/%s: %w", coll, d.ID, err)
		}
	}
	return w.Flush(ctx)
}
