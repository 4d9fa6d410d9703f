package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/whytv-ai/whytv-backend/internal/docstore"
	"github.com/whytv-ai/whytv-backend/internal/domain"
	"github.com/whytv-ai/whytv-backend/internal/llm"
	"github.com/whytv-ai/whytv-backend/internal/pipeline"
)

// Bootstrap names a freshly created channel and gives it the next channel number. A channel
// without a description, or one the provider cannot name, is deleted.
type Bootstrap struct{ base }

func NewBootstrap(deps Deps) *Bootstrap {
	return &Bootstrap{newBase(pipeline.StageBootstrap, deps)}
}

func (s *Bootstrap) Run(ctx context.Context, ev pipeline.Event) error {
	log := s.eventLog(ev)
	channelID := ev.Ref.ChannelID
	ch, exists, err := s.loadChannel(ctx, channelID)
	if err != nil {
		log.Error("Bootstrap could not read channel", "error", err)
		return err
	}
	if !exists {
		return pipeline.Skip("channel %s no longer exists", channelID)
	}
	if ch.ChannelNumber > 0 {
		return pipeline.Skip("channel %s already numbered %d", channelID, ch.ChannelNumber)
	}
	if strings.TrimSpace(ch.Description) == "" {
		log.Warn("Channel has no description; deleting")
		if err := s.deleteChannel(ctx, channelID); err != nil {
			log.Error("Delete of invalid channel failed", "error", err)
			return err
		}
		return nil
	}

	res, err := s.generate(ctx, ch, llm.PromptChannelName, llm.Input{Description: ch.Description})
	if err != nil {
		return s.abort(ctx, channelID, fmt.Errorf("generate channel name: %w", err))
	}
	name, ok := llm.Text(llm.KeyChannelName)(res)
	if !ok {
		log.Warn("Provider returned no usable channel name; deleting")
		if err := s.deleteChannel(ctx, channelID); err != nil {
			log.Error("Delete of unnamed channel failed", "error", err)
			return err
		}
		return nil
	}

	var number int64
	err = s.deps.Store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		chSnap, err := tx.Get(domain.ChannelPath(channelID))
		if err != nil {
			return err
		}
		if !chSnap.Exists {
			return pipeline.Skip("channel %s deleted before numbering", channelID)
		}
		if cur := domain.ChannelFromData(channelID, chSnap.Data); cur.ChannelNumber > 0 {
			return pipeline.Skip("channel %s numbered concurrently (%d)", channelID, cur.ChannelNumber)
		}
		counter, err := tx.Get(domain.CounterPath)
		if err != nil {
			return err
		}
		number = domain.NextChannelNumber(counter.Data)

		if err := tx.Update(domain.ChannelPath(channelID), map[string]any{
			domain.FieldChannelName:   name,
			domain.FieldChannelNumber: number,
			domain.FieldStatus:        string(domain.StatusNew),
			domain.FieldLastUpdated:   docstore.ServerTimestamp,
		}); err != nil {
			return err
		}
		return tx.Set(domain.CounterPath, map[string]any{
			domain.FieldNextChannelNumber: number + 1,
		}, true)
	})
	if errors.Is(err, pipeline.ErrSkip) {
		return err
	}
	if err != nil {
		return s.abort(ctx, channelID, fmt.Errorf("assign channel number: %w", err))
	}

	log.Info("Channel bootstrapped", "channel_name", name, "channel_number", number)
	return nil
}

// abort deletes the channel after a failure and returns cause so the trigger layer retries.
func (s *Bootstrap) abort(ctx context.Context, channelID string, cause error) error {
	log := s.log.With("channel_id", channelID)
	log.Error("Bootstrap failed; deleting channel", "error", cause)
	if err := s.deleteChannel(ctx, channelID); err != nil {
		log.Error("Delete after bootstrap failure failed", "error", err)
	}
	return cause
}

func (s *Bootstrap) deleteChannel(ctx context.Context, channelID string) error {
	if err := s.deps.Store.Delete(ctx, domain.ChannelPath(channelID)); err != nil {
		return fmt.Errorf("delete channel %s: %w", channelID, err)
	}
	return nil
}
