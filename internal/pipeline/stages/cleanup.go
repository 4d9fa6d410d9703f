package stages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/whytv-ai/whytv-backend/internal/docstore"
	"github.com/whytv-ai/whytv-backend/internal/domain"
	"github.com/whytv-ai/whytv-backend/internal/pipeline"
)

// Cleanup deletes channel documents that are malformed or stuck in pending. Queries and
// videos under a deleted channel are left in place.
type Cleanup struct{ base }

func NewCleanup(deps Deps) *Cleanup {
	return &Cleanup{newBase(pipeline.StageCleanup, deps)}
}

type SweepResult struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
}

func (s *Cleanup) Run(ctx context.Context, _ pipeline.Event) error {
	_, err := s.Sweep(ctx)
	return err
}

func (s *Cleanup) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	snaps, err := s.deps.Store.List(ctx, domain.ChannelsCollection)
	if err != nil {
		s.log.Error("Cleanup could not list channels", "error", err)
		return res, fmt.Errorf("list channels: %w", err)
	}
	now := s.deps.Now()
	w := docstore.NewChunkedWriter(s.deps.Store)
	for _, snap := range snaps {
		if !snap.Exists {
			continue
		}
		res.Scanned++
		ch := domain.ChannelFromData(snap.ID, snap.Data)
		reason := s.invalidReason(ch, now)
		if reason == "" {
			continue
		}
		s.log.Info("Deleting channel", "channel_id", ch.ID, "reason", reason)
		if err := w.Delete(ctx, domain.ChannelPath(snap.ID)); err != nil {
			s.log.Error("Cleanup batch failed", "error", err, "deleted", w.Committed())
			res.Deleted = w.Committed()
			return res, err
		}
	}
	if err := w.Flush(ctx); err != nil {
		s.log.Error("Cleanup final batch failed", "error", err, "deleted", w.Committed())
		res.Deleted = w.Committed()
		return res, err
	}
	res.Deleted = w.Committed()
	s.log.Info("Cleanup sweep finished", "scanned", res.Scanned, "deleted", res.Deleted, "batches", w.Commits())
	return res, nil
}

// invalidReason is empty for a channel the sweep keeps.
func (s *Cleanup) invalidReason(ch domain.Channel, now time.Time) string {
	switch {
	case strings.TrimSpace(ch.Description) == "":
		return "missing description"
	case strings.TrimSpace(ch.ChannelName) == "":
		return "missing channelName"
	case strings.TrimSpace(string(ch.Status)) == "":
		return "missing status"
	}
	if ch.Status == domain.StatusPending {
		if created, ok := ch.CreatedTime(); ok && now.Sub(created) > s.deps.StuckPendingAfter {
			return "stuck in pending"
		}
	}
	return ""
}
