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

// QueryGeneration turns a channel that entered "new" into a set of search queries. The
// "processing queries" status acts as a lock against duplicate deliveries; on failure the
// channel goes back to "new" so a later update can retry, until MaxQueryGenAttempts.
type QueryGeneration struct{ base }

func NewQueryGeneration(deps Deps) *QueryGeneration {
	return &QueryGeneration{newBase(pipeline.StageQueryGeneration, deps)}
}

// QueryID is the deterministic id of the i-th generated query.
func QueryID(i int) string { return fmt.Sprintf("q%02d", i) }

func (s *QueryGeneration) Run(ctx context.Context, ev pipeline.Event) error {
	log := s.eventLog(ev)
	channelID := ev.Ref.ChannelID

	var ch domain.Channel
	err := s.deps.Store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(domain.ChannelPath(channelID))
		if err != nil {
			return err
		}
		if !snap.Exists {
			return pipeline.Skip("channel %s no longer exists", channelID)
		}
		ch = domain.ChannelFromData(channelID, snap.Data)
		if ch.Status != domain.StatusNew {
			return pipeline.Skip("channel %s status is %q", channelID, ch.Status)
		}
		return tx.Update(domain.ChannelPath(channelID), map[string]any{
			domain.FieldStatus:      string(domain.StatusProcessingQueries),
			domain.FieldLastUpdated: docstore.ServerTimestamp,
		})
	})
	if errors.Is(err, pipeline.ErrSkip) {
		return err
	}
	if err != nil {
		log.Error("Query generation could not lock channel", "error", err)
		return fmt.Errorf("lock channel: %w", err)
	}

	queries, err := s.queries(ctx, ch)
	if err == nil {
		err = s.write(ctx, channelID, queries)
	}
	if err != nil {
		return s.revert(ctx, ch, err)
	}
	log.Info("Queries generated", "queries_count", len(queries))
	return nil
}

func (s *QueryGeneration) queries(ctx context.Context, ch domain.Channel) ([]string, error) {
	res, err := s.generate(ctx, ch, llm.PromptSearchQueries, llm.Input{
		Description: ch.Description,
		ChannelName: ch.ChannelName,
		MinQueries:  s.deps.MinQueries,
		MaxQueries:  s.deps.MaxQueries,
	})
	if err != nil {
		return nil, err
	}
	raw, ok := llm.Strings(llm.KeyQueries)(res)
	if !ok {
		return nil, fmt.Errorf("provider returned no parseable queries")
	}
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, q := range raw {
		key := strings.ToLower(q)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == s.deps.MaxQueries {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("provider returned zero usable queries")
	}
	return out, nil
}

// write commits the query documents and the channel advance in one batch.
func (s *QueryGeneration) write(ctx context.Context, channelID string, queries []string) error {
	createdAt := domain.NowISO(s.deps.Now())
	b := s.deps.Store.Batch()
	for i, q := range queries {
		b.Set(domain.QueryPath(channelID, QueryID(i)), map[string]any{
			domain.FieldQueryText:   q,
			domain.FieldStatus:      string(domain.QueryNew),
			domain.FieldCreatedAt:   createdAt,
			domain.FieldLastUpdated: docstore.ServerTimestamp,
		}, false)
	}
	b.Update(domain.ChannelPath(channelID), map[string]any{
		domain.FieldStatus:       string(domain.StatusQueriesReady),
		domain.FieldQueriesCount: len(queries),
		domain.FieldLastUpdated:  docstore.ServerTimestamp,
	})
	if err := b.Commit(ctx); err != nil {
		return fmt.Errorf("write queries: %w", err)
	}
	return nil
}

// revert puts the channel back to "new", or to "error" once the attempt budget is spent, and
// returns cause.
func (s *QueryGeneration) revert(ctx context.Context, ch domain.Channel, cause error) error {
	log := s.log.With("channel_id", ch.ID, "from", string(domain.StatusProcessingQueries))
	attempts := ch.QueryGenAttempts + 1
	// Each revert to new re-fires this stage; past the budget the channel errors so a
	// persistently failing provider cannot loop new -> processing queries -> new forever.
	if attempts >= int64(s.deps.MaxQueryGenAttempts) {
		log.Error("Query generation failed; attempts exhausted", "to", string(domain.StatusError), "attempts", attempts, "error", cause)
		if err := s.failChannel(ctx, ch.ID, fmt.Sprintf("query generation failed after %d attempts: %v", attempts, cause)); err != nil {
			return errors.Join(cause, err)
		}
		return cause
	}
	log.Error("Query generation failed; reverting", "to", string(domain.StatusNew), "attempts", attempts, "error", cause)
	err := s.deps.Store.Update(ctx, domain.ChannelPath(ch.ID), map[string]any{
		domain.FieldStatus:           string(domain.StatusNew),
		domain.FieldQueryGenAttempts: attempts,
		domain.FieldLastUpdated:      docstore.ServerTimestamp,
	})
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return errors.Join(cause, fmt.Errorf("revert channel: %w", err))
	}
	return cause
}
