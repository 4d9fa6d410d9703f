// Package youtube is the search provider backed by the YouTube Data API v3.
package youtube

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/whytv-ai/whytv-backend/internal/domain"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
)

// DefaultMaxResults is the per-query result cap.
const DefaultMaxResults = 10

// Searcher runs keyword searches. Search never fails: any API error degrades to an empty
// result so a query still completes.
type Searcher struct {
	log     *logger.Logger
	service *youtube.Service
}

func NewSearcher(ctx context.Context, log *logger.Logger, apiKey string, opts ...option.ClientOption) (*Searcher, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("api key required")
	}
	if log == nil {
		log = logger.Nop()
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return &Searcher{log: log.With("service", "YouTubeSearch"), service: service}, nil
}

func (s *Searcher) Search(ctx context.Context, query string, maxResults int) []domain.SearchResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if maxResults > 50 {
		maxResults = 50
	}

	resp, err := s.service.Search.List([]string{"snippet"}).
		Q(query).
		Type("video").
		MaxResults(int64(maxResults)).
		Context(ctx).
		Do()
	if err != nil {
		s.log.Warn("youtube search failed; returning no results", "query", query, "error", err)
		return nil
	}

	out := make([]domain.SearchResult, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item == nil || item.Id == nil || item.Id.VideoId == "" {
			continue
		}
		r := domain.SearchResult{ExternalID: item.Id.VideoId}
		if sn := item.Snippet; sn != nil {
			r.Title = sn.Title
			r.Description = sn.Description
			r.ChannelTitle = sn.ChannelTitle
			r.PublishedAt = sn.PublishedAt
			if th := sn.Thumbnails; th != nil {
				r.Thumbnails = domain.Thumbnails{
					Default: thumb(th.Default),
					Medium:  thumb(th.Medium),
					High:    thumb(th.High),
				}
			}
		}
		out = append(out, r)
	}
	return out
}

func thumb(t *youtube.Thumbnail) domain.Thumbnail {
	if t == nil {
		return domain.Thumbnail{}
	}
	return domain.Thumbnail{URL: t.Url, Width: t.Width, Height: t.Height}
}
