package domain

const (
	FieldVideoID      = "videoId"
	FieldTitle        = "title"
	FieldChannelTitle = "channelTitle"
	FieldPublishedAt  = "publishedAt"
	FieldThumbnails   = "thumbnails"
	FieldDeleted      = "deleted"
	FieldOrder        = "order"
)

type Thumbnail struct {
	URL    string `json:"url"`
	Width  int64  `json:"width"`
	Height int64  `json:"height"`
}

// Thumbnails carries the three size variants the UI renders.
type Thumbnails struct {
	Default Thumbnail `json:"default"`
	Medium  Thumbnail `json:"medium"`
	High    Thumbnail `json:"high"`
}

// SearchResult is one candidate video returned by the search provider.
type SearchResult struct {
	ExternalID   string
	Title        string
	Description  string
	ChannelTitle string
	PublishedAt  string
	Thumbnails   Thumbnails
}

// VideoData renders the fields a search writes onto channels/{id}/videos/{externalID}.
// deleted and order are owned by later stages and intentionally absent.
func (r SearchResult) VideoData() map[string]any {
	return map[string]any{
		FieldVideoID:      r.ExternalID,
		FieldTitle:        r.Title,
		FieldDescription:  r.Description,
		FieldChannelTitle: r.ChannelTitle,
		FieldPublishedAt:  r.PublishedAt,
		FieldThumbnails: map[string]any{
			"default": thumbnailData(r.Thumbnails.Default),
			"medium":  thumbnailData(r.Thumbnails.Medium),
			"high":    thumbnailData(r.Thumbnails.High),
		},
	}
}

func thumbnailData(t Thumbnail) map[string]any {
	return map[string]any{"url": t.URL, "width": t.Width, "height": t.Height}
}

// Video is a candidate or curated playlist entry, keyed by its platform id.
type Video struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	ChannelTitle string     `json:"channelTitle,omitempty"`
	PublishedAt  string     `json:"publishedAt,omitempty"`
	Thumbnails   Thumbnails `json:"thumbnails"`
	Deleted      bool       `json:"deleted"`
	// Order is nil until playlist finalization ranks the video.
	Order *int64 `json:"order,omitempty"`
}

func VideoFromData(id string, data map[string]any) Video {
	v := Video{
		ID:           id,
		Title:        asString(data[FieldTitle]),
		Description:  asString(data[FieldDescription]),
		ChannelTitle: asString(data[FieldChannelTitle]),
		PublishedAt:  asString(data[FieldPublishedAt]),
		Deleted:      asBool(data[FieldDeleted]),
	}
	if raw, ok := data[FieldOrder]; ok && raw != nil {
		o := asInt64(raw)
		v.Order = &o
	}
	if th, ok := data[FieldThumbnails].(map[string]any); ok {
		v.Thumbnails = Thumbnails{
			Default: thumbnailFromData(th["default"]),
			Medium:  thumbnailFromData(th["medium"]),
			High:    thumbnailFromData(th["high"]),
		}
	}
	return v
}

func thumbnailFromData(raw any) Thumbnail {
	m, ok := raw.(map[string]any)
	if !ok {
		return Thumbnail{}
	}
	return Thumbnail{
		URL:    asString(m["url"]),
		Width:  asInt64(m["width"]),
		Height: asInt64(m["height"]),
	}
}
