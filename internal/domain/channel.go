package domain

import (
	"strings"
	"time"
)

// Channel document fields.
const (
	FieldDescription         = "description"
	FieldChannelName         = "channelName"
	FieldChannelNumber       = "channelNumber"
	FieldStatus              = "status"
	FieldProvider            = "provider"
	FieldModel               = "model"
	FieldQueriesCount        = "queriesCount"
	FieldQueriesCompleted    = "queriesCompleted"
	FieldTotalVideosFound    = "totalVideosFound"
	FieldSelectedVideosCount = "selectedVideosCount"
	FieldDeletedVideosCount  = "deletedVideosCount"
	FieldError               = "error"
	FieldCreatedAt           = "createdAt"
	FieldLastUpdated         = "lastUpdated"
	FieldUpdatedAt           = "updatedAt"
	// FieldQueryGenAttempts counts query-generation reverts so a failing provider cannot
	// loop the new -> processing queries -> new cycle forever.
	FieldQueryGenAttempts = "queryGenerationAttempts"
)

// Channel is a user-defined topical collection of videos curated by the pipeline.
type Channel struct {
	ID                  string `json:"id"`
	Description         string `json:"description"`
	ChannelName         string `json:"channelName,omitempty"`
	ChannelNumber       int64  `json:"channelNumber,omitempty"`
	Status              Status `json:"status"`
	Provider            string `json:"provider,omitempty"`
	Model               string `json:"model,omitempty"`
	QueriesCount        int64  `json:"queriesCount,omitempty"`
	QueriesCompleted    int64  `json:"queriesCompleted,omitempty"`
	TotalVideosFound    int64  `json:"totalVideosFound,omitempty"`
	SelectedVideosCount int64  `json:"selectedVideosCount,omitempty"`
	DeletedVideosCount  int64  `json:"deletedVideosCount,omitempty"`
	Error               string `json:"error,omitempty"`
	CreatedAt           string `json:"createdAt,omitempty"`
	QueryGenAttempts    int64  `json:"queryGenerationAttempts,omitempty"`
}

// ChannelFromData decodes a channel document. Unknown or mistyped fields decode to zero.
func ChannelFromData(id string, data map[string]any) Channel {
	return Channel{
		ID:                  id,
		Description:         asString(data[FieldDescription]),
		ChannelName:         asString(data[FieldChannelName]),
		ChannelNumber:       asInt64(data[FieldChannelNumber]),
		Status:              Status(asString(data[FieldStatus])),
		Provider:            asString(data[FieldProvider]),
		Model:               asString(data[FieldModel]),
		QueriesCount:        asInt64(data[FieldQueriesCount]),
		QueriesCompleted:    asInt64(data[FieldQueriesCompleted]),
		TotalVideosFound:    asInt64(data[FieldTotalVideosFound]),
		SelectedVideosCount: asInt64(data[FieldSelectedVideosCount]),
		DeletedVideosCount:  asInt64(data[FieldDeletedVideosCount]),
		Error:               asString(data[FieldError]),
		CreatedAt:           timeString(data[FieldCreatedAt]),
		QueryGenAttempts:    asInt64(data[FieldQueryGenAttempts]),
	}
}

// CreatedTime parses createdAt. ok is false when it is missing or unparseable.
func (c Channel) CreatedTime() (time.Time, bool) {
	s := strings.TrimSpace(c.CreatedAt)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// NextChannelNumber reads the counter document; an absent or non-positive value is 1.
func NextChannelNumber(data map[string]any) int64 {
	n := asInt64(data[FieldNextChannelNumber])
	if n < 1 {
		return 1
	}
	return n
}
