// Package domain holds the persisted document shapes of the channel pipeline. Field name
// constants are the wire contract shared with the UI; change them only together.
package domain

import (
	"strings"
	"time"
)

const (
	ChannelsCollection = "channels"
	QueriesCollection  = "queries"
	VideosCollection   = "videos"

	// CounterPath is the singleton document holding the next channel number.
	CounterPath            = "counters/channels"
	FieldNextChannelNumber = "nextChannelNumber"
)

// ChannelPath returns "channels/{id}".
func ChannelPath(channelID string) string {
	return ChannelsCollection + "/" + channelID
}

// QueriesPath returns the query sub-collection of a channel.
func QueriesPath(channelID string) string {
	return ChannelPath(channelID) + "/" + QueriesCollection
}

// QueryPath returns "channels/{id}/queries/{queryID}".
func QueryPath(channelID, queryID string) string {
	return QueriesPath(channelID) + "/" + queryID
}

// VideosPath returns the video sub-collection of a channel.
func VideosPath(channelID string) string {
	return ChannelPath(channelID) + "/" + VideosCollection
}

// VideoPath returns "channels/{id}/videos/{externalID}".
func VideoPath(channelID, externalID string) string {
	return VideosPath(channelID) + "/" + externalID
}

// DocRef is a parsed document path within the channel tree.
type DocRef struct {
	ChannelID  string
	Collection string // "", QueriesCollection or VideosCollection
	ChildID    string
}

// ParseDocPath splits a store path ("channels/a", "channels/a/queries/q") into its parts.
// ok is false for paths outside the channel tree.
func ParseDocPath(path string) (DocRef, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] != ChannelsCollection || parts[1] == "" {
		return DocRef{}, false
	}
	switch len(parts) {
	case 2:
		return DocRef{ChannelID: parts[1]}, true
	case 4:
		if parts[3] == "" || (parts[2] != QueriesCollection && parts[2] != VideosCollection) {
			return DocRef{}, false
		}
		return DocRef{ChannelID: parts[1], Collection: parts[2], ChildID: parts[3]}, true
	default:
		return DocRef{}, false
	}
}

// NowISO renders t the way the UI writes createdAt.
func NowISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
