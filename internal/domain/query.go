package domain

const (
	FieldQueryText    = "queryText"
	FieldResultsCount = "resultsCount"
)

// Query is one generated search string under a channel.
type Query struct {
	ID           string      `json:"id"`
	ChannelID    string      `json:"channelId"`
	QueryText    string      `json:"queryText"`
	Status       QueryStatus `json:"status"`
	ResultsCount int64       `json:"resultsCount,omitempty"`
	Error        string      `json:"error,omitempty"`
	CreatedAt    string      `json:"createdAt,omitempty"`
}

func QueryFromData(channelID, id string, data map[string]any) Query {
	return Query{
		ID:           id,
		ChannelID:    channelID,
		QueryText:    asString(data[FieldQueryText]),
		Status:       QueryStatus(asString(data[FieldStatus])),
		ResultsCount: asInt64(data[FieldResultsCount]),
		Error:        asString(data[FieldError]),
		CreatedAt:    asString(data[FieldCreatedAt]),
	}
}
