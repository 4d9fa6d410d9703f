package domain

// Status is the channel state machine value persisted in channels/{id}.status.
type Status string

const (
	// StatusPending is what clients write on create, before bootstrap runs.
	StatusPending           Status = "pending"
	StatusNew               Status = "new"
	StatusProcessingQueries Status = "processing queries"
	StatusQueriesReady      Status = "queries ready"
	StatusSelectVideos      Status = "select_videos"
	StatusVideosSelected    Status = "videos_selected"
	StatusAvailable         Status = "available"
	StatusError             Status = "error"

	// StatusResetting holds a channel while an operator reset to new clears its queries.
	// No stage listens for it.
	StatusResetting Status = "resetting"
)

func (s Status) String() string { return string(s) }

// Valid reports whether s is a status this service writes or accepts.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusNew, StatusProcessingQueries, StatusQueriesReady,
		StatusSelectVideos, StatusVideosSelected, StatusAvailable, StatusError, StatusResetting:
		return true
	}
	return false
}

// QueryStatus is the per-query search state.
type QueryStatus string

const (
	QueryNew       QueryStatus = "new"
	QuerySearching QueryStatus = "searching"
	QueryCompleted QueryStatus = "completed"
	QueryError     QueryStatus = "error"
)
