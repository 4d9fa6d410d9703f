package pipeline

import "github.com/whytv-ai/whytv-backend/internal/domain"

const (
	StageBootstrap       = "bootstrap"
	StageQueryGeneration = "query_generation"
	StageQueryExecution  = "query_execution"
	StageFanIn           = "fan_in"
	StageSelection       = "video_selection"
	StageFinalize        = "playlist_finalization"
	StageCleanup         = "cleanup"
)

// Transition is one row of the state machine: the trigger a stage listens on, the status the
// watched document must have just entered (empty for create and scheduled triggers), and the
// status the stage writes on success.
type Transition struct {
	Stage    string
	Trigger  Trigger
	Entered  string
	Produces string
}

// Matches is the entry guard. For update triggers the status must have changed and landed on
// Entered, so repeated deliveries and unrelated field writes are no-ops.
func (t Transition) Matches(ev Event) bool {
	if ev.Trigger != t.Trigger {
		return false
	}
	switch t.Trigger.Kind {
	case Created:
		return ev.After != nil && ev.After.Exists
	case Updated:
		before, after := ev.BeforeStatus(), ev.AfterStatus()
		return before != after && after == t.Entered
	default:
		return true
	}
}

var Transitions = []Transition{
	{Stage: StageBootstrap, Trigger: ChannelCreated, Produces: string(domain.StatusNew)},
	{Stage: StageQueryGeneration, Trigger: ChannelUpdated, Entered: string(domain.StatusNew), Produces: string(domain.StatusQueriesReady)},
	{Stage: StageQueryExecution, Trigger: QueryCreated, Produces: string(domain.QueryCompleted)},
	{Stage: StageFanIn, Trigger: QueryUpdated, Entered: string(domain.QueryCompleted), Produces: string(domain.StatusSelectVideos)},
	{Stage: StageSelection, Trigger: ChannelUpdated, Entered: string(domain.StatusSelectVideos), Produces: string(domain.StatusVideosSelected)},
	{Stage: StageFinalize, Trigger: ChannelUpdated, Entered: string(domain.StatusVideosSelected), Produces: string(domain.StatusAvailable)},
	{Stage: StageCleanup, Trigger: CleanupTick},
}

// TransitionFor returns the table row of a stage. It panics on an unknown stage name, which
// only happens through a programming error at wiring time.
func TransitionFor(stage string) Transition {
	for _, t := range Transitions {
		if t.Stage == stage {
			return t
		}
	}
	panic("pipeline: no transition for stage " + stage)
}
