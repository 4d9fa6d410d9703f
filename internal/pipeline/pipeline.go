// Package pipeline is the trigger-to-stage runtime: the event shape every stage receives,
// the transition table that says which status change each stage reacts to, the registry
// that fans an event out to matching stages, and the runner that wraps each invocation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/whytv-ai/whytv-backend/internal/docstore"
	"github.com/whytv-ai/whytv-backend/internal/domain"
)

type Kind string

const (
	Created   Kind = "created"
	Updated   Kind = "updated"
	Scheduled Kind = "scheduled"
)

// Trigger names the document collection and change kind a stage subscribes to. Scheduled
// triggers carry the job name in Collection.
type Trigger struct {
	Collection string
	Kind       Kind
}

func (t Trigger) String() string { return t.Collection + "." + string(t.Kind) }

var (
	ChannelCreated = Trigger{Collection: domain.ChannelsCollection, Kind: Created}
	ChannelUpdated = Trigger{Collection: domain.ChannelsCollection, Kind: Updated}
	QueryCreated   = Trigger{Collection: domain.QueriesCollection, Kind: Created}
	QueryUpdated   = Trigger{Collection: domain.QueriesCollection, Kind: Updated}
	CleanupTick    = Trigger{Collection: "cleanup", Kind: Scheduled}
)

// Event is one trigger delivery. Before is nil on create; After is nil on scheduled ticks.
type Event struct {
	ID      string
	Trigger Trigger
	Path    string
	Ref     domain.DocRef
	Before  *docstore.Snapshot
	After   *docstore.Snapshot
	Attempt int
	Time    time.Time
}

// NewDocumentEvent builds an event for a document change and resolves its DocRef.
func NewDocumentEvent(id string, kind Kind, path string, before, after *docstore.Snapshot) (Event, error) {
	ref, ok := domain.ParseDocPath(path)
	if !ok {
		return Event{}, fmt.Errorf("pipeline: unsupported document path %q", path)
	}
	collection := ref.Collection
	if collection == "" {
		collection = domain.ChannelsCollection
	}
	return Event{
		ID:      id,
		Trigger: Trigger{Collection: collection, Kind: kind},
		Path:    path,
		Ref:     ref,
		Before:  before,
		After:   after,
		Attempt: 1,
		Time:    time.Now().UTC(),
	}, nil
}

func NewScheduledEvent(id string, trigger Trigger, at time.Time) Event {
	return Event{ID: id, Trigger: trigger, Attempt: 1, Time: at}
}

// BeforeStatus and AfterStatus read the status field; a missing snapshot reads as "".
func (e Event) BeforeStatus() string { return statusOf(e.Before) }
func (e Event) AfterStatus() string  { return statusOf(e.After) }

func statusOf(s *docstore.Snapshot) string {
	if s == nil || !s.Exists {
		return ""
	}
	v, _ := s.Field(domain.FieldStatus).(string)
	return v
}

type Stage interface {
	Name() string
	Trigger() Trigger
	// Guard reports whether the event is one this stage must act on. It only looks at the
	// event; stages re-check current store state themselves in Run.
	Guard(ev Event) bool
	Run(ctx context.Context, ev Event) error
}

// ErrSkip marks a run that found its precondition no longer holds. The runner records it as
// skipped and reports success to the trigger layer.
var ErrSkip = errors.New("pipeline: skipped")

func Skip(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSkip, fmt.Sprintf(format, args...))
}
