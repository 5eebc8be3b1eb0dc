package job

import (
	"context"
	"time"
)

type EventType string

const (
	EventCreated       EventType = "created"
	EventStarted       EventType = "started"
	EventStageStarted  EventType = "stage_started"
	EventStageFinished EventType = "stage_finished"
	EventCompleted     EventType = "completed"
	EventFailed        EventType = "failed"
)

// Event carries a full snapshot of the job after a transition.
type Event struct {
	Type  EventType
	Stage string
	Job   Job
	At    time.Time
}

// Listener consumes job events. Implementations must not block for long;
// the orchestrator calls them inline.
type Listener interface {
	HandleEvent(ctx context.Context, ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev Event)

func (f ListenerFunc) HandleEvent(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Listeners delivers an event to each listener in order.
type Listeners []Listener

func (ls Listeners) HandleEvent(ctx context.Context, ev Event) {
	for _, l := range ls {
		if l != nil {
			l.HandleEvent(ctx, ev)
		}
	}
}
