package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"clipwave/job"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const MessageTypeJobUpdate = "job_update"

var (
	ErrObserverClosed = errors.New("observer closed")
	ErrObserverBehind = errors.New("observer buffer full")
)

// Message is the payload pushed to observers.
type Message struct {
	Type  string  `json:"type"`
	JobID string  `json:"job_id"`
	Data  job.Job `json:"data"`
}

// Observer receives messages for one job. Deliver must not block; an error
// causes the observer to be dropped.
type Observer interface {
	Deliver(msg Message) error
}

// Handle identifies one subscription.
type Handle struct {
	ID    uuid.UUID
	JobID string
}

// Broadcaster fans job snapshots out to observers keyed by job id.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]map[uuid.UUID]Observer
	log  zerolog.Logger
}

func New(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		subs: make(map[string]map[uuid.UUID]Observer),
		log:  log,
	}
}

func (b *Broadcaster) Subscribe(jobID string, obs Observer) Handle {
	h := Handle{ID: uuid.New(), JobID: jobID}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[jobID]
	if !ok {
		set = make(map[uuid.UUID]Observer)
		b.subs[jobID] = set
	}
	set[h.ID] = obs
	return h
}

func (b *Broadcaster) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(h)
}

func (b *Broadcaster) removeLocked(h Handle) {
	set, ok := b.subs[h.JobID]
	if !ok {
		return
	}
	delete(set, h.ID)
	if len(set) == 0 {
		delete(b.subs, h.JobID)
	}
}

// Count returns the number of live observers for jobID.
func (b *Broadcaster) Count(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[jobID])
}

// Publish delivers snapshot to every observer of jobID and returns how many
// accepted it. Failing observers are removed.
func (b *Broadcaster) Publish(jobID string, snapshot job.Job) int {
	b.mu.RLock()
	targets := make(map[uuid.UUID]Observer, len(b.subs[jobID]))
	for id, obs := range b.subs[jobID] {
		targets[id] = obs
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	msg := Message{Type: MessageTypeJobUpdate, JobID: jobID, Data: snapshot.Clone()}
	delivered := 0
	var dead []Handle
	for id, obs := range targets {
		if err := deliver(obs, msg); err != nil {
			b.log.Debug().Err(err).Str("job_id", jobID).Str("observer", id.String()).Msg("dropping observer")
			dead = append(dead, Handle{ID: id, JobID: jobID})
			continue
		}
		delivered++
	}

	if len(dead) > 0 {
		b.mu.Lock()
		for _, h := range dead {
			b.removeLocked(h)
		}
		b.mu.Unlock()
	}
	return delivered
}

func deliver(obs Observer, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()
	return obs.Deliver(msg)
}

// HandleEvent publishes the snapshot carried by ev.
func (b *Broadcaster) HandleEvent(_ context.Context, ev job.Event) {
	b.Publish(ev.Job.ID, ev.Job)
}
