package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"clipwave/job"

	"github.com/rs/zerolog"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrAccessDenied      = errors.New("access denied")
	ErrJobExists         = errors.New("job already exists")
	ErrJobActive         = errors.New("job is still active")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ReleaseFunc is called after a job's local files are removed on delete.
type ReleaseFunc func(ctx context.Context, j job.Job) error

// Store is the in-memory registry of jobs. It hands out copies, so callers
// never observe a half-applied update.
type Store struct {
	mu       sync.RWMutex
	jobs     map[string]job.Job
	releases []ReleaseFunc
	now      func() time.Time
}

func New() *Store {
	return &Store{
		jobs: make(map[string]job.Job),
		now:  time.Now,
	}
}

// OnRelease registers a hook run by Delete and Sweep.
func (s *Store) OnRelease(fn ReleaseFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases = append(s.releases, fn)
}

func (s *Store) Create(id, sourceURL, instructions, ownerID string) (job.Job, error) {
	if ownerID == "" {
		ownerID = "anonymous"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; ok {
		return job.Job{}, fmt.Errorf("%w: %s", ErrJobExists, id)
	}
	now := s.now().UTC()
	j := job.Job{
		ID:           id,
		Status:       job.StatusQueued,
		CurrentStep:  "Queued",
		SourceURL:    sourceURL,
		Instructions: instructions,
		OwnerID:      ownerID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.jobs[id] = j
	return j.Clone(), nil
}

func (s *Store) Get(id string) (job.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return job.Job{}, false
	}
	return j.Clone(), true
}

// GetOwned returns the job when ownerID is empty or matches its owner.
func (s *Store) GetOwned(id, ownerID string) (job.Job, error) {
	j, ok := s.Get(id)
	if !ok {
		return job.Job{}, ErrNotFound
	}
	if ownerID != "" && j.OwnerID != ownerID {
		return job.Job{}, ErrAccessDenied
	}
	return j, nil
}

// Update merges p into the job. An absent job is a no-op. Status changes
// must follow the job state machine, progress never decreases, and progress
// only reaches 100 together with StatusCompleted.
func (s *Store) Update(id string, p job.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[id]
	if !ok {
		return nil
	}
	if p.Status != nil && !job.CanTransition(cur.Status, *p.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, *p.Status)
	}

	next := p.Apply(cur)
	if next.Progress < cur.Progress {
		next.Progress = cur.Progress
	}
	if next.Progress > 100 {
		next.Progress = 100
	}
	if next.Progress == 100 && next.Status != job.StatusCompleted {
		next.Progress = 99
	}
	next.UpdatedAt = s.now().UTC()
	s.jobs[id] = next
	return nil
}

// List returns summaries ordered by creation time. An empty ownerID lists
// every job.
func (s *Store) List(ownerID string) []job.Summary {
	s.mu.RLock()
	out := make([]job.Summary, 0, len(s.jobs))
	for _, j := range s.jobs {
		if ownerID != "" && j.OwnerID != ownerID {
			continue
		}
		out = append(out, j.Summary())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

// Delete removes a terminal job and its output files. It reports false when
// the job does not exist.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	if !j.Status.Terminal() {
		s.mu.Unlock()
		return true, fmt.Errorf("%w: %s is %s", ErrJobActive, id, j.Status)
	}
	delete(s.jobs, id)
	releases := append([]ReleaseFunc(nil), s.releases...)
	s.mu.Unlock()

	if err := s.release(ctx, j, releases); err != nil {
		return true, err
	}
	return true, nil
}

// Discard drops a job that was never scheduled. Only queued jobs can be
// discarded; they own no files.
func (s *Store) Discard(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != job.StatusQueued {
		return false
	}
	delete(s.jobs, id)
	return true
}

// Sweep deletes terminal jobs whose completion is older than maxAge.
func (s *Store) Sweep(ctx context.Context, maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	var expired []job.Job
	for id, j := range s.jobs {
		if j.Status.Terminal() && !j.CompletedAt.IsZero() && j.CompletedAt.Before(cutoff) {
			expired = append(expired, j)
			delete(s.jobs, id)
		}
	}
	releases := append([]ReleaseFunc(nil), s.releases...)
	s.mu.Unlock()

	for _, j := range expired {
		zerolog.Ctx(ctx).Info().Str("job_id", j.ID).Msg("removing expired job")
		if err := s.release(ctx, j, releases); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("job_id", j.ID).Msg("failed to release expired job")
		}
	}
	return len(expired)
}

func (s *Store) release(ctx context.Context, j job.Job, releases []ReleaseFunc) error {
	var errs []error
	for _, path := range outputFiles(j) {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
		}
	}
	for _, fn := range releases {
		if err := fn(ctx, j); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func outputFiles(j job.Job) []string {
	var paths []string
	if j.OutputPath != "" {
		paths = append(paths, j.OutputPath)
	}
	for _, c := range j.Clips {
		if c.OutputPath != "" {
			paths = append(paths, c.OutputPath)
		}
	}
	return paths
}

// HandleEvent persists an orchestrator event.
func (s *Store) HandleEvent(ctx context.Context, ev job.Event) {
	if ev.Type == job.EventCreated {
		return
	}
	if err := s.Update(ev.Job.ID, job.PatchFrom(ev.Job)); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Str("job_id", ev.Job.ID).
			Str("event", string(ev.Type)).
			Msg("failed to persist job event")
	}
}
