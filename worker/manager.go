package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"clipwave/job"

	"github.com/rs/zerolog"
)

var ErrQueueFull = errors.New("job queue is full")

// Runner executes one job to a terminal state.
type Runner interface {
	Run(ctx context.Context, j job.Job) job.Job
}

// JobStore is the part of the job store the manager needs.
type JobStore interface {
	Get(id string) (job.Job, bool)
	Sweep(ctx context.Context, maxAge time.Duration) int
}

type Config struct {
	MaxConcurrency int
	QueueSize      int
	JobTimeout     time.Duration // zero means no limit
	OutputLifetime time.Duration // zero disables retention cleanup
}

// Manager schedules job runs in the background with bounded concurrency.
type Manager struct {
	cfg            Config
	store          JobStore
	runner         Runner
	queue          chan string
	concurrencySem chan struct{}
	wg             sync.WaitGroup
}

func NewManager(cfg Config, store JobStore, runner Runner) *Manager {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	return &Manager{
		cfg:            cfg,
		store:          store,
		runner:         runner,
		queue:          make(chan string, cfg.QueueSize),
		concurrencySem: make(chan struct{}, cfg.MaxConcurrency),
	}
}

func (m *Manager) Start(ctx context.Context) {
	zerolog.Ctx(ctx).Info().
		Int("max_concurrency", m.cfg.MaxConcurrency).
		Int("queue_size", m.cfg.QueueSize).
		Msg("worker manager started")
	if m.cfg.OutputLifetime > 0 {
		go m.cleanupLoop(ctx)
	}
	go m.workerLoop(ctx)
}

// Submit queues a job id for execution. It never blocks.
func (m *Manager) Submit(id string) error {
	select {
	case m.queue <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending reports how many jobs wait for a slot.
func (m *Manager) Pending() int {
	return len(m.queue)
}

// Wait blocks until every started job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			zerolog.Ctx(ctx).Info().Msg("worker loop shutting down")
			return
		case id := <-m.queue:
			select {
			case m.concurrencySem <- struct{}{}:
			case <-ctx.Done():
				zerolog.Ctx(ctx).Info().Msg("worker loop shutting down")
				return
			}
			m.wg.Add(1)
			go func(id string) {
				defer m.wg.Done()
				defer func() { <-m.concurrencySem }()
				m.process(ctx, id)
			}(id)
		}
	}
}

func (m *Manager) process(parent context.Context, id string) {
	logger := zerolog.Ctx(parent).With().Str("job_id", id).Logger()

	j, ok := m.store.Get(id)
	if !ok {
		logger.Warn().Msg("queued job no longer exists")
		return
	}
	if j.Status != job.StatusQueued {
		logger.Warn().Str("status", string(j.Status)).Msg("skipping job that is not queued")
		return
	}

	ctx := logger.WithContext(parent)
	if m.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	final := m.runner.Run(ctx, j)
	logger.Info().
		Str("status", string(final.Status)).
		Dur("elapsed", time.Since(start)).
		Msg("job finished")
}

// cleanupLoop drops expired jobs and their outputs.
func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.OutputLifetime / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zerolog.Ctx(ctx).Info().Msg("cleanup loop shutting down")
			return
		case <-ticker.C:
			if n := m.store.Sweep(ctx, m.cfg.OutputLifetime); n > 0 {
				zerolog.Ctx(ctx).Info().Int("removed", n).Msg("expired jobs cleaned up")
			}
		}
	}
}
