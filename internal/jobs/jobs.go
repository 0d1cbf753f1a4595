// Package jobs tracks background analysis jobs and runs them on a bounded worker pool.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"driveguard/internal/events"
	"driveguard/internal/metrics"
	"driveguard/internal/model"
)

// Stages reported while a job runs.
const (
	StageQueued     = "queued"
	StageProbing    = "probing"
	StageExtracting = "extracting"
	StageScoring    = "scoring"
	StageSaving     = "saving"
	StageDone       = "done"
)

// Event types published on the job's topic.
const (
	EventQueued    = "job.queued"
	EventStarted   = "job.started"
	EventProgress  = "job.progress"
	EventCompleted = "job.completed"
	EventFailed    = "job.failed"
	EventCancelled = "job.cancelled"
)

var (
	ErrNotFound  = errors.New("job not found")
	ErrQueueFull = errors.New("analysis queue is full")
	ErrClosed    = errors.New("job manager is shut down")
	ErrFinished  = errors.New("job already finished")
)

// Reporter updates the running job's stage and progress percentage.
type Reporter func(stage string, progress int)

// RunFunc does the work for one job and returns the path of its result document.
type RunFunc func(ctx context.Context, job model.Job, report Reporter) (string, error)

type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	TTL       time.Duration
	Broker    events.Broker
	Logger    *zap.Logger
}

type entry struct {
	job       model.Job
	cancel    context.CancelFunc
	cancelled bool
}

// Manager owns the job table. All reads return copies.
type Manager struct {
	run     RunFunc
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
	queue   chan string
	poolCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.RWMutex
	jobs   map[string]*entry
	closed bool
}

func New(run RunFunc, opts Options) *Manager {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.Broker == nil {
		opts.Broker = events.NewMemory()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		run:     run,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		queue:   make(chan string, opts.QueueSize),
		poolCtx: ctx,
		stop:    cancel,
		jobs:    map[string]*entry{},
	}
}

// Broker returns the broker job events are published on.
func (m *Manager) Broker() events.Broker { return m.opts.Broker }

// Start launches the workers and the reaper.
func (m *Manager) Start() {
	for i := 0; i < m.opts.Workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}
	if m.opts.TTL > 0 {
		m.wg.Add(1)
		go m.reaper()
	}
	m.logger.Info("job workers started", zap.Int("workers", m.opts.Workers), zap.Int("queue_size", m.opts.QueueSize))
}

// Submit queues job. It never blocks: a full queue returns ErrQueueFull.
func (m *Manager) Submit(job model.Job) (model.Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = model.JobQueued
	job.Stage = StageQueued
	job.Progress = 0
	job.CreatedAt = m.now().UTC()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return model.Job{}, ErrClosed
	}
	select {
	case m.queue <- job.ID:
	default:
		m.mu.Unlock()
		return model.Job{}, ErrQueueFull
	}
	m.jobs[job.ID] = &entry{job: job}
	m.mu.Unlock()

	metrics.QueueDepth.Set(float64(len(m.queue)))
	m.publish(EventQueued, job)
	return job, nil
}

func (m *Manager) Get(id string) (model.Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[id]
	if !ok {
		return model.Job{}, false
	}
	return e.job, true
}

// List returns every tracked job, oldest first.
func (m *Manager) List() []model.Job {
	m.mu.RLock()
	out := make([]model.Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		out = append(out, e.job)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Cancel stops a queued or running job.
func (m *Manager) Cancel(id string) (model.Job, error) {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return model.Job{}, ErrNotFound
	}
	if e.job.Terminal() {
		job := e.job
		m.mu.Unlock()
		return job, ErrFinished
	}
	e.cancelled = true
	if e.cancel != nil {
		// the worker records the transition once the run returns
		e.cancel()
		job := e.job
		m.mu.Unlock()
		return job, nil
	}
	m.finishLocked(e, model.JobCancelled, "cancelled before start")
	job := e.job
	m.mu.Unlock()

	metrics.JobsTotal.WithLabelValues(model.JobCancelled).Inc()
	m.publish(EventCancelled, job)
	return job, nil
}

// Shutdown stops accepting jobs, cancels running ones and waits for workers.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()
	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) worker(n int) {
	defer m.wg.Done()
	for id := range m.queue {
		metrics.QueueDepth.Set(float64(len(m.queue)))
		m.process(id)
	}
	m.logger.Debug("job worker stopped", zap.Int("worker", n))
}

func (m *Manager) process(id string) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if m.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(m.poolCtx, m.opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(m.poolCtx)
	}
	defer cancel()

	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok || e.job.Terminal() {
		m.mu.Unlock()
		return
	}
	started := m.now().UTC()
	e.cancel = cancel
	e.job.Status = model.JobProcessing
	e.job.StartedAt = &started
	job := e.job
	m.mu.Unlock()

	metrics.JobsRunning.Inc()
	defer metrics.JobsRunning.Dec()
	m.publish(EventStarted, job)
	m.logger.Info("analysis started", zap.String("job_id", id), zap.String("filename", job.Filename))

	resultPath, err := m.run(ctx, job, func(stage string, progress int) { m.report(id, stage, progress) })

	m.mu.Lock()
	e.cancel = nil
	var (
		status = model.JobCompleted
		kind   = EventCompleted
		msg    string
	)
	switch {
	case err == nil:
		e.job.ResultPath = resultPath
	case e.cancelled || errors.Is(m.poolCtx.Err(), context.Canceled):
		status, kind, msg = model.JobCancelled, EventCancelled, "cancelled"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		status, kind, msg = model.JobFailed, EventFailed, fmt.Sprintf("analysis timed out after %s", m.opts.Timeout)
	default:
		status, kind, msg = model.JobFailed, EventFailed, err.Error()
	}
	m.finishLocked(e, status, msg)
	job = e.job
	m.mu.Unlock()

	metrics.JobsTotal.WithLabelValues(status).Inc()
	metrics.AnalysisDuration.Observe(job.FinishedAt.Sub(started).Seconds())
	m.publish(kind, job)
	if err != nil {
		m.logger.Warn("analysis finished", zap.String("job_id", id), zap.String("status", status), zap.Error(err))
		return
	}
	m.logger.Info("analysis finished", zap.String("job_id", id), zap.String("status", status), zap.String("result", resultPath))
}

// finishLocked requires m.mu.
func (m *Manager) finishLocked(e *entry, status, msg string) {
	finished := m.now().UTC()
	e.job.Status = status
	e.job.Error = msg
	e.job.FinishedAt = &finished
	if status == model.JobCompleted {
		e.job.Stage = StageDone
		e.job.Progress = 100
	}
}

func (m *Manager) report(id, stage string, progress int) {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok || e.job.Terminal() {
		m.mu.Unlock()
		return
	}
	progress = max(0, min(100, progress))
	// progress never goes backwards
	if progress < e.job.Progress {
		progress = e.job.Progress
	}
	changed := e.job.Stage != stage || e.job.Progress != progress
	e.job.Stage = stage
	e.job.Progress = progress
	job := e.job
	m.mu.Unlock()
	if changed {
		m.publish(EventProgress, job)
	}
}

func (m *Manager) publish(kind string, job model.Job) {
	m.opts.Broker.Publish(job.ID, events.Event{Type: kind, Data: map[string]any{"job": job}})
}

func (m *Manager) reaper() {
	defer m.wg.Done()
	interval := m.opts.TTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.poolCtx.Done():
			return
		case <-ticker.C:
			if n := m.Reap(); n > 0 {
				m.logger.Debug("reaped finished jobs", zap.Int("count", n))
			}
		}
	}
}

// Reap forgets terminal jobs that finished more than TTL ago.
func (m *Manager) Reap() int {
	if m.opts.TTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.opts.TTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.jobs {
		if e.job.Terminal() && e.job.FinishedAt != nil && e.job.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	return n
}
