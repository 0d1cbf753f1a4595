package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driveguard/internal/events"
	"driveguard/internal/model"
)

func waitFor(t *testing.T, m *Manager, id, status string) model.Job {
	t.Helper()
	var job model.Job
	require.Eventually(t, func() bool {
		var ok bool
		job, ok = m.Get(id)
		return ok && job.Status == status
	}, 3*time.Second, 10*time.Millisecond)
	return job
}

func TestJobCompletes(t *testing.T) {
	broker := events.NewMemory()
	m := New(func(ctx context.Context, job model.Job, report Reporter) (string, error) {
		report(StageProbing, 10)
		report(StageExtracting, 50)
		report(StageExtracting, 40)
		return "/out/" + job.Filename + ".json", nil
	}, Options{Workers: 1, QueueSize: 4, Broker: broker})
	defer func() { _ = m.Shutdown(context.Background()) }()

	job, err := m.Submit(model.Job{Filename: "a.mp4", VideoID: "v1"})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobQueued, job.Status)
	ch := broker.Subscribe(job.ID)
	defer broker.Unsubscribe(job.ID, ch)

	m.Start()
	done := waitFor(t, m, job.ID, model.JobCompleted)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, StageDone, done.Stage)
	assert.Equal(t, "/out/a.mp4.json", done.ResultPath)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.FinishedAt)

	var kinds []string
	require.Eventually(t, func() bool {
		for {
			select {
			case evt := <-ch:
				kinds = append(kinds, evt.Type)
			default:
				return len(kinds) > 0 && kinds[len(kinds)-1] == EventCompleted
			}
		}
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{EventStarted, EventProgress, EventProgress, EventCompleted}, kinds)
}

func TestJobFailureRecorded(t *testing.T) {
	m := New(func(context.Context, model.Job, Reporter) (string, error) {
		return "", errors.New("cannot open video")
	}, Options{})
	m.Start()
	defer func() { _ = m.Shutdown(context.Background()) }()

	job, err := m.Submit(model.Job{Filename: "bad.mp4"})
	require.NoError(t, err)
	failed := waitFor(t, m, job.ID, model.JobFailed)
	assert.Equal(t, "cannot open video", failed.Error)
}

func TestQueueFull(t *testing.T) {
	release := make(chan struct{})
	m := New(func(ctx context.Context, _ model.Job, _ Reporter) (string, error) {
		<-release
		return "", nil
	}, Options{Workers: 1, QueueSize: 1})
	defer func() { _ = m.Shutdown(context.Background()) }()

	_, err := m.Submit(model.Job{Filename: "1.mp4"})
	require.NoError(t, err)
	_, err = m.Submit(model.Job{Filename: "2.mp4"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Len(t, m.List(), 1)
	close(release)
}

func TestCancelRunningJob(t *testing.T) {
	started := make(chan struct{})
	m := New(func(ctx context.Context, _ model.Job, _ Reporter) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}, Options{Workers: 1, QueueSize: 2})
	m.Start()
	defer func() { _ = m.Shutdown(context.Background()) }()

	job, err := m.Submit(model.Job{Filename: "long.mp4"})
	require.NoError(t, err)
	<-started
	_, err = m.Cancel(job.ID)
	require.NoError(t, err)
	waitFor(t, m, job.ID, model.JobCancelled)

	_, err = m.Cancel(job.ID)
	assert.ErrorIs(t, err, ErrFinished)
	_, err = m.Cancel("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelQueuedJob(t *testing.T) {
	m := New(func(context.Context, model.Job, Reporter) (string, error) { return "", nil }, Options{QueueSize: 2})
	job, err := m.Submit(model.Job{Filename: "q.mp4"})
	require.NoError(t, err)
	got, err := m.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, got.Status)

	m.Start()
	defer func() { _ = m.Shutdown(context.Background()) }()
	time.Sleep(50 * time.Millisecond)
	after, _ := m.Get(job.ID)
	assert.Equal(t, model.JobCancelled, after.Status)
}

func TestTimeout(t *testing.T) {
	m := New(func(ctx context.Context, _ model.Job, _ Reporter) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}, Options{Timeout: 50 * time.Millisecond})
	m.Start()
	defer func() { _ = m.Shutdown(context.Background()) }()
	job, err := m.Submit(model.Job{Filename: "slow.mp4"})
	require.NoError(t, err)
	failed := waitFor(t, m, job.ID, model.JobFailed)
	assert.Contains(t, failed.Error, "timed out")
}

func TestReap(t *testing.T) {
	m := New(func(context.Context, model.Job, Reporter) (string, error) { return "x", nil }, Options{TTL: time.Minute})
	now := time.Now()
	m.now = func() time.Time { return now }
	job, err := m.Submit(model.Job{Filename: "r.mp4"})
	require.NoError(t, err)
	m.Start()
	defer func() { _ = m.Shutdown(context.Background()) }()
	waitFor(t, m, job.ID, model.JobCompleted)

	assert.Equal(t, 0, m.Reap())
	m.mu.Lock()
	m.now = func() time.Time { return now.Add(2 * time.Minute) }
	m.mu.Unlock()
	assert.Equal(t, 1, m.Reap())
	_, ok := m.Get(job.ID)
	assert.False(t, ok)
}

func TestSubmitAfterShutdown(t *testing.T) {
	m := New(func(context.Context, model.Job, Reporter) (string, error) { return "", nil }, Options{})
	m.Start()
	require.NoError(t, m.Shutdown(context.Background()))
	_, err := m.Submit(model.Job{Filename: "late.mp4"})
	assert.ErrorIs(t, err, ErrClosed)
}
