package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labtasker/labtasker/internal/shared/events"
	"github.com/labtasker/labtasker/internal/taskqueue/domain/model"
	"github.com/labtasker/labtasker/internal/taskqueue/storetest"
)

// leaseExpiredTask creates a running task whose heartbeat is already
// stale by the given age.
func leaseExpiredTask(t *testing.T, svc *Service, store *storetest.Store, queueID string, workerID *string, age time.Duration) *model.Task {
	t.Helper()
	submitTestTask(t, svc, queueID, SubmitTaskCommand{})
	task, err := svc.FetchTask(context.Background(), queueID, FetchTaskCommand{
		WorkerID:         workerID,
		StartHeartbeat:   true,
		HeartbeatTimeout: f64Ptr(30),
	})
	require.NoError(t, err)
	require.NotNil(t, task)

	stale := time.Now().UTC().Add(-age)
	store.MutateTask(task.ID, func(tk *model.Task) { tk.LastHeartbeat = &stale })
	return task
}

func TestHandleTimeoutsHeartbeatExpiry(t *testing.T) {
	svc, store, rec := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	worker := createActiveWorker(t, svc, queue.ID)

	task := leaseExpiredTask(t, svc, store, queue.ID, &worker.ID, 2*time.Minute)

	transitioned, err := svc.HandleTimeouts(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{task.ID}, transitioned)

	swept, err := svc.GetTask(ctx, queue.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, swept.Status, "budget remains, so the task requeues")
	assert.Equal(t, 1, swept.Retries)
	assert.Nil(t, swept.WorkerID)
	assert.Equal(t, timeoutErrorSummary, swept.Summary["labtasker_error"])

	w, err := svc.GetWorker(ctx, queue.ID, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, w.Retries, "the timeout counts against the worker")
	assert.Equal(t, model.WorkerActive, w.Status)

	assert.Len(t, rec.ByType(events.TypeTaskTimeout), 1)
	assert.Len(t, rec.ByType(events.TypeWorkerStatus), 1)
}

func TestHandleTimeoutsExecutionExpiry(t *testing.T) {
	svc, store, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()

	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})
	task, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{StartHeartbeat: false, ETAMax: "1h"})
	require.NoError(t, err)
	require.NotNil(t, task)

	started := time.Now().UTC().Add(-2 * time.Hour)
	store.MutateTask(task.ID, func(tk *model.Task) { tk.StartTime = &started })

	transitioned, err := svc.HandleTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, transitioned)

	swept, err := svc.GetTask(ctx, queue.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, swept.Status)
}

func TestHandleTimeoutsExhaustsBudget(t *testing.T) {
	svc, store, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()

	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{MaxRetries: intPtr(0)})
	task, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{StartHeartbeat: true, HeartbeatTimeout: f64Ptr(30)})
	require.NoError(t, err)

	stale := time.Now().UTC().Add(-time.Hour)
	store.MutateTask(task.ID, func(tk *model.Task) { tk.LastHeartbeat = &stale })

	_, err = svc.HandleTimeouts(ctx)
	require.NoError(t, err)

	swept, err := svc.GetTask(ctx, queue.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, swept.Status)
}

func TestHandleTimeoutsSkipsHealthyTasks(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()

	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})
	task, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{StartHeartbeat: true, HeartbeatTimeout: f64Ptr(3600)})
	require.NoError(t, err)

	transitioned, err := svc.HandleTimeouts(ctx)
	require.NoError(t, err)
	assert.Empty(t, transitioned)

	kept, err := svc.GetTask(ctx, queue.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskRunning, kept.Status)
}

func TestHandleTimeoutsWithInactiveWorker(t *testing.T) {
	svc, store, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	worker := createActiveWorker(t, svc, queue.ID)

	task := leaseExpiredTask(t, svc, store, queue.ID, &worker.ID, 2*time.Minute)
	_, err := svc.ReportWorkerStatus(ctx, queue.ID, worker.ID, "suspended")
	require.NoError(t, err)

	transitioned, err := svc.HandleTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, transitioned, "the task is swept even when its worker cannot take a failure")

	w, err := svc.GetWorker(ctx, queue.ID, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkerSuspended, w.Status)
	assert.Equal(t, 0, w.Retries)
}

func TestHandleTimeoutsWithDeletedWorker(t *testing.T) {
	svc, store, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	worker := createActiveWorker(t, svc, queue.ID)

	task := leaseExpiredTask(t, svc, store, queue.ID, &worker.ID, 2*time.Minute)
	require.NoError(t, svc.DeleteWorker(ctx, queue.ID, worker.ID, false))

	transitioned, err := svc.HandleTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, transitioned)

	swept, err := svc.GetTask(ctx, queue.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, swept.Status)
}

type fakeLocker struct {
	acquired bool
	err      error
	releases int
}

func (l *fakeLocker) Acquire(ctx context.Context) (bool, error) { return l.acquired, l.err }

func (l *fakeLocker) Release(ctx context.Context) error {
	l.releases++
	return nil
}

func TestSweeperSkipsWhenLockHeld(t *testing.T) {
	svc, store, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	task := leaseExpiredTask(t, svc, store, queue.ID, nil, 2*time.Minute)

	locker := &fakeLocker{acquired: false}
	sweeper := NewSweeper(svc, time.Second, locker)
	sweeper.sweep()

	kept, err := svc.GetTask(context.Background(), queue.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskRunning, kept.Status, "another replica holds the lock")
	assert.Zero(t, locker.releases)
}

func TestSweeperRunsWhenLockAcquired(t *testing.T) {
	svc, store, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	task := leaseExpiredTask(t, svc, store, queue.ID, nil, 2*time.Minute)

	locker := &fakeLocker{acquired: true}
	sweeper := NewSweeper(svc, time.Second, locker)
	sweeper.sweep()

	swept, err := svc.GetTask(context.Background(), queue.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, swept.Status)
	assert.Equal(t, 1, locker.releases)
}

func TestSweeperProceedsOnLockError(t *testing.T) {
	svc, store, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	task := leaseExpiredTask(t, svc, store, queue.ID, nil, 2*time.Minute)

	locker := &fakeLocker{err: errors.New("redis down")}
	sweeper := NewSweeper(svc, time.Second, locker)
	sweeper.sweep()

	swept, err := svc.GetTask(context.Background(), queue.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, swept.Status, "a broken lock store must not stall timeout handling")
}

func TestSweeperWithoutLocker(t *testing.T) {
	svc, store, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	task := leaseExpiredTask(t, svc, store, queue.ID, nil, 2*time.Minute)

	sweeper := NewSweeper(svc, 0, nil)
	assert.Equal(t, defaultSweepInterval, sweeper.interval)
	sweeper.sweep()

	swept, err := svc.GetTask(context.Background(), queue.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, swept.Status)
}
