package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labtasker/labtasker/internal/platform/apperrors"
	"github.com/labtasker/labtasker/internal/shared/events"
	"github.com/labtasker/labtasker/internal/taskqueue/domain/model"
)

func submitTestTask(t *testing.T, svc *Service, queueID string, cmd SubmitTaskCommand) *model.Task {
	t.Helper()
	if cmd.Args == nil && cmd.Cmd == "" {
		cmd.Cmd = "python train.py"
	}
	task, err := svc.SubmitTask(context.Background(), queueID, cmd)
	require.NoError(t, err)
	return task
}

func createActiveWorker(t *testing.T, svc *Service, queueID string) *model.Worker {
	t.Helper()
	worker, err := svc.CreateWorker(context.Background(), queueID, CreateWorkerCommand{})
	require.NoError(t, err)
	return worker
}

func TestSubmitTaskDefaults(t *testing.T) {
	svc, _, rec := newTestService(t)
	queue := createTestQueue(t, svc)

	task := submitTestTask(t, svc, queue.ID, SubmitTaskCommand{
		TaskName: "train",
		Args:     map[string]interface{}{"lr": 0.1},
	})

	assert.Equal(t, model.TaskPending, task.Status)
	assert.Equal(t, model.DefaultMaxRetries, task.MaxRetries)
	assert.Equal(t, model.PriorityMedium, task.Priority)
	assert.Equal(t, 0, task.Retries)
	assert.Nil(t, task.WorkerID)
	assert.Nil(t, task.StartTime)
	assert.NotNil(t, task.Summary)
	assert.Len(t, rec.ByType(events.TypeTaskCreated), 1)
}

func TestSubmitTaskValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()

	tests := []struct {
		name string
		cmd  SubmitTaskCommand
	}{
		{"no payload", SubmitTaskCommand{TaskName: "empty"}},
		{"negative retries", SubmitTaskCommand{Cmd: "run", MaxRetries: intPtr(-1)}},
		{"zero heartbeat timeout", SubmitTaskCommand{Cmd: "run", HeartbeatTimeout: f64Ptr(0)}},
		{"negative task timeout", SubmitTaskCommand{Cmd: "run", TaskTimeout: i64Ptr(-5)}},
		{"operator in args", SubmitTaskCommand{Args: map[string]interface{}{"$where": "1"}}},
		{"operator in metadata", SubmitTaskCommand{Cmd: "run", Metadata: map[string]interface{}{"$merge": "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SubmitTask(ctx, queue.ID, tt.cmd)
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))
		})
	}
}

func TestFetchTaskLeasesByPriority(t *testing.T) {
	svc, _, rec := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()

	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{TaskName: "low", Priority: intPtr(model.PriorityLow)})
	high := submitTestTask(t, svc, queue.ID, SubmitTaskCommand{TaskName: "high", Priority: intPtr(model.PriorityHigh)})
	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{TaskName: "mid"})

	worker := createActiveWorker(t, svc, queue.ID)
	task, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{
		WorkerID:       &worker.ID,
		StartHeartbeat: true,
	})
	require.NoError(t, err)
	require.NotNil(t, task)

	assert.Equal(t, high.ID, task.ID)
	assert.Equal(t, model.TaskRunning, task.Status)
	require.NotNil(t, task.WorkerID)
	assert.Equal(t, worker.ID, *task.WorkerID)
	assert.NotNil(t, task.StartTime)
	assert.NotNil(t, task.LastHeartbeat)
	assert.Len(t, rec.ByType(events.TypeTaskFetched), 1)
}

func TestFetchTaskOrdersOldestFirstWithinPriority(t *testing.T) {
	svc, store, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()

	first := submitTestTask(t, svc, queue.ID, SubmitTaskCommand{TaskName: "first"})
	second := submitTestTask(t, svc, queue.ID, SubmitTaskCommand{TaskName: "second"})

	base := time.Now().UTC().Add(-time.Hour)
	store.MutateTask(first.ID, func(task *model.Task) { task.LastModified = base })
	store.MutateTask(second.ID, func(task *model.Task) { task.LastModified = base.Add(time.Minute) })

	task, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{StartHeartbeat: true})
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, first.ID, task.ID)
}

func TestFetchTaskEmptyQueue(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)

	task, err := svc.FetchTask(context.Background(), queue.ID, FetchTaskCommand{StartHeartbeat: true})
	require.NoError(t, err)
	assert.Nil(t, task, "an empty queue is a miss, not an error")
}

func TestFetchTaskRequiredFields(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()

	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{
		TaskName: "gpu",
		Args: map[string]interface{}{
			"model":   map[string]interface{}{"type": "resnet"},
			"dataset": "cifar10",
		},
	})

	miss, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{
		StartHeartbeat: true,
		RequiredFields: map[string]interface{}{"model.type": "transformer"},
	})
	require.NoError(t, err)
	assert.Nil(t, miss)

	hit, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{
		StartHeartbeat: true,
		RequiredFields: map[string]interface{}{"model.type": "resnet", "dataset": nil},
	})
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "gpu", hit.TaskName)
}

func TestFetchTaskExtraFilter(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()

	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{TaskName: "low", Priority: intPtr(1)})
	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{TaskName: "urgent", Priority: intPtr(50)})

	task, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{
		StartHeartbeat: true,
		ExtraFilter:    map[string]interface{}{"task_name": "low"},
	})
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "low", task.TaskName, "extra filter overrides priority order")

	_, err = svc.FetchTask(ctx, queue.ID, FetchTaskCommand{
		StartHeartbeat: true,
		ExtraFilter:    map[string]interface{}{"$where": "true"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))
}

func TestFetchTaskWorkerChecks(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})

	_, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{
		WorkerID:       strPtr("ghost"),
		StartHeartbeat: true,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	worker := createActiveWorker(t, svc, queue.ID)
	_, err = svc.ReportWorkerStatus(ctx, queue.ID, worker.ID, "suspended")
	require.NoError(t, err)

	_, err = svc.FetchTask(ctx, queue.ID, FetchTaskCommand{
		WorkerID:       &worker.ID,
		StartHeartbeat: true,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindForbidden))
}

func TestFetchTaskTimeoutArguments(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})

	_, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{StartHeartbeat: false})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))
	assert.Contains(t, err.Error(), "eta_max")

	_, err = svc.FetchTask(ctx, queue.ID, FetchTaskCommand{StartHeartbeat: false, ETAMax: "bogus"})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))

	task, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{StartHeartbeat: false, ETAMax: "2h"})
	require.NoError(t, err)
	require.NotNil(t, task)
	require.NotNil(t, task.TaskTimeout)
	assert.Equal(t, int64(7200), *task.TaskTimeout)
	assert.Nil(t, task.LastHeartbeat, "no heartbeat lease was requested")
}

func TestReportTaskSuccess(t *testing.T) {
	svc, _, rec := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	worker := createActiveWorker(t, svc, queue.ID)
	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})

	task, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{WorkerID: &worker.ID, StartHeartbeat: true})
	require.NoError(t, err)
	require.NotNil(t, task)

	updated, err := svc.ReportTaskStatus(ctx, queue.ID, task.ID, ReportTaskCommand{
		Status:   "success",
		Summary:  map[string]interface{}{"accuracy": 0.93},
		WorkerID: &worker.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, model.TaskSuccess, updated.Status)
	assert.Nil(t, updated.WorkerID, "terminal tasks hold no worker")
	assert.Equal(t, 0.93, updated.Summary["accuracy"])

	w, err := svc.GetWorker(ctx, queue.ID, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkerActive, w.Status)
	assert.Equal(t, 0, w.Retries, "success does not penalize the worker")
	assert.Len(t, rec.ByType(events.TypeTaskSucceeded), 1)
}

func TestReportTaskFailedRequeues(t *testing.T) {
	svc, _, rec := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	worker := createActiveWorker(t, svc, queue.ID)
	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})

	task, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{WorkerID: &worker.ID, StartHeartbeat: true})
	require.NoError(t, err)

	updated, err := svc.ReportTaskStatus(ctx, queue.ID, task.ID, ReportTaskCommand{Status: "failed"})
	require.NoError(t, err)

	assert.Equal(t, model.TaskPending, updated.Status, "budget remains, so the task requeues")
	assert.Equal(t, 1, updated.Retries)
	assert.Nil(t, updated.WorkerID)
	assert.Len(t, rec.ByType(events.TypeTaskRequeued), 1)
	assert.Empty(t, rec.ByType(events.TypeTaskFailed))

	w, err := svc.GetWorker(ctx, queue.ID, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkerActive, w.Status)
	assert.Equal(t, 1, w.Retries, "the failure counts against the worker")
}

func TestReportTaskFailedExhaustsBudget(t *testing.T) {
	svc, _, rec := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{MaxRetries: intPtr(1)})

	task, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{StartHeartbeat: true})
	require.NoError(t, err)
	first, err := svc.ReportTaskStatus(ctx, queue.ID, task.ID, ReportTaskCommand{Status: "failed"})
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, first.Status)
	assert.Equal(t, 1, first.Retries)

	task, err = svc.FetchTask(ctx, queue.ID, FetchTaskCommand{StartHeartbeat: true})
	require.NoError(t, err)
	require.NotNil(t, task)
	second, err := svc.ReportTaskStatus(ctx, queue.ID, task.ID, ReportTaskCommand{Status: "failed"})
	require.NoError(t, err)

	assert.Equal(t, model.TaskFailed, second.Status, "retries exceeded max_retries")
	assert.Equal(t, 2, second.Retries)
	assert.Len(t, rec.ByType(events.TypeTaskRequeued), 1)
	assert.Len(t, rec.ByType(events.TypeTaskFailed), 1)
}

func TestReportTaskFailedCrashesWorker(t *testing.T) {
	svc, _, rec := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()

	worker, err := svc.CreateWorker(ctx, queue.ID, CreateWorkerCommand{MaxRetries: intPtr(1)})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})
		task, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{WorkerID: &worker.ID, StartHeartbeat: true})
		require.NoError(t, err)
		require.NotNil(t, task)
		_, err = svc.ReportTaskStatus(ctx, queue.ID, task.ID, ReportTaskCommand{Status: "failed"})
		require.NoError(t, err)
	}

	w, err := svc.GetWorker(ctx, queue.ID, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkerCrashed, w.Status)
	assert.Equal(t, 2, w.Retries)
	assert.NotEmpty(t, rec.ByType(events.TypeWorkerStatus))

	_, err = svc.FetchTask(ctx, queue.ID, FetchTaskCommand{WorkerID: &worker.ID, StartHeartbeat: true})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindForbidden))
}

func TestReportTaskWorkerMismatch(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	worker := createActiveWorker(t, svc, queue.ID)
	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})

	task, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{WorkerID: &worker.ID, StartHeartbeat: true})
	require.NoError(t, err)

	_, err = svc.ReportTaskStatus(ctx, queue.ID, task.ID, ReportTaskCommand{
		Status:   "success",
		WorkerID: strPtr("someone-else"),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestReportTaskInvalidStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	task := submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})

	for _, status := range []string{"crashed", "done", "pending", ""} {
		_, err := svc.ReportTaskStatus(ctx, queue.ID, task.ID, ReportTaskCommand{Status: status})
		require.Error(t, err, "status %q", status)
		assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))
	}
}

func TestReportTaskIllegalTransition(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	task := submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})

	// success is only reachable from running
	_, err := svc.ReportTaskStatus(ctx, queue.ID, task.ID, ReportTaskCommand{Status: "success"})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))
}

func TestCancelTask(t *testing.T) {
	svc, _, rec := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	worker := createActiveWorker(t, svc, queue.ID)

	pending := submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})
	cancelled, err := svc.CancelTask(ctx, queue.ID, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCancelled, cancelled.Status)
	assert.Len(t, rec.ByType(events.TypeTaskCancelled), 1)

	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})
	running, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{WorkerID: &worker.ID, StartHeartbeat: true})
	require.NoError(t, err)
	cancelled, err = svc.CancelTask(ctx, queue.ID, running.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCancelled, cancelled.Status)
	assert.Nil(t, cancelled.WorkerID)

	w, err := svc.GetWorker(ctx, queue.ID, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, w.Retries, "cancellation does not penalize the worker")

	_, err = svc.CancelTask(ctx, queue.ID, cancelled.ID)
	require.Error(t, err, "cancel is illegal on a terminal task")
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))
}

func TestUpdateTaskFields(t *testing.T) {
	svc, _, rec := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	task := submitTestTask(t, svc, queue.ID, SubmitTaskCommand{TaskName: "old"})

	updated, err := svc.UpdateTask(ctx, queue.ID, task.ID, map[string]interface{}{
		"task_name":     "new",
		"priority":      25,
		"metadata.note": "rerun with higher lr",
	}, false)
	require.NoError(t, err)

	assert.Equal(t, "new", updated.TaskName)
	assert.Equal(t, 25, updated.Priority)
	assert.Equal(t, "rerun with higher lr", updated.Metadata["note"])
	assert.True(t, updated.LastModified.After(task.LastModified))
	assert.Len(t, rec.ByType(events.TypeTaskUpdated), 1)
}

func TestUpdateTaskRejectsProtectedFields(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	task := submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})

	tests := []struct {
		name     string
		settings map[string]interface{}
	}{
		{"immutable queue_id", map[string]interface{}{"queue_id": "other"}},
		{"immutable created_at", map[string]interface{}{"created_at": time.Now()}},
		{"privileged status", map[string]interface{}{"status": "success"}},
		{"privileged retries", map[string]interface{}{"retries": 0}},
		{"operator key", map[string]interface{}{"$set": map[string]interface{}{"task_name": "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateTask(ctx, queue.ID, task.ID, tt.settings, false)
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))
		})
	}
}

func TestUpdateTaskResetPending(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()

	task := submitTestTask(t, svc, queue.ID, SubmitTaskCommand{MaxRetries: intPtr(0)})
	fetched, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{StartHeartbeat: true})
	require.NoError(t, err)
	failed, err := svc.ReportTaskStatus(ctx, queue.ID, fetched.ID, ReportTaskCommand{Status: "failed"})
	require.NoError(t, err)
	require.Equal(t, model.TaskFailed, failed.Status)

	reset, err := svc.UpdateTask(ctx, queue.ID, task.ID, nil, true)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, reset.Status)
	assert.Equal(t, 0, reset.Retries, "reset restores the full retry budget")
}

func TestUpdateTaskResetPendingOnRunning(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()

	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})
	running, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{StartHeartbeat: true})
	require.NoError(t, err)

	_, err = svc.UpdateTask(ctx, queue.ID, running.ID, nil, true)
	require.Error(t, err, "a running task cannot be pulled out from under its worker")
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))
}

func TestUpdateTaskResetPendingNoopOnPending(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	task := submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})

	updated, err := svc.UpdateTask(ctx, queue.ID, task.ID, map[string]interface{}{"priority": 5}, true)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, updated.Status)
	assert.Equal(t, 5, updated.Priority)
}

func TestDeleteTask(t *testing.T) {
	svc, store, rec := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	task := submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})

	require.NoError(t, svc.DeleteTask(ctx, queue.ID, task.ID))
	assert.Zero(t, store.TaskCount())
	assert.Len(t, rec.ByType(events.TypeTaskDeleted), 1)

	err := svc.DeleteTask(ctx, queue.ID, task.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRefreshTaskHeartbeat(t *testing.T) {
	svc, store, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})

	task, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{StartHeartbeat: true})
	require.NoError(t, err)

	stale := time.Now().UTC().Add(-time.Minute)
	store.MutateTask(task.ID, func(t *model.Task) { t.LastHeartbeat = &stale })

	require.NoError(t, svc.RefreshTaskHeartbeat(ctx, queue.ID, task.ID))

	refreshed, err := svc.GetTask(ctx, queue.ID, task.ID)
	require.NoError(t, err)
	require.NotNil(t, refreshed.LastHeartbeat)
	assert.True(t, refreshed.LastHeartbeat.After(stale))

	err = svc.RefreshTaskHeartbeat(ctx, queue.ID, "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRefreshTaskHeartbeatIgnoresState(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	task := submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})

	// pending tasks accept heartbeats too; the field is only read while
	// the task is running
	require.NoError(t, svc.RefreshTaskHeartbeat(ctx, queue.ID, task.ID))
}

func TestListTasks(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	other := func() *model.Queue {
		q, err := svc.CreateQueue(context.Background(), CreateQueueCommand{QueueName: "other", Password: "pw"})
		require.NoError(t, err)
		return q
	}()
	ctx := context.Background()

	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{TaskName: "train", Priority: intPtr(5)})
	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{TaskName: "train", Priority: intPtr(50)})
	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{TaskName: "eval"})
	submitTestTask(t, svc, other.ID, SubmitTaskCommand{TaskName: "train"})

	all, err := svc.ListTasks(ctx, queue.ID, ListTasksQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 3, "listing never crosses queues")

	trains, err := svc.ListTasks(ctx, queue.ID, ListTasksQuery{TaskName: "train"})
	require.NoError(t, err)
	assert.Len(t, trains, 2)

	urgent, err := svc.ListTasks(ctx, queue.ID, ListTasksQuery{
		ExtraFilter: map[string]interface{}{"priority": map[string]interface{}{"$gte": 10}},
	})
	require.NoError(t, err)
	require.Len(t, urgent, 2)

	paged, err := svc.ListTasks(ctx, queue.ID, ListTasksQuery{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, paged, 2)

	rest, err := svc.ListTasks(ctx, queue.ID, ListTasksQuery{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestListTasksValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()

	_, err := svc.ListTasks(ctx, queue.ID, ListTasksQuery{Limit: maxListLimit + 1})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))

	_, err = svc.ListTasks(ctx, queue.ID, ListTasksQuery{Offset: -1})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))

	_, err = svc.ListTasks(ctx, queue.ID, ListTasksQuery{
		ExtraFilter: map[string]interface{}{"$where": "1"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))
}
