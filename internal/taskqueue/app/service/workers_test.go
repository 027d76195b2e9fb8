package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labtasker/labtasker/internal/platform/apperrors"
	"github.com/labtasker/labtasker/internal/shared/events"
	"github.com/labtasker/labtasker/internal/taskqueue/domain/model"
)

func TestCreateWorkerDefaults(t *testing.T) {
	svc, _, rec := newTestService(t)
	queue := createTestQueue(t, svc)

	worker, err := svc.CreateWorker(context.Background(), queue.ID, CreateWorkerCommand{
		WorkerName: "gpu-node-1",
		Metadata:   map[string]interface{}{"gpus": 8},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, worker.ID)
	assert.Equal(t, model.WorkerActive, worker.Status)
	assert.Equal(t, model.DefaultMaxRetries, worker.MaxRetries)
	assert.Equal(t, 0, worker.Retries)
	assert.Equal(t, "gpu-node-1", worker.WorkerName)
	assert.Len(t, rec.ByType(events.TypeWorkerCreated), 1)
}

func TestCreateWorkerValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()

	_, err := svc.CreateWorker(ctx, queue.ID, CreateWorkerCommand{MaxRetries: intPtr(-1)})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))

	_, err = svc.CreateWorker(ctx, queue.ID, CreateWorkerCommand{
		Metadata: map[string]interface{}{"$out": "x"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))
}

func TestReportWorkerStatusTransitions(t *testing.T) {
	svc, _, rec := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	worker := createActiveWorker(t, svc, queue.ID)

	suspended, err := svc.ReportWorkerStatus(ctx, queue.ID, worker.ID, "suspended")
	require.NoError(t, err)
	assert.Equal(t, model.WorkerSuspended, suspended.Status)

	// suspend is only legal from active
	_, err = svc.ReportWorkerStatus(ctx, queue.ID, worker.ID, "suspended")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))

	activated, err := svc.ReportWorkerStatus(ctx, queue.ID, worker.ID, "active")
	require.NoError(t, err)
	assert.Equal(t, model.WorkerActive, activated.Status)
	assert.Equal(t, 0, activated.Retries)

	assert.Len(t, rec.ByType(events.TypeWorkerStatus), 2)
}

func TestReportWorkerFailedConsumesBudget(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()

	worker, err := svc.CreateWorker(ctx, queue.ID, CreateWorkerCommand{MaxRetries: intPtr(1)})
	require.NoError(t, err)

	once, err := svc.ReportWorkerStatus(ctx, queue.ID, worker.ID, "failed")
	require.NoError(t, err)
	assert.Equal(t, model.WorkerActive, once.Status, "one failure within budget keeps the worker active")
	assert.Equal(t, 1, once.Retries)

	twice, err := svc.ReportWorkerStatus(ctx, queue.ID, worker.ID, "failed")
	require.NoError(t, err)
	assert.Equal(t, model.WorkerCrashed, twice.Status)
	assert.Equal(t, 2, twice.Retries)

	// a crashed worker recovers only through explicit activation
	recovered, err := svc.ReportWorkerStatus(ctx, queue.ID, worker.ID, "active")
	require.NoError(t, err)
	assert.Equal(t, model.WorkerActive, recovered.Status)
	assert.Equal(t, 0, recovered.Retries)
}

func TestReportWorkerStatusRejectsUnknown(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	worker := createActiveWorker(t, svc, queue.ID)

	for _, status := range []string{"crashed", "running", ""} {
		_, err := svc.ReportWorkerStatus(ctx, queue.ID, worker.ID, status)
		require.Error(t, err, "status %q", status)
		assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))
	}
}

func TestDeleteWorkerCascadeReleasesTasks(t *testing.T) {
	svc, _, rec := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	worker := createActiveWorker(t, svc, queue.ID)
	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})

	task, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{WorkerID: &worker.ID, StartHeartbeat: true})
	require.NoError(t, err)
	require.NotNil(t, task.WorkerID)

	require.NoError(t, svc.DeleteWorker(ctx, queue.ID, worker.ID, true))

	released, err := svc.GetTask(ctx, queue.ID, task.ID)
	require.NoError(t, err)
	assert.Nil(t, released.WorkerID, "cascade clears the assignment")
	assert.Equal(t, model.TaskRunning, released.Status, "the task keeps running until it times out")

	_, err = svc.GetWorker(ctx, queue.ID, worker.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Len(t, rec.ByType(events.TypeWorkerDeleted), 1)
}

func TestDeleteWorkerWithoutCascade(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()
	worker := createActiveWorker(t, svc, queue.ID)
	submitTestTask(t, svc, queue.ID, SubmitTaskCommand{})

	task, err := svc.FetchTask(ctx, queue.ID, FetchTaskCommand{WorkerID: &worker.ID, StartHeartbeat: true})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteWorker(ctx, queue.ID, worker.ID, false))

	kept, err := svc.GetTask(ctx, queue.ID, task.ID)
	require.NoError(t, err)
	require.NotNil(t, kept.WorkerID)
	assert.Equal(t, worker.ID, *kept.WorkerID, "without cascade the reference dangles")
}

func TestDeleteWorkerNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)

	err := svc.DeleteWorker(context.Background(), queue.ID, "ghost", true)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestListWorkers(t *testing.T) {
	svc, _, _ := newTestService(t)
	queue := createTestQueue(t, svc)
	ctx := context.Background()

	first, err := svc.CreateWorker(ctx, queue.ID, CreateWorkerCommand{WorkerName: "gpu-1"})
	require.NoError(t, err)
	_, err = svc.CreateWorker(ctx, queue.ID, CreateWorkerCommand{WorkerName: "gpu-2"})
	require.NoError(t, err)
	_, err = svc.ReportWorkerStatus(ctx, queue.ID, first.ID, "suspended")
	require.NoError(t, err)

	all, err := svc.ListWorkers(ctx, queue.ID, ListWorkersQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byName, err := svc.ListWorkers(ctx, queue.ID, ListWorkersQuery{WorkerName: "gpu-1"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, first.ID, byName[0].ID)

	active, err := svc.ListWorkers(ctx, queue.ID, ListWorkersQuery{
		ExtraFilter: map[string]interface{}{"status": "active"},
	})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}
