package handlers

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/labtasker/labtasker/internal/taskqueue/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitTaskEndpoint(t *testing.T) {
	env := newTestEnv(t)
	queueID := env.createQueue(t)

	rec := env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks", map[string]interface{}{
		"task_name": "train",
		"args":      map[string]interface{}{"epochs": 10},
		"priority":  20,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var task model.Task
	decodeData(t, rec, &task)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, queueID, task.QueueID)
	assert.Equal(t, model.TaskPending, task.Status)
	assert.Equal(t, "train", task.TaskName)
	assert.Equal(t, 20, task.Priority)
	assert.Equal(t, model.DefaultMaxRetries, task.MaxRetries)
}

func TestSubmitTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t)

	rec := env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks", map[string]interface{}{
		"task_name": "empty",
	})
	requireErrorCode(t, rec, http.StatusBadRequest, "BAD_REQUEST")
}

func TestSubmitTaskRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t)

	rec := env.do(t, http.MethodPost, "/api/v1/queues/me/tasks", map[string]interface{}{
		"cmd": "python train.py",
	})
	requireErrorCode(t, rec, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestListTasksEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t)
	env.submitTask(t, map[string]interface{}{"task_name": "a", "priority": 20})
	env.submitTask(t, map[string]interface{}{"task_name": "b"})
	env.submitTask(t, map[string]interface{}{"task_name": "c"})

	rec := env.authed(t, http.MethodGet, "/api/v1/queues/me/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tasks []model.Task
	decodeData(t, rec, &tasks)
	assert.Len(t, tasks, 3)

	envlp := decodeEnvelope(t, rec)
	require.NotNil(t, envlp.Meta)
	assert.Equal(t, 3, envlp.Meta.Count)

	rec = env.authed(t, http.MethodGet, "/api/v1/queues/me/tasks?task_name=b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &tasks)
	require.Len(t, tasks, 1)
	assert.Equal(t, "b", tasks[0].TaskName)

	filter := url.QueryEscape(`{"priority":{"$gte":20}}`)
	rec = env.authed(t, http.MethodGet, "/api/v1/queues/me/tasks?extra_filter="+filter, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeData(t, rec, &tasks)
	require.Len(t, tasks, 1)
	assert.Equal(t, "a", tasks[0].TaskName)
}

func TestListTasksRejectsBadFilter(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t)

	rec := env.authed(t, http.MethodGet, "/api/v1/queues/me/tasks?extra_filter=notjson", nil)
	requireErrorCode(t, rec, http.StatusBadRequest, "BAD_REQUEST")
}

func TestFetchTaskEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t)
	env.submitTask(t, map[string]interface{}{"task_name": "low", "priority": 0})
	high := env.submitTask(t, map[string]interface{}{"task_name": "high", "priority": 20})
	worker := env.createWorker(t, nil)

	rec := env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks/next", map[string]interface{}{
		"worker_id": worker.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var task model.Task
	decodeData(t, rec, &task)
	assert.Equal(t, high.ID, task.ID, "highest priority goes first")
	assert.Equal(t, model.TaskRunning, task.Status)
	require.NotNil(t, task.WorkerID)
	assert.Equal(t, worker.ID, *task.WorkerID)
	assert.NotNil(t, task.LastHeartbeat)
}

func TestFetchTaskEmptyQueue(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t)

	rec := env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks/next", map[string]interface{}{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	envlp := decodeEnvelope(t, rec)
	assert.True(t, envlp.Success)
	assert.JSONEq(t, "null", string(envlp.Data), "no eligible task is not an error")
}

func TestFetchTaskWithoutHeartbeatNeedsETA(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t)
	env.submitTask(t, nil)

	rec := env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks/next", map[string]interface{}{
		"start_heartbeat": false,
	})
	requireErrorCode(t, rec, http.StatusBadRequest, "BAD_REQUEST")

	rec = env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks/next", map[string]interface{}{
		"start_heartbeat": false,
		"eta_max":         "2h",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var task model.Task
	decodeData(t, rec, &task)
	assert.Equal(t, model.TaskRunning, task.Status)
	assert.Nil(t, task.LastHeartbeat, "heartbeat not started")
}

func TestFetchTaskRequiredFields(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t)
	env.submitTask(t, map[string]interface{}{
		"task_name": "with-lr",
		"args":      map[string]interface{}{"lr": 0.1, "epochs": 3},
	})

	rec := env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks/next", map[string]interface{}{
		"required_fields": map[string]interface{}{"batch_size": nil},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	envlp := decodeEnvelope(t, rec)
	assert.JSONEq(t, "null", string(envlp.Data), "args missing a required field are skipped")

	rec = env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks/next", map[string]interface{}{
		"required_fields": map[string]interface{}{"lr": nil},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var task model.Task
	decodeData(t, rec, &task)
	assert.Equal(t, "with-lr", task.TaskName)
}

func TestGetTaskEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t)
	submitted := env.submitTask(t, map[string]interface{}{"task_name": "probe"})

	rec := env.authed(t, http.MethodGet, "/api/v1/queues/me/tasks/"+submitted.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var task model.Task
	decodeData(t, rec, &task)
	assert.Equal(t, submitted.ID, task.ID)

	rec = env.authed(t, http.MethodGet, "/api/v1/queues/me/tasks/task-missing", nil)
	requireErrorCode(t, rec, http.StatusNotFound, "NOT_FOUND")
}

func TestReportTaskStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t)
	submitted := env.submitTask(t, nil)
	worker := env.createWorker(t, nil)

	rec := env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks/next", map[string]interface{}{
		"worker_id": worker.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks/"+submitted.ID+"/status", map[string]interface{}{
		"status":    "success",
		"summary":   map[string]interface{}{"accuracy": 0.93},
		"worker_id": worker.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var task model.Task
	decodeData(t, rec, &task)
	assert.Equal(t, model.TaskSuccess, task.Status)
	assert.Equal(t, 0.93, task.Summary["accuracy"])
	assert.Nil(t, task.WorkerID, "assignment released on completion")
}

func TestReportTaskStatusWorkerMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t)
	submitted := env.submitTask(t, nil)
	owner := env.createWorker(t, nil)
	other := env.createWorker(t, nil)

	rec := env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks/next", map[string]interface{}{
		"worker_id": owner.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks/"+submitted.ID+"/status", map[string]interface{}{
		"status":    "success",
		"worker_id": other.ID,
	})
	requireErrorCode(t, rec, http.StatusConflict, "CONFLICT")
}

func TestReportTaskStatusValidation(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t)
	submitted := env.submitTask(t, nil)

	rec := env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks/"+submitted.ID+"/status", map[string]interface{}{})
	requireErrorCode(t, rec, http.StatusBadRequest, "BAD_REQUEST")

	rec = env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks/"+submitted.ID+"/status", map[string]interface{}{
		"status": "exploded",
	})
	requireErrorCode(t, rec, http.StatusBadRequest, "BAD_REQUEST")
}

func TestCancelTaskEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t)
	submitted := env.submitTask(t, nil)

	rec := env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks/"+submitted.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var task model.Task
	decodeData(t, rec, &task)
	assert.Equal(t, model.TaskCancelled, task.Status)
}

func TestUpdateTaskRequeues(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t)
	submitted := env.submitTask(t, nil)

	rec := env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks/"+submitted.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// An empty update requeues the terminal task by default.
	rec = env.authed(t, http.MethodPut, "/api/v1/queues/me/tasks/"+submitted.ID, map[string]interface{}{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var task model.Task
	decodeData(t, rec, &task)
	assert.Equal(t, model.TaskPending, task.Status)
	assert.Zero(t, task.Retries)
}

func TestUpdateTaskFieldsWithoutReset(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t)
	submitted := env.submitTask(t, nil)

	rec := env.authed(t, http.MethodPut, "/api/v1/queues/me/tasks/"+submitted.ID, map[string]interface{}{
		"update":        map[string]interface{}{"priority": 20},
		"reset_pending": false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var task model.Task
	decodeData(t, rec, &task)
	assert.Equal(t, 20, task.Priority)
	assert.Equal(t, model.TaskPending, task.Status)
}

func TestUpdateTaskCannotResetRunning(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t)
	submitted := env.submitTask(t, nil)

	rec := env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks/next", map[string]interface{}{})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.authed(t, http.MethodPut, "/api/v1/queues/me/tasks/"+submitted.ID, map[string]interface{}{})
	requireErrorCode(t, rec, http.StatusBadRequest, "BAD_REQUEST")
}

func TestDeleteTaskEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t)
	submitted := env.submitTask(t, nil)

	rec := env.authed(t, http.MethodDelete, "/api/v1/queues/me/tasks/"+submitted.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, env.store.TaskCount())

	rec = env.authed(t, http.MethodDelete, "/api/v1/queues/me/tasks/"+submitted.ID, nil)
	requireErrorCode(t, rec, http.StatusNotFound, "NOT_FOUND")
}

func TestTaskHeartbeatEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t)
	submitted := env.submitTask(t, nil)

	rec := env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks/next", map[string]interface{}{})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks/"+submitted.ID+"/heartbeat", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.authed(t, http.MethodPost, "/api/v1/queues/me/tasks/task-missing/heartbeat", nil)
	requireErrorCode(t, rec, http.StatusNotFound, "NOT_FOUND")
}
