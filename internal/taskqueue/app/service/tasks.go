package service

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/labtasker/labtasker/internal/platform/apperrors"
	"github.com/labtasker/labtasker/internal/platform/validation"
	"github.com/labtasker/labtasker/internal/shared/events"
	"github.com/labtasker/labtasker/internal/taskqueue/domain/model"
	"github.com/labtasker/labtasker/internal/taskqueue/domain/repository"
	"github.com/labtasker/labtasker/internal/taskqueue/query"
)

// SubmitTaskCommand carries the inputs for task submission. Nil
// pointer fields fall back to defaults.
type SubmitTaskCommand struct {
	TaskName         string
	Args             map[string]interface{}
	Cmd              string
	Metadata         map[string]interface{}
	HeartbeatTimeout *float64
	TaskTimeout      *int64
	MaxRetries       *int
	Priority         *int
}

// SubmitTask enqueues a new pending task
func (s *Service) SubmitTask(ctx context.Context, queueID string, cmd SubmitTaskCommand) (*model.Task, error) {
	s.log.Debug("submitting task", "queue_id", queueID, "task_name", cmd.TaskName)

	if cmd.HeartbeatTimeout != nil && *cmd.HeartbeatTimeout <= 0 {
		return nil, apperrors.BadRequest("heartbeat_timeout must be positive")
	}
	if cmd.TaskTimeout != nil && *cmd.TaskTimeout <= 0 {
		return nil, apperrors.BadRequest("task_timeout must be positive")
	}

	args, err := query.SanitizeDocument(orEmpty(cmd.Args))
	if err != nil {
		return nil, err
	}
	metadata, err := query.SanitizeDocument(orEmpty(cmd.Metadata))
	if err != nil {
		return nil, err
	}

	maxRetries := model.DefaultMaxRetries
	if cmd.MaxRetries != nil {
		maxRetries = *cmd.MaxRetries
	}
	priority := model.PriorityMedium
	if cmd.Priority != nil {
		priority = *cmd.Priority
	}

	task, err := model.NewTask(queueID, model.TaskSpec{
		TaskName:         cmd.TaskName,
		Args:             args,
		Cmd:              cmd.Cmd,
		Metadata:         metadata,
		HeartbeatTimeout: cmd.HeartbeatTimeout,
		TaskTimeout:      cmd.TaskTimeout,
		MaxRetries:       maxRetries,
		Priority:         priority,
	})
	if err != nil {
		return nil, apperrors.BadRequest("%v", err)
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		return s.store.Tasks().Insert(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.TasksCreated.WithLabelValues(queueID).Inc()
	s.emit(ctx, events.New(events.TypeTaskCreated, queueID, task.ID, taskEventPayload(task)))
	s.log.Info("task submitted", "queue_id", queueID, "task_id", task.ID, "priority", task.Priority)
	return task, nil
}

// GetTask returns one task scoped to the queue
func (s *Service) GetTask(ctx context.Context, queueID, taskID string) (*model.Task, error) {
	return s.store.Tasks().FindByID(ctx, queueID, taskID)
}

// ListTasksQuery narrows a task listing. TaskID and TaskName are
// convenience equality matches merged into ExtraFilter.
type ListTasksQuery struct {
	TaskID      string
	TaskName    string
	ExtraFilter map[string]interface{}
	Limit       int64
	Offset      int64
}

// ListTasks returns tasks in the queue matching the query
func (s *Service) ListTasks(ctx context.Context, queueID string, q ListTasksQuery) ([]*model.Task, error) {
	limit, offset, err := normalizePage(q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}

	filter, err := query.SanitizeFilter(queueID, orEmpty(q.ExtraFilter))
	if err != nil {
		return nil, err
	}
	if q.TaskID != "" {
		filter["_id"] = q.TaskID
	}
	if q.TaskName != "" {
		filter["task_name"] = q.TaskName
	}

	return s.store.Tasks().List(ctx, filter, limit, offset)
}

// FetchTaskCommand carries the lease parameters for a fetch. With
// StartHeartbeat the lease is guarded by heartbeat expiry; without it
// ETAMax is mandatory so the task cannot run unbounded.
type FetchTaskCommand struct {
	WorkerID         *string
	ETAMax           string
	HeartbeatTimeout *float64
	StartHeartbeat   bool
	RequiredFields   map[string]interface{}
	ExtraFilter      map[string]interface{}
}

// FetchTask leases the highest-priority eligible pending task to the
// caller. Returns nil without error when nothing matches.
func (s *Service) FetchTask(ctx context.Context, queueID string, cmd FetchTaskCommand) (*model.Task, error) {
	workerID := cmd.WorkerID
	if workerID != nil && *workerID == "" {
		workerID = nil
	}

	var taskTimeout *int64
	if cmd.ETAMax != "" {
		d, err := time.ParseDuration(cmd.ETAMax)
		if err != nil {
			return nil, apperrors.BadRequest("invalid eta_max %q: %v", cmd.ETAMax, err)
		}
		secs := int64(d.Seconds())
		if secs <= 0 {
			return nil, apperrors.BadRequest("eta_max must be positive")
		}
		taskTimeout = &secs
	}
	if !cmd.StartHeartbeat && taskTimeout == nil {
		return nil, apperrors.BadRequest("eta_max must be specified when start_heartbeat is false")
	}
	if cmd.HeartbeatTimeout != nil && *cmd.HeartbeatTimeout <= 0 {
		return nil, apperrors.BadRequest("heartbeat_timeout must be positive")
	}

	extraFilter, err := query.ScanFilter(orEmpty(cmd.ExtraFilter))
	if err != nil {
		return nil, err
	}
	requiredFields, err := query.SanitizeDocument(orEmpty(cmd.RequiredFields))
	if err != nil {
		return nil, err
	}

	req := repository.FetchRequest{
		QueueID:          queueID,
		WorkerID:         workerID,
		ExtraFilter:      extraFilter,
		RequiredFields:   requiredFields,
		StartHeartbeat:   cmd.StartHeartbeat,
		HeartbeatTimeout: cmd.HeartbeatTimeout,
		TaskTimeout:      taskTimeout,
	}

	var task *model.Task
	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		if workerID != nil {
			worker, err := s.store.Workers().FindByID(ctx, queueID, *workerID)
			if err != nil {
				return err
			}
			if worker.Status != model.WorkerActive {
				return apperrors.Forbidden("worker %s is not active (status: %s)", worker.ID, worker.Status)
			}
		}
		task, err = s.store.Tasks().FetchNext(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	if task == nil {
		s.metrics.FetchMisses.WithLabelValues(queueID).Inc()
		s.log.Debug("fetch found no eligible task", "queue_id", queueID)
		return nil, nil
	}

	s.metrics.TasksFetched.WithLabelValues(queueID).Inc()
	s.emit(ctx, events.New(events.TypeTaskFetched, queueID, task.ID, taskEventPayload(task)))
	s.log.Info("task leased", "queue_id", queueID, "task_id", task.ID, "worker_id", task.WorkerID)
	return task, nil
}

// ReportTaskCommand carries a worker's outcome report. Status must be
// one of success, failed, cancelled. Summary keys are merged into the
// task's summary document.
type ReportTaskCommand struct {
	Status   string
	Summary  map[string]interface{}
	WorkerID *string
}

// ReportTaskStatus applies a reported outcome to the task state
// machine. A failed outcome consumes one retry and requeues the task
// while budget remains; it also counts one failure against the
// assigned worker, which may crash it.
func (s *Service) ReportTaskStatus(ctx context.Context, queueID, taskID string, cmd ReportTaskCommand) (*model.Task, error) {
	s.log.Debug("reporting task status", "queue_id", queueID, "task_id", taskID, "status", cmd.Status)

	event, ok := model.TaskEventForReport(cmd.Status)
	if !ok {
		return nil, apperrors.BadRequest("invalid status %q; must be one of: success, failed, cancelled", cmd.Status)
	}
	summary, err := query.SanitizeDocument(orEmpty(cmd.Summary))
	if err != nil {
		return nil, err
	}

	var (
		updated      *model.Task
		failedWorker *model.Worker
	)
	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		updated, failedWorker = nil, nil

		task, err := s.store.Tasks().FindByID(ctx, queueID, taskID)
		if err != nil {
			return err
		}
		if cmd.WorkerID != nil && (task.WorkerID == nil || *task.WorkerID != *cmd.WorkerID) {
			return apperrors.Conflict("task %s is not assigned to worker %s", taskID, *cmd.WorkerID)
		}

		next, err := model.NewTaskFSM(task).Transition(event)
		if err != nil {
			return apperrors.BadRequest("%v", err)
		}

		if event == model.TaskEventFail && task.WorkerID != nil {
			failedWorker, err = s.failWorker(ctx, queueID, *task.WorkerID)
			if err != nil {
				return err
			}
		}

		set := bson.M{
			"status":        next.State,
			"retries":       next.Retries,
			"worker_id":     nil,
			"last_modified": time.Now().UTC(),
		}
		for k, v := range query.AddKeyPrefix(summary, "summary.") {
			set[k] = v
		}

		matched, err := s.store.Tasks().Update(ctx, queueID, taskID, set)
		if err != nil {
			return err
		}
		if matched == 0 {
			return apperrors.NotFound("task not found: %s", taskID)
		}

		updated, err = s.store.Tasks().FindByID(ctx, queueID, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.TasksReported.WithLabelValues(queueID, cmd.Status).Inc()
	evts := []*events.Event{
		events.New(reportEventType(event, updated.Status), queueID, taskID, taskEventPayload(updated)),
	}
	if failedWorker != nil {
		s.metrics.WorkerStatusChanges.WithLabelValues(queueID, string(failedWorker.Status)).Inc()
		evts = append(evts, events.New(events.TypeWorkerStatus, queueID, failedWorker.ID, workerEventPayload(failedWorker)))
	}
	s.emit(ctx, evts...)
	s.log.Info("task status reported",
		"queue_id", queueID,
		"task_id", taskID,
		"status", updated.Status,
		"retries", updated.Retries,
	)
	return updated, nil
}

// failWorker counts one failure against a worker and persists the
// resulting state. Must run inside the caller's transaction.
func (s *Service) failWorker(ctx context.Context, queueID, workerID string) (*model.Worker, error) {
	worker, err := s.store.Workers().FindByID(ctx, queueID, workerID)
	if err != nil {
		return nil, err
	}
	next, err := model.NewWorkerFSM(worker).Transition(model.WorkerEventFail)
	if err != nil {
		return nil, apperrors.BadRequest("%v", err)
	}

	now := time.Now().UTC()
	if err := s.store.Workers().SetState(ctx, queueID, workerID, next.State, next.Retries, now); err != nil {
		return nil, err
	}
	worker.Status = next.State
	worker.Retries = next.Retries
	worker.LastModified = now
	return worker, nil
}

// CancelTask cancels a pending or running task. Equivalent to a
// cancelled status report without a worker check.
func (s *Service) CancelTask(ctx context.Context, queueID, taskID string) (*model.Task, error) {
	return s.ReportTaskStatus(ctx, queueID, taskID, ReportTaskCommand{Status: "cancelled"})
}

// UpdateTask rewrites caller-editable task fields. With resetPending a
// terminal task is requeued with a fresh retry budget; a pending task
// is left as is and a running task cannot be reset out from under its
// worker.
func (s *Service) UpdateTask(ctx context.Context, queueID, taskID string, settings map[string]interface{}, resetPending bool) (*model.Task, error) {
	s.log.Debug("updating task", "queue_id", queueID, "task_id", taskID, "reset_pending", resetPending)

	for k := range settings {
		if strings.HasPrefix(k, "$") {
			return nil, apperrors.BadRequest("update must be a plain field map, got operator %s", k)
		}
	}
	sanitized, err := query.SanitizeUpdate(orEmpty(settings), false)
	if err != nil {
		return nil, err
	}

	var (
		updated  *model.Task
		requeued bool
	)
	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		updated, requeued = nil, false

		task, err := s.store.Tasks().FindByID(ctx, queueID, taskID)
		if err != nil {
			return err
		}

		set := bson.M{}
		for k, v := range sanitized {
			set[k] = v
		}
		if resetPending {
			switch task.Status {
			case model.TaskPending:
				// already queued, nothing to reset
			case model.TaskRunning:
				return apperrors.BadRequest("cannot reset a running task")
			default:
				set["status"] = model.TaskPending
				set["retries"] = 0
				requeued = true
			}
		}
		set["last_modified"] = time.Now().UTC()

		matched, err := s.store.Tasks().Update(ctx, queueID, taskID, set)
		if err != nil {
			return err
		}
		if matched == 0 {
			return apperrors.NotFound("task not found: %s", taskID)
		}

		updated, err = s.store.Tasks().FindByID(ctx, queueID, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if requeued {
		s.metrics.TasksRequeued.WithLabelValues(queueID).Inc()
	}
	s.emit(ctx, events.New(events.TypeTaskUpdated, queueID, taskID, taskEventPayload(updated)))
	s.log.Info("task updated", "queue_id", queueID, "task_id", taskID, "requeued", requeued)
	return updated, nil
}

// DeleteTask removes a task outright
func (s *Service) DeleteTask(ctx context.Context, queueID, taskID string) error {
	err := s.store.WithTransaction(ctx, func(ctx context.Context) error {
		deleted, err := s.store.Tasks().Delete(ctx, queueID, taskID)
		if err != nil {
			return err
		}
		if deleted == 0 {
			return apperrors.NotFound("task not found: %s", taskID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.emit(ctx, events.New(events.TypeTaskDeleted, queueID, taskID, nil))
	s.log.Info("task deleted", "queue_id", queueID, "task_id", taskID)
	return nil
}

// RefreshTaskHeartbeat stamps the task's heartbeat. Deliberately
// stateless: a heartbeat that races a timeout sweep or a status report
// touches a field nothing reads outside the running state.
func (s *Service) RefreshTaskHeartbeat(ctx context.Context, queueID, taskID string) error {
	return s.store.WithTransaction(ctx, func(ctx context.Context) error {
		return s.store.Tasks().TouchHeartbeat(ctx, queueID, taskID, time.Now().UTC())
	})
}

// reportEventType names the lifecycle event for a reported outcome. A
// failed report requeues or permanently fails the task depending on
// its retry budget, and the event distinguishes the two.
func reportEventType(event model.TaskEvent, status model.TaskStatus) events.Type {
	switch event {
	case model.TaskEventCancel:
		return events.TypeTaskCancelled
	case model.TaskEventFail:
		if status == model.TaskPending {
			return events.TypeTaskRequeued
		}
		return events.TypeTaskFailed
	default:
		return events.TypeTaskSucceeded
	}
}

func taskEventPayload(t *model.Task) events.TaskPayload {
	p := events.TaskPayload{
		TaskID:   t.ID,
		TaskName: t.TaskName,
		Status:   string(t.Status),
		Retries:  t.Retries,
	}
	if t.WorkerID != nil {
		p.WorkerID = *t.WorkerID
	}
	return p
}

func workerEventPayload(w *model.Worker) events.WorkerPayload {
	return events.WorkerPayload{
		WorkerID:   w.ID,
		WorkerName: w.WorkerName,
		Status:     string(w.Status),
		Retries:    w.Retries,
	}
}

func normalizePage(limit, offset int64) (int64, int64, error) {
	if limit == 0 {
		limit = defaultListLimit
	}
	if err := validation.New().
		Min(int(limit), 1, "limit").
		Max(int(limit), maxListLimit, "limit").
		Min(int(offset), 0, "offset").
		Err(); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}
