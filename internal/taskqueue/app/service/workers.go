package service

import (
	"context"
	"time"

	"github.com/labtasker/labtasker/internal/platform/apperrors"
	"github.com/labtasker/labtasker/internal/shared/events"
	"github.com/labtasker/labtasker/internal/taskqueue/domain/model"
	"github.com/labtasker/labtasker/internal/taskqueue/query"
)

// CreateWorkerCommand carries the inputs for worker registration
type CreateWorkerCommand struct {
	WorkerName string
	Metadata   map[string]interface{}
	MaxRetries *int
}

// CreateWorker registers a new active worker
func (s *Service) CreateWorker(ctx context.Context, queueID string, cmd CreateWorkerCommand) (*model.Worker, error) {
	s.log.Debug("creating worker", "queue_id", queueID, "worker_name", cmd.WorkerName)

	metadata, err := query.SanitizeDocument(orEmpty(cmd.Metadata))
	if err != nil {
		return nil, err
	}

	maxRetries := model.DefaultMaxRetries
	if cmd.MaxRetries != nil {
		maxRetries = *cmd.MaxRetries
	}

	worker, err := model.NewWorker(queueID, cmd.WorkerName, metadata, maxRetries)
	if err != nil {
		return nil, apperrors.BadRequest("%v", err)
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		return s.store.Workers().Insert(ctx, worker)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.WorkersCreated.WithLabelValues(queueID).Inc()
	s.emit(ctx, events.New(events.TypeWorkerCreated, queueID, worker.ID, workerEventPayload(worker)))
	s.log.Info("worker created", "queue_id", queueID, "worker_id", worker.ID)
	return worker, nil
}

// GetWorker returns one worker scoped to the queue
func (s *Service) GetWorker(ctx context.Context, queueID, workerID string) (*model.Worker, error) {
	return s.store.Workers().FindByID(ctx, queueID, workerID)
}

// ListWorkersQuery narrows a worker listing. WorkerID and WorkerName
// are convenience equality matches merged into ExtraFilter.
type ListWorkersQuery struct {
	WorkerID    string
	WorkerName  string
	ExtraFilter map[string]interface{}
	Limit       int64
	Offset      int64
}

// ListWorkers returns workers in the queue matching the query
func (s *Service) ListWorkers(ctx context.Context, queueID string, q ListWorkersQuery) ([]*model.Worker, error) {
	limit, offset, err := normalizePage(q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}

	filter, err := query.SanitizeFilter(queueID, orEmpty(q.ExtraFilter))
	if err != nil {
		return nil, err
	}
	if q.WorkerID != "" {
		filter["_id"] = q.WorkerID
	}
	if q.WorkerName != "" {
		filter["worker_name"] = q.WorkerName
	}

	return s.store.Workers().List(ctx, filter, limit, offset)
}

// ReportWorkerStatus applies a reported status to the worker state
// machine. Reporting failed consumes one retry and only crashes the
// worker once the budget is exhausted, so the resulting state may
// differ from the reported one.
func (s *Service) ReportWorkerStatus(ctx context.Context, queueID, workerID, status string) (*model.Worker, error) {
	s.log.Debug("reporting worker status", "queue_id", queueID, "worker_id", workerID, "status", status)

	event, ok := model.WorkerEventForReport(status)
	if !ok {
		return nil, apperrors.BadRequest("invalid status %q; must be one of: active, suspended, failed", status)
	}

	var updated *model.Worker
	err := s.store.WithTransaction(ctx, func(ctx context.Context) error {
		worker, err := s.store.Workers().FindByID(ctx, queueID, workerID)
		if err != nil {
			return err
		}
		next, err := model.NewWorkerFSM(worker).Transition(event)
		if err != nil {
			return apperrors.BadRequest("%v", err)
		}

		now := time.Now().UTC()
		if err := s.store.Workers().SetState(ctx, queueID, workerID, next.State, next.Retries, now); err != nil {
			return err
		}
		worker.Status = next.State
		worker.Retries = next.Retries
		worker.LastModified = now
		updated = worker
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.WorkerStatusChanges.WithLabelValues(queueID, string(updated.Status)).Inc()
	s.emit(ctx, events.New(events.TypeWorkerStatus, queueID, workerID, workerEventPayload(updated)))
	s.log.Info("worker status reported",
		"queue_id", queueID,
		"worker_id", workerID,
		"status", updated.Status,
		"retries", updated.Retries,
	)
	return updated, nil
}

// DeleteWorker removes a worker. With cascadeUpdate its tasks are
// released (worker_id cleared) so they can be swept or re-fetched;
// without it, task documents keep a dangling worker reference.
func (s *Service) DeleteWorker(ctx context.Context, queueID, workerID string, cascadeUpdate bool) error {
	s.log.Debug("deleting worker", "queue_id", queueID, "worker_id", workerID, "cascade_update", cascadeUpdate)

	err := s.store.WithTransaction(ctx, func(ctx context.Context) error {
		deleted, err := s.store.Workers().Delete(ctx, queueID, workerID)
		if err != nil {
			return err
		}
		if deleted == 0 {
			return apperrors.NotFound("worker not found: %s", workerID)
		}
		if cascadeUpdate {
			if _, err := s.store.Tasks().ReleaseWorker(ctx, queueID, workerID, time.Now().UTC()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.emit(ctx, events.New(events.TypeWorkerDeleted, queueID, workerID, nil))
	s.log.Info("worker deleted", "queue_id", queueID, "worker_id", workerID)
	return nil
}
