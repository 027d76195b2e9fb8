package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/labtasker/labtasker/internal/platform/apperrors"
	"github.com/labtasker/labtasker/internal/platform/logger"
	"github.com/labtasker/labtasker/internal/platform/metrics"
	"github.com/labtasker/labtasker/internal/shared/events"
	"github.com/labtasker/labtasker/internal/taskqueue/domain/model"
)

const timeoutErrorSummary = "Either heartbeat or task execution timed out"

const defaultSweepInterval = 10 * time.Second

// HandleTimeouts transitions every running task whose heartbeat or
// execution window has expired. Each task is handled in its own
// transaction; one bad task never blocks the rest of the sweep.
// Returns the ids of transitioned tasks.
func (s *Service) HandleTimeouts(ctx context.Context) ([]string, error) {
	expired, err := s.store.Tasks().FindExpiredRunning(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	transitioned := []string{}
	for _, candidate := range expired {
		updated, failedWorker, err := s.failTimedOutTask(ctx, candidate.QueueID, candidate.ID)
		if err != nil {
			s.log.Error("failed to transition timed out task",
				"queue_id", candidate.QueueID,
				"task_id", candidate.ID,
				"error", err,
			)
			continue
		}
		if updated == nil {
			// resolved between the scan and our transaction
			continue
		}

		transitioned = append(transitioned, updated.ID)
		s.metrics.TasksSwept.WithLabelValues(updated.QueueID).Inc()
		evts := []*events.Event{
			events.New(events.TypeTaskTimeout, updated.QueueID, updated.ID, taskEventPayload(updated)),
		}
		if failedWorker != nil {
			s.metrics.WorkerStatusChanges.WithLabelValues(updated.QueueID, string(failedWorker.Status)).Inc()
			evts = append(evts, events.New(events.TypeWorkerStatus, updated.QueueID, failedWorker.ID, workerEventPayload(failedWorker)))
		}
		s.emit(ctx, evts...)
	}

	if len(transitioned) > 0 {
		s.log.Info("timeout sweep transitioned tasks", "count", len(transitioned))
	}
	return transitioned, nil
}

// failTimedOutTask re-reads the task under a transaction and applies a
// fail transition, cascading one failure to the assigned worker. The
// returned task is nil when the task stopped running in the meantime.
func (s *Service) failTimedOutTask(ctx context.Context, queueID, taskID string) (*model.Task, *model.Worker, error) {
	var (
		updated      *model.Task
		failedWorker *model.Worker
	)
	err := s.store.WithTransaction(ctx, func(ctx context.Context) error {
		updated, failedWorker = nil, nil

		task, err := s.store.Tasks().FindByID(ctx, queueID, taskID)
		if err != nil {
			return err
		}
		if task.Status != model.TaskRunning {
			return nil
		}

		next, err := model.NewTaskFSM(task).Transition(model.TaskEventFail)
		if err != nil {
			return apperrors.BadRequest("%v", err)
		}

		if task.WorkerID != nil {
			worker, err := s.store.Workers().FindByID(ctx, queueID, *task.WorkerID)
			switch {
			case apperrors.IsNotFound(err):
				// worker deleted without cascade; fail the task alone
			case err != nil:
				return err
			case worker.Status == model.WorkerActive:
				failedWorker, err = s.failWorker(ctx, queueID, worker.ID)
				if err != nil {
					return err
				}
			default:
				// fail is only legal from active; a suspended or crashed
				// worker keeps its state
				s.log.Warn("timed out task held by inactive worker",
					"queue_id", queueID,
					"task_id", taskID,
					"worker_id", worker.ID,
					"worker_status", worker.Status,
				)
			}
		}

		now := time.Now().UTC()
		set := bson.M{
			"status":                  next.State,
			"retries":                 next.Retries,
			"worker_id":               nil,
			"last_modified":           now,
			"summary.labtasker_error": timeoutErrorSummary,
		}
		matched, err := s.store.Tasks().Update(ctx, queueID, taskID, set)
		if err != nil {
			return err
		}
		if matched == 0 {
			return apperrors.NotFound("task not found: %s", taskID)
		}

		task.Status = next.State
		task.Retries = next.Retries
		task.WorkerID = nil
		task.LastModified = now
		updated = task
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, failedWorker, nil
}

// Locker guards the sweep critical section across replicas
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Sweeper periodically runs the timeout sweep. With a Locker only one
// replica sweeps per interval; without one every replica sweeps, which
// is safe but wasteful.
type Sweeper struct {
	service  *Service
	cron     *cron.Cron
	locker   Locker
	interval time.Duration
	log      logger.Logger
	metrics  *metrics.Metrics
}

// NewSweeper creates a sweeper. A nil locker disables leader election.
func NewSweeper(service *Service, interval time.Duration, locker Locker) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	location, _ := time.LoadLocation("UTC")
	return &Sweeper{
		service:  service,
		cron:     cron.New(cron.WithLocation(location)),
		locker:   locker,
		interval: interval,
		log:      service.log,
		metrics:  service.metrics,
	}
}

// Start schedules the sweep and starts the cron runner
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.sweep); err != nil {
		return apperrors.Wrap(err, "failed to schedule timeout sweep")
	}
	s.cron.Start()
	s.log.Info("timeout sweeper started", "interval", s.interval)
	return nil
}

// Stop stops the cron runner and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("timeout sweeper stopped")
}

func (s *Sweeper) sweep() {
	ctx := context.Background()

	if s.locker != nil {
		acquired, err := s.locker.Acquire(ctx)
		switch {
		case err != nil:
			// a broken lock store should not stall timeout handling
			s.log.Warn("sweep lock check failed, proceeding", "error", err)
		case !acquired:
			s.metrics.SweepsSkipped.Inc()
			return
		default:
			defer func() {
				if err := s.locker.Release(ctx); err != nil {
					s.log.Warn("failed to release sweep lock", "error", err)
				}
			}()
		}
	}

	s.metrics.SweepsTotal.Inc()
	start := time.Now()
	transitioned, err := s.service.HandleTimeouts(ctx)
	s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.log.Error("timeout sweep failed", "error", err)
		return
	}
	s.log.Debug("timeout sweep completed", "transitioned", len(transitioned))
}
