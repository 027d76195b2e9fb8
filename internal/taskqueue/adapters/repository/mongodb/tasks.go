package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/labtasker/labtasker/internal/platform/apperrors"
	"github.com/labtasker/labtasker/internal/taskqueue/domain/model"
	"github.com/labtasker/labtasker/internal/taskqueue/domain/repository"
	"github.com/labtasker/labtasker/internal/taskqueue/query"
)

type taskRepository struct {
	col *mongo.Collection
}

// Insert saves a new task.
func (r *taskRepository) Insert(ctx context.Context, task *model.Task) error {
	_, err := r.col.InsertOne(ctx, task)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.Conflict("task %q already exists", task.ID)
		}
		return apperrors.Wrap(err, "failed to insert task")
	}
	return nil
}

// FindByID finds a task scoped to its queue.
func (r *taskRepository) FindByID(ctx context.Context, queueID, taskID string) (*model.Task, error) {
	var task model.Task
	err := r.col.FindOne(ctx, bson.M{"_id": taskID, "queue_id": queueID}).Decode(&task)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("task not found: %s", taskID)
		}
		return nil, apperrors.Wrap(err, "failed to find task")
	}
	return &task, nil
}

// List returns tasks matching a pre-scoped filter in _id order.
func (r *taskRepository) List(ctx context.Context, filter bson.M, limit, offset int64) ([]*model.Task, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(limit).
		SetSkip(offset)
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list tasks")
	}
	defer cur.Close(ctx)

	tasks := []*model.Task{}
	for cur.Next(ctx) {
		var task model.Task
		if err := cur.Decode(&task); err != nil {
			return nil, apperrors.Wrap(err, "failed to decode task")
		}
		tasks = append(tasks, &task)
	}
	if err := cur.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate tasks")
	}
	return tasks, nil
}

// FetchNext walks the ordered pending candidates and claims the first
// whose args survive the structural required-fields check. The claim
// is a conditional update on {_id, status: pending}, so of any number
// of concurrent callers exactly one wins a given task; losers move on
// to the next candidate.
func (r *taskRepository) FetchNext(ctx context.Context, req repository.FetchRequest) (*model.Task, error) {
	cur, err := r.col.Find(ctx, fetchFilter(req), options.Find().SetSort(fetchSort()))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query fetch candidates")
	}
	defer cur.Close(ctx)

	update := claimUpdate(req, time.Now().UTC())
	for cur.Next(ctx) {
		var candidate model.Task
		if err := cur.Decode(&candidate); err != nil {
			return nil, apperrors.Wrap(err, "failed to decode task")
		}
		if len(req.RequiredFields) > 0 && !query.ArgsMatch(req.RequiredFields, candidate.Args) {
			continue
		}

		claimed, err := r.claim(ctx, candidate.ID, update)
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			return claimed, nil
		}
	}
	if err := cur.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate fetch candidates")
	}
	return nil, nil
}

func (r *taskRepository) claim(ctx context.Context, taskID string, update bson.M) (*model.Task, error) {
	var task model.Task
	err := r.col.FindOneAndUpdate(ctx,
		bson.M{"_id": taskID, "status": model.TaskPending},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&task)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// lost the race to a concurrent fetch
			return nil, nil
		}
		return nil, apperrors.Wrap(err, "failed to claim task")
	}
	return &task, nil
}

// Update applies a $set document to one task.
func (r *taskRepository) Update(ctx context.Context, queueID, taskID string, set bson.M) (int64, error) {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": taskID, "queue_id": queueID}, bson.M{"$set": set})
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to update task")
	}
	return res.MatchedCount, nil
}

// TouchHeartbeat refreshes last_heartbeat without looking at state. A
// heartbeat that arrives after the sweeper already moved the task only
// touches the stale record.
func (r *taskRepository) TouchHeartbeat(ctx context.Context, queueID, taskID string, now time.Time) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": taskID, "queue_id": queueID},
		bson.M{"$set": bson.M{"last_heartbeat": now}},
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to refresh heartbeat")
	}
	if res.MatchedCount == 0 {
		return apperrors.NotFound("task not found: %s", taskID)
	}
	return nil
}

// Delete removes one task.
func (r *taskRepository) Delete(ctx context.Context, queueID, taskID string) (int64, error) {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": taskID, "queue_id": queueID})
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete task")
	}
	return res.DeletedCount, nil
}

// DeleteByQueue removes every task owned by the queue.
func (r *taskRepository) DeleteByQueue(ctx context.Context, queueID string) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"queue_id": queueID})
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete queue tasks")
	}
	return res.DeletedCount, nil
}

// ReleaseWorker clears worker_id on every task the worker holds.
func (r *taskRepository) ReleaseWorker(ctx context.Context, queueID, workerID string, now time.Time) (int64, error) {
	res, err := r.col.UpdateMany(ctx,
		bson.M{"queue_id": queueID, "worker_id": workerID},
		bson.M{"$set": bson.M{"worker_id": nil, "last_modified": now}},
	)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to release worker tasks")
	}
	return res.ModifiedCount, nil
}

// FindExpiredRunning returns running tasks past their heartbeat or
// execution budget, across all queues.
func (r *taskRepository) FindExpiredRunning(ctx context.Context, now time.Time) ([]*model.Task, error) {
	cur, err := r.col.Find(ctx, expiredFilter(now))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query expired tasks")
	}
	defer cur.Close(ctx)

	var tasks []*model.Task
	for cur.Next(ctx) {
		var task model.Task
		if err := cur.Decode(&task); err != nil {
			return nil, apperrors.Wrap(err, "failed to decode task")
		}
		tasks = append(tasks, &task)
	}
	if err := cur.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate expired tasks")
	}
	return tasks, nil
}

// FindTerminalBefore returns finished tasks untouched since cutoff,
// oldest first, for archival.
func (r *taskRepository) FindTerminalBefore(ctx context.Context, cutoff time.Time, limit int64) ([]*model.Task, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "last_modified", Value: 1}}).
		SetLimit(limit)
	cur, err := r.col.Find(ctx, terminalBeforeFilter(cutoff), opts)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query terminal tasks")
	}
	defer cur.Close(ctx)

	var tasks []*model.Task
	for cur.Next(ctx) {
		var task model.Task
		if err := cur.Decode(&task); err != nil {
			return nil, apperrors.Wrap(err, "failed to decode task")
		}
		tasks = append(tasks, &task)
	}
	if err := cur.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate terminal tasks")
	}
	return tasks, nil
}

// DeleteByIDs removes tasks by id after they were archived.
func (r *taskRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.col.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete archived tasks")
	}
	return res.DeletedCount, nil
}
