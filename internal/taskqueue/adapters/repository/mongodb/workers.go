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
)

type workerRepository struct {
	col *mongo.Collection
}

// Insert saves a new worker.
func (r *workerRepository) Insert(ctx context.Context, worker *model.Worker) error {
	_, err := r.col.InsertOne(ctx, worker)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.Conflict("worker %q already exists", worker.ID)
		}
		return apperrors.Wrap(err, "failed to insert worker")
	}
	return nil
}

// FindByID finds a worker scoped to its queue.
func (r *workerRepository) FindByID(ctx context.Context, queueID, workerID string) (*model.Worker, error) {
	var worker model.Worker
	err := r.col.FindOne(ctx, bson.M{"_id": workerID, "queue_id": queueID}).Decode(&worker)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("worker not found: %s", workerID)
		}
		return nil, apperrors.Wrap(err, "failed to find worker")
	}
	return &worker, nil
}

// List returns workers matching a pre-scoped filter in _id order.
func (r *workerRepository) List(ctx context.Context, filter bson.M, limit, offset int64) ([]*model.Worker, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(limit).
		SetSkip(offset)
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list workers")
	}
	defer cur.Close(ctx)

	workers := []*model.Worker{}
	for cur.Next(ctx) {
		var worker model.Worker
		if err := cur.Decode(&worker); err != nil {
			return nil, apperrors.Wrap(err, "failed to decode worker")
		}
		workers = append(workers, &worker)
	}
	if err := cur.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate workers")
	}
	return workers, nil
}

// SetState writes the worker status and retry counter.
func (r *workerRepository) SetState(ctx context.Context, queueID, workerID string, status model.WorkerStatus, retries int, now time.Time) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": workerID, "queue_id": queueID},
		bson.M{"$set": bson.M{
			"status":        status,
			"retries":       retries,
			"last_modified": now,
		}},
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update worker")
	}
	if res.MatchedCount == 0 {
		return apperrors.NotFound("worker not found: %s", workerID)
	}
	return nil
}

// Delete removes one worker.
func (r *workerRepository) Delete(ctx context.Context, queueID, workerID string) (int64, error) {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": workerID, "queue_id": queueID})
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete worker")
	}
	return res.DeletedCount, nil
}

// DeleteByQueue removes every worker owned by the queue.
func (r *workerRepository) DeleteByQueue(ctx context.Context, queueID string) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"queue_id": queueID})
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete queue workers")
	}
	return res.DeletedCount, nil
}
