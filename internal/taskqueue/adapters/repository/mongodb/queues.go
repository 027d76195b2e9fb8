package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/labtasker/labtasker/internal/platform/apperrors"
	"github.com/labtasker/labtasker/internal/taskqueue/domain/model"
)

type queueRepository struct {
	col *mongo.Collection
}

// Insert saves a new queue. A queue_name collision is a conflict.
func (r *queueRepository) Insert(ctx context.Context, queue *model.Queue) error {
	_, err := r.col.InsertOne(ctx, queue)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.Conflict("queue %q already exists", queue.QueueName)
		}
		return apperrors.Wrap(err, "failed to insert queue")
	}
	return nil
}

// FindByID finds a queue by id.
func (r *queueRepository) FindByID(ctx context.Context, id string) (*model.Queue, error) {
	var queue model.Queue
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&queue)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("queue not found: %s", id)
		}
		return nil, apperrors.Wrap(err, "failed to find queue")
	}
	return &queue, nil
}

// FindByName finds a queue by its unique name.
func (r *queueRepository) FindByName(ctx context.Context, name string) (*model.Queue, error) {
	var queue model.Queue
	err := r.col.FindOne(ctx, bson.M{"queue_name": name}).Decode(&queue)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("queue not found: %s", name)
		}
		return nil, apperrors.Wrap(err, "failed to find queue")
	}
	return &queue, nil
}

// Update applies a $set document to one queue. The only unique index
// on the collection is queue_name, so a duplicate key here means a
// rename onto an existing queue, which is invalid input rather than a
// create conflict.
func (r *queueRepository) Update(ctx context.Context, id string, set bson.M) (int64, error) {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, apperrors.BadRequest("queue name already taken")
		}
		return 0, apperrors.Wrap(err, "failed to update queue")
	}
	return res.ModifiedCount, nil
}

// Delete removes the queue document.
func (r *queueRepository) Delete(ctx context.Context, id string) (int64, error) {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete queue")
	}
	return res.DeletedCount, nil
}
