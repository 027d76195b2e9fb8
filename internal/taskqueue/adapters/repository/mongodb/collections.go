package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/labtasker/labtasker/internal/platform/apperrors"
	"github.com/labtasker/labtasker/internal/taskqueue/query"
)

// collectionRepository is the generic query/update surface. Filters and
// updates arriving here have already passed the sanitizer; collection
// names are still validated so a bad name can never address an
// arbitrary collection.
type collectionRepository struct {
	db *mongo.Database
}

func (r *collectionRepository) resolve(collection string) (*mongo.Collection, error) {
	if _, err := query.ScopeField(collection); err != nil {
		return nil, err
	}
	return r.db.Collection(collection), nil
}

// Query lists raw documents with password projected out, in _id order.
func (r *collectionRepository) Query(ctx context.Context, collection string, filter bson.M, limit, offset int64) ([]bson.M, error) {
	col, err := r.resolve(collection)
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetProjection(bson.M{"password": 0}).
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(limit).
		SetSkip(offset)

	cur, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query %s", collection)
	}
	defer cur.Close(ctx)

	docs := []bson.M{}
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, apperrors.Wrap(err, "failed to decode %s document", collection)
		}
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate %s", collection)
	}
	return docs, nil
}

// UpdateMany applies a sanitized update to all matching documents,
// always overwriting last_modified.
func (r *collectionRepository) UpdateMany(ctx context.Context, collection string, filter bson.M, update bson.M, now time.Time) (int64, error) {
	col, err := r.resolve(collection)
	if err != nil {
		return 0, err
	}

	res, err := col.UpdateMany(ctx, filter, forceLastModified(update, now))
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to update %s", collection)
	}
	return res.ModifiedCount, nil
}
