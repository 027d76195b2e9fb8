package service

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/labtasker/labtasker/internal/platform/apperrors"
	"github.com/labtasker/labtasker/internal/taskqueue/query"
)

// QueryCollectionCommand addresses one of the queue-scoped collections
// with a raw Mongo filter.
type QueryCollectionCommand struct {
	Collection string
	Query      map[string]interface{}
	Limit      int64
	Offset     int64
}

// QueryCollection runs a sanitized raw query against the caller's own
// slice of a collection. Password hashes never leave the store.
func (s *Service) QueryCollection(ctx context.Context, queueID string, cmd QueryCollectionCommand) ([]bson.M, error) {
	limit, offset, err := normalizePage(cmd.Limit, cmd.Offset)
	if err != nil {
		return nil, err
	}

	filter, err := query.SanitizeCollectionFilter(queueID, cmd.Collection, orEmpty(cmd.Query))
	if err != nil {
		return nil, err
	}

	return s.store.Collections().Query(ctx, cmd.Collection, filter, limit, offset)
}

// UpdateCollectionCommand addresses one of the queue-scoped
// collections with a raw Mongo update.
type UpdateCollectionCommand struct {
	Collection string
	Query      map[string]interface{}
	Update     map[string]interface{}
}

// UpdateCollection applies a sanitized raw update to every matching
// document in the caller's own slice of a collection. Plain field maps
// are treated as $set; immutable and privileged fields are rejected
// like any other caller-supplied update.
func (s *Service) UpdateCollection(ctx context.Context, queueID string, cmd UpdateCollectionCommand) (int64, error) {
	if len(cmd.Update) == 0 {
		return 0, apperrors.BadRequest("update document is required")
	}

	filter, err := query.SanitizeCollectionFilter(queueID, cmd.Collection, orEmpty(cmd.Query))
	if err != nil {
		return 0, err
	}
	update, err := query.SanitizeUpdate(cmd.Update, false)
	if err != nil {
		return 0, err
	}

	hasOperator, hasField := false, false
	for k := range update {
		if strings.HasPrefix(k, "$") {
			hasOperator = true
		} else {
			hasField = true
		}
	}
	if hasOperator && hasField {
		return 0, apperrors.BadRequest("update cannot mix operator and plain field keys")
	}
	if !hasOperator {
		update = bson.M{"$set": update}
	}

	s.log.Warn("executing raw collection update",
		"queue_id", queueID,
		"collection", cmd.Collection,
	)

	var modified int64
	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		modified, err = s.store.Collections().UpdateMany(ctx, cmd.Collection, filter, update, time.Now().UTC())
		return err
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("raw collection update applied",
		"queue_id", queueID,
		"collection", cmd.Collection,
		"modified", modified,
	)
	return modified, nil
}
