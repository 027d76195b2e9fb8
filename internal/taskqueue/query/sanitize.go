// Package query validates and scopes caller-supplied MongoDB filters
// and updates. Callers of the public API may pass raw filter documents;
// everything here exists to keep those documents inside the caller's
// own queue and away from server-side execution operators.
package query

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/labtasker/labtasker/internal/platform/apperrors"
)

// Collection names addressable through the query endpoints.
const (
	CollectionQueues  = "queues"
	CollectionTasks   = "tasks"
	CollectionWorkers = "workers"
)

// bannedOperators are Mongo operators that evaluate code or escape the
// collection being queried. Keys are matched lowercase.
var bannedOperators = map[string]struct{}{
	"$where":       {},
	"$function":    {},
	"$accumulator": {},
	"$expr":        {},
	"$lookup":      {},
	"$graphlookup": {},
	"$facet":       {},
	"$out":         {},
	"$merge":       {},
}

// immutableFields may never be written through a caller-supplied update.
var immutableFields = map[string]struct{}{
	"_id":           {},
	"queue_id":      {},
	"created_at":    {},
	"last_modified": {},
}

// privilegedFields are writable only through privileged paths; the FSM
// owns status and retries, and password changes go through UpdateQueue.
var privilegedFields = map[string]struct{}{
	"status":   {},
	"retries":  {},
	"password": {},
}

// ScopeField returns the field that pins a collection to one queue
func ScopeField(collection string) (string, error) {
	switch collection {
	case CollectionQueues:
		return "_id", nil
	case CollectionTasks, CollectionWorkers:
		return "queue_id", nil
	default:
		return "", apperrors.BadRequest("invalid collection name. Must be one of: queues, tasks, workers")
	}
}

// SanitizeFilter scans a task filter for banned operators and conjuncts
// the queue scope. The caller's own queue_id, if present, is overwritten.
func SanitizeFilter(queueID string, filter map[string]interface{}) (bson.M, error) {
	return scopeFilter("queue_id", queueID, filter)
}

// SanitizeCollectionFilter is SanitizeFilter for an arbitrary
// collection, scoping queues by _id and tasks/workers by queue_id.
func SanitizeCollectionFilter(queueID, collection string, filter map[string]interface{}) (bson.M, error) {
	field, err := ScopeField(collection)
	if err != nil {
		return nil, err
	}
	return scopeFilter(field, queueID, filter)
}

// ScanFilter rejects banned operators without rescoping the filter.
// Used where the storage layer composes the queue scope itself.
func ScanFilter(filter map[string]interface{}) (bson.M, error) {
	if err := scanOperators(filter); err != nil {
		return nil, err
	}
	out := make(bson.M, len(filter))
	for k, v := range filter {
		out[k] = v
	}
	return out, nil
}

func scopeFilter(field, queueID string, filter map[string]interface{}) (bson.M, error) {
	if err := scanOperators(filter); err != nil {
		return nil, err
	}

	out := make(bson.M, len(filter)+1)
	for k, v := range filter {
		out[k] = v
	}
	out[field] = queueID
	return out, nil
}

// scanOperators walks a document and rejects banned operators anywhere,
// including inside arrays and nested documents.
func scanOperators(value interface{}) error {
	switch v := value.(type) {
	case map[string]interface{}:
		return scanOperatorMap(v)
	case bson.M:
		return scanOperatorMap(v)
	case bson.D:
		for _, e := range v {
			if err := scanOperatorKey(e.Key); err != nil {
				return err
			}
			if err := scanOperators(e.Value); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, item := range v {
			if err := scanOperators(item); err != nil {
				return err
			}
		}
	case bson.A:
		for _, item := range v {
			if err := scanOperators(item); err != nil {
				return err
			}
		}
	}
	return nil
}

func scanOperatorMap(m map[string]interface{}) error {
	for k, v := range m {
		if err := scanOperatorKey(k); err != nil {
			return err
		}
		if err := scanOperators(v); err != nil {
			return err
		}
	}
	return nil
}

func scanOperatorKey(key string) error {
	if !strings.HasPrefix(key, "$") {
		return nil
	}
	if _, banned := bannedOperators[strings.ToLower(key)]; banned {
		return apperrors.BadRequest("operator %s is not allowed", key)
	}
	return nil
}

// SanitizeUpdate validates a caller-supplied update. Plain field maps
// and operator documents ({$set: ...} etc.) are both accepted; writes
// to immutable fields are always rejected, writes to privileged fields
// only on privileged paths. last_modified is immutable to callers and
// stamped by the store on every write.
func SanitizeUpdate(update map[string]interface{}, privileged bool) (bson.M, error) {
	if err := scanOperators(update); err != nil {
		return nil, err
	}

	out := make(bson.M, len(update))
	for k, v := range update {
		if strings.HasPrefix(k, "$") {
			fields, ok := v.(map[string]interface{})
			if !ok {
				if m, isM := v.(bson.M); isM {
					fields = m
				} else {
					return nil, apperrors.BadRequest("update operator %s must map fields to values", k)
				}
			}
			cleaned := make(bson.M, len(fields))
			for field, fv := range fields {
				if err := checkWritableField(field, privileged); err != nil {
					return nil, err
				}
				cleaned[field] = fv
			}
			out[k] = cleaned
			continue
		}

		if err := checkWritableField(k, privileged); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func checkWritableField(field string, privileged bool) error {
	head := pathHead(field)
	if _, immutable := immutableFields[head]; immutable {
		return apperrors.BadRequest("field %s cannot be updated", head)
	}
	if _, priv := privilegedFields[head]; priv && !privileged {
		return apperrors.BadRequest("field %s cannot be updated", head)
	}
	return nil
}

func pathHead(field string) string {
	if i := strings.IndexByte(field, '.'); i >= 0 {
		return field[:i]
	}
	return field
}

// SanitizeDocument rejects operator keys anywhere in a free-form
// metadata or summary document.
func SanitizeDocument(doc map[string]interface{}) (bson.M, error) {
	for k, v := range doc {
		if strings.HasPrefix(k, "$") {
			return nil, apperrors.BadRequest("key %s is not allowed", k)
		}
		if err := scanOperators(v); err != nil {
			return nil, err
		}
	}

	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out, nil
}

// AddKeyPrefix rewrites {k: v} to {prefix+k: v}, turning a partial
// document into dotted-path merge assignments.
func AddKeyPrefix(doc bson.M, prefix string) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[prefix+k] = v
	}
	return out
}

// MergeFilters conjoins two filters. Either may be nil or empty.
func MergeFilters(a, b bson.M) bson.M {
	if len(a) == 0 && len(b) == 0 {
		return bson.M{}
	}
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	return bson.M{"$and": bson.A{a, b}}
}
