package mongodb

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/labtasker/labtasker/internal/taskqueue/domain/model"
	"github.com/labtasker/labtasker/internal/taskqueue/domain/repository"
	"github.com/labtasker/labtasker/internal/taskqueue/query"
)

// fetchFilter builds the candidate filter for the next-task selector:
// pending tasks in the queue, narrowed by the sanitized extra filter
// and the conservative required-fields pre-filter.
func fetchFilter(req repository.FetchRequest) bson.M {
	filter := bson.M{
		"queue_id": req.QueueID,
		"status":   model.TaskPending,
	}
	filter = query.MergeFilters(filter, req.ExtraFilter)
	filter = query.MergeFilters(filter, query.RequiredFieldsFilter(req.RequiredFields, "args"))
	return filter
}

// fetchSort orders candidates by priority, then staleness, then age.
func fetchSort() bson.D {
	return bson.D{
		{Key: "priority", Value: -1},
		{Key: "last_modified", Value: 1},
		{Key: "created_at", Value: 1},
	}
}

// claimUpdate builds the pending-to-running transition document.
// last_heartbeat is only started when requested; timeout overrides are
// written only when supplied so stored values survive otherwise.
func claimUpdate(req repository.FetchRequest, now time.Time) bson.M {
	set := bson.M{
		"status":        model.TaskRunning,
		"start_time":    now,
		"last_modified": now,
		"worker_id":     req.WorkerID,
	}
	if req.StartHeartbeat {
		set["last_heartbeat"] = now
	} else {
		set["last_heartbeat"] = nil
	}
	if req.TaskTimeout != nil {
		set["task_timeout"] = *req.TaskTimeout
	}
	if req.HeartbeatTimeout != nil {
		set["heartbeat_timeout"] = *req.HeartbeatTimeout
	}
	return bson.M{"$set": set}
}

// expiredFilter matches running tasks whose heartbeat or execution
// budget is exhausted. Timeouts are stored in seconds while a date
// subtraction yields milliseconds, hence the divide.
func expiredFilter(now time.Time) bson.M {
	return bson.M{
		"status": model.TaskRunning,
		"$or": bson.A{
			bson.M{
				"last_heartbeat":    bson.M{"$ne": nil},
				"heartbeat_timeout": bson.M{"$ne": nil},
				"$expr": bson.M{"$gt": bson.A{
					bson.M{"$divide": bson.A{
						bson.M{"$subtract": bson.A{now, "$last_heartbeat"}},
						1000,
					}},
					"$heartbeat_timeout",
				}},
			},
			bson.M{
				"task_timeout": bson.M{"$ne": nil},
				"start_time":   bson.M{"$ne": nil},
				"$expr": bson.M{"$gt": bson.A{
					bson.M{"$divide": bson.A{
						bson.M{"$subtract": bson.A{now, "$start_time"}},
						1000,
					}},
					"$task_timeout",
				}},
			},
		},
	}
}

// terminalStatuses are the states eligible for archival.
var terminalStatuses = bson.A{model.TaskSuccess, model.TaskFailed, model.TaskCancelled}

// terminalBeforeFilter matches finished tasks untouched since cutoff.
func terminalBeforeFilter(cutoff time.Time) bson.M {
	return bson.M{
		"status":        bson.M{"$in": terminalStatuses},
		"last_modified": bson.M{"$lt": cutoff},
	}
}

// forceLastModified returns a copy of the update with last_modified
// overwritten in $set, creating $set when absent. Callers never control
// that field.
func forceLastModified(update bson.M, now time.Time) bson.M {
	out := bson.M{}
	for k, v := range update {
		out[k] = v
	}

	set := bson.M{}
	switch existing := out["$set"].(type) {
	case bson.M:
		for k, v := range existing {
			set[k] = v
		}
	case map[string]interface{}:
		for k, v := range existing {
			set[k] = v
		}
	}
	set["last_modified"] = now
	out["$set"] = set
	return out
}
