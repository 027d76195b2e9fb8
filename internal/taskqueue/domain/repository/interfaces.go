package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/labtasker/labtasker/internal/taskqueue/domain/model"
)

// TxOptions controls transaction semantics.
type TxOptions struct {
	// AllowNested lets the call reuse an ambient transaction instead of
	// rejecting re-entry.
	AllowNested bool
}

// TxOption configures a WithTransaction call.
type TxOption func(*TxOptions)

// AllowNested permits joining an already-open transaction.
func AllowNested() TxOption {
	return func(o *TxOptions) { o.AllowNested = true }
}

// Transactor runs a function inside a storage transaction. The
// transaction is carried in the context passed to fn; repository calls
// made with that context join it. Re-entry without AllowNested is an
// internal error.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error, opts ...TxOption) error
}

// QueueRepository persists queues.
type QueueRepository interface {
	// Insert saves a new queue. Duplicate names map to a conflict error.
	Insert(ctx context.Context, queue *model.Queue) error

	// FindByID finds a queue by id. Missing queues map to not-found.
	FindByID(ctx context.Context, id string) (*model.Queue, error)

	// FindByName finds a queue by its unique name.
	FindByName(ctx context.Context, name string) (*model.Queue, error)

	// Update applies a $set document to one queue and reports whether a
	// document matched. Renaming onto an existing name maps to a
	// conflict error.
	Update(ctx context.Context, id string, set bson.M) (int64, error)

	// Delete removes the queue document and returns the deleted count.
	Delete(ctx context.Context, id string) (int64, error)
}

// FetchRequest carries the parameters of the next-task selector.
type FetchRequest struct {
	QueueID          string
	WorkerID         *string
	ExtraFilter      bson.M
	RequiredFields   map[string]interface{}
	StartHeartbeat   bool
	HeartbeatTimeout *float64
	TaskTimeout      *int64
}

// TaskRepository persists tasks.
type TaskRepository interface {
	Insert(ctx context.Context, task *model.Task) error

	// FindByID finds a task scoped to its queue.
	FindByID(ctx context.Context, queueID, taskID string) (*model.Task, error)

	// List returns tasks matching a pre-scoped filter in _id order.
	List(ctx context.Context, filter bson.M, limit, offset int64) ([]*model.Task, error)

	// FetchNext claims the highest-priority pending task matching the
	// request, moving it to running atomically. Returns nil when no
	// candidate matches; a candidate lost to a concurrent claim is
	// skipped, not an error.
	FetchNext(ctx context.Context, req FetchRequest) (*model.Task, error)

	// Update applies a $set document to one task and reports whether a
	// document matched.
	Update(ctx context.Context, queueID, taskID string, set bson.M) (int64, error)

	// TouchHeartbeat sets last_heartbeat to now regardless of task
	// state. Missing tasks map to not-found.
	TouchHeartbeat(ctx context.Context, queueID, taskID string, now time.Time) error

	Delete(ctx context.Context, queueID, taskID string) (int64, error)

	// DeleteByQueue removes every task owned by the queue.
	DeleteByQueue(ctx context.Context, queueID string) (int64, error)

	// ReleaseWorker clears worker_id on all tasks held by the worker
	// and bumps last_modified. Task status is left untouched.
	ReleaseWorker(ctx context.Context, queueID, workerID string, now time.Time) (int64, error)

	// FindExpiredRunning returns running tasks whose heartbeat or
	// execution budget is exhausted at the given instant, across all
	// queues.
	FindExpiredRunning(ctx context.Context, now time.Time) ([]*model.Task, error)

	// FindTerminalBefore returns terminal tasks last modified before
	// the cutoff, up to limit, for archival.
	FindTerminalBefore(ctx context.Context, cutoff time.Time, limit int64) ([]*model.Task, error)

	// DeleteByIDs removes tasks by id and returns the deleted count.
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// WorkerRepository persists workers.
type WorkerRepository interface {
	Insert(ctx context.Context, worker *model.Worker) error

	FindByID(ctx context.Context, queueID, workerID string) (*model.Worker, error)

	// List returns workers matching a pre-scoped filter in _id order.
	List(ctx context.Context, filter bson.M, limit, offset int64) ([]*model.Worker, error)

	// SetState writes the worker status and retry counter.
	SetState(ctx context.Context, queueID, workerID string, status model.WorkerStatus, retries int, now time.Time) error

	Delete(ctx context.Context, queueID, workerID string) (int64, error)

	// DeleteByQueue removes every worker owned by the queue.
	DeleteByQueue(ctx context.Context, queueID string) (int64, error)
}

// CollectionRepository is the generic, sanitized query surface over the
// three collections. Filters passed in must already be queue-scoped by
// the sanitizer.
type CollectionRepository interface {
	// Query lists raw documents with the password field projected out,
	// paginated by offset/limit in _id order.
	Query(ctx context.Context, collection string, filter bson.M, limit, offset int64) ([]bson.M, error)

	// UpdateMany applies a sanitized update to all matching documents,
	// overwriting last_modified, and returns the modified count.
	UpdateMany(ctx context.Context, collection string, filter bson.M, update bson.M, now time.Time) (int64, error)
}

// Store bundles the repositories behind one connection pool.
type Store interface {
	Transactor
	Queues() QueueRepository
	Tasks() TaskRepository
	Workers() WorkerRepository
	Collections() CollectionRepository

	// Ping verifies store connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection pool.
	Close(ctx context.Context) error
}
