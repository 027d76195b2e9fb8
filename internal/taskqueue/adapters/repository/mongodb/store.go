// Package mongodb implements the task queue repositories on MongoDB.
// Multi-document work runs in majority-committed transactions carried
// through the context; single-task transitions rely on conditional
// FindOneAndUpdate so they stay correct even without a transaction.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/labtasker/labtasker/internal/platform/apperrors"
	"github.com/labtasker/labtasker/internal/platform/logger"
	"github.com/labtasker/labtasker/internal/taskqueue/domain/repository"
	"github.com/labtasker/labtasker/internal/taskqueue/query"
)

// Config holds MongoDB connection settings.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
}

// Store owns the Mongo client and exposes the per-collection
// repositories behind it.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    logger.Logger

	queues      *queueRepository
	tasks       *taskRepository
	workers     *workerRepository
	collections *collectionRepository
}

// NewStore connects to MongoDB with majority write concern and
// retryable writes, pings it, and ensures the indexes.
func NewStore(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongodb uri is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("mongodb database is required")
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetWriteConcern(writeconcern.Majority()).
		SetReadConcern(readconcern.Majority()).
		SetRetryWrites(true)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client:      client,
		db:          db,
		log:         log,
		queues:      &queueRepository{col: db.Collection(query.CollectionQueues)},
		tasks:       &taskRepository{col: db.Collection(query.CollectionTasks)},
		workers:     &workerRepository{col: db.Collection(query.CollectionWorkers)},
		collections: &collectionRepository{db: db},
	}

	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	log.Info("connected to mongodb", "database", cfg.Database)
	return s, nil
}

// Queues returns the queue repository.
func (s *Store) Queues() repository.QueueRepository { return s.queues }

// Tasks returns the task repository.
func (s *Store) Tasks() repository.TaskRepository { return s.tasks }

// Workers returns the worker repository.
func (s *Store) Workers() repository.WorkerRepository { return s.workers }

// Collections returns the generic query surface.
func (s *Store) Collections() repository.CollectionRepository { return s.collections }

// WithTransaction runs fn inside a session transaction. The session
// context handed to fn enrolls every repository call made with it.
// Re-entry is rejected unless AllowNested was given, in which case the
// ambient transaction is reused.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error, opts ...repository.TxOption) error {
	var txOpts repository.TxOptions
	for _, opt := range opts {
		opt(&txOpts)
	}

	if mongo.SessionFromContext(ctx) != nil {
		if txOpts.AllowNested {
			return fn(ctx)
		}
		return apperrors.Internal("nested transactions are not allowed")
	}

	session, err := s.client.StartSession()
	if err != nil {
		return apperrors.Wrap(err, "failed to start mongodb session")
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	if err != nil {
		// typed errors keep their kind; anything else aborted the
		// transaction and is a store failure
		return apperrors.Wrap(err, "transaction failed")
	}
	return nil
}

// Ping verifies connectivity, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.queues.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "queue_name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("queues indexes: %w", err)
	}

	// Covers the fetch candidate scan: pending tasks in one queue,
	// ordered by priority then age.
	_, err = s.tasks.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "queue_id", Value: 1},
			{Key: "status", Value: 1},
			{Key: "priority", Value: -1},
			{Key: "created_at", Value: 1},
		}},
		{Keys: bson.D{{Key: "worker_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("tasks indexes: %w", err)
	}

	_, err = s.workers.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "queue_id", Value: 1},
			{Key: "worker_name", Value: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("workers indexes: %w", err)
	}
	return nil
}
