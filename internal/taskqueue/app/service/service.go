// Package service implements the task queue use cases on top of the
// repository interfaces. All state machine checks, credential checks
// and filter sanitization happen here; the storage adapter only
// persists what this layer decides.
package service

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/labtasker/labtasker/internal/platform/apperrors"
	"github.com/labtasker/labtasker/internal/platform/auth"
	"github.com/labtasker/labtasker/internal/platform/cache"
	"github.com/labtasker/labtasker/internal/platform/logger"
	"github.com/labtasker/labtasker/internal/platform/metrics"
	"github.com/labtasker/labtasker/internal/platform/validation"
	"github.com/labtasker/labtasker/internal/shared/events"
	"github.com/labtasker/labtasker/internal/taskqueue/domain/model"
	"github.com/labtasker/labtasker/internal/taskqueue/domain/repository"
	"github.com/labtasker/labtasker/internal/taskqueue/query"
)

const (
	maxQueueNameLength = 256
	maxListLimit       = 1000
	defaultListLimit   = 100

	defaultCredentialTTL = 5 * time.Minute
	credentialCacheName  = "queue_credentials"
)

// EventSink receives lifecycle events after the producing transaction
// has committed. Sinks must not block for long; slow consumers should
// buffer internally.
type EventSink interface {
	Publish(ctx context.Context, event *events.Event) error
}

// Service exposes every queue, task and worker operation
type Service struct {
	store         repository.Store
	hasher        *auth.Hasher
	cache         *cache.RedisCache
	credentialTTL time.Duration
	metrics       *metrics.Metrics
	log           logger.Logger
	sinks         []EventSink
}

// Option configures optional service dependencies
type Option func(*Service)

// WithCache enables credential caching
func WithCache(c *cache.RedisCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithCredentialTTL overrides how long cached credentials stay valid.
// Non-positive values keep the default.
func WithCredentialTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.credentialTTL = ttl
		}
	}
}

// WithEventSinks registers sinks for lifecycle events
func WithEventSinks(sinks ...EventSink) Option {
	return func(s *Service) { s.sinks = append(s.sinks, sinks...) }
}

// New creates a Service
func New(store repository.Store, hasher *auth.Hasher, m *metrics.Metrics, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:         store,
		hasher:        hasher,
		credentialTTL: defaultCredentialTTL,
		metrics:       m,
		log:           log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// emit publishes events to every sink. Called after the producing
// transaction commits so a retried transaction never double-publishes.
func (s *Service) emit(ctx context.Context, evts ...*events.Event) {
	for _, event := range evts {
		if event == nil {
			continue
		}
		s.metrics.EventsPublished.WithLabelValues(string(event.Type)).Inc()
		for _, sink := range s.sinks {
			if err := sink.Publish(ctx, event); err != nil {
				s.log.Warn("failed to publish event",
					"event_type", event.Type,
					"queue_id", event.QueueID,
					"error", err,
				)
			}
		}
	}
}

// cachedQueue mirrors model.Queue with the password hash included so
// the credential cache can round-trip it. The model hides the hash
// from JSON on purpose.
type cachedQueue struct {
	ID           string                 `json:"id"`
	QueueName    string                 `json:"queue_name"`
	Password     string                 `json:"password"`
	CreatedAt    time.Time              `json:"created_at"`
	LastModified time.Time              `json:"last_modified"`
	Metadata     map[string]interface{} `json:"metadata"`
}

func credentialCacheKey(queueName string) string {
	return "auth:queue:" + queueName
}

// Authenticate resolves queue credentials to the queue document. Every
// failure mode returns the same message so callers cannot probe for
// queue existence.
func (s *Service) Authenticate(ctx context.Context, queueName, password string) (*model.Queue, error) {
	if queueName == "" || password == "" {
		s.metrics.AuthFailures.WithLabelValues("missing_credentials").Inc()
		return nil, apperrors.Unauthorized("invalid queue name or password")
	}

	queue, err := s.loadQueueByName(ctx, queueName)
	if err != nil {
		if apperrors.IsNotFound(err) {
			s.metrics.AuthFailures.WithLabelValues("unknown_queue").Inc()
			return nil, apperrors.Unauthorized("invalid queue name or password")
		}
		return nil, err
	}

	if !s.hasher.Verify(queue.Password, password) {
		s.metrics.AuthFailures.WithLabelValues("bad_password").Inc()
		return nil, apperrors.Unauthorized("invalid queue name or password")
	}
	return queue, nil
}

// loadQueueByName reads through the credential cache when one is
// configured. Cache failures degrade to a store read.
func (s *Service) loadQueueByName(ctx context.Context, queueName string) (*model.Queue, error) {
	if s.cache != nil {
		var cached cachedQueue
		err := s.cache.Get(ctx, credentialCacheKey(queueName), &cached)
		if err == nil {
			s.metrics.CacheHits.WithLabelValues(credentialCacheName).Inc()
			return &model.Queue{
				ID:           cached.ID,
				QueueName:    cached.QueueName,
				Password:     cached.Password,
				CreatedAt:    cached.CreatedAt,
				LastModified: cached.LastModified,
				Metadata:     cached.Metadata,
			}, nil
		}
		s.metrics.CacheMisses.WithLabelValues(credentialCacheName).Inc()
		if err != cache.ErrCacheMiss {
			s.log.Warn("credential cache read failed", "queue_name", queueName, "error", err)
		}
	}

	queue, err := s.store.Queues().FindByName(ctx, queueName)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		entry := cachedQueue{
			ID:           queue.ID,
			QueueName:    queue.QueueName,
			Password:     queue.Password,
			CreatedAt:    queue.CreatedAt,
			LastModified: queue.LastModified,
			Metadata:     queue.Metadata,
		}
		if err := s.cache.Set(ctx, credentialCacheKey(queueName), entry, s.credentialTTL); err != nil {
			s.log.Warn("credential cache write failed", "queue_name", queueName, "error", err)
		}
	}
	return queue, nil
}

func (s *Service) invalidateQueueCache(ctx context.Context, queueName string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, credentialCacheKey(queueName)); err != nil {
		s.log.Warn("credential cache invalidation failed", "queue_name", queueName, "error", err)
	}
}

// CreateQueueCommand carries the inputs for queue registration
type CreateQueueCommand struct {
	QueueName string
	Password  string
	Metadata  map[string]interface{}
}

// CreateQueue registers a new queue. The password is hashed before it
// reaches storage.
func (s *Service) CreateQueue(ctx context.Context, cmd CreateQueueCommand) (*model.Queue, error) {
	s.log.Debug("creating queue", "queue_name", cmd.QueueName)

	if err := validation.New().
		Required(cmd.QueueName, "queue_name").
		MaxLength(cmd.QueueName, maxQueueNameLength, "queue_name").
		Required(cmd.Password, "password").
		Err(); err != nil {
		return nil, err
	}

	metadata, err := query.SanitizeDocument(orEmpty(cmd.Metadata))
	if err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(cmd.Password)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to hash password")
	}

	queue, err := model.NewQueue(cmd.QueueName, hash, metadata)
	if err != nil {
		return nil, apperrors.BadRequest("%v", err)
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		return s.store.Queues().Insert(ctx, queue)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.QueuesCreated.WithLabelValues().Inc()
	s.emit(ctx, events.New(events.TypeQueueCreated, queue.ID, queue.ID, events.QueuePayload{
		QueueID:   queue.ID,
		QueueName: queue.QueueName,
	}))
	s.log.Info("queue created", "queue_id", queue.ID, "queue_name", queue.QueueName)
	return queue, nil
}

// GetQueue looks a queue up by id, name, or both. When both are given
// they must refer to the same queue.
func (s *Service) GetQueue(ctx context.Context, queueID, queueName string) (*model.Queue, error) {
	switch {
	case queueID == "" && queueName == "":
		return nil, apperrors.BadRequest("queue_id or queue_name is required")
	case queueID != "":
		queue, err := s.store.Queues().FindByID(ctx, queueID)
		if err != nil {
			return nil, err
		}
		if queueName != "" && queue.QueueName != queueName {
			return nil, apperrors.BadRequest("queue_id and queue_name refer to different queues")
		}
		return queue, nil
	default:
		return s.store.Queues().FindByName(ctx, queueName)
	}
}

// UpdateQueueCommand carries the mutable queue attributes. Nil fields
// are left untouched.
type UpdateQueueCommand struct {
	NewName        *string
	NewPassword    *string
	MetadataUpdate map[string]interface{}
}

// UpdateQueue renames a queue, rotates its password, or merges
// metadata keys. Returns the number of modified documents.
func (s *Service) UpdateQueue(ctx context.Context, queueID string, cmd UpdateQueueCommand) (int64, error) {
	s.log.Debug("updating queue", "queue_id", queueID)

	set := bson.M{}
	if cmd.NewName != nil {
		if err := validation.New().
			Required(*cmd.NewName, "queue_name").
			MaxLength(*cmd.NewName, maxQueueNameLength, "queue_name").
			Err(); err != nil {
			return 0, err
		}
		set["queue_name"] = *cmd.NewName
	}
	if cmd.NewPassword != nil {
		if *cmd.NewPassword == "" {
			return 0, apperrors.BadRequest("password cannot be empty")
		}
		hash, err := s.hasher.Hash(*cmd.NewPassword)
		if err != nil {
			return 0, apperrors.Wrap(err, "failed to hash password")
		}
		set["password"] = hash
	}
	if len(cmd.MetadataUpdate) > 0 {
		metadata, err := query.SanitizeDocument(cmd.MetadataUpdate)
		if err != nil {
			return 0, err
		}
		for k, v := range query.AddKeyPrefix(metadata, "metadata.") {
			set[k] = v
		}
	}
	set["last_modified"] = time.Now().UTC()

	var (
		modified int64
		oldName  string
	)
	err := s.store.WithTransaction(ctx, func(ctx context.Context) error {
		queue, err := s.store.Queues().FindByID(ctx, queueID)
		if err != nil {
			return err
		}
		oldName = queue.QueueName

		modified, err = s.store.Queues().Update(ctx, queueID, set)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.invalidateQueueCache(ctx, oldName)
	s.emit(ctx, events.New(events.TypeQueueUpdated, queueID, queueID, events.QueuePayload{
		QueueID:   queueID,
		QueueName: oldName,
	}))
	s.log.Info("queue updated", "queue_id", queueID, "modified", modified)
	return modified, nil
}

// DeleteQueue removes a queue. With cascade the queue's tasks and
// workers go with it; without, they are left orphaned for manual
// cleanup. Returns the total number of deleted documents.
func (s *Service) DeleteQueue(ctx context.Context, queueID string, cascade bool) (int64, error) {
	s.log.Debug("deleting queue", "queue_id", queueID, "cascade", cascade)

	var (
		affected  int64
		queueName string
	)
	err := s.store.WithTransaction(ctx, func(ctx context.Context) error {
		queue, err := s.store.Queues().FindByID(ctx, queueID)
		if err != nil {
			return err
		}
		queueName = queue.QueueName

		deleted, err := s.store.Queues().Delete(ctx, queueID)
		if err != nil {
			return err
		}
		if deleted == 0 {
			return apperrors.NotFound("queue not found: %s", queueID)
		}
		affected = deleted

		if cascade {
			tasks, err := s.store.Tasks().DeleteByQueue(ctx, queueID)
			if err != nil {
				return err
			}
			workers, err := s.store.Workers().DeleteByQueue(ctx, queueID)
			if err != nil {
				return err
			}
			affected += tasks + workers
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.invalidateQueueCache(ctx, queueName)
	s.metrics.QueuesDeleted.WithLabelValues(boolLabel(cascade)).Inc()
	s.emit(ctx, events.New(events.TypeQueueDeleted, queueID, queueID, events.QueuePayload{
		QueueID:   queueID,
		QueueName: queueName,
	}))
	s.log.Info("queue deleted", "queue_id", queueID, "cascade", cascade, "affected", affected)
	return affected, nil
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
