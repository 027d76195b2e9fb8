package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// WorkerStatus is the lifecycle state of a worker
type WorkerStatus string

const (
	WorkerActive    WorkerStatus = "active"
	WorkerSuspended WorkerStatus = "suspended"
	WorkerCrashed   WorkerStatus = "crashed"
)

// Worker is a registered task consumer. Only active workers may lease
// tasks; repeated failures push a worker to crashed until it is
// reactivated.
type Worker struct {
	ID           string                 `bson:"_id" json:"worker_id"`
	QueueID      string                 `bson:"queue_id" json:"queue_id"`
	Status       WorkerStatus           `bson:"status" json:"status"`
	WorkerName   string                 `bson:"worker_name" json:"worker_name,omitempty"`
	Metadata     map[string]interface{} `bson:"metadata" json:"metadata"`
	Retries      int                    `bson:"retries" json:"retries"`
	MaxRetries   int                    `bson:"max_retries" json:"max_retries"`
	CreatedAt    time.Time              `bson:"created_at" json:"created_at"`
	LastModified time.Time              `bson:"last_modified" json:"last_modified"`
}

// NewWorker creates an active worker
func NewWorker(queueID, workerName string, metadata map[string]interface{}, maxRetries int) (*Worker, error) {
	if queueID == "" {
		return nil, errors.New("queue id is required")
	}
	if maxRetries < 0 {
		return nil, errors.New("max retries cannot be negative")
	}

	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	now := time.Now().UTC()
	return &Worker{
		ID:           uuid.New().String(),
		QueueID:      queueID,
		Status:       WorkerActive,
		WorkerName:   workerName,
		Metadata:     metadata,
		Retries:      0,
		MaxRetries:   maxRetries,
		CreatedAt:    now,
		LastModified: now,
	}, nil
}
