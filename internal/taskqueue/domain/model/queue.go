package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Queue is the unit of tenancy. Every task and worker belongs to
// exactly one queue, and knowledge of the queue password authorizes
// all operations on its contents.
type Queue struct {
	ID           string                 `bson:"_id" json:"queue_id"`
	QueueName    string                 `bson:"queue_name" json:"queue_name"`
	Password     string                 `bson:"password" json:"-"`
	CreatedAt    time.Time              `bson:"created_at" json:"created_at"`
	LastModified time.Time              `bson:"last_modified" json:"last_modified"`
	Metadata     map[string]interface{} `bson:"metadata" json:"metadata"`
}

// NewQueue creates a queue document. The password must already be
// hashed; raw credentials never reach the model.
func NewQueue(queueName, passwordHash string, metadata map[string]interface{}) (*Queue, error) {
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if passwordHash == "" {
		return nil, errors.New("password hash is required")
	}

	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	now := time.Now().UTC()
	return &Queue{
		ID:           uuid.New().String(),
		QueueName:    queueName,
		Password:     passwordHash,
		CreatedAt:    now,
		LastModified: now,
		Metadata:     metadata,
	}, nil
}
