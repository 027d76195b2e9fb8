package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type identifies a lifecycle event
type Type string

const (
	TypeQueueCreated Type = "queue.created"
	TypeQueueUpdated Type = "queue.updated"
	TypeQueueDeleted Type = "queue.deleted"

	TypeTaskCreated   Type = "task.created"
	TypeTaskFetched   Type = "task.fetched"
	TypeTaskSucceeded Type = "task.succeeded"
	TypeTaskFailed    Type = "task.failed"
	TypeTaskCancelled Type = "task.cancelled"
	TypeTaskRequeued  Type = "task.requeued"
	TypeTaskUpdated   Type = "task.updated"
	TypeTaskDeleted   Type = "task.deleted"
	TypeTaskTimeout   Type = "task.timeout"

	TypeWorkerCreated Type = "worker.created"
	TypeWorkerStatus  Type = "worker.status_changed"
	TypeWorkerDeleted Type = "worker.deleted"
)

// Event is a queue-scoped lifecycle event. Events are broadcast to
// WebSocket subscribers of the owning queue and published to Kafka
// when a broker is configured.
type Event struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	QueueID   string          `json:"queue_id"`
	EntityID  string          `json:"entity_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// New creates an event for the given queue and entity. Payloads that
// fail to serialize are dropped rather than failing the operation that
// produced them.
func New(typ Type, queueID, entityID string, payload interface{}) *Event {
	e := &Event{
		ID:        uuid.New().String(),
		Type:      typ,
		QueueID:   queueID,
		EntityID:  entityID,
		Timestamp: time.Now().UTC(),
	}

	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			e.Payload = data
		}
	}

	return e
}

// TaskPayload describes the task state carried by task events
type TaskPayload struct {
	TaskID   string `json:"task_id"`
	TaskName string `json:"task_name,omitempty"`
	Status   string `json:"status"`
	WorkerID string `json:"worker_id,omitempty"`
	Retries  int    `json:"retries"`
}

// WorkerPayload describes the worker state carried by worker events
type WorkerPayload struct {
	WorkerID   string `json:"worker_id"`
	WorkerName string `json:"worker_name,omitempty"`
	Status     string `json:"status"`
	Retries    int    `json:"retries"`
}

// QueuePayload describes the queue state carried by queue events
type QueuePayload struct {
	QueueID   string `json:"queue_id"`
	QueueName string `json:"queue_name"`
}
