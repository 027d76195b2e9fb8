package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSuccess   TaskStatus = "success"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Priority levels. Higher values are leased first.
const (
	PriorityLow    = 0
	PriorityMedium = 10
	PriorityHigh   = 20
)

// DefaultMaxRetries is applied when a task or worker is created
// without an explicit retry budget.
const DefaultMaxRetries = 3

// Task is a unit of work queued for execution. Tasks are leased to
// workers via atomic pending to running transitions and report back
// through the FSM.
type Task struct {
	ID            string     `bson:"_id" json:"task_id"`
	QueueID       string     `bson:"queue_id" json:"queue_id"`
	Status        TaskStatus `bson:"status" json:"status"`
	TaskName      string     `bson:"task_name" json:"task_name,omitempty"`
	CreatedAt     time.Time  `bson:"created_at" json:"created_at"`
	StartTime     *time.Time `bson:"start_time" json:"start_time"`
	LastHeartbeat *time.Time `bson:"last_heartbeat" json:"last_heartbeat"`
	LastModified  time.Time  `bson:"last_modified" json:"last_modified"`

	// Timeouts are in seconds; null disables the corresponding check.
	HeartbeatTimeout *float64 `bson:"heartbeat_timeout" json:"heartbeat_timeout"`
	TaskTimeout      *int64   `bson:"task_timeout" json:"task_timeout"`

	MaxRetries int `bson:"max_retries" json:"max_retries"`
	Retries    int `bson:"retries" json:"retries"`
	Priority   int `bson:"priority" json:"priority"`

	Metadata map[string]interface{} `bson:"metadata" json:"metadata"`
	Args     map[string]interface{} `bson:"args" json:"args"`
	Cmd      string                 `bson:"cmd" json:"cmd"`
	Summary  map[string]interface{} `bson:"summary" json:"summary"`
	WorkerID *string                `bson:"worker_id" json:"worker_id"`
}

// TaskSpec carries the caller-supplied settings for a new task
type TaskSpec struct {
	TaskName         string
	Args             map[string]interface{}
	Cmd              string
	Metadata         map[string]interface{}
	HeartbeatTimeout *float64
	TaskTimeout      *int64
	MaxRetries       int
	Priority         int
}

// NewTask creates a pending task. Either args or cmd must be provided
// so a worker has something to execute.
func NewTask(queueID string, spec TaskSpec) (*Task, error) {
	if queueID == "" {
		return nil, errors.New("queue id is required")
	}
	if len(spec.Args) == 0 && spec.Cmd == "" {
		return nil, errors.New("either args or cmd must be provided")
	}
	if spec.MaxRetries < 0 {
		return nil, errors.New("max retries cannot be negative")
	}

	args := spec.Args
	if args == nil {
		args = make(map[string]interface{})
	}
	metadata := spec.Metadata
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	now := time.Now().UTC()
	return &Task{
		ID:               uuid.New().String(),
		QueueID:          queueID,
		Status:           TaskPending,
		TaskName:         spec.TaskName,
		CreatedAt:        now,
		StartTime:        nil,
		LastHeartbeat:    nil,
		LastModified:     now,
		HeartbeatTimeout: spec.HeartbeatTimeout,
		TaskTimeout:      spec.TaskTimeout,
		MaxRetries:       spec.MaxRetries,
		Retries:          0,
		Priority:         spec.Priority,
		Metadata:         metadata,
		Args:             args,
		Cmd:              spec.Cmd,
		Summary:          make(map[string]interface{}),
		WorkerID:         nil,
	}, nil
}
