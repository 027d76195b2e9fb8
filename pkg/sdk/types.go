package sdk

import "time"

// Task status values
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskSuccess   = "success"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

// Worker status values
const (
	WorkerActive    = "active"
	WorkerSuspended = "suspended"
	WorkerFailed    = "failed"
)

// Queue represents a registered queue. The password never appears on
// the wire.
type Queue struct {
	QueueID      string                 `json:"queue_id"`
	QueueName    string                 `json:"queue_name"`
	CreatedAt    time.Time              `json:"created_at"`
	LastModified time.Time              `json:"last_modified"`
	Metadata     map[string]interface{} `json:"metadata"`
}

// Task represents a queued unit of work
type Task struct {
	TaskID        string     `json:"task_id"`
	QueueID       string     `json:"queue_id"`
	Status        string     `json:"status"`
	TaskName      string     `json:"task_name,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartTime     *time.Time `json:"start_time"`
	LastHeartbeat *time.Time `json:"last_heartbeat"`
	LastModified  time.Time  `json:"last_modified"`

	HeartbeatTimeout *float64 `json:"heartbeat_timeout"`
	TaskTimeout      *int64   `json:"task_timeout"`

	MaxRetries int `json:"max_retries"`
	Retries    int `json:"retries"`
	Priority   int `json:"priority"`

	Metadata map[string]interface{} `json:"metadata"`
	Args     map[string]interface{} `json:"args"`
	Cmd      string                 `json:"cmd"`
	Summary  map[string]interface{} `json:"summary"`
	WorkerID *string                `json:"worker_id"`
}

// Worker represents a registered worker
type Worker struct {
	WorkerID     string                 `json:"worker_id"`
	QueueID      string                 `json:"queue_id"`
	Status       string                 `json:"status"`
	WorkerName   string                 `json:"worker_name,omitempty"`
	Metadata     map[string]interface{} `json:"metadata"`
	Retries      int                    `json:"retries"`
	MaxRetries   int                    `json:"max_retries"`
	CreatedAt    time.Time              `json:"created_at"`
	LastModified time.Time              `json:"last_modified"`
}

// Meta carries pagination information for list responses
type Meta struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

// ModifiedResult reports how many documents an update touched
type ModifiedResult struct {
	Modified int64 `json:"modified"`
}

// AffectedResult reports how many documents a delete removed,
// including cascaded children
type AffectedResult struct {
	Affected int64 `json:"affected"`
}

// CreateQueueRequest registers a new queue
type CreateQueueRequest struct {
	QueueName string                 `json:"queue_name"`
	Password  string                 `json:"password"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// UpdateQueueRequest renames a queue, rotates its password, or merges
// metadata keys. Absent fields are left untouched.
type UpdateQueueRequest struct {
	NewQueueName   *string                `json:"new_queue_name,omitempty"`
	NewPassword    *string                `json:"new_password,omitempty"`
	MetadataUpdate map[string]interface{} `json:"metadata_update,omitempty"`
}

// SubmitTaskRequest enqueues a new task. Either Args or Cmd is
// required.
type SubmitTaskRequest struct {
	TaskName         string                 `json:"task_name,omitempty"`
	Args             map[string]interface{} `json:"args,omitempty"`
	Cmd              string                 `json:"cmd,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	HeartbeatTimeout *float64               `json:"heartbeat_timeout,omitempty"`
	TaskTimeout      *int64                 `json:"task_timeout,omitempty"`
	MaxRetries       *int                   `json:"max_retries,omitempty"`
	Priority         *int                   `json:"priority,omitempty"`
}

// FetchTaskRequest leases the next eligible task. StartHeartbeat
// defaults to true when omitted; with it off, ETAMax is mandatory.
type FetchTaskRequest struct {
	WorkerID         *string                `json:"worker_id,omitempty"`
	ETAMax           string                 `json:"eta_max,omitempty"`
	HeartbeatTimeout *float64               `json:"heartbeat_timeout,omitempty"`
	StartHeartbeat   *bool                  `json:"start_heartbeat,omitempty"`
	RequiredFields   map[string]interface{} `json:"required_fields,omitempty"`
	ExtraFilter      map[string]interface{} `json:"extra_filter,omitempty"`
}

// ReportTaskStatusRequest reports a task outcome
type ReportTaskStatusRequest struct {
	Status   string                 `json:"status"`
	Summary  map[string]interface{} `json:"summary,omitempty"`
	WorkerID *string                `json:"worker_id,omitempty"`
}

// UpdateTaskRequest rewrites caller-editable task fields. ResetPending
// defaults to true when omitted, so an empty update requeues a
// terminal task with a fresh retry budget.
type UpdateTaskRequest struct {
	Update       map[string]interface{} `json:"update,omitempty"`
	ResetPending *bool                  `json:"reset_pending,omitempty"`
}

// CreateWorkerRequest registers a new worker. All fields are optional.
type CreateWorkerRequest struct {
	WorkerName string                 `json:"worker_name,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	MaxRetries *int                   `json:"max_retries,omitempty"`
}

// ReportWorkerStatusRequest reports a worker state change
type ReportWorkerStatusRequest struct {
	Status string `json:"status"`
}

// QueryCollectionRequest runs a sanitized raw query against one of the
// queue-scoped collections (queues, tasks, workers)
type QueryCollectionRequest struct {
	Collection string                 `json:"collection"`
	Query      map[string]interface{} `json:"query,omitempty"`
	Limit      int64                  `json:"limit,omitempty"`
	Offset     int64                  `json:"offset,omitempty"`
}

// UpdateCollectionRequest applies a sanitized raw update to every
// matching document in one of the queue-scoped collections
type UpdateCollectionRequest struct {
	Collection string                 `json:"collection"`
	Query      map[string]interface{} `json:"query,omitempty"`
	Update     map[string]interface{} `json:"update"`
}

// ListTasksOptions filters and paginates task listings
type ListTasksOptions struct {
	TaskName    string
	ExtraFilter map[string]interface{}
	Limit       int
	Offset      int
}

// ListWorkersOptions filters and paginates worker listings
type ListWorkersOptions struct {
	WorkerName  string
	ExtraFilter map[string]interface{}
	Limit       int
	Offset      int
}

// SystemInfo is a point-in-time host snapshot reported by the server
type SystemInfo struct {
	Timestamp         time.Time `json:"timestamp"`
	CPUPercent        float64   `json:"cpu_percent"`
	MemoryUsedPercent float64   `json:"memory_used_percent"`
	MemoryTotalBytes  uint64    `json:"memory_total_bytes"`
	MemoryUsedBytes   uint64    `json:"memory_used_bytes"`
	DiskUsedPercent   float64   `json:"disk_used_percent"`
	Goroutines        int       `json:"goroutines"`
	GoVersion         string    `json:"go_version"`
}

// ServerStatus reports the server version, uptime and host snapshot
type ServerStatus struct {
	Version       string      `json:"version"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	System        *SystemInfo `json:"system"`
}
