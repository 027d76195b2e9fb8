package dto

import "errors"

// SubmitTaskRequest enqueues a new task
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

// Validate validates the submit task request
func (r *SubmitTaskRequest) Validate() error {
	if len(r.Args) == 0 && r.Cmd == "" {
		return errors.New("either args or cmd is required")
	}
	return nil
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

// StartHeartbeatOrDefault resolves the tri-state flag
func (r *FetchTaskRequest) StartHeartbeatOrDefault() bool {
	if r.StartHeartbeat == nil {
		return true
	}
	return *r.StartHeartbeat
}

// ReportTaskStatusRequest reports a task outcome
type ReportTaskStatusRequest struct {
	Status   string                 `json:"status"`
	Summary  map[string]interface{} `json:"summary,omitempty"`
	WorkerID *string                `json:"worker_id,omitempty"`
}

// Validate validates the report task status request
func (r *ReportTaskStatusRequest) Validate() error {
	if r.Status == "" {
		return errors.New("status is required")
	}
	return nil
}

// UpdateTaskRequest rewrites caller-editable task fields. ResetPending
// defaults to true when omitted, so an empty body requeues a terminal
// task with a fresh retry budget.
type UpdateTaskRequest struct {
	Update       map[string]interface{} `json:"update,omitempty"`
	ResetPending *bool                  `json:"reset_pending,omitempty"`
}

// ResetPendingOrDefault resolves the tri-state flag
func (r *UpdateTaskRequest) ResetPendingOrDefault() bool {
	if r.ResetPending == nil {
		return true
	}
	return *r.ResetPending
}
