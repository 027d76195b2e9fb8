package dto

import "errors"

// CreateWorkerRequest registers a new worker. All fields are optional;
// an anonymous worker gets a generated id and the default retry budget.
type CreateWorkerRequest struct {
	WorkerName string                 `json:"worker_name,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	MaxRetries *int                   `json:"max_retries,omitempty"`
}

// ReportWorkerStatusRequest reports a worker state change
type ReportWorkerStatusRequest struct {
	Status string `json:"status"`
}

// Validate validates the report worker status request
func (r *ReportWorkerStatusRequest) Validate() error {
	if r.Status == "" {
		return errors.New("status is required")
	}
	return nil
}
