// Package dto defines the wire-level request and response shapes for
// the task queue HTTP API. Field names follow the snake_case vocabulary
// of the persisted documents.
package dto

import "errors"

// CreateQueueRequest registers a new queue
type CreateQueueRequest struct {
	QueueName string                 `json:"queue_name"`
	Password  string                 `json:"password"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Validate validates the create queue request
func (r *CreateQueueRequest) Validate() error {
	if r.QueueName == "" {
		return errors.New("queue_name is required")
	}
	if r.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// UpdateQueueRequest renames a queue, rotates its password, or merges
// metadata keys. Absent fields are left untouched.
type UpdateQueueRequest struct {
	NewQueueName   *string                `json:"new_queue_name,omitempty"`
	NewPassword    *string                `json:"new_password,omitempty"`
	MetadataUpdate map[string]interface{} `json:"metadata_update,omitempty"`
}

// Validate validates the update queue request
func (r *UpdateQueueRequest) Validate() error {
	if r.NewQueueName == nil && r.NewPassword == nil && len(r.MetadataUpdate) == 0 {
		return errors.New("at least one of new_queue_name, new_password, metadata_update is required")
	}
	return nil
}

// ModifiedResponse reports how many documents an update touched
type ModifiedResponse struct {
	Modified int64 `json:"modified"`
}

// AffectedResponse reports how many documents a delete removed,
// including cascaded children
type AffectedResponse struct {
	Affected int64 `json:"affected"`
}
