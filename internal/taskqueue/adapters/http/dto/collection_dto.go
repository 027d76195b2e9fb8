package dto

import "errors"

// QueryCollectionRequest runs a sanitized raw query against one of the
// queue-scoped collections (queues, tasks, workers).
type QueryCollectionRequest struct {
	Collection string                 `json:"collection"`
	Query      map[string]interface{} `json:"query,omitempty"`
	Limit      int64                  `json:"limit,omitempty"`
	Offset     int64                  `json:"offset,omitempty"`
}

// Validate validates the query collection request
func (r *QueryCollectionRequest) Validate() error {
	if r.Collection == "" {
		return errors.New("collection is required")
	}
	return nil
}

// UpdateCollectionRequest applies a sanitized raw update to every
// matching document in one of the queue-scoped collections.
type UpdateCollectionRequest struct {
	Collection string                 `json:"collection"`
	Query      map[string]interface{} `json:"query,omitempty"`
	Update     map[string]interface{} `json:"update"`
}

// Validate validates the update collection request
func (r *UpdateCollectionRequest) Validate() error {
	if r.Collection == "" {
		return errors.New("collection is required")
	}
	if len(r.Update) == 0 {
		return errors.New("update document is required")
	}
	return nil
}
