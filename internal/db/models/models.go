// Package models defines the persisted record types shared across the application
package models

// ListOptions represents pagination and filtering options for list operations
type ListOptions struct {
	Limit  int        `json:"limit"`  // Number of items to return
	Offset int        `json:"offset"` // Number of items to skip
	Status *JobStatus `json:"status,omitempty"` // Filter by job status
	Kind   *JobKind   `json:"kind,omitempty"`   // Filter by job kind
}
