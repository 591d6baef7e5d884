package models

import "time"

// Cluster is a group of records resolved to the same entity.
type Cluster struct {
	ID        string     `json:"id,omitempty"`
	ProjectID string     `json:"project_id"`
	RecordIDs []RecordID `json:"record_ids"`
	CreatedAt time.Time  `json:"created_at"`
}
