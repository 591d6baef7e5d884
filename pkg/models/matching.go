package models

import (
	"encoding/json"
	"time"
)

// Matching is a stored matcher definition, addressed by its method name.
type Matching struct {
	Method    string          `json:"method" validate:"required"`
	Config    json.RawMessage `json:"config" validate:"required"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MatcherUpdateType selects which pairs feed a classifier update.
type MatcherUpdateType string

const (
	UpdateNewImproved   MatcherUpdateType = "NEW_IMPROVED"
	UpdateUpperImproved MatcherUpdateType = "UPPER_IMPROVED"
	UpdateImproved      MatcherUpdateType = "IMPROVED"
	UpdateCROnly        MatcherUpdateType = "CR_ONLY"
)

// MatcherUpdateRequest asks for a classifier update of a project's matcher.
type MatcherUpdateRequest struct {
	ProjectID string            `json:"project_id" validate:"required"`
	Type      MatcherUpdateType `json:"type" validate:"required,oneof=NEW_IMPROVED UPPER_IMPROVED IMPROVED CR_ONLY"`
}

// MatcherTrainingRequest trains a matcher from a dataset's ground truth.
type MatcherTrainingRequest struct {
	Method        string  `json:"method" validate:"required"`
	DatasetID     string  `json:"dataset_id" validate:"required"`
	MinSimilarity float64 `json:"min_similarity" validate:"gte=0,lte=1"`
	MaxSimilarity float64 `json:"max_similarity" validate:"gte=0,lte=1"`
}
