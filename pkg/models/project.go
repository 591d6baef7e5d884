package models

import (
	"strings"
	"time"
)

// Project config keys read by the linkage core.
const (
	ConfigProjectIDToReportTo    = "PROJECT_ID_TO_REPORT_TO"
	ConfigLinkSelectionStrategy  = "linkSelectionStrategy"
	ConfigWishMethod             = "wishMethod"
	ConfigMinAttributeSimilarity = "minAttributeSimilarityForSelection"
	ConfigRecordPairLimit        = "RECORD_PAIR_LIMIT"
	ConfigMinUncertainty         = "minUncertainty"
	ConfigBalancedSelectionOnly  = "balancedSelectionOnly"
	ConfigReportOnlyOnce         = "reportOnlyOnce"
)

// Method markers.
const (
	// MethodClericalReviewFamily marks project methods whose reported links
	// count as improved links locally.
	MethodClericalReviewFamily = "PPCR"
	// MethodClericalReviewMarker marks encoding methods of reviewed links.
	MethodClericalReviewMarker = "CR"
)

// LinkageProject is one linkage run over a dataset with a matcher method.
type LinkageProject struct {
	ID              string                     `json:"id"`
	DatasetID       string                     `json:"dataset_id"`
	Method          string                     `json:"method"`
	Description     string                     `json:"description,omitempty"`
	State           ProjectPhase               `json:"state"`
	Interactive     bool                       `json:"interactive"`
	Config          map[string]string          `json:"config"`
	PhaseTimestamps map[ProjectPhase]time.Time `json:"phase_timestamps"`
	Version         int                        `json:"version"`
	CreatedAt       time.Time                  `json:"created_at"`
	LastUpdated     time.Time                  `json:"last_updated"`
}

// ConfigValue returns a trimmed, non-empty config value.
func (p *LinkageProject) ConfigValue(key string) (string, bool) {
	if p.Config == nil {
		return "", false
	}
	v := strings.TrimSpace(p.Config[key])
	return v, v != ""
}

// ParentProjectID returns the id of the project this project reports to.
func (p *LinkageProject) ParentProjectID() (string, bool) {
	return p.ConfigValue(ConfigProjectIDToReportTo)
}

// MarkPhase records the completion time of a phase.
func (p *LinkageProject) MarkPhase(phase ProjectPhase, at time.Time) {
	if p.PhaseTimestamps == nil {
		p.PhaseTimestamps = map[ProjectPhase]time.Time{}
	}
	p.PhaseTimestamps[phase] = at
}

// ClearPhases removes the completion times of the given phases.
func (p *LinkageProject) ClearPhases(phases ...ProjectPhase) {
	for _, phase := range phases {
		delete(p.PhaseTimestamps, phase)
	}
}

// IsClericalReviewMethod reports whether the project method belongs to the
// clerical review family.
func (p *LinkageProject) IsClericalReviewMethod() bool {
	return strings.Contains(p.Method, MethodClericalReviewFamily)
}

// Clone returns a deep copy of the project.
func (p *LinkageProject) Clone() *LinkageProject {
	c := *p
	c.Config = make(map[string]string, len(p.Config))
	for k, v := range p.Config {
		c.Config[k] = v
	}
	c.PhaseTimestamps = make(map[ProjectPhase]time.Time, len(p.PhaseTimestamps))
	for k, v := range p.PhaseTimestamps {
		c.PhaseTimestamps[k] = v
	}
	return &c
}

// CreateProjectRequest is the request for creating a linkage project.
type CreateProjectRequest struct {
	ID          string            `json:"id,omitempty"`
	DatasetID   string            `json:"dataset_id" validate:"required"`
	Method      string            `json:"method" validate:"required"`
	Description string            `json:"description,omitempty"`
	Interactive bool              `json:"interactive"`
	Config      map[string]string `json:"config,omitempty"`
}

// ProjectExecutionRequest resets and/or runs a project between two phases.
type ProjectExecutionRequest struct {
	ProjectID      string       `json:"project_id" validate:"required"`
	FromState      ProjectPhase `json:"from_state,omitempty"`
	ToState        ProjectPhase `json:"to_state,omitempty"`
	IncludeParents bool         `json:"include_parents,omitempty"`
}
