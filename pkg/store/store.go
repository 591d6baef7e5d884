package store

import (
	"context"

	"github.com/Ramsey-B/clover/pkg/models"
)

// PairFilter selects record pairs of a project. Properties must all be
// present; a negated property (!X) must be absent. Replaced versions are
// excluded unless IncludeReplaced is set or Properties names ALL.
type PairFilter struct {
	Properties      []models.Property
	Grades          []models.MatchGrade
	PairIDs         []string
	IncludeReplaced bool
}

// AllVersions reports whether the filter selects replaced versions too.
func (f PairFilter) AllVersions() bool {
	if f.IncludeReplaced {
		return true
	}
	for _, p := range f.Properties {
		if p == models.PropertyAll || p == models.PropertyReplaced {
			return true
		}
	}
	return false
}

// Matches evaluates the filter against one pair.
func (f PairFilter) Matches(p *models.RecordPair) bool {
	if !f.AllVersions() && !p.IsCurrent() {
		return false
	}
	for _, prop := range f.Properties {
		if prop == models.PropertyAll {
			continue
		}
		if prop.IsNegation() {
			if p.Properties.Has(prop.Positive()) {
				return false
			}
			continue
		}
		if !p.Properties.Has(prop) {
			return false
		}
	}
	if len(f.Grades) > 0 && !containsGrade(f.Grades, p.Classification) {
		return false
	}
	if len(f.PairIDs) > 0 && !containsString(f.PairIDs, p.PairID) {
		return false
	}
	return true
}

func containsGrade(grades []models.MatchGrade, g models.MatchGrade) bool {
	for _, v := range grades {
		if v == g {
			return true
		}
	}
	return false
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

// PairStore persists record pairs per project.
type PairStore interface {
	// InsertPairs stores new versions and assigns their storage identity.
	InsertPairs(ctx context.Context, projectID string, pairs []*models.RecordPair) error
	// ReplacePairs retires the given versions and inserts the new ones
	// atomically.
	ReplacePairs(ctx context.Context, projectID string, retired []*models.RecordPair, inserted []*models.RecordPair) error
	// UpdatePairs overwrites existing versions in place, matched by ID.
	UpdatePairs(ctx context.Context, projectID string, pairs []*models.RecordPair) error
	ListPairs(ctx context.Context, projectID string, filter PairFilter) ([]*models.RecordPair, error)
	CountPairs(ctx context.Context, projectID string, filter PairFilter) (int, error)
	DeletePairs(ctx context.Context, projectID string, ids []string) error
	DeleteProjectPairs(ctx context.Context, projectID string) error
}

// ProjectStore persists linkage projects. SaveProject fails with a conflict
// when the stored version differs from the project's version, and bumps the
// version on success.
type ProjectStore interface {
	CreateProject(ctx context.Context, project *models.LinkageProject) error
	GetProject(ctx context.Context, id string) (*models.LinkageProject, error)
	ListProjects(ctx context.Context) ([]*models.LinkageProject, error)
	SaveProject(ctx context.Context, project *models.LinkageProject) error
	DeleteProject(ctx context.Context, id string) error
}

// RecordStore persists the records of a dataset.
type RecordStore interface {
	UpsertRecords(ctx context.Context, datasetID string, records []*models.Record) error
	ListRecords(ctx context.Context, datasetID string) ([]*models.Record, error)
	ListRecordsWithProperty(ctx context.Context, datasetID string, property models.Property) ([]*models.Record, error)
}

// WishStore persists encoding wishes per project.
type WishStore interface {
	ReplaceWishes(ctx context.Context, projectID string, wishes []*models.EncodingWish) error
	ListWishes(ctx context.Context, projectID string, limit int) ([]*models.EncodingWish, error)
	DeleteWishes(ctx context.Context, projectID string) error
}

// GroundTruthStore persists the ground truth of a dataset.
type GroundTruthStore interface {
	SaveGroundTruth(ctx context.Context, gt *models.GroundTruth) error
	GetGroundTruth(ctx context.Context, datasetID string) (*models.GroundTruth, error)
}

// ClusterStore persists clusters per project.
type ClusterStore interface {
	AddClusters(ctx context.Context, projectID string, clusters []*models.Cluster) error
	ListClusters(ctx context.Context, projectID string) ([]*models.Cluster, error)
	DeleteClusters(ctx context.Context, projectID string) error
}

// MatchingStore persists matcher definitions keyed by method.
type MatchingStore interface {
	SaveMatching(ctx context.Context, m *models.Matching) error
	GetMatching(ctx context.Context, method string) (*models.Matching, error)
	ListMatchings(ctx context.Context) ([]*models.Matching, error)
	DeleteMatching(ctx context.Context, method string) error
}

// Stores bundles the stores used by the linkage services.
type Stores struct {
	Pairs       PairStore
	Projects    ProjectStore
	Records     RecordStore
	Wishes      WishStore
	GroundTruth GroundTruthStore
	Clusters    ClusterStore
	Matchings   MatchingStore
}
