// Package matcher defines the matcher and classifier capabilities used by the
// linkage core, a registry of matcher definitions, and reference
// implementations.
package matcher

import (
	"context"
	"encoding/json"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Dataset is the project-scoped view a matcher works on.
type Dataset interface {
	Project() *models.LinkageProject
	Records(ctx context.Context) ([]*models.Record, error)
	Pairs(ctx context.Context) ([]*models.RecordPair, error)
	ClassifiedPairs(ctx context.Context) ([]*models.RecordPair, error)
	PairsWithProperties(ctx context.Context, properties ...models.Property) ([]*models.RecordPair, error)
	PairCount(ctx context.Context) (int, error)
	AddPairs(ctx context.Context, pairs []*models.RecordPair) error
	UpdatePairs(ctx context.Context, pairs []*models.RecordPair) error
	ReplacePairs(ctx context.Context, pairs []*models.RecordPair) error
	CleanPairs(ctx context.Context) error
	AddCluster(ctx context.Context, cluster *models.Cluster) error
}

// Matcher runs the phase operations of a linkage project.
type Matcher interface {
	Method() string
	// Definition returns the config document the matcher was built from,
	// including any trained state.
	Definition() (json.RawMessage, error)

	RunBlockedLinking(ctx context.Context, ds Dataset, records []*models.Record) error
	CompareAndClassifyActive(ctx context.Context, ds Dataset) error
	CompareRecordPairs(ctx context.Context, ds Dataset, pairs []*models.RecordPair) error
	ReclassifyRecordPairs(ctx context.Context, ds Dataset, pairs []*models.RecordPair) error
	RunPostProcessing(ctx context.Context, ds Dataset) error
	RunClustering(ctx context.Context, ds Dataset) error
	RunAll(ctx context.Context, ds Dataset) error
}

// Classifier grades a compared pair, setting its classification and tags.
type Classifier interface {
	Classify(pair *models.RecordPair)
	Definition() (json.RawMessage, error)
}

// DatasetBased is a matcher whose classification is delegated to a
// replaceable classifier.
type DatasetBased interface {
	Matcher
	Classifier() Classifier
	WithClassifier(c Classifier) Matcher
	// WithMethod returns a copy registered under another method name.
	WithMethod(method string) Matcher
}

// Trainable is a classifier that learns from pairs labelled with
// TRUE_MATCH / TRUE_NON_MATCH tags.
type Trainable interface {
	Classifier
	Fit(labelled []*models.RecordPair) error
	Update(labelled []*models.RecordPair) error
}

// ThresholdTrainable is a classifier whose threshold search uses the
// similarity distribution of the whole pair population.
type ThresholdTrainable interface {
	Trainable
	SimilarityDistribution() *Histogram
	SetSimilarityDistribution(h *Histogram)
}
