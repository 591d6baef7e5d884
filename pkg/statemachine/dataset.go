package statemachine

import (
	"context"
	"math"
	"sort"
	"strconv"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/lifecycle"
	"github.com/Ramsey-B/clover/pkg/matcher"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// cleanBuckets is the number of similarity buckets used to find the cut-off
// when limiting the pair count of a project.
const cleanBuckets = 100

// Dataset is the project-scoped view handed to a matcher. Pair writes go
// through the lifecycle manager.
type Dataset struct {
	project   *models.LinkageProject
	stores    store.Stores
	lifecycle *lifecycle.Manager
	logger    ectologger.Logger
}

var _ matcher.Dataset = (*Dataset)(nil)

// NewDataset creates the dataset handle of a project.
func NewDataset(project *models.LinkageProject, stores store.Stores, manager *lifecycle.Manager, logger ectologger.Logger) *Dataset {
	return &Dataset{
		project:   project,
		stores:    stores,
		lifecycle: manager,
		logger:    logger,
	}
}

func (d *Dataset) Project() *models.LinkageProject {
	return d.project
}

func (d *Dataset) Records(ctx context.Context) ([]*models.Record, error) {
	return d.stores.Records.ListRecords(ctx, d.project.DatasetID)
}

// Pairs returns the current pairs.
func (d *Dataset) Pairs(ctx context.Context) ([]*models.RecordPair, error) {
	return d.stores.Pairs.ListPairs(ctx, d.project.ID, store.PairFilter{})
}

// ClassifiedPairs returns the current pairs with a known grade.
func (d *Dataset) ClassifiedPairs(ctx context.Context) ([]*models.RecordPair, error) {
	return d.stores.Pairs.ListPairs(ctx, d.project.ID, store.PairFilter{Grades: classifiedGrades})
}

var classifiedGrades = []models.MatchGrade{
	models.GradeCertainMatch,
	models.GradeProbableMatch,
	models.GradePossibleMatch,
	models.GradeNonMatch,
}

// PairsWithProperties returns the pairs carrying all properties. ALL selects
// replaced versions as well.
func (d *Dataset) PairsWithProperties(ctx context.Context, properties ...models.Property) ([]*models.RecordPair, error) {
	return d.stores.Pairs.ListPairs(ctx, d.project.ID, store.PairFilter{Properties: properties})
}

func (d *Dataset) PairCount(ctx context.Context) (int, error) {
	return d.stores.Pairs.CountPairs(ctx, d.project.ID, store.PairFilter{})
}

func (d *Dataset) AddPairs(ctx context.Context, pairs []*models.RecordPair) error {
	_, err := d.lifecycle.AddPairs(ctx, d.project.ID, pairs)
	return err
}

func (d *Dataset) UpdatePairs(ctx context.Context, pairs []*models.RecordPair) error {
	return d.lifecycle.UpdatePairs(ctx, d.project.ID, pairs, false)
}

func (d *Dataset) ReplacePairs(ctx context.Context, pairs []*models.RecordPair) error {
	for _, p := range pairs {
		p.UpdateActiveProperty()
	}
	_, err := d.lifecycle.Replace(ctx, d.project.ID, pairs)
	return err
}

func (d *Dataset) AddCluster(ctx context.Context, cluster *models.Cluster) error {
	return d.stores.Clusters.AddClusters(ctx, d.project.ID, []*models.Cluster{cluster})
}

// CleanPairs keeps only the most similar pairs when the project sets
// RECORD_PAIR_LIMIT.
func (d *Dataset) CleanPairs(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "statemachine.Dataset.CleanPairs")
	defer span.End()

	v, ok := d.project.ConfigValue(models.ConfigRecordPairLimit)
	if !ok {
		return nil
	}
	limit, err := strconv.Atoi(v)
	if err != nil {
		return models.NewLinkageError(models.ErrValidation, "invalid %s %q", models.ConfigRecordPairLimit, v)
	}
	return d.KeepMostSimilarPairs(ctx, limit)
}

// KeepMostSimilarPairs deletes the pairs below the lower bound of the first
// similarity bucket, from the top, whose cumulative count exceeds maxPairs.
func (d *Dataset) KeepMostSimilarPairs(ctx context.Context, maxPairs int) error {
	ctx, span := tracing.StartSpan(ctx, "statemachine.Dataset.KeepMostSimilarPairs")
	defer span.End()

	log := d.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": d.project.ID,
		"limit":      maxPairs,
	})

	pairs, err := d.stores.Pairs.ListPairs(ctx, d.project.ID, store.PairFilter{IncludeReplaced: true})
	if err != nil {
		return err
	}

	boundary := similarityBoundary(pairs, maxPairs)
	var ids []string
	for _, p := range pairs {
		if p.Similarity < boundary {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := d.stores.Pairs.DeletePairs(ctx, d.project.ID, ids); err != nil {
		log.WithError(err).Error("Failed to delete record pairs")
		return err
	}
	log.WithFields(map[string]any{
		"min_similarity": boundary,
		"before":         len(pairs),
		"after":          len(pairs) - len(ids),
	}).Info("Deleted record pairs below similarity boundary")
	return nil
}

// similarityBoundary returns the lower bound of the first bucket, walking
// from the most similar bucket down, whose cumulative count exceeds
// maxPairs. It is 0 when the limit is never exceeded.
func similarityBoundary(pairs []*models.RecordPair, maxPairs int) float64 {
	counts := make([]int, cleanBuckets)
	for _, p := range pairs {
		if p.Similarity < 0 {
			continue
		}
		i := int(math.Floor(p.Similarity*cleanBuckets + 1e-9))
		counts[min(i, cleanBuckets-1)]++
	}

	lower := make([]int, 0, cleanBuckets)
	for i := range counts {
		if counts[i] > 0 {
			lower = append(lower, i)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(lower)))

	cumulative := 0
	for _, i := range lower {
		cumulative += counts[i]
		if cumulative > maxPairs {
			return float64(i) / cleanBuckets
		}
	}
	return 0
}
