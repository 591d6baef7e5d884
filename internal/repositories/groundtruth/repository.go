package groundtruth

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	table     = "ground_truth_matches"
	batchSize = 5000
)

var _ store.GroundTruthStore = (*Repository)(nil)

// Repository stores one row per true-match pair id of a dataset.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) SaveGroundTruth(ctx context.Context, gt *models.GroundTruth) error {
	ctx, span := tracing.StartSpan(ctx, "groundtruth.Repository.SaveGroundTruth")
	defer span.End()

	return r.db.WithTx(ctx, func(ctx context.Context) error {
		ids, err := r.pairIDs(ctx, gt.DatasetID, 1)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			return httperror.NewHTTPErrorf(http.StatusConflict, "ground truth for dataset %s already loaded", gt.DatasetID)
		}

		for _, batch := range database.Batches(gt.PairIDs(), batchSize) {
			ib := database.NewInsertBuilder()
			ib.InsertInto(table).Cols("dataset_id", "pair_id")
			for _, id := range batch {
				ib.Values(gt.DatasetID, id)
			}
			query, args := ib.Build()
			if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
				r.logger.WithContext(ctx).WithError(err).WithField("dataset_id", gt.DatasetID).Error("Failed to save ground truth")
				return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to save ground truth: %v", err)
			}
		}
		return nil
	})
}

// GetGroundTruth returns 404 for a dataset without true matches; an empty
// ground truth cannot be told apart from a missing one.
func (r *Repository) GetGroundTruth(ctx context.Context, datasetID string) (*models.GroundTruth, error) {
	ctx, span := tracing.StartSpan(ctx, "groundtruth.Repository.GetGroundTruth")
	defer span.End()

	ids, err := r.pairIDs(ctx, datasetID, 0)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "ground truth for dataset %s not found", datasetID)
	}

	gt := &models.GroundTruth{DatasetID: datasetID, TrueMatchPairID: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		gt.TrueMatchPairID[id] = struct{}{}
	}
	return gt, nil
}

func (r *Repository) pairIDs(ctx context.Context, datasetID string, limit int) ([]string, error) {
	sb := database.NewSelectBuilder()
	sb.Select("pair_id")
	sb.From(table)
	sb.Where(sb.Equal("dataset_id", datasetID))
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var ids []string
	if err := r.db.Executor(ctx).SelectContext(ctx, &ids, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("dataset_id", datasetID).Error("Failed to read ground truth")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to read ground truth: %v", err)
	}
	return ids, nil
}
