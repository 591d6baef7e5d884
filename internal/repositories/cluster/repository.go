package cluster

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	table     = "clusters"
	batchSize = 2000
)

var _ store.ClusterStore = (*Repository)(nil)

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

type row struct {
	ID        string                            `db:"id"`
	ProjectID string                            `db:"project_id"`
	RecordIDs database.JSONB[[]models.RecordID] `db:"record_ids"`
	CreatedAt time.Time                         `db:"created_at"`
}

func (r *Repository) AddClusters(ctx context.Context, projectID string, clusters []*models.Cluster) error {
	ctx, span := tracing.StartSpan(ctx, "cluster.Repository.AddClusters")
	defer span.End()

	if len(clusters) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		for _, batch := range database.Batches(clusters, batchSize) {
			ib := database.NewInsertBuilder()
			ib.InsertInto(table).Cols("id", "project_id", "record_ids", "created_at")
			for _, c := range batch {
				if c.ID == "" {
					c.ID = uuid.NewString()
				}
				c.ProjectID = projectID
				c.CreatedAt = now
				ib.Values(c.ID, projectID, database.NewJSONB(c.RecordIDs), now)
			}
			query, args := ib.Build()
			if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
				r.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Error("Failed to add clusters")
				return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to add clusters: %v", err)
			}
		}
		return nil
	})
}

func (r *Repository) ListClusters(ctx context.Context, projectID string) ([]*models.Cluster, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Repository.ListClusters")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("id", "project_id", "record_ids", "created_at")
	sb.From(table)
	sb.Where(sb.Equal("project_id", projectID))
	sb.OrderBy("seq ASC")

	query, args := sb.Build()
	var rows []row
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Error("Failed to list clusters")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to list clusters: %v", err)
	}

	out := make([]*models.Cluster, len(rows))
	for i, rw := range rows {
		out[i] = &models.Cluster{ID: rw.ID, ProjectID: rw.ProjectID, RecordIDs: rw.RecordIDs.Data, CreatedAt: rw.CreatedAt}
	}
	return out, nil
}

func (r *Repository) DeleteClusters(ctx context.Context, projectID string) error {
	ctx, span := tracing.StartSpan(ctx, "cluster.Repository.DeleteClusters")
	defer span.End()

	del := database.NewDeleteBuilder()
	del.DeleteFrom(table)
	del.Where(del.Equal("project_id", projectID))

	query, args := del.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Error("Failed to delete clusters")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to delete clusters: %v", err)
	}
	return nil
}
