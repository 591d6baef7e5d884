package wish

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	table     = "encoding_wishes"
	batchSize = 2000
)

var _ store.WishStore = (*Repository)(nil)

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
	ID              string                          `db:"id"`
	ProjectID       string                          `db:"project_id"`
	EncodingMethod  string                          `db:"encoding_method"`
	EncodingProject string                          `db:"encoding_project"`
	TargetRecordID  database.JSONB[models.RecordID] `db:"target_record_id"`
	RecordSecret    string                          `db:"record_secret"`
	OrderID         int64                           `db:"order_id"`
}

func (r row) toModel() *models.EncodingWish {
	return &models.EncodingWish{
		ID:             r.ID,
		ProjectID:      r.ProjectID,
		EncodingID:     models.EncodingID{Method: r.EncodingMethod, Project: r.EncodingProject},
		TargetRecordID: r.TargetRecordID.Data,
		RecordSecret:   r.RecordSecret,
		OrderID:        r.OrderID,
	}
}

// ReplaceWishes swaps the project's wishes for the given ones in one
// transaction.
func (r *Repository) ReplaceWishes(ctx context.Context, projectID string, wishes []*models.EncodingWish) error {
	ctx, span := tracing.StartSpan(ctx, "wish.Repository.ReplaceWishes")
	defer span.End()

	return r.db.WithTx(ctx, func(ctx context.Context) error {
		if err := r.DeleteWishes(ctx, projectID); err != nil {
			return err
		}
		for _, batch := range database.Batches(wishes, batchSize) {
			ib := database.NewInsertBuilder()
			ib.InsertInto(table).Cols("id", "project_id", "encoding_method", "encoding_project", "target_record_id", "record_secret", "order_id")
			for _, w := range batch {
				if w.ID == "" {
					w.ID = uuid.NewString()
				}
				w.ProjectID = projectID
				ib.Values(w.ID, projectID, w.EncodingID.Method, w.EncodingID.Project, database.NewJSONB(w.TargetRecordID), w.RecordSecret, w.OrderID)
			}

			query, args := ib.Build()
			if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
				r.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Error("Failed to insert encoding wishes")
				return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to insert encoding wishes: %v", err)
			}
		}
		return nil
	})
}

func (r *Repository) ListWishes(ctx context.Context, projectID string, limit int) ([]*models.EncodingWish, error) {
	ctx, span := tracing.StartSpan(ctx, "wish.Repository.ListWishes")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("id", "project_id", "encoding_method", "encoding_project", "target_record_id", "record_secret", "order_id")
	sb.From(table)
	sb.Where(sb.Equal("project_id", projectID))
	sb.OrderBy("order_id ASC", "seq ASC")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var rows []row
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Error("Failed to list encoding wishes")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to list encoding wishes: %v", err)
	}

	out := make([]*models.EncodingWish, len(rows))
	for i, rw := range rows {
		out[i] = rw.toModel()
	}
	return out, nil
}

func (r *Repository) DeleteWishes(ctx context.Context, projectID string) error {
	ctx, span := tracing.StartSpan(ctx, "wish.Repository.DeleteWishes")
	defer span.End()

	del := database.NewDeleteBuilder()
	del.DeleteFrom(table)
	del.Where(del.Equal("project_id", projectID))

	query, args := del.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Error("Failed to delete encoding wishes")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to delete encoding wishes: %v", err)
	}
	return nil
}
