package matching

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const table = "matchings"

var _ store.MatchingStore = (*Repository)(nil)

// Repository stores matcher definitions as raw json keyed by method.
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
	Method    string    `db:"method"`
	Config    []byte    `db:"config"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r row) toModel() *models.Matching {
	return &models.Matching{
		Method:    r.Method,
		Config:    json.RawMessage(r.Config),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r *Repository) SaveMatching(ctx context.Context, m *models.Matching) error {
	ctx, span := tracing.StartSpan(ctx, "matching.Repository.SaveMatching")
	defer span.End()

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto(table).Cols("method", "config", "created_at", "updated_at")
	ib.Values(m.Method, []byte(m.Config), now, now)
	database.OnConflictUpdate(ib, []string{"method"}, "config", "updated_at")

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("method", m.Method).Error("Failed to save matching")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to save matching: %v", err)
	}
	m.UpdatedAt = now
	return nil
}

func (r *Repository) GetMatching(ctx context.Context, method string) (*models.Matching, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Repository.GetMatching")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("method", "config", "created_at", "updated_at")
	sb.From(table)
	sb.Where(sb.Equal("method", method))

	query, args := sb.Build()
	var rw row
	if err := r.db.Executor(ctx).GetContext(ctx, &rw, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "matcher %s not found", method)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("method", method).Error("Failed to get matching")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to get matching: %v", err)
	}
	return rw.toModel(), nil
}

func (r *Repository) ListMatchings(ctx context.Context) ([]*models.Matching, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Repository.ListMatchings")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("method", "config", "created_at", "updated_at")
	sb.From(table)
	sb.OrderBy("method ASC")

	query, args := sb.Build()
	var rows []row
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list matchings")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to list matchings: %v", err)
	}

	out := make([]*models.Matching, len(rows))
	for i, rw := range rows {
		out[i] = rw.toModel()
	}
	return out, nil
}

func (r *Repository) DeleteMatching(ctx context.Context, method string) error {
	ctx, span := tracing.StartSpan(ctx, "matching.Repository.DeleteMatching")
	defer span.End()

	del := database.NewDeleteBuilder()
	del.DeleteFrom(table)
	del.Where(del.Equal("method", method))

	query, args := del.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("method", method).Error("Failed to delete matching")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to delete matching: %v", err)
	}
	return nil
}
