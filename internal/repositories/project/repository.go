package project

import (
	"context"
	"database/sql"
	"errors"
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

const table = "linkage_projects"

var columns = []string{
	"id", "dataset_id", "method", "description", "state", "interactive",
	"config", "phase_timestamps", "version", "created_at", "last_updated",
}

var _ store.ProjectStore = (*Repository)(nil)

// Repository persists linkage projects with optimistic versioning.
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
	ID              string                                            `db:"id"`
	DatasetID       string                                            `db:"dataset_id"`
	Method          string                                            `db:"method"`
	Description     string                                            `db:"description"`
	State           string                                            `db:"state"`
	Interactive     bool                                              `db:"interactive"`
	Config          database.JSONB[map[string]string]                 `db:"config"`
	PhaseTimestamps database.JSONB[map[models.ProjectPhase]time.Time] `db:"phase_timestamps"`
	Version         int                                               `db:"version"`
	CreatedAt       time.Time                                         `db:"created_at"`
	LastUpdated     time.Time                                         `db:"last_updated"`
}

func (r row) toModel() *models.LinkageProject {
	p := &models.LinkageProject{
		ID:              r.ID,
		DatasetID:       r.DatasetID,
		Method:          r.Method,
		Description:     r.Description,
		State:           models.ProjectPhase(r.State),
		Interactive:     r.Interactive,
		Config:          r.Config.Data,
		PhaseTimestamps: r.PhaseTimestamps.Data,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		LastUpdated:     r.LastUpdated,
	}
	if p.Config == nil {
		p.Config = map[string]string{}
	}
	if p.PhaseTimestamps == nil {
		p.PhaseTimestamps = map[models.ProjectPhase]time.Time{}
	}
	return p
}

func (r *Repository) CreateProject(ctx context.Context, project *models.LinkageProject) error {
	ctx, span := tracing.StartSpan(ctx, "project.Repository.CreateProject")
	defer span.End()

	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	project.Version = 1
	project.CreatedAt = now
	project.LastUpdated = now

	ib := database.NewInsertBuilder()
	ib.InsertInto(table).Cols(columns...)
	ib.Values(
		project.ID,
		project.DatasetID,
		project.Method,
		project.Description,
		string(project.State),
		project.Interactive,
		database.NewJSONB(nonNilConfig(project.Config)),
		database.NewJSONB(project.PhaseTimestamps),
		project.Version,
		project.CreatedAt,
		project.LastUpdated,
	)
	database.OnConflictDoNothing(ib)

	query, args := ib.Build()
	res, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("project_id", project.ID).Error("Failed to create project")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to create project: %v", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return httperror.NewHTTPErrorf(http.StatusConflict, "project %s already exists", project.ID)
	}
	return nil
}

func (r *Repository) GetProject(ctx context.Context, id string) (*models.LinkageProject, error) {
	ctx, span := tracing.StartSpan(ctx, "project.Repository.GetProject")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var rw row
	if err := r.db.Executor(ctx).GetContext(ctx, &rw, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "project %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("project_id", id).Error("Failed to get project")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to get project: %v", err)
	}
	return rw.toModel(), nil
}

func (r *Repository) ListProjects(ctx context.Context) ([]*models.LinkageProject, error) {
	ctx, span := tracing.StartSpan(ctx, "project.Repository.ListProjects")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var rows []row
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list projects")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to list projects: %v", err)
	}

	out := make([]*models.LinkageProject, len(rows))
	for i, rw := range rows {
		out[i] = rw.toModel()
	}
	return out, nil
}

// SaveProject writes the project if the stored version still equals
// project.Version, then bumps the version.
func (r *Repository) SaveProject(ctx context.Context, project *models.LinkageProject) error {
	ctx, span := tracing.StartSpan(ctx, "project.Repository.SaveProject")
	defer span.End()

	now := time.Now().UTC()
	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("dataset_id", project.DatasetID),
		ub.Assign("method", project.Method),
		ub.Assign("description", project.Description),
		ub.Assign("state", string(project.State)),
		ub.Assign("interactive", project.Interactive),
		ub.Assign("config", database.NewJSONB(nonNilConfig(project.Config))),
		ub.Assign("phase_timestamps", database.NewJSONB(project.PhaseTimestamps)),
		ub.Assign("version", project.Version+1),
		ub.Assign("last_updated", now),
	)
	ub.Where(ub.Equal("id", project.ID), ub.Equal("version", project.Version))

	query, args := ub.Build()
	res, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("project_id", project.ID).Error("Failed to save project")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to save project: %v", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to save project: %v", err)
	}
	if n == 0 {
		if _, getErr := r.GetProject(ctx, project.ID); getErr != nil {
			return getErr
		}
		return httperror.NewHTTPErrorf(http.StatusConflict, "project %s was modified concurrently", project.ID)
	}

	project.Version++
	project.LastUpdated = now
	return nil
}

func (r *Repository) DeleteProject(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "project.Repository.DeleteProject")
	defer span.End()

	del := database.NewDeleteBuilder()
	del.DeleteFrom(table)
	del.Where(del.Equal("id", id))

	query, args := del.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("project_id", id).Error("Failed to delete project")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to delete project: %v", err)
	}
	return nil
}

func nonNilConfig(cfg map[string]string) map[string]string {
	if cfg == nil {
		return map[string]string{}
	}
	return cfg
}
