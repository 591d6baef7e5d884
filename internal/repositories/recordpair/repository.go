package recordpair

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	table     = "record_pairs"
	batchSize = 1000
)

var columns = []string{
	"id", "project_id", "pair_id", "left_record_id", "right_record_id", "similarity",
	"classification", "attribute_similarities", "properties", "tags", "created_at",
}

var _ store.PairStore = (*Repository)(nil)

// Repository persists record pair versions. Every version is one row;
// replaced versions carry the replaced property.
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
	ID                    string                             `db:"id"`
	ProjectID             string                             `db:"project_id"`
	PairID                string                             `db:"pair_id"`
	LeftRecordID          database.JSONB[models.RecordID]    `db:"left_record_id"`
	RightRecordID         database.JSONB[models.RecordID]    `db:"right_record_id"`
	Similarity            float64                            `db:"similarity"`
	Classification        string                             `db:"classification"`
	AttributeSimilarities database.JSONB[map[string]float64] `db:"attribute_similarities"`
	Properties            database.JSONB[models.PropertySet] `db:"properties"`
	Tags                  database.JSONB[models.Tags]        `db:"tags"`
	CreatedAt             time.Time                          `db:"created_at"`
}

func (r row) toModel() *models.RecordPair {
	p := &models.RecordPair{
		ID:                    r.ID,
		ProjectID:             r.ProjectID,
		PairID:                r.PairID,
		LeftRecordID:          r.LeftRecordID.Data,
		RightRecordID:         r.RightRecordID.Data,
		Similarity:            r.Similarity,
		Classification:        models.MatchGrade(r.Classification),
		AttributeSimilarities: r.AttributeSimilarities.Data,
		Properties:            r.Properties.Data,
		Tags:                  r.Tags.Data,
		CreatedAt:             r.CreatedAt,
	}
	p.Normalize()
	return p
}

func values(p *models.RecordPair) []any {
	return []any{
		p.ID,
		p.ProjectID,
		p.PairID,
		database.NewJSONB(p.LeftRecordID),
		database.NewJSONB(p.RightRecordID),
		p.Similarity,
		string(p.Classification),
		database.NewJSONB(p.AttributeSimilarities),
		database.NewJSONB(p.Properties),
		database.NewJSONB(p.Tags),
		p.CreatedAt,
	}
}

func (r *Repository) InsertPairs(ctx context.Context, projectID string, pairs []*models.RecordPair) error {
	ctx, span := tracing.StartSpan(ctx, "recordpair.Repository.InsertPairs")
	defer span.End()

	if len(pairs) == 0 {
		return nil
	}
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		return r.insert(ctx, projectID, pairs)
	})
}

func (r *Repository) insert(ctx context.Context, projectID string, pairs []*models.RecordPair) error {
	now := time.Now().UTC()
	for _, p := range pairs {
		p.ID = uuid.NewString()
		p.ProjectID = projectID
		p.Normalize()
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
	}

	for _, batch := range database.Batches(pairs, batchSize) {
		ib := database.NewInsertBuilder()
		ib.InsertInto(table).Cols(columns...)
		for _, p := range batch {
			ib.Values(values(p)...)
		}
		query, args := ib.Build()
		if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"project_id": projectID,
				"count":      len(batch),
			}).Error("Failed to insert record pairs")
			return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to insert record pairs: %v", err)
		}
	}
	return nil
}

func (r *Repository) ReplacePairs(ctx context.Context, projectID string, retired []*models.RecordPair, inserted []*models.RecordPair) error {
	ctx, span := tracing.StartSpan(ctx, "recordpair.Repository.ReplacePairs")
	defer span.End()

	return r.db.WithTx(ctx, func(ctx context.Context) error {
		if err := r.update(ctx, projectID, retired); err != nil {
			return err
		}
		if len(inserted) == 0 {
			return nil
		}
		return r.insert(ctx, projectID, inserted)
	})
}

func (r *Repository) UpdatePairs(ctx context.Context, projectID string, pairs []*models.RecordPair) error {
	ctx, span := tracing.StartSpan(ctx, "recordpair.Repository.UpdatePairs")
	defer span.End()

	if len(pairs) == 0 {
		return nil
	}
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		return r.update(ctx, projectID, pairs)
	})
}

func (r *Repository) update(ctx context.Context, projectID string, pairs []*models.RecordPair) error {
	for _, p := range pairs {
		ub := database.NewUpdateBuilder()
		ub.Update(table)
		ub.Set(
			ub.Assign("similarity", p.Similarity),
			ub.Assign("classification", string(p.Classification)),
			ub.Assign("attribute_similarities", database.NewJSONB(p.AttributeSimilarities)),
			ub.Assign("properties", database.NewJSONB(p.Properties)),
			ub.Assign("tags", database.NewJSONB(p.Tags)),
		)
		ub.Where(ub.Equal("id", p.ID), ub.Equal("project_id", projectID))

		query, args := ub.Build()
		res, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithField("pair_id", p.PairID).Error("Failed to update record pair")
			return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to update record pair: %v", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return httperror.NewHTTPErrorf(http.StatusNotFound, "record pair %s not found", p.ID)
		}
	}
	return nil
}

func (r *Repository) ListPairs(ctx context.Context, projectID string, filter store.PairFilter) ([]*models.RecordPair, error) {
	ctx, span := tracing.StartSpan(ctx, "recordpair.Repository.ListPairs")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(conditions(sb, projectID, filter)...)
	sb.OrderBy("seq ASC")

	query, args := sb.Build()
	var rows []row
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Error("Failed to list record pairs")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to list record pairs: %v", err)
	}

	out := make([]*models.RecordPair, len(rows))
	for i, rw := range rows {
		out[i] = rw.toModel()
	}
	return out, nil
}

func (r *Repository) CountPairs(ctx context.Context, projectID string, filter store.PairFilter) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "recordpair.Repository.CountPairs")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From(table)
	sb.Where(conditions(sb, projectID, filter)...)

	query, args := sb.Build()
	var n int
	if err := r.db.Executor(ctx).GetContext(ctx, &n, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Error("Failed to count record pairs")
		return 0, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to count record pairs: %v", err)
	}
	return n, nil
}

func (r *Repository) DeletePairs(ctx context.Context, projectID string, ids []string) error {
	ctx, span := tracing.StartSpan(ctx, "recordpair.Repository.DeletePairs")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}
	del := database.NewDeleteBuilder()
	del.DeleteFrom(table)
	del.Where(del.Equal("project_id", projectID), del.In("id", toAny(ids)...))

	query, args := del.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Error("Failed to delete record pairs")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to delete record pairs: %v", err)
	}
	return nil
}

func (r *Repository) DeleteProjectPairs(ctx context.Context, projectID string) error {
	ctx, span := tracing.StartSpan(ctx, "recordpair.Repository.DeleteProjectPairs")
	defer span.End()

	del := database.NewDeleteBuilder()
	del.DeleteFrom(table)
	del.Where(del.Equal("project_id", projectID))

	query, args := del.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Error("Failed to delete project record pairs")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to delete project record pairs: %v", err)
	}
	return nil
}

// conditions translates a pair filter into jsonb containment checks on the
// properties column.
func conditions(sb *sqlbuilder.SelectBuilder, projectID string, filter store.PairFilter) []string {
	where := []string{sb.Equal("project_id", projectID)}
	if !filter.AllVersions() {
		where = append(where, "NOT "+contains(sb, models.PropertyReplaced))
	}
	for _, prop := range filter.Properties {
		switch {
		case prop == models.PropertyAll:
		case prop.IsNegation():
			where = append(where, "NOT "+contains(sb, prop.Positive()))
		default:
			where = append(where, contains(sb, prop))
		}
	}
	if len(filter.Grades) > 0 {
		grades := make([]any, len(filter.Grades))
		for i, g := range filter.Grades {
			grades[i] = string(g)
		}
		where = append(where, sb.In("classification", grades...))
	}
	if len(filter.PairIDs) > 0 {
		where = append(where, sb.In("pair_id", toAny(filter.PairIDs)...))
	}
	return where
}

func contains(sb *sqlbuilder.SelectBuilder, prop models.Property) string {
	doc, _ := json.Marshal([]string{string(prop)})
	return "(properties @> " + sb.Var(string(doc)) + "::jsonb)"
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
