package record

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	table     = "records"
	batchSize = 2000
)

var _ store.RecordStore = (*Repository)(nil)

// Repository persists dataset records keyed by their unique-like id.
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
	DatasetID  string                             `db:"dataset_id"`
	RecordID   database.JSONB[models.RecordID]    `db:"record_id"`
	Properties database.JSONB[models.PropertySet] `db:"properties"`
	Attributes database.JSONB[map[string]string]  `db:"attributes"`
}

func (r row) toModel() *models.Record {
	rec := &models.Record{
		ID:         r.RecordID.Data,
		DatasetID:  r.DatasetID,
		Properties: r.Properties.Data,
		Attributes: r.Attributes.Data,
	}
	if rec.Properties == nil {
		rec.Properties = models.PropertySet{}
	}
	return rec
}

func (r *Repository) UpsertRecords(ctx context.Context, datasetID string, records []*models.Record) error {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.UpsertRecords")
	defer span.End()

	if len(records) == 0 {
		return nil
	}
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		for _, batch := range database.Batches(dedupe(records), batchSize) {
			ib := database.NewInsertBuilder()
			ib.InsertInto(table).Cols("dataset_id", "unique_id", "record_id", "properties", "attributes")
			for _, rec := range batch {
				ib.Values(
					datasetID,
					rec.ID.UniqueLikeID(),
					database.NewJSONB(rec.ID),
					database.NewJSONB(rec.Properties),
					database.NewJSONB(rec.Attributes),
				)
			}
			database.OnConflictUpdate(ib, []string{"dataset_id", "unique_id"}, "record_id", "properties", "attributes")

			query, args := ib.Build()
			if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
				r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
					"dataset_id": datasetID,
					"count":      len(batch),
				}).Error("Failed to upsert records")
				return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to upsert records: %v", err)
			}
		}
		return nil
	})
}

// dedupe keeps the last record per unique-like id. Postgres rejects an
// upsert touching the same row twice.
func dedupe(records []*models.Record) []*models.Record {
	index := make(map[string]int, len(records))
	out := make([]*models.Record, 0, len(records))
	for _, rec := range records {
		key := rec.ID.UniqueLikeID()
		if i, ok := index[key]; ok {
			out[i] = rec
			continue
		}
		index[key] = len(out)
		out = append(out, rec)
	}
	return out
}

func (r *Repository) ListRecords(ctx context.Context, datasetID string) ([]*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.ListRecords")
	defer span.End()

	return r.list(ctx, datasetID, "")
}

func (r *Repository) ListRecordsWithProperty(ctx context.Context, datasetID string, property models.Property) ([]*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.ListRecordsWithProperty")
	defer span.End()

	return r.list(ctx, datasetID, property)
}

func (r *Repository) list(ctx context.Context, datasetID string, property models.Property) ([]*models.Record, error) {
	sb := database.NewSelectBuilder()
	sb.Select("dataset_id", "record_id", "properties", "attributes")
	sb.From(table)
	where := []string{sb.Equal("dataset_id", datasetID)}
	if property != "" {
		doc, _ := json.Marshal([]string{string(property)})
		where = append(where, "properties @> "+sb.Var(string(doc))+"::jsonb")
	}
	sb.Where(where...)
	sb.OrderBy("unique_id ASC")

	query, args := sb.Build()
	var rows []row
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("dataset_id", datasetID).Error("Failed to list records")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to list records: %v", err)
	}

	out := make([]*models.Record, len(rows))
	for i, rw := range rows {
		out[i] = rw.toModel()
	}
	return out, nil
}
