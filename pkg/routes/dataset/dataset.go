package dataset

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/routes/request"
	"github.com/Ramsey-B/clover/pkg/store"
)

// Handler serves the dataset routes.
type Handler struct {
	records     store.RecordStore
	groundTruth store.GroundTruthStore
}

// NewHandler creates a dataset handler.
func NewHandler(records store.RecordStore, groundTruth store.GroundTruthStore) *Handler {
	return &Handler{records: records, groundTruth: groundTruth}
}

// Register registers dataset routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/:id/records", h.ListRecords)
	g.PUT("/:id/records", h.PutRecords)
	g.PUT("/:id/groundtruth", h.PutGroundTruth)
}

// PutRecordsResponse is the response of a record upload
type PutRecordsResponse struct {
	DatasetID string `json:"dataset_id"`
	Records   int    `json:"records"`
}

// ListRecords lists the records of a dataset
func (h *Handler) ListRecords(c echo.Context) error {
	records, err := h.records.ListRecords(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, records)
}

// PutRecords adds or replaces records of a dataset
func (h *Handler) PutRecords(c echo.Context) error {
	id := c.Param("id")
	records, err := request.BindList[*models.Record](c)
	if err != nil {
		return err
	}
	for _, r := range records {
		r.DatasetID = id
	}

	if err := h.records.UpsertRecords(c.Request().Context(), id, records); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, PutRecordsResponse{DatasetID: id, Records: len(records)})
}

// PutGroundTruth loads the true matches of a dataset
func (h *Handler) PutGroundTruth(c echo.Context) error {
	id := c.Param("id")
	req, err := request.Bind[models.LoadGroundTruthRequest](c)
	if err != nil {
		return err
	}

	gt := models.NewGroundTruth(id, req.Matches)
	if err := h.groundTruth.SaveGroundTruth(c.Request().Context(), gt); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
