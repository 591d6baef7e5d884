package protocol

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/routes/request"
)

// unlimited selects every candidate when no limit query parameter is given.
const unlimited = -1

// Service is the link improvement protocol surface used by the routes.
type Service interface {
	DetermineUncertainLinks(ctx context.Context, projectID string, limit int) ([]*models.RecordPair, error)
	GetUncertainPairsForPairIDs(ctx context.Context, projectID string, pairIDs []string) ([]*models.RecordPair, error)
	GetEncodingWishes(ctx context.Context, projectID string, create bool, limit int) ([]*models.EncodingWish, error)
	ReceivePairs(ctx context.Context, pairs []*models.RecordPair, merge bool) ([]*models.RecordPair, error)
	UpdatePairs(ctx context.Context, pairs []*models.RecordPair) ([]*models.RecordPair, error)
	ReportClassifiedPairs(ctx context.Context, projectID string) (int, error)
	FetchAndCompare(ctx context.Context, projectID string) (*models.LinkageProject, error)
}

// Retrainer updates and trains classifiers.
type Retrainer interface {
	UpdateMatcher(ctx context.Context, projectID string, strategy models.MatcherUpdateType) (*models.Matching, error)
	TrainWithGroundTruth(ctx context.Context, req models.MatcherTrainingRequest) (*models.Matching, error)
	Reclassify(ctx context.Context, projectID string) error
}

// Handler serves the protocol routes.
type Handler struct {
	protocol  Service
	retrainer Retrainer
}

// NewHandler creates a protocol handler.
func NewHandler(protocol Service, retrainer Retrainer) *Handler {
	return &Handler{protocol: protocol, retrainer: retrainer}
}

// Register registers protocol routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/pairs/uncertain/:id", h.GetUncertainPairs)
	g.POST("/pairs/uncertain/:id", h.FetchUncertainPairs)
	g.GET("/wishlist/:id", h.GetEncodingWishes)
	g.POST("/pairs", h.ReceivePairs)
	g.PUT("/pairs", h.UpdatePairs)
	g.POST("/pairs/reclassify/:id", h.Reclassify)
	g.POST("/pairs/report/:id", h.ReportPairs)
	g.POST("/pairs/fetch/:id", h.FetchPairs)
	g.POST("/matcher/update", h.UpdateMatcher)
	g.POST("/matcher/train", h.TrainMatcher)
}

// ReportResponse is the response of a report to the parent layer
type ReportResponse struct {
	ProjectID string `json:"project_id"`
	Reported  int    `json:"reported"`
}

// GetUncertainPairs selects uncertain links, or returns the already selected
// ones with the given pair ids
func (h *Handler) GetUncertainPairs(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if pairIDs := request.QueryList(c, "pairIds"); len(pairIDs) > 0 {
		pairs, err := h.protocol.GetUncertainPairsForPairIDs(ctx, id, pairIDs)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, pairs)
	}

	limit, err := request.QueryInt(c, "limit", unlimited)
	if err != nil {
		return err
	}
	pairs, err := h.protocol.DetermineUncertainLinks(ctx, id, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pairs)
}

// FetchUncertainPairs returns the selected uncertain links with the pair ids
// in the body
func (h *Handler) FetchUncertainPairs(c echo.Context) error {
	req, err := request.Bind[models.UncertainPairsRequest](c)
	if err != nil {
		return err
	}

	pairs, err := h.protocol.GetUncertainPairsForPairIDs(c.Request().Context(), c.Param("id"), req.PairIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pairs)
}

// GetEncodingWishes returns the encoding wishes of a project
func (h *Handler) GetEncodingWishes(c echo.Context) error {
	create, err := request.QueryBool(c, "create", false)
	if err != nil {
		return err
	}
	limit, err := request.QueryInt(c, "limit", unlimited)
	if err != nil {
		return err
	}

	wishes, err := h.protocol.GetEncodingWishes(c.Request().Context(), c.Param("id"), create, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wishes)
}

// ReceivePairs stores pairs reported by a child layer
func (h *Handler) ReceivePairs(c echo.Context) error {
	merge, err := request.QueryBool(c, "merge", false)
	if err != nil {
		return err
	}
	pairs, err := request.BindPairs(c)
	if err != nil {
		return err
	}

	stored, err := h.protocol.ReceivePairs(c.Request().Context(), pairs, merge)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stored)
}

// UpdatePairs merges updated versions of existing pairs
func (h *Handler) UpdatePairs(c echo.Context) error {
	pairs, err := request.BindPairs(c)
	if err != nil {
		return err
	}

	stored, err := h.protocol.UpdatePairs(c.Request().Context(), pairs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stored)
}

// Reclassify reruns the classifier over a project's pairs
func (h *Handler) Reclassify(c echo.Context) error {
	if err := h.retrainer.Reclassify(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ReportPairs reports a project's classified links to its parent
func (h *Handler) ReportPairs(c echo.Context) error {
	id := c.Param("id")
	n, err := h.protocol.ReportClassifiedPairs(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ReportResponse{ProjectID: id, Reported: n})
}

// FetchPairs fetches improved links from the parent and compares them
func (h *Handler) FetchPairs(c echo.Context) error {
	project, err := h.protocol.FetchAndCompare(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, project)
}

// UpdateMatcher retrains a project's matcher with an update strategy
func (h *Handler) UpdateMatcher(c echo.Context) error {
	req, err := request.Bind[models.MatcherUpdateRequest](c)
	if err != nil {
		return err
	}

	matching, err := h.retrainer.UpdateMatcher(c.Request().Context(), req.ProjectID, req.Type)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, matching)
}

// TrainMatcher trains a matcher from a dataset's ground truth
func (h *Handler) TrainMatcher(c echo.Context) error {
	req, err := request.Bind[models.MatcherTrainingRequest](c)
	if err != nil {
		return err
	}

	matching, err := h.retrainer.TrainWithGroundTruth(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, matching)
}
