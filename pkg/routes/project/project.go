package project

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/routes/request"
	"github.com/Ramsey-B/clover/pkg/store"
)

// Service is the project state machine surface used by the routes.
type Service interface {
	CreateProject(ctx context.Context, req models.CreateProjectRequest) (*models.LinkageProject, error)
	GetProject(ctx context.Context, projectID string) (*models.LinkageProject, error)
	ListProjects(ctx context.Context) ([]*models.LinkageProject, error)
	RunNext(ctx context.Context, projectID string) (*models.LinkageProject, error)
	RunForNewRecords(ctx context.Context, projectID string) (*models.LinkageProject, error)
	Run(ctx context.Context, projectID string, from, to models.ProjectPhase) (*models.LinkageProject, error)
	ResetChain(ctx context.Context, projectID string, target models.ProjectPhase, includeParents bool) (*models.LinkageProject, error)
	DeleteProject(ctx context.Context, projectID string, includeParents bool) error
}

// PairReceiver accepts pairs reported by a child layer.
type PairReceiver interface {
	ReceivePairs(ctx context.Context, pairs []*models.RecordPair, merge bool) ([]*models.RecordPair, error)
}

// Handler serves the project routes.
type Handler struct {
	projects Service
	pairs    store.PairStore
	receiver PairReceiver
}

// NewHandler creates a project handler.
func NewHandler(projects Service, pairs store.PairStore, receiver PairReceiver) *Handler {
	return &Handler{projects: projects, pairs: pairs, receiver: receiver}
}

// Register registers project routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("", h.CreateProject)
	g.GET("", h.ListProjects)
	g.POST("/run", h.RunProject)
	g.POST("/reset", h.ResetProject)
	g.POST("/pairs", h.ReceivePairs)
	g.GET("/:id", h.GetProject)
	g.DELETE("/:id", h.DeleteProject)
	g.POST("/:id/next", h.RunNext)
	g.POST("/:id/new", h.RunForNewRecords)
	g.GET("/:id/pairs", h.ListPairs)
}

// CreateProject creates a linkage project
func (h *Handler) CreateProject(c echo.Context) error {
	req, err := request.Bind[models.CreateProjectRequest](c)
	if err != nil {
		return err
	}

	project, err := h.projects.CreateProject(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, project)
}

// ListProjects lists all projects
func (h *Handler) ListProjects(c echo.Context) error {
	projects, err := h.projects.ListProjects(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, projects)
}

// GetProject gets a project by ID
func (h *Handler) GetProject(c echo.Context) error {
	project, err := h.projects.GetProject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, project)
}

// DeleteProject deletes a project and, with deleteParents, its parent chain
func (h *Handler) DeleteProject(c echo.Context) error {
	includeParents, err := request.QueryBool(c, "deleteParents", false)
	if err != nil {
		return err
	}
	if err := h.projects.DeleteProject(c.Request().Context(), c.Param("id"), includeParents); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// RunNext advances a project by one phase
func (h *Handler) RunNext(c echo.Context) error {
	project, err := h.projects.RunNext(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, project)
}

// RunForNewRecords links the records added since the last run
func (h *Handler) RunForNewRecords(c echo.Context) error {
	project, err := h.projects.RunForNewRecords(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, project)
}

// RunProject resets a project to from_state, when given, and runs it to to_state
func (h *Handler) RunProject(c echo.Context) error {
	req, err := request.Bind[models.ProjectExecutionRequest](c)
	if err != nil {
		return err
	}
	from, err := request.Phase(string(req.FromState))
	if err != nil {
		return err
	}
	to, err := request.Phase(string(req.ToState))
	if err != nil {
		return err
	}
	if to == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "to_state is required")
	}

	project, err := h.projects.Run(c.Request().Context(), req.ProjectID, from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, project)
}

// ResetProject resets a project, and optionally its parents, to from_state
func (h *Handler) ResetProject(c echo.Context) error {
	req, err := request.Bind[models.ProjectExecutionRequest](c)
	if err != nil {
		return err
	}
	target, err := request.Phase(string(req.FromState))
	if err != nil {
		return err
	}
	if target == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "from_state is required")
	}

	project, err := h.projects.ResetChain(c.Request().Context(), req.ProjectID, target, req.IncludeParents)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, project)
}

// ListPairs lists the pairs of a project filtered by properties and grades
func (h *Handler) ListPairs(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	grades, err := request.Grades(request.QueryList(c, "grades"))
	if err != nil {
		return err
	}
	if _, err := h.projects.GetProject(ctx, id); err != nil {
		return err
	}

	pairs, err := h.pairs.ListPairs(ctx, id, store.PairFilter{
		Properties: models.ParseProperties(c.QueryParam("properties")),
		Grades:     grades,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pairs)
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

	stored, err := h.receiver.ReceivePairs(c.Request().Context(), pairs, merge)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stored)
}
