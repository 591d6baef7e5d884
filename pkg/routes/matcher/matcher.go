package matcher

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/matcher"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/routes/request"
)

// Registry stores matcher definitions.
type Registry interface {
	Save(ctx context.Context, method string, raw json.RawMessage) (matcher.Matcher, error)
	List(ctx context.Context) ([]*models.Matching, error)
	Delete(ctx context.Context, method string) error
}

// Handler serves the matcher routes. Methods contain slashes, so they are
// passed as the method query parameter rather than a path segment.
type Handler struct {
	registry Registry
}

// NewHandler creates a matcher handler.
func NewHandler(registry Registry) *Handler {
	return &Handler{registry: registry}
}

// Register registers matcher routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.ListMatchers)
	g.PUT("", h.PutMatcher)
	g.DELETE("", h.DeleteMatcher)
}

// ListMatchers lists the stored matcher definitions
func (h *Handler) ListMatchers(c echo.Context) error {
	matchings, err := h.registry.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, matchings)
}

// PutMatcher registers or replaces a matcher definition
func (h *Handler) PutMatcher(c echo.Context) error {
	req, err := request.Bind[models.Matching](c)
	if err != nil {
		return err
	}

	m, err := h.registry.Save(c.Request().Context(), req.Method, req.Config)
	if err != nil {
		return err
	}
	def, err := m.Definition()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.Matching{Method: m.Method(), Config: def})
}

// DeleteMatcher deletes a matcher definition
func (h *Handler) DeleteMatcher(c echo.Context) error {
	method := c.QueryParam("method")
	if method == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "method query parameter is required")
	}
	if err := h.registry.Delete(c.Request().Context(), method); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
