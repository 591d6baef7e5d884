// Package request binds and validates echo request input.
package request

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/models"
)

var validate = validator.New()

// Bind decodes the request body into T and validates its struct tags.
func Bind[T any](c echo.Context) (T, error) {
	var req T
	if err := c.Bind(&req); err != nil {
		return req, httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return req, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return req, nil
}

// BindList decodes a JSON array body and validates every element.
func BindList[T any](c echo.Context) ([]T, error) {
	var items []T
	if err := c.Bind(&items); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Var(items, "required,dive"); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return items, nil
}

// BindPairs decodes a list of record pairs.
func BindPairs(c echo.Context) ([]*models.RecordPair, error) {
	return BindList[*models.RecordPair](c)
}

// QueryInt reads an integer query parameter, falling back to def when absent.
func QueryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "%s must be an integer", name)
	}
	return v, nil
}

// QueryBool reads a boolean query parameter, falling back to def when absent.
func QueryBool(c echo.Context, name string, def bool) (bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, httperror.NewHTTPErrorf(http.StatusBadRequest, "%s must be a boolean", name)
	}
	return v, nil
}

// QueryList reads a query parameter given repeatedly or comma separated.
func QueryList(c echo.Context, name string) []string {
	var out []string
	for _, raw := range c.QueryParams()[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

// Phase parses a phase name, reporting a bad request for unknown names.
func Phase(name string) (models.ProjectPhase, error) {
	phase, err := models.ParsePhase(name)
	if err != nil {
		return "", httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return phase, nil
}

// Grades parses match grade names.
func Grades(names []string) ([]models.MatchGrade, error) {
	grades := make([]models.MatchGrade, 0, len(names))
	for _, name := range names {
		g, err := models.ParseGrade(name)
		if err != nil {
			return nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		grades = append(grades, g)
	}
	return grades, nil
}
