package middleware

import (
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// datasetRoute prefixes the routes whose :id names a dataset rather than a
// linkage project.
const datasetRoute = "/dataset/"

// Context stores the request id and the linkage scope of the route in the
// request context. The request id is echoed back and the scope is tagged on
// the server span.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := context.SetRequestID(req.Context(), requestID)
			ctx = context.SetMethod(ctx, req.Method)
			ctx = context.SetRoute(ctx, c.Path())
			ctx = context.SetRemoteIP(ctx, c.RealIP())

			if id := c.Param("id"); id != "" {
				if strings.Contains(c.Path(), datasetRoute) {
					ctx = context.SetDatasetID(ctx, id)
				} else {
					ctx = context.SetProjectID(ctx, id)
				}
			}
			tracing.TagScope(ctx)

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
