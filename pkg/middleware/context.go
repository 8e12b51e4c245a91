package middleware

import (
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ramsey-B/fern/pkg/context"
)

const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

// Context seeds the request context with the request id and the caller's tenant and user as
// sent in headers. Authentication, when enabled, overwrites tenant and user with token claims.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			tenantID := strings.TrimSpace(req.Header.Get(HeaderTenantID))
			userID := strings.TrimSpace(req.Header.Get(HeaderUserID))

			ctx := context.SetRequestID(req.Context(), requestID)
			ctx = context.SetRoute(ctx, req.URL.Path)
			ctx = context.SetTenantID(ctx, tenantID)
			ctx = context.SetUserID(ctx, userID)

			// otelecho runs first, so the server span is already on the context
			trace.SpanFromContext(ctx).SetAttributes(
				attribute.String("request_id", requestID),
				attribute.String("tenant_id", tenantID),
			)

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
