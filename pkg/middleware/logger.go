package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
)

// quietPrefixes are polled constantly and only logged when they fail.
var quietPrefixes = []string{"/api/v1/health", "/metrics"}

// Logger writes one access log line per request. Server errors log at Error, client errors at
// Warn, everything else at Info.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			if res.Status < http.StatusBadRequest && quiet(req.URL.Path) {
				return nil
			}

			ctx := req.Context()
			fields := map[string]any{
				"request_id":    context.GetRequestID(ctx),
				"tenant_id":     context.GetTenantID(ctx),
				"method":        req.Method,
				"route":         c.Path(),
				"uri":           req.RequestURI,
				"status":        res.Status,
				"response_time": time.Since(start),
				"response_size": res.Size,
			}
			if entityType := c.Param("entity_type"); entityType != "" {
				fields["entity"] = entityType + ":" + c.Param("entity_id")
			} else if entityType := c.QueryParam("entity_type"); entityType != "" {
				fields["entity"] = entityType + ":" + c.QueryParam("entity_id")
			}

			log := logger.WithContext(ctx).WithFields(fields)
			switch {
			case res.Status >= http.StatusInternalServerError:
				log.Error("Request")
			case res.Status >= http.StatusBadRequest:
				log.Warn("Request")
			default:
				log.Info("Request")
			}
			return nil
		}
	}
}

func quiet(path string) bool {
	for _, prefix := range quietPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
