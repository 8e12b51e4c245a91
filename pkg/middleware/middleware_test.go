package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/associations"
	"github.com/Ramsey-B/fern/pkg/container"
	fernctx "github.com/Ramsey-B/fern/pkg/context"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = Error(testLogger())
	e.Use(Context())
	return e
}

func TestContext(t *testing.T) {
	e := newEcho()
	var tenant, user, requestID string
	e.GET("/x", func(c echo.Context) error {
		ctx := c.Request().Context()
		tenant, user, requestID = fernctx.GetTenantID(ctx), fernctx.GetUserID(ctx), fernctx.GetRequestID(ctx)
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderTenantID, "T1")
	req.Header.Set(HeaderUserID, "u1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, "T1", tenant)
	assert.Equal(t, "u1", user)
	assert.NotEmpty(t, requestID)
	assert.Equal(t, requestID, rec.Header().Get(echo.HeaderXRequestID))
}

type greeting string

func TestContainer(t *testing.T) {
	c, err := container.New(testLogger())
	require.NoError(t, err)
	require.NoError(t, ectoinject.RegisterInstance[*greeting](c, ptr(greeting("hello"))))

	t.Run("handlers resolve from the active container", func(t *testing.T) {
		e := newEcho()
		e.Use(Container(c.GetContainerID()))
		var got string
		e.GET("/x", func(c echo.Context) error {
			_, g, err := ectoinject.GetContext[*greeting](c.Request().Context())
			if err != nil {
				return err
			}
			got = string(*g)
			return c.NoContent(http.StatusNoContent)
		})

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "hello", got)
	})

	t.Run("unknown container", func(t *testing.T) {
		e := newEcho()
		e.Use(Container("fern-missing"))
		e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func ptr[T any](v T) *T { return &v }

func TestError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{name: "association not found", err: associations.ErrAssociationNotFound, code: http.StatusNotFound},
		{name: "association error message", err: &associations.Error{Code: associations.CodeAssociationNotFound, Message: "association A1 not found"}, code: http.StatusNotFound, message: "association A1 not found"},
		{name: "http error", err: httperror.NewHTTPError(http.StatusConflict, "conflict"), code: http.StatusConflict, message: "conflict"},
		{name: "http error without message", err: httperror.NewHTTPError(http.StatusBadGateway, ""), code: http.StatusBadGateway, message: "Bad Gateway"},
		{name: "echo error", err: echo.NewHTTPError(http.StatusUnauthorized, "missing bearer"), code: http.StatusUnauthorized, message: "missing bearer"},
		{name: "unknown error", err: errors.New("boom"), code: http.StatusInternalServerError, message: "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEcho()
			e.GET("/x", func(c echo.Context) error { return tt.err })

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
			assert.Equal(t, tt.code, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.RequestID)
			if tt.message != "" {
				assert.Equal(t, tt.message, body.Message)
			}
		})
	}
}

type stubVerifier struct {
	claims *UserClaims
	err    error
}

func (v stubVerifier) Verify(_ context.Context, _ string) (*UserClaims, error) {
	return v.claims, v.err
}

func TestAuthentication(t *testing.T) {
	withRoles := &UserClaims{Sub: "u1"}
	withRoles.RealmAccess.Roles = []string{"T9"}

	tests := []struct {
		name     string
		header   string
		verifier stubVerifier
		code     int
		tenant   string
	}{
		{name: "missing bearer", header: "", code: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer x", verifier: stubVerifier{err: errors.New("expired")}, code: http.StatusUnauthorized},
		{name: "no tenant", header: "Bearer x", verifier: stubVerifier{claims: &UserClaims{Sub: "u1"}}, code: http.StatusForbidden},
		{name: "tenant claim", header: "Bearer x", verifier: stubVerifier{claims: &UserClaims{Sub: "u1", TenantID: "T1"}}, code: http.StatusOK, tenant: "T1"},
		{name: "role fallback", header: "Bearer x", verifier: stubVerifier{claims: withRoles}, code: http.StatusOK, tenant: "T9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEcho()
			e.Use(Authentication(testLogger(), tt.verifier))
			var tenant string
			e.GET("/x", func(c echo.Context) error {
				tenant = fernctx.GetTenantID(c.Request().Context())
				return c.NoContent(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Header.Set(HeaderTenantID, "spoofed")
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.tenant, tenant)
		})
	}
}

func TestLogger(t *testing.T) {
	logged := 0
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) { logged++ })

	e := newEcho()
	e.Use(Logger(logger))
	e.GET("/api/v1/health/ready", func(c echo.Context) error {
		if c.QueryParam("fail") != "" {
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	})
	e.GET("/api/v1/associations", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	serve := func(target string) {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	serve("/api/v1/health/ready")
	assert.Equal(t, 0, logged, "successful health checks are not logged")

	serve("/api/v1/health/ready?fail=1")
	assert.Equal(t, 1, logged)

	serve("/api/v1/associations?entity_type=company&entity_id=C1")
	assert.Equal(t, 2, logged)
}
