package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(c *Checker, path string) *httptest.ResponseRecorder {
	e := echo.New()
	c.RegisterRoutes(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	t.Run("all healthy", func(t *testing.T) {
		c := NewChecker("test")
		c.AddCheck("docstore", ok)
		rec := serve(c, "/api/v1/health")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("one dependency down", func(t *testing.T) {
		c := NewChecker("test")
		c.AddCheck("docstore", ok)
		c.AddCheck("redis", down)
		rec := serve(c, "/api/v1/health")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var status HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "healthy", status.Checks["docstore"].Status)
		assert.Equal(t, "connection refused", status.Checks["redis"].Message)
	})
}

func TestReadiness(t *testing.T) {
	c := NewChecker("test")
	assert.Equal(t, http.StatusOK, serve(c, "/api/v1/health/live").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(c, "/api/v1/health/ready").Code)
	c.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(c, "/api/v1/health/ready").Code)
}
