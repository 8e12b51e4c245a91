package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/docstore"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("DOCSTORE_DRIVER", "memory")
	t.Setenv("CACHE_DRIVER", "memory")
	t.Setenv("STARTUP_MAX_ATTEMPTS", "1")
	t.Setenv("EXTRA_FOREIGN_KEYS", "deal.locationIds:location:multi")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func request(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(middleware.HeaderTenantID, "T1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestApp_EndToEnd(t *testing.T) {
	ctx := context.Background()
	a := New(testConfig(t), testLogger())
	assert.Nil(t, a.Handler())
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	for collection, id := range map[string]string{"companies": "C1", "salespeople": "S1"} {
		require.NoError(t, a.store.SetDocument(ctx, docstore.Doc("T1", collection, id), map[string]any{"name": id}, false))
	}
	require.NoError(t, a.store.SetDocument(ctx, docstore.Doc("T1", "deals", "D1"), map[string]any{"locationIds": []any{"L1"}}, false))
	h := a.Handler()

	query := "/api/v1/associations?entity_type=salesperson&entity_id=S1"
	rec := request(t, h, http.MethodGet, query, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = request(t, h, http.MethodPost, "/api/v1/associations",
		`{"sourceEntityType":"company","sourceEntityId":"C1","targetEntityType":"salesperson","targetEntityId":"S1","associationType":"primary"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// the cached empty result was invalidated by the create
	rec = request(t, h, http.MethodGet, query, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var result models.AssociationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Len(t, result.Associations, 1)

	// configured extra foreign key is derived
	rec = request(t, h, http.MethodGet, "/api/v1/associations?entity_type=deal&entity_id=D1&target_types=location", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Associations, 1)
	assert.Equal(t, "L1", result.Associations[0].TargetEntityID)

	rec = request(t, h, http.MethodDelete, "/api/v1/associations/"+result.Associations[0].ID+"?origin=implicit&source_type=deal&field=locationIds", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = request(t, h, http.MethodDelete, "/api/v1/associations/"+result.Associations[0].ID+"?origin=implicit", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, http.StatusOK, request(t, h, http.MethodGet, "/api/v1/health", "").Code)
	assert.Equal(t, http.StatusOK, request(t, h, http.MethodGet, "/api/v1/health/ready", "").Code)
	assert.Equal(t, http.StatusOK, request(t, h, http.MethodGet, "/metrics", "").Code)
}

func TestApp_InvalidConfig(t *testing.T) {
	for name, mutate := range map[string]func(*config.Config){
		"docstore driver":   func(c *config.Config) { c.DocstoreDriver = "sqlite" },
		"cache driver":      func(c *config.Config) { c.CacheDriver = "memcached" },
		"extra foreign key": func(c *config.Config) { c.ExtraForeignKeys = "deal.x" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t)
			mutate(&cfg)
			a := New(cfg, testLogger())
			assert.Error(t, a.Start(context.Background()))
			assert.Nil(t, a.Handler())
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := testConfig(t)
	_, err := NewLogger(cfg)
	require.NoError(t, err)

	cfg.LogLevel = "loud"
	_, err = NewLogger(cfg)
	assert.Error(t, err)
}
