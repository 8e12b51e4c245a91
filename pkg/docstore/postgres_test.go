package docstore

import (
	"testing"

	"github.com/huandu/go-sqlbuilder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFilter(t *testing.T, f Filter) (string, []any) {
	t.Helper()
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id").From(documentsTable)
	expr, err := filterExpr(sb, f)
	require.NoError(t, err)
	sb.Where(expr)
	return sb.Build()
}

func TestFilterExpr(t *testing.T) {
	t.Run("equality compares jsonb values", func(t *testing.T) {
		query, args := buildFilter(t, Where("sourceEntityId", OpEqual, "C1"))
		assert.Equal(t, "SELECT id FROM documents WHERE data->'sourceEntityId' = $1::jsonb", query)
		assert.Equal(t, []any{`"C1"`}, args)
	})

	t.Run("in expands one placeholder per value", func(t *testing.T) {
		query, args := buildFilter(t, Where("targetEntityType", OpIn, []string{"company", "deal"}))
		assert.Equal(t, "SELECT id FROM documents WHERE data->'targetEntityType' IN ($1::jsonb, $2::jsonb)", query)
		assert.Equal(t, []any{`"company"`, `"deal"`}, args)
	})

	t.Run("empty in matches nothing", func(t *testing.T) {
		query, args := buildFilter(t, Where("strength", OpIn, []string{}))
		assert.Equal(t, "SELECT id FROM documents WHERE FALSE", query)
		assert.Empty(t, args)
	})

	t.Run("array contains", func(t *testing.T) {
		query, args := buildFilter(t, Where("contactIds", OpArrayContains, "ct1"))
		assert.Equal(t, "SELECT id FROM documents WHERE (jsonb_typeof(data->'contactIds') = 'array' AND data->'contactIds' @> $1::jsonb)", query)
		assert.Equal(t, []any{`["ct1"]`}, args)
	})

	t.Run("rejects unsafe field names", func(t *testing.T) {
		sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
		_, err := filterExpr(sb, Where("x'; DROP TABLE documents; --", OpEqual, "a"))
		assert.Error(t, err)
	})

	t.Run("rejects non list in values", func(t *testing.T) {
		sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
		_, err := filterExpr(sb, Where("strength", OpIn, "weak"))
		assert.Error(t, err)
	})
}
