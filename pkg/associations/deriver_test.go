package associations

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestDeriver_Derive(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		kind     models.EntityKind
		data     map[string]any
		expected []string
	}{
		{name: "contact company", kind: models.KindContact, data: map[string]any{"companyId": "C1"}, expected: []string{"implicit_E1_company_C1"}},
		{name: "deal company", kind: models.KindDeal, data: map[string]any{"companyId": "C1"}, expected: []string{"implicit_E1_company_C1"}},
		{name: "salesperson company", kind: models.KindSalesperson, data: map[string]any{"companyId": "C1"}, expected: []string{"implicit_E1_company_C1"}},
		{name: "division parent company", kind: models.KindDivision, data: map[string]any{"parentCompanyId": "C1"}, expected: []string{"implicit_E1_company_C1"}},
		{name: "company sales owner", kind: models.KindCompany, data: map[string]any{"salesOwnerId": "S1"}, expected: []string{"implicit_E1_salesperson_S1"}},
		{name: "null field", kind: models.KindContact, data: map[string]any{"companyId": nil}, expected: []string{}},
		{name: "empty field", kind: models.KindContact, data: map[string]any{"companyId": ""}, expected: []string{}},
		{name: "absent field", kind: models.KindContact, data: map[string]any{"name": "Ann"}, expected: []string{}},
		{name: "kind without foreign keys", kind: models.KindLocation, data: map[string]any{"companyId": "C1"}, expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ref := f.seed(t, tt.kind, "E1", tt.data)

			derived, err := f.deriver.Derive(ctx, tenant, ref)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ids(derived))
			for _, a := range derived {
				assert.Equal(t, models.OriginImplicit, a.Origin)
				assert.Equal(t, models.AssociationPrimary, a.AssociationType)
				assert.Equal(t, models.StrengthMedium, a.Strength)
				assert.Equal(t, ref, a.Source())
				require.NotNil(t, a.Implicit)
				assert.Equal(t, a.ID, a.Implicit.ID())
			}
		})
	}

	t.Run("missing entity derives nothing", func(t *testing.T) {
		f := newFixture(t)
		derived, err := f.deriver.Derive(ctx, tenant, models.EntityRef{Type: models.KindContact, ID: "ghost"})
		require.NoError(t, err)
		assert.Empty(t, derived)
	})
}

func TestDeriver_Deterministic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ct := f.seed(t, models.KindContact, "ct1", map[string]any{"companyId": "C1", "updatedAt": "2026-01-01T00:00:00Z"})

	first, err := f.deriver.Derive(ctx, tenant, ct)
	require.NoError(t, err)
	second, err := f.deriver.Derive(ctx, tenant, ct)
	require.NoError(t, err)

	require.Len(t, first, 1)
	assert.Equal(t, "implicit_ct1_company_C1", first[0].ID)
	assert.Equal(t, models.EntityRef{Type: models.KindCompany, ID: "C1"}, first[0].Target())

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestDeriver_ExtraMultiForeignKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.keys.Add(models.ForeignKey{SourceKind: models.KindDeal, Field: "locationIds", TargetKind: models.KindLocation, Multi: true, Derive: true}))
	d := f.seed(t, models.KindDeal, "D1", map[string]any{"companyId": "C1", "locationIds": []string{"L1", "L2", "L1"}})

	derived, err := f.deriver.Derive(ctx, tenant, d)
	require.NoError(t, err)
	assert.Equal(t, []string{"implicit_D1_company_C1", "implicit_D1_location_L1", "implicit_D1_location_L2"}, ids(derived))

	reverse, err := f.deriver.DeriveReverse(ctx, tenant, models.EntityRef{Type: models.KindLocation, ID: "L2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"implicit_D1_location_L2"}, ids(reverse))
}

func TestDeriver_DeriveReverse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c1 := f.seed(t, models.KindCompany, "C1", nil)
	f.seed(t, models.KindContact, "ct1", map[string]any{"companyId": "C1"})
	f.seed(t, models.KindContact, "ct2", map[string]any{"companyId": "C2"})
	f.seed(t, models.KindDeal, "D1", map[string]any{"companyId": "C1"})
	f.seed(t, models.KindDivision, "dv1", map[string]any{"parentCompanyId": "C1"})

	reverse, err := f.deriver.DeriveReverse(ctx, tenant, c1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"implicit_ct1_company_C1",
		"implicit_D1_company_C1",
		"implicit_dv1_company_C1",
	}, ids(reverse))
	for _, a := range reverse {
		assert.Equal(t, c1, a.Target())
	}
}
