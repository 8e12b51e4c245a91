package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImplicitID(t *testing.T) {
	key := ImplicitKey{SourceType: KindContact, SourceID: "ct1", Field: "companyId", TargetType: KindCompany, TargetID: "C1"}
	assert.Equal(t, "implicit_ct1_company_C1", key.ID())
}

func TestParseImplicitID(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		expected ImplicitRef
	}{
		{
			name:     "simple",
			id:       "implicit_ct1_company_C1",
			expected: ImplicitRef{SourceID: "ct1", TargetType: KindCompany, TargetID: "C1"},
		},
		{
			name:     "target id with underscores",
			id:       "implicit_co9_salesperson_sp_42",
			expected: ImplicitRef{SourceID: "co9", TargetType: KindSalesperson, TargetID: "sp_42"},
		},
		{
			name:     "source id with underscores",
			id:       "implicit_a_b_deal_d1",
			expected: ImplicitRef{SourceID: "a_b", TargetType: KindDeal, TargetID: "d1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseImplicitID(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ref)
		})
	}

	t.Run("round trip", func(t *testing.T) {
		ref, err := ParseImplicitID(ImplicitID("x-1", KindDivision, "dv-2"))
		require.NoError(t, err)
		assert.Equal(t, ImplicitRef{SourceID: "x-1", TargetType: KindDivision, TargetID: "dv-2"}, ref)
	})

	t.Run("rejects malformed ids", func(t *testing.T) {
		for _, id := range []string{
			"3f6c1b7e-0000-4000-8000-000000000000",
			"implicit_ct1_widget_C1",
			"implicit_ct1_company_",
			"implicit__company_C1",
		} {
			_, err := ParseImplicitID(id)
			assert.Error(t, err, id)
		}
	})
}

func TestParseImplicitIDWithSource(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		sourceID string
		expected ImplicitRef
	}{
		{
			name:     "source id containing a kind segment",
			id:       "implicit_ct_deal_9_company_C1",
			sourceID: "ct_deal_9",
			expected: ImplicitRef{SourceID: "ct_deal_9", TargetType: KindCompany, TargetID: "C1"},
		},
		{
			name:     "target id with underscores",
			id:       "implicit_co9_salesperson_sp_42",
			sourceID: "co9",
			expected: ImplicitRef{SourceID: "co9", TargetType: KindSalesperson, TargetID: "sp_42"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseImplicitIDWithSource(tt.id, tt.sourceID)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ref)
		})
	}

	t.Run("rejects mismatched ids", func(t *testing.T) {
		for _, tc := range []struct{ id, sourceID string }{
			{"implicit_ct1_company_C1", "ct2"},
			{"implicit_ct1_company_C1", ""},
			{"implicit_ct1_widget_C1", "ct1"},
			{"implicit_ct1_company_", "ct1"},
		} {
			_, err := ParseImplicitIDWithSource(tc.id, tc.sourceID)
			assert.Error(t, err, tc.id)
		}
	})
}
