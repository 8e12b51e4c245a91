package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSummary(t *testing.T) {
	associations := []Association{
		{SourceEntityType: KindCompany, TargetEntityType: KindSalesperson, Strength: StrengthStrong},
		{SourceEntityType: KindCompany, TargetEntityType: KindSalesperson, Strength: StrengthMedium},
		{SourceEntityType: KindContact, TargetEntityType: KindCompany, Strength: StrengthMedium},
	}

	summary := NewSummary(associations)
	assert.Equal(t, 3, summary.TotalAssociations)
	assert.Equal(t, map[string]int{"company→salesperson": 2, "contact→company": 1}, summary.ByType)
	assert.Equal(t, map[string]int{
		"company→salesperson (strong)": 1,
		"company→salesperson (medium)": 1,
		"contact→company (medium)":     1,
	}, summary.ByStrength)
}

func TestQueryOptions_CanonicalKey(t *testing.T) {
	a := QueryOptions{
		EntityType: KindCompany,
		EntityID:   "C1",
		AssociationFilter: AssociationFilter{
			TargetTypes: []EntityKind{KindContact, KindDeal},
		},
	}
	b := a
	b.TargetTypes = []EntityKind{KindDeal, KindContact, KindDeal}
	assert.Equal(t, a.CanonicalKey(), b.CanonicalKey())

	noMeta := false
	c := a
	c.IncludeMetadata = &noMeta
	assert.NotEqual(t, a.CanonicalKey(), c.CanonicalKey())
}

func TestAssociationFilter_Matches(t *testing.T) {
	self := EntityRef{Type: KindCompany, ID: "C1"}
	outgoing := Association{SourceEntityType: KindCompany, SourceEntityID: "C1", TargetEntityType: KindSalesperson, TargetEntityID: "S1", AssociationType: AssociationPrimary, Strength: StrengthStrong}
	incoming := Association{SourceEntityType: KindContact, SourceEntityID: "ct1", TargetEntityType: KindCompany, TargetEntityID: "C1", AssociationType: AssociationPrimary, Strength: StrengthMedium}

	filter := AssociationFilter{TargetTypes: []EntityKind{KindContact}}
	assert.False(t, filter.Matches(outgoing, self))
	assert.True(t, filter.Matches(incoming, self))

	filter = AssociationFilter{Strengths: []Strength{StrengthStrong}}
	assert.True(t, filter.Matches(outgoing, self))
	assert.False(t, filter.Matches(incoming, self))

	filter = AssociationFilter{AssociationTypes: []AssociationType{AssociationOwnership}}
	assert.False(t, filter.Matches(outgoing, self))
}

func TestAssociationDocumentRoundTrip(t *testing.T) {
	a := Association{
		ID:               "a1",
		Origin:           OriginExplicit,
		SourceEntityType: KindDeal,
		SourceEntityID:   "D1",
		TargetEntityType: KindContact,
		TargetEntityID:   "ct1",
		AssociationType:  AssociationInfluence,
		Role:             "decision_maker",
		Strength:         StrengthStrong,
		Metadata:         &Metadata{Notes: "met twice", Tags: []string{"vip"}},
		TenantID:         "T1",
	}

	doc, err := a.ToDocument()
	require.NoError(t, err)
	assert.NotContains(t, doc, "id")
	assert.Equal(t, "decision_maker", doc["role"])

	decoded, err := AssociationFromDocument("a1", doc)
	require.NoError(t, err)
	assert.Equal(t, a, decoded)
}
