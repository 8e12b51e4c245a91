package association

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/docstore"
	"github.com/Ramsey-B/fern/pkg/models"
)

func newTestRepository() *Repository {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewRepository(docstore.NewMemoryStore(), logger)
}

func link(tenantID string, source, target models.EntityRef, t models.AssociationType, s models.Strength) models.Association {
	return models.Association{
		ID:               ComputeDeterministicID(tenantID, source, target),
		Origin:           models.OriginExplicit,
		SourceEntityType: source.Type,
		SourceEntityID:   source.ID,
		TargetEntityType: target.Type,
		TargetEntityID:   target.ID,
		AssociationType:  t,
		Strength:         s,
		TenantID:         tenantID,
		CreatedAt:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

var (
	company     = models.EntityRef{Type: models.KindCompany, ID: "C1"}
	salesperson = models.EntityRef{Type: models.KindSalesperson, ID: "S1"}
	contact     = models.EntityRef{Type: models.KindContact, ID: "ct1"}
	deal        = models.EntityRef{Type: models.KindDeal, ID: "D1"}
)

func TestComputeDeterministicID(t *testing.T) {
	a := ComputeDeterministicID("T1", company, salesperson)
	assert.Equal(t, a, ComputeDeterministicID("T1", company, salesperson))
	assert.NotEqual(t, a, ComputeDeterministicID("T2", company, salesperson))
	assert.NotEqual(t, a, ComputeDeterministicID("T1", salesperson, company))
}

func TestRepository_InsertGetFind(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository()
	a := link("T1", company, salesperson, models.AssociationPrimary, models.StrengthStrong)

	require.NoError(t, repo.Insert(ctx, a))
	assert.ErrorIs(t, repo.Insert(ctx, a), docstore.ErrAlreadyExists)

	got, err := repo.Get(ctx, "T1", a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a, *got)

	found, err := repo.Find(ctx, "T1", company, salesperson)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, a.ID, found.ID)

	t.Run("find is directional", func(t *testing.T) {
		reverse, err := repo.Find(ctx, "T1", salesperson, company)
		require.NoError(t, err)
		assert.Nil(t, reverse)
	})

	t.Run("tenant scoped", func(t *testing.T) {
		other, err := repo.Get(ctx, "T2", a.ID)
		require.NoError(t, err)
		assert.Nil(t, other)
	})
}

func TestRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository()

	require.NoError(t, repo.Insert(ctx, link("T1", company, salesperson, models.AssociationPrimary, models.StrengthStrong)))
	require.NoError(t, repo.Insert(ctx, link("T1", company, contact, models.AssociationSecondary, models.StrengthWeak)))
	require.NoError(t, repo.Insert(ctx, link("T1", deal, company, models.AssociationOwnership, models.StrengthMedium)))
	require.NoError(t, repo.Insert(ctx, link("T1", contact, company, models.AssociationInfluence, models.StrengthMedium)))

	tests := []struct {
		name     string
		side     Side
		filter   models.AssociationFilter
		limit    int
		expected int
	}{
		{name: "source side", side: SideSource, expected: 2},
		{name: "target side", side: SideTarget, expected: 2},
		{name: "source side by target type", side: SideSource, filter: models.AssociationFilter{TargetTypes: []models.EntityKind{models.KindContact}}, expected: 1},
		{name: "target side by other type", side: SideTarget, filter: models.AssociationFilter{TargetTypes: []models.EntityKind{models.KindDeal}}, expected: 1},
		{name: "by association type", side: SideTarget, filter: models.AssociationFilter{AssociationTypes: []models.AssociationType{models.AssociationInfluence}}, expected: 1},
		{name: "by strength", side: SideSource, filter: models.AssociationFilter{Strengths: []models.Strength{models.StrengthStrong, models.StrengthMedium}}, expected: 1},
		{name: "limit", side: SideSource, limit: 1, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, "T1", company, tt.side, tt.filter, tt.limit)
			require.NoError(t, err)
			assert.Len(t, got, tt.expected)
			for _, a := range got {
				assert.Equal(t, models.OriginExplicit, a.Origin)
				if tt.side == SideSource {
					assert.Equal(t, company, a.Source())
				} else {
					assert.Equal(t, company, a.Target())
				}
			}
		})
	}
}

func TestRepository_UpdateDelete(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository()
	a := link("T1", company, salesperson, models.AssociationPrimary, models.StrengthWeak)
	require.NoError(t, repo.Insert(ctx, a))

	require.NoError(t, repo.Update(ctx, "T1", a.ID, map[string]any{"strength": models.StrengthStrong, "role": "owner"}))
	got, err := repo.Get(ctx, "T1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StrengthStrong, got.Strength)
	assert.Equal(t, "owner", got.Role)
	assert.Equal(t, models.AssociationPrimary, got.AssociationType)

	assert.ErrorIs(t, repo.Update(ctx, "T1", "missing", map[string]any{"role": "x"}), docstore.ErrNotFound)

	require.NoError(t, repo.Delete(ctx, "T1", a.ID))
	got, err = repo.Get(ctx, "T1", a.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
