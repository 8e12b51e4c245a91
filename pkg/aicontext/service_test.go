package aicontext

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func ref(kind models.EntityKind, id string) models.EntityRef {
	return models.EntityRef{Type: kind, ID: id}
}

func link(id string, source, target models.EntityRef) models.Association {
	return models.Association{
		ID:               id,
		SourceEntityType: source.Type,
		SourceEntityID:   source.ID,
		TargetEntityType: target.Type,
		TargetEntityID:   target.ID,
		AssociationType:  models.AssociationPrimary,
		Strength:         models.StrengthMedium,
		Origin:           models.OriginExplicit,
	}
}

// graphQuerier answers queries from a fixed edge list.
type graphQuerier struct {
	edges    []models.Association
	failing  map[models.EntityRef]bool
	mu       sync.Mutex
	calls    map[models.EntityRef]int
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (q *graphQuerier) Query(_ context.Context, _ string, opts models.QueryOptions) (*models.AssociationResult, error) {
	self := opts.Entity()
	n := q.inFlight.Add(1)
	defer q.inFlight.Add(-1)
	for {
		p := q.peak.Load()
		if n <= p || q.peak.CompareAndSwap(p, n) {
			break
		}
	}

	q.mu.Lock()
	q.calls[self]++
	q.mu.Unlock()

	if q.failing[self] {
		return nil, errors.New("store unavailable")
	}

	result := models.EmptyResult()
	for _, e := range q.edges {
		if e.Source() != self && e.Target() != self {
			continue
		}
		result.Associations = append(result.Associations, e)
		for _, r := range []models.EntityRef{e.Source(), e.Target()} {
			result.Entities[r.Type.Plural()] = append(result.Entities[r.Type.Plural()], models.EntityDocument{ID: r.ID, Type: r.Type})
		}
	}
	result.Summary = models.NewSummary(result.Associations)
	return &result, nil
}

func newGraph(edges ...models.Association) *graphQuerier {
	return &graphQuerier{edges: edges, failing: map[models.EntityRef]bool{}, calls: map[models.EntityRef]int{}}
}

func newService(q *graphQuerier, concurrency int) *Service {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewService(q, logger, Config{Concurrency: concurrency})
}

var (
	c1 = ref(models.KindCompany, "C1")
	s1 = ref(models.KindSalesperson, "S1")
	ct = ref(models.KindContact, "ct1")
	d1 = ref(models.KindDeal, "D1")
	l1 = ref(models.KindLocation, "L1")
)

func TestGetAIContext_Depths(t *testing.T) {
	ctx := context.Background()
	graph := newGraph(
		link("a1", c1, s1),
		link("a2", ct, c1),
		link("a3", d1, s1),
		link("a4", d1, ct),
		link("a5", l1, d1),
	)

	for _, depth := range []models.ContextDepth{models.DepthShallow, models.DepthMedium, ""} {
		t.Run("no expansion for "+string(depth), func(t *testing.T) {
			got, err := newService(graph, 4).GetAIContext(ctx, "T1", c1, depth)
			require.NoError(t, err)
			assert.Len(t, got.Direct.Associations, 2)
			assert.Empty(t, got.Indirect.Associations)
			assert.Empty(t, got.Indirect.Entities)
			assert.Equal(t, "company:C1 has 2 direct associations (company→salesperson, contact→company).", got.Summary)
		})
	}

	t.Run("deep expands one hop and excludes the origin", func(t *testing.T) {
		got, err := newService(graph, 4).GetAIContext(ctx, "T1", c1, models.DepthDeep)
		require.NoError(t, err)

		ids := make([]string, 0, len(got.Indirect.Associations))
		for _, a := range got.Indirect.Associations {
			ids = append(ids, a.ID)
		}
		// a3 and a4 are reached from both S1 and ct1 but appear once
		assert.ElementsMatch(t, []string{"a3", "a4"}, ids)
		assert.Equal(t, 2, got.Indirect.Summary.TotalAssociations)

		for _, docs := range got.Indirect.Entities {
			for _, doc := range docs {
				assert.NotEqual(t, c1, models.EntityRef{Type: doc.Type, ID: doc.ID})
			}
		}
		assert.Len(t, got.Indirect.Entities["deals"], 1)
		assert.NotContains(t, got.Indirect.Entities, "locations")
		assert.Contains(t, got.Summary, "2 indirect associations (deal→contact, deal→salesperson)")
	})
}

func TestGetAIContext_DedupesSecondHop(t *testing.T) {
	graph := newGraph(
		link("a1", c1, s1),
		link("a2", s1, c1),
		link("a3", c1, c1),
	)
	_, err := newService(graph, 4).GetAIContext(context.Background(), "T1", c1, models.DepthDeep)
	require.NoError(t, err)
	assert.Equal(t, 1, graph.calls[s1])
	assert.Equal(t, 1, graph.calls[c1])
}

func TestGetAIContext_BoundedConcurrency(t *testing.T) {
	var edges []models.Association
	for _, id := range []string{"1", "2", "3", "4", "5", "6", "7", "8"} {
		edges = append(edges, link("a"+id, c1, ref(models.KindContact, id)))
	}
	graph := newGraph(edges...)
	_, err := newService(graph, 2).GetAIContext(context.Background(), "T1", c1, models.DepthDeep)
	require.NoError(t, err)
	assert.LessOrEqual(t, graph.peak.Load(), int32(2))
}

func TestGetAIContext_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("failing neighbour is skipped", func(t *testing.T) {
		graph := newGraph(link("a1", c1, s1), link("a2", ct, c1), link("a3", s1, d1), link("a4", ct, l1))
		graph.failing[s1] = true
		got, err := newService(graph, 4).GetAIContext(ctx, "T1", c1, models.DepthDeep)
		require.NoError(t, err)
		require.Len(t, got.Indirect.Associations, 1)
		assert.Equal(t, "a4", got.Indirect.Associations[0].ID)
	})

	t.Run("direct failure fails the call", func(t *testing.T) {
		graph := newGraph()
		graph.failing[c1] = true
		_, err := newService(graph, 4).GetAIContext(ctx, "T1", c1, models.DepthDeep)
		assert.Error(t, err)
	})
}
