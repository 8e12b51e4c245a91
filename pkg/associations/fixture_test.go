package associations

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/association"
	"github.com/Ramsey-B/fern/pkg/docstore"
	"github.com/Ramsey-B/fern/pkg/models"
)

const tenant = "T1"

var errStoreDown = errors.New("store unavailable")

// flakyStore fails reads of selected collections.
type flakyStore struct {
	*docstore.MemoryStore
	failList map[string]bool
	failGet  map[string]bool
	failOne  map[string]bool
}

func (s *flakyStore) ListDocuments(ctx context.Context, c docstore.CollectionPath, q docstore.Query) ([]docstore.Document, error) {
	if s.failList[c.Collection] {
		return nil, errStoreDown
	}
	return s.MemoryStore.ListDocuments(ctx, c, q)
}

func (s *flakyStore) GetDocuments(ctx context.Context, c docstore.CollectionPath, ids []string) (map[string]docstore.Document, error) {
	if s.failGet[c.Collection] {
		return nil, errStoreDown
	}
	return s.MemoryStore.GetDocuments(ctx, c, ids)
}

func (s *flakyStore) UpdateDocument(ctx context.Context, p docstore.DocumentPath, data map[string]any) error {
	if s.failOne[p.Collection] {
		return errStoreDown
	}
	return s.MemoryStore.UpdateDocument(ctx, p, data)
}

type recordingObserver struct {
	mu      sync.Mutex
	effect  models.SideEffect
	err     error
	changes []Change
}

func (o *recordingObserver) Effect() models.SideEffect { return o.effect }

func (o *recordingObserver) AssociationChanged(_ context.Context, change Change) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes = append(o.changes, change)
	return o.err
}

type recordingInvalidator struct {
	mu   sync.Mutex
	refs []models.EntityRef
}

func (i *recordingInvalidator) Invalidate(_ context.Context, _ string, refs ...models.EntityRef) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.refs = append(i.refs, refs...)
}

type fixture struct {
	store       *flakyStore
	keys        *models.ForeignKeyTable
	records     *association.Repository
	deriver     *Deriver
	counters    *CounterMaintainer
	service     *Service
	engine      *QueryEngine
	observer    *recordingObserver
	invalidator *recordingInvalidator
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := testLogger()
	store := &flakyStore{
		MemoryStore: docstore.NewMemoryStore(),
		failList:    map[string]bool{},
		failGet:     map[string]bool{},
		failOne:     map[string]bool{},
	}
	keys := models.DefaultForeignKeys()
	records := association.NewRepository(store, logger)
	deriver := NewDeriver(store, keys, logger)
	counters := NewCounterMaintainer(store, logger)
	observer := &recordingObserver{effect: models.SideEffectEvent}
	invalidator := &recordingInvalidator{}
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	return &fixture{
		store:    store,
		keys:     keys,
		records:  records,
		deriver:  deriver,
		counters: counters,
		service: NewService(records, store, keys, counters, logger,
			WithObservers(observer),
			WithInvalidator(invalidator),
			WithClock(func() time.Time { return clock }),
		),
		engine:      NewQueryEngine(records, deriver, store, logger, DefaultQueryConfig()),
		observer:    observer,
		invalidator: invalidator,
	}
}

func (f *fixture) seed(t *testing.T, kind models.EntityKind, id string, data map[string]any) models.EntityRef {
	t.Helper()
	require.NoError(t, f.store.SetDocument(context.Background(), docstore.Doc(tenant, kind.Collection(), id), data, false))
	return models.EntityRef{Type: kind, ID: id}
}

func (f *fixture) entity(t *testing.T, ref models.EntityRef) map[string]any {
	t.Helper()
	doc, err := f.store.GetDocument(context.Background(), docstore.Doc(tenant, ref.Type.Collection(), ref.ID))
	require.NoError(t, err)
	require.NotNil(t, doc)
	return doc.Data
}

func (f *fixture) count(t *testing.T, ref models.EntityRef, target models.EntityKind) int {
	t.Helper()
	n, err := f.counters.Count(context.Background(), tenant, ref, target)
	require.NoError(t, err)
	return n
}

func createReq(source, target models.EntityRef, t models.AssociationType, s models.Strength) models.CreateAssociationRequest {
	return models.CreateAssociationRequest{
		SourceEntityType: source.Type,
		SourceEntityID:   source.ID,
		TargetEntityType: target.Type,
		TargetEntityID:   target.ID,
		AssociationType:  t,
		Strength:         s,
	}
}

func ids(associations []models.Association) []string {
	out := make([]string, 0, len(associations))
	for _, a := range associations {
		out = append(out, a.ID)
	}
	return out
}

func entityPath(ref models.EntityRef) docstore.DocumentPath {
	return docstore.Doc(tenant, ref.Type.Collection(), ref.ID)
}
