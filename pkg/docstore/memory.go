package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps documents in process. Values are normalised through JSON on write so reads
// see the same shapes a JSON backed store returns.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[CollectionPath]map[string]map[string]any
	newID func() string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[CollectionPath]map[string]map[string]any),
		newID: func() string { return uuid.New().String() },
	}
}

func (s *MemoryStore) GetDocument(ctx context.Context, path DocumentPath) (*Document, error) {
	if err := path.validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.docs[path.CollectionPath][path.ID]
	if !ok {
		return nil, nil
	}
	return &Document{ID: path.ID, Data: copyData(data)}, nil
}

func (s *MemoryStore) GetDocuments(ctx context.Context, collection CollectionPath, ids []string) (map[string]Document, error) {
	if err := collection.validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Document, len(ids))
	for _, id := range ids {
		if data, ok := s.docs[collection][id]; ok {
			out[id] = Document{ID: id, Data: copyData(data)}
		}
	}
	return out, nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, collection CollectionPath, query Query) ([]Document, error) {
	if err := collection.validate(); err != nil {
		return nil, err
	}
	filters, err := normalizeFilters(query.Filters)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.docs[collection]
	ids := slices.Sorted(maps.Keys(docs))

	out := []Document{}
	for _, id := range ids {
		if !matchesAll(docs[id], filters) {
			continue
		}
		out = append(out, Document{ID: id, Data: copyData(docs[id])})
		if query.Limit > 0 && len(out) >= query.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) SetDocument(ctx context.Context, path DocumentPath, data map[string]any, merge bool) error {
	if err := path.validate(); err != nil {
		return err
	}
	normalized, err := normalizeData(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(path, normalized, merge)
	return nil
}

func (s *MemoryStore) CreateDocument(ctx context.Context, path DocumentPath, data map[string]any) error {
	if err := path.validate(); err != nil {
		return err
	}
	normalized, err := normalizeData(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[path.CollectionPath][path.ID]; ok {
		return ErrAlreadyExists
	}
	s.set(path, normalized, false)
	return nil
}

func (s *MemoryStore) UpdateDocument(ctx context.Context, path DocumentPath, data map[string]any) error {
	if err := path.validate(); err != nil {
		return err
	}
	normalized, err := normalizeData(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[path.CollectionPath][path.ID]; !ok {
		return ErrNotFound
	}
	s.set(path, normalized, true)
	return nil
}

// DeleteDocument is a no-op for absent documents.
func (s *MemoryStore) DeleteDocument(ctx context.Context, path DocumentPath) error {
	if err := path.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs[path.CollectionPath], path.ID)
	return nil
}

func (s *MemoryStore) AddDocument(ctx context.Context, collection CollectionPath, data map[string]any) (string, error) {
	id := s.newID()
	if err := s.CreateDocument(ctx, collection.Doc(id), data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *MemoryStore) Batch() Batch {
	return &stagedBatch{commit: s.commit}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) commit(ctx context.Context, ops []batchOp) error {
	staged := make([]batchOp, 0, len(ops))
	for _, op := range ops {
		if err := op.path.validate(); err != nil {
			return err
		}
		normalized, err := normalizeData(op.data)
		if err != nil {
			return err
		}
		op.data = normalized
		staged = append(staged, op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Updates must target documents that exist before or earlier in the batch.
	exists := map[DocumentPath]bool{}
	for _, op := range staged {
		if op.kind == opUpdate {
			if _, ok := s.docs[op.path.CollectionPath][op.path.ID]; !ok && !exists[op.path] {
				return fmt.Errorf("batch update %s: %w", op.path, ErrNotFound)
			}
		}
		exists[op.path] = true
	}

	for _, op := range staged {
		s.set(op.path, op.data, op.merge || op.kind == opUpdate)
	}
	return nil
}

// set must be called with the write lock held. data must already be normalised.
func (s *MemoryStore) set(path DocumentPath, data map[string]any, merge bool) {
	collection, ok := s.docs[path.CollectionPath]
	if !ok {
		collection = make(map[string]map[string]any)
		s.docs[path.CollectionPath] = collection
	}

	existing, ok := collection[path.ID]
	if !merge || !ok {
		collection[path.ID] = data
		return
	}
	for k, v := range data {
		existing[k] = v
	}
}

func normalizeData(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func copyData(data map[string]any) map[string]any {
	out, err := normalizeData(data)
	if err != nil {
		// stored data was normalised on write so it always re-encodes
		panic(err)
	}
	return out
}

func normalizeFilters(filters []Filter) ([]Filter, error) {
	out := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if !validField(f.Field) {
			return nil, fmt.Errorf("invalid filter field %q", f.Field)
		}
		value, err := normalizeValue(f.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid filter value for %s: %w", f.Field, err)
		}
		switch f.Op {
		case OpEqual, OpArrayContains:
		case OpIn:
			if _, ok := value.([]any); !ok {
				return nil, fmt.Errorf("filter %s in expects a list, got %T", f.Field, f.Value)
			}
		default:
			return nil, fmt.Errorf("unsupported filter operator %q", f.Op)
		}
		out = append(out, Filter{Field: f.Field, Op: f.Op, Value: value})
	}
	return out, nil
}

func matchesAll(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !matches(data, f) {
			return false
		}
	}
	return true
}

func matches(data map[string]any, f Filter) bool {
	field, ok := data[f.Field]
	if !ok {
		return false
	}
	switch f.Op {
	case OpEqual:
		return reflect.DeepEqual(field, f.Value)
	case OpIn:
		for _, candidate := range f.Value.([]any) {
			if reflect.DeepEqual(field, candidate) {
				return true
			}
		}
	case OpArrayContains:
		items, ok := field.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if reflect.DeepEqual(item, f.Value) {
				return true
			}
		}
	}
	return false
}
