// Package docstore is a tenant scoped document database organised as tenant → collection → document.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
)

// CollectionPath addresses tenants/<tenant>/<collection>.
type CollectionPath struct {
	TenantID   string
	Collection string
}

func Collection(tenantID, collection string) CollectionPath {
	return CollectionPath{TenantID: tenantID, Collection: collection}
}

func (c CollectionPath) Doc(id string) DocumentPath {
	return DocumentPath{CollectionPath: c, ID: id}
}

func (c CollectionPath) String() string {
	return fmt.Sprintf("tenants/%s/%s", c.TenantID, c.Collection)
}

func (c CollectionPath) validate() error {
	if c.TenantID == "" || c.Collection == "" {
		return fmt.Errorf("invalid collection path %q", c.String())
	}
	return nil
}

// DocumentPath addresses tenants/<tenant>/<collection>/<id>.
type DocumentPath struct {
	CollectionPath
	ID string
}

func Doc(tenantID, collection, id string) DocumentPath {
	return Collection(tenantID, collection).Doc(id)
}

func (d DocumentPath) String() string {
	return fmt.Sprintf("%s/%s", d.CollectionPath.String(), d.ID)
}

func (d DocumentPath) validate() error {
	if err := d.CollectionPath.validate(); err != nil {
		return err
	}
	if d.ID == "" || strings.Contains(d.ID, "/") {
		return fmt.Errorf("invalid document path %q", d.String())
	}
	return nil
}

// ParsePath parses tenants/<tenant>/<collection>/<id>.
func ParsePath(path string) (DocumentPath, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 4 || parts[0] != "tenants" {
		return DocumentPath{}, fmt.Errorf("invalid document path %q", path)
	}
	p := Doc(parts[1], parts[2], parts[3])
	return p, p.validate()
}

type Document struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

type Operator string

const (
	OpEqual         Operator = "=="
	OpIn            Operator = "in"
	OpArrayContains Operator = "array-contains"
)

// Filter is a predicate on a top level document field. OpIn takes a slice value.
type Filter struct {
	Field string
	Op    Operator
	Value any
}

func Where(field string, op Operator, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

type Query struct {
	Filters []Filter
	// Limit caps the number of documents returned. Zero means no limit.
	Limit int
}

// Store is the document database the association engine reads and writes through.
type Store interface {
	// GetDocument returns nil and no error when the document does not exist.
	GetDocument(ctx context.Context, path DocumentPath) (*Document, error)
	// GetDocuments batch reads ids from one collection. Missing ids are absent from the map.
	GetDocuments(ctx context.Context, collection CollectionPath, ids []string) (map[string]Document, error)
	ListDocuments(ctx context.Context, collection CollectionPath, query Query) ([]Document, error)
	// SetDocument writes data, merging top level fields into an existing document when merge is set.
	SetDocument(ctx context.Context, path DocumentPath, data map[string]any, merge bool) error
	// CreateDocument inserts data and returns ErrAlreadyExists when the path is taken.
	CreateDocument(ctx context.Context, path DocumentPath, data map[string]any) error
	// UpdateDocument merges top level fields and returns ErrNotFound when the document is absent.
	UpdateDocument(ctx context.Context, path DocumentPath, data map[string]any) error
	DeleteDocument(ctx context.Context, path DocumentPath) error
	// AddDocument inserts data under a store assigned id.
	AddDocument(ctx context.Context, collection CollectionPath, data map[string]any) (string, error)
	// Batch starts a write batch that is applied atomically on Commit.
	Batch() Batch
	Ping(ctx context.Context) error
}

// Batch stages writes and applies them all on Commit.
type Batch interface {
	Set(path DocumentPath, data map[string]any, merge bool)
	Update(path DocumentPath, data map[string]any)
	Len() int
	Commit(ctx context.Context) error
}

type opKind int

const (
	opSet opKind = iota
	opUpdate
)

type batchOp struct {
	kind  opKind
	path  DocumentPath
	data  map[string]any
	merge bool
}

type stagedBatch struct {
	ops    []batchOp
	commit func(ctx context.Context, ops []batchOp) error
}

func (b *stagedBatch) Set(path DocumentPath, data map[string]any, merge bool) {
	b.ops = append(b.ops, batchOp{kind: opSet, path: path, data: data, merge: merge})
}

func (b *stagedBatch) Update(path DocumentPath, data map[string]any) {
	b.ops = append(b.ops, batchOp{kind: opUpdate, path: path, data: data})
}

func (b *stagedBatch) Len() int {
	return len(b.ops)
}

func (b *stagedBatch) Commit(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	ops := b.ops
	b.ops = nil
	return b.commit(ctx, ops)
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validField(field string) bool {
	return fieldPattern.MatchString(field)
}
