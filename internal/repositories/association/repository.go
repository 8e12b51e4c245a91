package association

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/docstore"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// CollectionName is the tenant scoped collection holding explicit association documents.
const CollectionName = "entity_associations"

var associationIDNamespace = uuid.MustParse("5d0c6a7e-91b4-4f3a-8e2d-7c1b9f4a6e30")

// ComputeDeterministicID returns the id a new record for the pair is stored under, so concurrent
// creates of the same pair collide in the store instead of producing two records.
func ComputeDeterministicID(tenantID string, source, target models.EntityRef) string {
	return uuid.NewSHA1(associationIDNamespace, []byte(fmt.Sprintf("%s|%s|%s|%s|%s",
		tenantID, source.Type, source.ID, target.Type, target.ID))).String()
}

// Side selects which endpoint of the stored record the queried entity occupies.
type Side int

const (
	SideSource Side = iota
	SideTarget
)

// Repository manages explicit association documents.
type Repository struct {
	store  docstore.Store
	logger ectologger.Logger
}

func NewRepository(store docstore.Store, logger ectologger.Logger) *Repository {
	return &Repository{store: store, logger: logger}
}

func (r *Repository) collection(tenantID string) docstore.CollectionPath {
	return docstore.Collection(tenantID, CollectionName)
}

// Get returns nil when the id does not resolve.
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.Association, error) {
	ctx, span := tracing.StartSpan(ctx, "association.Repository.Get")
	defer span.End()

	doc, err := r.store.GetDocument(ctx, r.collection(tenantID).Doc(id))
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	a, err := models.AssociationFromDocument(doc.ID, doc.Data)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Find is the exact match lookup on the source/target pair. It returns nil when there is no record.
func (r *Repository) Find(ctx context.Context, tenantID string, source, target models.EntityRef) (*models.Association, error) {
	ctx, span := tracing.StartSpan(ctx, "association.Repository.Find")
	defer span.End()

	docs, err := r.store.ListDocuments(ctx, r.collection(tenantID), docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("sourceEntityType", docstore.OpEqual, source.Type),
			docstore.Where("sourceEntityId", docstore.OpEqual, source.ID),
			docstore.Where("targetEntityType", docstore.OpEqual, target.Type),
			docstore.Where("targetEntityId", docstore.OpEqual, target.ID),
		},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	a, err := models.AssociationFromDocument(docs[0].ID, docs[0].Data)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// List returns the records where ref occupies side. TargetTypes always name the other endpoint,
// so on the target side they are matched against the stored source type.
func (r *Repository) List(ctx context.Context, tenantID string, ref models.EntityRef, side Side, filter models.AssociationFilter, limit int) ([]models.Association, error) {
	ctx, span := tracing.StartSpan(ctx, "association.Repository.List")
	defer span.End()

	selfType, selfID, otherType := "sourceEntityType", "sourceEntityId", "targetEntityType"
	if side == SideTarget {
		selfType, selfID, otherType = "targetEntityType", "targetEntityId", "sourceEntityType"
	}

	filters := []docstore.Filter{
		docstore.Where(selfType, docstore.OpEqual, ref.Type),
		docstore.Where(selfID, docstore.OpEqual, ref.ID),
	}
	if len(filter.TargetTypes) > 0 {
		filters = append(filters, docstore.Where(otherType, docstore.OpIn, filter.TargetTypes))
	}
	if len(filter.AssociationTypes) > 0 {
		filters = append(filters, docstore.Where("associationType", docstore.OpIn, filter.AssociationTypes))
	}
	if len(filter.Strengths) > 0 {
		filters = append(filters, docstore.Where("strength", docstore.OpIn, filter.Strengths))
	}

	docs, err := r.store.ListDocuments(ctx, r.collection(tenantID), docstore.Query{Filters: filters, Limit: limit})
	if err != nil {
		return nil, err
	}

	out := make([]models.Association, 0, len(docs))
	for _, doc := range docs {
		a, err := models.AssociationFromDocument(doc.ID, doc.Data)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithField("association_id", doc.ID).Warn("Skipping undecodable association document")
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Insert stores a new record under a.ID and returns docstore.ErrAlreadyExists when the id is taken.
func (r *Repository) Insert(ctx context.Context, a models.Association) error {
	ctx, span := tracing.StartSpan(ctx, "association.Repository.Insert")
	defer span.End()

	doc, err := a.ToDocument()
	if err != nil {
		return err
	}
	return r.store.CreateDocument(ctx, r.collection(a.TenantID).Doc(a.ID), doc)
}

// Update merges fields into the record and returns docstore.ErrNotFound when it is absent.
func (r *Repository) Update(ctx context.Context, tenantID, id string, fields map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "association.Repository.Update")
	defer span.End()

	return r.store.UpdateDocument(ctx, r.collection(tenantID).Doc(id), fields)
}

func (r *Repository) Delete(ctx context.Context, tenantID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "association.Repository.Delete")
	defer span.End()

	return r.store.DeleteDocument(ctx, r.collection(tenantID).Doc(id))
}
