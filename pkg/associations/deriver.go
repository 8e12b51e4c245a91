package associations

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/pkg/docstore"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Deriver synthesizes implicit associations from foreign key fields of entity documents.
// It never writes.
type Deriver struct {
	store  docstore.Store
	keys   *models.ForeignKeyTable
	logger ectologger.Logger
}

func NewDeriver(store docstore.Store, keys *models.ForeignKeyTable, logger ectologger.Logger) *Deriver {
	return &Deriver{store: store, keys: keys, logger: logger}
}

// Derive returns the associations implied by the entity's own foreign keys. A missing entity
// yields nothing.
func (d *Deriver) Derive(ctx context.Context, tenantID string, ref models.EntityRef) ([]models.Association, error) {
	ctx, span := tracing.StartSpan(ctx, "associations.Deriver.Derive")
	defer span.End()

	if len(d.keys.Derived(ref.Type)) == 0 {
		return []models.Association{}, nil
	}

	doc, err := d.store.GetDocument(ctx, docstore.Doc(tenantID, ref.Type.Collection(), ref.ID))
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return []models.Association{}, nil
	}
	return d.FromDocument(tenantID, ref.Type, *doc), nil
}

// FromDocument derives associations from an already loaded document, in foreign key table order.
func (d *Deriver) FromDocument(tenantID string, kind models.EntityKind, doc docstore.Document) []models.Association {
	out := []models.Association{}
	for _, fk := range d.keys.Derived(kind) {
		for _, targetID := range foreignKeyValues(doc.Data, fk) {
			out = append(out, implicitAssociation(tenantID, kind, doc, fk, targetID))
		}
	}
	return out
}

// DeriveReverse finds entities of any kind whose derived foreign keys point at ref.
func (d *Deriver) DeriveReverse(ctx context.Context, tenantID string, ref models.EntityRef) ([]models.Association, error) {
	ctx, span := tracing.StartSpan(ctx, "associations.Deriver.DeriveReverse")
	defer span.End()

	keys := d.keys.PointingAt(ref.Type)
	results := make([][]models.Association, len(keys))

	g, gCtx := errgroup.WithContext(ctx)
	for i, fk := range keys {
		g.Go(func() error {
			op := docstore.OpEqual
			if fk.Multi {
				op = docstore.OpArrayContains
			}
			docs, err := d.store.ListDocuments(gCtx, docstore.Collection(tenantID, fk.SourceKind.Collection()), docstore.Query{
				Filters: []docstore.Filter{docstore.Where(fk.Field, op, ref.ID)},
			})
			if err != nil {
				return err
			}
			for _, doc := range docs {
				results[i] = append(results[i], implicitAssociation(tenantID, fk.SourceKind, doc, fk, ref.ID))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := []models.Association{}
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func foreignKeyValues(data map[string]any, fk models.ForeignKey) []string {
	raw, ok := data[fk.Field]
	if !ok || raw == nil {
		return nil
	}
	if !fk.Multi {
		if id, ok := raw.(string); ok && id != "" {
			return []string{id}
		}
		return nil
	}

	var ids []string
	seen := map[string]struct{}{}
	switch values := raw.(type) {
	case []any:
		for _, v := range values {
			if id, ok := v.(string); ok && id != "" {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}
	case []string:
		for _, id := range values {
			if _, dup := seen[id]; !dup && id != "" {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func implicitAssociation(tenantID string, kind models.EntityKind, doc docstore.Document, fk models.ForeignKey, targetID string) models.Association {
	key := models.ImplicitKey{
		SourceType: kind,
		SourceID:   doc.ID,
		Field:      fk.Field,
		Multi:      fk.Multi,
		TargetType: fk.TargetKind,
		TargetID:   targetID,
	}
	return models.Association{
		ID:               key.ID(),
		Origin:           models.OriginImplicit,
		SourceEntityType: kind,
		SourceEntityID:   doc.ID,
		TargetEntityType: fk.TargetKind,
		TargetEntityID:   targetID,
		AssociationType:  models.AssociationPrimary,
		Strength:         models.StrengthMedium,
		TenantID:         tenantID,
		CreatedAt:        documentTime(doc.Data, "createdAt"),
		UpdatedAt:        documentTime(doc.Data, "updatedAt"),
		Implicit:         &key,
	}
}

// documentTime reads an RFC3339 timestamp field, returning the zero time when absent.
func documentTime(data map[string]any, field string) time.Time {
	raw, ok := data[field].(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// dedupeByID keeps the first association for every id.
func dedupeByID(in []models.Association) []models.Association {
	seen := make(map[string]struct{}, len(in))
	out := make([]models.Association, 0, len(in))
	for _, a := range in {
		if _, ok := seen[a.ID]; ok {
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}
	return out
}
