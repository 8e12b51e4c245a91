package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/associations"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Writer is satisfied by *Client.
type Writer interface {
	Write(ctx context.Context, statements ...Statement) error
}

// Projector keeps a graph copy of explicit associations: entity stub nodes joined by a
// relationship typed after the association type. Deletes are soft.
type Projector struct {
	writer Writer
	logger ectologger.Logger
}

var _ associations.Observer = (*Projector)(nil)

func NewProjector(writer Writer, logger ectologger.Logger) *Projector {
	return &Projector{
		writer: writer,
		logger: logger,
	}
}

func (p *Projector) Effect() models.SideEffect {
	return models.SideEffectGraph
}

// AssociationChanged projects explicit changes. Implicit associations live in entity documents
// and are not mirrored.
func (p *Projector) AssociationChanged(ctx context.Context, change associations.Change) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.AssociationChanged")
	defer span.End()

	a := change.Association
	if a.IsImplicit() {
		return nil
	}

	var statements []Statement
	switch change.Kind {
	case associations.ChangeDeleted:
		statements = []Statement{deleteStatement(change.TenantID, a.ID, change.OccurredAt)}
	default:
		statements = upsertStatements(change.TenantID, a, change.OccurredAt)
	}

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":      change.TenantID,
		"association_id": a.ID,
		"change":         change.Kind,
	})
	if err := p.writer.Write(ctx, statements...); err != nil {
		log.WithError(err).Error("Failed to project association into graph")
		return fmt.Errorf("failed to project association %s: %w", a.ID, err)
	}
	log.Debug("Projected association into graph")
	return nil
}

// upsertStatements drops a relationship left under a previous type, then merges the current one.
func upsertStatements(tenantID string, a models.Association, at time.Time) []Statement {
	relType := RelationshipType(a.AssociationType)

	retype := Statement{
		Cypher: `
		MATCH ()-[r {id: $id, tenant_id: $tenant_id}]->()
		WHERE type(r) <> $rel_type
		DELETE r
	`,
		Params: map[string]any{
			"id":        a.ID,
			"tenant_id": tenantID,
			"rel_type":  relType,
		},
	}

	props := map[string]any{
		"id":               a.ID,
		"tenant_id":        tenantID,
		"association_type": string(a.AssociationType),
		"strength":         string(a.Strength),
		"role":             a.Role,
		"updated_at":       at.UTC().Format(time.RFC3339),
	}

	merge := Statement{
		Cypher: fmt.Sprintf(`
		MERGE (from:%s {id: $from_id, tenant_id: $tenant_id})
		MERGE (to:%s {id: $to_id, tenant_id: $tenant_id})
		MERGE (from)-[r:%s {id: $id, tenant_id: $tenant_id}]->(to)
		SET r += $props
		REMOVE r.deleted_at
	`, NodeLabel(a.SourceEntityType), NodeLabel(a.TargetEntityType), relType),
		Params: map[string]any{
			"id":        a.ID,
			"tenant_id": tenantID,
			"from_id":   a.SourceEntityID,
			"to_id":     a.TargetEntityID,
			"props":     props,
		},
	}

	return []Statement{retype, merge}
}

func deleteStatement(tenantID, id string, at time.Time) Statement {
	return Statement{
		Cypher: `
		MATCH ()-[r {id: $id, tenant_id: $tenant_id}]->()
		SET r.deleted_at = $deleted_at
	`,
		Params: map[string]any{
			"id":         id,
			"tenant_id":  tenantID,
			"deleted_at": at.UTC().Format(time.RFC3339),
		},
	}
}

// NodeLabel is the node label of an entity kind, e.g. Salesperson.
func NodeLabel(kind models.EntityKind) string {
	label := sanitizeLabel(string(kind))
	return strings.ToUpper(label[:1]) + label[1:]
}

// RelationshipType is the relationship type of an association type, e.g. PRIMARY.
func RelationshipType(t models.AssociationType) string {
	return strings.ToUpper(sanitizeLabel(string(t)))
}

func sanitizeLabel(label string) string {
	// Only allow alphanumeric and underscore
	var b strings.Builder
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return "Entity"
	}
	return b.String()
}
