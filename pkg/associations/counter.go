package associations

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/docstore"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const countsField = "associationCounts"

// CounterMaintainer keeps the advisory associationCounts map of entity documents. Counts are
// not authoritative and are updated without a transaction.
type CounterMaintainer struct {
	store  docstore.Store
	logger ectologger.Logger
}

func NewCounterMaintainer(store docstore.Store, logger ectologger.Logger) *CounterMaintainer {
	return &CounterMaintainer{store: store, logger: logger}
}

// AdjustCount moves associationCounts[plural(target)] by delta, flooring at zero. The error is
// for the caller to record as a side effect failure, never to fail a mutation with.
func (c *CounterMaintainer) AdjustCount(ctx context.Context, tenantID string, entity models.EntityRef, target models.EntityKind, delta int) error {
	ctx, span := tracing.StartSpan(ctx, "associations.CounterMaintainer.AdjustCount")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":   tenantID,
		"entity_type": entity.Type,
		"entity_id":   entity.ID,
		"target_type": target,
		"delta":       delta,
	})

	path := docstore.Doc(tenantID, entity.Type.Collection(), entity.ID)
	doc, err := c.store.GetDocument(ctx, path)
	if err != nil {
		log.WithError(err).Warn("Failed to read entity for counter adjustment")
		return err
	}
	if doc == nil {
		err := fmt.Errorf("entity %s not found", entity)
		log.WithError(err).Warn("Skipping counter adjustment for missing entity")
		return err
	}

	counts := map[string]any{}
	if existing, ok := doc.Data[countsField].(map[string]any); ok {
		for k, v := range existing {
			counts[k] = v
		}
	}

	key := target.Plural()
	next := max(toInt(counts[key])+delta, 0)
	counts[key] = next

	if err := c.store.UpdateDocument(ctx, path, map[string]any{countsField: counts}); err != nil {
		log.WithError(err).Warn("Failed to write association count")
		return err
	}

	log.WithField("count", next).Debug("Adjusted association count")
	return nil
}

// Count reads the current advisory count, zero when absent.
func (c *CounterMaintainer) Count(ctx context.Context, tenantID string, entity models.EntityRef, target models.EntityKind) (int, error) {
	doc, err := c.store.GetDocument(ctx, docstore.Doc(tenantID, entity.Type.Collection(), entity.ID))
	if err != nil || doc == nil {
		return 0, err
	}
	counts, _ := doc.Data[countsField].(map[string]any)
	return toInt(counts[target.Plural()]), nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
