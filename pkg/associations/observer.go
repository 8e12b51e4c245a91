package associations

import (
	"context"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// Change describes one successful association mutation.
type Change struct {
	Kind        ChangeKind         `json:"kind"`
	TenantID    string             `json:"tenantId"`
	Association models.Association `json:"association"`
	Actor       string             `json:"actor,omitempty"`
	OccurredAt  time.Time          `json:"occurredAt"`
}

// Observer is notified after every successful mutation. A failing observer is reported as a
// side effect failure of the mutation, it never fails it.
type Observer interface {
	Effect() models.SideEffect
	AssociationChanged(ctx context.Context, change Change) error
}

// Invalidator drops cached query results that involve an entity.
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID string, refs ...models.EntityRef)
}
