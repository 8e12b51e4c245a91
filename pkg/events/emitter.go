// Package events publishes association lifecycle events.
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/associations"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	EventAssociationCreated = "association.created"
	EventAssociationUpdated = "association.updated"
	EventAssociationDeleted = "association.deleted"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	PublishAssociationEvent(ctx context.Context, event *kafka.AssociationEvent) error
}

// Emitter turns association changes into events
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

var _ associations.Observer = (*Emitter)(nil)

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

func (e *Emitter) Effect() models.SideEffect {
	return models.SideEffectEvent
}

func (e *Emitter) AssociationChanged(ctx context.Context, change associations.Change) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.AssociationChanged")
	defer span.End()

	event := NewAssociationEvent(change)
	err := e.publisher.PublishAssociationEvent(ctx, event)
	metrics.RecordEventPublished(event.EventType, err)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type":     event.EventType,
			"association_id": event.AssociationID,
		}).Error("Failed to emit association event")
		return err
	}
	return nil
}

// NewAssociationEvent maps a change onto its wire event.
func NewAssociationEvent(change associations.Change) *kafka.AssociationEvent {
	a := change.Association
	return &kafka.AssociationEvent{
		EventType:        eventType(change.Kind),
		TenantID:         change.TenantID,
		AssociationID:    a.ID,
		Origin:           a.Origin,
		SourceEntityType: a.SourceEntityType,
		SourceEntityID:   a.SourceEntityID,
		TargetEntityType: a.TargetEntityType,
		TargetEntityID:   a.TargetEntityID,
		Association:      a,
		Actor:            change.Actor,
		Timestamp:        change.OccurredAt,
	}
}

func eventType(kind associations.ChangeKind) string {
	switch kind {
	case associations.ChangeCreated:
		return EventAssociationCreated
	case associations.ChangeDeleted:
		return EventAssociationDeleted
	}
	return EventAssociationUpdated
}
