package associations

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/internal/repositories/association"
	ctxmiddleware "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/docstore"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Service implements the association write path and exact lookups.
type Service struct {
	records     Records
	store       docstore.Store
	keys        *models.ForeignKeyTable
	counters    *CounterMaintainer
	observers   []Observer
	invalidator Invalidator
	logger      ectologger.Logger
	now         func() time.Time
}

type ServiceOption func(*Service)

func WithObservers(observers ...Observer) ServiceOption {
	return func(s *Service) {
		s.observers = append(s.observers, observers...)
	}
}

func WithInvalidator(invalidator Invalidator) ServiceOption {
	return func(s *Service) {
		s.invalidator = invalidator
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(
	records Records,
	store docstore.Store,
	keys *models.ForeignKeyTable,
	counters *CounterMaintainer,
	logger ectologger.Logger,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		records:  records,
		store:    store,
		keys:     keys,
		counters: counters,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create links source to target. An existing record for the exact pair is updated in place and
// keeps its id. Counters move only when a new record is inserted.
func (s *Service) Create(ctx context.Context, tenantID string, req models.CreateAssociationRequest) (result models.MutationResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "associations.Service.Create")
	defer span.End()
	defer func() {
		tracing.RecordError(span, err)
		metrics.RecordMutation("create", string(models.OriginExplicit), err)
	}()

	if err := validateCreate(tenantID, req); err != nil {
		return result, err
	}

	source := models.EntityRef{Type: req.SourceEntityType, ID: req.SourceEntityID}
	target := models.EntityRef{Type: req.TargetEntityType, ID: req.TargetEntityID}
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"source":    source.String(),
		"target":    target.String(),
	})
	tracing.SetAssociation(span, tenantID, association.ComputeDeterministicID(tenantID, source, target), source.String(), target.String())

	if err := s.ensureEntitiesExist(ctx, tenantID, source, target); err != nil {
		return result, err
	}

	now := s.now().UTC()
	actor := ctxmiddleware.GetUserID(ctx)

	existing, err := s.records.Find(ctx, tenantID, source, target)
	if err != nil {
		log.WithError(err).Error("Failed to look up existing association")
		return result, wrapError(CodeQueryFailed, err, "failed to look up association %s → %s", source, target)
	}

	if existing == nil {
		strength := req.Strength
		if strength == "" {
			strength = models.StrengthMedium
		}
		a := models.Association{
			ID:               association.ComputeDeterministicID(tenantID, source, target),
			Origin:           models.OriginExplicit,
			SourceEntityType: source.Type,
			SourceEntityID:   source.ID,
			TargetEntityType: target.Type,
			TargetEntityID:   target.ID,
			AssociationType:  req.AssociationType,
			Role:             req.Role,
			Strength:         strength,
			Metadata:         req.Metadata,
			TenantID:         tenantID,
			CreatedAt:        now,
			UpdatedAt:        now,
			CreatedBy:        actor,
			UpdatedBy:        actor,
		}

		err := s.records.Insert(ctx, a)
		switch {
		case err == nil:
			log.WithField("association_id", a.ID).Debug("Inserted new association")
			result = models.MutationResult{ID: a.ID, Created: true}
			s.adjustCounters(ctx, &result, tenantID, source, target, 1)
			s.invalidate(ctx, tenantID, source, target)
			s.notify(ctx, &result, tenantID, ChangeCreated, a, actor, now)
			return result, nil
		case errors.Is(err, docstore.ErrAlreadyExists):
			// A concurrent create won the insert. Converge on its record.
			log.WithField("association_id", a.ID).Debug("Concurrent create detected, updating existing association")
			existing, err = s.records.Get(ctx, tenantID, a.ID)
			if err != nil {
				return result, wrapError(CodeQueryFailed, err, "failed to read association %s", a.ID)
			}
			if existing == nil {
				return result, wrapError(CodeQueryFailed, docstore.ErrNotFound, "association %s vanished during create", a.ID)
			}
		default:
			log.WithError(err).Error("Failed to insert association")
			return result, wrapError(CodeQueryFailed, err, "failed to create association %s → %s", source, target)
		}
	}

	patch := models.UpdateAssociationRequest{
		AssociationType: &req.AssociationType,
		Metadata:        req.Metadata,
	}
	if req.Role != "" {
		patch.Role = &req.Role
	}
	if req.Strength != "" {
		patch.Strength = &req.Strength
	}

	updated, err := s.applyUpdate(ctx, tenantID, *existing, patch, actor, now)
	if err != nil {
		return result, err
	}
	log.WithField("association_id", updated.ID).Debug("Upserted existing association")

	result = models.MutationResult{ID: updated.ID, Created: false}
	s.invalidate(ctx, tenantID, source, target)
	s.notify(ctx, &result, tenantID, ChangeUpdated, updated, actor, now)
	return result, nil
}

// Find returns nil when no record exists for the exact pair.
func (s *Service) Find(ctx context.Context, tenantID string, source, target models.EntityRef) (*models.Association, error) {
	ctx, span := tracing.StartSpan(ctx, "associations.Service.Find")
	defer span.End()

	if tenantID == "" || !source.Type.Valid() || !target.Type.Valid() || source.ID == "" || target.ID == "" {
		return nil, newError(CodeInvalidArgument, "source and target type and id are required")
	}

	a, err := s.records.Find(ctx, tenantID, source, target)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to find association")
		return nil, wrapError(CodeQueryFailed, err, "failed to find association %s → %s", source, target)
	}
	return a, nil
}

// Get returns the explicit association with id.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*models.Association, error) {
	ctx, span := tracing.StartSpan(ctx, "associations.Service.Get")
	defer span.End()

	a, err := s.records.Get(ctx, tenantID, id)
	if err != nil {
		return nil, wrapError(CodeQueryFailed, err, "failed to read association %s", id)
	}
	if a == nil {
		return nil, newError(CodeAssociationNotFound, "association %s not found", id)
	}
	return a, nil
}

// Update merges the set fields into the association and refreshes updatedAt and updatedBy.
func (s *Service) Update(ctx context.Context, tenantID, id string, req models.UpdateAssociationRequest) (result models.MutationResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "associations.Service.Update")
	defer span.End()
	defer func() {
		tracing.RecordError(span, err)
		metrics.RecordMutation("update", string(models.OriginExplicit), err)
	}()

	if req.AssociationType != nil && !req.AssociationType.Valid() {
		return result, newError(CodeInvalidArgument, "unknown association type %q", *req.AssociationType)
	}
	if req.Strength != nil && !req.Strength.Valid() {
		return result, newError(CodeInvalidArgument, "unknown strength %q", *req.Strength)
	}

	existing, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return result, err
	}

	now := s.now().UTC()
	actor := ctxmiddleware.GetUserID(ctx)
	updated, err := s.applyUpdate(ctx, tenantID, *existing, req, actor, now)
	if err != nil {
		return result, err
	}

	result = models.MutationResult{ID: id}
	s.invalidate(ctx, tenantID, updated.Source(), updated.Target())
	s.notify(ctx, &result, tenantID, ChangeUpdated, updated, actor, now)
	return result, nil
}

func (s *Service) applyUpdate(ctx context.Context, tenantID string, a models.Association, req models.UpdateAssociationRequest, actor string, now time.Time) (models.Association, error) {
	fields := map[string]any{
		"updatedAt": now,
		"updatedBy": actor,
	}
	if req.AssociationType != nil {
		fields["associationType"] = *req.AssociationType
		a.AssociationType = *req.AssociationType
	}
	if req.Role != nil {
		fields["role"] = *req.Role
		a.Role = *req.Role
	}
	if req.Strength != nil {
		fields["strength"] = *req.Strength
		a.Strength = *req.Strength
	}
	if req.Metadata != nil {
		fields["metadata"] = req.Metadata
		a.Metadata = req.Metadata
	}
	a.UpdatedAt = now
	a.UpdatedBy = actor

	if err := s.records.Update(ctx, tenantID, a.ID, fields); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return a, newError(CodeAssociationNotFound, "association %s not found", a.ID)
		}
		s.logger.WithContext(ctx).WithError(err).WithField("association_id", a.ID).Error("Failed to update association")
		return a, wrapError(CodeQueryFailed, err, "failed to update association %s", a.ID)
	}
	return a, nil
}

// Delete dispatches on the association's origin.
func (s *Service) Delete(ctx context.Context, tenantID string, a models.Association) (models.MutationResult, error) {
	if a.IsImplicit() {
		if a.Implicit != nil {
			return s.DeleteImplicitKey(ctx, tenantID, *a.Implicit)
		}
		return s.DeleteImplicit(ctx, tenantID, a.ID)
	}
	return s.DeleteExplicit(ctx, tenantID, a.ID)
}

// DeleteExplicit removes a stored association and decrements both entities' counters.
func (s *Service) DeleteExplicit(ctx context.Context, tenantID, id string) (result models.MutationResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "associations.Service.DeleteExplicit")
	defer span.End()
	defer func() {
		tracing.RecordError(span, err)
		metrics.RecordMutation("delete", string(models.OriginExplicit), err)
	}()

	existing, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return result, err
	}

	if err := s.records.Delete(ctx, tenantID, id); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("association_id", id).Error("Failed to delete association")
		return result, wrapError(CodeQueryFailed, err, "failed to delete association %s", id)
	}

	now := s.now().UTC()
	result = models.MutationResult{ID: id}
	s.adjustCounters(ctx, &result, tenantID, existing.Source(), existing.Target(), -1)
	s.invalidate(ctx, tenantID, existing.Source(), existing.Target())
	s.notify(ctx, &result, tenantID, ChangeDeleted, *existing, ctxmiddleware.GetUserID(ctx), now)
	return result, nil
}

// DeleteImplicit removes the foreign key an implicit wire id was derived from. The id does not
// encode the source kind or field, so every collection is checked in AllEntityKinds order and
// the field is the first one on that kind holding the target.
func (s *Service) DeleteImplicit(ctx context.Context, tenantID, id string) (models.MutationResult, error) {
	ctx, span := tracing.StartSpan(ctx, "associations.Service.DeleteImplicit")
	defer span.End()

	ref, err := models.ParseImplicitID(id)
	if err != nil {
		return models.MutationResult{}, wrapError(CodeInvalidArgument, err, "invalid implicit association id")
	}

	for _, kind := range models.AllEntityKinds() {
		doc, err := s.store.GetDocument(ctx, docstore.Doc(tenantID, kind.Collection(), ref.SourceID))
		if err != nil {
			return models.MutationResult{}, wrapError(CodeQueryFailed, err, "failed to resolve source entity %s", ref.SourceID)
		}
		if doc == nil {
			continue
		}
		return s.deleteImplicit(ctx, tenantID, kind, *doc, "", ref.TargetType, ref.TargetID)
	}

	return models.MutationResult{}, newError(CodeSourceEntityUnresolved, "no entity collection contains %s", ref.SourceID)
}

// DeleteImplicitKey removes the foreign key described by key without probing collections.
// A non empty key.Field must be a registered field of the source kind pointing at the target.
func (s *Service) DeleteImplicitKey(ctx context.Context, tenantID string, key models.ImplicitKey) (models.MutationResult, error) {
	ctx, span := tracing.StartSpan(ctx, "associations.Service.DeleteImplicitKey")
	defer span.End()

	if !key.SourceType.Valid() {
		return s.DeleteImplicit(ctx, tenantID, key.ID())
	}
	if key.SourceID == "" || key.TargetID == "" || !key.TargetType.Valid() {
		return models.MutationResult{}, newError(CodeInvalidArgument, "implicit key requires source id, target type and target id")
	}

	doc, err := s.store.GetDocument(ctx, docstore.Doc(tenantID, key.SourceType.Collection(), key.SourceID))
	if err != nil {
		return models.MutationResult{}, wrapError(CodeQueryFailed, err, "failed to resolve source entity %s", key.SourceID)
	}
	if doc == nil {
		return models.MutationResult{}, newError(CodeSourceEntityUnresolved, "%s %s not found", key.SourceType, key.SourceID)
	}
	return s.deleteImplicit(ctx, tenantID, key.SourceType, *doc, key.Field, key.TargetType, key.TargetID)
}

func (s *Service) deleteImplicit(ctx context.Context, tenantID string, kind models.EntityKind, doc docstore.Document, field string, targetType models.EntityKind, targetID string) (result models.MutationResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "associations.Service.deleteImplicit")
	defer span.End()
	defer func() {
		tracing.RecordError(span, err)
		metrics.RecordMutation("delete", string(models.OriginImplicit), err)
	}()

	candidates := s.keys.FieldsFor(kind, targetType)
	if field != "" {
		candidates = ectolinq.Filter(candidates, func(fk models.ForeignKey) bool { return fk.Field == field })
		if len(candidates) == 0 {
			return result, newError(CodeUnsupportedAssociationType, "%s.%s is not a foreign key field for %s", kind, field, targetType)
		}
	}
	if len(candidates) == 0 {
		return result, newError(CodeUnsupportedAssociationType, "%s has no foreign key field for %s", kind, targetType)
	}

	var (
		fk      models.ForeignKey
		value   any
		matched bool
	)
	for _, candidate := range candidates {
		if v, changed := clearForeignKey(doc.Data[candidate.Field], candidate.Multi, targetID); changed {
			fk, value, matched = candidate, v, true
			break
		}
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"source":    models.EntityRef{Type: kind, ID: doc.ID}.String(),
		"target":    models.EntityRef{Type: targetType, ID: targetID}.String(),
	})
	if !matched {
		log.Debug("No foreign key field holds the target")
		return result, newError(CodeAssociationNotFound, "%s %s does not reference %s %s", kind, doc.ID, targetType, targetID)
	}

	key := models.ImplicitKey{
		SourceType: kind,
		SourceID:   doc.ID,
		Field:      fk.Field,
		Multi:      fk.Multi,
		TargetType: targetType,
		TargetID:   targetID,
	}
	log = log.WithField("field", fk.Field)
	result = models.MutationResult{ID: key.ID()}

	path := docstore.Doc(tenantID, kind.Collection(), doc.ID)
	if err := s.store.UpdateDocument(ctx, path, map[string]any{fk.Field: value}); err != nil {
		log.WithError(err).Error("Failed to clear foreign key")
		return result, wrapError(CodeQueryFailed, err, "failed to update %s", path)
	}
	log.Debug("Cleared foreign key for implicit association")

	now := s.now().UTC()
	source := models.EntityRef{Type: kind, ID: doc.ID}
	target := models.EntityRef{Type: targetType, ID: targetID}
	s.invalidate(ctx, tenantID, source, target)
	s.notify(ctx, &result, tenantID, ChangeDeleted, models.Association{
		ID:               key.ID(),
		Origin:           models.OriginImplicit,
		SourceEntityType: kind,
		SourceEntityID:   doc.ID,
		TargetEntityType: targetType,
		TargetEntityID:   targetID,
		AssociationType:  models.AssociationPrimary,
		Strength:         models.StrengthMedium,
		TenantID:         tenantID,
		Implicit:         &key,
	}, ctxmiddleware.GetUserID(ctx), now)
	return result, nil
}

// clearForeignKey removes targetID from an array field or nulls a scalar field that holds it.
func clearForeignKey(current any, multi bool, targetID string) (any, bool) {
	if multi {
		var items []any
		switch values := current.(type) {
		case []any:
			items = values
		case []string:
			for _, v := range values {
				items = append(items, v)
			}
		default:
			return current, false
		}
		kept := make([]any, 0, len(items))
		for _, item := range items {
			if id, ok := item.(string); ok && id == targetID {
				continue
			}
			kept = append(kept, item)
		}
		return kept, len(kept) != len(items)
	}

	if id, ok := current.(string); ok && id == targetID {
		return nil, true
	}
	return current, false
}

func (s *Service) ensureEntitiesExist(ctx context.Context, tenantID string, refs ...models.EntityRef) error {
	found := make([]bool, len(refs))
	g, gCtx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			doc, err := s.store.GetDocument(gCtx, docstore.Doc(tenantID, ref.Type.Collection(), ref.ID))
			if err != nil {
				return err
			}
			found[i] = doc != nil
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to check entity existence")
		return wrapError(CodeQueryFailed, err, "failed to read entities")
	}
	if i := slices.Index(found, false); i >= 0 {
		return newError(CodeEntityNotFound, "%s %s does not exist", refs[i].Type, refs[i].ID)
	}
	return nil
}

func (s *Service) adjustCounters(ctx context.Context, result *models.MutationResult, tenantID string, source, target models.EntityRef, delta int) {
	if s.counters == nil {
		return
	}
	if err := s.counters.AdjustCount(ctx, tenantID, source, target.Type, delta); err != nil {
		s.recordSideEffect(ctx, result, models.SideEffectCounter, &source, err)
	}
	if err := s.counters.AdjustCount(ctx, tenantID, target, source.Type, delta); err != nil {
		s.recordSideEffect(ctx, result, models.SideEffectCounter, &target, err)
	}
}

func (s *Service) invalidate(ctx context.Context, tenantID string, refs ...models.EntityRef) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, tenantID, refs...)
	}
}

func (s *Service) notify(ctx context.Context, result *models.MutationResult, tenantID string, kind ChangeKind, a models.Association, actor string, at time.Time) {
	change := Change{
		Kind:        kind,
		TenantID:    tenantID,
		Association: a,
		Actor:       actor,
		OccurredAt:  at,
	}
	for _, o := range s.observers {
		if err := o.AssociationChanged(ctx, change); err != nil {
			s.recordSideEffect(ctx, result, o.Effect(), nil, err)
		}
	}
}

func (s *Service) recordSideEffect(ctx context.Context, result *models.MutationResult, effect models.SideEffect, entity *models.EntityRef, err error) {
	metrics.RecordSideEffectFailure(string(effect))
	fields := map[string]any{
		"association_id": result.ID,
		"effect":         effect,
	}
	if entity != nil {
		fields["entity"] = entity.String()
	}
	s.logger.WithContext(ctx).WithFields(fields).WithError(err).Warn("Association side effect failed")
	result.SideEffects = append(result.SideEffects, models.SideEffectError{
		Effect: effect,
		Entity: entity,
		Error:  err.Error(),
	})
}

func validateCreate(tenantID string, req models.CreateAssociationRequest) error {
	if tenantID == "" {
		return newError(CodeInvalidArgument, "tenant id is required")
	}
	if !req.SourceEntityType.Valid() {
		return newError(CodeInvalidArgument, "unknown source entity type %q", req.SourceEntityType)
	}
	if !req.TargetEntityType.Valid() {
		return newError(CodeInvalidArgument, "unknown target entity type %q", req.TargetEntityType)
	}
	if req.SourceEntityID == "" || req.TargetEntityID == "" {
		return newError(CodeInvalidArgument, "source and target entity ids are required")
	}
	if !req.AssociationType.Valid() {
		return newError(CodeInvalidArgument, "unknown association type %q", req.AssociationType)
	}
	if req.Strength != "" && !req.Strength.Valid() {
		return newError(CodeInvalidArgument, "unknown strength %q", req.Strength)
	}
	return nil
}
