package associations

import (
	"context"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/internal/repositories/association"
	"github.com/Ramsey-B/fern/pkg/docstore"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Querier answers association queries. The cache layer and context expansion depend on this.
type Querier interface {
	Query(ctx context.Context, tenantID string, opts models.QueryOptions) (*models.AssociationResult, error)
}

// Records is the explicit association persistence the engine reads and writes through.
type Records interface {
	Get(ctx context.Context, tenantID, id string) (*models.Association, error)
	Find(ctx context.Context, tenantID string, source, target models.EntityRef) (*models.Association, error)
	List(ctx context.Context, tenantID string, ref models.EntityRef, side association.Side, filter models.AssociationFilter, limit int) ([]models.Association, error)
	Insert(ctx context.Context, a models.Association) error
	Update(ctx context.Context, tenantID, id string, fields map[string]any) error
	Delete(ctx context.Context, tenantID, id string) error
}

// QueryConfig contains configuration for the query engine.
type QueryConfig struct {
	// ReverseImplicitScan also derives implicit associations held by other entities that point at
	// the queried one.
	ReverseImplicitScan bool
}

func DefaultQueryConfig() QueryConfig {
	return QueryConfig{ReverseImplicitScan: true}
}

// QueryEngine combines explicit and implicit associations for an entity and resolves the
// entities they reference.
type QueryEngine struct {
	records Records
	deriver *Deriver
	store   docstore.Store
	logger  ectologger.Logger
	cfg     QueryConfig
}

func NewQueryEngine(records Records, deriver *Deriver, store docstore.Store, logger ectologger.Logger, cfg QueryConfig) *QueryEngine {
	return &QueryEngine{
		records: records,
		deriver: deriver,
		store:   store,
		logger:  logger,
		cfg:     cfg,
	}
}

func (e *QueryEngine) Query(ctx context.Context, tenantID string, opts models.QueryOptions) (result *models.AssociationResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "associations.QueryEngine.Query")
	defer span.End()
	tracing.SetEntity(span, tenantID, string(opts.EntityType), opts.EntityID)

	start := time.Now()
	defer func() {
		tracing.RecordError(span, err)
		metrics.RecordQuery(string(opts.EntityType), err, time.Since(start).Seconds())
	}()

	if err := validateQuery(tenantID, opts); err != nil {
		return nil, err
	}

	self := opts.Entity()
	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":   tenantID,
		"entity_type": self.Type,
		"entity_id":   self.ID,
	})

	var asSource, asTarget []models.Association
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		asSource, err = e.records.List(gCtx, tenantID, self, association.SideSource, opts.AssociationFilter, opts.Limit)
		return err
	})
	g.Go(func() error {
		var err error
		asTarget, err = e.records.List(gCtx, tenantID, self, association.SideTarget, opts.AssociationFilter, opts.Limit)
		return err
	})
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Failed to list explicit associations")
		return nil, wrapError(CodeQueryFailed, err, "failed to list associations for %s", self)
	}

	implicit, err := e.deriver.Derive(ctx, tenantID, self)
	if err != nil {
		log.WithError(err).Error("Failed to derive implicit associations")
		return nil, wrapError(CodeQueryFailed, err, "failed to derive implicit associations for %s", self)
	}

	if e.cfg.ReverseImplicitScan {
		reverse, err := e.deriver.DeriveReverse(ctx, tenantID, self)
		if err != nil {
			log.WithError(err).Warn("Reverse implicit scan failed, returning partial implicit associations")
		} else {
			implicit = append(implicit, reverse...)
		}
	}

	implicit = ectolinq.Filter(implicit, func(a models.Association) bool {
		return opts.AssociationFilter.Matches(a, self)
	})

	combined := make([]models.Association, 0, len(asSource)+len(asTarget)+len(implicit))
	combined = append(combined, asSource...)
	combined = append(combined, asTarget...)
	combined = append(combined, implicit...)
	combined = dedupeByID(combined)

	if !opts.WantsMetadata() {
		for i := range combined {
			combined[i].Metadata = nil
		}
	}

	entities := e.resolveEntities(ctx, tenantID, combined)

	log.WithFields(map[string]any{
		"explicit": len(asSource) + len(asTarget),
		"implicit": len(implicit),
		"total":    len(combined),
	}).Debug("Assembled association result")

	return &models.AssociationResult{
		Associations: combined,
		Entities:     entities,
		Summary:      models.NewSummary(combined),
	}, nil
}

func validateQuery(tenantID string, opts models.QueryOptions) error {
	if tenantID == "" {
		return newError(CodeInvalidArgument, "tenant id is required")
	}
	if !opts.EntityType.Valid() {
		return newError(CodeInvalidArgument, "unknown entity type %q", opts.EntityType)
	}
	if opts.EntityID == "" {
		return newError(CodeInvalidArgument, "entity id is required")
	}
	if opts.Limit < 0 {
		return newError(CodeInvalidArgument, "limit must not be negative")
	}
	for _, t := range opts.TargetTypes {
		if !t.Valid() {
			return newError(CodeInvalidArgument, "unknown target type %q", t)
		}
	}
	for _, t := range opts.AssociationTypes {
		if !t.Valid() {
			return newError(CodeInvalidArgument, "unknown association type %q", t)
		}
	}
	for _, s := range opts.Strengths {
		if !s.Valid() {
			return newError(CodeInvalidArgument, "unknown strength %q", s)
		}
	}
	return nil
}

// resolveEntities batch reads every referenced entity, one read per kind in parallel. Missing
// entities and failed buckets are logged and left out.
func (e *QueryEngine) resolveEntities(ctx context.Context, tenantID string, associations []models.Association) map[string][]models.EntityDocument {
	ctx, span := tracing.StartSpan(ctx, "associations.QueryEngine.resolveEntities")
	defer span.End()

	buckets := map[models.EntityKind][]string{}
	seen := map[models.EntityRef]struct{}{}
	for _, a := range associations {
		for _, ref := range []models.EntityRef{a.Source(), a.Target()} {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			buckets[ref.Type] = append(buckets[ref.Type], ref.ID)
		}
	}

	kinds := make([]models.EntityKind, 0, len(buckets))
	for _, kind := range models.AllEntityKinds() {
		if _, ok := buckets[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	resolved := make([][]models.EntityDocument, len(kinds))

	// Bucket failures never fail the query, so a plain errgroup without a shared context is used.
	var g errgroup.Group
	for i, kind := range kinds {
		g.Go(func() error {
			ids := buckets[kind]
			log := e.logger.WithContext(ctx).WithFields(map[string]any{
				"tenant_id":   tenantID,
				"entity_type": kind,
			})

			docs, err := e.store.GetDocuments(ctx, docstore.Collection(tenantID, kind.Collection()), ids)
			if err != nil {
				log.WithError(err).Warn("Failed to resolve entity bucket")
				return nil
			}

			var missing []string
			for _, id := range ids {
				doc, ok := docs[id]
				if !ok {
					missing = append(missing, id)
					continue
				}
				resolved[i] = append(resolved[i], models.EntityDocument{ID: id, Type: kind, Data: doc.Data})
			}
			if len(missing) > 0 {
				metrics.RecordUnresolvedEntities(string(kind), len(missing))
				log.WithField("missing_ids", missing).Warn("Referenced entities not found")
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string][]models.EntityDocument, len(kinds))
	for i, kind := range kinds {
		if len(resolved[i]) > 0 {
			out[kind.Plural()] = resolved[i]
		}
	}
	return out
}
