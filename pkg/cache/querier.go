package cache

import (
	"context"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/associations"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// CachedQuerier serves repeated association queries from a cache and drops the cached results
// of an entity when one of its associations changes.
type CachedQuerier struct {
	next    associations.Querier
	cache   Cache[*models.AssociationResult]
	backend string
	logger  ectologger.Logger
}

var (
	_ associations.Querier     = (*CachedQuerier)(nil)
	_ associations.Invalidator = (*CachedQuerier)(nil)
)

// NewCachedQuerier wraps next. backend labels the cache metrics ("memory", "redis").
func NewCachedQuerier(next associations.Querier, cache Cache[*models.AssociationResult], backend string, logger ectologger.Logger) *CachedQuerier {
	return &CachedQuerier{
		next:    next,
		cache:   cache,
		backend: backend,
		logger:  logger,
	}
}

// EntityKey is the key prefix shared by every cached query of one entity.
func EntityKey(tenantID string, ref models.EntityRef) string {
	return strings.Join([]string{tenantID, string(ref.Type), ref.ID}, ":") + "|"
}

// QueryKey is the cache key of one query.
func QueryKey(tenantID string, opts models.QueryOptions) string {
	return EntityKey(tenantID, opts.Entity()) + opts.CanonicalKey()
}

func (q *CachedQuerier) Query(ctx context.Context, tenantID string, opts models.QueryOptions) (*models.AssociationResult, error) {
	ctx, span := tracing.StartSpan(ctx, "cache.CachedQuerier.Query")
	defer span.End()

	key := QueryKey(tenantID, opts)
	log := q.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"cache_key": key,
		"backend":   q.backend,
	})

	cached, ok, err := q.cache.Get(ctx, key)
	if err != nil {
		log.WithError(err).Warn("Failed to read association cache")
	}
	metrics.RecordCacheLookup(q.backend, ok)
	if ok && cached != nil {
		log.Debug("Association cache hit")
		return cached, nil
	}
	log.Debug("Association cache miss")

	result, err := q.next.Query(ctx, tenantID, opts)
	if err != nil {
		return nil, err
	}
	if err := q.cache.Set(ctx, key, result); err != nil {
		log.WithError(err).Warn("Failed to write association cache")
	}
	return result, nil
}

func (q *CachedQuerier) Invalidate(ctx context.Context, tenantID string, refs ...models.EntityRef) {
	for _, ref := range refs {
		if err := q.cache.DeletePrefix(ctx, EntityKey(tenantID, ref)); err != nil {
			q.logger.WithContext(ctx).WithFields(map[string]any{
				"tenant_id":   tenantID,
				"entity_type": ref.Type,
				"entity_id":   ref.ID,
			}).WithError(err).Warn("Failed to invalidate association cache")
		}
	}
}
