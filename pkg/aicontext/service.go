// Package aicontext assembles the association neighbourhood of an entity for AI prompts.
package aicontext

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/pkg/associations"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Config contains configuration for context expansion.
type Config struct {
	// Concurrency bounds the second hop queries in flight for deep expansion.
	Concurrency int
}

func DefaultConfig() Config {
	return Config{Concurrency: 8}
}

type Service struct {
	querier associations.Querier
	logger  ectologger.Logger
	cfg     Config
}

func NewService(querier associations.Querier, logger ectologger.Logger, cfg Config) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	return &Service{
		querier: querier,
		logger:  logger,
		cfg:     cfg,
	}
}

// GetAIContext returns the direct associations of ref and, for deep expansion, the associations
// of every entity one hop away. Shallow and medium expansion leave indirect empty.
func (s *Service) GetAIContext(ctx context.Context, tenantID string, ref models.EntityRef, depth models.ContextDepth) (*models.AIContext, error) {
	ctx, span := tracing.StartSpan(ctx, "aicontext.Service.GetAIContext")
	defer span.End()
	tracing.SetEntity(span, tenantID, string(ref.Type), ref.ID)

	if depth == "" {
		depth = models.DepthShallow
	}

	direct, err := s.querier.Query(ctx, tenantID, models.QueryOptions{EntityType: ref.Type, EntityID: ref.ID})
	if err != nil {
		return nil, err
	}

	indirect := models.EmptyResult()
	if depth == models.DepthDeep {
		indirect = s.expand(ctx, tenantID, ref, direct.Associations)
	}

	return &models.AIContext{
		Entity:   ref,
		Depth:    depth,
		Direct:   *direct,
		Indirect: indirect,
		Summary:  summarize(ref, depth, *direct, indirect),
	}, nil
}

// expand queries every distinct neighbour once. A failing neighbour is logged and skipped.
func (s *Service) expand(ctx context.Context, tenantID string, origin models.EntityRef, direct []models.Association) models.AssociationResult {
	ctx, span := tracing.StartSpan(ctx, "aicontext.Service.expand")
	defer span.End()

	var neighbours []models.EntityRef
	seen := map[models.EntityRef]struct{}{origin: {}}
	for _, a := range direct {
		other := a.Other(origin)
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		neighbours = append(neighbours, other)
	}

	results := make([]*models.AssociationResult, len(neighbours))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, n := range neighbours {
		g.Go(func() error {
			result, err := s.querier.Query(ctx, tenantID, models.QueryOptions{EntityType: n.Type, EntityID: n.ID})
			if err != nil {
				s.logger.WithContext(ctx).WithFields(map[string]any{
					"tenant_id":   tenantID,
					"entity_type": n.Type,
					"entity_id":   n.ID,
				}).WithError(err).Warn("Failed to expand second hop context")
				return nil
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()

	return mergeIndirect(origin, results)
}

// mergeIndirect keeps second hop associations and entities that do not involve origin, each
// deduplicated.
func mergeIndirect(origin models.EntityRef, results []*models.AssociationResult) models.AssociationResult {
	merged := models.EmptyResult()
	seenAssociations := map[string]struct{}{}
	seenEntities := map[models.EntityRef]struct{}{origin: {}}

	for _, result := range results {
		if result == nil {
			continue
		}
		away := ectolinq.Filter(result.Associations, func(a models.Association) bool {
			return a.Source() != origin && a.Target() != origin
		})
		for _, a := range away {
			if _, ok := seenAssociations[a.ID]; ok {
				continue
			}
			seenAssociations[a.ID] = struct{}{}
			merged.Associations = append(merged.Associations, a)
		}

		for bucket, docs := range result.Entities {
			for _, doc := range docs {
				ref := models.EntityRef{Type: doc.Type, ID: doc.ID}
				if _, ok := seenEntities[ref]; ok {
					continue
				}
				seenEntities[ref] = struct{}{}
				merged.Entities[bucket] = append(merged.Entities[bucket], doc)
			}
		}
	}

	merged.Summary = models.NewSummary(merged.Associations)
	return merged
}

func summarize(ref models.EntityRef, depth models.ContextDepth, direct, indirect models.AssociationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s has %d direct associations", ref, len(direct.Associations))
	if pairs := typePairs(direct.Summary); pairs != "" {
		fmt.Fprintf(&b, " (%s)", pairs)
	}
	b.WriteString(".")

	if depth != models.DepthDeep {
		return b.String()
	}
	fmt.Fprintf(&b, " %d indirect associations", len(indirect.Associations))
	if pairs := typePairs(indirect.Summary); pairs != "" {
		fmt.Fprintf(&b, " (%s)", pairs)
	}
	b.WriteString(".")
	return b.String()
}

func typePairs(s models.Summary) string {
	pairs := make([]string, 0, len(s.ByType))
	for pair := range s.ByType {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ", ")
}
