// Package backfill rebuilds the denormalized association fields of deals from their embedded
// associations structure and pushes reverse index entries onto every referenced entity.
package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/docstore"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const DefaultBatchSize = 200

// Options select what a run touches.
type Options struct {
	TenantID string
	// DealID limits the run to one deal.
	DealID    string
	DryRun    bool
	BatchSize int
}

type Stats struct {
	DealsScanned        int  `json:"dealsScanned"`
	DealsUpdated        int  `json:"dealsUpdated"`
	ReverseIndexUpdated int  `json:"reverseIndexUpdated"`
	ReverseIndexFailed  int  `json:"reverseIndexFailed"`
	Batches             int  `json:"batches"`
	DryRun              bool `json:"dryRun"`
}

type Job struct {
	store  docstore.Store
	logger ectologger.Logger
	now    func() time.Time
}

func NewJob(store docstore.Store, logger ectologger.Logger, now func() time.Time) *Job {
	if now == nil {
		now = time.Now
	}
	return &Job{store: store, logger: logger, now: now}
}

// referenced maps each embedded list to the collection it points into.
var referenced = []struct {
	kind    models.EntityKind
	idField string
	entries func(models.DealAssociations) []models.DealAssociationEntry
}{
	{models.KindCompany, "companyIds", func(a models.DealAssociations) []models.DealAssociationEntry { return a.Companies }},
	{models.KindContact, "contactIds", func(a models.DealAssociations) []models.DealAssociationEntry { return a.Contacts }},
	{models.KindSalesperson, "salespersonIds", func(a models.DealAssociations) []models.DealAssociationEntry { return a.Salespeople }},
	{models.KindLocation, "locationIds", func(a models.DealAssociations) []models.DealAssociationEntry { return a.Locations }},
}

// Run processes every deal of the tenant, or the single deal named in opts. Deal writes are
// committed in batches and a failed commit stops the run. Reverse index failures are counted.
func (j *Job) Run(ctx context.Context, opts Options) (stats Stats, err error) {
	ctx, span := tracing.StartSpan(ctx, "backfill.Job.Run")
	defer span.End()

	if opts.TenantID == "" {
		return stats, fmt.Errorf("tenant id is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	stats.DryRun = opts.DryRun

	log := j.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": opts.TenantID,
		"dry_run":   opts.DryRun,
	})

	deals, err := j.loadDeals(ctx, opts)
	if err != nil {
		return stats, err
	}

	batch := j.store.Batch()
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if !opts.DryRun {
			if err := batch.Commit(ctx); err != nil {
				return fmt.Errorf("failed to commit deal batch %d: %w", stats.Batches+1, err)
			}
		}
		stats.Batches++
		batch = j.store.Batch()
		return nil
	}

	for _, deal := range deals {
		stats.DealsScanned++
		embedded, err := decodeAssociations(deal.Data)
		if err != nil {
			metrics.RecordBackfillDeal("invalid")
			log.WithField("deal_id", deal.ID).WithError(err).Warn("Skipping deal with unreadable associations")
			continue
		}

		if patch := dealPatch(deal.Data, embedded); len(patch) > 0 {
			batch.Update(docstore.Doc(opts.TenantID, models.KindDeal.Collection(), deal.ID), patch)
			stats.DealsUpdated++
			metrics.RecordBackfillDeal("updated")
			if batch.Len() >= opts.BatchSize {
				if err := flush(); err != nil {
					return stats, err
				}
			}
		} else {
			metrics.RecordBackfillDeal("unchanged")
		}

		updated, failed := j.pushReverseIndex(ctx, opts, deal.ID, embedded)
		stats.ReverseIndexUpdated += updated
		stats.ReverseIndexFailed += failed
	}

	if err := flush(); err != nil {
		return stats, err
	}

	log.WithFields(map[string]any{
		"deals_scanned":         stats.DealsScanned,
		"deals_updated":         stats.DealsUpdated,
		"reverse_index_updated": stats.ReverseIndexUpdated,
		"reverse_index_failed":  stats.ReverseIndexFailed,
		"batches":               stats.Batches,
	}).Info("Backfill finished")
	return stats, nil
}

func (j *Job) loadDeals(ctx context.Context, opts Options) ([]docstore.Document, error) {
	deals := docstore.Collection(opts.TenantID, models.KindDeal.Collection())
	if opts.DealID == "" {
		docs, err := j.store.ListDocuments(ctx, deals, docstore.Query{})
		if err != nil {
			return nil, fmt.Errorf("failed to list deals: %w", err)
		}
		return docs, nil
	}

	doc, err := j.store.GetDocument(ctx, deals.Doc(opts.DealID))
	if err != nil {
		return nil, fmt.Errorf("failed to read deal %s: %w", opts.DealID, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("deal %s: %w", opts.DealID, docstore.ErrNotFound)
	}
	return []docstore.Document{*doc}, nil
}

func decodeAssociations(data map[string]any) (models.DealAssociations, error) {
	var out models.DealAssociations
	raw, ok := data["associations"]
	if !ok || raw == nil {
		return out, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(encoded, &out)
	return out, err
}

// dealPatch returns the denormalized fields that differ from what the deal already holds.
func dealPatch(data map[string]any, embedded models.DealAssociations) map[string]any {
	patch := map[string]any{}
	for _, r := range referenced {
		ids := entryIDs(r.entries(embedded))
		if !slices.Equal(ids, stringList(data[r.idField])) || data[r.idField] == nil {
			patch[r.idField] = ids
		}
	}

	var primary any
	if id := primaryCompanyID(embedded.Companies); id != "" {
		primary = id
	}
	if current, ok := data["primaryCompanyId"]; !ok || current != primary {
		patch["primaryCompanyId"] = primary
	}
	return patch
}

// entryIDs is order preserving and de-duplicated.
func entryIDs(entries []models.DealAssociationEntry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" || ectolinq.Contains(ids, e.ID) {
			continue
		}
		ids = append(ids, e.ID)
	}
	return ids
}

func primaryCompanyID(companies []models.DealAssociationEntry) string {
	primary := ectolinq.Find(companies, func(e models.DealAssociationEntry) bool {
		return e.IsPrimary && e.ID != ""
	})
	if primary.ID != "" {
		return primary.ID
	}
	if ids := entryIDs(companies); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil
			}
			out = append(out, s)
		}
		return out
	}
	return nil
}

// pushReverseIndex adds the deal to associations.deals of every entity it references.
func (j *Job) pushReverseIndex(ctx context.Context, opts Options, dealID string, embedded models.DealAssociations) (updated, failed int) {
	for _, r := range referenced {
		for _, id := range entryIDs(r.entries(embedded)) {
			log := j.logger.WithContext(ctx).WithFields(map[string]any{
				"tenant_id":   opts.TenantID,
				"deal_id":     dealID,
				"entity_type": r.kind,
				"entity_id":   id,
			})

			changed, err := j.addDealReference(ctx, opts, r.kind, id, dealID)
			if err != nil {
				failed++
				log.WithError(err).Warn("Failed to update reverse index")
				continue
			}
			if changed {
				updated++
			}
		}
	}
	return updated, failed
}

func (j *Job) addDealReference(ctx context.Context, opts Options, kind models.EntityKind, entityID, dealID string) (bool, error) {
	path := docstore.Doc(opts.TenantID, kind.Collection(), entityID)
	doc, err := j.store.GetDocument(ctx, path)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, fmt.Errorf("%s %s: %w", kind, entityID, docstore.ErrNotFound)
	}

	associations, _ := doc.Data["associations"].(map[string]any)
	next := make(map[string]any, len(associations)+1)
	for k, v := range associations {
		next[k] = v
	}

	existing, _ := next["deals"].([]any)
	for _, item := range existing {
		if entry, ok := item.(map[string]any); ok && entry["id"] == dealID {
			return false, nil
		}
	}
	next["deals"] = append(existing, models.ReverseIndexEntry{ID: dealID, AddedAt: j.now().UTC()})

	if opts.DryRun {
		return true, nil
	}
	if err := j.store.UpdateDocument(ctx, path, map[string]any{"associations": next}); err != nil {
		return false, err
	}
	return true, nil
}
