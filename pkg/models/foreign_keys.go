package models

import (
	"fmt"
	"strings"
	"sync"
)

// AnyKind marks a generic foreign key entry that applies to every source kind without a specific one.
const AnyKind EntityKind = ""

// ForeignKey is one foreign-key-shaped field embedded in an entity document.
type ForeignKey struct {
	SourceKind EntityKind
	Field      string
	TargetKind EntityKind
	// Multi fields hold an array of ids.
	Multi bool
	// Derive fields produce implicit associations at query time. Other entries are only used to
	// resolve the field an implicit delete has to clear.
	Derive bool
}

func (fk ForeignKey) String() string {
	source := string(fk.SourceKind)
	if source == "" {
		source = "*"
	}
	return fmt.Sprintf("%s.%s:%s", source, fk.Field, fk.TargetKind)
}

// ForeignKeyTable is shared by the deriver and the implicit deleter.
type ForeignKeyTable struct {
	mu      sync.RWMutex
	entries []ForeignKey
}

// DefaultForeignKeys returns the built in derived fields plus the generic delete mappings.
func DefaultForeignKeys() *ForeignKeyTable {
	return NewForeignKeyTable(
		ForeignKey{SourceKind: KindCompany, Field: "salesOwnerId", TargetKind: KindSalesperson, Derive: true},
		ForeignKey{SourceKind: KindContact, Field: "companyId", TargetKind: KindCompany, Derive: true},
		ForeignKey{SourceKind: KindDeal, Field: "companyId", TargetKind: KindCompany, Derive: true},
		ForeignKey{SourceKind: KindSalesperson, Field: "companyId", TargetKind: KindCompany, Derive: true},
		ForeignKey{SourceKind: KindDivision, Field: "parentCompanyId", TargetKind: KindCompany, Derive: true},

		ForeignKey{SourceKind: AnyKind, Field: "companyId", TargetKind: KindCompany},
		ForeignKey{SourceKind: AnyKind, Field: "contactIds", TargetKind: KindContact, Multi: true},
		ForeignKey{SourceKind: AnyKind, Field: "salesOwnerId", TargetKind: KindSalesperson},
		ForeignKey{SourceKind: AnyKind, Field: "dealIds", TargetKind: KindDeal, Multi: true},
	)
}

func NewForeignKeyTable(entries ...ForeignKey) *ForeignKeyTable {
	t := &ForeignKeyTable{}
	for _, e := range entries {
		t.put(e)
	}
	return t
}

// Add registers an entry, replacing any entry with the same source kind and field.
func (t *ForeignKeyTable) Add(fk ForeignKey) error {
	if fk.SourceKind != AnyKind && !fk.SourceKind.Valid() {
		return fmt.Errorf("foreign key %s: unknown source kind %q", fk, fk.SourceKind)
	}
	if !fk.TargetKind.Valid() {
		return fmt.Errorf("foreign key %s: unknown target kind %q", fk, fk.TargetKind)
	}
	if fk.Field == "" {
		return fmt.Errorf("foreign key %s: field is required", fk)
	}
	t.put(fk)
	return nil
}

func (t *ForeignKeyTable) put(fk ForeignKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if e.SourceKind == fk.SourceKind && e.Field == fk.Field {
			t.entries[i] = fk
			return
		}
	}
	t.entries = append(t.entries, fk)
}

// Derived returns the derived fields of a source kind in registration order.
func (t *ForeignKeyTable) Derived(source EntityKind) []ForeignKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []ForeignKey
	for _, e := range t.entries {
		if e.Derive && e.SourceKind == source {
			out = append(out, e)
		}
	}
	return out
}

// PointingAt returns the derived fields of any kind that reference target.
func (t *ForeignKeyTable) PointingAt(target EntityKind) []ForeignKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []ForeignKey
	for _, e := range t.entries {
		if e.Derive && e.SourceKind != AnyKind && e.TargetKind == target {
			out = append(out, e)
		}
	}
	return out
}

// FieldFor resolves the field on a source kind that references target, preferring a kind
// specific entry over a generic one.
func (t *ForeignKeyTable) FieldFor(source, target EntityKind) (ForeignKey, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var generic *ForeignKey
	for i, e := range t.entries {
		if e.TargetKind != target {
			continue
		}
		if e.SourceKind == source {
			return e, true
		}
		if e.SourceKind == AnyKind && generic == nil {
			generic = &t.entries[i]
		}
	}
	if generic != nil {
		fk := *generic
		fk.SourceKind = source
		return fk, true
	}
	return ForeignKey{}, false
}

// FieldsFor returns every field on a source kind that references target. Kind specific
// entries come first in registration order, followed by generic entries for fields the
// kind does not already map.
func (t *ForeignKeyTable) FieldsFor(source, target EntityKind) []ForeignKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []ForeignKey
	seen := map[string]bool{}
	for _, e := range t.entries {
		if e.TargetKind == target && e.SourceKind == source {
			out = append(out, e)
			seen[e.Field] = true
		}
	}
	for _, e := range t.entries {
		if e.TargetKind == target && e.SourceKind == AnyKind && !seen[e.Field] {
			e.SourceKind = source
			out = append(out, e)
			seen[e.Field] = true
		}
	}
	return out
}

// ParseForeignKeys parses a comma separated list of kind.field:targetKind[:multi] entries.
// Parsed entries are derived.
func ParseForeignKeys(value string) ([]ForeignKey, error) {
	var out []ForeignKey
	for _, raw := range strings.Split(value, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		parts := strings.Split(raw, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("invalid foreign key %q: expected kind.field:targetKind[:multi]", raw)
		}
		sourceKind, field, ok := strings.Cut(parts[0], ".")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid foreign key %q: missing field", raw)
		}
		source, err := ParseEntityKind(sourceKind)
		if err != nil {
			return nil, fmt.Errorf("invalid foreign key %q: %w", raw, err)
		}
		target, err := ParseEntityKind(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid foreign key %q: %w", raw, err)
		}

		fk := ForeignKey{SourceKind: source, Field: field, TargetKind: target, Derive: true}
		if len(parts) == 3 {
			if parts[2] != "multi" {
				return nil, fmt.Errorf("invalid foreign key %q: unknown flag %q", raw, parts[2])
			}
			fk.Multi = true
		}
		out = append(out, fk)
	}
	return out, nil
}
