package models

import (
	"fmt"
	"strings"
)

const implicitIDPrefix = "implicit_"

// ImplicitKey locates the foreign key field an implicit association was derived from.
type ImplicitKey struct {
	SourceType EntityKind `json:"sourceType"`
	SourceID   string     `json:"sourceId"`
	Field      string     `json:"field"`
	Multi      bool       `json:"multi,omitempty"`
	TargetType EntityKind `json:"targetType"`
	TargetID   string     `json:"targetId"`
}

// ID is the wire id, implicit_<sourceId>_<targetType>_<targetId>.
func (k ImplicitKey) ID() string {
	return ImplicitID(k.SourceID, k.TargetType, k.TargetID)
}

func ImplicitID(sourceID string, targetType EntityKind, targetID string) string {
	return fmt.Sprintf("%s%s_%s_%s", implicitIDPrefix, sourceID, targetType, targetID)
}

// ImplicitRef is what can be recovered from an implicit wire id. The source kind is not encoded.
type ImplicitRef struct {
	SourceID   string
	TargetType EntityKind
	TargetID   string
}

// ParseImplicitID decodes an implicit wire id. The split happens at the first _<kind>_ segment,
// so a source id may not itself contain one.
func ParseImplicitID(id string) (ImplicitRef, error) {
	rest, ok := strings.CutPrefix(id, implicitIDPrefix)
	if !ok {
		return ImplicitRef{}, fmt.Errorf("%q is not an implicit association id", id)
	}

	best := -1
	var bestKind EntityKind
	for _, kind := range AllEntityKinds() {
		marker := "_" + string(kind) + "_"
		idx := strings.Index(rest, marker)
		if idx > 0 && (best == -1 || idx < best) {
			best = idx
			bestKind = kind
		}
	}
	if best == -1 {
		return ImplicitRef{}, fmt.Errorf("%q does not name a known target type", id)
	}

	targetID := rest[best+len(bestKind)+2:]
	if targetID == "" {
		return ImplicitRef{}, fmt.Errorf("%q has an empty target id", id)
	}

	return ImplicitRef{
		SourceID:   rest[:best],
		TargetType: bestKind,
		TargetID:   targetID,
	}, nil
}

// ParseImplicitIDWithSource decodes an implicit wire id whose source id is already known, which
// lifts the restriction ParseImplicitID places on source ids.
func ParseImplicitIDWithSource(id, sourceID string) (ImplicitRef, error) {
	rest, ok := strings.CutPrefix(id, implicitIDPrefix+sourceID+"_")
	if !ok || sourceID == "" {
		return ImplicitRef{}, fmt.Errorf("%q is not an implicit association id of %q", id, sourceID)
	}
	for _, kind := range AllEntityKinds() {
		targetID, ok := strings.CutPrefix(rest, string(kind)+"_")
		if !ok {
			continue
		}
		if targetID == "" {
			return ImplicitRef{}, fmt.Errorf("%q has an empty target id", id)
		}
		return ImplicitRef{SourceID: sourceID, TargetType: kind, TargetID: targetID}, nil
	}
	return ImplicitRef{}, fmt.Errorf("%q does not name a known target type", id)
}
