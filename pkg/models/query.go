package models

import (
	"fmt"
	"slices"
	"strings"
)

// QueryOptions is the public query surface of the association engine.
type QueryOptions struct {
	EntityType EntityKind `json:"entityType" validate:"required"`
	EntityID   string     `json:"entityId" validate:"required"`
	AssociationFilter
	// IncludeMetadata defaults to true when nil.
	IncludeMetadata *bool `json:"includeMetadata,omitempty"`
	// Limit caps each explicit listing. Zero means no limit.
	Limit int `json:"limit,omitempty" validate:"gte=0"`
}

func (o QueryOptions) Entity() EntityRef {
	return EntityRef{Type: o.EntityType, ID: o.EntityID}
}

func (o QueryOptions) WantsMetadata() bool {
	return o.IncludeMetadata == nil || *o.IncludeMetadata
}

// CanonicalKey renders the options deterministically, independent of filter order.
func (o QueryOptions) CanonicalKey() string {
	targets := make([]string, 0, len(o.TargetTypes))
	for _, t := range o.TargetTypes {
		targets = append(targets, string(t))
	}
	types := make([]string, 0, len(o.AssociationTypes))
	for _, t := range o.AssociationTypes {
		types = append(types, string(t))
	}
	strengths := make([]string, 0, len(o.Strengths))
	for _, s := range o.Strengths {
		strengths = append(strengths, string(s))
	}
	slices.Sort(targets)
	slices.Sort(types)
	slices.Sort(strengths)

	return fmt.Sprintf("t=%s;a=%s;s=%s;m=%t;l=%d",
		strings.Join(slices.Compact(targets), ","),
		strings.Join(slices.Compact(types), ","),
		strings.Join(slices.Compact(strengths), ","),
		o.WantsMetadata(),
		o.Limit,
	)
}

// EntityDocument is a resolved entity.
type EntityDocument struct {
	ID   string         `json:"id"`
	Type EntityKind     `json:"type"`
	Data map[string]any `json:"data"`
}

type Summary struct {
	TotalAssociations int            `json:"totalAssociations"`
	ByType            map[string]int `json:"byType"`
	ByStrength        map[string]int `json:"byStrength"`
}

// AssociationResult is the assembled answer to a query. Entities are bucketed by plural kind.
type AssociationResult struct {
	Associations []Association               `json:"associations"`
	Entities     map[string][]EntityDocument `json:"entities"`
	Summary      Summary                     `json:"summary"`
}

// NewSummary counts associations by "source→target" and "source→target (strength)".
func NewSummary(associations []Association) Summary {
	s := Summary{
		TotalAssociations: len(associations),
		ByType:            map[string]int{},
		ByStrength:        map[string]int{},
	}
	for _, a := range associations {
		pair := a.TypePair()
		s.ByType[pair]++
		s.ByStrength[fmt.Sprintf("%s (%s)", pair, a.Strength)]++
	}
	return s
}

// EmptyResult is a result with no associations.
func EmptyResult() AssociationResult {
	return AssociationResult{
		Associations: []Association{},
		Entities:     map[string][]EntityDocument{},
		Summary:      NewSummary(nil),
	}
}
