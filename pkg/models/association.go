package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// AssociationType is the semantic category of a link.
type AssociationType string

const (
	AssociationPrimary       AssociationType = "primary"
	AssociationSecondary     AssociationType = "secondary"
	AssociationReporting     AssociationType = "reporting"
	AssociationCollaboration AssociationType = "collaboration"
	AssociationOwnership     AssociationType = "ownership"
	AssociationInfluence     AssociationType = "influence"
)

func (t AssociationType) Valid() bool {
	switch t {
	case AssociationPrimary, AssociationSecondary, AssociationReporting,
		AssociationCollaboration, AssociationOwnership, AssociationInfluence:
		return true
	}
	return false
}

// Strength is the confidence or importance of a link.
type Strength string

const (
	StrengthWeak   Strength = "weak"
	StrengthMedium Strength = "medium"
	StrengthStrong Strength = "strong"
)

func (s Strength) Valid() bool {
	switch s {
	case StrengthWeak, StrengthMedium, StrengthStrong:
		return true
	}
	return false
}

// Origin tells whether an association is a stored record or was derived from a foreign key.
type Origin string

const (
	OriginExplicit Origin = "explicit"
	OriginImplicit Origin = "implicit"
)

type Metadata struct {
	StartDate    string         `json:"startDate,omitempty"`
	EndDate      string         `json:"endDate,omitempty"`
	Notes        string         `json:"notes,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	CustomFields map[string]any `json:"customFields,omitempty"`
}

// Association is a typed link between two entities. Explicit associations are stored in the
// entity_associations collection. Implicit ones are synthesized from foreign keys and carry Implicit.
type Association struct {
	ID               string          `json:"id"`
	Origin           Origin          `json:"origin"`
	SourceEntityType EntityKind      `json:"sourceEntityType"`
	SourceEntityID   string          `json:"sourceEntityId"`
	TargetEntityType EntityKind      `json:"targetEntityType"`
	TargetEntityID   string          `json:"targetEntityId"`
	AssociationType  AssociationType `json:"associationType"`
	Role             string          `json:"role,omitempty"`
	Strength         Strength        `json:"strength"`
	Metadata         *Metadata       `json:"metadata,omitempty"`
	TenantID         string          `json:"tenantId"`
	CreatedAt        time.Time       `json:"createdAt,omitzero"`
	UpdatedAt        time.Time       `json:"updatedAt,omitzero"`
	CreatedBy        string          `json:"createdBy,omitempty"`
	UpdatedBy        string          `json:"updatedBy,omitempty"`
	Implicit         *ImplicitKey    `json:"implicit,omitempty"`
}

func (a Association) IsImplicit() bool {
	return a.Origin == OriginImplicit
}

// Source returns the reference of the source endpoint.
func (a Association) Source() EntityRef {
	return EntityRef{Type: a.SourceEntityType, ID: a.SourceEntityID}
}

// Target returns the reference of the target endpoint.
func (a Association) Target() EntityRef {
	return EntityRef{Type: a.TargetEntityType, ID: a.TargetEntityID}
}

// Other returns the endpoint that is not ref. When both endpoints equal ref the target is returned.
func (a Association) Other(ref EntityRef) EntityRef {
	if a.Target() == ref {
		return a.Source()
	}
	return a.Target()
}

// TypePair is the "source→target" summary key.
func (a Association) TypePair() string {
	return fmt.Sprintf("%s→%s", a.SourceEntityType, a.TargetEntityType)
}

// ToDocument renders the stored shape of an explicit association. The id lives in the path.
func (a Association) ToDocument() (map[string]any, error) {
	stored := a
	stored.ID = ""
	stored.Implicit = nil
	stored.Origin = OriginExplicit

	b, err := json.Marshal(stored)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	delete(doc, "id")
	return doc, nil
}

// AssociationFromDocument decodes a stored association document.
func AssociationFromDocument(id string, data map[string]any) (Association, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Association{}, err
	}
	var a Association
	if err := json.Unmarshal(b, &a); err != nil {
		return Association{}, fmt.Errorf("failed to decode association %s: %w", id, err)
	}
	a.ID = id
	a.Origin = OriginExplicit
	a.Implicit = nil
	return a, nil
}

// EntityRef identifies one entity within a tenant.
type EntityRef struct {
	Type EntityKind `json:"type"`
	ID   string     `json:"id"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

// Matches reports whether the association passes the filters, reading the target type relative to self.
func (f AssociationFilter) Matches(a Association, self EntityRef) bool {
	if len(f.TargetTypes) > 0 && !slices.Contains(f.TargetTypes, a.Other(self).Type) {
		return false
	}
	if len(f.AssociationTypes) > 0 && !slices.Contains(f.AssociationTypes, a.AssociationType) {
		return false
	}
	if len(f.Strengths) > 0 && !slices.Contains(f.Strengths, a.Strength) {
		return false
	}
	return true
}

// AssociationFilter holds the optional predicates of a query.
type AssociationFilter struct {
	TargetTypes      []EntityKind      `json:"targetTypes,omitempty"`
	AssociationTypes []AssociationType `json:"associationTypes,omitempty"`
	Strengths        []Strength        `json:"strength,omitempty"`
}
