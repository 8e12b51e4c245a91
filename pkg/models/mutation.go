package models

// CreateAssociationRequest links two entities. Creating an existing pair updates it.
type CreateAssociationRequest struct {
	SourceEntityType EntityKind      `json:"sourceEntityType" validate:"required"`
	SourceEntityID   string          `json:"sourceEntityId" validate:"required"`
	TargetEntityType EntityKind      `json:"targetEntityType" validate:"required"`
	TargetEntityID   string          `json:"targetEntityId" validate:"required"`
	AssociationType  AssociationType `json:"associationType" validate:"required,oneof=primary secondary reporting collaboration ownership influence"`
	Role             string          `json:"role,omitempty"`
	Strength         Strength        `json:"strength,omitempty" validate:"omitempty,oneof=weak medium strong"`
	Metadata         *Metadata       `json:"metadata,omitempty"`
}

// UpdateAssociationRequest carries only the fields to change. Nil fields are left alone.
type UpdateAssociationRequest struct {
	AssociationType *AssociationType `json:"associationType,omitempty" validate:"omitempty,oneof=primary secondary reporting collaboration ownership influence"`
	Role            *string          `json:"role,omitempty"`
	Strength        *Strength        `json:"strength,omitempty" validate:"omitempty,oneof=weak medium strong"`
	Metadata        *Metadata        `json:"metadata,omitempty"`
}

func (r UpdateAssociationRequest) IsEmpty() bool {
	return r.AssociationType == nil && r.Role == nil && r.Strength == nil && r.Metadata == nil
}

// SideEffect names an advisory write that runs after a mutation.
type SideEffect string

const (
	SideEffectCounter SideEffect = "counter"
	SideEffectEvent   SideEffect = "event"
	SideEffectGraph   SideEffect = "graph"
)

// SideEffectError records an advisory write that failed while the primary operation succeeded.
type SideEffectError struct {
	Effect SideEffect `json:"effect"`
	Entity *EntityRef `json:"entity,omitempty"`
	Error  string     `json:"error"`
}

// MutationResult reports the outcome of a write. Created is true only when a new record was inserted.
type MutationResult struct {
	ID          string            `json:"id"`
	Created     bool              `json:"created"`
	SideEffects []SideEffectError `json:"sideEffects,omitempty"`
}

func (r MutationResult) HasSideEffectFailures() bool {
	return len(r.SideEffects) > 0
}
