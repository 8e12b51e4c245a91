package models

import "fmt"

// ContextDepth controls how far context expansion walks the association graph.
type ContextDepth string

const (
	DepthShallow ContextDepth = "shallow"
	DepthMedium  ContextDepth = "medium"
	DepthDeep    ContextDepth = "deep"
)

func ParseContextDepth(value string) (ContextDepth, error) {
	switch d := ContextDepth(value); d {
	case DepthShallow, DepthMedium, DepthDeep:
		return d, nil
	case "":
		return DepthShallow, nil
	}
	return "", fmt.Errorf("unknown depth %q", value)
}

// AIContext is the direct and second-hop neighbourhood of an entity.
type AIContext struct {
	Entity   EntityRef         `json:"entity"`
	Depth    ContextDepth      `json:"depth"`
	Direct   AssociationResult `json:"direct"`
	Indirect AssociationResult `json:"indirect"`
	Summary  string            `json:"summary"`
}
