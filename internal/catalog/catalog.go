// Package catalog defines the Agent Catalog consumed by the engine.
package catalog

import (
	"context"

	"github.com/rendis/relay/pkg/schema"
)

// Catalog resolves agent IDs to their definitions. The engine only reads
// definitions; ownership of the catalog lives outside the engine.
// Implementations return a NOT_FOUND RelayError for unknown IDs.
type Catalog interface {
	GetAgent(ctx context.Context, id string) (*schema.AgentDefinition, error)
}

// Static is an in-memory Catalog built from configuration. Immutable after
// construction, so safe for concurrent use.
type Static struct {
	agents map[string]schema.AgentDefinition
}

// NewStatic creates a Static catalog from the given definitions.
func NewStatic(defs []schema.AgentDefinition) *Static {
	agents := make(map[string]schema.AgentDefinition, len(defs))
	for _, d := range defs {
		agents[d.ID] = d
	}
	return &Static{agents: agents}
}

// GetAgent returns the definition for id.
func (c *Static) GetAgent(ctx context.Context, id string) (*schema.AgentDefinition, error) {
	d, ok := c.agents[id]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeNotFound, "agent not found: "+id)
	}
	return &d, nil
}

var _ Catalog = (*Static)(nil)
