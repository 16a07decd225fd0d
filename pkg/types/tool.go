package types

import (
	"context"

	"github.com/zhy0216/toolbox/pkg/schema"
)

// Kind tags the execution style of a tool.
type Kind string

const (
	// KindFunction tools take structured arguments and dispatch on them.
	KindFunction Kind = "function"
	// KindCommand tools take a freeform command string (e.g. a shell line).
	KindCommand Kind = "command"
)

// Tool is the interface that all tools must implement.
//
// Description and Schema must be pure and deterministic. Execute must not
// panic: internal faults are reported through a ToolResult with a non-empty
// Error. Callers validate required and enum-constrained arguments before
// calling Execute.
type Tool interface {
	Name() string
	Kind() Kind
	Description() string
	Schema() schema.Schema
	Execute(ctx context.Context, args map[string]any) *ToolResult
}

// Describe exports t in the given representation.
func Describe(t Tool, family schema.Family) schema.Descriptor {
	return schema.Export(family, t.Name(), t.Description(), t.Schema())
}
