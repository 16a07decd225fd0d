package schema

import (
	"fmt"
	"strings"
)

// Family selects which wire representation tool descriptors are exported in.
type Family string

const (
	// Structured descriptors carry the tool name both at the top
	// level and inside "function". Used by Anthropic-family boundaries.
	Structured Family = "structured"
	// Generic is the plain function-calling shape used by
	// OpenAI-compatible boundaries.
	Generic Family = "generic"
)

// ParseFamily accepts a family name or a provider name.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "structured", "anthropic":
		return Structured, nil
	case "generic", "openai", "":
		return Generic, nil
	}
	return "", fmt.Errorf("unknown schema family %q (want structured or generic)", s)
}

// Function is the "function" object of a descriptor.
type Function struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

// Descriptor is one exported tool definition. Name is only populated in the
// Structured representation.
type Descriptor struct {
	Type     string   `json:"type"`
	Name     string   `json:"name,omitempty"`
	Function Function `json:"function"`
}

// ExportStructured names the tool at the top level and inside function.
func ExportStructured(name, description string, s Schema) Descriptor {
	return Descriptor{
		Type: "function",
		Name: name,
		Function: Function{
			Name:        name,
			Description: description,
			Parameters:  s.Parameters(),
		},
	}
}

// ExportGeneric names the tool only inside function.
func ExportGeneric(name, description string, s Schema) Descriptor {
	return Descriptor{
		Type: "function",
		Function: Function{
			Name:        name,
			Description: description,
			Parameters:  s.Parameters(),
		},
	}
}

// Export dispatches on family. Unknown families fall back to Generic.
func Export(family Family, name, description string, s Schema) Descriptor {
	if family == Structured {
		return ExportStructured(name, description, s)
	}
	return ExportGeneric(name, description, s)
}
