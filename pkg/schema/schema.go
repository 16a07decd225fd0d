package schema

import (
	"bytes"
	"encoding/json"
)

// Type is a JSON Schema primitive type name.
type Type string

const (
	String  Type = "string"
	Integer Type = "integer"
	Number  Type = "number"
	Boolean Type = "boolean"
	Array   Type = "array"
	Object  Type = "object"
)

// Param declares a single tool parameter.
type Param struct {
	Name        string
	Type        Type
	Description string
	// Enum restricts the parameter to a discrete set of values.
	Enum     []string
	Required bool
	// Items describes the element type of an Array parameter. Name is ignored.
	Items *Param
	// Default is informational only; tools apply their own defaults.
	Default any
}

// Schema is the ordered parameter list of a tool. Declaration order is
// preserved in every exported representation.
type Schema struct {
	Params []Param
}

// New builds a Schema from params in declaration order.
func New(params ...Param) Schema {
	return Schema{Params: params}
}

// Required returns the names of required parameters in declaration order.
// The result is never nil.
func (s Schema) Required() []string {
	required := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return required
}

// Lookup returns the parameter declared under name.
func (s Schema) Lookup(name string) (Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Property is the wire form of one parameter inside "properties".
type Property struct {
	Type        Type      `json:"type"`
	Enum        []string  `json:"enum,omitempty"`
	Description string    `json:"description,omitempty"`
	Items       *Property `json:"items,omitempty"`
	Default     any       `json:"default,omitempty"`
}

// Properties is an ordered name → Property mapping. It marshals as a JSON
// object whose keys follow declaration order.
type Properties struct {
	names []string
	props map[string]Property
}

// Names returns property names in declaration order.
func (p Properties) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Get returns the property declared under name.
func (p Properties) Get(name string) (Property, bool) {
	prop, ok := p.props[name]
	return prop, ok
}

// Len reports the number of properties.
func (p Properties) Len() int { return len(p.names) }

// MarshalJSON writes the properties in declaration order.
func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range p.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(p.props[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Parameters is the JSON-Schema-like object shared by both representations.
type Parameters struct {
	Type       Type       `json:"type"`
	Properties Properties `json:"properties"`
	Required   []string   `json:"required"`
}

// Map returns the parameters as a generic map, for SDKs that take one.
// The "properties" value keeps its ordered marshaller.
func (p Parameters) Map() map[string]any {
	return map[string]any{
		"type":       string(p.Type),
		"properties": p.Properties,
		"required":   p.Required,
	}
}

// Parameters builds the canonical parameters object. Both exported
// representations are derived from this one function.
func (s Schema) Parameters() Parameters {
	props := Properties{
		names: make([]string, 0, len(s.Params)),
		props: make(map[string]Property, len(s.Params)),
	}
	for _, p := range s.Params {
		props.names = append(props.names, p.Name)
		props.props[p.Name] = toProperty(p)
	}
	return Parameters{
		Type:       Object,
		Properties: props,
		Required:   s.Required(),
	}
}

func toProperty(p Param) Property {
	prop := Property{
		Type:        p.Type,
		Description: p.Description,
		Default:     p.Default,
	}
	if len(p.Enum) > 0 {
		prop.Enum = append([]string(nil), p.Enum...)
	}
	if p.Items != nil {
		items := toProperty(*p.Items)
		prop.Items = &items
	}
	return prop
}
