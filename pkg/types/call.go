package types

import (
	"encoding/json"
	"fmt"
)

// CallRequest is one model-issued invocation. ID is the correlation token
// supplied by the model boundary and is returned unchanged.
type CallRequest struct {
	ID        string         `json:"call_id"`
	Name      string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ParseArguments decodes a raw JSON argument string as sent by providers.
// An empty string decodes to an empty map.
func ParseArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("failed to parse arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// CloneArguments returns a deep copy of args so concurrent invocations never
// share maps or slices.
func CloneArguments(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneArguments(val)
	case []any:
		dup := make([]any, len(val))
		for i, inner := range val {
			dup[i] = cloneValue(inner)
		}
		return dup
	default:
		return v
	}
}

// CallOutcome pairs a call ID with its result.
type CallOutcome struct {
	ID     string      `json:"call_id"`
	Name   string      `json:"tool_name"`
	Result *ToolResult `json:"result"`
}

// TurnOutcome holds the results of one turn in request order.
type TurnOutcome struct {
	TurnID  string        `json:"turn_id"`
	Results []CallOutcome `json:"results"`
}

// IDs returns the call IDs in outcome order.
func (o TurnOutcome) IDs() []string {
	ids := make([]string, len(o.Results))
	for i, r := range o.Results {
		ids[i] = r.ID
	}
	return ids
}
