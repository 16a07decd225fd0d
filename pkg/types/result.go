package types

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Media is an optional binary payload attached to a result, such as a
// screenshot.
type Media struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Base64 returns the payload encoded for wire formats that carry images inline.
func (m *Media) Base64() string {
	if m == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(m.Data)
}

// ToolResult is the outcome of one tool invocation. Output and Error may both
// be empty (empty success); Error may accompany partial Output.
type ToolResult struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
	Media  *Media `json:"media,omitempty"`
}

// NewToolResult creates a successful result.
func NewToolResult(output string) *ToolResult {
	return &ToolResult{Output: output}
}

// ErrorResult creates a result carrying only an error message.
func ErrorResult(message string) *ToolResult {
	return &ToolResult{Error: message}
}

// PartialResult creates a failed result that keeps the output produced so far.
func PartialResult(output, message string) *ToolResult {
	return &ToolResult{Output: output, Error: message}
}

// MediaResult creates a successful result with a binary payload.
func MediaResult(output, mimeType string, data []byte) *ToolResult {
	return &ToolResult{Output: output, Media: &Media{MIMEType: mimeType, Data: data}}
}

// ExecutionErrorResult converts an internal fault of tool into a result.
func ExecutionErrorResult(tool string, cause error) *ToolResult {
	return ErrorResult((&ToolExecutionError{Tool: tool, Err: cause}).Error())
}

// IsError reports whether the invocation failed.
func (r *ToolResult) IsError() bool {
	return r != nil && r.Error != ""
}

// String renders the result as the single text block sent back to models
// that have no separate error channel.
func (r *ToolResult) String() string {
	if r == nil {
		return ""
	}
	var parts []string
	if r.Output != "" {
		parts = append(parts, r.Output)
	}
	if r.Error != "" {
		parts = append(parts, "Error: "+r.Error)
	}
	if r.Media != nil {
		parts = append(parts, fmt.Sprintf("[%s attachment, %d bytes]", r.Media.MIMEType, len(r.Media.Data)))
	}
	if len(parts) == 0 {
		return "(no output)"
	}
	return strings.Join(parts, "\n")
}
