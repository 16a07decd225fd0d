package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds, matched with errors.Is.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrToolExecution    = errors.New("tool execution error")
)

// ConfigurationError reports a bad tool set, such as a duplicate name. It is
// fatal to session startup.
type ConfigurationError struct {
	Tool   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Tool == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: tool %q: %s", e.Tool, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// UnknownToolError reports a call to a name absent from the registry.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string { return "Unknown tool: " + e.Name }

func (e *UnknownToolError) Is(target error) bool { return target == ErrUnknownTool }

// InvalidArgumentsError reports arguments that fail schema validation.
type InvalidArgumentsError struct {
	Tool string
	Err  error
}

func (e *InvalidArgumentsError) Error() string {
	detail := strings.ReplaceAll(e.Err.Error(), "\n", "; ")
	return fmt.Sprintf("Invalid arguments for %s: %s", e.Tool, detail)
}

func (e *InvalidArgumentsError) Unwrap() error { return e.Err }

func (e *InvalidArgumentsError) Is(target error) bool { return target == ErrInvalidArguments }

// ToolExecutionError reports an internal fault inside a tool.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("Tool execution error in %s: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

func (e *ToolExecutionError) Is(target error) bool { return target == ErrToolExecution }
