package tools

import (
	"context"

	"github.com/zhy0216/toolbox/pkg/schema"
	"github.com/zhy0216/toolbox/pkg/types"
	"github.com/zhy0216/toolbox/pkg/util"
)

// TestTool is a fixed-output reference tool used to exercise the dispatch
// path end to end.
type TestTool struct{}

// NewTestTool creates a new TestTool.
func NewTestTool() *TestTool {
	return &TestTool{}
}

func (t *TestTool) Name() string { return "test" }

func (t *TestTool) Kind() types.Kind { return types.KindFunction }

func (t *TestTool) Description() string {
	return "A test tool with three different functions: test1 outputs 'hello world', test2 outputs a personalized greeting, and test3 outputs 'goodbye'"
}

func (t *TestTool) Schema() schema.Schema {
	return schema.New(
		schema.Param{
			Name:        "function_name",
			Type:        schema.String,
			Enum:        []string{"test1", "test2", "test3"},
			Required:    true,
			Description: "The test function to execute",
		},
		schema.Param{
			Name:        "user_name",
			Type:        schema.String,
			Description: "Optional user name for test2 function",
		},
	)
}

func (t *TestTool) Execute(ctx context.Context, args map[string]any) *types.ToolResult {
	fn := util.ExtractOptionalString(args, "function_name", "test1")

	switch fn {
	case "test1":
		return types.NewToolResult("hello world")
	case "test2":
		name := util.ExtractOptionalString(args, "user_name", "")
		if name == "" {
			name = "user"
		}
		return types.NewToolResult("hello " + name)
	case "test3":
		return types.NewToolResult("goodbye")
	default:
		return types.NewToolResult("Unknown function: " + fn)
	}
}
