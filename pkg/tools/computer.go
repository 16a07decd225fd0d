package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/zhy0216/toolbox/pkg/ops"
	"github.com/zhy0216/toolbox/pkg/schema"
	"github.com/zhy0216/toolbox/pkg/types"
	"github.com/zhy0216/toolbox/pkg/util"
)

// ComputerActions lists the actions of the computer tool.
var ComputerActions = []string{
	"screenshot", "cursor_position", "mouse_move",
	"left_click", "right_click", "double_click", "type", "key",
}

// ComputerTool drives the X display through xdotool and captures the
// screen with ImageMagick's import.
type ComputerTool struct {
	execOps ops.ExecOps
	display string

	// The display is a single shared device.
	mu sync.Mutex
}

// NewComputerTool creates a ComputerTool. display (e.g. ":1") is exported as
// DISPLAY when non-empty.
func NewComputerTool(execOps ops.ExecOps, display string) *ComputerTool {
	return &ComputerTool{execOps: execOps, display: display}
}

func (t *ComputerTool) Name() string { return "computer" }

func (t *ComputerTool) Kind() types.Kind { return types.KindFunction }

func (t *ComputerTool) Description() string {
	return "Control the mouse and keyboard of the desktop and take screenshots. Coordinates are pixels from the top-left corner."
}

func (t *ComputerTool) Schema() schema.Schema {
	return schema.New(
		schema.Param{Name: "action", Type: schema.String, Enum: ComputerActions, Required: true,
			Description: "The action to perform"},
		schema.Param{Name: "coordinate", Type: schema.Array, Items: &schema.Param{Type: schema.Integer},
			Description: "[x, y] target for mouse_move, optional for clicks"},
		schema.Param{Name: "text", Type: schema.String,
			Description: "Text to type (for 'type') or key combination such as ctrl+s (for 'key')"},
	)
}

func (t *ComputerTool) Execute(ctx context.Context, args map[string]any) *types.ToolResult {
	action, err := util.ExtractString(args, "action")
	if err != nil {
		return types.ErrorResult(err.Error())
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch action {
	case "screenshot":
		return t.screenshot(ctx)
	case "cursor_position":
		return t.cursorPosition(ctx)
	case "mouse_move":
		x, y, ok, err := extractCoordinate(args)
		if err != nil {
			return types.ErrorResult(err.Error())
		}
		if !ok {
			return types.ErrorResult("coordinate is required for mouse_move")
		}
		return t.xdotool(ctx, fmt.Sprintf("Moved mouse to (%d, %d)", x, y), "mousemove", "--sync", strconv.Itoa(x), strconv.Itoa(y))
	case "left_click", "right_click", "double_click":
		return t.click(ctx, action, args)
	case "type", "key":
		text, err := util.ExtractString(args, "text")
		if err != nil {
			return types.ErrorResult(fmt.Sprintf("text is required for %s", action))
		}
		if action == "type" {
			return t.xdotool(ctx, fmt.Sprintf("Typed %d characters", len(text)), "type", "--delay", "12", "--", text)
		}
		return t.xdotool(ctx, "Pressed "+text, "key", "--", text)
	default:
		return types.ErrorResult(fmt.Sprintf("Invalid action: %s. Valid actions are: %s", action, strings.Join(ComputerActions, ", ")))
	}
}

func (t *ComputerTool) click(ctx context.Context, action string, args map[string]any) *types.ToolResult {
	x, y, hasCoord, err := extractCoordinate(args)
	if err != nil {
		return types.ErrorResult(err.Error())
	}
	if hasCoord {
		if res := t.xdotool(ctx, "", "mousemove", "--sync", strconv.Itoa(x), strconv.Itoa(y)); res.IsError() {
			return res
		}
	}

	switch action {
	case "right_click":
		return t.xdotool(ctx, "Right clicked", "click", "3")
	case "double_click":
		return t.xdotool(ctx, "Double clicked", "click", "--repeat", "2", "--delay", "100", "1")
	default:
		return t.xdotool(ctx, "Left clicked", "click", "1")
	}
}

func (t *ComputerTool) cursorPosition(ctx context.Context) *types.ToolResult {
	out, res := t.run(ctx, "xdotool", "getmouselocation", "--shell")
	if res != nil {
		return res
	}
	var x, y string
	for _, line := range strings.Split(string(out.Stdout), "\n") {
		if v, ok := strings.CutPrefix(line, "X="); ok {
			x = strings.TrimSpace(v)
		} else if v, ok := strings.CutPrefix(line, "Y="); ok {
			y = strings.TrimSpace(v)
		}
	}
	if x == "" || y == "" {
		return types.ErrorResult("could not parse cursor position: " + out.Combined())
	}
	return types.NewToolResult(fmt.Sprintf("X=%s,Y=%s", x, y))
}

func (t *ComputerTool) screenshot(ctx context.Context) *types.ToolResult {
	if _, err := t.execOps.LookPath("import"); err != nil {
		return types.ErrorResult("screenshot requires ImageMagick's import command")
	}
	out, res := t.run(ctx, "import", "-window", "root", "png:-")
	if res != nil {
		return res
	}
	if len(out.Stdout) == 0 {
		return types.ErrorResult("screenshot produced no data")
	}
	return types.MediaResult("", "image/png", out.Stdout)
}

// xdotool runs one xdotool sub-command and reports done on success.
func (t *ComputerTool) xdotool(ctx context.Context, done string, args ...string) *types.ToolResult {
	out, res := t.run(ctx, "xdotool", args...)
	if res != nil {
		return res
	}
	if done == "" {
		return types.NewToolResult(out.Combined())
	}
	return types.NewToolResult(done)
}

func (t *ComputerTool) run(ctx context.Context, name string, args ...string) (ops.Output, *types.ToolResult) {
	cmd := ops.Command{Name: name, Args: args}
	if t.display != "" {
		cmd.Env = append(util.SanitizeEnv(), "DISPLAY="+t.display)
	}
	out, err := t.execOps.Run(ctx, cmd)
	if err != nil {
		return out, types.ErrorResult(fmt.Sprintf("%s failed: %v", name, err))
	}
	if out.ExitCode != 0 {
		return out, types.PartialResult(out.Combined(), fmt.Sprintf("%s exited with status %d", name, out.ExitCode))
	}
	return out, nil
}

// extractCoordinate reads an optional [x, y] argument.
func extractCoordinate(args map[string]any) (x, y int, ok bool, err error) {
	raw, present := args["coordinate"]
	if !present || raw == nil {
		return 0, 0, false, nil
	}
	items, isList := raw.([]any)
	if !isList || len(items) != 2 {
		return 0, 0, false, fmt.Errorf("coordinate must be a list of two non-negative integers")
	}
	vals := make([]int, 2)
	for i, item := range items {
		switch v := item.(type) {
		case float64:
			vals[i] = int(v)
		case int:
			vals[i] = v
		default:
			return 0, 0, false, fmt.Errorf("coordinate must be a list of two non-negative integers")
		}
		if vals[i] < 0 {
			return 0, 0, false, fmt.Errorf("coordinate must be a list of two non-negative integers")
		}
	}
	return vals[0], vals[1], true, nil
}
