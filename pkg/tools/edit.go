package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/zhy0216/toolbox/pkg/ops"
	"github.com/zhy0216/toolbox/pkg/schema"
	"github.com/zhy0216/toolbox/pkg/types"
	"github.com/zhy0216/toolbox/pkg/util"
)

// EditorCommands lists the sub-commands of the edit tool.
var EditorCommands = []string{"view", "create", "str_replace", "insert", "undo_edit"}

// EditTool views, creates and edits files, keeping a per-file undo history.
type EditTool struct {
	allowedDir string
	fileOps    ops.FileOps

	mu      sync.Mutex
	history map[string][]string
}

// NewEditTool creates a new EditTool. Files are restricted to allowedDir when non-empty.
func NewEditTool(allowedDir string, fileOps ops.FileOps) *EditTool {
	return &EditTool{
		allowedDir: allowedDir,
		fileOps:    fileOps,
		history:    make(map[string][]string),
	}
}

func (t *EditTool) Name() string {
	return "edit"
}

func (t *EditTool) Kind() types.Kind {
	return types.KindFunction
}

func (t *EditTool) Description() string {
	return `View, create and edit files.
* view shows a file with line numbers (optionally a view_range) or lists a directory
* create writes file_text to path, creating parent directories
* str_replace replaces old_str with new_str; old_str must match exactly and be unique unless all=true
* insert adds new_str after line insert_line (0 inserts at the top)
* undo_edit reverts the last change made to path`
}

func (t *EditTool) Schema() schema.Schema {
	return schema.New(
		schema.Param{Name: "command", Type: schema.String, Enum: EditorCommands, Required: true,
			Description: "The editor command to run"},
		schema.Param{Name: "path", Type: schema.String, Required: true,
			Description: "Absolute path to the file or directory"},
		schema.Param{Name: "file_text", Type: schema.String,
			Description: "Content of the file to create (for 'create')"},
		schema.Param{Name: "old_str", Type: schema.String,
			Description: "The exact text to replace (for 'str_replace')"},
		schema.Param{Name: "new_str", Type: schema.String,
			Description: "Replacement text (for 'str_replace') or text to insert (for 'insert')"},
		schema.Param{Name: "insert_line", Type: schema.Integer,
			Description: "Line after which new_str is inserted (for 'insert')"},
		schema.Param{Name: "view_range", Type: schema.Array, Items: &schema.Param{Type: schema.Integer},
			Description: "Start and end line to show, 1-based; end -1 means end of file (for 'view')"},
		schema.Param{Name: "all", Type: schema.Boolean, Default: false,
			Description: "Replace every occurrence of old_str (for 'str_replace')"},
	)
}

func (t *EditTool) Execute(ctx context.Context, args map[string]any) *types.ToolResult {
	command, err := util.ExtractString(args, "command")
	if err != nil {
		return types.ErrorResult(err.Error())
	}
	path, err := util.ExtractString(args, "path")
	if err != nil {
		return types.ErrorResult(err.Error())
	}
	resolved, err := util.ValidatePath(path, t.allowedDir)
	if err != nil {
		return types.ErrorResult(err.Error())
	}

	switch command {
	case "view":
		return t.view(resolved, path, args)
	case "create":
		return t.create(resolved, path, args)
	case "str_replace":
		return t.replace(resolved, path, args)
	case "insert":
		return t.insert(resolved, path, args)
	case "undo_edit":
		return t.undo(resolved, path)
	default:
		return types.ErrorResult(fmt.Sprintf("Unrecognized command %s. Allowed commands are: %s", command, strings.Join(EditorCommands, ", ")))
	}
}

func (t *EditTool) view(resolved, path string, args map[string]any) *types.ToolResult {
	info, err := t.fileOps.Stat(resolved)
	if os.IsNotExist(err) {
		return types.ErrorResult(fmt.Sprintf("file not found: %s", path))
	}
	if err != nil {
		return types.ErrorResult(fmt.Sprintf("failed to stat file: %v", err))
	}

	if info.IsDir() {
		if _, ok := args["view_range"]; ok {
			return types.ErrorResult("view_range is not allowed when path points to a directory")
		}
		return t.listDir(resolved, path)
	}
	if info.Size() > types.MaxReadFileSize {
		return types.ErrorResult(fmt.Sprintf("file too large (%d bytes, max %d)", info.Size(), types.MaxReadFileSize))
	}

	content, err := t.fileOps.ReadFile(resolved)
	if err != nil {
		return types.ErrorResult(fmt.Sprintf("failed to read file: %v", err))
	}

	offset, limit := 1, 0
	if raw, ok := args["view_range"]; ok {
		start, end, err := parseViewRange(raw, lineCount(string(content)))
		if err != nil {
			return types.ErrorResult(err.Error())
		}
		offset = start
		if end > 0 {
			limit = end - start + 1
		}
	}
	return types.NewToolResult(fmt.Sprintf("Here's the result of running `cat -n` on %s:\n%s", path, util.FormatWithLineNumbers(string(content), offset, limit)))
}

func (t *EditTool) listDir(resolved, path string) *types.ToolResult {
	entries, err := t.fileOps.ReadDir(resolved)
	if err != nil {
		return types.ErrorResult(fmt.Sprintf("failed to read directory: %v", err))
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return types.NewToolResult(fmt.Sprintf("%s is empty", path))
	}
	return types.NewToolResult(fmt.Sprintf("Files and directories in %s:\n%s", path, strings.Join(names, "\n")))
}

func (t *EditTool) create(resolved, path string, args map[string]any) *types.ToolResult {
	text, ok := args["file_text"].(string)
	if !ok {
		return types.ErrorResult("file_text is required for command: create")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	perm := os.FileMode(0o644)
	if info, err := t.fileOps.Stat(resolved); err == nil {
		if info.IsDir() {
			return types.ErrorResult(fmt.Sprintf("%s is a directory", path))
		}
		prev, err := t.fileOps.ReadFile(resolved)
		if err != nil {
			return types.ErrorResult(fmt.Sprintf("failed to read file: %v", err))
		}
		t.history[resolved] = append(t.history[resolved], string(prev))
		perm = info.Mode().Perm()
	}

	if err := t.fileOps.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return types.ErrorResult(fmt.Sprintf("failed to create directory: %v", err))
	}
	if err := t.fileOps.WriteFile(resolved, []byte(text), perm); err != nil {
		return types.ExecutionErrorResult(t.Name(), fmt.Errorf("failed to write file: %w", err))
	}
	return types.NewToolResult(fmt.Sprintf("File created successfully at: %s", path))
}

func (t *EditTool) replace(resolved, path string, args map[string]any) *types.ToolResult {
	oldStr, err := util.ExtractString(args, "old_str")
	if err != nil {
		return types.ErrorResult(err.Error() + " for command: str_replace")
	}
	if oldStr == "" {
		return types.ErrorResult("old_str must not be empty")
	}
	newStr := util.ExtractOptionalString(args, "new_str", "")
	replaceAll := util.ExtractBool(args, "all", false)

	t.mu.Lock()
	defer t.mu.Unlock()

	content, perm, res := t.load(resolved, path)
	if res != nil {
		return res
	}

	count := strings.Count(content, oldStr)
	if count == 0 {
		return types.ErrorResult(fmt.Sprintf("old_str not found in %s. Make sure it matches exactly", path))
	}
	if count > 1 && !replaceAll {
		return types.ErrorResult(fmt.Sprintf("old_str appears %d times. Use all=true to replace all, or provide more context to make it unique", count))
	}

	var updated string
	if replaceAll {
		updated = strings.ReplaceAll(content, oldStr, newStr)
	} else {
		updated = strings.Replace(content, oldStr, newStr, 1)
	}
	if res := t.save(resolved, content, updated, perm); res != nil {
		return res
	}

	editLine := strings.Count(content[:strings.Index(content, oldStr)], "\n") + 1
	msg := fmt.Sprintf("The file %s has been edited", path)
	if replaceAll && count > 1 {
		msg += fmt.Sprintf(" (%d replacements)", count)
	}
	return types.NewToolResult(msg + ". " + snippet(updated, editLine, strings.Count(newStr, "\n")))
}

func (t *EditTool) insert(resolved, path string, args map[string]any) *types.ToolResult {
	if _, ok := args["insert_line"]; !ok {
		return types.ErrorResult("insert_line is required for command: insert")
	}
	newStr, err := util.ExtractString(args, "new_str")
	if err != nil {
		return types.ErrorResult(err.Error() + " for command: insert")
	}
	at := util.ExtractInt(args, "insert_line", -1)

	t.mu.Lock()
	defer t.mu.Unlock()

	content, perm, res := t.load(resolved, path)
	if res != nil {
		return res
	}

	total := lineCount(content)
	if at < 0 || at > total {
		return types.ErrorResult(fmt.Sprintf("insert_line %d is out of range [0, %d]", at, total))
	}
	lines := strings.Split(content, "\n")

	inserted := strings.Split(newStr, "\n")
	merged := make([]string, 0, len(lines)+len(inserted))
	merged = append(merged, lines[:at]...)
	merged = append(merged, inserted...)
	merged = append(merged, lines[at:]...)
	updated := strings.Join(merged, "\n")

	if res := t.save(resolved, content, updated, perm); res != nil {
		return res
	}
	return types.NewToolResult(fmt.Sprintf("The file %s has been edited. ", path) + snippet(updated, at+1, len(inserted)-1))
}

func (t *EditTool) undo(resolved, path string) *types.ToolResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	stack := t.history[resolved]
	if len(stack) == 0 {
		return types.ErrorResult(fmt.Sprintf("No edit history found for %s", path))
	}
	prev := stack[len(stack)-1]
	t.history[resolved] = stack[:len(stack)-1]

	perm := os.FileMode(0o644)
	if info, err := t.fileOps.Stat(resolved); err == nil {
		perm = info.Mode().Perm()
	}
	if err := t.fileOps.WriteFile(resolved, []byte(prev), perm); err != nil {
		return types.ExecutionErrorResult(t.Name(), fmt.Errorf("failed to write file: %w", err))
	}
	return types.NewToolResult(fmt.Sprintf("Last edit to %s undone successfully.", path))
}

// load reads a regular file for modification. Caller holds t.mu.
func (t *EditTool) load(resolved, path string) (string, os.FileMode, *types.ToolResult) {
	info, err := t.fileOps.Stat(resolved)
	if os.IsNotExist(err) {
		return "", 0, types.ErrorResult(fmt.Sprintf("file not found: %s", path))
	}
	if err != nil {
		return "", 0, types.ErrorResult(fmt.Sprintf("failed to stat file: %v", err))
	}
	if info.IsDir() {
		return "", 0, types.ErrorResult(fmt.Sprintf("%s is a directory", path))
	}
	if info.Size() > types.MaxReadFileSize {
		return "", 0, types.ErrorResult(fmt.Sprintf("file too large (%d bytes, max %d)", info.Size(), types.MaxReadFileSize))
	}
	content, err := t.fileOps.ReadFile(resolved)
	if err != nil {
		return "", 0, types.ErrorResult(fmt.Sprintf("failed to read file: %v", err))
	}
	return string(content), info.Mode().Perm(), nil
}

// save writes updated and records prev for undo. Caller holds t.mu.
func (t *EditTool) save(resolved, prev, updated string, perm os.FileMode) *types.ToolResult {
	if err := t.fileOps.WriteFile(resolved, []byte(updated), perm); err != nil {
		return types.ExecutionErrorResult(t.Name(), fmt.Errorf("failed to write file: %w", err))
	}
	t.history[resolved] = append(t.history[resolved], prev)
	return nil
}

// snippet renders the lines around an edit that starts at line and spans
// extra more lines.
func snippet(content string, line, extra int) string {
	start := line - types.EditSnippetLines
	if start < 1 {
		start = 1
	}
	end := line + extra + types.EditSnippetLines
	return "Here's the result of running `cat -n` on a snippet:\n" + util.FormatWithLineNumbers(content, start, end-start+1)
}

func lineCount(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(content, "\n"), "\n") + 1
}

func parseViewRange(raw any, total int) (int, int, error) {
	items, ok := raw.([]any)
	if !ok || len(items) != 2 {
		return 0, 0, fmt.Errorf("view_range must be a list of two integers")
	}
	bounds := make([]int, 2)
	for i, item := range items {
		switch v := item.(type) {
		case float64:
			bounds[i] = int(v)
		case int:
			bounds[i] = v
		default:
			return 0, 0, fmt.Errorf("view_range must be a list of two integers")
		}
	}
	start, end := bounds[0], bounds[1]
	if start < 1 || start > total {
		return 0, 0, fmt.Errorf("invalid view_range %v: start must be within [1, %d]", bounds, total)
	}
	if end == -1 {
		return start, 0, nil
	}
	if end < start || end > total {
		return 0, 0, fmt.Errorf("invalid view_range %v: end must be -1 or within [%d, %d]", bounds, start, total)
	}
	return start, end, nil
}
