package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zhy0216/toolbox/pkg/schema"
	"github.com/zhy0216/toolbox/pkg/types"
	"github.com/zhy0216/toolbox/pkg/util"
)

// Actions accepted by the memory tool.
var Actions = []string{"store", "recall", "forget", "summarize"}

// Tool exposes a Store to the model under the name "memory".
type Tool struct {
	store *Store
}

// NewTool wraps store.
func NewTool(store *Store) *Tool {
	return &Tool{store: store}
}

func (t *Tool) Name() string { return "memory" }

func (t *Tool) Kind() types.Kind { return types.KindFunction }

func (t *Tool) Description() string {
	return "Store and recall memories with human-like memory characteristics including decay, using both short-term and long-term memory storage."
}

func (t *Tool) Schema() schema.Schema {
	return schema.New(
		schema.Param{Name: "action", Type: schema.String, Enum: Actions, Required: true,
			Description: "The memory operation to perform"},
		schema.Param{Name: "content", Type: schema.String,
			Description: "Content to store in memory (for 'store' action)"},
		schema.Param{Name: "query", Type: schema.String,
			Description: "Text to search for in memories (for 'recall' action)"},
		schema.Param{Name: "tags", Type: schema.Array, Items: &schema.Param{Type: schema.String},
			Description: "Tags/keywords for categorizing or filtering memories"},
		schema.Param{Name: "memory_id", Type: schema.Integer,
			Description: "ID of a specific memory to forget (for 'forget' action)"},
		schema.Param{Name: "older_than_days", Type: schema.Integer,
			Description: "Forget memories older than this many days (for 'forget' action)"},
		schema.Param{Name: "days", Type: schema.Integer, Default: 30,
			Description: "Number of days to look back (for 'summarize' action)"},
		schema.Param{Name: "limit", Type: schema.Integer, Default: 5,
			Description: "Maximum number of memories to return (for 'recall' action)"},
		schema.Param{Name: "use_long_term", Type: schema.Boolean, Default: true,
			Description: "Whether to check long-term memory if not found in short-term (for 'recall' action)"},
	)
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) *types.ToolResult {
	action := util.ExtractOptionalString(args, "action", "")
	content := util.ExtractOptionalString(args, "content", "")
	tags := extractStrings(args, "tags")

	switch {
	case action == "store" && content != "":
		return t.storeMemory(ctx, content, tags)
	case action == "recall":
		return t.recall(ctx, Query{
			Text:        util.ExtractOptionalString(args, "query", ""),
			Tags:        tags,
			Limit:       util.ExtractInt(args, "limit", 5),
			UseLongTerm: util.ExtractBool(args, "use_long_term", true),
		})
	case action == "forget":
		return t.forget(ctx, util.ExtractInt(args, "memory_id", 0), util.ExtractInt(args, "older_than_days", 0))
	case action == "summarize":
		return t.summarize(ctx, tags, util.ExtractInt(args, "days", 30))
	default:
		return types.ErrorResult(fmt.Sprintf("Invalid memory action: %s. Valid actions are: %s", action, strings.Join(Actions, ", ")))
	}
}

func (t *Tool) storeMemory(ctx context.Context, content string, tags []string) *types.ToolResult {
	m, err := t.store.Add(ctx, content, tags, nil)
	if err != nil {
		return types.ErrorResult("Failed to store memory: " + err.Error())
	}
	return types.NewToolResult(fmt.Sprintf("Memory stored successfully with %d tags (id %d).", len(tags), m.ID))
}

func (t *Tool) recall(ctx context.Context, q Query) *types.ToolResult {
	results, err := t.store.Recall(ctx, q)
	if err != nil {
		return types.ErrorResult("Failed to recall memories: " + err.Error())
	}
	if len(results) == 0 {
		return types.NewToolResult("No memories found matching the criteria.")
	}

	entries := make([]string, len(results))
	for i, m := range results {
		var b strings.Builder
		fmt.Fprintf(&b, "%d. [id %d] %s", i+1, m.ID, m.Content)
		if len(m.Tags) > 0 {
			fmt.Fprintf(&b, " [Tags: %s]", strings.Join(m.Tags, ", "))
		}
		if m.Score > 0 {
			fmt.Fprintf(&b, " (Relevance: %.2f)", m.Score)
		}
		entries[i] = b.String()
	}
	return types.NewToolResult(fmt.Sprintf("Found %d memories:\n\n%s", len(results), strings.Join(entries, "\n\n")))
}

func (t *Tool) forget(ctx context.Context, id, olderThanDays int) *types.ToolResult {
	var (
		count int
		err   error
	)
	switch {
	case id > 0:
		count, err = t.store.ForgetByID(ctx, int64(id))
	case olderThanDays > 0:
		count, err = t.store.ForgetOlderThan(ctx, time.Duration(olderThanDays)*24*time.Hour)
	}
	if err != nil {
		return types.ErrorResult("Failed to forget memories: " + err.Error())
	}
	return types.NewToolResult(fmt.Sprintf("Forgot %d memories.", count))
}

func (t *Tool) summarize(ctx context.Context, tags []string, days int) *types.ToolResult {
	if days <= 0 {
		days = 30
	}
	s, err := t.store.Summarize(ctx, tags, days)
	if err != nil {
		return types.ErrorResult("Failed to summarize memories: " + err.Error())
	}
	if s.Total == 0 {
		return types.NewToolResult(fmt.Sprintf("No memories found in the past %d days.", days))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Memory Summary (past %d days):\n\n", days)
	fmt.Fprintf(&b, "Total memories: %d\n", s.Total)
	fmt.Fprintf(&b, "Time span: %s to %s\n", s.Earliest.Format("2006-01-02"), s.Latest.Format("2006-01-02"))
	if len(s.TopTags) > 0 {
		b.WriteString("\nTop tags:\n")
		for _, tc := range s.TopTags {
			fmt.Fprintf(&b, "- %s (%d memories)\n", tc.Tag, tc.Count)
		}
	}
	return types.NewToolResult(b.String())
}

// extractStrings reads an array-of-strings argument, skipping non-strings.
func extractStrings(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
