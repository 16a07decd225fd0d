package util

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zhy0216/toolbox/pkg/types"
)

// sensitiveEnvPrefixes lists environment variable prefixes that should be
// stripped from child process environments to avoid leaking secrets.
var sensitiveEnvPrefixes = []string{
	"OPENAI_",
	"ANTHROPIC_",
	"API_KEY",
	"SECRET",
	"TOKEN",
	"AWS_SECRET",
}

// ValidatePath ensures the path is absolute, clean, resolves symlinks, and
// optionally checks that the resolved path is under allowedDir.
// Pass allowedDir="" to disable the boundary check.
func ValidatePath(path, allowedDir string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("path %s is not absolute", path)
	}

	cleaned := filepath.Clean(path)

	// Resolve symlinks if the path exists, to prevent symlink traversal
	if _, err := os.Lstat(cleaned); err == nil {
		resolved, err := filepath.EvalSymlinks(cleaned)
		if err != nil {
			return "", fmt.Errorf("failed to resolve symlinks: %w", err)
		}
		cleaned = resolved
	}

	if allowedDir != "" {
		base := allowedDir
		if resolved, err := filepath.EvalSymlinks(allowedDir); err == nil {
			base = resolved
		}
		rel, err := filepath.Rel(base, cleaned)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("path %s is outside the allowed directory", path)
		}
	}

	return cleaned, nil
}

// FormatWithLineNumbers adds line numbers to content (like cat -n), starting
// at line offset and emitting at most limit lines (0 means all).
func FormatWithLineNumbers(content string, offset, limit int) string {
	if offset < 1 {
		offset = 1
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), types.MaxReadFileSize)
	var result strings.Builder
	lineNum := 0
	linesOutput := 0

	for scanner.Scan() {
		lineNum++
		if lineNum < offset {
			continue
		}
		if limit > 0 && linesOutput >= limit {
			break
		}

		line := scanner.Text()
		if len(line) > types.MaxLineLength {
			line = line[:types.MaxLineLength] + "..."
		}
		fmt.Fprintf(&result, "%6d\t%s\n", lineNum, line)
		linesOutput++
	}

	return result.String()
}

// TruncateOutput limits output length by keeping the head and adds truncation notice.
func TruncateOutput(output string, maxLen int) string {
	if len(output) <= maxLen {
		return output
	}
	return output[:maxLen] + fmt.Sprintf("\n... (truncated, %d more chars)", len(output)-maxLen)
}

// TruncateTail limits output length by keeping the tail (last maxLen chars).
// Useful for bash output where errors and exit status appear at the end.
func TruncateTail(output string, maxLen int) string {
	if len(output) <= maxLen {
		return output
	}
	return fmt.Sprintf("[output truncated: showing last %d of %d chars]\n", maxLen, len(output)) + output[len(output)-maxLen:]
}

// CollapseWhitespace folds runs of blank lines into one and trims spaces at
// line edges.
func CollapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// ExtractString extracts a required string parameter from args.
// Returns an error if the key is missing or not a string.
func ExtractString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

// ExtractOptionalString extracts an optional string parameter from args,
// returning defaultVal if the key is missing or not a string.
func ExtractOptionalString(args map[string]any, key, defaultVal string) string {
	v, ok := args[key].(string)
	if !ok {
		return defaultVal
	}
	return v
}

// ExtractInt extracts an integer parameter from args. JSON numbers arrive as
// float64; YAML and in-process callers may pass int. Returns defaultVal if
// missing or not a number.
func ExtractInt(args map[string]any, key string, defaultVal int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return defaultVal
	}
}

// ExtractBool extracts a boolean parameter from args, returning defaultVal
// if missing or not a bool.
func ExtractBool(args map[string]any, key string, defaultVal bool) bool {
	v, ok := args[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// SanitizeEnv returns a copy of os.Environ() with sensitive variables removed.
func SanitizeEnv() []string {
	var result []string
	for _, entry := range os.Environ() {
		key := entry
		if idx := strings.Index(entry, "="); idx >= 0 {
			key = entry[:idx]
		}
		upper := strings.ToUpper(key)
		sensitive := false
		for _, prefix := range sensitiveEnvPrefixes {
			if strings.HasPrefix(upper, prefix) || strings.HasSuffix(upper, "_"+prefix) {
				sensitive = true
				break
			}
		}
		if !sensitive {
			result = append(result, entry)
		}
	}
	return result
}
