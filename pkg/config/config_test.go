package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zhy0216/toolbox/pkg/schema"
)

// clearEnv unsets all config-related env vars for a clean test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TOOLBOX_PROVIDER",
		"ANTHROPIC_API_KEY",
		"OPENAI_API_KEY",
		"TOOLBOX_BASE_URL",
		"TOOLBOX_MODEL",
		"TOOLBOX_API_TYPE",
		"TOOLBOX_TOOLS",
		"TOOLBOX_LOG_LEVEL",
		"TOOLBOX_LOG_FORMAT",
		"TOOLBOX_TURN_TIMEOUT",
		"TOOLBOX_GRACE_PERIOD",
		"TOOLBOX_MAX_PARALLEL",
		"TOOLBOX_MEMORY_DB",
		"TOOLBOX_ALLOWED_DIR",
		"DISPLAY",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("TOOLBOX_HOME", t.TempDir())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider != ProviderOpenAI {
		t.Errorf("Provider = %q, want %q", cfg.Provider, ProviderOpenAI)
	}
	if cfg.Model != "gpt-4o" {
		t.Errorf("Model = %q, want %q", cfg.Model, "gpt-4o")
	}
	if cfg.APIType != "chat" {
		t.Errorf("APIType = %q, want chat", cfg.APIType)
	}
	if cfg.Family() != schema.Generic {
		t.Errorf("Family = %q, want generic", cfg.Family())
	}
	want := Capabilities{Interpreter: true, Editor: true}
	if cfg.Capabilities != want {
		t.Errorf("Capabilities = %+v, want %+v", cfg.Capabilities, want)
	}
	if cfg.GracePeriod != 2*time.Second {
		t.Errorf("GracePeriod = %v, want 2s", cfg.GracePeriod)
	}
	if cfg.TurnTimeout != 0 || cfg.MaxParallel != 0 {
		t.Errorf("expected no turn timeout and unbounded parallelism, got %v / %d", cfg.TurnTimeout, cfg.MaxParallel)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Errorf("log settings = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if filepath.Base(cfg.MemoryDB) != "memory.db" {
		t.Errorf("MemoryDB = %q", cfg.MemoryDB)
	}
	if err := cfg.RequireAPIKey(); err == nil {
		t.Error("expected missing key error")
	}
}

func TestLoadEnvVarsOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOOLBOX_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-123")
	t.Setenv("OPENAI_API_KEY", "sk-openai-ignored")
	t.Setenv("TOOLBOX_BASE_URL", "https://proxy.example.com")
	t.Setenv("TOOLBOX_TOOLS", "test, memory")
	t.Setenv("TOOLBOX_TURN_TIMEOUT", "45s")
	t.Setenv("TOOLBOX_MAX_PARALLEL", "3")
	t.Setenv("TOOLBOX_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIKey != "sk-ant-123" {
		t.Errorf("APIKey = %q, want %q", cfg.APIKey, "sk-ant-123")
	}
	if cfg.Model != defaultAnthropicModel {
		t.Errorf("Model = %q, want %q", cfg.Model, defaultAnthropicModel)
	}
	if cfg.Family() != schema.Structured {
		t.Errorf("Family = %q, want structured", cfg.Family())
	}
	if cfg.BaseURL != "https://proxy.example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if want := (Capabilities{Test: true, Memory: true}); cfg.Capabilities != want {
		t.Errorf("Capabilities = %+v, want %+v", cfg.Capabilities, want)
	}
	if cfg.TurnTimeout != 45*time.Second || cfg.MaxParallel != 3 {
		t.Errorf("TurnTimeout/MaxParallel = %v/%d", cfg.TurnTimeout, cfg.MaxParallel)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if err := cfg.RequireAPIKey(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadFileTakesPriority(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOOLBOX_MODEL", "env-model")
	t.Setenv("TOOLBOX_TOOLS", "web")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	path := writeConfig(t, `
provider: openai
api_key: sk-file
model: file-model
api_type: responses
tools: [bash, computer, test]
grace_period: 500ms
max_parallel: 8
memory_db: /tmp/toolbox-test/mem.db
allowed_dir: /workspace
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIKey != "sk-file" || cfg.Model != "file-model" || cfg.APIType != "responses" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if want := (Capabilities{Interpreter: true, GUI: true, Test: true}); cfg.Capabilities != want {
		t.Errorf("Capabilities = %+v, want %+v", cfg.Capabilities, want)
	}
	if cfg.GracePeriod != 500*time.Millisecond || cfg.MaxParallel != 8 {
		t.Errorf("GracePeriod/MaxParallel = %v/%d", cfg.GracePeriod, cfg.MaxParallel)
	}
	if cfg.MemoryDB != "/tmp/toolbox-test/mem.db" || cfg.AllowedDir != "/workspace" {
		t.Errorf("paths = %q/%q", cfg.MemoryDB, cfg.AllowedDir)
	}
}

func TestLoadFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "provider: [unclosed"},
		{"unknown provider", "provider: gemini"},
		{"unknown tool", "tools: [teleport]"},
		{"bad duration", "turn_timeout: soon"},
		{"unknown api type", "api_type: batch"},
		{"negative duration", "grace_period: -1s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if _, err := LoadFile(writeConfig(t, tt.content)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
}

func TestParseCapabilities(t *testing.T) {
	tests := []struct {
		in   string
		want Capabilities
	}{
		{"", Capabilities{}},
		{"none", Capabilities{}},
		{"interpreter,editor,gui,test", Capabilities{Interpreter: true, Editor: true, GUI: true, Test: true}},
		{"bash, edit, computer", Capabilities{Interpreter: true, Editor: true, GUI: true}},
		{"ALL", Capabilities{Interpreter: true, Editor: true, GUI: true, Test: true, Memory: true, Web: true}},
	}
	for _, tt := range tests {
		got, err := ParseCapabilities(tt.in)
		if err != nil {
			t.Errorf("ParseCapabilities(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCapabilities(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
	if _, err := ParseCapabilities("test,warp"); err == nil {
		t.Error("expected error for unknown capability")
	}
}

func TestCapabilitiesString(t *testing.T) {
	if got := (Capabilities{}).String(); got != "none" {
		t.Errorf("got %q", got)
	}
	if got := (Capabilities{Web: true, Interpreter: true}).String(); got != "interpreter,web" {
		t.Errorf("got %q", got)
	}
}
