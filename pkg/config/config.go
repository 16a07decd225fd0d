package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhy0216/toolbox/pkg/schema"
	"github.com/zhy0216/toolbox/pkg/types"
)

// Providers understood by the model boundary.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultOpenAIModel    = "gpt-4o"
	defaultTools          = "interpreter,editor"
)

// Capabilities gates which tools a session builds. Each flag enables
// exactly one tool.
type Capabilities struct {
	Interpreter bool // bash
	Editor      bool // edit
	GUI         bool // computer
	Test        bool // test
	Memory      bool // memory
	Web         bool // web
}

// capabilityAliases maps capability and tool names to a flag setter.
var capabilityAliases = map[string]func(*Capabilities){
	"interpreter": func(c *Capabilities) { c.Interpreter = true },
	"bash":        func(c *Capabilities) { c.Interpreter = true },
	"editor":      func(c *Capabilities) { c.Editor = true },
	"edit":        func(c *Capabilities) { c.Editor = true },
	"gui":         func(c *Capabilities) { c.GUI = true },
	"computer":    func(c *Capabilities) { c.GUI = true },
	"test":        func(c *Capabilities) { c.Test = true },
	"memory":      func(c *Capabilities) { c.Memory = true },
	"web":         func(c *Capabilities) { c.Web = true },
}

// ParseCapabilities reads a comma separated list such as "interpreter,test"
// or "bash,edit". "all" enables everything and "none" nothing.
func ParseCapabilities(list string) (Capabilities, error) {
	var caps Capabilities
	for _, raw := range strings.Split(list, ",") {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case "", "none":
			continue
		case "all":
			caps = Capabilities{Interpreter: true, Editor: true, GUI: true, Test: true, Memory: true, Web: true}
			continue
		}
		set, ok := capabilityAliases[name]
		if !ok {
			return Capabilities{}, fmt.Errorf("unknown capability %q", raw)
		}
		set(&caps)
	}
	return caps, nil
}

// String lists the enabled capabilities in evaluation order.
func (c Capabilities) String() string {
	var names []string
	for _, f := range []struct {
		on   bool
		name string
	}{
		{c.Interpreter, "interpreter"}, {c.Editor, "editor"}, {c.GUI, "gui"},
		{c.Test, "test"}, {c.Memory, "memory"}, {c.Web, "web"},
	} {
		if f.on {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// Config holds the application configuration.
type Config struct {
	Provider     string
	APIKey       string
	BaseURL      string
	Model        string
	APIType      string // "chat" or "responses"; OpenAI only
	Capabilities Capabilities
	TurnTimeout  time.Duration
	GracePeriod  time.Duration
	MaxParallel  int
	MaxTokens    int
	LogLevel     string
	LogFormat    string
	MemoryDB     string
	AllowedDir   string
	Display      string
}

// Family returns the schema representation the provider expects.
func (c *Config) Family() schema.Family {
	if c.Provider == ProviderAnthropic {
		return schema.Structured
	}
	return schema.Generic
}

// RequireAPIKey reports a missing key for commands that talk to a model.
func (c *Config) RequireAPIKey() error {
	if c.APIKey != "" {
		return nil
	}
	if c.Provider == ProviderAnthropic {
		return fmt.Errorf("ANTHROPIC_API_KEY is required (set via env var or config file)")
	}
	return fmt.Errorf("OPENAI_API_KEY is required (set via env var or config file)")
}

// fileConfig maps to the YAML config file structure.
type fileConfig struct {
	Provider    string   `yaml:"provider,omitempty"`
	APIKey      string   `yaml:"api_key,omitempty"`
	BaseURL     string   `yaml:"base_url,omitempty"`
	Model       string   `yaml:"model,omitempty"`
	APIType     string   `yaml:"api_type,omitempty"`
	Tools       []string `yaml:"tools,omitempty"`
	TurnTimeout string   `yaml:"turn_timeout,omitempty"`
	GracePeriod string   `yaml:"grace_period,omitempty"`
	MaxParallel int      `yaml:"max_parallel,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
	LogLevel    string   `yaml:"log_level,omitempty"`
	LogFormat   string   `yaml:"log_format,omitempty"`
	MemoryDB    string   `yaml:"memory_db,omitempty"`
	AllowedDir  string   `yaml:"allowed_dir,omitempty"`
	Display     string   `yaml:"display,omitempty"`
}

// resolve returns the first non-empty value from the provided strings.
func resolve(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// HomeDir returns $TOOLBOX_HOME, defaulting to ~/.toolbox.
func HomeDir() (string, error) {
	if dir := os.Getenv("TOOLBOX_HOME"); dir != "" {
		return dir, nil
	}
	h, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(h, ".toolbox"), nil
}

// Load reads configuration from the default config file location.
func Load() (*Config, error) {
	home, err := HomeDir()
	if err != nil {
		return nil, err
	}
	return LoadFile(filepath.Join(home, "config.yaml"))
}

// LoadFile reads configuration by merging the file at path, environment
// variables, and defaults. Priority: config file > env var > default.
// A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	fc, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	provider := strings.ToLower(resolve(fc.Provider, os.Getenv("TOOLBOX_PROVIDER"), ProviderOpenAI))
	if provider != ProviderAnthropic && provider != ProviderOpenAI {
		return nil, fmt.Errorf("unknown provider %q (want %s or %s)", provider, ProviderAnthropic, ProviderOpenAI)
	}

	keyEnv, defaultModel := "OPENAI_API_KEY", defaultOpenAIModel
	if provider == ProviderAnthropic {
		keyEnv, defaultModel = "ANTHROPIC_API_KEY", defaultAnthropicModel
	}

	apiType := strings.ToLower(resolve(fc.APIType, os.Getenv("TOOLBOX_API_TYPE"), "chat"))
	if apiType != "chat" && apiType != "responses" {
		return nil, fmt.Errorf("unknown api_type %q (want chat or responses)", apiType)
	}

	toolList := strings.Join(fc.Tools, ",")
	caps, err := ParseCapabilities(resolve(toolList, os.Getenv("TOOLBOX_TOOLS"), defaultTools))
	if err != nil {
		return nil, err
	}

	turnTimeout, err := parseDuration("turn_timeout", resolve(fc.TurnTimeout, os.Getenv("TOOLBOX_TURN_TIMEOUT"), "0"))
	if err != nil {
		return nil, err
	}
	grace, err := parseDuration("grace_period", resolve(fc.GracePeriod, os.Getenv("TOOLBOX_GRACE_PERIOD"), types.DefaultGracePeriod.String()))
	if err != nil {
		return nil, err
	}
	maxParallel, err := parseInt("max_parallel", fc.MaxParallel, os.Getenv("TOOLBOX_MAX_PARALLEL"))
	if err != nil {
		return nil, err
	}

	memoryDB := fc.MemoryDB
	if memoryDB == "" {
		home, err := HomeDir()
		if err != nil {
			return nil, err
		}
		memoryDB = resolve(os.Getenv("TOOLBOX_MEMORY_DB"), filepath.Join(home, "memory.db"))
	}

	cfg := &Config{
		Provider:     provider,
		APIKey:       resolve(fc.APIKey, os.Getenv(keyEnv)),
		BaseURL:      resolve(fc.BaseURL, os.Getenv("TOOLBOX_BASE_URL")),
		Model:        resolve(fc.Model, os.Getenv("TOOLBOX_MODEL"), defaultModel),
		APIType:      apiType,
		Capabilities: caps,
		TurnTimeout:  turnTimeout,
		GracePeriod:  grace,
		MaxParallel:  maxParallel,
		MaxTokens:    fc.MaxTokens,
		LogLevel:     resolve(fc.LogLevel, os.Getenv("TOOLBOX_LOG_LEVEL"), "info"),
		LogFormat:    resolve(fc.LogFormat, os.Getenv("TOOLBOX_LOG_FORMAT"), "text"),
		MemoryDB:     memoryDB,
		AllowedDir:   resolve(fc.AllowedDir, os.Getenv("TOOLBOX_ALLOWED_DIR")),
		Display:      resolve(fc.Display, os.Getenv("DISPLAY")),
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return cfg, nil
}

func parseDuration(field, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", field, v)
	}
	return d, nil
}

func parseInt(field string, fileVal int, envVal string) (int, error) {
	if fileVal != 0 {
		return fileVal, nil
	}
	if envVal == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(envVal)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, envVal, err)
	}
	return n, nil
}

// readConfigFile reads and parses the YAML config file.
// Returns a zero-value fileConfig if the file does not exist.
func readConfigFile(path string) (fileConfig, error) {
	var fc fileConfig

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fc, nil
		}
		return fc, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return fc, nil
}
