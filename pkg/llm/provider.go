package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zhy0216/toolbox/pkg/config"
	"github.com/zhy0216/toolbox/pkg/schema"
	"github.com/zhy0216/toolbox/pkg/types"
)

// Provider defines the interface for different LLM backends. Tools are
// passed as exported descriptors; the provider maps them onto its SDK.
type Provider interface {
	Chat(ctx context.Context, messages []types.Message, tools []schema.Descriptor) (*types.ChatResponse, error)
	Model() string
	Family() schema.Family
}

// Compile-time interface compliance checks.
var (
	_ Provider = (*OpenAIProvider)(nil)
	_ Provider = (*AnthropicProvider)(nil)
)

// New builds the provider selected by cfg.
func New(cfg *config.Config) (Provider, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens), nil
	case config.ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.APIType), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

// encodeArguments renders call arguments as the JSON string providers
// expect back in the assistant history.
func encodeArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// parseCallArguments decodes one provider tool call. Malformed JSON keeps
// the call so the router can answer it; the arguments are simply empty.
func parseCallArguments(id, name, raw string) types.CallRequest {
	args, err := types.ParseArguments(raw)
	if err != nil {
		args = map[string]any{}
	}
	return types.CallRequest{ID: id, Name: name, Arguments: args}
}
