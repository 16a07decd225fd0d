package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/zhy0216/toolbox/pkg/schema"
	"github.com/zhy0216/toolbox/pkg/types"
)

const defaultAnthropicMaxTokens = 8192

// AnthropicProvider talks to the Messages API. Tools are sent from
// structured descriptors.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicProvider creates a new AnthropicProvider. maxTokens <= 0
// selects the default.
func NewAnthropicProvider(apiKey, baseURL, model string, maxTokens int) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(3),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: int64(maxTokens),
	}
}

// Model returns the model name.
func (a *AnthropicProvider) Model() string {
	return a.model
}

// Family reports the descriptor representation this provider consumes.
func (a *AnthropicProvider) Family() schema.Family {
	return schema.Structured
}

func (a *AnthropicProvider) buildRequest(messages []types.Message, descriptors []schema.Descriptor) anthropic.MessageNewParams {
	var systemBlocks []anthropic.TextBlockParam
	var anthropicMessages []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: msg.Content})
		case "user":
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, c := range msg.Calls {
				input := c.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(c.ID, input, c.Name))
			}
			if len(blocks) > 0 {
				anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(blocks...))
			}
		case "tool":
			if msg.Outcome == nil || len(msg.Outcome.Results) == 0 {
				continue
			}
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: toolResultBlocks(msg.Outcome),
			})
		}
	}

	// Cache breakpoint on the last system block.
	if len(systemBlocks) > 0 {
		systemBlocks[len(systemBlocks)-1].CacheControl = anthropic.NewCacheControlEphemeralParam()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages:  anthropicMessages,
	}
	if len(systemBlocks) > 0 {
		params.System = systemBlocks
	}
	if tools := anthropicTools(descriptors); len(tools) > 0 {
		params.Tools = tools
	}
	return params
}

// toolResultBlocks answers every call of a turn in one user message. Media
// follows the results as image blocks.
func toolResultBlocks(outcome *types.TurnOutcome) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(outcome.Results))
	var images []anthropic.ContentBlockParamUnion
	for _, r := range outcome.Results {
		blocks = append(blocks, anthropic.NewToolResultBlock(r.ID, r.Result.String(), r.Result.IsError()))
		if r.Result != nil && r.Result.Media != nil {
			images = append(images, anthropic.NewImageBlockBase64(r.Result.Media.MIMEType, r.Result.Media.Base64()))
		}
	}
	return append(blocks, images...)
}

// anthropicTools maps descriptors onto tool params.
func anthropicTools(descriptors []schema.Descriptor) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(descriptors))
	for _, d := range descriptors {
		params := d.Function.Parameters
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        d.Function.Name,
				Description: anthropic.String(d.Function.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: params.Properties,
					Required:   params.Required,
				},
			},
		})
	}
	return tools
}

// Chat sends a chat request.
func (a *AnthropicProvider) Chat(ctx context.Context, messages []types.Message, descriptors []schema.Descriptor) (*types.ChatResponse, error) {
	msg, err := a.client.Messages.New(ctx, a.buildRequest(messages, descriptors))
	if err != nil {
		return nil, fmt.Errorf("anthropic chat failed: %w", err)
	}

	response := &types.ChatResponse{FinishReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		switch block.Type {
		case "tool_use":
			raw, _ := json.Marshal(block.Input)
			response.Calls = append(response.Calls, parseCallArguments(block.ID, block.Name, string(raw)))
		case "text":
			response.Content += block.Text
		}
	}
	return response, nil
}
