package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/zhy0216/toolbox/pkg/schema"
	"github.com/zhy0216/toolbox/pkg/types"
)

// OpenAIProvider talks to OpenAI-compatible endpoints through either the
// Chat Completions or the Responses API. Tools are sent from
// generic-family descriptors.
type OpenAIProvider struct {
	client  openai.Client
	model   string
	apiType string // "chat" or "responses"
}

// NewOpenAIProvider creates a new OpenAIProvider.
func NewOpenAIProvider(apiKey, baseURL, model, apiType string) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(3),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIProvider{
		client:  openai.NewClient(opts...),
		model:   model,
		apiType: apiType,
	}
}

// Model returns the model name.
func (c *OpenAIProvider) Model() string {
	return c.model
}

// Family reports the descriptor representation this provider consumes.
func (c *OpenAIProvider) Family() schema.Family {
	return schema.Generic
}

// Chat sends a chat request, dispatching to the appropriate API based on apiType.
func (c *OpenAIProvider) Chat(ctx context.Context, messages []types.Message, descriptors []schema.Descriptor) (*types.ChatResponse, error) {
	if c.apiType == "responses" {
		return c.chatViaResponses(ctx, messages, descriptors)
	}
	return c.chatViaCompletions(ctx, messages, descriptors)
}

func completionMessages(messages []types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "user":
			out = append(out, openai.UserMessage(msg.Content))
		case "system":
			out = append(out, openai.SystemMessage(msg.Content))
		case "assistant":
			if len(msg.Calls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(msg.Calls))
			for j, call := range msg.Calls {
				toolCalls[j] = openai.ChatCompletionMessageToolCallParam{
					ID:   call.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: encodeArguments(call.Arguments),
					},
				}
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case "tool":
			// One tool message per call, in outcome order.
			if msg.Outcome == nil {
				continue
			}
			for _, r := range msg.Outcome.Results {
				out = append(out, openai.ToolMessage(r.Result.String(), r.ID))
			}
		}
	}
	return out
}

func completionTools(descriptors []schema.Descriptor) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(descriptors))
	for _, d := range descriptors {
		tools = append(tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        d.Function.Name,
				Description: openai.String(d.Function.Description),
				Parameters:  shared.FunctionParameters(d.Function.Parameters.Map()),
			},
		})
	}
	return tools
}

// chatViaCompletions sends a chat completion request using the Chat Completions API.
func (c *OpenAIProvider) chatViaCompletions(ctx context.Context, messages []types.Message, descriptors []schema.Descriptor) (*types.ChatResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: completionMessages(messages),
	}
	if tools := completionTools(descriptors); len(tools) > 0 {
		params.Tools = tools
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapAPIError("chat completion failed", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := completion.Choices[0]
	response := &types.ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		response.Calls = append(response.Calls, parseCallArguments(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	return response, nil
}

func responsesInput(messages []types.Message) (string, responses.ResponseInputParam) {
	var instructions []string
	var input responses.ResponseInputParam
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			instructions = append(instructions, msg.Content)
		case "user", "assistant":
			role := responses.EasyInputMessageRoleUser
			if msg.Role == "assistant" {
				role = responses.EasyInputMessageRoleAssistant
			}
			if msg.Content != "" || len(msg.Calls) == 0 {
				input = append(input, responses.ResponseInputItemUnionParam{
					OfMessage: &responses.EasyInputMessageParam{
						Role:    role,
						Content: responses.EasyInputMessageContentUnionParam{OfString: openai.String(msg.Content)},
					},
				})
			}
			for _, call := range msg.Calls {
				input = append(input, responses.ResponseInputItemUnionParam{
					OfFunctionCall: &responses.ResponseFunctionToolCallParam{
						CallID:    call.ID,
						Name:      call.Name,
						Arguments: encodeArguments(call.Arguments),
					},
				})
			}
		case "tool":
			if msg.Outcome == nil {
				continue
			}
			for _, r := range msg.Outcome.Results {
				input = append(input, responses.ResponseInputItemUnionParam{
					OfFunctionCallOutput: &responses.ResponseInputItemFunctionCallOutputParam{
						CallID: r.ID,
						Output: r.Result.String(),
					},
				})
			}
		}
	}
	return strings.Join(instructions, "\n\n"), input
}

// chatViaResponses sends a chat request using the Responses API.
func (c *OpenAIProvider) chatViaResponses(ctx context.Context, messages []types.Message, descriptors []schema.Descriptor) (*types.ChatResponse, error) {
	instructions, input := responsesInput(messages)

	var rtools []responses.ToolUnionParam
	for _, d := range descriptors {
		rtools = append(rtools, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        d.Function.Name,
				Description: openai.String(d.Function.Description),
				Parameters:  d.Function.Parameters.Map(),
			},
		})
	}

	reqParams := responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: input,
		},
	}
	if instructions != "" {
		reqParams.Instructions = openai.String(instructions)
	}
	if len(rtools) > 0 {
		reqParams.Tools = rtools
	}

	resp, err := c.client.Responses.New(ctx, reqParams)
	if err != nil {
		return nil, wrapAPIError("responses API call failed", err)
	}

	response := &types.ChatResponse{}
	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, content := range item.Content {
				if content.Type == "output_text" {
					response.Content += content.Text
				}
			}
		case "function_call":
			response.Calls = append(response.Calls, parseCallArguments(item.CallID, item.Name, item.Arguments))
		}
	}

	if len(response.Calls) > 0 {
		response.FinishReason = "tool_calls"
	} else {
		response.FinishReason = "stop"
	}
	return response, nil
}

// wrapAPIError wraps an API error with context information, extracting HTTP
// status codes from openai.Error when available.
func wrapAPIError(context string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: HTTP %d: %w", context, apiErr.StatusCode, err)
	}
	return fmt.Errorf("%s: %w", context, err)
}
