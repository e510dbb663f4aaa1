// Package llm is the chat-completions client used for routing,
// reasoning, tool dispatch, and answer synthesis.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/agenttic/agenttic/pkg/domain"
)

type Client struct {
	client openai.Client
	model  string
}

type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration // per-request; zero means the client default
}

// GenOptions tunes a single generation.
type GenOptions struct {
	Temperature float64 // negative means provider default
	MaxTokens   int
	Model       string // overrides the client default when set
}

// ToolResponse is one model turn that may request tool calls.
type ToolResponse struct {
	Content   string
	ToolCalls []domain.ToolCall
}

func New(opts Options) *Client {
	clientOpts := []option.RequestOption{option.WithBaseURL(opts.BaseURL)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.Timeout > 0 {
		clientOpts = append(clientOpts, option.WithRequestTimeout(opts.Timeout))
	}
	return &Client{
		client: openai.NewClient(clientOpts...),
		model:  opts.Model,
	}
}

func (c *Client) Model() string { return c.model }

func (c *Client) params(messages []openai.ChatCompletionMessageParamUnion, opts *GenOptions) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}
	if opts != nil {
		if opts.Model != "" {
			params.Model = shared.ChatModel(opts.Model)
		}
		if opts.Temperature >= 0 {
			params.Temperature = openai.Float(opts.Temperature)
		}
		if opts.MaxTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
		}
	}
	return params
}

// Generate runs a single user prompt and returns the completion text.
func (c *Client) Generate(ctx context.Context, prompt string, opts *GenOptions) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", domain.ErrInvalidInput)
	}
	return c.Chat(ctx, []domain.Message{{Role: "user", Content: prompt}}, opts)
}

// Chat runs a full message history and returns the completion text.
func (c *Client) Chat(ctx context.Context, messages []domain.Message, opts *GenOptions) (string, error) {
	converted, err := toAPIMessages(messages)
	if err != nil {
		return "", err
	}

	completion, err := c.client.Chat.Completions.New(ctx, c.params(converted, opts))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", domain.ErrGenerationFailed)
	}
	return completion.Choices[0].Message.Content, nil
}

// Stream runs a message history, invoking onDelta for every token
// fragment, and returns the accumulated text.
func (c *Client) Stream(ctx context.Context, messages []domain.Message, opts *GenOptions, onDelta func(string)) (string, error) {
	if onDelta == nil {
		return "", fmt.Errorf("%w: nil callback", domain.ErrInvalidInput)
	}
	converted, err := toAPIMessages(messages)
	if err != nil {
		return "", err
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(converted, opts))

	var full string
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			delta := chunk.Choices[0].Delta.Content
			full += delta
			onDelta(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return full, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	return full, nil
}

// ChatWithTools runs a message history with function schemas attached
// and returns either content or parsed tool-call requests.
func (c *Client) ChatWithTools(ctx context.Context, messages []domain.Message, tools []domain.ToolSchema, opts *GenOptions) (*ToolResponse, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: empty messages", domain.ErrInvalidInput)
	}
	converted, err := toAPIMessages(messages)
	if err != nil {
		return nil, err
	}

	params := c.params(converted, opts)
	if len(tools) > 0 {
		apiTools := make([]openai.ChatCompletionToolUnionParam, len(tools))
		for i, tool := range tools {
			apiTools[i] = openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  shared.FunctionParameters(tool.Parameters),
			})
		}
		params.Tools = apiTools
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", domain.ErrGenerationFailed)
	}

	choice := completion.Choices[0]
	resp := &ToolResponse{Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := domain.DecodeLLMJSON(tc.Function.Arguments, &args); err != nil {
				return nil, fmt.Errorf("parse tool call arguments: %w", err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return resp, nil
}

// GenerateStructured prompts for JSON and decodes the (possibly fenced
// or truncated) response into out.
func (c *Client) GenerateStructured(ctx context.Context, prompt string, out any, opts *GenOptions) error {
	raw, err := c.Generate(ctx, prompt, opts)
	if err != nil {
		return err
	}
	if err := domain.DecodeLLMJSON(raw, out); err != nil {
		return fmt.Errorf("structured generation: %w", err)
	}
	return nil
}

func toAPIMessages(messages []domain.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case "user":
			out[i] = openai.UserMessage(msg.Content)
		case "system":
			out[i] = openai.SystemMessage(msg.Content)
		case "tool":
			out[i] = openai.ToolMessage(msg.Content, msg.ToolCallID)
		case "assistant":
			assistant := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				assistant.ToolCalls = make([]openai.ChatCompletionMessageToolCallUnion, len(msg.ToolCalls))
				for j, tc := range msg.ToolCalls {
					args, err := json.Marshal(tc.Arguments)
					if err != nil {
						return nil, fmt.Errorf("marshal tool call arguments: %w", err)
					}
					assistant.ToolCalls[j] = openai.ChatCompletionMessageToolCallUnion{
						ID:   tc.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageFunctionToolCallFunction{
							Name:      tc.Name,
							Arguments: string(args),
						},
					}
				}
			}
			out[i] = assistant.ToParam()
		default:
			return nil, fmt.Errorf("%w: unknown message role %q", domain.ErrInvalidInput, msg.Role)
		}
	}
	return out, nil
}
