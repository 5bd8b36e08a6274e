// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai provides the OpenAI adapter for Telos. It also serves any
// OpenAI-compatible endpoint when pointed at one with WithBaseURL.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	telerr "github.com/teloslabs/telos/pkg/errors"
	"github.com/teloslabs/telos/pkg/llm"
)

// Adapter implements llm.Adapter for the OpenAI Chat Completions API.
type Adapter struct {
	client openai.Client
	model  string
	caps   *llm.CapabilityCache
}

// Option configures the Adapter.
type Option func(*settings)

type settings struct {
	apiKey  string
	baseURL string
	model   string
}

// WithModel sets the default model used when a call passes none.
func WithModel(model string) Option {
	return func(s *settings) { s.model = model }
}

// WithBaseURL sets a custom base URL (for Azure OpenAI or proxies).
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithAPIKey sets the API key.
func WithAPIKey(apiKey string) Option {
	return func(s *settings) { s.apiKey = apiKey }
}

// New creates a new OpenAI adapter.
// API key is read from OPENAI_API_KEY environment variable by default.
func New(opts ...Option) *Adapter {
	s := settings{model: "gpt-5-mini"}
	for _, opt := range opts {
		opt(&s)
	}

	var ropts []option.RequestOption
	if s.apiKey != "" {
		ropts = append(ropts, option.WithAPIKey(s.apiKey))
	}
	if s.baseURL != "" {
		ropts = append(ropts, option.WithBaseURL(s.baseURL))
	}

	return &Adapter{
		client: openai.NewClient(ropts...),
		model:  s.model,
		caps:   llm.NewCapabilityCache(),
	}
}

// NewWithAPIKey creates a new OpenAI adapter with explicit API key.
func NewWithAPIKey(apiKey string, opts ...Option) *Adapter {
	opts = append([]Option{WithAPIKey(apiKey)}, opts...)
	return New(opts...)
}

// Generate implements llm.Adapter.
func (a *Adapter) Generate(ctx context.Context, model string, messages []llm.Message, params llm.Params) (*llm.Response, error) {
	completion, err := a.client.Chat.Completions.New(ctx, a.buildParams(model, messages, params))
	if err != nil {
		return nil, mapError(err, "chat completion failed")
	}
	return convertResponse(completion), nil
}

// StructuredGenerate implements llm.Adapter using the native json_schema
// response format. The output is validated against the schema before return.
func (a *Adapter) StructuredGenerate(ctx context.Context, model string, messages []llm.Message, params llm.SchemaParams) (*llm.Response, error) {
	p := a.buildParams(model, messages, params.Params)

	name := params.SchemaName
	if name == "" {
		name = "structured_output"
	}
	p.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   name,
				Schema: params.Schema,
				Strict: openai.Bool(params.Strict),
			},
		},
	}

	completion, err := a.client.Chat.Completions.New(ctx, p)
	if err != nil {
		return nil, mapError(err, "structured completion failed")
	}

	resp := convertResponse(completion)
	if err := llm.ValidateAgainstSchema(resp.Content, params.Schema); err != nil {
		return nil, err
	}
	return resp, nil
}

// RunWithTools implements llm.Adapter. The model decides whether to call
// tools; returned tool calls are surfaced to the caller, never executed here.
func (a *Adapter) RunWithTools(ctx context.Context, model string, messages []llm.Message, tools []llm.Tool, params llm.ToolParams) (*llm.Response, error) {
	p := a.buildParams(model, messages, params.Params)
	// tool_choice none is expressed by withholding the tool definitions.
	if params.ToolChoice != llm.ToolChoiceNone {
		p.Tools = convertTools(tools)
	}

	completion, err := a.client.Chat.Completions.New(ctx, p)
	if err != nil {
		return nil, mapError(err, "tool completion failed")
	}
	return convertResponse(completion), nil
}

// Stream implements llm.Adapter for streaming responses.
func (a *Adapter) Stream(ctx context.Context, model string, messages []llm.Message, params llm.Params) (<-chan llm.StreamChunk, error) {
	return a.stream(ctx, a.buildParams(model, messages, params))
}

// StreamWithTools implements llm.Adapter for streaming with tool access.
func (a *Adapter) StreamWithTools(ctx context.Context, model string, messages []llm.Message, tools []llm.Tool, params llm.ToolParams) (<-chan llm.StreamChunk, error) {
	p := a.buildParams(model, messages, params.Params)
	if params.ToolChoice != llm.ToolChoiceNone {
		p.Tools = convertTools(tools)
	}
	return a.stream(ctx, p)
}

func (a *Adapter) stream(ctx context.Context, params openai.ChatCompletionNewParams) (<-chan llm.StreamChunk, error) {
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	chunks := make(chan llm.StreamChunk, llm.StreamBufferSize)

	go func() {
		defer close(chunks)

		toolCallsMap := make(map[int]*llm.ToolCall) // Track tool calls by index
		var usage *llm.Usage

		for stream.Next() {
			event := stream.Current()

			// Usage arrives on a trailing event with no choices.
			if event.Usage.TotalTokens > 0 {
				usage = &llm.Usage{
					InputTokens:  int(event.Usage.PromptTokens),
					OutputTokens: int(event.Usage.CompletionTokens),
				}
			}

			if len(event.Choices) == 0 {
				continue
			}
			delta := event.Choices[0].Delta

			for _, tc := range delta.ToolCalls {
				idx := int(tc.Index)
				if _, exists := toolCallsMap[idx]; !exists {
					toolCallsMap[idx] = &llm.ToolCall{
						ID:   tc.ID,
						Type: llm.ToolTypeFunction,
						Function: llm.FunctionCall{
							Name: tc.Function.Name,
						},
					}
				}
				// Arguments stream as fragments; concatenate in order.
				toolCallsMap[idx].Function.Arguments += tc.Function.Arguments
			}

			if delta.Content != "" {
				select {
				case chunks <- llm.StreamChunk{Type: llm.ChunkText, Content: delta.Content, Delta: true}:
				case <-ctx.Done():
					chunks <- llm.ErrorChunk(ctx.Err())
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			chunks <- llm.ErrorChunk(mapError(err, "stream failed"))
			return
		}

		var toolCalls []llm.ToolCall
		for i := 0; i < len(toolCallsMap); i++ {
			if tc, ok := toolCallsMap[i]; ok {
				toolCalls = append(toolCalls, *tc)
			}
		}
		chunks <- llm.StreamChunk{Type: llm.ChunkText, Done: true, ToolCalls: toolCalls, Usage: usage}
	}()

	return chunks, nil
}

// Capabilities implements llm.Adapter. OpenAI models generally support the
// full feature set; results are cached per model for the adapter's lifetime.
func (a *Adapter) Capabilities(_ context.Context, model string) (llm.ModelCapabilities, error) {
	if model == "" {
		model = a.model
	}
	return a.caps.GetOrCompute(model, func(string) llm.ModelCapabilities {
		return llm.ModelCapabilities{
			SupportsTools:      true,
			SupportsStreaming:  true,
			SupportsJSONSchema: true,
			SupportsImages:     false,
			MaxContextLength:   128000,
		}
	}), nil
}

// Close implements llm.Adapter. The underlying HTTP client needs no teardown.
func (a *Adapter) Close() error { return nil }

func (a *Adapter) buildParams(model string, messages []llm.Message, p llm.Params) openai.ChatCompletionNewParams {
	if model == "" {
		model = a.model
	}

	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		converted = append(converted, convertMessage(msg))
	}

	params := openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    converted,
		Temperature: openai.Float(p.Temperature),
		TopP:        openai.Float(p.TopP),
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.MaxTokens))
	}
	if len(p.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: p.Stop}
	}
	return params
}

// convertMessage converts a Telos message to OpenAI format.
func convertMessage(msg llm.Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case llm.RoleSystem:
		return openai.SystemMessage(msg.Content)
	case llm.RoleUser:
		return openai.UserMessage(msg.Content)
	case llm.RoleAssistant:
		if len(msg.ToolCalls) > 0 {
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			assistantMsg := openai.ChatCompletionAssistantMessageParam{
				ToolCalls: toolCalls,
			}
			if msg.Content != "" {
				assistantMsg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: param.NewOpt(msg.Content),
				}
			}
			return openai.ChatCompletionMessageParamUnion{
				OfAssistant: &assistantMsg,
			}
		}
		return openai.AssistantMessage(msg.Content)
	case llm.RoleTool:
		return openai.ToolMessage(msg.Content, msg.ToolCallID)
	default:
		return openai.UserMessage(msg.Content)
	}
}

// convertTools converts Telos tools to OpenAI format.
func convertTools(tools []llm.Tool) []openai.ChatCompletionToolParam {
	converted := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, tool := range tools {
		converted = append(converted, convertTool(tool))
	}
	return converted
}

// convertTool converts a Telos tool to OpenAI format.
func convertTool(tool llm.Tool) openai.ChatCompletionToolParam {
	paramsJSON, _ := json.Marshal(tool.Function.Parameters)
	var params openai.FunctionParameters
	json.Unmarshal(paramsJSON, &params)

	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: openai.FunctionDefinitionParam{
			Name:        tool.Function.Name,
			Description: openai.String(tool.Function.Description),
			Parameters:  params,
		},
	}
}

// convertResponse converts an OpenAI response to Telos format.
func convertResponse(completion *openai.ChatCompletion) *llm.Response {
	resp := &llm.Response{
		Model: completion.Model,
		Usage: llm.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}

	if len(completion.Choices) > 0 {
		choice := completion.Choices[0]
		resp.Content = choice.Message.Content

		if len(choice.Message.ToolCalls) > 0 {
			resp.ToolCalls = make([]llm.ToolCall, 0, len(choice.Message.ToolCalls))
			for _, tc := range choice.Message.ToolCalls {
				resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
					ID:   tc.ID,
					Type: llm.ToolTypeFunction,
					Function: llm.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
		}
	}

	return resp
}

// mapError translates SDK failures into the unified taxonomy. Context
// cancellation passes through untouched so callers can distinguish it.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		e := telerr.FromStatusCode(apierr.StatusCode, "openai", msg, err)
		if d := retryAfterHeader(apierr.Response); d > 0 {
			e = e.WithRetryAfter(d)
		}
		return e
	}
	return telerr.Classify("openai", err)
}

// retryAfterHeader parses an integer-seconds Retry-After response header.
func retryAfterHeader(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Ensure Adapter implements llm.Adapter.
var _ llm.Adapter = (*Adapter)(nil)
