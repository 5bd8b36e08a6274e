// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package local provides the adapter for self-hosted OpenAI-compatible
// endpoints: Ollama's /v1 surface, LM Studio, vLLM, OpenRouter and friends.
//
// Capabilities are conservative. Local servers vary widely, so structured
// generation always rides the prompt rather than a native response format,
// and the reported context window is a safe lower bound.
package local

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

// DefaultTimeout bounds each request to a local server. Self-hosted models
// can be slow to load; this is deliberately generous.
const DefaultTimeout = 60 * time.Second

// Adapter implements llm.Adapter for OpenAI-compatible local endpoints.
type Adapter struct {
	client  openai.Client
	baseURL string
	model   string
	caps    *llm.CapabilityCache
}

// Option configures the Adapter.
type Option func(*settings)

type settings struct {
	apiKey  string
	model   string
	timeout time.Duration
}

// WithModel sets the default model used when a call passes none.
func WithModel(model string) Option {
	return func(s *settings) { s.model = model }
}

// WithAPIKey sets the API key. Most local servers ignore it but the wire
// format requires one; the default is "local".
func WithAPIKey(apiKey string) Option {
	return func(s *settings) { s.apiKey = apiKey }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// New creates an adapter for the OpenAI-compatible server at baseURL.
// The base URL is mandatory; there is no sensible default for local
// deployments.
func New(baseURL string, opts ...Option) (*Adapter, error) {
	if baseURL == "" {
		return nil, telerr.New(telerr.CodeConfiguration, "base URL is required for local adapters", nil)
	}

	s := settings{
		apiKey:  "local",
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}

	return &Adapter{
		client: openai.NewClient(
			option.WithAPIKey(s.apiKey),
			option.WithBaseURL(baseURL),
			option.WithRequestTimeout(s.timeout),
		),
		baseURL: baseURL,
		model:   s.model,
		caps:    llm.NewCapabilityCache(),
	}, nil
}

// Generate implements llm.Adapter.
func (a *Adapter) Generate(ctx context.Context, model string, messages []llm.Message, params llm.Params) (*llm.Response, error) {
	completion, err := a.client.Chat.Completions.New(ctx, a.buildParams(model, messages, params))
	if err != nil {
		return nil, mapError(err, "chat completion failed")
	}
	return convertResponse(completion), nil
}

// StructuredGenerate implements llm.Adapter. Local servers cannot be relied
// on for a native schema mode, so the schema rides in the system prompt and
// the reply is validated, with one repair round-trip per MaxRepairAttempts.
func (a *Adapter) StructuredGenerate(ctx context.Context, model string, messages []llm.Message, params llm.SchemaParams) (*llm.Response, error) {
	attempt := llm.MergeSystem(llm.SchemaInstruction(params.Schema), messages)

	for try := 0; ; try++ {
		completion, err := a.client.Chat.Completions.New(ctx, a.buildParams(model, attempt, params.Params))
		if err != nil {
			return nil, mapError(err, "structured completion failed")
		}

		resp := convertResponse(completion)
		resp.Content = llm.ExtractJSON(resp.Content)

		verr := llm.ValidateAgainstSchema(resp.Content, params.Schema)
		if verr == nil {
			return resp, nil
		}
		if try >= params.MaxRepairAttempts {
			return nil, verr
		}

		attempt = append(append([]llm.Message(nil), attempt...),
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			llm.Message{Role: llm.RoleUser, Content: llm.RepairInstruction(verr)},
		)
	}
}

// RunWithTools implements llm.Adapter. Tools go over the wire in OpenAI
// function format; servers without tool support simply answer in text and
// the response carries no tool calls.
func (a *Adapter) RunWithTools(ctx context.Context, model string, messages []llm.Message, tools []llm.Tool, params llm.ToolParams) (*llm.Response, error) {
	p := a.buildParams(model, messages, params.Params)
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

		toolCallsMap := make(map[int]*llm.ToolCall)
		var usage *llm.Usage

		for stream.Next() {
			event := stream.Current()

			// Some local servers never report usage; keep whatever arrives.
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
						ID:       tc.ID,
						Type:     llm.ToolTypeFunction,
						Function: llm.FunctionCall{Name: tc.Function.Name},
					}
				}
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

// Capabilities implements llm.Adapter with conservative defaults; actual
// capabilities depend on the deployed model and server.
func (a *Adapter) Capabilities(_ context.Context, model string) (llm.ModelCapabilities, error) {
	if model == "" {
		model = a.model
	}
	return a.caps.GetOrCompute(model, func(string) llm.ModelCapabilities {
		return llm.ModelCapabilities{
			SupportsTools:      true,
			SupportsStreaming:  true,
			SupportsJSONSchema: false,
			SupportsImages:     false,
			MaxContextLength:   32768,
		}
	}), nil
}

// Close implements llm.Adapter. The underlying HTTP client needs no teardown.
func (a *Adapter) Close() error { return nil }

func (a *Adapter) buildParams(model string, messages []llm.Message, p llm.Params) openai.ChatCompletionNewParams {
	if model == "" {
		model = a.model
	}

	// Local models have no thought concept; fold markers before conversion.
	folded := llm.FoldThoughts(messages)
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(folded))
	for _, msg := range folded {
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

// convertMessage converts a Telos message to OpenAI wire format.
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

// convertTools converts Telos tools to OpenAI function format.
func convertTools(tools []llm.Tool) []openai.ChatCompletionToolParam {
	converted := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, tool := range tools {
		paramsJSON, _ := json.Marshal(tool.Function.Parameters)
		var fnParams openai.FunctionParameters
		json.Unmarshal(paramsJSON, &fnParams)

		converted = append(converted, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Function.Name,
				Description: openai.String(tool.Function.Description),
				Parameters:  fnParams,
			},
		})
	}
	return converted
}

// convertResponse converts an OpenAI-wire response to Telos format.
// Usage may be absent from local servers; it stays zero in that case.
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
		e := telerr.FromStatusCode(apierr.StatusCode, "local", msg, err)
		if d := retryAfterHeader(apierr.Response); d > 0 {
			e = e.WithRetryAfter(d)
		}
		return e
	}
	return telerr.Classify("local", err)
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
