// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package claude provides the Anthropic Claude adapter for Telos.
//
// Claude has no native JSON Schema response mode, so structured generation
// constrains the model through the system prompt and validates the output,
// re-prompting once with the validation failure when repair is allowed.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	telerr "github.com/teloslabs/telos/pkg/errors"
	"github.com/teloslabs/telos/pkg/llm"
)

// Adapter implements llm.Adapter for the Anthropic Messages API.
type Adapter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	caps      *llm.CapabilityCache
}

// Option configures the Adapter.
type Option func(*settings)

type settings struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int64
}

// WithModel sets the default model used when a call passes none.
func WithModel(model string) Option {
	return func(s *settings) { s.model = model }
}

// WithMaxTokens sets the fallback max_tokens for calls that pass none.
// The Messages API requires an explicit value on every request.
func WithMaxTokens(tokens int64) Option {
	return func(s *settings) { s.maxTokens = tokens }
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithAPIKey sets the API key.
func WithAPIKey(apiKey string) Option {
	return func(s *settings) { s.apiKey = apiKey }
}

// New creates a new Claude adapter.
// API key is read from ANTHROPIC_API_KEY environment variable by default.
func New(opts ...Option) *Adapter {
	s := settings{
		model:     "claude-sonnet-4-20250514",
		maxTokens: 4096,
	}
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
		client:    anthropic.NewClient(ropts...),
		model:     s.model,
		maxTokens: s.maxTokens,
		caps:      llm.NewCapabilityCache(),
	}
}

// NewWithAPIKey creates a new Claude adapter with explicit API key.
func NewWithAPIKey(apiKey string, opts ...Option) *Adapter {
	opts = append([]Option{WithAPIKey(apiKey)}, opts...)
	return New(opts...)
}

// Generate implements llm.Adapter.
func (a *Adapter) Generate(ctx context.Context, model string, messages []llm.Message, params llm.Params) (*llm.Response, error) {
	p, err := a.buildParams(model, messages, params, "")
	if err != nil {
		return nil, err
	}
	message, err := a.client.Messages.New(ctx, p)
	if err != nil {
		return nil, mapError(err, "message failed")
	}
	return convertResponse(message), nil
}

// StructuredGenerate implements llm.Adapter. The schema rides in the system
// prompt; the reply is validated and re-prompted with the validation failure
// up to MaxRepairAttempts times.
func (a *Adapter) StructuredGenerate(ctx context.Context, model string, messages []llm.Message, params llm.SchemaParams) (*llm.Response, error) {
	p := params.Params
	if p.MaxTokens == 0 {
		p.MaxTokens = 2048
	}

	attempt := messages
	for try := 0; ; try++ {
		req, err := a.buildParams(model, attempt, p, llm.SchemaInstruction(params.Schema))
		if err != nil {
			return nil, err
		}
		message, err := a.client.Messages.New(ctx, req)
		if err != nil {
			return nil, mapError(err, "structured message failed")
		}

		resp := convertResponse(message)
		resp.Content = llm.ExtractJSON(resp.Content)

		verr := llm.ValidateAgainstSchema(resp.Content, params.Schema)
		if verr == nil {
			return resp, nil
		}
		if try >= params.MaxRepairAttempts {
			return nil, verr
		}

		// Feed the invalid reply and the validation failure back for repair.
		attempt = append(append([]llm.Message(nil), attempt...),
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			llm.Message{Role: llm.RoleUser, Content: llm.RepairInstruction(verr)},
		)
	}
}

// RunWithTools implements llm.Adapter.
func (a *Adapter) RunWithTools(ctx context.Context, model string, messages []llm.Message, tools []llm.Tool, params llm.ToolParams) (*llm.Response, error) {
	p, err := a.buildParams(model, messages, params.Params, "")
	if err != nil {
		return nil, err
	}
	// tool_choice none is expressed by withholding the tool definitions.
	if params.ToolChoice != llm.ToolChoiceNone {
		if p.Tools, err = convertTools(tools); err != nil {
			return nil, err
		}
	}

	message, err := a.client.Messages.New(ctx, p)
	if err != nil {
		return nil, mapError(err, "tool message failed")
	}
	return convertResponse(message), nil
}

// Stream implements llm.Adapter for streaming responses.
func (a *Adapter) Stream(ctx context.Context, model string, messages []llm.Message, params llm.Params) (<-chan llm.StreamChunk, error) {
	p, err := a.buildParams(model, messages, params, "")
	if err != nil {
		return nil, err
	}
	return a.stream(ctx, p)
}

// StreamWithTools implements llm.Adapter for streaming with tool access.
func (a *Adapter) StreamWithTools(ctx context.Context, model string, messages []llm.Message, tools []llm.Tool, params llm.ToolParams) (<-chan llm.StreamChunk, error) {
	p, err := a.buildParams(model, messages, params.Params, "")
	if err != nil {
		return nil, err
	}
	if params.ToolChoice != llm.ToolChoiceNone {
		if p.Tools, err = convertTools(tools); err != nil {
			return nil, err
		}
	}
	return a.stream(ctx, p)
}

func (a *Adapter) stream(ctx context.Context, params anthropic.MessageNewParams) (<-chan llm.StreamChunk, error) {
	stream := a.client.Messages.NewStreaming(ctx, params)
	chunks := make(chan llm.StreamChunk, llm.StreamBufferSize)

	go func() {
		defer close(chunks)

		var (
			toolCalls    []llm.ToolCall
			currentTool  *llm.ToolCall
			currentInput strings.Builder
			inputTokens  int
			outputTokens int
		)

		for stream.Next() {
			event := stream.Current()

			switch event.Type {
			case "message_start":
				messageStart := event.AsMessageStart()
				if messageStart.Message.Usage.InputTokens > 0 {
					inputTokens = int(messageStart.Message.Usage.InputTokens)
				}

			case "content_block_start":
				contentBlock := event.AsContentBlockStart().ContentBlock
				if contentBlock.Type == "tool_use" {
					toolUse := contentBlock.AsToolUse()
					currentTool = &llm.ToolCall{
						ID:       toolUse.ID,
						Type:     llm.ToolTypeFunction,
						Function: llm.FunctionCall{Name: toolUse.Name},
					}
					currentInput.Reset()
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						select {
						case chunks <- llm.StreamChunk{Type: llm.ChunkText, Content: delta.Text, Delta: true}:
						case <-ctx.Done():
							chunks <- llm.ErrorChunk(ctx.Err())
							return
						}
					}
				case "input_json_delta":
					// Tool arguments stream as JSON fragments.
					currentInput.WriteString(delta.PartialJSON)
				}

			case "content_block_stop":
				if currentTool != nil {
					args := currentInput.String()
					if args == "" {
						args = "{}"
					}
					currentTool.Function.Arguments = args
					toolCalls = append(toolCalls, *currentTool)
					currentTool = nil
				}

			case "message_delta":
				messageDelta := event.AsMessageDelta()
				if messageDelta.Usage.OutputTokens > 0 {
					outputTokens = int(messageDelta.Usage.OutputTokens)
				}

			case "message_stop":
				chunks <- llm.StreamChunk{
					Type:      llm.ChunkText,
					Done:      true,
					ToolCalls: toolCalls,
					Usage:     &llm.Usage{InputTokens: inputTokens, OutputTokens: outputTokens},
				}
				return

			case "error":
				chunks <- llm.ErrorChunk(telerr.New(telerr.CodeStreaming, "claude stream error", nil))
				return
			}
		}

		if err := stream.Err(); err != nil {
			chunks <- llm.ErrorChunk(mapError(err, "stream failed"))
		}
	}()

	return chunks, nil
}

// Capabilities implements llm.Adapter. Opus models carry the larger context
// window; results are cached per model for the adapter's lifetime.
func (a *Adapter) Capabilities(_ context.Context, model string) (llm.ModelCapabilities, error) {
	if model == "" {
		model = a.model
	}
	return a.caps.GetOrCompute(model, func(m string) llm.ModelCapabilities {
		contextLength := 100000
		if strings.Contains(strings.ToLower(m), "opus") {
			contextLength = 200000
		}
		return llm.ModelCapabilities{
			SupportsTools:      true,
			SupportsStreaming:  true,
			SupportsJSONSchema: true,
			SupportsImages:     true,
			MaxContextLength:   contextLength,
		}
	}), nil
}

// Close implements llm.Adapter. The underlying HTTP client needs no teardown.
func (a *Adapter) Close() error { return nil }

// buildParams assembles a Messages API request. System messages are pulled
// out of the conversation and joined, since the API carries them separately.
func (a *Adapter) buildParams(model string, messages []llm.Message, p llm.Params, systemSuffix string) (anthropic.MessageNewParams, error) {
	if model == "" {
		model = a.model
	}

	system, rest := llm.SplitSystem(messages)
	if systemSuffix != "" {
		if system != "" {
			system += "\n\n"
		}
		system += systemSuffix
	}

	converted := make([]anthropic.MessageParam, 0, len(rest))
	for _, msg := range rest {
		m, err := convertMessage(msg)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		converted = append(converted, m)
	}

	maxTokens := a.maxTokens
	if p.MaxTokens > 0 {
		maxTokens = int64(p.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   maxTokens,
		Messages:    converted,
		Temperature: anthropic.Float(p.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: system},
		}
	}
	if len(p.Stop) > 0 {
		params.StopSequences = p.Stop
	}
	return params, nil
}

// convertMessage converts a Telos message to Anthropic format. Tool-use
// arguments that are not valid JSON objects are rejected rather than sent as
// empty input blocks.
func convertMessage(msg llm.Message) (anthropic.MessageParam, error) {
	switch msg.Role {
	case llm.RoleUser:
		return anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)), nil
	case llm.RoleAssistant:
		if len(msg.ToolCalls) > 0 {
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]interface{}
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
					return anthropic.MessageParam{}, telerr.New(telerr.CodeInvalidRequest,
						"tool call arguments are not a JSON object", err).
						WithContext("tool", tc.Function.Name).
						WithContext("tool_call_id", tc.ID)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			return anthropic.MessageParam{
				Role:    "assistant",
				Content: blocks,
			}, nil
		}
		return anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)), nil
	case llm.RoleTool:
		// The Messages API takes tool results as user content blocks.
		return anthropic.NewUserMessage(
			anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
		), nil
	default:
		return anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)), nil
	}
}

// convertTools converts Telos tools to Anthropic format.
func convertTools(tools []llm.Tool) ([]anthropic.ToolUnionParam, error) {
	converted := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		t, err := convertTool(tool)
		if err != nil {
			return nil, err
		}
		converted = append(converted, t)
	}
	return converted, nil
}

// convertTool converts a Telos tool to Anthropic format.
func convertTool(tool llm.Tool) (anthropic.ToolUnionParam, error) {
	paramsJSON, err := json.Marshal(tool.Function.Parameters)
	if err != nil {
		return anthropic.ToolUnionParam{}, telerr.New(telerr.CodeInvalidRequest,
			"tool parameter schema is not serializable", err).
			WithContext("tool", tool.Function.Name)
	}
	var inputSchema anthropic.ToolInputSchemaParam
	if err := json.Unmarshal(paramsJSON, &inputSchema); err != nil {
		return anthropic.ToolUnionParam{}, telerr.New(telerr.CodeInvalidRequest,
			"tool parameter schema is not a JSON Schema object", err).
			WithContext("tool", tool.Function.Name)
	}

	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        tool.Function.Name,
			Description: anthropic.String(tool.Function.Description),
			InputSchema: inputSchema,
		},
	}, nil
}

// convertResponse converts an Anthropic response to Telos format.
func convertResponse(message *anthropic.Message) *llm.Response {
	resp := &llm.Response{
		Model: string(message.Model),
		Usage: llm.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}

	var textContent string
	var toolCalls []llm.ToolCall

	for _, block := range message.Content {
		switch block.Type {
		case "text":
			textContent += block.Text
		case "tool_use":
			argsJSON, _ := json.Marshal(block.Input)
			toolCalls = append(toolCalls, llm.ToolCall{
				ID:   block.ID,
				Type: llm.ToolTypeFunction,
				Function: llm.FunctionCall{
					Name:      block.Name,
					Arguments: string(argsJSON),
				},
			})
		}
	}

	resp.Content = textContent
	resp.ToolCalls = toolCalls

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
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		e := telerr.FromStatusCode(apierr.StatusCode, "claude", msg, err)
		if d := retryAfterHeader(apierr.Response); d > 0 {
			e = e.WithRetryAfter(d)
		}
		return e
	}
	return telerr.Classify("claude", err)
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
