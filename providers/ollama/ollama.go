// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package ollama provides an adapter for Ollama's native chat API.
//
// This speaks the NDJSON /api/chat protocol directly. Deployments that
// prefer Ollama's OpenAI-compatible /v1 surface should use the local
// adapter instead.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	telerr "github.com/teloslabs/telos/pkg/errors"
	"github.com/teloslabs/telos/pkg/llm"
)

// DefaultBaseURL is the standard Ollama endpoint.
const DefaultBaseURL = "http://localhost:11434"

// Adapter implements llm.Adapter against Ollama's native API.
type Adapter struct {
	baseURL string
	model   string
	client  *http.Client
	caps    *llm.CapabilityCache
}

// Option configures the Adapter.
type Option func(*Adapter)

// WithModel sets the default model used when a call passes none.
func WithModel(model string) Option {
	return func(a *Adapter) { a.model = model }
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) { a.client = client }
}

// New creates a new Ollama adapter. An empty baseURL falls back to the
// standard localhost endpoint.
func New(baseURL string, opts ...Option) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	a := &Adapter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
		caps:    llm.NewCapabilityCache(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type chatRequest struct {
	Model    string                 `json:"model"`
	Messages []wireMessage          `json:"messages"`
	Stream   bool                   `json:"stream"`
	Tools    []wireTool             `json:"tools,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type wireMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	Function wireFunctionCall `json:"function"`
}

// wireFunctionCall carries arguments as a JSON object, unlike the OpenAI
// wire shape where they travel as an encoded string.
type wireFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         wireMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

// Generate implements llm.Adapter.
func (a *Adapter) Generate(ctx context.Context, model string, messages []llm.Message, params llm.Params) (*llm.Response, error) {
	return a.chat(ctx, a.buildRequest(model, messages, nil, params))
}

// StructuredGenerate implements llm.Adapter. The schema rides in the system
// prompt; the reply is validated with one repair round-trip per
// MaxRepairAttempts.
func (a *Adapter) StructuredGenerate(ctx context.Context, model string, messages []llm.Message, params llm.SchemaParams) (*llm.Response, error) {
	attempt := llm.MergeSystem(llm.SchemaInstruction(params.Schema), messages)

	for try := 0; ; try++ {
		resp, err := a.chat(ctx, a.buildRequest(model, attempt, nil, params.Params))
		if err != nil {
			return nil, err
		}
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

// RunWithTools implements llm.Adapter.
func (a *Adapter) RunWithTools(ctx context.Context, model string, messages []llm.Message, tools []llm.Tool, params llm.ToolParams) (*llm.Response, error) {
	if params.ToolChoice == llm.ToolChoiceNone {
		tools = nil
	}
	return a.chat(ctx, a.buildRequest(model, messages, tools, params.Params))
}

// Stream implements llm.Adapter for streaming responses.
func (a *Adapter) Stream(ctx context.Context, model string, messages []llm.Message, params llm.Params) (<-chan llm.StreamChunk, error) {
	return a.streamChat(ctx, a.buildRequest(model, messages, nil, params))
}

// StreamWithTools implements llm.Adapter for streaming with tool access.
func (a *Adapter) StreamWithTools(ctx context.Context, model string, messages []llm.Message, tools []llm.Tool, params llm.ToolParams) (<-chan llm.StreamChunk, error) {
	if params.ToolChoice == llm.ToolChoiceNone {
		tools = nil
	}
	return a.streamChat(ctx, a.buildRequest(model, messages, tools, params.Params))
}

func (a *Adapter) chat(ctx context.Context, req chatRequest) (*llm.Response, error) {
	req.Stream = false

	body, err := json.Marshal(req)
	if err != nil {
		return nil, telerr.New(telerr.CodeInternal, "failed to marshal ollama request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, telerr.New(telerr.CodeInternal, "failed to create http request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, telerr.FromStatusCode(resp.StatusCode, "ollama", string(bytes.TrimSpace(respBody)), nil)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, telerr.New(telerr.CodeProvider, "failed to decode ollama response", err).
			WithAttribute("provider", "ollama")
	}

	return &llm.Response{
		Content:   decoded.Message.Content,
		ToolCalls: convertWireToolCalls(decoded.Message.ToolCalls),
		Model:     decoded.Model,
		Usage: llm.Usage{
			InputTokens:  decoded.PromptEvalCount,
			OutputTokens: decoded.EvalCount,
		},
	}, nil
}

func (a *Adapter) streamChat(ctx context.Context, req chatRequest) (<-chan llm.StreamChunk, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, telerr.New(telerr.CodeInternal, "failed to marshal ollama request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, telerr.New(telerr.CodeInternal, "failed to create http request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, mapTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, telerr.FromStatusCode(resp.StatusCode, "ollama", string(bytes.TrimSpace(respBody)), nil)
	}

	chunks := make(chan llm.StreamChunk, llm.StreamBufferSize)

	// Process NDJSON stream in goroutine
	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		var toolCalls []llm.ToolCall

		for {
			select {
			case <-ctx.Done():
				chunks <- llm.ErrorChunk(ctx.Err())
				return
			default:
			}

			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err != io.EOF {
					chunks <- llm.ErrorChunk(telerr.New(telerr.CodeStreaming, "ollama stream read failed", err))
				}
				return
			}

			var event chatResponse
			if err := json.Unmarshal(line, &event); err != nil {
				continue // Skip malformed lines
			}

			// Ollama sends complete tool calls, not deltas.
			if len(event.Message.ToolCalls) > 0 {
				toolCalls = convertWireToolCalls(event.Message.ToolCalls)
			}

			if event.Done {
				chunks <- llm.StreamChunk{
					Type:      llm.ChunkText,
					Done:      true,
					ToolCalls: toolCalls,
					Usage: &llm.Usage{
						InputTokens:  event.PromptEvalCount,
						OutputTokens: event.EvalCount,
					},
				}
				return
			}

			if event.Message.Content != "" {
				select {
				case chunks <- llm.StreamChunk{Type: llm.ChunkText, Content: event.Message.Content, Delta: true}:
				case <-ctx.Done():
					chunks <- llm.ErrorChunk(ctx.Err())
					return
				}
			}
		}
	}()

	return chunks, nil
}

// Capabilities implements llm.Adapter with the same conservative defaults
// as the local adapter; actual capabilities depend on the pulled model.
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

// Close implements llm.Adapter.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

func (a *Adapter) buildRequest(model string, messages []llm.Message, tools []llm.Tool, p llm.Params) chatRequest {
	if model == "" {
		model = a.model
	}

	folded := llm.FoldThoughts(messages)
	wire := make([]wireMessage, 0, len(folded))
	for _, msg := range folded {
		wire = append(wire, convertMessage(msg))
	}

	req := chatRequest{
		Model:    model,
		Messages: wire,
		Tools:    convertTools(tools),
	}

	options := map[string]interface{}{
		"temperature": p.Temperature,
		"top_p":       p.TopP,
	}
	if p.MaxTokens > 0 {
		options["num_predict"] = p.MaxTokens
	}
	if len(p.Stop) > 0 {
		options["stop"] = p.Stop
	}
	req.Options = options

	return req
}

// convertMessage converts a Telos message to Ollama's wire shape. Tool call
// arguments switch from encoded strings to raw JSON objects.
func convertMessage(msg llm.Message) wireMessage {
	wire := wireMessage{
		Role:    string(msg.Role),
		Content: msg.Content,
	}
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		wire.ToolCalls = append(wire.ToolCalls, wireToolCall{
			Function: wireFunctionCall{
				Name:      tc.Function.Name,
				Arguments: args,
			},
		})
	}
	return wire
}

func convertTools(tools []llm.Tool) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	wire := make([]wireTool, 0, len(tools))
	for _, tool := range tools {
		wire = append(wire, wireTool{
			Type: "function",
			Function: wireToolFunction{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  tool.Function.Parameters,
			},
		})
	}
	return wire
}

// convertWireToolCalls maps Ollama tool calls to the unified shape. Ollama
// assigns no call IDs, so fresh ones are minted to keep result linkage.
func convertWireToolCalls(calls []wireToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	converted := make([]llm.ToolCall, 0, len(calls))
	for _, tc := range calls {
		args := string(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		converted = append(converted, llm.ToolCall{
			ID:   "call_" + uuid.NewString(),
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: args,
			},
		})
	}
	return converted
}

func mapTransportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return telerr.Classify("ollama", err)
}

// Ensure Adapter implements llm.Adapter.
var _ llm.Adapter = (*Adapter)(nil)
