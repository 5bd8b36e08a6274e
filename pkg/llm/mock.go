package llm

import (
	"context"
	"fmt"
)

// MockAdapter is a testing implementation of Adapter.
type MockAdapter struct {
	Response     string
	ToolCalls    []ToolCall
	Err          error
	GenerateFunc func(ctx context.Context, model string, messages []Message) (*Response, error)
}

func (m *MockAdapter) respond(ctx context.Context, model string, messages []Message) (*Response, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, model, messages)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &Response{
		Content:   m.Response,
		ToolCalls: m.ToolCalls,
		Model:     model,
		Usage:     Usage{InputTokens: 10, OutputTokens: 10},
	}, nil
}

func (m *MockAdapter) Generate(ctx context.Context, model string, messages []Message, _ Params) (*Response, error) {
	return m.respond(ctx, model, messages)
}

func (m *MockAdapter) StructuredGenerate(ctx context.Context, model string, messages []Message, params SchemaParams) (*Response, error) {
	resp, err := m.respond(ctx, model, messages)
	if err != nil {
		return nil, err
	}
	if params.Strict {
		if err := ValidateAgainstSchema(ExtractJSON(resp.Content), params.Schema); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (m *MockAdapter) RunWithTools(ctx context.Context, model string, messages []Message, _ []Tool, _ ToolParams) (*Response, error) {
	return m.respond(ctx, model, messages)
}

func (m *MockAdapter) Stream(ctx context.Context, model string, messages []Message, _ Params) (<-chan StreamChunk, error) {
	return m.stream(ctx, model, messages)
}

func (m *MockAdapter) StreamWithTools(ctx context.Context, model string, messages []Message, _ []Tool, _ ToolParams) (<-chan StreamChunk, error) {
	return m.stream(ctx, model, messages)
}

func (m *MockAdapter) stream(ctx context.Context, model string, messages []Message) (<-chan StreamChunk, error) {
	resp, err := m.respond(ctx, model, messages)
	if err != nil {
		return nil, err
	}
	chunks := make(chan StreamChunk, 2)
	if resp.Content != "" {
		chunks <- StreamChunk{Type: ChunkText, Content: resp.Content, Delta: true}
	}
	usage := resp.Usage
	chunks <- StreamChunk{Type: ChunkText, Done: true, ToolCalls: resp.ToolCalls, Usage: &usage}
	close(chunks)
	return chunks, nil
}

func (m *MockAdapter) Capabilities(_ context.Context, _ string) (ModelCapabilities, error) {
	return ModelCapabilities{
		SupportsTools:      true,
		SupportsStreaming:  true,
		SupportsJSONSchema: true,
		MaxContextLength:   128000,
	}, nil
}

func (m *MockAdapter) Close() error { return nil }

// FailingAdapter always fails.
type FailingAdapter struct {
	Err error
}

func (f *FailingAdapter) fail() error {
	if f.Err == nil {
		return fmt.Errorf("mock error")
	}
	return f.Err
}

func (f *FailingAdapter) Generate(context.Context, string, []Message, Params) (*Response, error) {
	return nil, f.fail()
}

func (f *FailingAdapter) StructuredGenerate(context.Context, string, []Message, SchemaParams) (*Response, error) {
	return nil, f.fail()
}

func (f *FailingAdapter) RunWithTools(context.Context, string, []Message, []Tool, ToolParams) (*Response, error) {
	return nil, f.fail()
}

func (f *FailingAdapter) Stream(context.Context, string, []Message, Params) (<-chan StreamChunk, error) {
	return nil, f.fail()
}

func (f *FailingAdapter) StreamWithTools(context.Context, string, []Message, []Tool, ToolParams) (<-chan StreamChunk, error) {
	return nil, f.fail()
}

func (f *FailingAdapter) Capabilities(context.Context, string) (ModelCapabilities, error) {
	return ModelCapabilities{}, f.fail()
}

func (f *FailingAdapter) Close() error { return nil }

var _ Adapter = (*MockAdapter)(nil)
var _ Adapter = (*FailingAdapter)(nil)
