package llm

import (
	"context"
	"errors"
	"sync"
)

// ScriptStep is one scripted turn for a ScriptedAdapter.
type ScriptStep struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
	Err       error
}

// ScriptedAdapter is a mock adapter that returns a pre-defined sequence of
// responses. Useful for testing multi-turn interactions (e.g. the act loop).
type ScriptedAdapter struct {
	mu    sync.Mutex
	Steps []ScriptStep
	// CallCount tracks how many generate calls have been made.
	CallCount int
	// Requests records the message history passed to each call.
	Requests [][]Message
}

// NewScriptedAdapter creates a ScriptedAdapter from the given steps.
func NewScriptedAdapter(steps ...ScriptStep) *ScriptedAdapter {
	return &ScriptedAdapter{Steps: steps}
}

// Script builds a text-only step.
func Script(content string) ScriptStep {
	return ScriptStep{Content: content, Usage: Usage{InputTokens: 10, OutputTokens: 10}}
}

// ScriptToolCall builds a step that requests a single tool invocation.
func ScriptToolCall(id, name, arguments string) ScriptStep {
	return ScriptStep{
		ToolCalls: []ToolCall{{
			ID:       id,
			Type:     ToolTypeFunction,
			Function: FunctionCall{Name: name, Arguments: arguments},
		}},
		Usage: Usage{InputTokens: 10, OutputTokens: 10},
	}
}

func (s *ScriptedAdapter) next(messages []Message, model string) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	s.Requests = append(s.Requests, append([]Message(nil), messages...))

	if len(s.Steps) == 0 {
		return nil, errors.New("scripted adapter: no more steps available")
	}

	step := s.Steps[0]
	s.Steps = s.Steps[1:]

	if step.Err != nil {
		return nil, step.Err
	}
	return &Response{
		Content:   step.Content,
		ToolCalls: step.ToolCalls,
		Usage:     step.Usage,
		Model:     model,
	}, nil
}

// AddStep appends a step to the script.
func (s *ScriptedAdapter) AddStep(step ScriptStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Steps = append(s.Steps, step)
}

// Remaining reports how many steps are left unconsumed.
func (s *ScriptedAdapter) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Steps)
}

func (s *ScriptedAdapter) Generate(ctx context.Context, model string, messages []Message, _ Params) (*Response, error) {
	return s.next(messages, model)
}

func (s *ScriptedAdapter) StructuredGenerate(ctx context.Context, model string, messages []Message, params SchemaParams) (*Response, error) {
	resp, err := s.next(messages, model)
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

func (s *ScriptedAdapter) RunWithTools(ctx context.Context, model string, messages []Message, _ []Tool, _ ToolParams) (*Response, error) {
	return s.next(messages, model)
}

func (s *ScriptedAdapter) Stream(ctx context.Context, model string, messages []Message, _ Params) (<-chan StreamChunk, error) {
	return s.stream(messages, model)
}

func (s *ScriptedAdapter) StreamWithTools(ctx context.Context, model string, messages []Message, _ []Tool, _ ToolParams) (<-chan StreamChunk, error) {
	return s.stream(messages, model)
}

func (s *ScriptedAdapter) stream(messages []Message, model string) (<-chan StreamChunk, error) {
	resp, err := s.next(messages, model)
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

func (s *ScriptedAdapter) Capabilities(_ context.Context, _ string) (ModelCapabilities, error) {
	return ModelCapabilities{
		SupportsTools:      true,
		SupportsStreaming:  true,
		SupportsJSONSchema: true,
		MaxContextLength:   128000,
	}, nil
}

func (s *ScriptedAdapter) Close() error { return nil }

var _ Adapter = (*ScriptedAdapter)(nil)
