// Package llm defines the unified adapter contract and data model shared by
// every provider family. Adapters translate between this model and their
// native wire shapes; nothing provider-specific crosses this boundary.
package llm

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MessageType refines a message beyond its role. Empty means plain content.
type MessageType string

const (
	// TypeThought marks intermediate reasoning text from the assistant.
	TypeThought MessageType = "thought"

	// TypeToolUse marks an assistant message that requests tool calls.
	TypeToolUse MessageType = "tool_use"

	// TypeToolResult marks a tool-role message carrying an observation.
	TypeToolResult MessageType = "tool_result"
)

// ToolType represents the type of tool.
type ToolType string

const (
	ToolTypeFunction ToolType = "function"
)

// FunctionDef defines a function tool.
type FunctionDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema
}

// Tool represents a tool available to the model.
type Tool struct {
	Type     ToolType    `json:"type"`
	Function FunctionDef `json:"function"`
}

// NewTool creates a function tool from a name, description, and JSON Schema
// parameter definition.
func NewTool(name, description string, parameters map[string]interface{}) Tool {
	return Tool{
		Type: ToolTypeFunction,
		Function: FunctionDef{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// FunctionCall represents a call to a function tool.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string containing arguments
}

// ToolCall represents a request from the model to call a tool. ID correlates
// the eventual observation back to this call and is preserved across the
// adapter boundary.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     ToolType     `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is a single unit of conversation. A run's conversation is an
// append-only ordered sequence of these, replayed verbatim each turn.
type Message struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content,omitempty"`
	Type       MessageType `json:"type,omitempty"`
	Name       string      `json:"name,omitempty"` // tool name on tool messages
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

// Usage tracks token consumption for one generation.
// The total is derived, never stored.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Response is the normalized result of one generation call.
type Response struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
	Model     string     `json:"model,omitempty"`
}

// ModelCapabilities describes what a model supports. Queried, never mutated;
// adapters cache one value per model name for their lifetime.
type ModelCapabilities struct {
	SupportsTools      bool `json:"supports_tools"`
	SupportsStreaming  bool `json:"supports_streaming"`
	SupportsJSONSchema bool `json:"supports_json_schema"`
	SupportsImages     bool `json:"supports_images"`

	// MaxContextLength is in tokens; 0 means unknown.
	MaxContextLength int `json:"max_context_length,omitempty"`
}
