package llm

import "strings"

// Normalization helpers shared by adapters. The contract: converting a
// unified sequence to a provider shape and back preserves role, content,
// type, name, and tool call/result linkage. Providers lacking a concept fold
// it into plain assistant text without disturbing conversation order.

// SplitSystem extracts all system messages, joining their contents with a
// newline, and returns the remaining sequence in order. Providers that take
// the system prompt out of band (Claude-style) use this before conversion.
func SplitSystem(messages []Message) (string, []Message) {
	var parts []string
	rest := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if msg.Content != "" {
				parts = append(parts, msg.Content)
			}
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(parts, "\n"), rest
}

// MergeSystem prepends a system message when system is non-empty. Inverse of
// SplitSystem for conversations with a single system turn.
func MergeSystem(system string, messages []Message) []Message {
	if system == "" {
		return messages
	}
	merged := make([]Message, 0, len(messages)+1)
	merged = append(merged, Message{Role: RoleSystem, Content: system})
	return append(merged, messages...)
}

// FoldThoughts rewrites thought-typed assistant messages as plain assistant
// text for providers with no thought concept. Order and content are
// preserved; only the type marker is dropped.
func FoldThoughts(messages []Message) []Message {
	folded := make([]Message, len(messages))
	for i, msg := range messages {
		if msg.Role == RoleAssistant && msg.Type == TypeThought {
			msg.Type = ""
		}
		folded[i] = msg
	}
	return folded
}

// NewToolResult builds the observation message appended after a tool call
// completes. Name and ToolCallID carry the linkage back to the request.
func NewToolResult(name, toolCallID, content string) Message {
	return Message{
		Role:       RoleTool,
		Type:       TypeToolResult,
		Name:       name,
		Content:    content,
		ToolCallID: toolCallID,
	}
}

// NewToolUse builds the assistant message recording the model's tool calls.
func NewToolUse(content string, calls []ToolCall) Message {
	return Message{
		Role:      RoleAssistant,
		Type:      TypeToolUse,
		Content:   content,
		ToolCalls: calls,
	}
}
