package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teloslabs/telos/pkg/tools"
)

// ToolCaller abstracts MCP tool execution so adapters are testable without
// a live server. *Client satisfies it.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

// Definition converts one MCP tool into a registry definition whose handler
// proxies to the server. The dispatcher validates arguments against the
// server-declared schema before the call ever leaves the process.
func Definition(tool mcp.Tool, caller ToolCaller) (tools.Definition, error) {
	if tool.Name == "" {
		return tools.Definition{}, errors.New("mcp tool name is required")
	}
	if caller == nil {
		return tools.Definition{}, errors.New("tool caller is required")
	}

	params, err := inputSchema(tool)
	if err != nil {
		return tools.Definition{}, fmt.Errorf("mcp tool %s: %w", tool.Name, err)
	}

	name := tool.Name
	return tools.Definition{
		Name:        name,
		Description: tool.Description,
		Parameters:  params,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			result, err := caller.CallTool(ctx, name, args)
			if err != nil {
				return nil, err
			}
			return resultOutput(result)
		},
	}, nil
}

// RegisterTools discovers the server's tools and registers each with the
// registry. Returns the registered names.
func RegisterTools(ctx context.Context, r *tools.Registry, c *Client) ([]string, error) {
	discovered, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(discovered))
	for _, tool := range discovered {
		def, err := Definition(tool, c)
		if err != nil {
			return names, err
		}
		if err := r.Register(def); err != nil {
			return names, err
		}
		names = append(names, def.Name)
	}
	return names, nil
}

// inputSchema renders the tool's declared input schema as a JSON Schema
// object the validator can compile. Tools declaring no schema accept any
// object.
func inputSchema(tool mcp.Tool) (map[string]interface{}, error) {
	if tool.RawInputSchema != nil {
		var schema map[string]interface{}
		if err := json.Unmarshal(tool.RawInputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid raw input schema: %w", err)
		}
		return schema, nil
	}

	encoded, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("encode input schema: %w", err)
	}
	var schema map[string]interface{}
	if err := json.Unmarshal(encoded, &schema); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}
	if schema["type"] == nil || schema["type"] == "" {
		schema["type"] = "object"
	}
	return schema, nil
}

// resultOutput unwraps a call result into a JSON-compatible observation
// value. Server-reported tool errors become handler errors so the
// dispatcher classifies them as handler failures.
func resultOutput(result *mcp.CallToolResult) (interface{}, error) {
	if result == nil {
		return nil, errors.New("mcp tool result is nil")
	}

	if result.IsError {
		return nil, fmt.Errorf("mcp tool returned error: %s", textContent(result.Content))
	}

	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}

	if text := textContent(result.Content); text != "" {
		return text, nil
	}

	return result, nil
}

func textContent(items []mcp.Content) string {
	if len(items) == 0 {
		return ""
	}
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
